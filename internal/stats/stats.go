// Package stats holds the in-process counters and gauges sampled into
// the wire Stats message, grounded in the vango middleware's Prometheus
// metrics struct: named per-metric fields built once via promauto,
// exposed through a small Collector type rather than a global singleton,
// since a deskrelay process hosts one session's worth of metrics at a
// time rather than a web server's many concurrent request paths.
package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/deskrelay/deskrelay/internal/protocol"
)

// Collector owns the metrics for one role driver's process.
type Collector struct {
	framesEncoded   prometheus.Counter
	bytesEncoded    prometheus.Counter
	audioFrames     prometheus.Counter
	framesDroppedAudio prometheus.Counter
	rttMillis       prometheus.Gauge

	fpsWindow  *rateWindow
	bpsWindow  *rateWindow
	afpsWindow *rateWindow
	lastRTT    time.Duration
}

// NewCollector registers a fresh set of metrics under reg. Pass
// prometheus.NewRegistry() per-session to avoid double-registration
// across reconnects, or prometheus.DefaultRegisterer for a long-lived
// process-wide view.
func NewCollector(reg prometheus.Registerer, constLabels prometheus.Labels) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		framesEncoded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "deskrelay", Subsystem: "video", Name: "frames_encoded_total",
			Help: "Total video frames encoded and sent.", ConstLabels: constLabels,
		}),
		bytesEncoded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "deskrelay", Subsystem: "video", Name: "bytes_encoded_total",
			Help: "Total encoded video bytes sent.", ConstLabels: constLabels,
		}),
		audioFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "deskrelay", Subsystem: "audio", Name: "frames_encoded_total",
			Help: "Total audio frames encoded and sent.", ConstLabels: constLabels,
		}),
		framesDroppedAudio: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "deskrelay", Subsystem: "audio", Name: "frames_dropped_total",
			Help: "Total audio frames dropped for jitter or ring overflow.", ConstLabels: constLabels,
		}),
		rttMillis: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "deskrelay", Subsystem: "session", Name: "rtt_milliseconds",
			Help: "Most recently measured round-trip time.", ConstLabels: constLabels,
		}),
		fpsWindow:  newRateWindow(time.Second),
		bpsWindow:  newRateWindow(time.Second),
		afpsWindow: newRateWindow(time.Second),
	}
}

// RecordVideoFrame records one encoded video frame of n bytes.
func (c *Collector) RecordVideoFrame(n int) {
	c.framesEncoded.Inc()
	c.bytesEncoded.Add(float64(n))
	c.fpsWindow.Add(1)
	c.bpsWindow.Add(float64(n))
}

// RecordAudioFrame records one encoded audio frame.
func (c *Collector) RecordAudioFrame() {
	c.audioFrames.Inc()
	c.afpsWindow.Add(1)
}

// RecordAudioDrop records one audio frame dropped for jitter or overflow.
func (c *Collector) RecordAudioDrop() {
	c.framesDroppedAudio.Inc()
}

// RecordRTT records a freshly measured round-trip time.
func (c *Collector) RecordRTT(d time.Duration) {
	c.rttMillis.Set(float64(d.Milliseconds()))
	c.lastRTT = d
}

// Sample renders the current windowed rates into a wire Stats message.
func (c *Collector) Sample() *protocol.Stats {
	return &protocol.Stats{
		FpsX1000:      uint32(c.fpsWindow.Rate() * 1000),
		EncodedBps:    uint64(c.bpsWindow.Rate()),
		AudioFpsX1000: uint32(c.afpsWindow.Rate() * 1000),
		RttMs:         uint32(c.lastRTT.Milliseconds()),
	}
}
