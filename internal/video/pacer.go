// Package video implements the capture→encode pipeline: dirty-region
// detection, FPS pacing with drift compensation, and the subprocess codec
// backend behind the Encoder/Decoder interfaces.
package video

import "time"

// Pacer arms a deadline for the next capture tick at max_fps and reports
// when that deadline has passed. It reuses the teacher's coalesce.Coalescer
// timer-arming idiom: the deadline is computed from the last consumed tick,
// not reset on every poll, so drift never accumulates the way a
// reset-on-every-check debounce would.
type Pacer struct {
	interval time.Duration
	timer    *time.Timer
	armed    bool
	last     time.Time
}

// NewPacer creates a Pacer targeting maxFPS ticks per second. maxFPS <= 0
// disables pacing; Next always reports ready immediately.
func NewPacer(maxFPS int) *Pacer {
	var interval time.Duration
	if maxFPS > 0 {
		interval = time.Second / time.Duration(maxFPS)
	}
	t := time.NewTimer(0)
	if !t.Stop() {
		<-t.C
	}
	return &Pacer{interval: interval, timer: t}
}

// arm starts the deadline timer from now if it isn't already running.
// Called lazily on first Next() after construction or after a Tick.
func (p *Pacer) arm() {
	if p.armed || p.interval <= 0 {
		return
	}
	p.timer.Reset(p.interval)
	p.armed = true
}

// Ready reports whether the current tick deadline has passed without
// blocking. Callers poll this from their capture loop.
func (p *Pacer) Ready() bool {
	if p.interval <= 0 {
		return true
	}
	p.arm()
	select {
	case <-p.timer.C:
		p.armed = false
		return true
	default:
		return false
	}
}

// C returns the deadline channel for use in a select alongside other
// event sources, the same way Coalescer.Timer() is used.
func (p *Pacer) C() <-chan time.Time {
	p.arm()
	if p.interval <= 0 {
		return nil
	}
	return p.timer.C
}

// Tick must be called once the caller has consumed a ready deadline (i.e.
// actually captured and sent a frame). It computes the next deadline from
// this tick's nominal time rather than time.Now(), so a late tick does not
// push every subsequent tick later by the same delay — drift compensation.
func (p *Pacer) Tick() {
	p.armed = false
	if p.interval <= 0 {
		return
	}
	now := time.Now()
	if p.last.IsZero() {
		p.last = now
	}
	next := p.last.Add(p.interval)
	delay := next.Sub(now)
	if delay < 0 {
		// Fell behind by more than one interval; resync instead of
		// firing a burst of immediately-ready timers.
		next = now.Add(p.interval)
		delay = p.interval
	}
	p.last = next
	p.timer.Reset(delay)
	p.armed = true
}

// Stop releases the timer.
func (p *Pacer) Stop() {
	p.timer.Stop()
	p.armed = false
}
