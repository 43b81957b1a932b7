package video

import (
	"testing"
	"time"
)

func TestPacerReadyImmediatelyWhenUnpaced(t *testing.T) {
	p := NewPacer(0)
	if !p.Ready() {
		t.Fatal("expected unpaced Pacer to always be ready")
	}
}

func TestPacerNotReadyBeforeInterval(t *testing.T) {
	p := NewPacer(30) // ~33ms interval
	defer p.Stop()
	if p.Ready() {
		t.Fatal("expected Pacer not ready immediately after construction with no prior tick")
	}
}

func TestPacerBecomesReadyAfterInterval(t *testing.T) {
	p := NewPacer(200) // 5ms interval
	defer p.Stop()
	p.Ready() // arm
	time.Sleep(15 * time.Millisecond)
	if !p.Ready() {
		t.Fatal("expected Pacer ready after interval elapsed")
	}
}

func TestPacerTickDoesNotAccumulateDrift(t *testing.T) {
	p := NewPacer(100) // 10ms interval
	defer p.Stop()

	start := time.Now()
	p.last = start
	p.Tick() // schedules from start, not time.Now()

	select {
	case fireTime := <-p.C():
		drift := fireTime.Sub(start.Add(10 * time.Millisecond))
		if drift < -5*time.Millisecond || drift > 15*time.Millisecond {
			t.Fatalf("tick fired too far from nominal deadline: drift=%v", drift)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for tick")
	}
}

func TestPacerResyncsAfterFallingBehind(t *testing.T) {
	p := NewPacer(1000) // 1ms interval
	defer p.Stop()
	p.last = time.Now().Add(-time.Second) // far behind
	p.Tick()
	if p.last.Before(time.Now().Add(-10 * time.Millisecond)) {
		t.Fatal("expected Tick to resync last to roughly now, not keep compounding the old deadline")
	}
}
