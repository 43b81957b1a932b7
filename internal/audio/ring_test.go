package audio

import "testing"

func TestRingPushAndDrainPreservesOrder(t *testing.T) {
	r := NewRing(4)
	r.Push([]int16{1, 2})
	r.Push([]int16{3, 4})
	frames := r.DrainFresh()
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0][0] != 1 || frames[1][0] != 3 {
		t.Fatalf("expected oldest-first order, got %v", frames)
	}
}

func TestRingEvictsOldestOnOverflow(t *testing.T) {
	r := NewRing(2)
	r.Push([]int16{1})
	r.Push([]int16{2})
	r.Push([]int16{3}) // evicts frame {1}

	frames := r.DrainFresh()
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames after overflow, got %d", len(frames))
	}
	if frames[0][0] != 2 || frames[1][0] != 3 {
		t.Fatalf("expected freshest 2 frames {2,3}, got %v", frames)
	}
	if r.Dropped() != 1 {
		t.Fatalf("expected 1 dropped frame, got %d", r.Dropped())
	}
}

func TestRingDrainEmptiesBuffer(t *testing.T) {
	r := NewRing(4)
	r.Push([]int16{9})
	r.DrainFresh()
	if r.Len() != 0 {
		t.Fatalf("expected empty ring after drain, got len=%d", r.Len())
	}
	if frames := r.DrainFresh(); frames != nil {
		t.Fatal("expected nil from draining an empty ring")
	}
}

func TestRingPushCopiesInput(t *testing.T) {
	r := NewRing(2)
	buf := []int16{1, 2, 3}
	r.Push(buf)
	buf[0] = 999
	frames := r.DrainFresh()
	if frames[0][0] == 999 {
		t.Fatal("expected Ring to own a copy, not alias the caller's slice")
	}
}
