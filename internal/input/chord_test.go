package input

import "testing"

func TestPressedSetDetectsReleaseGrabChord(t *testing.T) {
	p := NewPressedSet()
	p.Press(KeyLeftCtrl)
	p.Press(KeyLeftAlt)
	p.Press(KeyLeftShift)
	if action := p.Press(KeyH); action != ActionReleaseGrab {
		t.Fatalf("expected ActionReleaseGrab, got %v", action)
	}
}

func TestPressedSetDetectsClipboardTriggerChord(t *testing.T) {
	p := NewPressedSet()
	p.Press(KeyLeftCtrl)
	p.Press(KeyLeftAlt)
	p.Press(KeyLeftShift)
	if action := p.Press(KeyC); action != ActionClipboardTrigger {
		t.Fatalf("expected ActionClipboardTrigger, got %v", action)
	}
}

func TestPressedSetNoMatchWithoutAllModifiers(t *testing.T) {
	p := NewPressedSet()
	p.Press(KeyLeftCtrl)
	p.Press(KeyLeftAlt)
	if action := p.Press(KeyH); action != ActionNone {
		t.Fatalf("expected ActionNone without shift held, got %v", action)
	}
}

func TestPressedSetReleaseAllClearsAndReturnsKeys(t *testing.T) {
	p := NewPressedSet()
	p.Press(KeyLeftCtrl)
	p.Press(KeyH)
	released := p.ReleaseAll()
	if len(released) != 2 {
		t.Fatalf("expected 2 released keys, got %d", len(released))
	}
	if p.IsDown(KeyLeftCtrl) || p.IsDown(KeyH) {
		t.Fatal("expected all keys released after ReleaseAll")
	}
}

func TestPressedSetReleaseRemovesSingleKey(t *testing.T) {
	p := NewPressedSet()
	p.Press(KeyLeftCtrl)
	p.Press(KeyLeftAlt)
	p.Release(KeyLeftCtrl)
	if p.IsDown(KeyLeftCtrl) {
		t.Fatal("expected KeyLeftCtrl released")
	}
	if !p.IsDown(KeyLeftAlt) {
		t.Fatal("expected KeyLeftAlt still down")
	}
}
