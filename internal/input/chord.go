// Package input defines the portable, in-scope parts of input handling:
// the pressed-keys set, reserved hotkey chord detection, and the narrow
// platform interfaces the server/client role drivers depend on. Capture
// and injection OS backends are out of scope; they're satisfied by a real
// driver the role driver wires in at startup.
package input

// Action is a reserved chord's effect, intercepted client-side and never
// forwarded to the server.
type Action int

const (
	// ActionNone means no reserved chord matched.
	ActionNone Action = iota
	// ActionReleaseGrab releases pointer grab (Ctrl+Alt+Shift+H).
	ActionReleaseGrab
	// ActionClipboardTrigger sends the local selection under the
	// trigger clipboard policy (Ctrl+Alt+Shift+C).
	ActionClipboardTrigger
	// ActionToggleStats toggles the on-screen stats overlay
	// (Ctrl+Alt+Shift+S).
	ActionToggleStats
)

// Modifier hardware keycodes, platform-independent enough for chord
// matching against the raw keycodes §4.6 requires (no layout translation).
const (
	KeyLeftCtrl  = 0x1D
	KeyLeftAlt   = 0x38
	KeyLeftShift = 0x2A
	KeyH         = 0x23
	KeyC         = 0x2E
	KeyS         = 0x1F
)

var reservedChords = map[[4]uint32]Action{
	{KeyLeftCtrl, KeyLeftAlt, KeyLeftShift, KeyH}: ActionReleaseGrab,
	{KeyLeftCtrl, KeyLeftAlt, KeyLeftShift, KeyC}: ActionClipboardTrigger,
	{KeyLeftCtrl, KeyLeftAlt, KeyLeftShift, KeyS}: ActionToggleStats,
}

// PressedSet tracks raw keycodes currently held down, the way a
// mutex-guarded struct like the teacher's EscapeProcessor tracks a small
// amount of session state driven from one goroutine (the input-poll
// loop), with no locking needed because of that single-goroutine rule.
type PressedSet struct {
	down map[uint32]bool
}

// NewPressedSet creates an empty PressedSet.
func NewPressedSet() *PressedSet {
	return &PressedSet{down: make(map[uint32]bool)}
}

// Press records a keycode as held down and reports which reserved chord,
// if any, is now fully pressed.
func (p *PressedSet) Press(keycode uint32) Action {
	p.down[keycode] = true
	return p.matchChord()
}

// Release records a keycode as released.
func (p *PressedSet) Release(keycode uint32) {
	delete(p.down, keycode)
}

// ReleaseAll clears every held key, guaranteeing no key is left "stuck"
// down server-side after a disconnect (§4.6's guaranteed-release
// invariant). Returns the keycodes that were released so the caller can
// synthesize release events through a KeyInjector.
func (p *PressedSet) ReleaseAll() []uint32 {
	out := make([]uint32, 0, len(p.down))
	for k := range p.down {
		out = append(out, k)
	}
	p.down = make(map[uint32]bool)
	return out
}

// IsDown reports whether keycode is currently held.
func (p *PressedSet) IsDown(keycode uint32) bool { return p.down[keycode] }

func (p *PressedSet) matchChord() Action {
	if !(p.down[KeyLeftCtrl] && p.down[KeyLeftAlt] && p.down[KeyLeftShift]) {
		return ActionNone
	}
	for chord, action := range reservedChords {
		if p.down[chord[3]] {
			return action
		}
	}
	return ActionNone
}
