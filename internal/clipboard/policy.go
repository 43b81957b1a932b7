// Package clipboard implements the clipboard-plane policy/state machine:
// the directional policy enum, selection-owner change handling, and the
// reserved print-spool MIME type. The OS clipboard driver is out of
// scope; it's supplied through the narrow ClipboardSource/ClipboardSink
// interfaces below.
package clipboard

import "github.com/deskrelay/deskrelay/internal/protocol"

// PrintSpoolMIME is the reserved MIME type print-spool handoff reuses the
// clipboard plane under, when allow_print is set.
const PrintSpoolMIME = "application/x-deskrelay-print-spool"

// Direction records which side last sent a selection.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionServerToClient
	DirectionClientToServer
)

// Side identifies which end of the session a State instance is running on.
type Side int

const (
	SideServer Side = iota
	SideClient
)

// Selection is one side's current clipboard contents.
type Selection struct {
	MIME string
	Data []byte
}

// ClipboardSource is the OS-level read side: detects local selection-owner
// changes. Out of scope for this repo; a real backend is wired in by the
// role driver.
type ClipboardSource interface {
	// Poll returns the current local selection if it changed since the
	// last call, or ok=false if unchanged.
	Poll() (sel Selection, ok bool, err error)
}

// ClipboardSink is the OS-level write side: installs a received selection
// as the local clipboard contents.
type ClipboardSink interface {
	Install(sel Selection) error
}

// State is the single-goroutine-driven clipboard policy machine — mutex-
// free like the teacher's Coalescer and EscapeProcessor, because it's
// only ever touched from the role driver's one dispatch loop.
type State struct {
	side            Side
	policy          protocol.ClipboardPolicy
	allowPrint      bool
	localSelection  Selection
	remoteSelection Selection
	lastDirection   Direction
}

// NewState constructs a clipboard State for the given side and negotiated
// policy/print permission.
func NewState(side Side, policy protocol.ClipboardPolicy, allowPrint bool) *State {
	return &State{side: side, policy: policy, allowPrint: allowPrint}
}

// sendAllowed reports whether this side is permitted to push a
// spontaneous selection-owner-change update under the current policy.
func (s *State) sendAllowed() bool {
	switch s.policy {
	case protocol.ClipboardBoth:
		return true
	case protocol.ClipboardSrvToCli:
		return s.side == SideServer
	case protocol.ClipboardCliToSrv:
		return s.side == SideClient
	default: // off, trigger
		return false
	}
}

// OnLocalSelectionChanged is called when ClipboardSource.Poll reports a
// new local selection. It returns the ClipboardData message to send, or
// nil if the current policy forbids an implicit send (off, trigger, or a
// directional policy that doesn't permit this side to send).
func (s *State) OnLocalSelectionChanged(sel Selection) *protocol.ClipboardData {
	s.localSelection = sel
	if !sendAllowedMIME(sel.MIME, s.allowPrint) {
		return nil
	}
	if !s.sendAllowed() {
		return nil
	}
	s.lastDirection = s.localDirection()
	return &protocol.ClipboardData{Mime: sel.MIME, Bytes: sel.Data}
}

// OnHotkeyTrigger is called when the client's reserved clipboard-trigger
// chord fires. Under the trigger policy, this is the only way a local
// selection ever gets sent, per §4.7's "forbids implicit sends."
func (s *State) OnHotkeyTrigger() *protocol.ClipboardData {
	if s.policy != protocol.ClipboardTrigger {
		return nil
	}
	if !sendAllowedMIME(s.localSelection.MIME, s.allowPrint) {
		return nil
	}
	s.lastDirection = s.localDirection()
	return &protocol.ClipboardData{Mime: s.localSelection.MIME, Bytes: s.localSelection.Data}
}

// OnRemoteData handles a received ClipboardData message, returning the
// Selection to install locally via a ClipboardSink. It always installs
// regardless of policy: policy governs what this side may SEND, not what
// it must accept from the peer.
func (s *State) OnRemoteData(msg *protocol.ClipboardData) Selection {
	sel := Selection{MIME: msg.Mime, Data: msg.Bytes}
	s.remoteSelection = sel
	s.lastDirection = s.remoteDirection()
	return sel
}

func (s *State) localDirection() Direction {
	if s.side == SideServer {
		return DirectionServerToClient
	}
	return DirectionClientToServer
}

func (s *State) remoteDirection() Direction {
	if s.side == SideServer {
		return DirectionClientToServer
	}
	return DirectionServerToClient
}

// LastDirection reports which direction the most recent transfer moved in.
func (s *State) LastDirection() Direction { return s.lastDirection }

func sendAllowedMIME(mime string, allowPrint bool) bool {
	if mime == PrintSpoolMIME {
		return allowPrint
	}
	return true
}
