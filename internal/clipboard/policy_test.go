package clipboard

import (
	"testing"

	"github.com/deskrelay/deskrelay/internal/protocol"
)

func TestOffPolicyForbidsImplicitSend(t *testing.T) {
	s := NewState(SideServer, protocol.ClipboardOff, false)
	if msg := s.OnLocalSelectionChanged(Selection{MIME: "text/plain", Data: []byte("hi")}); msg != nil {
		t.Fatal("expected off policy to forbid implicit send")
	}
}

func TestTriggerPolicyForbidsImplicitSendButAllowsHotkey(t *testing.T) {
	s := NewState(SideClient, protocol.ClipboardTrigger, false)
	if msg := s.OnLocalSelectionChanged(Selection{MIME: "text/plain", Data: []byte("hi")}); msg != nil {
		t.Fatal("expected trigger policy to forbid implicit send")
	}
	msg := s.OnHotkeyTrigger()
	if msg == nil {
		t.Fatal("expected hotkey trigger to send under trigger policy")
	}
	if string(msg.Bytes) != "hi" {
		t.Fatalf("expected selection bytes forwarded, got %q", msg.Bytes)
	}
}

func TestSrvToCliPolicyBlocksClientSend(t *testing.T) {
	s := NewState(SideClient, protocol.ClipboardSrvToCli, false)
	if msg := s.OnLocalSelectionChanged(Selection{MIME: "text/plain", Data: []byte("hi")}); msg != nil {
		t.Fatal("expected srv_to_cli policy to block the client side from sending")
	}
}

func TestSrvToCliPolicyAllowsServerSend(t *testing.T) {
	s := NewState(SideServer, protocol.ClipboardSrvToCli, false)
	msg := s.OnLocalSelectionChanged(Selection{MIME: "text/plain", Data: []byte("hi")})
	if msg == nil {
		t.Fatal("expected srv_to_cli policy to allow the server side to send")
	}
}

func TestPrintSpoolMIMERequiresAllowPrint(t *testing.T) {
	s := NewState(SideServer, protocol.ClipboardBoth, false)
	if msg := s.OnLocalSelectionChanged(Selection{MIME: PrintSpoolMIME, Data: []byte("job")}); msg != nil {
		t.Fatal("expected print-spool MIME to be blocked without allow_print")
	}

	s2 := NewState(SideServer, protocol.ClipboardBoth, true)
	msg := s2.OnLocalSelectionChanged(Selection{MIME: PrintSpoolMIME, Data: []byte("job")})
	if msg == nil {
		t.Fatal("expected print-spool MIME to be allowed with allow_print set")
	}
}

func TestOnRemoteDataAlwaysInstallsRegardlessOfPolicy(t *testing.T) {
	s := NewState(SideClient, protocol.ClipboardOff, false)
	sel := s.OnRemoteData(&protocol.ClipboardData{Mime: "text/plain", Bytes: []byte("from server")})
	if string(sel.Data) != "from server" {
		t.Fatal("expected remote data to be installed regardless of send policy")
	}
	if s.LastDirection() != DirectionServerToClient {
		t.Fatalf("expected direction server->client, got %v", s.LastDirection())
	}
}
