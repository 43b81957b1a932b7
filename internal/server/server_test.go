package server

import (
	"testing"

	"github.com/deskrelay/deskrelay/internal/clipboard"
	"github.com/deskrelay/deskrelay/internal/protocol"
)

type fakeKeyInjector struct {
	keycode uint32
	down    bool
	called  bool
}

func (f *fakeKeyInjector) InjectKey(keycode uint32, down bool) error {
	f.keycode, f.down, f.called = keycode, down, true
	return nil
}

type fakePointerInjector struct {
	x, y       int
	button     uint8
	buttonDown bool
	motionCall bool
	buttonCall bool
}

func (f *fakePointerInjector) InjectMotion(x, y int) error {
	f.x, f.y, f.motionCall = x, y, true
	return nil
}

func (f *fakePointerInjector) InjectButton(button uint8, down bool) error {
	f.button, f.buttonDown, f.buttonCall = button, down, true
	return nil
}

type fakeSink struct {
	installed clipboard.Selection
}

func (f *fakeSink) Install(sel clipboard.Selection) error {
	f.installed = sel
	return nil
}

func TestHandleMessageInjectsKeyEvent(t *testing.T) {
	injector := &fakeKeyInjector{}
	h := &handler{
		s:    New(Config{KeyInjector: injector}),
		clip: clipboard.NewState(clipboard.SideServer, protocol.ClipboardOff, false),
	}
	if err := h.HandleMessage(&protocol.KeyEvent{RawKeycode: 42, Down: true}); err != nil {
		t.Fatal(err)
	}
	if !injector.called || injector.keycode != 42 || !injector.down {
		t.Fatalf("expected key injection with keycode=42 down=true, got %+v", injector)
	}
}

func TestHandleMessageInjectsPointerMotionAndButton(t *testing.T) {
	injector := &fakePointerInjector{}
	h := &handler{
		s:    New(Config{PointerInjector: injector}),
		clip: clipboard.NewState(clipboard.SideServer, protocol.ClipboardOff, false),
	}
	if err := h.HandleMessage(&protocol.PointerMotion{X: 10, Y: 20}); err != nil {
		t.Fatal(err)
	}
	if !injector.motionCall || injector.x != 10 || injector.y != 20 {
		t.Fatalf("expected motion injection at (10,20), got %+v", injector)
	}
	if err := h.HandleMessage(&protocol.PointerButton{Button: 1, Down: true}); err != nil {
		t.Fatal(err)
	}
	if !injector.buttonCall || injector.button != 1 || !injector.buttonDown {
		t.Fatalf("expected button injection, got %+v", injector)
	}
}

func TestHandleMessageInstallsClipboardDataIntoSink(t *testing.T) {
	sink := &fakeSink{}
	h := &handler{
		s:    New(Config{ClipboardSink: sink}),
		clip: clipboard.NewState(clipboard.SideServer, protocol.ClipboardBoth, false),
	}
	if err := h.HandleMessage(&protocol.ClipboardData{Mime: "text/plain", Bytes: []byte("hi")}); err != nil {
		t.Fatal(err)
	}
	if string(sink.installed.Data) != "hi" {
		t.Fatalf("expected sink to receive clipboard data, got %q", sink.installed.Data)
	}
}

func TestHandleMessageSkipsInjectionWithoutInjectors(t *testing.T) {
	h := &handler{
		s:    New(Config{}),
		clip: clipboard.NewState(clipboard.SideServer, protocol.ClipboardOff, false),
	}
	if err := h.HandleMessage(&protocol.KeyEvent{RawKeycode: 1, Down: true}); err != nil {
		t.Fatalf("expected no-op without a KeyInjector, got %v", err)
	}
	if err := h.HandleMessage(&protocol.PointerMotion{}); err != nil {
		t.Fatalf("expected no-op without a PointerInjector, got %v", err)
	}
	if err := h.HandleMessage(&protocol.ClipboardRequest{}); err != nil {
		t.Fatalf("expected ClipboardRequest to be a no-op, got %v", err)
	}
}
