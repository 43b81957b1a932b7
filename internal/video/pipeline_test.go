package video

import (
	"context"
	"testing"

	"github.com/deskrelay/deskrelay/internal/protocol"
)

type fakeEncoder struct {
	closed bool
}

func (f *fakeEncoder) Encode(frame []byte) ([]Packet, error) {
	return []Packet{{Data: append([]byte{}, frame...), Keyframe: true}}, nil
}

func (f *fakeEncoder) Close() error {
	f.closed = true
	return nil
}

func newTestPipeline(maxStall int) (*Pipeline, *[]*fakeEncoder) {
	created := []*fakeEncoder{}
	factory := func(ctx context.Context, width, height int, format protocol.PixelFormat, opts Options) (Encoder, error) {
		enc := &fakeEncoder{}
		created = append(created, enc)
		return enc, nil
	}
	return NewPipeline(factory, nil, Options{}, maxStall, protocol.PixelYUV420P, nil), &created
}

func dirtyImage() *CapturedImage {
	return &CapturedImage{Width: 64, Height: 64, PixelFormat: protocol.PixelYUV420P, Data: []byte("frame"), DirtyRegions: []Rect{{0, 0, 8, 8}}}
}

func staticImage() *CapturedImage {
	return &CapturedImage{Width: 64, Height: 64, PixelFormat: protocol.PixelYUV420P, Data: []byte("frame")}
}

func TestPipelineEmitsNothingWhenStalledAndStillStatic(t *testing.T) {
	p, _ := newTestPipeline(100)
	frames, err := p.Tick(context.Background(), staticImage())
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 0 {
		t.Fatalf("expected no frames while stalled, got %d", len(frames))
	}
}

func TestPipelineCreatesEncoderOnFirstDirtyTick(t *testing.T) {
	p, created := newTestPipeline(100)
	frames, err := p.Tick(context.Background(), dirtyImage())
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if len(*created) != 1 {
		t.Fatalf("expected encoder to be created once, got %d", len(*created))
	}
	if frames[0].Pts == 0 {
		t.Fatal("expected nonzero pts")
	}
}

func TestPipelineStallsAfterMaxStallImgDirtyFreeTicks(t *testing.T) {
	const maxStall = 100
	p, created := newTestPipeline(maxStall)

	if _, err := p.Tick(context.Background(), dirtyImage()); err != nil {
		t.Fatal(err)
	}

	emitted := 0
	for i := 0; i < maxStall+5; i++ {
		frames, err := p.Tick(context.Background(), staticImage())
		if err != nil {
			t.Fatal(err)
		}
		emitted += len(frames)
	}
	if emitted != 0 {
		t.Fatalf("expected zero frames emitted while static, got %d", emitted)
	}
	if !p.Stalled() {
		t.Fatal("expected pipeline to be stalled after maxStall dirty-free ticks")
	}
	if !(*created)[0].closed {
		t.Fatal("expected encoder to be closed on stall")
	}
}

func TestPipelineResumesOnDirtyTickWithHigherPts(t *testing.T) {
	p, _ := newTestPipeline(2)
	first, _ := p.Tick(context.Background(), dirtyImage())
	for i := 0; i < 3; i++ {
		p.Tick(context.Background(), staticImage())
	}
	if !p.Stalled() {
		t.Fatal("expected pipeline to have stalled")
	}
	second, err := p.Tick(context.Background(), dirtyImage())
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 1 {
		t.Fatalf("expected resume tick to emit exactly one frame, got %d", len(second))
	}
	if second[0].Pts <= first[0].Pts {
		t.Fatalf("expected resume frame pts %d > last emitted pts %d", second[0].Pts, first[0].Pts)
	}
}

func TestPipelineReloadForcesEncoderRecreation(t *testing.T) {
	p, created := newTestPipeline(100)
	p.Tick(context.Background(), dirtyImage())
	p.RequestReload()
	p.Tick(context.Background(), staticImage())
	if len(*created) != 2 {
		t.Fatalf("expected reload to recreate encoder, got %d creations", len(*created))
	}
}

func TestPipelineFirstTickNeverEmitsResize(t *testing.T) {
	p, _ := newTestPipeline(100)
	p.Tick(context.Background(), dirtyImage())
	if rc := p.TakeResize(); rc != nil {
		t.Fatalf("expected no resize on first tick, got %+v", rc)
	}
}

func TestPipelineDetectsResizeAndRecreatesEncoder(t *testing.T) {
	p, created := newTestPipeline(100)
	if _, err := p.Tick(context.Background(), dirtyImage()); err != nil {
		t.Fatal(err)
	}
	if rc := p.TakeResize(); rc != nil {
		t.Fatalf("expected no pending resize yet, got %+v", rc)
	}

	resized := &CapturedImage{Width: 1920, Height: 1080, PixelFormat: protocol.PixelYUV420P, Data: []byte("frame")}
	frames, err := p.Tick(context.Background(), resized)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected resize tick to still emit a frame, got %d", len(frames))
	}
	if len(*created) != 2 {
		t.Fatalf("expected resize to recreate encoder, got %d creations", len(*created))
	}

	rc := p.TakeResize()
	if rc == nil {
		t.Fatal("expected a pending ResolutionChange after a resize tick")
	}
	if rc.Width != 1920 || rc.Height != 1080 {
		t.Fatalf("expected ResolutionChange{1920,1080}, got %+v", rc)
	}
	if second := p.TakeResize(); second != nil {
		t.Fatalf("expected TakeResize to clear after first call, got %+v", second)
	}
}
