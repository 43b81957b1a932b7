package video

import "testing"

func TestMergeRectsCombinesOverlapping(t *testing.T) {
	in := []Rect{{0, 0, 10, 10}, {5, 5, 10, 10}}
	out := MergeRects(in)
	if len(out) != 1 {
		t.Fatalf("expected 1 merged rect, got %d: %v", len(out), out)
	}
	want := Rect{0, 0, 15, 15}
	if out[0] != want {
		t.Fatalf("expected %v, got %v", want, out[0])
	}
}

func TestMergeRectsKeepsDisjointSeparate(t *testing.T) {
	in := []Rect{{0, 0, 5, 5}, {100, 100, 5, 5}}
	out := MergeRects(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 disjoint rects, got %d", len(out))
	}
}

func TestMergeRectsChainReaction(t *testing.T) {
	// A overlaps B, B overlaps C, A does not directly overlap C; merging
	// must still collapse all three into one rect.
	in := []Rect{{0, 0, 10, 10}, {8, 0, 10, 10}, {16, 0, 10, 10}}
	out := MergeRects(in)
	if len(out) != 1 {
		t.Fatalf("expected chain-merged rects to collapse to 1, got %d: %v", len(out), out)
	}
}

func TestClampDropsOutOfBounds(t *testing.T) {
	out := Clamp([]Rect{{-5, -5, 5, 5}, {0, 0, 10, 10}}, 8, 8)
	if len(out) != 1 {
		t.Fatalf("expected 1 in-bounds rect, got %d", len(out))
	}
	if out[0].W > 8 || out[0].H > 8 {
		t.Fatalf("expected rect clamped to frame bounds, got %v", out[0])
	}
}
