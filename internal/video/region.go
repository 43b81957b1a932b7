package video

// Rect is an axis-aligned dirty rectangle in frame-local pixel coordinates.
type Rect struct {
	X, Y, W, H int
}

func (r Rect) right() int  { return r.X + r.W }
func (r Rect) bottom() int { return r.Y + r.H }

func (r Rect) overlaps(o Rect) bool {
	return r.X < o.right() && o.X < r.right() && r.Y < o.bottom() && o.Y < r.bottom()
}

func (r Rect) union(o Rect) Rect {
	x0, y0 := min(r.X, o.X), min(r.Y, o.Y)
	x1, y1 := max(r.right(), o.right()), max(r.bottom(), o.bottom())
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// MergeRects coalesces overlapping rectangles into disjoint ones. Dirty
// regions arriving from a capture driver are not guaranteed disjoint; the
// pipeline invariant requires merging before a CapturedImage is accepted.
func MergeRects(rects []Rect) []Rect {
	merged := make([]Rect, 0, len(rects))
	for _, r := range rects {
		mergedOne := false
		for i, m := range merged {
			if r.overlaps(m) {
				merged[i] = m.union(r)
				mergedOne = true
				break
			}
		}
		if !mergedOne {
			merged = append(merged, r)
		}
	}
	// A single merge pass can leave newly-unioned rects overlapping each
	// other; re-run until stable. Dirty-region counts are small (tens),
	// so the quadratic cost here is negligible.
	for {
		again := mergeOnce(merged)
		if len(again) == len(merged) {
			return again
		}
		merged = again
	}
}

func mergeOnce(rects []Rect) []Rect {
	out := make([]Rect, 0, len(rects))
	for _, r := range rects {
		mergedOne := false
		for i, m := range out {
			if r.overlaps(m) {
				out[i] = m.union(r)
				mergedOne = true
				break
			}
		}
		if !mergedOne {
			out = append(out, r)
		}
	}
	return out
}

// Clamp constrains every rect to the [0,0,width,height) frame bounds,
// dropping rects that fall entirely outside.
func Clamp(rects []Rect, width, height int) []Rect {
	out := make([]Rect, 0, len(rects))
	for _, r := range rects {
		x0, y0 := max(r.X, 0), max(r.Y, 0)
		x1, y1 := min(r.right(), width), min(r.bottom(), height)
		if x1 <= x0 || y1 <= y0 {
			continue
		}
		out = append(out, Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0})
	}
	return out
}
