package timeline

import "github.com/medit/medit-engine/internal/media"

// TransitionFunc mixes the front and rear clip frames inside an
// overlap. progress runs 0→1 across the overlap's duration.
type TransitionFunc func(front, rear *media.ImageMat, progress float64) *media.ImageMat

// CrossfadeTransition is the default overlap mix: a linear blend from
// the front clip into the rear clip.
func CrossfadeTransition(front, rear *media.ImageMat, progress float64) *media.ImageMat {
	if front.Empty() {
		return rear
	}
	if rear.Empty() {
		return front
	}
	out := front.Clone()
	p := float32(progress)
	for i := range out.Data {
		out.Data[i] = out.Data[i]*(1-p) + rear.Data[i]*p
	}
	return out
}

// VideoOverlap is the managed intersection of exactly two clips on
// the same track. It holds clip ids, not clip pointers; the owning
// track resolves them through its arena.
type VideoOverlap struct {
	id         int64
	frontID    int64
	rearID     int64
	start      int64
	end        int64
	Transition TransitionFunc
}

func newVideoOverlap(id int64, front, rear *VideoClip) *VideoOverlap {
	ov := &VideoOverlap{id: id}
	ov.setClips(front, rear)
	ov.update(front, rear)
	return ov
}

func (o *VideoOverlap) ID() int64       { return o.id }
func (o *VideoOverlap) FrontID() int64  { return o.frontID }
func (o *VideoOverlap) RearID() int64   { return o.rearID }
func (o *VideoOverlap) Start() int64    { return o.start }
func (o *VideoOverlap) End() int64      { return o.end }
func (o *VideoOverlap) Duration() int64 { return o.end - o.start }

func (o *VideoOverlap) involves(clipID int64) bool {
	return o.frontID == clipID || o.rearID == clipID
}

// setClips orders the pair: front is the clip starting earlier, ties
// broken by id.
func (o *VideoOverlap) setClips(a, b *VideoClip) {
	if b.Start() < a.Start() || (b.Start() == a.Start() && b.ID() < a.ID()) {
		a, b = b, a
	}
	o.frontID = a.ID()
	o.rearID = b.ID()
}

// update recomputes the overlap range from its two clips and reports
// whether the overlap is still valid (duration > 0).
func (o *VideoOverlap) update(front, rear *VideoClip) bool {
	o.setClips(front, rear)
	if front.ID() != o.frontID {
		front, rear = rear, front
	}
	o.start = front.Start()
	if rear.Start() > o.start {
		o.start = rear.Start()
	}
	o.end = front.End()
	if rear.End() < o.end {
		o.end = rear.End()
	}
	return o.end > o.start
}

func clipsOverlap(a, b *VideoClip) bool {
	return a.Start() < b.End() && b.Start() < a.End()
}

// readFrameAt produces the overlap's mixed frame at the overlap-local
// position. Both member clips are read at the matching clip-local
// positions and combined by the transition.
func (o *VideoOverlap) readFrameAt(front, rear *VideoClip, pos int64) *media.ImageMat {
	trackPos := o.start + pos
	frontMat, _ := front.ReadFrameAt(trackPos - front.Start())
	rearMat, _ := rear.ReadFrameAt(trackPos - rear.Start())
	transition := o.Transition
	if transition == nil {
		transition = CrossfadeTransition
	}
	progress := 0.0
	if d := o.Duration(); d > 0 {
		progress = float64(pos) / float64(d)
	}
	return transition(frontMat, rearMat, progress)
}
