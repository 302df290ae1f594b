package timeline

import (
	"fmt"
	"sort"
	"sync"

	"github.com/medit/medit-engine/internal/media"
	"github.com/medit/medit-engine/internal/timebase"
)

// VideoTrack is an ordered lane of video clips plus the overlaps
// computed between them. Clips live in an arena keyed by id; overlaps
// reference clips by id and are reconciled after every mutation.
//
// Public methods lock; the lower-case helpers assume the lock is held.
type VideoTrack struct {
	mu sync.Mutex

	id        int64
	outWidth  int
	outHeight int
	frameRate timebase.Ratio

	clips    map[int64]*VideoClip
	order    []int64
	overlaps []*VideoOverlap

	duration int64
	forward  bool

	// read state: indexes into order/overlaps, len == end sentinel
	readClipIdx    int
	readOverlapIdx int
	readFrames     int64
}

func NewVideoTrack(id int64, outWidth, outHeight int, frameRate timebase.Ratio) (*VideoTrack, error) {
	if outWidth <= 0 || outHeight <= 0 || !frameRate.Valid() {
		return nil, fmt.Errorf("track output spec %dx%d@%s: %w", outWidth, outHeight, frameRate, ErrInvalidArgument)
	}
	return &VideoTrack{
		id:        id,
		outWidth:  outWidth,
		outHeight: outHeight,
		frameRate: frameRate,
		clips:     make(map[int64]*VideoClip),
		forward:   true,
	}, nil
}

func (t *VideoTrack) ID() int64                  { return t.id }
func (t *VideoTrack) OutSize() (int, int)        { return t.outWidth, t.outHeight }
func (t *VideoTrack) FrameRate() timebase.Ratio  { return t.frameRate }

func (t *VideoTrack) Duration() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration
}

func (t *VideoTrack) ClipCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}

func (t *VideoTrack) OverlapCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.overlaps)
}

// Overlaps returns a snapshot of the current overlap list, sorted by
// start ascending.
func (t *VideoTrack) Overlaps() []*VideoOverlap {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*VideoOverlap, len(t.overlaps))
	copy(out, t.overlaps)
	return out
}

// AddNewClip creates a clip from the source and inserts it. readPos is
// the clip-local position the clip's playhead starts at.
func (t *VideoTrack) AddNewClip(id int64, source VideoSource, start, startOffset, endOffset, readPos int64) (*VideoClip, error) {
	clip, err := NewVideoClip(id, source, start, startOffset, endOffset)
	if err != nil {
		return nil, err
	}
	clip.SeekTo(readPos)
	if err := t.InsertClip(clip); err != nil {
		return nil, err
	}
	return clip, nil
}

// InsertClip adds an existing clip to the track. Fails with
// ErrInvalidRange when the clip's range conflicts with an overlap it
// would not own, or with ErrAlreadyExists on a duplicate id.
func (t *VideoTrack) InsertClip(clip *VideoClip) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.clips[clip.ID()]; ok {
		return fmt.Errorf("clip %d: %w", clip.ID(), ErrAlreadyExists)
	}
	if !t.checkClipRangeValid(clip.ID(), clip.Start(), clip.End()) {
		return fmt.Errorf("clip %d range [%d, %d): %w", clip.ID(), clip.Start(), clip.End(), ErrInvalidRange)
	}

	clip.SetDirection(t.forward)
	clip.setTrackID(t.id)
	t.clips[clip.ID()] = clip
	t.order = append(t.order, clip.ID())
	t.sortClips()
	t.updateDuration()
	t.updateClipOverlap(clip)
	t.seekTo(timebase.FramePos(t.readFrames, t.frameRate))
	return nil
}

// MoveClip repositions a clip. The model is unchanged when the new
// range is invalid.
func (t *VideoTrack) MoveClip(id int64, start int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	clip, ok := t.clips[id]
	if !ok {
		return fmt.Errorf("clip %d: %w", id, ErrNotFound)
	}
	if clip.Start() == start {
		return nil
	}
	oldStart := clip.Start()
	clip.SetStart(start)
	if !t.checkClipRangeValid(id, clip.Start(), clip.End()) {
		clip.SetStart(oldStart)
		return fmt.Errorf("clip %d range [%d, %d): %w", id, start, start+clip.Duration(), ErrInvalidRange)
	}

	t.sortClips()
	t.updateDuration()
	t.updateClipOverlap(clip)
	t.seekTo(timebase.FramePos(t.readFrames, t.frameRate))
	return nil
}

// ChangeClipRange adjusts a clip's trim offsets. The model is
// unchanged when the resulting range is invalid.
func (t *VideoTrack) ChangeClipRange(id, startOffset, endOffset int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	clip, ok := t.clips[id]
	if !ok {
		return fmt.Errorf("clip %d: %w", id, ErrNotFound)
	}
	oldSo, oldEo := clip.StartOffset(), clip.EndOffset()
	changed := false
	if startOffset != oldSo {
		if err := clip.ChangeStartOffset(startOffset); err != nil {
			return err
		}
		changed = true
	}
	if endOffset != oldEo {
		if err := clip.ChangeEndOffset(endOffset); err != nil {
			clip.ChangeStartOffset(oldSo)
			return err
		}
		changed = true
	}
	if !changed {
		return nil
	}
	if !t.checkClipRangeValid(id, clip.Start(), clip.End()) {
		clip.ChangeStartOffset(oldSo)
		clip.ChangeEndOffset(oldEo)
		return fmt.Errorf("clip %d trim (%d, %d): %w", id, startOffset, endOffset, ErrInvalidRange)
	}

	t.sortClips()
	t.updateDuration()
	t.updateClipOverlap(clip)
	t.seekTo(timebase.FramePos(t.readFrames, t.frameRate))
	return nil
}

// RemoveClipByID detaches and returns the clip, dropping any overlap
// it belonged to. Returns nil when the id is unknown.
func (t *VideoTrack) RemoveClipByID(id int64) *VideoClip {
	t.mu.Lock()
	defer t.mu.Unlock()

	clip, ok := t.clips[id]
	if !ok {
		return nil
	}
	t.removeClip(clip)
	return clip
}

// RemoveClipByIndex detaches and returns the i-th clip in start order.
func (t *VideoTrack) RemoveClipByIndex(i int) (*VideoClip, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i < 0 || i >= len(t.order) {
		return nil, fmt.Errorf("clip index %d of %d: %w", i, len(t.order), ErrInvalidArgument)
	}
	clip := t.clips[t.order[i]]
	t.removeClip(clip)
	return clip, nil
}

func (t *VideoTrack) removeClip(clip *VideoClip) {
	id := clip.ID()
	delete(t.clips, id)
	for i, cid := range t.order {
		if cid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	clip.setTrackID(-1)

	// overlaps die with either member
	kept := t.overlaps[:0]
	for _, ov := range t.overlaps {
		if !ov.involves(id) {
			kept = append(kept, ov)
		}
	}
	t.overlaps = kept

	t.updateDuration()

	// reposition: the removed clip may have been under the playhead
	// and the iterator indices shifted either way
	t.seekTo(timebase.FramePos(t.readFrames, t.frameRate))
}

func (t *VideoTrack) GetClipByID(id int64) *VideoClip {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clips[id]
}

func (t *VideoTrack) GetClipByIndex(i int) *VideoClip {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.order) {
		return nil
	}
	return t.clips[t.order[i]]
}

// SeekTo positions the track's read state at pos (ms).
func (t *VideoTrack) SeekTo(pos int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pos < 0 {
		return fmt.Errorf("seek position %d: %w", pos, ErrInvalidArgument)
	}
	t.seekTo(pos)
	return nil
}

// SetDirection switches the read direction; clips follow, read
// positions stay where they are.
func (t *VideoTrack) SetDirection(forward bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.forward == forward {
		return
	}
	t.forward = forward
	for _, id := range t.order {
		t.clips[id].SetDirection(forward)
	}
}

func (t *VideoTrack) Direction() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.forward
}

// ReadVideoFrame produces the frame at the current read position and
// advances one frame in the current direction. Overlap output wins
// over plain clip output; a position covered by neither yields an
// empty mat. The mat's timestamp is always stamped with the read
// position in seconds.
func (t *VideoTrack) ReadVideoFrame() *media.ImageMat {
	t.mu.Lock()
	defer t.mu.Unlock()

	readPos := timebase.FramePos(t.readFrames, t.frameRate)
	var mat *media.ImageMat

	if t.forward {
		for t.readOverlapIdx < len(t.overlaps) && readPos >= t.overlaps[t.readOverlapIdx].Start() {
			ov := t.overlaps[t.readOverlapIdx]
			if readPos < ov.End() {
				mat = ov.readFrameAt(t.clips[ov.FrontID()], t.clips[ov.RearID()], readPos-ov.Start())
				break
			}
			t.readOverlapIdx++
		}

		if mat.Empty() {
			for t.readClipIdx < len(t.order) && readPos >= t.clipAt(t.readClipIdx).Start() {
				clip := t.clipAt(t.readClipIdx)
				if readPos < clip.End() {
					mat, _ = clip.ReadFrameAt(readPos - clip.Start())
					break
				}
				t.readClipIdx++
			}
		}
		t.readFrames++
	} else {
		for t.readOverlapIdx > 0 && (t.readOverlapIdx == len(t.overlaps) || readPos < t.overlaps[t.readOverlapIdx].Start()) {
			t.readOverlapIdx--
		}
		if t.readOverlapIdx < len(t.overlaps) {
			ov := t.overlaps[t.readOverlapIdx]
			if readPos >= ov.Start() && readPos < ov.End() {
				mat = ov.readFrameAt(t.clips[ov.FrontID()], t.clips[ov.RearID()], readPos-ov.Start())
			}
		}

		if mat.Empty() {
			for t.readClipIdx > 0 && (t.readClipIdx == len(t.order) || readPos < t.clipAt(t.readClipIdx).Start()) {
				t.readClipIdx--
			}
			if t.readClipIdx < len(t.order) {
				clip := t.clipAt(t.readClipIdx)
				if readPos < clip.End() {
					mat, _ = clip.ReadFrameAt(readPos - clip.Start())
				}
			}
		}
		t.readFrames--
	}

	if mat.Empty() {
		mat = &media.ImageMat{}
	}
	mat.Timestamp = float64(readPos) / 1000
	return mat
}

func (t *VideoTrack) clipAt(i int) *VideoClip {
	return t.clips[t.order[i]]
}

func (t *VideoTrack) sortClips() {
	sort.Slice(t.order, func(i, j int) bool {
		a, b := t.clips[t.order[i]], t.clips[t.order[j]]
		if a.Start() != b.Start() {
			return a.Start() < b.Start()
		}
		return a.ID() < b.ID()
	})
}

func (t *VideoTrack) updateDuration() {
	if len(t.order) == 0 {
		t.duration = 0
		return
	}
	last := t.clipAt(len(t.order) - 1)
	t.duration = last.End()
}

// seekTo repositions the clip and overlap iterators for pos and seeks
// every clip to its local position.
func (t *VideoTrack) seekTo(pos int64) {
	if t.forward {
		t.readClipIdx = len(t.order)
		for i, id := range t.order {
			clip := t.clips[id]
			clipPos := pos - clip.Start()
			clip.SeekTo(clipPos)
			if t.readClipIdx == len(t.order) && clipPos < clip.Duration() {
				t.readClipIdx = i
			}
		}
		t.readOverlapIdx = len(t.overlaps)
		for i, ov := range t.overlaps {
			if pos-ov.Start() < ov.Duration() {
				t.readOverlapIdx = i
				break
			}
		}
	} else {
		t.readClipIdx = len(t.order)
		matched := false
		for i := len(t.order) - 1; i >= 0; i-- {
			clip := t.clips[t.order[i]]
			clipPos := pos - clip.Start()
			clip.SeekTo(clipPos)
			if !matched && clipPos >= 0 {
				// reverse reads normalize from one past the match
				t.readClipIdx = i + 1
				matched = true
			}
		}
		t.readOverlapIdx = len(t.overlaps)
		for i := len(t.overlaps) - 1; i >= 0; i-- {
			if pos-t.overlaps[i].Start() >= 0 {
				t.readOverlapIdx = i + 1
				break
			}
		}
	}

	t.readFrames = timebase.FrameIndex(pos, t.frameRate)
}

// checkClipRangeValid rejects a candidate range that strictly enters
// the interior of an overlap the candidate does not own, or fully
// covers one. Abutting endpoints are allowed; a third clip over an
// existing overlap is not.
func (t *VideoTrack) checkClipRangeValid(clipID, start, end int64) bool {
	for _, ov := range t.overlaps {
		if ov.involves(clipID) {
			continue
		}
		if (start > ov.Start() && start < ov.End()) ||
			(end > ov.Start() && end < ov.End()) ||
			(start <= ov.Start() && end >= ov.End()) {
			return false
		}
	}
	return true
}

// updateClipOverlap reconciles the overlap list after a mutation of
// clip c: refresh overlaps involving c and drop the invalid ones,
// drop overlaps whose members left the track, create missing pairwise
// overlaps, and re-sort by start.
func (t *VideoTrack) updateClipOverlap(c *VideoClip) {
	kept := t.overlaps[:0]
	for _, ov := range t.overlaps {
		front, fok := t.clips[ov.FrontID()]
		rear, rok := t.clips[ov.RearID()]
		if !fok || !rok {
			continue
		}
		if ov.involves(c.ID()) && !ov.update(front, rear) {
			continue
		}
		kept = append(kept, ov)
	}
	t.overlaps = kept

	for _, id := range t.order {
		other := t.clips[id]
		if other == c {
			continue
		}
		if !clipsOverlap(c, other) {
			continue
		}
		exists := false
		for _, ov := range t.overlaps {
			if ov.involves(c.ID()) && ov.involves(other.ID()) {
				exists = true
				break
			}
		}
		if !exists {
			t.overlaps = append(t.overlaps, newVideoOverlap(timebase.NewID(), c, other))
		}
	}

	sort.Slice(t.overlaps, func(i, j int) bool {
		return t.overlaps[i].Start() < t.overlaps[j].Start()
	})
}
