package timeline

import (
	"fmt"
	"sort"
	"sync"

	"github.com/medit/medit-engine/internal/media"
	"github.com/medit/medit-engine/internal/timebase"
)

// AudioClip mirrors VideoClip for sample-oriented sources.
type AudioClip struct {
	id          int64
	source      AudioSource
	trackID     int64
	start       int64
	startOffset int64
	endOffset   int64
	duration    int64
	readPos     int64
	forward     bool

	Filter AudioFilter
}

// AudioFilter processes a clip's PCM block at a clip-local position.
type AudioFilter interface {
	FilterPcm(in []float32, pos, dur int64) []float32
}

func NewAudioClip(id int64, source AudioSource, start, startOffset, endOffset int64) (*AudioClip, error) {
	if source == nil {
		return nil, fmt.Errorf("nil source: %w", ErrInvalidArgument)
	}
	if startOffset < 0 || endOffset < 0 {
		return nil, fmt.Errorf("negative trim offset: %w", ErrInvalidArgument)
	}
	srcDur := source.Duration()
	if startOffset+endOffset >= srcDur {
		return nil, fmt.Errorf("trim offsets %d+%d exceed source duration %d: %w",
			startOffset, endOffset, srcDur, ErrInvalidRange)
	}
	return &AudioClip{
		id:          id,
		source:      source,
		trackID:     -1,
		start:       start,
		startOffset: startOffset,
		endOffset:   endOffset,
		duration:    srcDur - startOffset - endOffset,
		forward:     true,
	}, nil
}

func (c *AudioClip) ID() int64          { return c.id }
func (c *AudioClip) TrackID() int64     { return c.trackID }
func (c *AudioClip) Start() int64       { return c.start }
func (c *AudioClip) End() int64         { return c.start + c.duration }
func (c *AudioClip) Duration() int64    { return c.duration }
func (c *AudioClip) StartOffset() int64 { return c.startOffset }
func (c *AudioClip) EndOffset() int64   { return c.endOffset }
func (c *AudioClip) ReadPos() int64     { return c.readPos }

func (c *AudioClip) setTrackID(id int64) { c.trackID = id }

func (c *AudioClip) SetStart(start int64) { c.start = start }

func (c *AudioClip) ChangeStartOffset(startOffset int64) error {
	if startOffset < 0 || startOffset+c.endOffset >= c.source.Duration() {
		return fmt.Errorf("start offset %d: %w", startOffset, ErrInvalidRange)
	}
	c.startOffset = startOffset
	c.duration = c.source.Duration() - c.startOffset - c.endOffset
	return nil
}

func (c *AudioClip) ChangeEndOffset(endOffset int64) error {
	if endOffset < 0 || c.startOffset+endOffset >= c.source.Duration() {
		return fmt.Errorf("end offset %d: %w", endOffset, ErrInvalidRange)
	}
	c.endOffset = endOffset
	c.duration = c.source.Duration() - c.startOffset - c.endOffset
	return nil
}

func (c *AudioClip) SeekTo(pos int64) {
	if pos < 0 {
		pos = 0
	} else if pos > c.duration {
		pos = c.duration
	}
	c.readPos = pos
}

func (c *AudioClip) SetDirection(forward bool) { c.forward = forward }

// ReadSamplesAt reads count interleaved sample frames at the
// clip-local millisecond position.
func (c *AudioClip) ReadSamplesAt(pos int64, count int) ([]float32, bool) {
	if c.forward {
		if pos >= c.duration {
			return nil, true
		}
	} else if pos < 0 {
		return nil, true
	}
	if pos < 0 || pos >= c.duration {
		return nil, false
	}
	c.readPos = pos
	data, err := c.source.ReadSamples(c.startOffset+pos, count)
	if err != nil {
		return nil, false
	}
	if c.Filter != nil && len(data) > 0 {
		dur := int64(count) * 1000 / int64(c.source.SampleRate())
		data = c.Filter.FilterPcm(data, pos, dur)
	}
	return data, false
}

// AudioOverlap is the managed intersection of two audio clips.
type AudioOverlap struct {
	id      int64
	frontID int64
	rearID  int64
	start   int64
	end     int64
}

func newAudioOverlap(id int64, front, rear *AudioClip) *AudioOverlap {
	ov := &AudioOverlap{id: id}
	ov.update(front, rear)
	return ov
}

func (o *AudioOverlap) ID() int64       { return o.id }
func (o *AudioOverlap) FrontID() int64  { return o.frontID }
func (o *AudioOverlap) RearID() int64   { return o.rearID }
func (o *AudioOverlap) Start() int64    { return o.start }
func (o *AudioOverlap) End() int64      { return o.end }
func (o *AudioOverlap) Duration() int64 { return o.end - o.start }

func (o *AudioOverlap) involves(clipID int64) bool {
	return o.frontID == clipID || o.rearID == clipID
}

func (o *AudioOverlap) update(a, b *AudioClip) bool {
	if b.Start() < a.Start() || (b.Start() == a.Start() && b.ID() < a.ID()) {
		a, b = b, a
	}
	o.frontID = a.ID()
	o.rearID = b.ID()
	o.start = a.Start()
	if b.Start() > o.start {
		o.start = b.Start()
	}
	o.end = a.End()
	if b.End() < o.end {
		o.end = b.End()
	}
	return o.end > o.start
}

func audioClipsOverlap(a, b *AudioClip) bool {
	return a.Start() < b.End() && b.Start() < a.End()
}

// readSamplesAt cross-fades the two member clips across the overlap.
func (o *AudioOverlap) readSamplesAt(front, rear *AudioClip, pos int64, count int) []float32 {
	trackPos := o.start + pos
	frontData, _ := front.ReadSamplesAt(trackPos-front.Start(), count)
	rearData, _ := rear.ReadSamplesAt(trackPos-rear.Start(), count)
	if len(frontData) == 0 {
		return rearData
	}
	if len(rearData) == 0 {
		return frontData
	}
	p := float32(0)
	if d := o.Duration(); d > 0 {
		p = float32(pos) / float32(d)
	}
	out := make([]float32, len(frontData))
	for i := range out {
		r := float32(0)
		if i < len(rearData) {
			r = rearData[i]
		}
		out[i] = frontData[i]*(1-p) + r*p
	}
	return out
}

// AudioTrack is the sample-oriented counterpart of VideoTrack. The
// read counter advances in samples at the track's rate.
type AudioTrack struct {
	mu sync.Mutex

	id         int64
	sampleRate int
	channels   int

	clips    map[int64]*AudioClip
	order    []int64
	overlaps []*AudioOverlap

	duration int64
	forward  bool

	readClipIdx    int
	readOverlapIdx int
	readSamples    int64
}

func NewAudioTrack(id int64, sampleRate, channels int) (*AudioTrack, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("track audio spec %dHz/%dch: %w", sampleRate, channels, ErrInvalidArgument)
	}
	return &AudioTrack{
		id:         id,
		sampleRate: sampleRate,
		channels:   channels,
		clips:      make(map[int64]*AudioClip),
		forward:    true,
	}, nil
}

func (t *AudioTrack) ID() int64       { return t.id }
func (t *AudioTrack) SampleRate() int { return t.sampleRate }
func (t *AudioTrack) Channels() int   { return t.channels }

func (t *AudioTrack) Duration() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration
}

func (t *AudioTrack) ClipCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}

func (t *AudioTrack) OverlapCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.overlaps)
}

func (t *AudioTrack) AddNewClip(id int64, source AudioSource, start, startOffset, endOffset, readPos int64) (*AudioClip, error) {
	clip, err := NewAudioClip(id, source, start, startOffset, endOffset)
	if err != nil {
		return nil, err
	}
	clip.SeekTo(readPos)
	if err := t.InsertClip(clip); err != nil {
		return nil, err
	}
	return clip, nil
}

func (t *AudioTrack) InsertClip(clip *AudioClip) error {
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
	t.seekTo(t.readPosMs())
	return nil
}

func (t *AudioTrack) MoveClip(id int64, start int64) error {
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
	t.seekTo(t.readPosMs())
	return nil
}

func (t *AudioTrack) ChangeClipRange(id, startOffset, endOffset int64) error {
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
	t.seekTo(t.readPosMs())
	return nil
}

func (t *AudioTrack) RemoveClipByID(id int64) *AudioClip {
	t.mu.Lock()
	defer t.mu.Unlock()

	clip, ok := t.clips[id]
	if !ok {
		return nil
	}
	delete(t.clips, id)
	for i, cid := range t.order {
		if cid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	clip.setTrackID(-1)

	kept := t.overlaps[:0]
	for _, ov := range t.overlaps {
		if !ov.involves(id) {
			kept = append(kept, ov)
		}
	}
	t.overlaps = kept

	t.updateDuration()
	t.seekTo(t.readPosMs())
	return clip
}

// RemoveClipByIndex detaches and returns the i-th clip in start order.
func (t *AudioTrack) RemoveClipByIndex(i int) (*AudioClip, error) {
	t.mu.Lock()
	var id int64 = -1
	if i >= 0 && i < len(t.order) {
		id = t.order[i]
	}
	t.mu.Unlock()
	if id < 0 {
		return nil, fmt.Errorf("clip index %d: %w", i, ErrInvalidArgument)
	}
	return t.RemoveClipByID(id), nil
}

func (t *AudioTrack) GetClipByID(id int64) *AudioClip {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clips[id]
}

func (t *AudioTrack) GetClipByIndex(i int) *AudioClip {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.order) {
		return nil
	}
	return t.clips[t.order[i]]
}

func (t *AudioTrack) SeekTo(pos int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pos < 0 {
		return fmt.Errorf("seek position %d: %w", pos, ErrInvalidArgument)
	}
	t.seekTo(pos)
	return nil
}

func (t *AudioTrack) SetDirection(forward bool) {
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

// ReadAudioSamples produces count interleaved sample frames at the
// current read position, advancing the sample counter in the current
// direction. Holes produce silence. The returned mat is a PCM mat:
// W = sample frames, channels = track channels.
func (t *AudioTrack) ReadAudioSamples(count int) *media.ImageMat {
	t.mu.Lock()
	defer t.mu.Unlock()

	readPos := t.readPosMs()
	var data []float32

	if t.forward {
		for t.readOverlapIdx < len(t.overlaps) && readPos >= t.overlaps[t.readOverlapIdx].Start() {
			ov := t.overlaps[t.readOverlapIdx]
			if readPos < ov.End() {
				data = ov.readSamplesAt(t.clips[ov.FrontID()], t.clips[ov.RearID()], readPos-ov.Start(), count)
				break
			}
			t.readOverlapIdx++
		}
		if len(data) == 0 {
			for t.readClipIdx < len(t.order) && readPos >= t.clipAt(t.readClipIdx).Start() {
				clip := t.clipAt(t.readClipIdx)
				if readPos < clip.End() {
					data, _ = clip.ReadSamplesAt(readPos-clip.Start(), count)
					break
				}
				t.readClipIdx++
			}
		}
		t.readSamples += int64(count)
	} else {
		for t.readOverlapIdx > 0 && (t.readOverlapIdx == len(t.overlaps) || readPos < t.overlaps[t.readOverlapIdx].Start()) {
			t.readOverlapIdx--
		}
		if t.readOverlapIdx < len(t.overlaps) {
			ov := t.overlaps[t.readOverlapIdx]
			if readPos >= ov.Start() && readPos < ov.End() {
				data = ov.readSamplesAt(t.clips[ov.FrontID()], t.clips[ov.RearID()], readPos-ov.Start(), count)
			}
		}
		if len(data) == 0 {
			for t.readClipIdx > 0 && (t.readClipIdx == len(t.order) || readPos < t.clipAt(t.readClipIdx).Start()) {
				t.readClipIdx--
			}
			if t.readClipIdx < len(t.order) {
				clip := t.clipAt(t.readClipIdx)
				if readPos < clip.End() {
					data, _ = clip.ReadSamplesAt(readPos-clip.Start(), count)
				}
			}
		}
		t.readSamples -= int64(count)
	}

	mat := &media.ImageMat{
		W:        count,
		H:        1,
		Channels: t.channels,
		Data:     make([]float32, count*t.channels),
	}
	copy(mat.Data, data)
	mat.Timestamp = float64(readPos) / 1000
	return mat
}

func (t *AudioTrack) readPosMs() int64 {
	return t.readSamples * 1000 / int64(t.sampleRate)
}

func (t *AudioTrack) clipAt(i int) *AudioClip {
	return t.clips[t.order[i]]
}

func (t *AudioTrack) sortClips() {
	sort.Slice(t.order, func(i, j int) bool {
		a, b := t.clips[t.order[i]], t.clips[t.order[j]]
		if a.Start() != b.Start() {
			return a.Start() < b.Start()
		}
		return a.ID() < b.ID()
	})
}

func (t *AudioTrack) updateDuration() {
	if len(t.order) == 0 {
		t.duration = 0
		return
	}
	t.duration = t.clipAt(len(t.order) - 1).End()
}

func (t *AudioTrack) seekTo(pos int64) {
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

	t.readSamples = pos * int64(t.sampleRate) / 1000
}

func (t *AudioTrack) checkClipRangeValid(clipID, start, end int64) bool {
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

func (t *AudioTrack) updateClipOverlap(c *AudioClip) {
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
		if !audioClipsOverlap(c, other) {
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
			t.overlaps = append(t.overlaps, newAudioOverlap(timebase.NewID(), c, other))
		}
	}

	sort.Slice(t.overlaps, func(i, j int) bool {
		return t.overlaps[i].Start() < t.overlaps[j].Start()
	})
}
