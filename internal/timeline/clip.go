package timeline

import (
	"fmt"

	"github.com/medit/medit-engine/internal/media"
)

// VideoClip is a time-bounded reference into a video source, placed
// on a track. start is the position on the track; startOffset and
// endOffset trim inside the source. All values are milliseconds.
type VideoClip struct {
	id          int64
	source      VideoSource
	trackID     int64
	start       int64
	startOffset int64
	endOffset   int64
	duration    int64
	readPos     int64
	forward     bool

	// Filter is applied to every frame read out of the clip, clip-local
	// position attached. Optional.
	Filter VideoFilter
}

// VideoFilter processes a clip's frame at a clip-local position.
type VideoFilter interface {
	FilterImage(in *media.ImageMat, pos int64) *media.ImageMat
}

func NewVideoClip(id int64, source VideoSource, start, startOffset, endOffset int64) (*VideoClip, error) {
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
	return &VideoClip{
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

func (c *VideoClip) ID() int64          { return c.id }
func (c *VideoClip) TrackID() int64     { return c.trackID }
func (c *VideoClip) Start() int64       { return c.start }
func (c *VideoClip) End() int64         { return c.start + c.duration }
func (c *VideoClip) Duration() int64    { return c.duration }
func (c *VideoClip) StartOffset() int64 { return c.startOffset }
func (c *VideoClip) EndOffset() int64   { return c.endOffset }
func (c *VideoClip) ReadPos() int64     { return c.readPos }
func (c *VideoClip) Source() VideoSource { return c.source }

func (c *VideoClip) setTrackID(id int64) { c.trackID = id }

// SetStart repositions the clip on its track. The owning track is
// responsible for revalidating and recomputing overlaps.
func (c *VideoClip) SetStart(start int64) {
	c.start = start
}

// ChangeStartOffset moves the in-point inside the source; the clip's
// track position keeps its start, the end moves.
func (c *VideoClip) ChangeStartOffset(startOffset int64) error {
	if startOffset < 0 || startOffset+c.endOffset >= c.source.Duration() {
		return fmt.Errorf("start offset %d: %w", startOffset, ErrInvalidRange)
	}
	c.startOffset = startOffset
	c.duration = c.source.Duration() - c.startOffset - c.endOffset
	return nil
}

// ChangeEndOffset moves the out-point inside the source.
func (c *VideoClip) ChangeEndOffset(endOffset int64) error {
	if endOffset < 0 || c.startOffset+endOffset >= c.source.Duration() {
		return fmt.Errorf("end offset %d: %w", endOffset, ErrInvalidRange)
	}
	c.endOffset = endOffset
	c.duration = c.source.Duration() - c.startOffset - c.endOffset
	return nil
}

// SeekTo positions the internal playhead at the clip-local position,
// clamped to the clip's range.
func (c *VideoClip) SeekTo(pos int64) {
	if pos < 0 {
		pos = 0
	} else if pos > c.duration {
		pos = c.duration
	}
	c.readPos = pos
}

func (c *VideoClip) SetDirection(forward bool) {
	c.forward = forward
}

// ReadFrameAt returns the clip's frame at the clip-local position, or
// nil when pos falls outside the clip. The eof result reports that the
// playhead has run off the clip in the current direction.
func (c *VideoClip) ReadFrameAt(pos int64) (*media.ImageMat, bool) {
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
	mat, err := c.source.ReadFrame(c.startOffset + pos)
	if err != nil {
		return nil, false
	}
	if c.Filter != nil && !mat.Empty() {
		mat = c.Filter.FilterImage(mat, pos)
	}
	return mat, false
}
