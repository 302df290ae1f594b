package timeline

import (
	"sync"

	"github.com/medit/medit-engine/internal/timebase"
)

// OutputSpec is the timeline-wide output description: canvas size and
// frame rate for video, sample rate and channel layout for audio.
type OutputSpec struct {
	Width         int
	Height        int
	FrameRate     timebase.Ratio
	SampleRate    int
	Channels      int
	ChannelLayout uint64
}

// Timeline is the ordered set of tracks plus the output spec. The
// global duration is the maximum of the track durations.
type Timeline struct {
	mu          sync.Mutex
	spec        OutputSpec
	videoTracks []*VideoTrack
	audioTracks []*AudioTrack
}

func New(spec OutputSpec) *Timeline {
	return &Timeline{spec: spec}
}

func (tl *Timeline) Spec() OutputSpec {
	return tl.spec
}

// AddVideoTrack appends a new video track using the timeline's output
// spec and returns it.
func (tl *Timeline) AddVideoTrack() (*VideoTrack, error) {
	track, err := NewVideoTrack(timebase.NewID(), tl.spec.Width, tl.spec.Height, tl.spec.FrameRate)
	if err != nil {
		return nil, err
	}
	tl.mu.Lock()
	tl.videoTracks = append(tl.videoTracks, track)
	tl.mu.Unlock()
	return track, nil
}

// AddAudioTrack appends a new audio track using the timeline's output
// spec and returns it.
func (tl *Timeline) AddAudioTrack() (*AudioTrack, error) {
	track, err := NewAudioTrack(timebase.NewID(), tl.spec.SampleRate, tl.spec.Channels)
	if err != nil {
		return nil, err
	}
	tl.mu.Lock()
	tl.audioTracks = append(tl.audioTracks, track)
	tl.mu.Unlock()
	return track, nil
}

// RemoveTrack drops the track with the given id and reports whether
// it was found.
func (tl *Timeline) RemoveTrack(id int64) bool {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	for i, t := range tl.videoTracks {
		if t.ID() == id {
			tl.videoTracks = append(tl.videoTracks[:i], tl.videoTracks[i+1:]...)
			return true
		}
	}
	for i, t := range tl.audioTracks {
		if t.ID() == id {
			tl.audioTracks = append(tl.audioTracks[:i], tl.audioTracks[i+1:]...)
			return true
		}
	}
	return false
}

func (tl *Timeline) VideoTracks() []*VideoTrack {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	out := make([]*VideoTrack, len(tl.videoTracks))
	copy(out, tl.videoTracks)
	return out
}

func (tl *Timeline) AudioTracks() []*AudioTrack {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	out := make([]*AudioTrack, len(tl.audioTracks))
	copy(out, tl.audioTracks)
	return out
}

// Duration returns the end of the latest clip across all tracks.
func (tl *Timeline) Duration() int64 {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	var max int64
	for _, t := range tl.videoTracks {
		if d := t.Duration(); d > max {
			max = d
		}
	}
	for _, t := range tl.audioTracks {
		if d := t.Duration(); d > max {
			max = d
		}
	}
	return max
}

// SeekTo repositions every track at pos.
func (tl *Timeline) SeekTo(pos int64) error {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	for _, t := range tl.videoTracks {
		if err := t.SeekTo(pos); err != nil {
			return err
		}
	}
	for _, t := range tl.audioTracks {
		if err := t.SeekTo(pos); err != nil {
			return err
		}
	}
	return nil
}

// SetDirection switches the scan direction of every track.
func (tl *Timeline) SetDirection(forward bool) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	for _, t := range tl.videoTracks {
		t.SetDirection(forward)
	}
	for _, t := range tl.audioTracks {
		t.SetDirection(forward)
	}
}
