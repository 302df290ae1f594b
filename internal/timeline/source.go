// Package timeline implements the multi-track editing model: clips
// placed on tracks, managed overlaps between intersecting clips, and
// position-based frame/sample reads in both directions.
package timeline

import "github.com/medit/medit-engine/internal/media"

// VideoSource is the parser handle a video clip reads frames through.
// Positions are source-local milliseconds.
type VideoSource interface {
	Duration() int64
	ReadFrame(pos int64) (*media.ImageMat, error)
}

// AudioSource is the parser handle an audio clip reads samples
// through. Pos is source-local milliseconds; the returned slice holds
// count interleaved frames (count*channels values).
type AudioSource interface {
	Duration() int64
	SampleRate() int
	Channels() int
	ReadSamples(pos int64, count int) ([]float32, error)
}
