// Package library is the media catalog: known source files with
// their probed stream properties, plus bookkeeping for the overview
// thumbnails built from them, persisted in sqlite.
package library

import (
	"time"

	"github.com/medit/medit-engine/internal/timebase"
)

// Source is one known media file and its probed properties.
type Source struct {
	ID         int64
	URL        string
	DurationMs int64
	HasVideo   bool
	HasAudio   bool
	Width      int
	Height     int
	FrameRate  timebase.Ratio
	SampleRate int
	Channels   int
	ProbedAt   time.Time
}

// OverviewRecord notes that an overview strip was built for a source.
type OverviewRecord struct {
	SourceID      int64
	SnapshotCount int
	Width         int
	Height        int
	BuiltAt       time.Time
}
