// Package export renders a timeline track as a CMX3600 edit decision
// list for interchange with other editors.
package export

// ResolvedClip is one EDL event: a source range of a media file
// placed at a record position on the timeline. All times are
// milliseconds.
type ResolvedClip struct {
	ClipName    string
	MediaPath   string
	SourceInMs  int64
	SourceOutMs int64
	RecordInMs  int64
	RecordOutMs int64
}
