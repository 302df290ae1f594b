package api

import "encoding/json"

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type PlayerStatusResponse struct {
	Opened     bool   `json:"opened"`
	Playing    bool   `json:"playing"`
	Seeking    bool   `json:"seeking"`
	HasVideo   bool   `json:"has_video"`
	HasAudio   bool   `json:"has_audio"`
	PlayPosMs  int64  `json:"play_pos_ms"`
	DurationMs int64  `json:"duration_ms"`
	LastError  string `json:"last_error,omitempty"`
}

type OpenRequest struct {
	URL string `json:"url"`
}

type SeekRequest struct {
	PosMs   int64 `json:"pos_ms"`
	SeekToI bool  `json:"seek_to_i"`
}

type ScrubRequest struct {
	PosMs int64 `json:"pos_ms"`
}

type ProjectCreateRequest struct {
	Name    string `json:"name"`
	BaseDir string `json:"base_dir,omitempty"`
}

type ProjectLoadRequest struct {
	Path string `json:"path"`
}

type ProjectResponse struct {
	Name     string          `json:"name"`
	Dir      string          `json:"dir"`
	FilePath string          `json:"file_path"`
	Version  uint32          `json:"version"`
	Content  json.RawMessage `json:"content,omitempty"`
}

type SourceResponse struct {
	ID         int64  `json:"id"`
	URL        string `json:"url"`
	DurationMs int64  `json:"duration_ms"`
	HasVideo   bool   `json:"has_video"`
	HasAudio   bool   `json:"has_audio"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

type SourcesResponse struct {
	Sources []SourceResponse `json:"sources"`
}

type ProbeRequest struct {
	URL string `json:"url"`
}

type OverviewBuildRequest struct {
	SnapshotCount int `json:"snapshot_count,omitempty"`
	Width         int `json:"width,omitempty"`
	Height        int `json:"height,omitempty"`
}

type OverviewSlot struct {
	Index      int     `json:"index"`
	TimestampS float64 `json:"timestamp_s"`
	SameAs     int     `json:"same_as"`
}

type OverviewResponse struct {
	SourceID      int64          `json:"source_id"`
	SnapshotCount int            `json:"snapshot_count"`
	Width         int            `json:"width"`
	Height        int            `json:"height"`
	BuiltAt       string         `json:"built_at"`
	Slots         []OverviewSlot `json:"slots,omitempty"`
}

type ExportClipInput struct {
	SourceID      int64 `json:"source_id"`
	StartMs       int64 `json:"start_ms"`
	StartOffsetMs int64 `json:"start_offset_ms"`
	EndOffsetMs   int64 `json:"end_offset_ms"`
}

type ExportRequest struct {
	Title string            `json:"title,omitempty"`
	Clips []ExportClipInput `json:"clips"`
}

type ExportResponse struct {
	Title     string `json:"title"`
	ClipCount int    `json:"clip_count"`
	EDL       string `json:"edl"`
}
