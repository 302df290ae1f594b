package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/medit/medit-engine/internal/export"
	"github.com/medit/medit-engine/internal/library"
	"github.com/medit/medit-engine/internal/media"
	"github.com/medit/medit-engine/internal/timebase"
	"github.com/medit/medit-engine/internal/timeline"
)

// edlMediaSource adapts a cataloged source into a timeline video
// source for export. EDL generation never reads pixels, only ranges.
type edlMediaSource struct {
	url string
	dur int64
}

func (s *edlMediaSource) Duration() int64 { return s.dur }
func (s *edlMediaSource) URL() string     { return s.url }

func (s *edlMediaSource) ReadFrame(pos int64) (*media.ImageMat, error) {
	return &media.ImageMat{}, nil
}

// exportEDLHandler lays the requested clips onto a scratch video
// track (running the usual placement validation) and renders it as a
// CMX3600 EDL.
func exportEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Clips) == 0 {
			WriteError(w, http.StatusBadRequest, "missing clips", "BAD_REQUEST")
			return
		}

		title := req.Title
		if title == "" {
			if cfg.Project.IsOpened() {
				title = cfg.Project.Name()
			} else {
				title = "Untitled"
			}
		}

		sources := make([]*library.Source, 0, len(req.Clips))
		frameRate := timebase.Ratio{Num: 30, Den: 1}
		outW, outH := 1920, 1080
		for _, clip := range req.Clips {
			src, err := cfg.Repository.GetSource(r.Context(), clip.SourceID)
			if err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, library.ErrNotFound) {
					status = http.StatusNotFound
				}
				WriteError(w, status, err.Error(), "SOURCE_NOT_FOUND")
				return
			}
			if len(sources) == 0 && src.HasVideo && src.FrameRate.Valid() {
				frameRate = src.FrameRate
				outW, outH = src.Width, src.Height
			}
			sources = append(sources, src)
		}

		track, err := timeline.NewVideoTrack(1, outW, outH, frameRate)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "EXPORT_FAILED")
			return
		}
		for i, clip := range req.Clips {
			src := sources[i]
			adapter := &edlMediaSource{url: src.URL, dur: src.DurationMs}
			if _, err := track.AddNewClip(int64(i+1), adapter, clip.StartMs, clip.StartOffsetMs, clip.EndOffsetMs, 0); err != nil {
				WriteError(w, http.StatusUnprocessableEntity, err.Error(), "INVALID_CLIP")
				return
			}
		}

		edl := export.TrackEDL(track, title)
		WriteJSON(w, http.StatusOK, ExportResponse{
			Title:     export.SanitizeName(title, 70),
			ClipCount: track.ClipCount(),
			EDL:       edl,
		})
	}
}
