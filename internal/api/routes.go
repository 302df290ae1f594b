package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/medit/medit-engine/internal/library"
	"github.com/medit/medit-engine/internal/player"
	"github.com/medit/medit-engine/internal/project"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Route("/player", func(r chi.Router) {
		r.Get("/status", playerStatusHandler(cfg))
		r.Post("/open", playerOpenHandler(cfg))
		r.Post("/close", playerCloseHandler(cfg))
		r.Post("/play", playerPlayHandler(cfg))
		r.Post("/pause", playerPauseHandler(cfg))
		r.Post("/reset", playerResetHandler(cfg))
		r.Post("/seek", playerSeekHandler(cfg))
		r.Post("/scrub", playerScrubHandler(cfg))
		r.Post("/scrub/quit", playerQuitScrubHandler(cfg))
	})

	r.Route("/project", func(r chi.Router) {
		r.Get("/", projectGetHandler(cfg))
		r.Post("/", projectCreateHandler(cfg))
		r.Post("/load", projectLoadHandler(cfg))
		r.Post("/save", projectSaveHandler(cfg))
		r.Post("/close", projectCloseHandler(cfg))
		r.Post("/export", exportEDLHandler(cfg))
	})

	r.Route("/library", func(r chi.Router) {
		r.Get("/sources", listSourcesHandler(cfg))
		r.Post("/probe", probeHandler(cfg))
		r.Delete("/sources/{id}", deleteSourceHandler(cfg))
		r.Post("/sources/{id}/overview", buildOverviewHandler(cfg))
		r.Get("/sources/{id}/overview", getOverviewHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

func playerStatusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := cfg.Player
		WriteJSON(w, http.StatusOK, PlayerStatusResponse{
			Opened:     p.IsOpened(),
			Playing:    p.IsPlaying(),
			Seeking:    p.IsSeeking(),
			HasVideo:   p.HasVideo(),
			HasAudio:   p.HasAudio(),
			PlayPosMs:  p.PlayPos(),
			DurationMs: p.Duration(),
			LastError:  p.Err(),
		})
	}
}

func playerOpenHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OpenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
			WriteError(w, http.StatusBadRequest, "missing url", "BAD_REQUEST")
			return
		}
		if err := cfg.Player.Open(req.URL); err != nil {
			WriteError(w, http.StatusUnprocessableEntity, err.Error(), "OPEN_FAILED")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "opened"})
	}
}

func playerCloseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Player.Close(); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "CLOSE_FAILED")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "closed"})
	}
}

func playerPlayHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Player.Play(); err != nil {
			writePlayerError(w, err, "PLAY_FAILED")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "playing"})
	}
}

func playerPauseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Player.Pause(); err != nil {
			writePlayerError(w, err, "PAUSE_FAILED")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "paused"})
	}
}

func playerResetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Player.Reset(); err != nil {
			writePlayerError(w, err, "RESET_FAILED")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}
}

func playerSeekHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SeekRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "bad seek request", "BAD_REQUEST")
			return
		}
		if err := cfg.Player.Seek(req.PosMs, req.SeekToI); err != nil {
			writePlayerError(w, err, "SEEK_FAILED")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]int64{"pos_ms": req.PosMs})
	}
}

func playerScrubHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScrubRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "bad scrub request", "BAD_REQUEST")
			return
		}
		if err := cfg.Player.SeekAsync(req.PosMs); err != nil {
			writePlayerError(w, err, "SCRUB_FAILED")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]int64{"pos_ms": req.PosMs})
	}
}

func playerQuitScrubHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Player.QuitSeekAsync(); err != nil {
			writePlayerError(w, err, "SCRUB_QUIT_FAILED")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "scrub quit"})
	}
}

func writePlayerError(w http.ResponseWriter, err error, code string) {
	status := http.StatusInternalServerError
	if errors.Is(err, player.ErrNotOpened) {
		status = http.StatusConflict
	} else if errors.Is(err, player.ErrInvalidState) {
		status = http.StatusConflict
	}
	WriteError(w, status, err.Error(), code)
}

func projectGetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := cfg.Project
		if !p.IsOpened() {
			WriteError(w, http.StatusNotFound, "no project is opened", "NOT_OPENED")
			return
		}
		WriteJSON(w, http.StatusOK, ProjectResponse{
			Name:     p.Name(),
			Dir:      p.Dir(),
			FilePath: p.FilePath(),
			Version:  p.ProjVersion(),
			Content:  p.Content(),
		})
	}
}

func projectCreateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ProjectCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
			WriteError(w, http.StatusBadRequest, "missing project name", "BAD_REQUEST")
			return
		}
		baseDir := req.BaseDir
		if baseDir == "" {
			baseDir = cfg.ProjectBaseDir
		}
		if err := cfg.Project.CreateNew(req.Name, baseDir); err != nil {
			status := http.StatusUnprocessableEntity
			if errors.Is(err, project.ErrAlreadyExists) {
				status = http.StatusConflict
			}
			WriteError(w, status, err.Error(), "CREATE_FAILED")
			return
		}
		WriteJSON(w, http.StatusCreated, ProjectResponse{
			Name:     cfg.Project.Name(),
			Dir:      cfg.Project.Dir(),
			FilePath: cfg.Project.FilePath(),
			Version:  cfg.Project.ProjVersion(),
		})
	}
}

func projectLoadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ProjectLoadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
			WriteError(w, http.StatusBadRequest, "missing project path", "BAD_REQUEST")
			return
		}
		if err := cfg.Project.Load(req.Path); err != nil {
			WriteError(w, http.StatusUnprocessableEntity, err.Error(), "LOAD_FAILED")
			return
		}
		WriteJSON(w, http.StatusOK, ProjectResponse{
			Name:     cfg.Project.Name(),
			Dir:      cfg.Project.Dir(),
			FilePath: cfg.Project.FilePath(),
			Version:  cfg.Project.ProjVersion(),
		})
	}
}

func projectSaveHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Project.Save(); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, project.ErrNotOpened) {
				status = http.StatusConflict
			}
			WriteError(w, status, err.Error(), "SAVE_FAILED")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "saved"})
	}
}

func projectCloseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		save := r.URL.Query().Get("save") != "false"
		if err := cfg.Project.Close(save); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "CLOSE_FAILED")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "closed"})
	}
}

func listSourcesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := cfg.Repository.ListSources(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "LIST_FAILED")
			return
		}
		resp := SourcesResponse{Sources: make([]SourceResponse, 0, len(sources))}
		for _, s := range sources {
			resp.Sources = append(resp.Sources, sourceToResponse(s))
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func probeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ProbeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
			WriteError(w, http.StatusBadRequest, "missing url", "BAD_REQUEST")
			return
		}
		src, err := cfg.Library.Probe(r.Context(), req.URL)
		if err != nil {
			WriteError(w, http.StatusUnprocessableEntity, err.Error(), "PROBE_FAILED")
			return
		}
		WriteJSON(w, http.StatusCreated, sourceToResponse(src))
	}
}

func deleteSourceHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "bad source id", "BAD_REQUEST")
			return
		}
		if err := cfg.Repository.DeleteSource(r.Context(), id); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "DELETE_FAILED")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// buildOverviewHandler builds the snapshot strip for a cataloged
// source and records it in the overview cache.
func buildOverviewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "bad source id", "BAD_REQUEST")
			return
		}
		var req OverviewBuildRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				WriteError(w, http.StatusBadRequest, "bad overview request", "BAD_REQUEST")
				return
			}
		}
		count := req.SnapshotCount
		if count < 1 {
			count = cfg.SnapshotCount
		}
		if count < 1 {
			count = 1
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		rec, snaps, err := cfg.Library.BuildOverview(ctx, id, count, req.Width, req.Height)
		if err != nil {
			status := http.StatusUnprocessableEntity
			if errors.Is(err, library.ErrNotFound) {
				status = http.StatusNotFound
			}
			WriteError(w, status, err.Error(), "OVERVIEW_FAILED")
			return
		}

		resp := overviewToResponse(rec)
		for _, ss := range snaps {
			slot := OverviewSlot{Index: ss.Index, SameAs: ss.SameAs}
			if ss.Image != nil {
				slot.TimestampS = ss.Image.Timestamp
			}
			resp.Slots = append(resp.Slots, slot)
		}
		WriteJSON(w, http.StatusCreated, resp)
	}
}

func getOverviewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "bad source id", "BAD_REQUEST")
			return
		}
		rec, err := cfg.Repository.GetOverview(r.Context(), id)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, library.ErrNotFound) {
				status = http.StatusNotFound
			}
			WriteError(w, status, err.Error(), "OVERVIEW_NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, overviewToResponse(rec))
	}
}

func overviewToResponse(rec *library.OverviewRecord) OverviewResponse {
	return OverviewResponse{
		SourceID:      rec.SourceID,
		SnapshotCount: rec.SnapshotCount,
		Width:         rec.Width,
		Height:        rec.Height,
		BuiltAt:       rec.BuiltAt.UTC().Format(time.RFC3339),
	}
}

func sourceToResponse(s *library.Source) SourceResponse {
	return SourceResponse{
		ID:         s.ID,
		URL:        s.URL,
		DurationMs: s.DurationMs,
		HasVideo:   s.HasVideo,
		HasAudio:   s.HasAudio,
		Width:      s.Width,
		Height:     s.Height,
		SampleRate: s.SampleRate,
		Channels:   s.Channels,
	}
}
