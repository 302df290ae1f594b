package library

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/medit/medit-engine/internal/media"
	"github.com/medit/medit-engine/internal/overview"
)

// Service probes media files through the backend and keeps the
// catalog current. The watcher feeds it newly appearing files.
type Service struct {
	repo    Repository
	backend media.Backend
	logger  *slog.Logger
}

func NewService(repo Repository, backend media.Backend, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, backend: backend, logger: logger}
}

// Probe opens the url, reads its stream properties and upserts the
// catalog record.
func (s *Service) Probe(ctx context.Context, url string) (*Source, error) {
	demux := s.backend.NewDemuxer()
	if err := demux.Open(url); err != nil {
		return nil, fmt.Errorf("probe %q: %w", url, err)
	}
	defer demux.Close()

	src := &Source{
		URL:        url,
		DurationMs: demux.Duration(),
		ProbedAt:   time.Now(),
	}
	for _, st := range demux.Streams() {
		switch st.Type {
		case media.MediaTypeVideo:
			if !src.HasVideo {
				src.HasVideo = true
				src.Width = st.Width
				src.Height = st.Height
				src.FrameRate = st.AvgFrameRate
			}
		case media.MediaTypeAudio:
			if !src.HasAudio {
				src.HasAudio = true
				src.SampleRate = st.SampleRate
				src.Channels = st.Channels
			}
		}
	}

	if err := s.repo.UpsertSource(ctx, src); err != nil {
		return nil, err
	}
	s.logger.Info("source probed", "url", url,
		"duration_ms", src.DurationMs, "video", src.HasVideo, "audio", src.HasAudio)
	return src, nil
}

// OnMediaFile is the watcher callback: probe and catalog the file,
// logging failures instead of propagating them.
func (s *Service) OnMediaFile(path string) {
	if _, err := s.Probe(context.Background(), path); err != nil {
		s.logger.Warn("failed to probe new media file", "path", path, "error", err)
	}
}

// BuildOverview builds the snapshot strip for a cataloged source,
// records it in the overview cache and returns the record together
// with the resolved snapshot table. Width/height 0 keep the source
// size.
func (s *Service) BuildOverview(ctx context.Context, sourceID int64, count, width, height int) (*OverviewRecord, []overview.Snapshot, error) {
	src, err := s.repo.GetSource(ctx, sourceID)
	if err != nil {
		return nil, nil, err
	}

	ov := overview.New(s.backend, s.logger)
	defer ov.Close()
	if err := ov.Open(src.URL, count); err != nil {
		return nil, nil, fmt.Errorf("build overview for %q: %w", src.URL, err)
	}
	if width > 0 && height > 0 {
		if err := ov.SetSnapshotSize(width, height); err != nil {
			return nil, nil, err
		}
	}
	for !ov.Done() {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	snaps := ov.GetSnapshots()

	w, h := width, height
	if w <= 0 || h <= 0 {
		w, h = src.Width, src.Height
	}
	rec := &OverviewRecord{
		SourceID:      sourceID,
		SnapshotCount: count,
		Width:         w,
		Height:        h,
		BuiltAt:       time.Now(),
	}
	if err := s.repo.RecordOverview(ctx, rec); err != nil {
		return nil, nil, err
	}
	s.logger.Info("overview built", "source_id", sourceID, "url", src.URL, "snapshots", count)
	return rec, snaps, nil
}
