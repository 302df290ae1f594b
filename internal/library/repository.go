package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

// Repository is the persistence surface of the media catalog.
type Repository interface {
	UpsertSource(ctx context.Context, source *Source) error
	GetSource(ctx context.Context, id int64) (*Source, error)
	GetSourceByURL(ctx context.Context, url string) (*Source, error)
	ListSources(ctx context.Context) ([]*Source, error)
	DeleteSource(ctx context.Context, id int64) error

	RecordOverview(ctx context.Context, rec *OverviewRecord) error
	GetOverview(ctx context.Context, sourceID int64) (*OverviewRecord, error)
}

// SQLiteRepository implements Repository over the library database.
type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) UpsertSource(ctx context.Context, s *Source) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sources (url, duration_ms, has_video, has_audio, width, height, fps_num, fps_den, sample_rate, channels, probed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			duration_ms = excluded.duration_ms,
			has_video = excluded.has_video,
			has_audio = excluded.has_audio,
			width = excluded.width,
			height = excluded.height,
			fps_num = excluded.fps_num,
			fps_den = excluded.fps_den,
			sample_rate = excluded.sample_rate,
			channels = excluded.channels,
			probed_at = excluded.probed_at
	`, s.URL, s.DurationMs, boolToInt(s.HasVideo), boolToInt(s.HasAudio),
		s.Width, s.Height, s.FrameRate.Num, s.FrameRate.Den,
		s.SampleRate, s.Channels, s.ProbedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert source %q: %w", s.URL, err)
	}
	if s.ID == 0 {
		if id, err := res.LastInsertId(); err == nil && id > 0 {
			s.ID = id
		} else {
			existing, err := r.GetSourceByURL(ctx, s.URL)
			if err != nil {
				return err
			}
			s.ID = existing.ID
		}
	}
	return nil
}

func (r *SQLiteRepository) GetSource(ctx context.Context, id int64) (*Source, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, url, duration_ms, has_video, has_audio, width, height, fps_num, fps_den, sample_rate, channels, probed_at
		FROM sources WHERE id = ?
	`, id)
	return scanSource(row)
}

func (r *SQLiteRepository) GetSourceByURL(ctx context.Context, url string) (*Source, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, url, duration_ms, has_video, has_audio, width, height, fps_num, fps_den, sample_rate, channels, probed_at
		FROM sources WHERE url = ?
	`, url)
	return scanSource(row)
}

func (r *SQLiteRepository) ListSources(ctx context.Context) ([]*Source, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, url, duration_ms, has_video, has_audio, width, height, fps_num, fps_den, sample_rate, channels, probed_at
		FROM sources ORDER BY url
	`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []*Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) DeleteSource(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM sources WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) RecordOverview(ctx context.Context, rec *OverviewRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO overviews (source_id, snapshot_count, width, height, built_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			snapshot_count = excluded.snapshot_count,
			width = excluded.width,
			height = excluded.height,
			built_at = excluded.built_at
	`, rec.SourceID, rec.SnapshotCount, rec.Width, rec.Height, rec.BuiltAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record overview for source %d: %w", rec.SourceID, err)
	}
	return nil
}

func (r *SQLiteRepository) GetOverview(ctx context.Context, sourceID int64) (*OverviewRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT source_id, snapshot_count, width, height, built_at
		FROM overviews WHERE source_id = ?
	`, sourceID)
	rec := &OverviewRecord{}
	var builtAt string
	err := row.Scan(&rec.SourceID, &rec.SnapshotCount, &rec.Width, &rec.Height, &builtAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.BuiltAt, _ = time.Parse(time.RFC3339, builtAt)
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*Source, error) {
	s := &Source{}
	var hasVideo, hasAudio int
	var probedAt string
	err := row.Scan(&s.ID, &s.URL, &s.DurationMs, &hasVideo, &hasAudio,
		&s.Width, &s.Height, &s.FrameRate.Num, &s.FrameRate.Den,
		&s.SampleRate, &s.Channels, &probedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.HasVideo = hasVideo == 1
	s.HasAudio = hasAudio == 1
	s.ProbedAt, _ = time.Parse(time.RFC3339, probedAt)
	return s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
