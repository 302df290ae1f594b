package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/medit/medit-engine/internal/library"
	"github.com/medit/medit-engine/internal/media"
	"github.com/medit/medit-engine/internal/player"
	"github.com/medit/medit-engine/internal/project"
	"github.com/medit/medit-engine/internal/timebase"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testConfig(t *testing.T) ServerConfig {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))

	backend := media.NewSimBackend()
	backend.AddSource(media.SimSource{
		URL:        "sim://clip",
		DurationMs: 4000,
		HasVideo:   true,
		FrameRate:  timebase.Ratio{Num: 25, Den: 1},
		Width:      32,
		Height:     18,
		GopSize:    25,
	})

	db, err := library.NewDB(filepath.Join(t.TempDir(), "library.db"), logger)
	if err != nil {
		t.Fatalf("NewDB() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	repo := library.NewRepository(db.Conn())

	plr := player.New(backend, logger)
	t.Cleanup(func() { plr.Close() })

	return ServerConfig{
		Port:           0,
		Version:        "test",
		StartTime:      time.Now(),
		Player:         plr,
		Project:        project.New(logger),
		Library:        library.NewService(repo, backend, logger),
		Repository:     repo,
		ProjectBaseDir: t.TempDir(),
		SnapshotCount:  4,
		Logger:         logger,
	}
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthRoute(t *testing.T) {
	router := NewRouter(testConfig(t))
	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Status != "ok" {
		t.Errorf("health response = %s", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestPlayerRoutes(t *testing.T) {
	cfg := testConfig(t)
	router := NewRouter(cfg)

	// control before open is a conflict
	rec := doJSON(t, router, http.MethodPost, "/player/play", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("POST /player/play before open = %d, want 409", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/player/open", OpenRequest{URL: "sim://clip"})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /player/open = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/player/open", OpenRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST /player/open without url = %d, want 400", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/player/play", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /player/play = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/player/seek", SeekRequest{PosMs: 2000})
	if rec.Code != http.StatusOK {
		t.Errorf("POST /player/seek = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/player/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /player/status = %d", rec.Code)
	}
	var status PlayerStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if !status.Opened || !status.Playing || !status.HasVideo || status.DurationMs != 4000 {
		t.Errorf("player status = %+v", status)
	}

	rec = doJSON(t, router, http.MethodPost, "/player/close", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("POST /player/close = %d", rec.Code)
	}
}

func TestProjectRoutes(t *testing.T) {
	cfg := testConfig(t)
	router := NewRouter(cfg)

	rec := doJSON(t, router, http.MethodGet, "/project/", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /project/ before create = %d, want 404", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/project/", ProjectCreateRequest{Name: "demo"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /project/ = %d: %s", rec.Code, rec.Body.String())
	}

	// duplicate create conflicts
	rec = doJSON(t, router, http.MethodPost, "/project/", ProjectCreateRequest{Name: "demo"})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate POST /project/ = %d, want 409", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/project/save", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("POST /project/save = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/project/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /project/ = %d", rec.Code)
	}
	var resp ProjectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Name != "demo" {
		t.Errorf("project response = %s", rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/project/close", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("POST /project/close = %d", rec.Code)
	}
}

func TestLibraryRoutes(t *testing.T) {
	cfg := testConfig(t)
	router := NewRouter(cfg)

	rec := doJSON(t, router, http.MethodGet, "/library/sources", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /library/sources = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/library/probe", ProbeRequest{URL: "sim://clip"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /library/probe = %d: %s", rec.Code, rec.Body.String())
	}
	var src SourceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &src); err != nil {
		t.Fatal(err)
	}
	if src.DurationMs != 4000 || !src.HasVideo {
		t.Errorf("probed source = %+v", src)
	}

	rec = doJSON(t, router, http.MethodPost, "/library/probe", ProbeRequest{URL: "sim://ghost"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("probe of unknown url = %d, want 422", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/library/sources", nil)
	var list SourcesResponse
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list.Sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(list.Sources))
	}

	rec = doJSON(t, router, http.MethodDelete, "/library/sources/1", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("DELETE /library/sources/1 = %d", rec.Code)
	}
}

func TestOverviewRoutes(t *testing.T) {
	cfg := testConfig(t)
	router := NewRouter(cfg)

	rec := doJSON(t, router, http.MethodGet, "/library/sources/1/overview", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET overview before build = %d, want 404", rec.Code)
	}
	rec = doJSON(t, router, http.MethodPost, "/library/sources/1/overview", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("POST overview for unknown source = %d, want 404", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/library/probe", ProbeRequest{URL: "sim://clip"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /library/probe = %d: %s", rec.Code, rec.Body.String())
	}
	var src SourceResponse
	json.Unmarshal(rec.Body.Bytes(), &src)

	path := "/library/sources/" + strconv.FormatInt(src.ID, 10) + "/overview"
	rec = doJSON(t, router, http.MethodPost, path, OverviewBuildRequest{SnapshotCount: 4})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST %s = %d: %s", path, rec.Code, rec.Body.String())
	}
	var built OverviewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &built); err != nil {
		t.Fatal(err)
	}
	if built.SnapshotCount != 4 || len(built.Slots) != 4 {
		t.Errorf("built overview = %+v, want 4 snapshots with 4 slots", built)
	}
	// 4 shots over 4 s land on the 0/1/2/3 s keyframes
	if built.Slots[1].TimestampS != 1.0 {
		t.Errorf("slot 1 timestamp = %f, want 1.0", built.Slots[1].TimestampS)
	}

	// the cache is now populated
	rec = doJSON(t, router, http.MethodGet, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET %s = %d: %s", path, rec.Code, rec.Body.String())
	}
	var cached OverviewResponse
	json.Unmarshal(rec.Body.Bytes(), &cached)
	if cached.SnapshotCount != 4 || cached.Width != 32 || cached.Height != 18 {
		t.Errorf("cached overview = %+v", cached)
	}
}

func TestExportRoute(t *testing.T) {
	cfg := testConfig(t)
	router := NewRouter(cfg)

	rec := doJSON(t, router, http.MethodPost, "/project/export", ExportRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST /project/export without clips = %d, want 400", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/library/probe", ProbeRequest{URL: "sim://clip"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /library/probe = %d: %s", rec.Code, rec.Body.String())
	}
	var src SourceResponse
	json.Unmarshal(rec.Body.Bytes(), &src)

	req := ExportRequest{
		Title: "My Cut",
		Clips: []ExportClipInput{
			// first second of the source at the timeline start
			{SourceID: src.ID, StartMs: 0, StartOffsetMs: 0, EndOffsetMs: 3000},
			// the whole source again from 1000 ms
			{SourceID: src.ID, StartMs: 1000, StartOffsetMs: 0, EndOffsetMs: 0},
		},
	}
	rec = doJSON(t, router, http.MethodPost, "/project/export", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /project/export = %d: %s", rec.Code, rec.Body.String())
	}
	var resp ExportResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ClipCount != 2 || resp.Title != "My Cut" {
		t.Errorf("export response = %+v", resp)
	}
	if !strings.Contains(resp.EDL, "TITLE: My Cut") ||
		!strings.Contains(resp.EDL, "* MEDIA PATH:  sim://clip") ||
		!strings.Contains(resp.EDL, "00:00:01:00") {
		t.Errorf("EDL missing expected fields:\n%s", resp.EDL)
	}

	// unknown source id
	req.Clips[0].SourceID = 999
	rec = doJSON(t, router, http.MethodPost, "/project/export", req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("export with unknown source = %d, want 404", rec.Code)
	}

	// a trim that swallows the whole source is rejected
	req.Clips[0].SourceID = src.ID
	req.Clips[0].EndOffsetMs = 5000
	rec = doJSON(t, router, http.MethodPost, "/project/export", req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("export with invalid trim = %d, want 422", rec.Code)
	}
}
