package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestIsMediaFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/media/clip.mp4", true},
		{"/media/CLIP.MOV", true},
		{"/media/song.flac", true},
		{"/media/notes.txt", false},
		{"/media/clip.mp4.part", false},
		{"noext", false},
	}

	for _, tt := range tests {
		if got := IsMediaFile(tt.path); got != tt.want {
			t.Errorf("IsMediaFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestFsWatcherReportsNewMedia(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))

	w := NewFsWatcher(logger)
	defer w.Stop()

	var mu sync.Mutex
	var seen []string
	w.OnChange(func(path string, event EventType) {
		if event == EventCreate || event == EventModify {
			mu.Lock()
			seen = append(seen, filepath.Base(path))
			mu.Unlock()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Watch(ctx, dir); err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "new.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("no media event observed")
	}
	for _, name := range seen {
		if name != "new.mp4" {
			t.Errorf("unexpected event for %q", name)
		}
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
