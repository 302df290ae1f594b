// Package watcher observes media source directories and reports
// newly appearing or modified media files, feeding the library's
// probe pipeline.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

// Watcher reports media file changes under watched directories.
type Watcher interface {
	Watch(ctx context.Context, path string) error
	Stop() error
	OnChange(callback func(path string, event EventType))
}

var mediaExts = map[string]bool{
	".mp4": true, ".mov": true, ".mkv": true, ".avi": true, ".webm": true,
	".mts": true, ".m2ts": true, ".mxf": true,
	".wav": true, ".mp3": true, ".flac": true, ".aac": true, ".m4a": true, ".ogg": true,
}

// IsMediaFile reports whether the path carries a recognized media
// extension.
func IsMediaFile(path string) bool {
	return mediaExts[strings.ToLower(filepath.Ext(path))]
}

// FsWatcher is the fsnotify-backed implementation.
type FsWatcher struct {
	logger *slog.Logger

	mu       sync.Mutex
	fw       *fsnotify.Watcher
	callback func(path string, event EventType)
	running  bool
	done     chan struct{}
}

func NewFsWatcher(logger *slog.Logger) *FsWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FsWatcher{logger: logger}
}

func (w *FsWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callback = callback
}

// Watch adds path to the watch set, starting the event loop on the
// first call. The loop ends when ctx is canceled or Stop is called.
func (w *FsWatcher) Watch(ctx context.Context, path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fw == nil {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		w.fw = fw
	}
	if err := w.fw.Add(path); err != nil {
		return err
	}
	w.logger.Info("watching directory", "path", path)
	if !w.running {
		w.running = true
		w.done = make(chan struct{})
		go w.loop(ctx, w.fw, w.done)
	}
	return nil
}

func (w *FsWatcher) loop(ctx context.Context, fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if !IsMediaFile(ev.Name) {
				continue
			}
			var et EventType
			switch {
			case ev.Op.Has(fsnotify.Create):
				et = EventCreate
			case ev.Op.Has(fsnotify.Write):
				et = EventModify
			case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
				et = EventDelete
			default:
				continue
			}
			w.mu.Lock()
			cb := w.callback
			w.mu.Unlock()
			if cb != nil {
				cb(ev.Name, et)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// Stop closes the underlying watcher and waits for the event loop.
func (w *FsWatcher) Stop() error {
	w.mu.Lock()
	fw := w.fw
	done := w.done
	w.fw = nil
	w.running = false
	w.mu.Unlock()

	if fw == nil {
		return nil
	}
	err := fw.Close()
	if done != nil {
		<-done
	}
	if err != nil && !errors.Is(err, fsnotify.ErrClosed) {
		return err
	}
	return nil
}
