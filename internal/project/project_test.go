package project

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestProjectRoundTrip(t *testing.T) {
	base := t.TempDir()

	p := New(testLogger())
	if err := p.CreateNew("demo", base); err != nil {
		t.Fatalf("CreateNew() error: %v", err)
	}
	if err := p.SetContent(json.RawMessage(`{"a":1}`)); err != nil {
		t.Fatalf("SetContent() error: %v", err)
	}
	if err := p.Save(); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := p.Close(false); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	q := New(testLogger())
	if err := q.Load(filepath.Join(base, "demo", "demo.mep")); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := q.Name(); got != "demo" {
		t.Errorf("Name() = %q, want \"demo\"", got)
	}
	if got := q.ProjVersion(); got != uint32(1)<<24 {
		t.Errorf("ProjVersion() = %#x, want %#x", got, uint32(1)<<24)
	}

	var want, got any
	json.Unmarshal([]byte(`{"a":1}`), &want)
	json.Unmarshal(q.Content(), &got)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("content differs after round trip (-want +got):\n%s", diff)
	}
}

func TestCreateNewRejectsExistingDir(t *testing.T) {
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "taken"), 0o755); err != nil {
		t.Fatal(err)
	}

	p := New(testLogger())
	if err := p.CreateNew("taken", base); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("CreateNew() into existing dir error = %v, want ErrAlreadyExists", err)
	}
	if p.IsOpened() {
		t.Error("failed create left the project opened")
	}
}

func TestCreateNewSavesPriorProject(t *testing.T) {
	base := t.TempDir()

	p := New(testLogger())
	if err := p.CreateNew("first", base); err != nil {
		t.Fatalf("CreateNew(first) error: %v", err)
	}
	p.SetContent(json.RawMessage(`{"n":1}`))

	// creating the second project must auto-save the first
	if err := p.CreateNew("second", base); err != nil {
		t.Fatalf("CreateNew(second) error: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(base, "first", "first.mep"))
	if err != nil {
		t.Fatalf("first project was not saved: %v", err)
	}
	var m struct {
		Name string `json:"proj_name"`
	}
	if err := json.Unmarshal(raw, &m); err != nil || m.Name != "first" {
		t.Errorf("saved manifest name = %q, err %v; want \"first\"", m.Name, err)
	}
	if got := p.Name(); got != "second" {
		t.Errorf("Name() = %q, want \"second\"", got)
	}
}

func TestLoadLegacyFile(t *testing.T) {
	dir := t.TempDir()
	legacyPath := filepath.Join(dir, "oldcut.mep")
	if err := os.WriteFile(legacyPath, []byte(`{"tracks":[1,2]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	p := New(testLogger())
	if err := p.Load(legacyPath); err != nil {
		t.Fatalf("Load() of legacy file error: %v", err)
	}
	if got := p.Name(); got != "oldcut" {
		t.Errorf("legacy Name() = %q, want \"oldcut\"", got)
	}
	var content map[string]any
	if err := json.Unmarshal(p.Content(), &content); err != nil {
		t.Fatalf("legacy content not preserved: %v", err)
	}
	if _, ok := content["tracks"]; !ok {
		t.Error("legacy content lost the original fields")
	}
}

func TestLoadFailures(t *testing.T) {
	dir := t.TempDir()
	badPath := filepath.Join(dir, "bad.mep")
	os.WriteFile(badPath, []byte("{not json"), 0o644)

	p := New(testLogger())

	if err := p.Load(filepath.Join(dir, "missing.mep")); !errors.Is(err, ErrFileInvalid) {
		t.Errorf("Load(missing) error = %v, want ErrFileInvalid", err)
	}
	if err := p.Load(dir); !errors.Is(err, ErrFileInvalid) {
		t.Errorf("Load(directory) error = %v, want ErrFileInvalid", err)
	}
	if err := p.Load(badPath); !errors.Is(err, ErrParseFailed) {
		t.Errorf("Load(garbage) error = %v, want ErrParseFailed", err)
	}
	if p.IsOpened() {
		t.Error("failed load left the project opened")
	}
}

func TestSaveRequiresOpenedObjectContent(t *testing.T) {
	p := New(testLogger())
	if err := p.Save(); !errors.Is(err, ErrNotOpened) {
		t.Errorf("Save() while closed error = %v, want ErrNotOpened", err)
	}

	base := t.TempDir()
	if err := p.CreateNew("x", base); err != nil {
		t.Fatal(err)
	}
	if err := p.SetContent(json.RawMessage(`[1,2]`)); !errors.Is(err, ErrContentInvalid) {
		t.Errorf("SetContent(array) error = %v, want ErrContentInvalid", err)
	}
}

func TestCloseAbortsOnFailedSave(t *testing.T) {
	base := t.TempDir()
	p := New(testLogger())
	if err := p.CreateNew("doomed", base); err != nil {
		t.Fatal(err)
	}
	// make the manifest unwritable by removing the project dir
	os.RemoveAll(filepath.Join(base, "doomed"))

	if err := p.Close(true); err == nil {
		t.Fatal("Close(save) with unwritable manifest succeeded")
	}
	if !p.IsOpened() {
		t.Error("failed close still closed the project")
	}

	// closing without saving always works
	if err := p.Close(false); err != nil {
		t.Errorf("Close(false) error: %v", err)
	}
	if p.IsOpened() {
		t.Error("project still opened after close")
	}
}
