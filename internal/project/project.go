// Package project manages the on-disk workspace: a named folder
// holding a versioned JSON manifest with the serialized timeline and
// settings. At most one project is open at a time; opening or
// creating another one saves the current project first.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrAlreadyExists = errors.New("already exists")
	ErrNotOpened     = errors.New("no project is opened")
	ErrFileInvalid   = errors.New("file invalid")
	ErrParseFailed   = errors.New("parse failed")
	ErrMkdirFailed   = errors.New("mkdir failed")
	ErrIoFailed      = errors.New("io failed")
	ErrContentInvalid = errors.New("project content invalid")
)

const (
	verMajor = 1
	verMinor = 0

	// FileExt is the project manifest extension.
	FileExt = ".mep"
)

// Version packs major/minor into the manifest's version field.
func Version() uint32 {
	return uint32(verMajor)<<24 | uint32(verMinor)<<16
}

type manifest struct {
	Version uint32          `json:"mec_proj_version"`
	Name    string          `json:"proj_name"`
	Content json.RawMessage `json:"proj_content"`
}

// Project is the open workspace. Public methods serialize on an
// internal lock; methods that need one another use the unexported
// non-locking variants.
type Project struct {
	logger *slog.Logger

	mu       sync.Mutex
	opened   bool
	name     string
	dir      string
	filePath string
	version  uint32
	content  json.RawMessage
}

func New(logger *slog.Logger) *Project {
	if logger == nil {
		logger = slog.Default()
	}
	return &Project{logger: logger}
}

// DefaultBaseDir returns the default parent directory for new
// projects.
func DefaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "MeditProject")
	}
	return filepath.Join(home, "Videos", "MeditProject")
}

// CreateNew creates the project folder <baseDir>/<name> and opens the
// new empty project. A previously opened project is saved first.
func (p *Project) CreateNew(name, baseDir string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if name == "" || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("project name %q: %w", name, ErrFileInvalid)
	}
	if p.opened {
		if err := p.save(); err != nil {
			p.logger.Error("failed to save current project before creating a new one", "name", p.name, "error", err)
			return err
		}
	}
	projDir := filepath.Join(baseDir, name)
	if _, err := os.Stat(projDir); err == nil {
		p.logger.Error("project directory already exists", "dir", projDir)
		return fmt.Errorf("project dir %q: %w", projDir, ErrAlreadyExists)
	}
	if err := os.MkdirAll(projDir, 0o755); err != nil {
		p.logger.Error("failed to create project directory", "dir", projDir, "error", err)
		return fmt.Errorf("project dir %q: %w", projDir, ErrMkdirFailed)
	}
	p.name = name
	p.dir = projDir
	p.filePath = filepath.Join(projDir, name+FileExt)
	p.version = Version()
	p.content = json.RawMessage(`{}`)
	p.opened = true
	p.logger.Info("project created", "name", name, "dir", projDir)
	return nil
}

// Load opens a project manifest. Legacy files without a version field
// are wrapped: the whole file becomes the content and the file's base
// name the project name. A previously opened project is saved first.
func (p *Project) Load(filePath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.opened {
		if err := p.save(); err != nil {
			p.logger.Error("failed to save current project before loading another", "name", p.name, "error", err)
			return err
		}
	}
	fi, err := os.Stat(filePath)
	if err != nil || fi.IsDir() {
		p.logger.Error("project path is not a file", "path", filePath)
		return fmt.Errorf("project file %q: %w", filePath, ErrFileInvalid)
	}
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read project %q: %w", filePath, ErrIoFailed)
	}

	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil || m.Version == 0 {
		// legacy layout or free-form json: the file must at least be
		// a json object
		var legacy json.RawMessage
		if err := json.Unmarshal(raw, &legacy); err != nil {
			p.logger.Error("failed to parse project json", "path", filePath, "error", err)
			return fmt.Errorf("project file %q: %w", filePath, ErrParseFailed)
		}
		p.content = legacy
		base := filepath.Base(filePath)
		p.name = strings.TrimSuffix(base, filepath.Ext(base))
		p.version = 0
	} else {
		p.version = m.Version
		p.content = m.Content
		p.name = m.Name
	}
	p.dir = filepath.Dir(filePath)
	p.filePath = filePath
	p.opened = true
	p.logger.Info("project loaded", "name", p.name, "path", filePath)
	return nil
}

// Save writes the manifest to the project file.
func (p *Project) Save() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.save()
}

func (p *Project) save() error {
	if !p.opened {
		return ErrNotOpened
	}
	if !isJSONObject(p.content) {
		return ErrContentInvalid
	}
	ver := p.version
	if ver == 0 {
		ver = Version()
	}
	raw, err := json.MarshalIndent(manifest{Version: ver, Name: p.name, Content: p.content}, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize project: %w", err)
	}
	if err := os.WriteFile(p.filePath, raw, 0o644); err != nil {
		p.logger.Error("failed to save project file", "path", p.filePath, "error", err)
		return fmt.Errorf("write project %q: %w", p.filePath, ErrIoFailed)
	}
	p.version = ver
	return nil
}

// Close closes the project, optionally saving first. A failed save
// aborts the close.
func (p *Project) Close(saveBeforeClose bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.opened {
		return nil
	}
	if saveBeforeClose {
		if err := p.save(); err != nil {
			p.logger.Error("failed to save project before closing", "name", p.name, "error", err)
			return err
		}
	}
	p.content = nil
	p.dir = ""
	p.name = ""
	p.filePath = ""
	p.version = 0
	p.opened = false
	return nil
}

func (p *Project) IsOpened() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened
}

func (p *Project) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

func (p *Project) Dir() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dir
}

func (p *Project) FilePath() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filePath
}

// ProjVersion returns the manifest version of the opened project.
func (p *Project) ProjVersion() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version
}

// Content returns the opaque project content.
func (p *Project) Content() json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.content
}

// SetContent replaces the opaque project content; it must be a JSON
// object.
func (p *Project) SetContent(content json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.opened {
		return ErrNotOpened
	}
	if !isJSONObject(content) {
		return ErrContentInvalid
	}
	p.content = append(json.RawMessage(nil), content...)
	return nil
}

func isJSONObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
