// Package config provides configuration for the editing engine
// daemon. Configuration is loaded from environment variables with
// sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// Default values
	DefaultPort          = 8470
	DefaultLogLevel      = "info"
	DefaultDataDir       = ".medit"
	DefaultSnapshotCount = 24

	// Environment variable names
	EnvPort           = "MEDIT_PORT"
	EnvLogLevel       = "MEDIT_LOG_LEVEL"
	EnvDataDir        = "MEDIT_DATA_DIR"
	EnvWatchDirs      = "MEDIT_WATCH_DIRS"
	EnvProjectBaseDir = "MEDIT_PROJECT_BASE_DIR"
	EnvSnapshotCount  = "MEDIT_SNAPSHOT_COUNT"
	EnvPreferHw       = "MEDIT_PREFER_HW"

	// Database filename
	DBFilename = "library.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	WatchDirs() []string
	ProjectBaseDir() string
	SnapshotCount() int
	PreferHwDecoder() bool
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port           int
	logLevel       string
	dataDir        string
	watchDirs      []string
	projectBaseDir string
	snapshotCount  int
	preferHw       bool
}

// New creates a new EnvConfig with defaults and environment variable
// overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:          DefaultPort,
		logLevel:      DefaultLogLevel,
		dataDir:       defaultDataDir(),
		snapshotCount: DefaultSnapshotCount,
		preferHw:      true,
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if wd := os.Getenv(EnvWatchDirs); wd != "" {
		for _, dir := range strings.Split(wd, string(os.PathListSeparator)) {
			if dir != "" {
				cfg.watchDirs = append(cfg.watchDirs, dir)
			}
		}
	}

	cfg.projectBaseDir = os.Getenv(EnvProjectBaseDir)

	if sc := os.Getenv(EnvSnapshotCount); sc != "" {
		count, err := strconv.Atoi(sc)
		if err != nil || count < 1 {
			return nil, fmt.Errorf("invalid %s: must be a positive integer", EnvSnapshotCount)
		}
		cfg.snapshotCount = count
	}

	if hw := os.Getenv(EnvPreferHw); hw != "" {
		prefer, err := strconv.ParseBool(hw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPreferHw, err)
		}
		cfg.preferHw = prefer
	}

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the library database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// WatchDirs returns the media directories observed for new files
func (c *EnvConfig) WatchDirs() []string {
	return c.watchDirs
}

// ProjectBaseDir returns the parent directory for new projects; empty
// means the per-user default
func (c *EnvConfig) ProjectBaseDir() string {
	return c.projectBaseDir
}

// SnapshotCount returns the number of overview thumbnails per source
func (c *EnvConfig) SnapshotCount() int {
	return c.snapshotCount
}

// PreferHwDecoder reports whether hardware decoding is attempted
// first
func (c *EnvConfig) PreferHwDecoder() bool {
	return c.preferHw
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
