package config

import (
	"os"
	"testing"
)

func TestDefaults(t *testing.T) {
	os.Unsetenv(EnvPort)
	os.Unsetenv(EnvLogLevel)
	os.Unsetenv(EnvSnapshotCount)
	os.Unsetenv(EnvPreferHw)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("default Port = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.LogLevel() != DefaultLogLevel {
		t.Errorf("default LogLevel = %q, want %q", cfg.LogLevel(), DefaultLogLevel)
	}
	if cfg.SnapshotCount() != DefaultSnapshotCount {
		t.Errorf("default SnapshotCount = %d, want %d", cfg.SnapshotCount(), DefaultSnapshotCount)
	}
	if !cfg.PreferHwDecoder() {
		t.Error("default PreferHwDecoder = false, want true")
	}
}

func TestPort_FromEnv(t *testing.T) {
	os.Setenv(EnvPort, "9000")
	defer os.Unsetenv(EnvPort)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port())
	}
}

func TestPort_Invalid(t *testing.T) {
	tests := []string{"abc", "0", "70000"}
	for _, v := range tests {
		os.Setenv(EnvPort, v)
		if _, err := New(); err == nil {
			t.Errorf("New() with %s=%q succeeded, want error", EnvPort, v)
		}
	}
	os.Unsetenv(EnvPort)
}

func TestWatchDirs_FromEnv(t *testing.T) {
	os.Setenv(EnvWatchDirs, "/media/a"+string(os.PathListSeparator)+"/media/b")
	defer os.Unsetenv(EnvWatchDirs)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dirs := cfg.WatchDirs()
	if len(dirs) != 2 || dirs[0] != "/media/a" || dirs[1] != "/media/b" {
		t.Errorf("WatchDirs = %v, want [/media/a /media/b]", dirs)
	}
}

func TestPreferHw_FromEnv(t *testing.T) {
	os.Setenv(EnvPreferHw, "false")
	defer os.Unsetenv(EnvPreferHw)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PreferHwDecoder() {
		t.Error("PreferHwDecoder = true, want false")
	}

	os.Setenv(EnvPreferHw, "maybe")
	if _, err := New(); err == nil {
		t.Error("New() with invalid MEDIT_PREFER_HW succeeded, want error")
	}
}

func TestSnapshotCount_Invalid(t *testing.T) {
	os.Setenv(EnvSnapshotCount, "0")
	defer os.Unsetenv(EnvSnapshotCount)

	if _, err := New(); err == nil {
		t.Error("New() with MEDIT_SNAPSHOT_COUNT=0 succeeded, want error")
	}
}
