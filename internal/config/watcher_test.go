package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "server:\n  listen_addr: \":8080\"\n")

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Server.ListenAddr; got != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", got)
	}
}

func TestWatcher_InitialLoadFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "server:\n  log_level: nonsense\n")

	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("invalid initial config should fail NewWatcher")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "server:\n  log_level: info\n")

	changed := make(chan ConfigDiff, 1)
	w, err := NewWatcher(path, func(old, new *Config) {
		changed <- Diff(old, new)
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Backdate the mtime so the rewrite is guaranteed to move it.
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	writeConfigFile(t, path, "server:\n  log_level: debug\n")

	select {
	case d := <-changed:
		if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
			t.Errorf("diff = %+v, want log level change to debug", d)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("change never detected")
	}

	if got := w.Current().Server.LogLevel; got != LogDebug {
		t.Errorf("Current log level = %q, want debug", got)
	}
}

func TestWatcher_KeepsOldConfigOnInvalidWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "server:\n  log_level: info\n")

	w, err := NewWatcher(path, func(old, new *Config) {
		t.Error("onChange fired for an invalid config")
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	writeConfigFile(t, path, "server:\n  log_level: nonsense\n")

	time.Sleep(100 * time.Millisecond)

	if got := w.Current().Server.LogLevel; got != LogInfo {
		t.Errorf("Current log level = %q, want the previous valid value", got)
	}
}
