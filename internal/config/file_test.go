package config

import (
	"os"
	"path/filepath"
	"testing"
)

func readString(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestAtomicWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.txt")
	if err := AtomicWrite(path, []byte("hello"), 0600); err != nil {
		t.Fatalf("AtomicWrite failed: %v", err)
	}
	if got := readString(t, path); got != "hello" {
		t.Errorf("content mismatch: got %q", got)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("perm mismatch: got %v", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp file left behind: %d entries", len(entries))
	}
}

func TestCreateBackupRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatgate.json")
	for _, content := range []string{"one", "two", "three", "four"} {
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
		if err := createBackup(path, DefaultBackupCount); err != nil {
			t.Fatalf("createBackup failed: %v", err)
		}
	}

	want := map[string]string{
		path + ".bak":   "four",
		path + ".bak.1": "three",
		path + ".bak.2": "two",
	}
	for p, content := range want {
		if got := readString(t, p); got != content {
			t.Errorf("%s mismatch: got %q, want %q", filepath.Base(p), got, content)
		}
	}
	if _, err := os.Stat(path + ".bak.3"); !os.IsNotExist(err) {
		t.Errorf("expected no .bak.3, got err=%v", err)
	}
}

func TestRotateBackupsSingleKeepsBak(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatgate.json")
	if err := os.WriteFile(path+".bak", []byte("old"), 0600); err != nil {
		t.Fatal(err)
	}
	rotateBackups(path, 1)
	if got := readString(t, path+".bak"); got != "old" {
		t.Errorf(".bak should be untouched, got %q", got)
	}
	if _, err := os.Stat(path + ".bak.1"); !os.IsNotExist(err) {
		t.Errorf("expected no .bak.1, got err=%v", err)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatgate.json")
	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}
	first := readString(t, path)

	if err := WriteDefault(path, false); err == nil {
		t.Error("expected error when the file exists without force")
	}

	if err := WriteDefault(path, true); err != nil {
		t.Fatalf("forced WriteDefault failed: %v", err)
	}
	if got := readString(t, path + ".bak"); got != first {
		t.Error("forced write should back up the previous file")
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load of written default failed: %v", err)
	}
	if cfg.Pipeline.AttemptTimeoutSeconds != 120 || cfg.Storage.Driver != "sqlite" {
		t.Errorf("loaded defaults mismatch: %+v", cfg.Pipeline)
	}
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"json", "chatgate.json", `{"storage": {"driver": "memory"}, "pipeline": {"attemptTimeoutSeconds": 30}}`},
		{"toml", "chatgate.toml", "[storage]\ndriver = \"memory\"\n\n[pipeline]\nattemptTimeoutSeconds = 30\n"},
		{"yaml", "chatgate.yaml", "storage:\n  driver: memory\npipeline:\n  attemptTimeoutSeconds: 30\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Storage.Driver != "memory" || cfg.Pipeline.AttemptTimeoutSeconds != 30 {
				t.Errorf("values mismatch: driver=%q timeout=%d", cfg.Storage.Driver, cfg.Pipeline.AttemptTimeoutSeconds)
			}
			// unset values come from Default
			if cfg.Pipeline.SelectorTimeoutSeconds != 20 {
				t.Errorf("default not merged: %d", cfg.Pipeline.SelectorTimeoutSeconds)
			}
		})
	}
}

func TestLoadRejectsBadDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatgate.json")
	if err := os.WriteFile(path, []byte(`{"storage": {"driver": "postgres"}}`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected validation error")
	}
}
