package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSettings_Defaults(t *testing.T) {
	t.Setenv("HOME", "/home/ops")
	s := &Settings{}

	if got := s.GetConcurrency(); got != DefaultConcurrency {
		t.Errorf("GetConcurrency() = %d, want %d", got, DefaultConcurrency)
	}
	if got := s.GetMaxIdle(); got != 3 {
		t.Errorf("GetMaxIdle() = %d, want 3", got)
	}
	if got := s.GetTimeout(); got != 10*time.Second {
		t.Errorf("GetTimeout() = %v, want 10s", got)
	}
	if got := s.GetRetryAttempts(); got != 3 {
		t.Errorf("GetRetryAttempts() = %d, want 3", got)
	}
	if got := s.GetBackupBackend(); got != "file" {
		t.Errorf("GetBackupBackend() = %q, want file", got)
	}
	if got, want := s.GetBackupLocation(), "/home/ops/.netpush/backups"; got != want {
		t.Errorf("GetBackupLocation() = %q, want %q", got, want)
	}
	if got, want := s.GetAuditLog(), "/home/ops/.netpush/audit.log"; got != want {
		t.Errorf("GetAuditLog() = %q, want %q", got, want)
	}

	s.BackupBackend = "sqlite"
	if got, want := s.GetBackupLocation(), "/home/ops/.netpush/backups.db"; got != want {
		t.Errorf("GetBackupLocation() for sqlite = %q, want %q", got, want)
	}

	s.Timeout = "not-a-duration"
	if got := s.GetTimeout(); got != DefaultTimeout {
		t.Errorf("GetTimeout() with bad value = %v, want default", got)
	}
}

func TestSettings_Set(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    bool
	}{
		{"username", "netops", false},
		{"concurrency", "8", false},
		{"concurrency", "many", true},
		{"concurrency", "-1", true},
		{"timeout", "30s", false},
		{"timeout", "30", true},
		{"retry_interval", "250ms", false},
		{"backup_backend", "sqlite", false},
		{"backup_backend", "s3", true},
		{"redis_db", "2", false},
		{"save_config", "true", false},
		{"save_config", "sometimes", true},
		{"password", "hunter2", true},
		{"bogus", "x", true},
	}
	for _, tt := range tests {
		s := &Settings{}
		err := s.Set(tt.key, tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("Set(%q, %q) error = %v, wantErr %v", tt.key, tt.value, err, tt.wantErr)
		}
	}

	s := &Settings{}
	s.Set("concurrency", "8")
	s.Set("timeout", "30s")
	if s.GetConcurrency() != 8 || s.GetTimeout() != 30*time.Second {
		t.Errorf("after Set: concurrency %d timeout %v", s.GetConcurrency(), s.GetTimeout())
	}
	for _, k := range Keys() {
		if err := (&Settings{}).Set(k, "1s"); err != nil && strings.Contains(err.Error(), "unknown setting") {
			t.Errorf("Keys() lists %q but Set rejects it", k)
		}
	}
}

func TestSettings_Clear(t *testing.T) {
	s := &Settings{Username: "u", Concurrency: 9, ParserURL: "http://x"}
	s.Clear()
	if s.Username != "" || s.Concurrency != 0 || s.ParserURL != "" {
		t.Error("Clear() should reset all fields to empty")
	}
}

func TestSettings_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	original := &Settings{
		Username:       "netops",
		Concurrency:    7,
		Timeout:        "5s",
		BackupBackend:  "sqlite",
		BackupLocation: "/var/lib/netpush/backups.db",
		Password:       "hunter2",
		ParserToken:    "tok",
	}
	if err := original.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() failed: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}
	if loaded.Username != "netops" || loaded.Concurrency != 7 || loaded.GetTimeout() != 5*time.Second {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.BackupLocation != original.BackupLocation {
		t.Errorf("BackupLocation = %q, want %q", loaded.BackupLocation, original.BackupLocation)
	}
	if loaded.Password != "" || loaded.ParserToken != "" {
		t.Error("secrets must not be persisted")
	}

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "hunter2") {
		t.Errorf("settings file contains the password:\n%s", data)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file mode = %o, want 600", perm)
	}
}

func TestSettings_LoadNonExistent(t *testing.T) {
	s, err := LoadFrom("/nonexistent/path/settings.json")
	if err != nil {
		t.Fatalf("LoadFrom() non-existent should not error: %v", err)
	}
	if s == nil || s.Username != "" {
		t.Error("LoadFrom() non-existent should return empty settings")
	}
}

func TestSettings_LoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("invalid json {"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Error("LoadFrom() with invalid JSON should error")
	}
}

func TestSettings_ApplyEnv(t *testing.T) {
	t.Setenv("NETPUSH_USERNAME", "envuser")
	t.Setenv("NETPUSH_PASSWORD", "envpass")
	t.Setenv("NETPUSH_CONCURRENCY", "12")
	t.Setenv("NETPUSH_PARSER_TOKEN", "tok")

	s := &Settings{Username: "fileuser", Concurrency: 2, Timeout: "3s"}
	if err := s.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if s.Username != "envuser" {
		t.Errorf("Username = %q, want envuser", s.Username)
	}
	if s.Password != "envpass" || s.ParserToken != "tok" {
		t.Errorf("secrets = %q/%q", s.Password, s.ParserToken)
	}
	if s.Concurrency != 12 {
		t.Errorf("Concurrency = %d, want 12", s.Concurrency)
	}
	if s.Timeout != "3s" {
		t.Errorf("Timeout = %q, want unchanged 3s", s.Timeout)
	}

	t.Setenv("NETPUSH_CONCURRENCY", "lots")
	if err := s.ApplyEnv(); err == nil {
		t.Error("ApplyEnv() should reject a non-numeric NETPUSH_CONCURRENCY")
	}
}

func TestSettings_SaveConfigEnv(t *testing.T) {
	t.Setenv("NETPUSH_SAVE_CONFIG", "true")
	s := &Settings{}
	if err := s.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if !s.SaveConfig {
		t.Error("SaveConfig = false, want true from NETPUSH_SAVE_CONFIG")
	}

	t.Setenv("NETPUSH_SAVE_CONFIG", "maybe")
	if err := s.ApplyEnv(); err == nil {
		t.Error("ApplyEnv() should reject a non-boolean NETPUSH_SAVE_CONFIG")
	}
}

func TestResolve_DotEnv(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	if err := os.WriteFile(".env", []byte("NETPUSH_PARSER_URL=http://parser.local/v1/parse\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NETPUSH_PARSER_URL", "")
	os.Unsetenv("NETPUSH_PARSER_URL")

	path := filepath.Join(dir, "settings.json")
	data, _ := json.Marshal(map[string]any{"username": "fileuser"})
	os.WriteFile(path, data, 0600)

	s, err := Resolve(path)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.Username != "fileuser" {
		t.Errorf("Username = %q, want fileuser", s.Username)
	}
	if s.ParserURL != "http://parser.local/v1/parse" {
		t.Errorf("ParserURL = %q, want value from .env", s.ParserURL)
	}
}

func TestSettings_SaveCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "nested", "settings.json")

	s := &Settings{Username: "test"}
	if err := s.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() should create directories: %v", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("SaveTo() should have created the file")
	}
}

func TestLoadSave_DefaultPath(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	s, err := Load()
	if err != nil {
		t.Fatalf("Load() with non-existent file should not error: %v", err)
	}
	if s.Username != "" {
		t.Error("Load() with non-existent file should return empty settings")
	}

	s.Username = "saved-user"
	if err := s.Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	expectedPath := filepath.Join(tmpDir, ".netpush", "settings.json")
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Fatalf("Save() did not create file at %s", expectedPath)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() after Save() failed: %v", err)
	}
	if loaded.Username != "saved-user" {
		t.Errorf("After Save(), Username = %q, want %q", loaded.Username, "saved-user")
	}
}

func TestDefaultSettingsPath_NoHome(t *testing.T) {
	t.Setenv("HOME", "")
	os.Unsetenv("HOME")

	path := DefaultSettingsPath()
	if path != "netpush_settings.json" {
		t.Errorf("DefaultSettingsPath() with no HOME = %q, want %q", path, "netpush_settings.json")
	}
}

func TestLoadFrom_ReadError(t *testing.T) {
	dirAsFile := filepath.Join(t.TempDir(), "settings.json")
	if err := os.Mkdir(dirAsFile, 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if _, err := LoadFrom(dirAsFile); err == nil {
		t.Error("LoadFrom() should error when path is a directory")
	}
}

func TestSaveTo_MkdirError(t *testing.T) {
	blockingFile := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blockingFile, []byte("blocking"), 0644); err != nil {
		t.Fatalf("Failed to create blocking file: %v", err)
	}

	s := &Settings{Username: "test"}
	if err := s.SaveTo(filepath.Join(blockingFile, "subdir", "settings.json")); err == nil {
		t.Error("SaveTo() should fail when directory creation fails")
	}
}
