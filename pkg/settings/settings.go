// Package settings manages persistent user settings for the netpush CLI.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults used when a setting is not configured.
const (
	DefaultConcurrency   = 5
	DefaultMaxIdle       = 3
	DefaultTimeout       = 10 * time.Second
	DefaultRetryAttempts = 3
	DefaultRetryInterval = time.Second
	DefaultBackupBackend = "file"
	DefaultRedisAddr     = "127.0.0.1:6379"
)

// Settings holds persistent user preferences. Secrets are only ever read
// from the environment and are never written back.
type Settings struct {
	// Username is the switch login used when the inventory has none.
	Username string `json:"username,omitempty"`

	// InventoryFile is the default device inventory for deploy.
	InventoryFile string `json:"inventory_file,omitempty"`

	Concurrency     int    `json:"concurrency,omitempty"`
	MaxIdleSessions int    `json:"max_idle_sessions,omitempty"`
	Timeout         string `json:"timeout,omitempty"`
	RetryAttempts   int    `json:"retry_attempts,omitempty"`
	RetryInterval   string `json:"retry_interval,omitempty"`

	// BackupBackend is "file" or "sqlite"; BackupLocation is the directory
	// or database path.
	BackupBackend  string `json:"backup_backend,omitempty"`
	BackupLocation string `json:"backup_location,omitempty"`

	AuditLog       string `json:"audit_log,omitempty"`
	KnownHostsFile string `json:"known_hosts_file,omitempty"`
	RedisAddr      string `json:"redis_addr,omitempty"`
	RedisDB        int    `json:"redis_db,omitempty"`
	ParserURL      string `json:"parser_url,omitempty"`

	// SaveConfig writes each committed change to the device's startup
	// configuration.
	SaveConfig bool `json:"save_config,omitempty"`

	Password    string `json:"-"`
	Secret      string `json:"-"`
	ParserToken string `json:"-"`
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "netpush_settings.json"
	}
	return filepath.Join(home, ".netpush", "settings.json")
}

// dataDir is where backups and the audit log go by default.
func dataDir() string {
	return filepath.Dir(DefaultSettingsPath())
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty settings if file doesn't exist
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// LoadDotEnv loads a .env file from the working directory if one exists.
// Variables already set in the environment win.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

// ApplyEnv overrides settings from NETPUSH_* environment variables.
func (s *Settings) ApplyEnv() error {
	strs := map[string]*string{
		"NETPUSH_USERNAME":        &s.Username,
		"NETPUSH_PASSWORD":        &s.Password,
		"NETPUSH_SECRET":          &s.Secret,
		"NETPUSH_INVENTORY":       &s.InventoryFile,
		"NETPUSH_TIMEOUT":         &s.Timeout,
		"NETPUSH_RETRY_INTERVAL":  &s.RetryInterval,
		"NETPUSH_BACKUP_BACKEND":  &s.BackupBackend,
		"NETPUSH_BACKUP_LOCATION": &s.BackupLocation,
		"NETPUSH_AUDIT_LOG":       &s.AuditLog,
		"NETPUSH_KNOWN_HOSTS":     &s.KnownHostsFile,
		"NETPUSH_REDIS_ADDR":      &s.RedisAddr,
		"NETPUSH_PARSER_URL":      &s.ParserURL,
		"NETPUSH_PARSER_TOKEN":    &s.ParserToken,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"NETPUSH_CONCURRENCY":    &s.Concurrency,
		"NETPUSH_MAX_IDLE":       &s.MaxIdleSessions,
		"NETPUSH_RETRY_ATTEMPTS": &s.RetryAttempts,
		"NETPUSH_REDIS_DB":       &s.RedisDB,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %q is not a number", key, v)
		}
		*dst = n
	}

	if v := os.Getenv("NETPUSH_SAVE_CONFIG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("NETPUSH_SAVE_CONFIG: %q is not a boolean", v)
		}
		s.SaveConfig = b
	}
	return nil
}

// Resolve loads the settings file at path (the default when empty), then
// .env, then applies environment overrides.
func Resolve(path string) (*Settings, error) {
	if path == "" {
		path = DefaultSettingsPath()
	}
	s, err := LoadFrom(path)
	if err != nil {
		return nil, err
	}
	if err := LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := s.ApplyEnv(); err != nil {
		return nil, err
	}
	return s, nil
}

// Set assigns a persisted setting by its JSON name.
func (s *Settings) Set(key, value string) error {
	atoi := func(dst *int) error {
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%s: %q is not a non-negative number", key, value)
		}
		*dst = n
		return nil
	}
	duration := func(dst *string) error {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: %v", key, err)
		}
		*dst = value
		return nil
	}

	switch key {
	case "username":
		s.Username = value
	case "inventory_file":
		s.InventoryFile = value
	case "concurrency":
		return atoi(&s.Concurrency)
	case "max_idle_sessions":
		return atoi(&s.MaxIdleSessions)
	case "timeout":
		return duration(&s.Timeout)
	case "retry_attempts":
		return atoi(&s.RetryAttempts)
	case "retry_interval":
		return duration(&s.RetryInterval)
	case "backup_backend":
		if value != "file" && value != "sqlite" {
			return fmt.Errorf("backup_backend must be file or sqlite, got %q", value)
		}
		s.BackupBackend = value
	case "backup_location":
		s.BackupLocation = value
	case "audit_log":
		s.AuditLog = value
	case "known_hosts_file":
		s.KnownHostsFile = value
	case "redis_addr":
		s.RedisAddr = value
	case "redis_db":
		return atoi(&s.RedisDB)
	case "parser_url":
		s.ParserURL = value
	case "save_config":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("save_config must be true or false, got %q", value)
		}
		s.SaveConfig = b
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

// Keys lists the names accepted by Set.
func Keys() []string {
	return []string{
		"username", "inventory_file", "concurrency", "max_idle_sessions", "timeout",
		"retry_attempts", "retry_interval", "backup_backend", "backup_location",
		"audit_log", "known_hosts_file", "redis_addr", "redis_db", "parser_url",
		"save_config",
	}
}

// GetConcurrency returns the admission gate size (with fallback)
func (s *Settings) GetConcurrency() int {
	if s.Concurrency > 0 {
		return s.Concurrency
	}
	return DefaultConcurrency
}

// GetMaxIdle returns the idle sessions kept per device (with fallback)
func (s *Settings) GetMaxIdle() int {
	if s.MaxIdleSessions > 0 {
		return s.MaxIdleSessions
	}
	return DefaultMaxIdle
}

// GetTimeout returns the per-operation timeout (with fallback)
func (s *Settings) GetTimeout() time.Duration {
	return parseDuration(s.Timeout, DefaultTimeout)
}

// GetRetryAttempts returns the attempt ceiling per device (with fallback)
func (s *Settings) GetRetryAttempts() int {
	if s.RetryAttempts > 0 {
		return s.RetryAttempts
	}
	return DefaultRetryAttempts
}

// GetRetryInterval returns the first backoff interval (with fallback)
func (s *Settings) GetRetryInterval() time.Duration {
	return parseDuration(s.RetryInterval, DefaultRetryInterval)
}

// GetBackupBackend returns the backup store kind (with fallback)
func (s *Settings) GetBackupBackend() string {
	if s.BackupBackend != "" {
		return s.BackupBackend
	}
	return DefaultBackupBackend
}

// GetBackupLocation returns the backup directory or database (with fallback)
func (s *Settings) GetBackupLocation() string {
	if s.BackupLocation != "" {
		return s.BackupLocation
	}
	if s.GetBackupBackend() == "sqlite" {
		return filepath.Join(dataDir(), "backups.db")
	}
	return filepath.Join(dataDir(), "backups")
}

// GetAuditLog returns the audit log path (with fallback)
func (s *Settings) GetAuditLog() string {
	if s.AuditLog != "" {
		return s.AuditLog
	}
	return filepath.Join(dataDir(), "audit.log")
}

// GetRedisAddr returns the job store address (with fallback)
func (s *Settings) GetRedisAddr() string {
	if s.RedisAddr != "" {
		return s.RedisAddr
	}
	return DefaultRedisAddr
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}

func parseDuration(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
