package syncconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// AutoSyncConfig holds auto-sync settings.
type AutoSyncConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`  // nil = default false
	Interval string `json:"interval,omitempty"` // duration string, default "5m"
}

// SyncConfig holds sync-related settings.
type SyncConfig struct {
	URL               string         `json:"url"`
	ConflictPolicy    string         `json:"conflict_policy,omitempty"`    // "manual" or "auto"
	UploadConcurrency *int           `json:"upload_concurrency,omitempty"` // nil = default 3
	PhotoTimeout      string         `json:"photo_timeout,omitempty"`      // duration string, default "5m"
	MaxRetries        *int           `json:"max_retries,omitempty"`        // nil = default 5
	Auto              AutoSyncConfig `json:"auto"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `json:"level,omitempty"`  // debug, info, warn, error
	Format string `json:"format,omitempty"` // text or json
	File   string `json:"file,omitempty"`
}

// Config is the global roofsync config stored at ~/.config/roofsync/config.json.
type Config struct {
	DataDir string     `json:"data_dir,omitempty"`
	Sync    SyncConfig `json:"sync"`
	Log     LogConfig  `json:"log"`
}

// AuthCredentials stores authentication state at ~/.config/roofsync/auth.json.
type AuthCredentials struct {
	APIKey    string `json:"api_key"`
	UserID    string `json:"user_id,omitempty"`
	Email     string `json:"email,omitempty"`
	ServerURL string `json:"server_url,omitempty"`
	DeviceID  string `json:"device_id"`
}

const (
	defaultServerURL         = "http://localhost:8080"
	defaultAutoInterval      = 5 * time.Minute
	defaultUploadConcurrency = 3
	defaultPhotoTimeout      = 5 * time.Minute
	defaultMaxRetries        = 5
	defaultPolicy            = "manual"
)

// ErrUnknownKey is returned by SetValue for keys config set does not know.
var ErrUnknownKey = errors.New("unknown config key")

// LoadDotEnv loads a .env file from the working directory, if present.
// Variables already set in the environment win.
func LoadDotEnv() error {
	err := godotenv.Load()
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ConfigDir returns ~/.config/roofsync, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "roofsync")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// LoadConfig reads the global config from ~/.config/roofsync/config.json.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config.json: %w", err)
	}
	return &cfg, nil
}

// SaveConfig writes the global config to ~/.config/roofsync/config.json.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// LoadAuth reads auth credentials from ~/.config/roofsync/auth.json.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// SaveAuth writes auth credentials to ~/.config/roofsync/auth.json (0600 perms).
func SaveAuth(creds *AuthCredentials) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "auth.json"), data, 0600)
}

// ClearAuth removes the auth.json file.
func ClearAuth() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, "auth.json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// loadOrEmpty returns the config, or an empty one when it cannot be read.
func loadOrEmpty() *Config {
	cfg, err := LoadConfig()
	if err != nil {
		return &Config{}
	}
	return cfg
}

// GetServerURL returns the sync server URL.
// Priority: ROOFSYNC_URL env > config.json > auth.json > default.
func GetServerURL() string {
	if v := os.Getenv("ROOFSYNC_URL"); v != "" {
		return v
	}
	if cfg := loadOrEmpty(); cfg.Sync.URL != "" {
		return cfg.Sync.URL
	}
	if creds, err := LoadAuth(); err == nil && creds != nil && creds.ServerURL != "" {
		return creds.ServerURL
	}
	return defaultServerURL
}

// GetAPIKey returns the API key.
// Priority: ROOFSYNC_AUTH_KEY env > auth.json.
func GetAPIKey() string {
	if v := os.Getenv("ROOFSYNC_AUTH_KEY"); v != "" {
		return v
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil {
		return creds.APIKey
	}
	return ""
}

// IsAuthenticated returns true if an API key is available.
func IsAuthenticated() bool {
	return GetAPIKey() != ""
}

// GetDataDir returns the directory holding the local store.
// Priority: ROOFSYNC_DATA_DIR env > config.json > ~/.local/share/roofsync.
func GetDataDir() (string, error) {
	if v := os.Getenv("ROOFSYNC_DATA_DIR"); v != "" {
		return v, nil
	}
	if cfg := loadOrEmpty(); cfg.DataDir != "" {
		return cfg.DataDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "roofsync"), nil
}

// GetDeviceID returns the persisted device ID, generating and saving one
// on first use.
func GetDeviceID() (string, error) {
	creds, err := LoadAuth()
	if err != nil {
		return "", err
	}
	if creds != nil && creds.DeviceID != "" {
		return creds.DeviceID, nil
	}
	if creds == nil {
		creds = &AuthCredentials{}
	}
	creds.DeviceID = GenerateDeviceID()
	if err := SaveAuth(creds); err != nil {
		return "", fmt.Errorf("save device id: %w", err)
	}
	return creds.DeviceID, nil
}

// GenerateDeviceID creates a new random device ID.
func GenerateDeviceID() string {
	return uuid.NewString()
}

// parseBoolEnv returns nil if env not set, pointer to bool if set.
func parseBoolEnv(envKey string) *bool {
	v := os.Getenv(envKey)
	if v == "" {
		return nil
	}
	v = strings.ToLower(v)
	if v == "1" || v == "true" {
		b := true
		return &b
	}
	if v == "0" || v == "false" {
		b := false
		return &b
	}
	return nil
}

func durationSetting(envKey, configured string, def time.Duration) time.Duration {
	if v := os.Getenv(envKey); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	if configured != "" {
		if d, err := time.ParseDuration(configured); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func intSetting(envKey string, configured *int, def int) int {
	if v := os.Getenv(envKey); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	if configured != nil && *configured > 0 {
		return *configured
	}
	return def
}

// GetAutoSyncEnabled returns whether sync --watch style background sync is on.
// Priority: ROOFSYNC_AUTO env > config.json sync.auto.enabled > false
func GetAutoSyncEnabled() bool {
	if v := parseBoolEnv("ROOFSYNC_AUTO"); v != nil {
		return *v
	}
	if cfg := loadOrEmpty(); cfg.Sync.Auto.Enabled != nil {
		return *cfg.Sync.Auto.Enabled
	}
	return false
}

// GetAutoSyncInterval returns the periodic sync interval.
// Priority: ROOFSYNC_AUTO_INTERVAL env > config.json sync.auto.interval > 5m
func GetAutoSyncInterval() time.Duration {
	return durationSetting("ROOFSYNC_AUTO_INTERVAL", loadOrEmpty().Sync.Auto.Interval, defaultAutoInterval)
}

// GetUploadConcurrency returns how many photo binaries upload at once.
// Priority: ROOFSYNC_UPLOAD_CONCURRENCY env > config.json > 3
func GetUploadConcurrency() int {
	return intSetting("ROOFSYNC_UPLOAD_CONCURRENCY", loadOrEmpty().Sync.UploadConcurrency, defaultUploadConcurrency)
}

// GetPhotoTimeout returns the per-photo upload timeout.
// Priority: ROOFSYNC_PHOTO_TIMEOUT env > config.json > 5m
func GetPhotoTimeout() time.Duration {
	return durationSetting("ROOFSYNC_PHOTO_TIMEOUT", loadOrEmpty().Sync.PhotoTimeout, defaultPhotoTimeout)
}

// GetMaxRetries returns the queue retry ceiling.
// Priority: ROOFSYNC_MAX_RETRIES env > config.json > 5
func GetMaxRetries() int {
	return intSetting("ROOFSYNC_MAX_RETRIES", loadOrEmpty().Sync.MaxRetries, defaultMaxRetries)
}

// GetConflictPolicy returns "manual" or "auto".
// Priority: ROOFSYNC_CONFLICT_POLICY env > config.json > manual
func GetConflictPolicy() string {
	valid := func(s string) bool { return s == "manual" || s == "auto" }
	if v := strings.ToLower(os.Getenv("ROOFSYNC_CONFLICT_POLICY")); valid(v) {
		return v
	}
	if v := strings.ToLower(loadOrEmpty().Sync.ConflictPolicy); valid(v) {
		return v
	}
	return defaultPolicy
}

// GetLogLevel returns the configured log level name.
// Priority: ROOFSYNC_LOG_LEVEL env > config.json > info
func GetLogLevel() string {
	if v := os.Getenv("ROOFSYNC_LOG_LEVEL"); v != "" {
		return strings.ToLower(v)
	}
	if v := loadOrEmpty().Log.Level; v != "" {
		return strings.ToLower(v)
	}
	return "info"
}

// GetLogFormat returns "text" or "json".
// Priority: ROOFSYNC_LOG_FORMAT env > config.json > text
func GetLogFormat() string {
	if v := strings.ToLower(os.Getenv("ROOFSYNC_LOG_FORMAT")); v == "json" || v == "text" {
		return v
	}
	if v := strings.ToLower(loadOrEmpty().Log.Format); v == "json" || v == "text" {
		return v
	}
	return "text"
}

// GetLogFile returns the log file path; empty means the data directory default.
func GetLogFile() string {
	if v := os.Getenv("ROOFSYNC_LOG_FILE"); v != "" {
		return v
	}
	return loadOrEmpty().Log.File
}

// settable maps the keys accepted by `config set` to their setters.
var settable = map[string]func(cfg *Config, v string) error{
	"data_dir": func(cfg *Config, v string) error { cfg.DataDir = v; return nil },
	"sync.url": func(cfg *Config, v string) error { cfg.Sync.URL = v; return nil },
	"sync.conflict_policy": func(cfg *Config, v string) error {
		if v != "manual" && v != "auto" {
			return fmt.Errorf("conflict_policy must be manual or auto, got %q", v)
		}
		cfg.Sync.ConflictPolicy = v
		return nil
	},
	"sync.upload_concurrency": func(cfg *Config, v string) error { return setPositiveInt(&cfg.Sync.UploadConcurrency, v) },
	"sync.max_retries":        func(cfg *Config, v string) error { return setPositiveInt(&cfg.Sync.MaxRetries, v) },
	"sync.photo_timeout":      func(cfg *Config, v string) error { return setDuration(&cfg.Sync.PhotoTimeout, v) },
	"sync.auto.interval":      func(cfg *Config, v string) error { return setDuration(&cfg.Sync.Auto.Interval, v) },
	"sync.auto.enabled": func(cfg *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("enabled must be true or false: %w", err)
		}
		cfg.Sync.Auto.Enabled = &b
		return nil
	},
	"log.level":  func(cfg *Config, v string) error { cfg.Log.Level = v; return nil },
	"log.format": func(cfg *Config, v string) error { cfg.Log.Format = v; return nil },
	"log.file":   func(cfg *Config, v string) error { cfg.Log.File = v; return nil },
}

func setPositiveInt(dst **int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fmt.Errorf("expected a positive integer, got %q", v)
	}
	*dst = &n
	return nil
}

func setDuration(dst *string, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fmt.Errorf("expected a positive duration, got %q", v)
	}
	*dst = v
	return nil
}

// Keys lists the keys accepted by SetValue.
func Keys() []string {
	keys := make([]string, 0, len(settable))
	for k := range settable {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SetValue validates and assigns one dotted key.
func SetValue(cfg *Config, key, value string) error {
	set, ok := settable[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return set(cfg, value)
}

// Effective returns the resolved value of every setting, after env
// overrides and defaults.
func Effective() map[string]string {
	dataDir, _ := GetDataDir()
	return map[string]string{
		"data_dir":                dataDir,
		"sync.url":                GetServerURL(),
		"sync.conflict_policy":    GetConflictPolicy(),
		"sync.upload_concurrency": strconv.Itoa(GetUploadConcurrency()),
		"sync.max_retries":        strconv.Itoa(GetMaxRetries()),
		"sync.photo_timeout":      GetPhotoTimeout().String(),
		"sync.auto.interval":      GetAutoSyncInterval().String(),
		"sync.auto.enabled":       strconv.FormatBool(GetAutoSyncEnabled()),
		"log.level":               GetLogLevel(),
		"log.format":              GetLogFormat(),
		"log.file":                GetLogFile(),
	}
}
