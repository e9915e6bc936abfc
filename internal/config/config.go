package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and YAML-based load/save
// behavior with atomic writes and 0600 permissions.

var (
	// ErrNotFound means no configuration has been saved yet.
	ErrNotFound = errors.New("config not found")
)

// FileError wraps an I/O failure while reading or writing the config file.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string { return fmt.Sprintf("config file %s: %v", e.Path, e.Err) }
func (e *FileError) Unwrap() error { return e.Err }

// ParseError wraps malformed YAML content.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("config parse %s: %v", e.Path, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// BasicAuthConfig holds HTTP Basic Auth credentials for the web view.
// PasswordHash, a bcrypt hash, takes precedence over a plain Password.
type BasicAuthConfig struct {
	Username     string `yaml:"username" json:"username"`
	Password     string `yaml:"password,omitempty" json:"password,omitempty"`
	PasswordHash string `yaml:"password_hash,omitempty" json:"password_hash,omitempty"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
	// File, if set, enables a rotated log file next to stderr output.
	File       string `yaml:"file,omitempty" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty" json:"max_size_mb,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty" json:"max_age_days,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Identifier is the timetable code ("vidko"). Nil until the user
	// provides one.
	Identifier *string `yaml:"identifier,omitempty" json:"identifier,omitempty"`

	// Listen is the HTTP listen address for the week view.
	Listen string `yaml:"listen" json:"listen"`

	// RefreshCron is a cron-style schedule (e.g. "0 */2 * * *") for
	// background timetable refreshes.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// MaxWeeksAhead caps forward week navigation.
	MaxWeeksAhead int `yaml:"max_weeks_ahead" json:"max_weeks_ahead"`

	// DayNames overrides the five header abbreviations (Monday first).
	DayNames []string `yaml:"day_names,omitempty" json:"day_names,omitempty"`

	// Theme is "dark" (default) or "light".
	Theme string `yaml:"theme" json:"theme"`

	// URLTemplate is the timetable endpoint; "{id}" is replaced with the
	// identifier.
	URLTemplate string `yaml:"url_template" json:"url_template"`

	// CacheDir holds HTTP cache copies of fetched calendars. Empty disables
	// caching.
	CacheDir string `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`

	// RecurrenceWeeks bounds RRULE expansion.
	RecurrenceWeeks int `yaml:"recurrence_weeks" json:"recurrence_weeks"`

	Log LogConfig `yaml:"log" json:"log"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen          = "127.0.0.1:8080"
	defaultRefreshCron     = "0 */2 * * *"
	defaultMaxWeeksAhead   = 48
	defaultTheme           = "dark"
	defaultURLTemplate     = "https://uais.cr.ktu.lt/ktuis/tv_rprt2.ical1?p={id}&t=basic.ics"
	defaultRecurrenceWeeks = 26
	defaultLogLevel        = "info"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// IdentifierValue returns the identifier or "" when unset.
func (c *Config) IdentifierValue() string {
	if c == nil || c.Identifier == nil {
		return ""
	}
	return *c.Identifier
}

// SetIdentifier stores id; an empty id clears it.
func (c *Config) SetIdentifier(id string) {
	if id == "" {
		c.Identifier = nil
		return
	}
	c.Identifier = &id
}

// Clone returns a deep copy of c; nil stays nil.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	if c.Identifier != nil {
		id := *c.Identifier
		out.Identifier = &id
	}
	if c.DayNames != nil {
		out.DayNames = append([]string(nil), c.DayNames...)
	}
	if c.BasicAuth != nil {
		auth := *c.BasicAuth
		out.BasicAuth = &auth
	}
	return &out
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Identifier != nil && *c.Identifier == "" {
		c.Identifier = nil
	}
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.MaxWeeksAhead <= 0 {
		c.MaxWeeksAhead = defaultMaxWeeksAhead
	}
	switch c.Theme {
	case "dark", "light":
		// ok
	default:
		c.Theme = defaultTheme
	}
	// Only a complete set of five names is usable.
	if len(c.DayNames) != 5 {
		c.DayNames = nil
	}
	if c.URLTemplate == "" {
		c.URLTemplate = defaultURLTemplate
	}
	if c.RecurrenceWeeks <= 0 {
		c.RecurrenceWeeks = defaultRecurrenceWeeks
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
}

// Store persists a Config. Load errors are ErrNotFound, *FileError or
// *ParseError; callers treat all of them as "no saved identifier".
type Store interface {
	Load() (*Config, error)
	Save(cfg *Config) error
}

// FileStore keeps the config as a YAML document on disk.
type FileStore struct {
	path string
}

// NewFileStore returns a store at path, or at DefaultPath when path is
// empty.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &FileStore{path: path}, nil
}

// DefaultPath is the per-user config location, e.g.
// ~/.config/ktu-timetable/config.yaml on Linux.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "ktu-timetable", "config.yaml"), nil
}

func (s *FileStore) Path() string { return s.path }

// Load reads and normalizes the config file.
func (s *FileStore) Load() (*Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, &FileError{Path: s.path, Err: err}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: s.path, Err: err}
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func (s *FileStore) Save(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &FileError{Path: s.path, Err: err}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".ktu-timetable-config-*.tmp")
	if err != nil {
		return &FileError{Path: s.path, Err: err}
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &FileError{Path: s.path, Err: err}
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &FileError{Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &FileError{Path: s.path, Err: err}
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return &FileError{Path: s.path, Err: err}
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return &FileError{Path: s.path, Err: err}
	}

	return nil
}

// MemoryStore keeps the config in memory; Load fails with ErrNotFound until
// something is saved.
type MemoryStore struct {
	mu  sync.Mutex
	cfg *Config
}

func NewMemoryStore(cfg *Config) *MemoryStore {
	return &MemoryStore{cfg: cfg.Clone()}
}

func (s *MemoryStore) Load() (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return nil, ErrNotFound
	}
	return s.cfg.Clone(), nil
}

func (s *MemoryStore) Save(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg.Clone()
	return nil
}

// LoadOrDefault loads from store and falls back to defaults on any load
// error, which is returned alongside for logging.
func LoadOrDefault(store Store) (*Config, error) {
	cfg, err := store.Load()
	if err != nil {
		return DefaultConfig(), err
	}
	return cfg, nil
}
