package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DateLayout is the layout for horizon_end values.
const DateLayout = "2006-01-02"

// Defaults applied by Normalize.
const (
	DefaultListen              = "127.0.0.1:8080"
	DefaultTimezone            = "UTC"
	DefaultDatabase            = "/var/lib/opscal/opscal.db"
	DefaultRefreshCron         = "*/15 * * * *"
	DefaultHorizonDays         = 90
	DefaultAlertLookaheadHours = 72
	DefaultMaxOccurrences      = 5000
	DefaultLogLevel            = "info"
)

// TenantConfig holds per-tenant overrides.
type TenantConfig struct {
	// HorizonEnd is the tenant's fiscal boundary (YYYY-MM-DD). It replaces
	// the global HorizonEnd for templates of this tenant.
	HorizonEnd string `yaml:"horizon_end,omitempty" json:"horizon_end,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone in which calendar days are evaluated.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Database is the SQLite file holding templates, completions and dismissals.
	Database string `yaml:"database" json:"database"`

	// RefreshCron is a cron-style schedule (e.g. "*/15 * * * *") for the
	// periodic alert re-evaluation.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonEnd is the optional global fiscal boundary (YYYY-MM-DD).
	HorizonEnd string `yaml:"horizon_end,omitempty" json:"horizon_end,omitempty"`

	// Tenants maps tenant id to its overrides.
	Tenants map[string]TenantConfig `yaml:"tenants,omitempty" json:"tenants,omitempty"`

	// DefaultHorizonDays is the expansion window used when no boundary applies.
	DefaultHorizonDays int `yaml:"default_horizon_days" json:"default_horizon_days"`

	// AlertLookaheadHours bounds how far ahead reminders are raised.
	AlertLookaheadHours int `yaml:"alert_lookahead_hours" json:"alert_lookahead_hours"`

	// MaxOccurrencesPerTemplate caps a single template's expansion.
	MaxOccurrencesPerTemplate int `yaml:"max_occurrences_per_template" json:"max_occurrences_per_template"`

	// ElevatedRoles see every occurrence regardless of assignment.
	ElevatedRoles []string `yaml:"elevated_roles" json:"elevated_roles"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                    DefaultListen,
		Timezone:                  DefaultTimezone,
		Database:                  DefaultDatabase,
		RefreshCron:               DefaultRefreshCron,
		DefaultHorizonDays:        DefaultHorizonDays,
		AlertLookaheadHours:       DefaultAlertLookaheadHours,
		MaxOccurrencesPerTemplate: DefaultMaxOccurrences,
		ElevatedRoles:             []string{"administrator", "manager"},
		LogLevel:                  DefaultLogLevel,
		Tenants:                   map[string]TenantConfig{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.RefreshCron == "" {
		c.RefreshCron = DefaultRefreshCron
	}
	if c.DefaultHorizonDays <= 0 {
		c.DefaultHorizonDays = DefaultHorizonDays
	}
	if c.AlertLookaheadHours <= 0 {
		c.AlertLookaheadHours = DefaultAlertLookaheadHours
	}
	if c.MaxOccurrencesPerTemplate <= 0 {
		c.MaxOccurrencesPerTemplate = DefaultMaxOccurrences
	}
	if c.ElevatedRoles == nil {
		c.ElevatedRoles = []string{"administrator", "manager"}
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Tenants == nil {
		c.Tenants = map[string]TenantConfig{}
	}
}

// Validate checks values that Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: invalid timezone %q: %w", c.Timezone, err)
	}
	if c.HorizonEnd != "" {
		if _, err := time.Parse(DateLayout, c.HorizonEnd); err != nil {
			return fmt.Errorf("config: invalid horizon_end %q: %w", c.HorizonEnd, err)
		}
	}
	for id, t := range c.Tenants {
		if t.HorizonEnd == "" {
			continue
		}
		if _, err := time.Parse(DateLayout, t.HorizonEnd); err != nil {
			return fmt.Errorf("config: tenant %s: invalid horizon_end %q: %w", id, t.HorizonEnd, err)
		}
	}
	return nil
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FiscalBoundary returns the horizon end configured for tenantID, falling
// back to the global HorizonEnd. The date is interpreted in loc. ok is false
// when no boundary is configured.
func (c *Config) FiscalBoundary(tenantID string, loc *time.Location) (time.Time, bool) {
	raw := c.HorizonEnd
	if t, found := c.Tenants[tenantID]; found && t.HorizonEnd != "" {
		raw = t.HorizonEnd
	}
	if raw == "" {
		return time.Time{}, false
	}
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(raw), loc)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// AlertLookahead returns the reminder threshold as a duration.
func (c *Config) AlertLookahead() time.Duration {
	return time.Duration(c.AlertLookaheadHours) * time.Hour
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to path atomically (temp file +
// rename) with 0600 permissions, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".opscal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
