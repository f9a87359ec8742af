package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Spotify  SpotifyConfig  `toml:"spotify"`
	Database DatabaseConfig `toml:"database"`
	Sync     SyncConfig     `toml:"sync"`
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
}

// SpotifyConfig contains Spotify API credentials and endpoints.
type SpotifyConfig struct {
	ClientID          string  `toml:"client_id"`
	ClientSecret      string  `toml:"client_secret"`
	RedirectURI       string  `toml:"redirect_uri"`
	APIBaseURL        string  `toml:"api_base_url" validate:"required,url"`
	TokenURL          string  `toml:"token_url" validate:"required,url"`
	RequestsPerSecond float64 `toml:"requests_per_second" validate:"gt=0"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path" validate:"required"`
	MaxOpenConns int    `toml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `toml:"max_idle_conns" validate:"gte=0"`
}

// SyncConfig holds the tunables of a single sync run.
type SyncConfig struct {
	LookbackOverlap Duration `toml:"lookback_overlap" validate:"gte=0"`
	PageSize        int      `toml:"page_size" validate:"min=1,max=50"`
	MaxPages        int      `toml:"max_pages" validate:"min=1"`
	CacheTTL        Duration `toml:"cache_ttl" validate:"gt=0"`
	MaxDedupeKeys   int      `toml:"max_dedupe_keys" validate:"min=1"`
	StaleFallback   bool     `toml:"stale_fallback"`
	CallTimeout     Duration `toml:"call_timeout" validate:"gte=0"`
	RetryAttempts   int      `toml:"retry_attempts" validate:"min=1"`
	RetryBaseDelay  Duration `toml:"retry_base_delay" validate:"gte=0"`
	RetryMaxDelay   Duration `toml:"retry_max_delay" validate:"gte=0"`
	RunMarkerTTL    Duration `toml:"run_marker_ttl" validate:"gte=0"`
	Workers         int      `toml:"workers" validate:"min=1"`
	RunsPerSecond   float64  `toml:"runs_per_second" validate:"gte=0"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port" validate:"min=1,max=65535"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level string `toml:"level" validate:"omitempty,oneof=debug info warn warning error"`
}

// Duration is a [time.Duration] that decodes from TOML strings like "120m".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RetryPolicy builds the backoff policy for external calls from the sync settings.
func (c SyncConfig) RetryPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.Attempts = c.RetryAttempts
	if c.RetryBaseDelay > 0 {
		p.BaseDelay = c.RetryBaseDelay.Std()
	}
	if c.RetryMaxDelay > 0 {
		p.MaxDelay = c.RetryMaxDelay.Std()
	}
	return p
}

// Addr returns the host:port the HTTP server listens on.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep their defaults; environment overrides are
// applied last and the result is validated.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig writes c to path as TOML, replacing any existing file.
func SaveConfig(path string, c *Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ApplyEnv overrides config values from the environment using lookup.
//
// Recognized variables: SPOTIFY_CLIENT_ID, SPOTIFY_CLIENT_SECRET,
// SPOTIFY_REDIRECT_URI, SPOTLOG_DATABASE, SPOTLOG_LOG_LEVEL,
// SYNC_LOOKBACK_MINUTES, SYNC_PAGE_LIMIT, MAX_PAGES_PER_RUN,
// CACHE_TTL_DAYS and DEDUP_READ_ROWS.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"SPOTIFY_CLIENT_ID":     &c.Spotify.ClientID,
		"SPOTIFY_CLIENT_SECRET": &c.Spotify.ClientSecret,
		"SPOTIFY_REDIRECT_URI":  &c.Spotify.RedirectURI,
		"SPOTLOG_DATABASE":      &c.Database.Path,
		"SPOTLOG_LOG_LEVEL":     &c.Log.Level,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	ints := []struct {
		name  string
		apply func(n int)
	}{
		{"SYNC_LOOKBACK_MINUTES", func(n int) { c.Sync.LookbackOverlap = Duration(time.Duration(n) * time.Minute) }},
		{"SYNC_PAGE_LIMIT", func(n int) { c.Sync.PageSize = n }},
		{"MAX_PAGES_PER_RUN", func(n int) { c.Sync.MaxPages = n }},
		{"CACHE_TTL_DAYS", func(n int) { c.Sync.CacheTTL = Duration(time.Duration(n) * 24 * time.Hour) }},
		{"DEDUP_READ_ROWS", func(n int) { c.Sync.MaxDedupeKeys = n }},
	}
	for _, env := range ints {
		v, ok := lookup(env.name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: env %s must be an integer, got %q", ErrInvalidConfig, env.name, v)
		}
		env.apply(n)
	}
	return nil
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints, reporting every violation in one error.
func (c *Config) Validate() error {
	err := configValidator.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// RequireCredentials reports whether Spotify client credentials are present.
func (c *Config) RequireCredentials() error {
	if c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "" {
		return fmt.Errorf("%w: spotify client_id and client_secret are required", ErrMissingCredentials)
	}
	return nil
}
