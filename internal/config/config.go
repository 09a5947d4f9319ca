// Package config loads the agent's configuration (spec.md §6's "Config
// Loader" collaborator): primary/secondary collector settings, batching
// thresholds, and debug logging overrides. Generalized from the teacher's
// daemon/config/config.go flat struct + DefaultConfig/LoadConfig pair,
// with environment-variable overrides layered on top of a flat key=value
// file. No file or environment key fills Config.Channels or
// Config.EventIDs; Load leaves both at their zero values.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aaronmbuhr/syslogagent/internal/bookmark"
	"github.com/aaronmbuhr/syslogagent/internal/validation"
)

// ChannelConfig is one subscribed event-log channel's settings.
type ChannelConfig struct {
	Name     string
	Query    string
	Enabled  bool
	Bookmark string // persisted cursor token, only populated by a load from the store
}

// SinkConfig configures one collector endpoint (primary or secondary).
type SinkConfig struct {
	Enabled  bool
	Endpoint string
	Token    string
	TLS      bool
	KeepAlive bool
}

// EventIDFilter implements the include-vs-ignore list from spec.md §6:
// when Include is true, only IDs in the set are forwarded; when false,
// IDs in the set are dropped and everything else passes.
type EventIDFilter struct {
	Include bool
	IDs     map[int]struct{}
}

// Allows reports whether eventID should be forwarded under this filter.
// An empty ID set always allows everything, regardless of Include.
func (f EventIDFilter) Allows(eventID int) bool {
	if len(f.IDs) == 0 {
		return true
	}
	_, present := f.IDs[eventID]
	if f.Include {
		return present
	}
	return !present
}

// Config is the agent's full runtime configuration. Channels and EventIDs
// have no loader keys (see the package doc).
type Config struct {
	Primary   SinkConfig
	Secondary SinkConfig

	// BatchAge and BatchCount are loaded and validated only; the sender
	// loop uses internal/sender.MaxBatch and does not read either field.
	BatchAge   time.Duration
	BatchCount int

	Facility string
	Severity string // loaded only; rendered records always carry the platform's own level

	HostOverride string

	PollInterval time.Duration

	TailFilePath    string
	TailProgramName string

	EventIDs EventIDFilter

	Channels []ChannelConfig

	BookmarkBackend string // "sqlite" or "bolt"
	BookmarkPath    string

	DebugLevel int
	DebugFile  string

	TLSMaterialPath     string
	TLSMaterialPassword string
}

// Default returns the agent's baseline configuration: no sinks enabled,
// a 10s batch age, 500-message batch count matching internal/sender.
// MaxBatch, a 5s event-log poll interval, and a SQLite bookmark store
// under the user's local data directory.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		BatchAge:        10 * time.Second,
		BatchCount:      500,
		Facility:        "local0",
		Severity:        "dynamic",
		PollInterval:    5 * time.Second,
		BookmarkBackend: "sqlite",
		BookmarkPath:    home + "/.local/share/syslogagent/bookmarks.db",
		DebugLevel:      0,
	}
}

// Load reads a flat key=value file at path (if it exists — a missing
// file is not an error, matching the teacher's "simplified" LoadConfig
// behavior) layered under Default, then applies SYSLOGAGENT_*
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open config file %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		applyKeyValue(cfg, strings.TrimSpace(key), strings.TrimSpace(value))
	}
	return scanner.Err()
}

func applyEnv(cfg *Config) {
	const prefix = "SYSLOGAGENT_"
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		applyKeyValue(cfg, strings.TrimPrefix(key, prefix), value)
	}
}

func applyKeyValue(cfg *Config, key, value string) {
	switch strings.ToUpper(key) {
	case "PRIMARY_ENDPOINT":
		cfg.Primary.Endpoint = value
		cfg.Primary.Enabled = value != ""
	case "PRIMARY_TOKEN":
		cfg.Primary.Token = value
	case "PRIMARY_TLS":
		cfg.Primary.TLS = parseBool(value)
	case "SECONDARY_ENDPOINT":
		cfg.Secondary.Endpoint = value
		cfg.Secondary.Enabled = value != ""
	case "SECONDARY_TOKEN":
		cfg.Secondary.Token = value
	case "SECONDARY_TLS":
		cfg.Secondary.TLS = parseBool(value)
	case "BATCH_AGE_SECONDS":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.BatchAge = time.Duration(n) * time.Second
		}
	case "BATCH_COUNT":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.BatchCount = n
		}
	case "FACILITY":
		cfg.Facility = value
	case "SEVERITY":
		cfg.Severity = value
	case "HOST_OVERRIDE":
		cfg.HostOverride = value
	case "POLL_INTERVAL_SECONDS":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.PollInterval = time.Duration(n) * time.Second
		}
	case "TAIL_FILE_PATH":
		cfg.TailFilePath = value
	case "TAIL_PROGRAM_NAME":
		cfg.TailProgramName = value
	case "BOOKMARK_BACKEND":
		cfg.BookmarkBackend = value
	case "BOOKMARK_PATH":
		cfg.BookmarkPath = value
	case "DEBUG_LEVEL":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.DebugLevel = n
		}
	case "DEBUG_FILE":
		cfg.DebugFile = value
	case "TLS_MATERIAL_PATH":
		cfg.TLSMaterialPath = value
	case "TLS_MATERIAL_PASSWORD":
		cfg.TLSMaterialPassword = value
	}
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

// Validate checks that a Config is internally consistent enough to run:
// at least one sink enabled with a non-empty endpoint, and a positive
// batch age/count. Delegates path/address shape checks to
// internal/validation, kept from the teacher for that purpose.
func Validate(cfg *Config) error {
	if !cfg.Primary.Enabled && !cfg.Secondary.Enabled {
		return fmt.Errorf("config: at least one of primary or secondary must be enabled")
	}
	if cfg.Primary.Enabled {
		if err := validation.ValidateStringNonEmpty(cfg.Primary.Endpoint); err != nil {
			return fmt.Errorf("config: primary endpoint: %w", err)
		}
	}
	if cfg.Secondary.Enabled {
		if err := validation.ValidateStringNonEmpty(cfg.Secondary.Endpoint); err != nil {
			return fmt.Errorf("config: secondary endpoint: %w", err)
		}
	}
	if cfg.BatchAge <= 0 {
		return fmt.Errorf("config: batch age must be positive")
	}
	if err := validation.ValidateRangeInt(cfg.BatchCount, 1, 100000); err != nil {
		return fmt.Errorf("config: batch count: %w", err)
	}
	if cfg.TailFilePath != "" {
		if err := validation.ValidateFilePath(cfg.TailFilePath, false); err != nil {
			return fmt.Errorf("config: tail file path: %w", err)
		}
	}
	return nil
}

// OpenBookmarkStore opens the configured bookmark backend, satisfying
// internal/subscription.CursorStore.
func OpenBookmarkStore(cfg *Config) (bookmark.Store, error) {
	switch strings.ToLower(cfg.BookmarkBackend) {
	case "", "sqlite":
		return bookmark.NewSQLiteStore(cfg.BookmarkPath)
	case "bolt":
		return bookmark.NewBoltStore(cfg.BookmarkPath)
	default:
		return nil, fmt.Errorf("config: unknown bookmark backend %q", cfg.BookmarkBackend)
	}
}
