package waypoint

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/aretw0/waypoint/internal/logging"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Store drivers understood by the configuration.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Config is a serialisable representation of a waypoint deployment. It is read from YAML
// and WAYPOINT_* environment variables; fields left unset keep DefaultConfig values.
type Config struct {
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Templates  TemplatesConfig  `mapstructure:"templates" yaml:"templates"`
	Directory  DirectoryConfig  `mapstructure:"directory" yaml:"directory"`
	Lookup     LookupConfig     `mapstructure:"lookup" yaml:"lookup"`
	ActionList ActionListConfig `mapstructure:"action_list" yaml:"action_list"`
	HTTP       HTTPConfig       `mapstructure:"http" yaml:"http"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Tracing    TracingConfig    `mapstructure:"tracing" yaml:"tracing"`
}

// StoreConfig selects where graphs and action items live.
type StoreConfig struct {
	// Driver is one of memory, file or redis.
	Driver string `mapstructure:"driver" yaml:"driver"`
	// Path is the graph directory of the file driver. Action items stay in memory.
	Path     string         `mapstructure:"path" yaml:"path"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
	LockTTL  time.Duration  `mapstructure:"lock_ttl" yaml:"lock_ttl"`
	Security SecurityConfig `mapstructure:"security" yaml:"security"`
}

// SecurityConfig protects graphs at rest, whatever the driver.
type SecurityConfig struct {
	// EncryptionKey is a base64 AES-256 key. When set, document titles and node state
	// values are sealed before they reach the store.
	EncryptionKey string `mapstructure:"encryption_key" yaml:"encryption_key"`
	// FallbackKeys are previous base64 keys still accepted for reading.
	FallbackKeys []string `mapstructure:"fallback_keys" yaml:"fallback_keys"`
	// MaskKeys are regular expressions; matching node state keys are stored as a mask.
	MaskKeys []string `mapstructure:"mask_keys" yaml:"mask_keys"`
}

// RedisConfig holds the connection settings of the redis driver.
type RedisConfig struct {
	Address  string `mapstructure:"address" yaml:"address"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

// TemplatesConfig points at the loam repository holding template documents.
type TemplatesConfig struct {
	Dir   string `mapstructure:"dir" yaml:"dir"`
	Watch bool   `mapstructure:"watch" yaml:"watch"`
}

// DirectoryConfig points at the YAML file describing roles, groups and delegations.
type DirectoryConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// LookupConfig bounds identity lookups.
type LookupConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ActionListConfig tunes the action list views.
type ActionListConfig struct {
	ViewTTL time.Duration `mapstructure:"view_ttl" yaml:"view_ttl"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	Metrics         bool          `mapstructure:"metrics" yaml:"metrics"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LogConfig configures the application logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// TracingConfig enables span export to stdout.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Driver:  StoreMemory,
			Path:    ".waypoint/graphs",
			Redis:   RedisConfig{Address: "localhost:6379", Prefix: "waypoint:"},
			LockTTL: 30 * time.Second,
		},
		Lookup:     LookupConfig{Timeout: 2 * time.Second},
		ActionList: ActionListConfig{ViewTTL: 30 * time.Second},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			Metrics:         true,
			ShutdownTimeout: 10 * time.Second,
		},
		Log:     LogConfig{Level: "info"},
		Tracing: TracingConfig{ServiceName: "waypoint"},
	}
}

// envKeys maps environment variables to configuration paths.
var envKeys = map[string][]string{
	"WAYPOINT_STORE_DRIVER":          {"store", "driver"},
	"WAYPOINT_STORE_PATH":            {"store", "path"},
	"WAYPOINT_STORE_LOCK_TTL":        {"store", "lock_ttl"},
	"WAYPOINT_ENCRYPTION_KEY":        {"store", "security", "encryption_key"},
	"WAYPOINT_REDIS_ADDRESS":         {"store", "redis", "address"},
	"WAYPOINT_REDIS_PASSWORD":        {"store", "redis", "password"},
	"WAYPOINT_REDIS_DB":              {"store", "redis", "db"},
	"WAYPOINT_REDIS_PREFIX":          {"store", "redis", "prefix"},
	"WAYPOINT_TEMPLATES_DIR":         {"templates", "dir"},
	"WAYPOINT_TEMPLATES_WATCH":       {"templates", "watch"},
	"WAYPOINT_DIRECTORY_FILE":        {"directory", "file"},
	"WAYPOINT_LOOKUP_TIMEOUT":        {"lookup", "timeout"},
	"WAYPOINT_VIEW_TTL":              {"action_list", "view_ttl"},
	"WAYPOINT_HTTP_ADDR":             {"http", "addr"},
	"WAYPOINT_HTTP_METRICS":          {"http", "metrics"},
	"WAYPOINT_HTTP_SHUTDOWN_TIMEOUT": {"http", "shutdown_timeout"},
	"WAYPOINT_LOG_LEVEL":             {"log", "level"},
	"WAYPOINT_TRACING_ENABLED":       {"tracing", "enabled"},
	"WAYPOINT_TRACING_SERVICE_NAME":  {"tracing", "service_name"},
}

// LoadConfig reads the YAML file at path (optional), applies WAYPOINT_* overrides and validates
// the result.
func LoadConfig(path string) (Config, error) {
	raw := make(map[string]any)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		if raw == nil {
			raw = make(map[string]any)
		}
	}
	applyEnv(raw, os.LookupEnv)

	cfg := DefaultConfig()
	if err := decodeConfig(raw, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeConfig(raw map[string]any, cfg *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnv(raw map[string]any, lookup func(string) (string, bool)) {
	for name, path := range envKeys {
		value, ok := lookup(name)
		if !ok {
			continue
		}
		m := raw
		for _, key := range path[:len(path)-1] {
			next, ok := m[key].(map[string]any)
			if !ok {
				next = make(map[string]any)
				m[key] = next
			}
			m = next
		}
		m[path[len(path)-1]] = value
	}
}

// Validate reports the first invalid setting, or nil.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StoreFile:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required by the file driver")
		}
	case StoreRedis:
		if c.Store.Redis.Address == "" {
			return fmt.Errorf("store.redis.address is required by the redis driver")
		}
	default:
		return fmt.Errorf("unknown store driver '%s'", c.Store.Driver)
	}
	for _, key := range append([]string{c.Store.Security.EncryptionKey}, c.Store.Security.FallbackKeys...) {
		if key == "" {
			continue
		}
		if b, err := base64.StdEncoding.DecodeString(key); err != nil || len(b) != 32 {
			return fmt.Errorf("store.security keys must be base64 encoded 32 byte keys")
		}
	}
	if len(c.Store.Security.FallbackKeys) > 0 && c.Store.Security.EncryptionKey == "" {
		return fmt.Errorf("store.security.fallback_keys require an encryption_key")
	}
	if c.Store.LockTTL <= 0 {
		return fmt.Errorf("store.lock_ttl must be > 0")
	}
	if c.Lookup.Timeout <= 0 {
		return fmt.Errorf("lookup.timeout must be > 0")
	}
	if c.ActionList.ViewTTL < 0 {
		return fmt.Errorf("action_list.view_ttl must be >= 0")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if _, err := logging.Parse(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}
