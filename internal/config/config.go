// Package config provides configuration types, defaults, and persistence for deepwork.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zjrosen/deepwork/internal/cachemanager"
	"github.com/zjrosen/deepwork/internal/flags"
	"github.com/zjrosen/deepwork/internal/log"
	"github.com/zjrosen/deepwork/internal/orchestrator"
	"github.com/zjrosen/deepwork/internal/paths"
	"github.com/zjrosen/deepwork/internal/tracing"
)

// Backend names accepted by database.backend.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// EnvPrefix is the prefix for environment overrides (DEEPWORK_SERVER_ADDR).
const EnvPrefix = "DEEPWORK"

// Config holds all configuration options for deepwork.
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Server       ServerConfig       `mapstructure:"server"`
	Tracing      tracing.Config     `mapstructure:"tracing"`
	Log          LogConfig          `mapstructure:"log"`
	Flags        map[string]bool    `mapstructure:"flags"`
}

// DatabaseConfig selects and locates the task store.
type DatabaseConfig struct {
	Backend string `mapstructure:"backend"` // "sqlite" or "memory"
	Path    string `mapstructure:"path"`
}

// OrchestratorConfig holds the business rules for the deep-work entity type.
type OrchestratorConfig struct {
	Namespace                string        `mapstructure:"namespace"`
	MinFocusIntensity        int           `mapstructure:"min_focus_intensity"`
	MaxConcurrentSessions    int           `mapstructure:"max_concurrent_sessions"`
	MaxDependencies          int           `mapstructure:"max_dependencies"`
	ValidateDependencies     bool          `mapstructure:"validate_dependencies"`
	AllowDirectCompletion    bool          `mapstructure:"allow_direct_completion"`
	ProtectionFocusThreshold int           `mapstructure:"protection_focus_threshold"`
	OperationTimeout         time.Duration `mapstructure:"operation_timeout"`
	MaxRetryAttempts         int           `mapstructure:"max_retry_attempts"`
	RetryInitialInterval     time.Duration `mapstructure:"retry_initial_interval"`
}

// CacheConfig holds the TTLs of the task cache.
type CacheConfig struct {
	EntityTTL       time.Duration `mapstructure:"entity_ttl"`
	ListTTL         time.Duration `mapstructure:"list_ttl"`
	StatsTTL        time.Duration `mapstructure:"stats_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// ServerConfig configures `deepwork serve`.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MetricsPath     string        `mapstructure:"metrics_path"`
}

// LogConfig configures the file logger. An empty File disables logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
	File   string `mapstructure:"file"`
}

// DefaultDatabasePath returns ~/.deepwork/deepwork.db, or a relative path
// when the home directory is unavailable.
func DefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".deepwork", "deepwork.db")
	}
	return filepath.Join(home, ".deepwork", "deepwork.db")
}

// Defaults returns the default configuration.
func Defaults() Config {
	et := orchestrator.DeepWork()
	cc := cachemanager.DefaultTaskCacheConfig()
	return Config{
		Database: DatabaseConfig{
			Backend: BackendSQLite,
			Path:    DefaultDatabasePath(),
		},
		Orchestrator: OrchestratorConfig{
			Namespace:                et.Namespace,
			MinFocusIntensity:        et.MinFocusIntensity,
			MaxConcurrentSessions:    et.MaxConcurrentSessions,
			MaxDependencies:          et.MaxDependencies,
			ValidateDependencies:     et.ValidateDependencies,
			AllowDirectCompletion:    et.AllowDirectCompletion,
			ProtectionFocusThreshold: et.ProtectionFocusThreshold,
			OperationTimeout:         et.OperationTimeout,
			MaxRetryAttempts:         et.MaxRetryAttempts,
			RetryInitialInterval:     et.RetryInitialInterval,
		},
		Cache: CacheConfig{
			EntityTTL:       cc.EntityTTL,
			ListTTL:         cc.ListTTL,
			StatsTTL:        cc.StatsTTL,
			CleanupInterval: cc.CleanupInterval,
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:7420",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MetricsPath:     "/metrics",
		},
		Tracing: tracing.DefaultConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: string(log.FormatText),
		},
		Flags: flags.Defaults(),
	}
}

// SetDefaults registers every default with v so that environment variables
// and partial files resolve against them.
func SetDefaults(v *viper.Viper) {
	d := Defaults()

	v.SetDefault("database.backend", d.Database.Backend)
	v.SetDefault("database.path", d.Database.Path)

	o := d.Orchestrator
	v.SetDefault("orchestrator.namespace", o.Namespace)
	v.SetDefault("orchestrator.min_focus_intensity", o.MinFocusIntensity)
	v.SetDefault("orchestrator.max_concurrent_sessions", o.MaxConcurrentSessions)
	v.SetDefault("orchestrator.max_dependencies", o.MaxDependencies)
	v.SetDefault("orchestrator.validate_dependencies", o.ValidateDependencies)
	v.SetDefault("orchestrator.allow_direct_completion", o.AllowDirectCompletion)
	v.SetDefault("orchestrator.protection_focus_threshold", o.ProtectionFocusThreshold)
	v.SetDefault("orchestrator.operation_timeout", o.OperationTimeout)
	v.SetDefault("orchestrator.max_retry_attempts", o.MaxRetryAttempts)
	v.SetDefault("orchestrator.retry_initial_interval", o.RetryInitialInterval)

	v.SetDefault("cache.entity_ttl", d.Cache.EntityTTL)
	v.SetDefault("cache.list_ttl", d.Cache.ListTTL)
	v.SetDefault("cache.stats_ttl", d.Cache.StatsTTL)
	v.SetDefault("cache.cleanup_interval", d.Cache.CleanupInterval)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.metrics_path", d.Server.MetricsPath)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", string(d.Tracing.Exporter))
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)

	for name, on := range d.Flags {
		v.SetDefault("flags."+name, on)
	}
}

// Load reads configuration into a Config. When path is empty the file is
// searched for in ./.deepwork and ~/.config/deepwork; a missing file is not
// an error. The returned string is the file that was used, if any.
func Load(v *viper.Viper, path string) (Config, string, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(paths.ResolveProjectDir(""))
		if dir := paths.UserConfigDir(); dir != "" {
			v.AddConfigPath(dir)
		}
	}

	used := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			log.ErrorErr(log.CatConfig, "Failed to read config", err, "path", path)
			return Config{}, "", fmt.Errorf("reading config: %w", err)
		}
		log.Debug(log.CatConfig, "No config file found, using defaults")
	} else {
		used = v.ConfigFileUsed()
		log.Debug(log.CatConfig, "Loaded config", "path", used)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, used, fmt.Errorf("decoding config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, used, err
	}
	return cfg, used, nil
}

// Validate checks every section and returns the first problem found.
func Validate(cfg Config) error {
	if err := ValidateDatabase(cfg.Database); err != nil {
		return err
	}
	if err := ValidateOrchestrator(cfg.Orchestrator); err != nil {
		return err
	}
	if err := ValidateCache(cfg.Cache); err != nil {
		return err
	}
	if err := ValidateServer(cfg.Server); err != nil {
		return err
	}
	if err := ValidateTracing(cfg.Tracing); err != nil {
		return err
	}
	if err := ValidateLog(cfg.Log); err != nil {
		return err
	}
	return ValidateFlags(cfg.Flags)
}

// ValidateLog checks the log level and format names.
func ValidateLog(l LogConfig) error {
	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", l.Level)
	}
	switch log.Format(l.Format) {
	case "", log.FormatText, log.FormatJSON:
	default:
		return fmt.Errorf("log.format must be text or json, got %q", l.Format)
	}
	return nil
}

// ValidateDatabase checks database configuration for errors.
func ValidateDatabase(db DatabaseConfig) error {
	switch db.Backend {
	case BackendSQLite:
		if strings.TrimSpace(db.Path) == "" {
			return fmt.Errorf("database.path is required when backend is %q", BackendSQLite)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("database.backend must be %q or %q, got %q", BackendSQLite, BackendMemory, db.Backend)
	}
	return nil
}

// ValidateOrchestrator checks the business rules for impossible values.
// Zero values fall back to defaults and are accepted.
func ValidateOrchestrator(o OrchestratorConfig) error {
	if o.MinFocusIntensity < 0 || o.MinFocusIntensity > 10 {
		return fmt.Errorf("orchestrator.min_focus_intensity must be between 0 and 10, got %d", o.MinFocusIntensity)
	}
	if o.ProtectionFocusThreshold < 0 || o.ProtectionFocusThreshold > 10 {
		return fmt.Errorf("orchestrator.protection_focus_threshold must be between 0 and 10, got %d", o.ProtectionFocusThreshold)
	}
	if o.MaxConcurrentSessions < 0 {
		return fmt.Errorf("orchestrator.max_concurrent_sessions must not be negative, got %d", o.MaxConcurrentSessions)
	}
	if o.MaxDependencies < 0 {
		return fmt.Errorf("orchestrator.max_dependencies must not be negative, got %d", o.MaxDependencies)
	}
	if o.MaxRetryAttempts < 0 {
		return fmt.Errorf("orchestrator.max_retry_attempts must not be negative, got %d", o.MaxRetryAttempts)
	}
	if o.OperationTimeout < 0 || o.RetryInitialInterval < 0 {
		return fmt.Errorf("orchestrator durations must not be negative")
	}
	return nil
}

// ValidateCache checks cache TTLs.
func ValidateCache(c CacheConfig) error {
	for name, d := range map[string]time.Duration{
		"entity_ttl":       c.EntityTTL,
		"list_ttl":         c.ListTTL,
		"stats_ttl":        c.StatsTTL,
		"cleanup_interval": c.CleanupInterval,
	} {
		if d < 0 {
			return fmt.Errorf("cache.%s must not be negative, got %s", name, d)
		}
	}
	return nil
}

// ValidateServer checks server configuration for errors.
func ValidateServer(s ServerConfig) error {
	if strings.TrimSpace(s.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	if s.MetricsPath != "" && !strings.HasPrefix(s.MetricsPath, "/") {
		return fmt.Errorf("server.metrics_path must start with \"/\", got %q", s.MetricsPath)
	}
	if strings.HasPrefix(s.MetricsPath, "/api/") {
		return fmt.Errorf("server.metrics_path must not be under /api/")
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
func ValidateTracing(tc tracing.Config) error {
	return tc.Validate()
}

// ValidateFlags rejects flag names the registry does not know.
func ValidateFlags(values map[string]bool) error {
	known := flags.Known()
	for name := range values {
		if !slices.Contains(known, name) {
			return fmt.Errorf("flags.%s is not a known flag (known: %s)", name, strings.Join(known, ", "))
		}
	}
	return nil
}

// EntityType converts the orchestrator section into an entity descriptor.
func (o OrchestratorConfig) EntityType() orchestrator.EntityType {
	et := orchestrator.DeepWork()
	if o.Namespace != "" {
		et.Namespace = o.Namespace
	}
	et.MinFocusIntensity = o.MinFocusIntensity
	et.MaxConcurrentSessions = o.MaxConcurrentSessions
	et.MaxDependencies = o.MaxDependencies
	et.ValidateDependencies = o.ValidateDependencies
	et.AllowDirectCompletion = o.AllowDirectCompletion
	et.ProtectionFocusThreshold = o.ProtectionFocusThreshold
	et.OperationTimeout = o.OperationTimeout
	et.MaxRetryAttempts = o.MaxRetryAttempts
	et.RetryInitialInterval = o.RetryInitialInterval
	return et
}

// TaskCacheConfig converts the cache section. coalesce comes from the
// request-coalescing flag.
func (c CacheConfig) TaskCacheConfig(coalesce bool) cachemanager.TaskCacheConfig {
	return cachemanager.TaskCacheConfig{
		EntityTTL:       c.EntityTTL,
		ListTTL:         c.ListTTL,
		StatsTTL:        c.StatsTTL,
		CleanupInterval: c.CleanupInterval,
		Coalesce:        coalesce,
	}
}

// DefaultConfigTemplate returns the YAML written by `deepwork config init`.
func DefaultConfigTemplate() string {
	return `# deepwork configuration

database:
  # "sqlite" or "memory"
  backend: sqlite
  # path: ~/.deepwork/deepwork.db

orchestrator:
  namespace: deep-work
  # Focus intensity below this is raised to it on create
  min_focus_intensity: 3
  # Tasks that may be in progress or paused at once
  max_concurrent_sessions: 3
  max_dependencies: 5
  validate_dependencies: true
  # Allow pending/paused -> completed without passing through in-progress
  allow_direct_completion: true
  # Sessions at or above this focus are protected from interruption
  protection_focus_threshold: 3
  operation_timeout: 10s
  max_retry_attempts: 3
  retry_initial_interval: 100ms

cache:
  entity_ttl: 5m
  list_ttl: 2m
  stats_ttl: 1m
  cleanup_interval: 30m

server:
  addr: 127.0.0.1:7420
  read_timeout: 15s
  write_timeout: 30s
  shutdown_timeout: 10s
  metrics_path: /metrics

tracing:
  enabled: false
  # "none", "file", "stdout", or "otlp"
  exporter: file
  # file_path: ~/.deepwork/traces.jsonl
  otlp_endpoint: localhost:4317
  sample_rate: 1.0
  service_name: deepwork

log:
  # debug, info, warn, error
  level: info
  # text or json
  format: text
  # file: ~/.deepwork/deepwork.log

flags:
  cache-watcher: true
  request-coalescing: true
`
}

// WriteDefaultConfig creates a config file with default settings.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
