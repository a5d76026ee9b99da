// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/sandtrace/internal/core"
	"firestige.xyz/sandtrace/internal/log"
)

// GlobalConfig is the top-level configuration.
// Maps to the `sandtrace:` root key in YAML.
type GlobalConfig struct {
	Log     log.LoggerConfig `mapstructure:"log"`
	Netlog  NetlogConfig     `mapstructure:"netlog"`
	Network NetworkConfig    `mapstructure:"network"`
	NATS    NATSConfig       `mapstructure:"nats"`
	Metrics MetricsConfig    `mapstructure:"metrics"`
}

// ─── Event stream ───

// NetlogConfig configures the event stream decoder and the result server.
type NetlogConfig struct {
	Signatures        string `mapstructure:"signatures"` // path to the signature table
	Listen            string `mapstructure:"listen"`
	MaxStringLength   uint32 `mapstructure:"max_string_length"`
	AbortOnUnknownAPI bool   `mapstructure:"abort_on_unknown_api"`
}

// ─── Packet trace ───

// NetworkConfig configures capture analysis.
type NetworkConfig struct {
	ResolveDNS     bool          `mapstructure:"resolve_dns"`
	ResolveTimeout time.Duration `mapstructure:"resolve_timeout"`
	SMTPPort       uint16        `mapstructure:"smtp_port"`
	DNSPort        uint16        `mapstructure:"dns_port"`
}

// ─── Event publishing ───

// NATSConfig configures the optional NATS event sink.
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `sandtrace: ...`.
type configRoot struct {
	Sandtrace GlobalConfig `mapstructure:"sandtrace"`
}

// Load loads configuration from path. An empty path yields the defaults,
// still subject to environment overrides. Env vars use the SANDTRACE_ prefix
// (e.g., SANDTRACE_NETWORK_RESOLVE_DNS).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `sandtrace.` key prefix maps to `SANDTRACE_` through the replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Sandtrace

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "sandtrace." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("sandtrace.log.level", "info")
	v.SetDefault("sandtrace.log.format", "pattern")
	v.SetDefault("sandtrace.log.pattern", log.DefaultPattern)
	v.SetDefault("sandtrace.log.time", log.DefaultTime)

	// Event stream defaults
	v.SetDefault("sandtrace.netlog.signatures", "")
	v.SetDefault("sandtrace.netlog.listen", "0.0.0.0:2042")
	v.SetDefault("sandtrace.netlog.max_string_length", 1<<20)
	v.SetDefault("sandtrace.netlog.abort_on_unknown_api", true)

	// Packet trace defaults
	v.SetDefault("sandtrace.network.resolve_dns", false)
	v.SetDefault("sandtrace.network.resolve_timeout", "10s")
	v.SetDefault("sandtrace.network.smtp_port", 25)
	v.SetDefault("sandtrace.network.dns_port", 53)

	// NATS defaults
	v.SetDefault("sandtrace.nats.enabled", false)
	v.SetDefault("sandtrace.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("sandtrace.nats.subject_prefix", "sandtrace.events")

	// Metrics defaults
	v.SetDefault("sandtrace.metrics.enabled", false)
	v.SetDefault("sandtrace.metrics.listen", ":9091")
	v.SetDefault("sandtrace.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and fills zero values
// that would otherwise disable a limit.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be trace/debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "pattern", "text", "json":
	default:
		return fmt.Errorf("%w: invalid log format: %s (must be pattern/text/json)", core.ErrConfigInvalid, cfg.Log.Format)
	}

	// ── Event stream ──
	if cfg.Netlog.MaxStringLength == 0 {
		cfg.Netlog.MaxStringLength = 1 << 20
	}
	if _, _, err := net.SplitHostPort(cfg.Netlog.Listen); err != nil {
		return fmt.Errorf("%w: netlog.listen %q: %v", core.ErrConfigInvalid, cfg.Netlog.Listen, err)
	}

	// ── Packet trace ──
	if cfg.Network.ResolveTimeout <= 0 {
		cfg.Network.ResolveTimeout = 10 * time.Second
	}
	if cfg.Network.SMTPPort == 0 {
		cfg.Network.SMTPPort = 25
	}
	if cfg.Network.DNSPort == 0 {
		cfg.Network.DNSPort = 53
	}

	// ── NATS ──
	if cfg.NATS.Enabled && cfg.NATS.URL == "" {
		return fmt.Errorf("%w: nats.url is required when nats.enabled=true", core.ErrConfigInvalid)
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("%w: metrics.listen %q: %v", core.ErrConfigInvalid, cfg.Metrics.Listen, err)
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			return fmt.Errorf("%w: metrics.path must start with /", core.ErrConfigInvalid)
		}
	}

	return nil
}
