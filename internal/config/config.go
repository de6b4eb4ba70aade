// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/gopacket/layers"
	"github.com/spf13/viper"

	"firestige.xyz/fabric/internal/core"
)

// Hub modes.
const (
	ModeHub    = "hub"
	ModeSwitch = "switch"
)

// Config is the top-level configuration, found under the `fabric:` root key.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Hub     HubConfig     `mapstructure:"hub"`
	Capture CaptureConfig `mapstructure:"capture"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig lists log destinations besides stdout.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Tunnel hub ───

// HubConfig configures the tunnel hub run by the daemon.
type HubConfig struct {
	Name         string        `mapstructure:"name"`
	Listen       string        `mapstructure:"listen"`
	MaxEndpoints int           `mapstructure:"max_endpoints"` // <= 0 = unbounded
	Mode         string        `mapstructure:"mode"`          // hub | switch
	Expiration   time.Duration `mapstructure:"expiration"`    // switch learning window
	// SweepInterval drops expired switch entries proactively; 0 disables it.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// ─── Capture ───

// CaptureConfig records the frames entering the hub. Empty File disables it.
type CaptureConfig struct {
	File     string          `mapstructure:"file"`
	LinkType layers.LinkType `mapstructure:"link_type"`
	SnapLen  uint32          `mapstructure:"snaplen"`
	SkipSSH  bool            `mapstructure:"skip_ssh"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `fabric: ...`.
type configRoot struct {
	Fabric Config `mapstructure:"fabric"`
}

// Load loads configuration from file. The file uses `fabric:` as root key;
// env vars override it with the FABRIC_ prefix (e.g. FABRIC_HUB_LISTEN).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return load(v)
}

// Default returns the configuration used when no file is given.
func Default() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	// "fabric.hub.listen" maps to FABRIC_HUB_LISTEN.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Fabric

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		linkTypeHook,
	)
}

// linkTypeHook accepts link types by name as well as by number.
func linkTypeHook(f reflect.Type, t reflect.Type, data any) (any, error) {
	if f.Kind() != reflect.String || t != reflect.TypeOf(layers.LinkType(0)) {
		return data, nil
	}
	return ParseLinkType(data.(string))
}

// ParseLinkType parses a capture link type name ("ethernet", "raw", "ipv4",
// "ipv6", "null", "loop") or number.
func ParseLinkType(s string) (layers.LinkType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ethernet", "eth", "en10mb":
		return layers.LinkTypeEthernet, nil
	case "raw":
		return layers.LinkTypeRaw, nil
	case "ipv4", "ip4":
		return layers.LinkTypeIPv4, nil
	case "ipv6", "ip6":
		return layers.LinkTypeIPv6, nil
	case "null":
		return layers.LinkTypeNull, nil
	case "loop":
		return layers.LinkTypeLoop, nil
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: unknown link type %q", core.ErrConfigInvalid, s)
	}
	return layers.LinkType(n), nil
}

// setDefaults sets default values. All keys use the "fabric." prefix to
// match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("fabric.log.level", "info")
	v.SetDefault("fabric.log.format", "json")
	v.SetDefault("fabric.log.outputs.file.enabled", false)
	v.SetDefault("fabric.log.outputs.file.path", "/var/log/fabric/fabric.log")
	v.SetDefault("fabric.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("fabric.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("fabric.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("fabric.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("fabric.metrics.enabled", true)
	v.SetDefault("fabric.metrics.listen", ":9092")
	v.SetDefault("fabric.metrics.path", "/metrics")

	// Hub defaults
	v.SetDefault("fabric.hub.name", "")
	v.SetDefault("fabric.hub.listen", ":7002")
	v.SetDefault("fabric.hub.max_endpoints", 32)
	v.SetDefault("fabric.hub.mode", ModeHub)
	v.SetDefault("fabric.hub.expiration", "20s")
	v.SetDefault("fabric.hub.sweep_interval", "1m")

	// Capture defaults
	v.SetDefault("fabric.capture.file", "")
	v.SetDefault("fabric.capture.link_type", "ethernet")
	v.SetDefault("fabric.capture.snaplen", 65535)
	v.SetDefault("fabric.capture.skip_ssh", false)
}

// ValidateAndApplyDefaults validates configuration and fills in values that
// depend on other fields.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return fmt.Errorf("%w: log.outputs.file.path is required when the file output is enabled", core.ErrConfigInvalid)
	}

	// ── Hub validation ──
	switch cfg.Hub.Mode {
	case ModeHub, ModeSwitch:
	default:
		return fmt.Errorf("%w: unsupported hub.mode: %s (must be hub/switch)", core.ErrConfigInvalid, cfg.Hub.Mode)
	}
	if _, _, err := net.SplitHostPort(cfg.Hub.Listen); err != nil {
		return fmt.Errorf("%w: hub.listen: %v", core.ErrConfigInvalid, err)
	}
	if cfg.Hub.Expiration < 0 || cfg.Hub.SweepInterval < 0 {
		return fmt.Errorf("%w: hub durations must not be negative", core.ErrConfigInvalid)
	}
	if cfg.Hub.Name == "" {
		cfg.Hub.Name = cfg.Hub.Listen
	}

	// ── Metrics validation ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics are enabled", core.ErrConfigInvalid)
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// ── Capture ──
	if cfg.Capture.SnapLen == 0 {
		cfg.Capture.SnapLen = 65535
	}
	return nil
}
