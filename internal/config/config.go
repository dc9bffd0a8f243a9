// Package config loads host configuration. Every timeout, limit, and cadence
// in the runtime is a named key here with a default; a config file and
// BEACON_-prefixed environment variables override them.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved host configuration.
type Config struct {
	PluginDirs  []string `mapstructure:"plugin_dirs"`
	StorageRoot string   `mapstructure:"storage_root"`
	DBPath      string   `mapstructure:"db_path"`

	Discovery struct {
		MaxDepth        int   `mapstructure:"max_depth"`
		ManifestMaxSize int64 `mapstructure:"manifest_max_size"`
		BatchSize       int   `mapstructure:"batch_size"`
	} `mapstructure:"discovery"`

	Timeouts struct {
		SearchPerPlugin time.Duration `mapstructure:"search_per_plugin"`
		ActionExecute   time.Duration `mapstructure:"action_execute"`
		ServiceCall     time.Duration `mapstructure:"service_call"`
		HTTP            time.Duration `mapstructure:"http"`
		CaptureSession  time.Duration `mapstructure:"capture_session"`
		ShutdownDrain   time.Duration `mapstructure:"shutdown_drain"`
	} `mapstructure:"timeouts"`

	Lifecycle struct {
		TickInterval       time.Duration `mapstructure:"tick_interval"`
		HeartbeatInactive  time.Duration `mapstructure:"heartbeat_inactive"`
		HeartbeatUnhealthy time.Duration `mapstructure:"heartbeat_unhealthy"`
		HealthThreshold    float64       `mapstructure:"health_threshold"`
	} `mapstructure:"lifecycle"`

	Search struct {
		ResultCap int `mapstructure:"result_cap"`
	} `mapstructure:"search"`

	HTTP struct {
		MaxAttempts        int           `mapstructure:"max_attempts"`
		BackoffBase        time.Duration `mapstructure:"backoff_base"`
		BackoffCap         time.Duration `mapstructure:"backoff_cap"`
		Jitter             bool          `mapstructure:"jitter"`
		MaxInflightPerHost int           `mapstructure:"max_inflight_per_host"`
		MaxQueued          int           `mapstructure:"max_queued"`
	} `mapstructure:"http"`

	Wasm struct {
		MemoryLimitBytes uint64 `mapstructure:"memory_limit_bytes"`
		ArgLimitBytes    uint32 `mapstructure:"arg_limit_bytes"`
	} `mapstructure:"wasm"`

	Tokens struct {
		Salt          string        `mapstructure:"salt"`
		TTL           time.Duration `mapstructure:"ttl"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"tokens"`

	Cache struct {
		DefaultBudgetBytes int64         `mapstructure:"default_budget_bytes"`
		MonitorInterval    time.Duration `mapstructure:"monitor_interval"`
		PressureThreshold  float64       `mapstructure:"pressure_threshold"`
	} `mapstructure:"cache"`

	Hotkey struct {
		WaylandBackend string `mapstructure:"wayland_backend"` // "", "portal", "kde", "null"
	} `mapstructure:"hotkey"`

	Launcher struct {
		WidthRatio  float64 `mapstructure:"width_ratio"`
		HeightRatio float64 `mapstructure:"height_ratio"`
		MaxWidth    float64 `mapstructure:"max_width"`
		MaxHeight   float64 `mapstructure:"max_height"`
	} `mapstructure:"launcher"`
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".local", "share", "beacon")

	v.SetDefault("plugin_dirs", []string{filepath.Join(dataDir, "plugins")})
	v.SetDefault("storage_root", filepath.Join(dataDir, "storage"))
	v.SetDefault("db_path", filepath.Join(dataDir, "beacon.db"))

	v.SetDefault("discovery.max_depth", 6)
	v.SetDefault("discovery.manifest_max_size", int64(1<<20))
	v.SetDefault("discovery.batch_size", 16)

	v.SetDefault("timeouts.search_per_plugin", 150*time.Millisecond)
	v.SetDefault("timeouts.action_execute", 5*time.Second)
	v.SetDefault("timeouts.service_call", 30*time.Second)
	v.SetDefault("timeouts.http", 30*time.Second)
	v.SetDefault("timeouts.capture_session", 10*time.Second)
	v.SetDefault("timeouts.shutdown_drain", 2*time.Second)

	v.SetDefault("lifecycle.tick_interval", time.Second)
	v.SetDefault("lifecycle.heartbeat_inactive", 60*time.Second)
	v.SetDefault("lifecycle.heartbeat_unhealthy", 30*time.Second)
	v.SetDefault("lifecycle.health_threshold", 0.8)

	v.SetDefault("search.result_cap", 50)

	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.backoff_base", 100*time.Millisecond)
	v.SetDefault("http.backoff_cap", 60*time.Second)
	v.SetDefault("http.jitter", true)
	v.SetDefault("http.max_inflight_per_host", 8)
	v.SetDefault("http.max_queued", 128)

	v.SetDefault("wasm.memory_limit_bytes", uint64(32<<20))
	v.SetDefault("wasm.arg_limit_bytes", uint32(1<<20))

	v.SetDefault("tokens.salt", "beacon-token-v1")
	v.SetDefault("tokens.ttl", 30*24*time.Hour)
	v.SetDefault("tokens.sweep_interval", 5*time.Minute)

	v.SetDefault("cache.default_budget_bytes", int64(16<<20))
	v.SetDefault("cache.monitor_interval", 10*time.Second)
	v.SetDefault("cache.pressure_threshold", 0.9)

	v.SetDefault("hotkey.wayland_backend", "")

	v.SetDefault("launcher.width_ratio", 0.35)
	v.SetDefault("launcher.height_ratio", 0.28)
	v.SetDefault("launcher.max_width", 800.0)
	v.SetDefault("launcher.max_height", 600.0)
}

// Load reads configuration from the optional file path plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BEACON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	cfg, _ := Load("")
	return cfg
}
