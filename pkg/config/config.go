package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix = "WIKICRAWL"
	appDir    = "wiki-archiver"

	BackendFile  = "file"
	BackendRedis = "redis"
)

// Config holds the application configuration.
type Config struct {
	BaseURL         string   `mapstructure:"base_url"`
	BaseDir         string   `mapstructure:"base_dir"`
	ProgressFile    string   `mapstructure:"progress_file"`
	ExcludePrefixes []string `mapstructure:"exclude_prefixes"`

	Retry      RetryConfig      `mapstructure:"retry"`
	Renderer   RendererConfig   `mapstructure:"renderer"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
}

// RetryConfig controls backoff between failed renders.
type RetryConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxAttempts int           `mapstructure:"max_attempts"` // 0 retries forever
}

type RendererConfig struct {
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
	PageTimeout  time.Duration `mapstructure:"page_timeout"`
	WaitSelector string        `mapstructure:"wait_selector"`
	Headless     bool          `mapstructure:"headless"`
	ChromePath   string        `mapstructure:"chrome_path"`
	UserAgent    string        `mapstructure:"user_agent"`
	ProxyServer  string        `mapstructure:"proxy_server"`
}

type ArchiveConfig struct {
	Disambiguate bool `mapstructure:"disambiguate"`
}

type CheckpointConfig struct {
	Backend string `mapstructure:"backend"` // file or redis
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"base-url":      "base_url",
	"base-dir":      "base_dir",
	"progress-file": "progress_file",
	"max-attempts":  "retry.max_attempts",
	"log-level":     "log.level",
	"log-file":      "log.file",
	"server-addr":   "server.addr",
	"backend":       "checkpoint.backend",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("base_url", "")
	v.SetDefault("base_dir", filepath.Join(xdg.DataHome, appDir, "pages"))
	v.SetDefault("progress_file", filepath.Join(xdg.DataHome, appDir, "progress.ckpt"))
	v.SetDefault("exclude_prefixes", []string{"/Special:"})

	v.SetDefault("retry.base_delay", 5*time.Second)
	v.SetDefault("retry.max_delay", 5*time.Minute)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_attempts", 10)

	v.SetDefault("renderer.ready_timeout", 10*time.Second)
	v.SetDefault("renderer.page_timeout", 60*time.Second)
	v.SetDefault("renderer.wait_selector", "body")
	v.SetDefault("renderer.headless", true)
	v.SetDefault("renderer.chrome_path", "")
	v.SetDefault("renderer.user_agent", "")
	v.SetDefault("renderer.proxy_server", "")

	v.SetDefault("archive.disambiguate", false)
	v.SetDefault("checkpoint.backend", BackendFile)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "")

	v.SetDefault("postgres.url", "")
	v.SetDefault("server.addr", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "download.log")
}

// Load reads configuration from defaults, an optional config file, WIKICRAWL_*
// environment variables and finally any flags in flags that were set.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url %q must be an absolute URL", c.BaseURL)
	}
	if c.BaseDir == "" {
		return errors.New("base_dir is required")
	}
	if c.Checkpoint.Backend == BackendFile && c.ProgressFile == "" {
		return errors.New("progress_file is required for the file backend")
	}
	switch c.Checkpoint.Backend {
	case BackendFile, BackendRedis:
	default:
		return fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend)
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1, got %v", c.Retry.Multiplier)
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return errors.New("retry delays must not be negative")
	}
	return nil
}
