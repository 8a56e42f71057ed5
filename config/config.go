// Package config loads CLI settings from a config file, the environment and
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/axondata/go-svctl"
	"github.com/axondata/go-svctl/suspend"
)

// EnvPrefix prefixes every environment override, e.g. SVCTL_CONCURRENCY
const EnvPrefix = "SVCTL"

// SiteConfigFile is the bench-wide config holding the queue Redis URL,
// relative to the bench directory
const SiteConfigFile = "sites/common_site_config.json"

// Config is the resolved CLI configuration
type Config struct {
	SocketDir   string        `mapstructure:"socket_dir"`
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`

	ForceKillTimeout   time.Duration `mapstructure:"force_kill_timeout"`
	WaitWorkersTimeout time.Duration `mapstructure:"wait_workers_timeout"`
	WaitWorkersPoll    time.Duration `mapstructure:"wait_workers_poll"`

	BenchDir string `mapstructure:"bench_dir"`
	RedisURL string `mapstructure:"redis_url"`
	NoopFunc string `mapstructure:"noop_func"`

	Report      string `mapstructure:"report"`
	History     string `mapstructure:"history"`
	Pushgateway string `mapstructure:"pushgateway"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`
}

// flagKeys maps config keys to the flag names that override them
var flagKeys = map[string]string{
	"socket_dir":           "socket-dir",
	"concurrency":          "concurrency",
	"timeout":              "timeout",
	"force_kill_timeout":   "force-kill-timeout",
	"wait_workers_timeout": "wait-workers-timeout",
	"wait_workers_poll":    "wait-workers-poll",
	"bench_dir":            "bench",
	"redis_url":            "redis-url",
	"report":               "report",
	"history":              "history",
	"pushgateway":          "pushgateway",
	"log_level":            "log-level",
	"log_format":           "log-format",
	"log_file":             "log-file",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("socket_dir", svctl.DefaultSocketDir)
	v.SetDefault("concurrency", 0)
	v.SetDefault("timeout", time.Duration(0))
	v.SetDefault("dial_timeout", svctl.DefaultDialTimeout)
	v.SetDefault("call_timeout", svctl.DefaultCallTimeout)
	v.SetDefault("force_kill_timeout", time.Duration(0))
	v.SetDefault("wait_workers_timeout", svctl.DefaultWaitWorkersTimeout)
	v.SetDefault("wait_workers_poll", svctl.DefaultWaitWorkersPoll)
	v.SetDefault("bench_dir", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("noop_func", suspend.DefaultNoopFunc)
	v.SetDefault("report", "")
	v.SetDefault("history", "")
	v.SetDefault("pushgateway", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("log_file", "")
}

// Load resolves the configuration. Precedence, highest first: changed
// flags, SVCTL_* environment, the config file at path, defaults. The socket
// directory also honours SUPERVISOR_SOCKET_DIR. When no Redis URL is set
// the bench's site config is consulted.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("socket_dir", EnvPrefix+"_SOCKET_DIR", svctl.SocketDirEnv); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.RedisURL == "" && cfg.BenchDir != "" {
		url, err := QueueRedisURL(filepath.Join(cfg.BenchDir, SiteConfigFile))
		if err != nil {
			return nil, err
		}
		cfg.RedisURL = url
	}
	return &cfg, nil
}

// QueueRedisURL reads redis_queue from a site config JSON file. A missing
// file yields an empty URL.
func QueueRedisURL(path string) (string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read site config %s: %w", path, err)
	}
	return v.GetString("redis_queue"), nil
}
