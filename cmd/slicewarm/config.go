package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Config is the worker configuration. Precedence: defaults, YAML file,
// SLICEWARM_* environment variables.
type Config struct {
	Namespace string        `yaml:"namespace"`
	Redis     RedisConfig   `yaml:"redis"`
	Queue     QueueConfig   `yaml:"queue"`
	Cache     CacheConfig   `yaml:"cache"`
	Log       LogConfig     `yaml:"log"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

type RedisConfig struct {
	Connections map[string]RedisConn `yaml:"connections"`
}

type RedisConn struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type QueueConfig struct {
	Connection string        `yaml:"connection"`
	DB         int           `yaml:"db"`
	Prefix     string        `yaml:"prefix"`
	Channels   []string      `yaml:"channels"`
	Poll       time.Duration `yaml:"poll"`
	Batch      int64         `yaml:"batch"`
}

type CacheConfig struct {
	DefaultTTL     time.Duration `yaml:"default_ttl"`
	MaxSlices      int           `yaml:"max_slices"`
	RefreshAdvance time.Duration `yaml:"refresh_advance"`
	RefreshChannel string        `yaml:"refresh_channel"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

func DefaultConfig() Config {
	return Config{
		Namespace: "svr2",
		Redis: RedisConfig{Connections: map[string]RedisConn{
			"default": {Addr: "localhost:6379", PoolSize: 10, DialTimeout: 5 * time.Second},
		}},
		Queue: QueueConfig{
			Connection: "default",
			Prefix:     "slicecache:queue",
			Channels:   []string{"high", "default", "low"},
			Poll:       time.Second,
			Batch:      64,
		},
		Cache: CacheConfig{
			DefaultTTL:     5 * time.Minute,
			MaxSlices:      40,
			RefreshAdvance: 100 * time.Second,
			RefreshChannel: "high",
		},
		Log:     LogConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Addr: ":9102"},
	}
}

// LoadConfig reads path (optional) over the defaults and applies env overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg, os.LookupEnv)
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup("SLICEWARM_NAMESPACE"); ok {
		cfg.Namespace = v
	}
	if v, ok := lookup("SLICEWARM_REDIS_ADDR"); ok {
		c := cfg.Redis.Connections[cfg.Queue.Connection]
		c.Addr = v
		if cfg.Redis.Connections == nil {
			cfg.Redis.Connections = map[string]RedisConn{}
		}
		cfg.Redis.Connections[cfg.Queue.Connection] = c
	}
	if v, ok := lookup("SLICEWARM_LOG_LEVEL"); ok {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookup("SLICEWARM_METRICS_ADDR"); ok {
		cfg.Metrics.Addr = v
	}
}

func (c Config) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("config: namespace is required")
	}
	if len(c.Redis.Connections) == 0 {
		return fmt.Errorf("config: at least one redis connection is required")
	}
	for name, conn := range c.Redis.Connections {
		if conn.Addr == "" {
			return fmt.Errorf("config: redis connection %q has no addr", name)
		}
	}
	if _, ok := c.Redis.Connections[c.Queue.Connection]; !ok {
		return fmt.Errorf("config: queue connection %q is not defined", c.Queue.Connection)
	}
	if c.Cache.RefreshAdvance >= c.Cache.DefaultTTL {
		return fmt.Errorf("config: refresh_advance %v must be below default_ttl %v", c.Cache.RefreshAdvance, c.Cache.DefaultTTL)
	}
	return nil
}

// RedisOptions converts the named connections to go-redis options.
func (c Config) RedisOptions() map[string]*goredis.Options {
	out := make(map[string]*goredis.Options, len(c.Redis.Connections))
	for name, conn := range c.Redis.Connections {
		out[name] = &goredis.Options{
			Addr:         conn.Addr,
			Username:     conn.Username,
			Password:     conn.Password,
			PoolSize:     conn.PoolSize,
			DialTimeout:  conn.DialTimeout,
			ReadTimeout:  conn.ReadTimeout,
			WriteTimeout: conn.WriteTimeout,
		}
	}
	return out
}
