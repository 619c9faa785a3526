package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	BackendCouchDB = "couchdb"
	BackendMirror  = "mirror"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Upstream struct {
		Backend        string `yaml:"backend"`
		URL            string `yaml:"url"`
		User           string `yaml:"user"`
		Password       string `yaml:"password"`
		Database       string `yaml:"database"`
		Design         string `yaml:"design"`
		View           string `yaml:"view"`
		Update         string `yaml:"update"`
		PageSize       int    `yaml:"page_size"`
		KeyUnitSeconds int64  `yaml:"key_unit_seconds"`
		BaseSymbol     string `yaml:"base_symbol"`
		Retries        int    `yaml:"retries"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"upstream"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Mirror struct {
		Schedule string `yaml:"schedule"`
		Workers  int    `yaml:"workers"`
	} `yaml:"mirror"`
	Cache struct {
		RedisURL   string `yaml:"redis_url"`
		Prefix     string `yaml:"prefix"`
		TTLSeconds int    `yaml:"ttl_seconds"`
	} `yaml:"cache"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Upstream.BaseSymbol = "usd"

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Upstream.Backend = getEnv("BACKEND", cfg.Upstream.Backend)
	cfg.Upstream.URL = getEnv("COUCHDB_URL", cfg.Upstream.URL)
	cfg.Upstream.User = getEnv("COUCHDB_USER", cfg.Upstream.User)
	cfg.Upstream.Password = getEnv("COUCHDB_PASSWORD", cfg.Upstream.Password)
	cfg.Upstream.Database = getEnv("COUCHDB_DATABASE", cfg.Upstream.Database)
	cfg.Upstream.PageSize = getEnvInt("PAGE_SIZE", cfg.Upstream.PageSize)
	cfg.Upstream.Retries = getEnvInt("UPSTREAM_RETRIES", cfg.Upstream.Retries)
	cfg.Database.Path = getEnv("DB_PATH", cfg.Database.Path)
	cfg.Mirror.Schedule = getEnv("MIRROR_SCHEDULE", cfg.Mirror.Schedule)
	cfg.Mirror.Workers = getEnvInt("WORKERS", cfg.Mirror.Workers)
	cfg.Cache.RedisURL = getEnv("REDIS_URL", cfg.Cache.RedisURL)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)

	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Upstream.Backend == "" {
		cfg.Upstream.Backend = BackendCouchDB
	}
	if cfg.Upstream.URL == "" {
		cfg.Upstream.URL = "http://localhost:5984"
	}
	if cfg.Upstream.Update == "" {
		cfg.Upstream.Update = "lazy"
	}
	if cfg.Upstream.PageSize == 0 {
		cfg.Upstream.PageSize = 100000
	}
	if cfg.Upstream.KeyUnitSeconds == 0 {
		cfg.Upstream.KeyUnitSeconds = 10
	}
	if cfg.Upstream.TimeoutSeconds == 0 {
		cfg.Upstream.TimeoutSeconds = 60
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "cryptoprices.db"
	}
	if cfg.Mirror.Workers == 0 {
		cfg.Mirror.Workers = 4
	}
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = 300
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	return cfg, nil
}

// Validate checks values that have no usable default.
func (c *Config) Validate() error {
	switch c.Upstream.Backend {
	case BackendCouchDB, BackendMirror:
	default:
		return fmt.Errorf("upstream.backend must be %q or %q, got %q", BackendCouchDB, BackendMirror, c.Upstream.Backend)
	}
	if !strings.HasPrefix(c.Upstream.URL, "http://") && !strings.HasPrefix(c.Upstream.URL, "https://") {
		return fmt.Errorf("upstream.url must be an http(s) URL, got %q", c.Upstream.URL)
	}
	if c.Upstream.PageSize < 1 {
		return fmt.Errorf("upstream.page_size must be positive")
	}
	if c.Upstream.KeyUnitSeconds < 1 {
		return fmt.Errorf("upstream.key_unit_seconds must be positive")
	}
	if c.Upstream.Retries < 0 {
		return fmt.Errorf("upstream.retries must not be negative")
	}
	if c.Upstream.TimeoutSeconds < 1 {
		return fmt.Errorf("upstream.timeout_seconds must be positive")
	}
	if c.Cache.TTLSeconds < 1 {
		return fmt.Errorf("cache.ttl_seconds must be positive")
	}
	if c.Mirror.Workers < 1 {
		return fmt.Errorf("mirror.workers must be positive")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LogLevel parses log.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring invalid integer environment variable", "key", key, "value", v)
		return fallback
	}
	return n
}
