// Package config loads service settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	Debug    bool   `yaml:"debug"`
	LogJSON  bool   `yaml:"log_json"`

	Database Database `yaml:"database"`
	Redis    Redis    `yaml:"redis"`
	Auth     Auth     `yaml:"auth"`
	OpenAI   OpenAI   `yaml:"openai"`
	Azure    Azure    `yaml:"azure"`
	Activity Activity `yaml:"activity"`
}

type Database struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
}

type Redis struct {
	ConnectionString string        `yaml:"connection_string"`
	BoardCacheTTL    time.Duration `yaml:"board_cache_ttl"`
	DeduperTTL       time.Duration `yaml:"deduper_ttl"`
	UpdatesChannel   string        `yaml:"updates_channel"`
}

type Auth struct {
	Domain     string        `yaml:"domain"`
	Audience   string        `yaml:"audience"`
	TestMode   bool          `yaml:"test_mode"`
	TestSecret string        `yaml:"test_secret"`
	KeyTTL     time.Duration `yaml:"key_ttl"`
}

type OpenAI struct {
	APIKey         string  `yaml:"api_key"`
	BaseURL        string  `yaml:"base_url"`
	ChatModel      string  `yaml:"chat_model"`
	EmbeddingModel string  `yaml:"embedding_model"`
	MatchThreshold float64 `yaml:"match_threshold"`
	MatchCount     int     `yaml:"match_count"`
}

type Azure struct {
	ConnectionString string `yaml:"connection_string"`
	ActivityTable    string `yaml:"activity_table"`
	EventsQueue      string `yaml:"events_queue"`
}

type Activity struct {
	Workers        int           `yaml:"workers"`
	Buffer         int           `yaml:"buffer"`
	Timeout        time.Duration `yaml:"timeout"`
	HandoffTimeout time.Duration `yaml:"handoff_timeout"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		HTTPAddr: ":8080",
		Database: Database{Driver: "sqlite", URL: "taskflow.db"},
		Redis: Redis{
			BoardCacheTTL:  5 * time.Minute,
			DeduperTTL:     24 * time.Hour,
			UpdatesChannel: "board-updates",
		},
		Auth: Auth{KeyTTL: 15 * time.Minute},
		OpenAI: OpenAI{
			BaseURL:        "https://api.openai.com/v1",
			ChatModel:      "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			MatchThreshold: 0.75,
			MatchCount:     10,
		},
		Activity: Activity{
			Workers:        4,
			Buffer:         1024,
			Timeout:        30 * time.Second,
			HandoffTimeout: 15 * time.Millisecond,
		},
	}
}

// Load reads path when it is not empty, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	var errs []error
	c.HTTPAddr = envString("HTTP_ADDR", c.HTTPAddr)
	if port, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok && port != "" {
		c.HTTPAddr = ":" + port
	}
	c.Debug = envBool("DEBUG", c.Debug, &errs)
	c.LogJSON = envString("LOG_FORMAT", "") == "json" || c.LogJSON

	c.Database.Driver = envString("DB_DRIVER", c.Database.Driver)
	c.Database.URL = envString("DATABASE_URL", c.Database.URL)

	c.Redis.ConnectionString = envString("REDIS_CONNECTION_STRING", c.Redis.ConnectionString)
	c.Redis.BoardCacheTTL = envDur("BOARD_CACHE_TTL", c.Redis.BoardCacheTTL, &errs)
	c.Redis.DeduperTTL = envDur("DEDUPER_TTL", c.Redis.DeduperTTL, &errs)
	c.Redis.UpdatesChannel = envString("BOARD_UPDATES_CHANNEL", c.Redis.UpdatesChannel)

	c.Auth.Domain = envString("AUTH0_DOMAIN", c.Auth.Domain)
	c.Auth.Audience = envString("AUTH0_AUDIENCE", c.Auth.Audience)
	c.Auth.TestMode = envString("AUTH0_TEST_MODE", "") == "1" || c.Auth.TestMode
	c.Auth.TestSecret = envString("TEST_JWT_SECRET", c.Auth.TestSecret)
	c.Auth.KeyTTL = envDur("JWKS_CACHE_TTL", c.Auth.KeyTTL, &errs)

	c.OpenAI.APIKey = envString("OPENAI_API_KEY", c.OpenAI.APIKey)
	c.OpenAI.BaseURL = envString("OPENAI_BASE_URL", c.OpenAI.BaseURL)
	c.OpenAI.ChatModel = envString("OPENAI_CHAT_MODEL", c.OpenAI.ChatModel)
	c.OpenAI.EmbeddingModel = envString("OPENAI_EMBEDDING_MODEL", c.OpenAI.EmbeddingModel)
	c.OpenAI.MatchThreshold = envFloat("AI_MATCH_THRESHOLD", c.OpenAI.MatchThreshold, &errs)
	c.OpenAI.MatchCount = envInt("AI_MATCH_COUNT", c.OpenAI.MatchCount, &errs)

	c.Azure.ConnectionString = envString("STORAGE_CONNECTION_STRING", c.Azure.ConnectionString)
	c.Azure.ActivityTable = envString("ACTIVITY_TABLE", c.Azure.ActivityTable)
	c.Azure.EventsQueue = envString("EVENTS_QUEUE", c.Azure.EventsQueue)

	c.Activity.Workers = envInt("ACTIVITY_WORKERS", c.Activity.Workers, &errs)
	c.Activity.Buffer = envInt("ACTIVITY_BUFFER", c.Activity.Buffer, &errs)
	c.Activity.Timeout = envDur("ACTIVITY_TIMEOUT", c.Activity.Timeout, &errs)
	c.Activity.HandoffTimeout = envDur("ACTIVITY_HANDOFF_TIMEOUT", c.Activity.HandoffTimeout, &errs)

	return errors.Join(errs...)
}

// Validate checks settings that cannot have a sensible default.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return errors.New("missing database url")
	}
	if c.Auth.TestMode {
		if c.Auth.TestSecret == "" {
			return errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
		}
	} else if c.Auth.Domain == "" || c.Auth.Audience == "" {
		return errors.New("missing Auth0 config")
	}
	if c.Activity.Workers <= 0 || c.Activity.Buffer < 0 {
		return errors.New("activity workers must be positive and buffer non-negative")
	}
	if c.OpenAI.MatchCount <= 0 {
		return errors.New("invalid AI_MATCH_COUNT: must be greater than zero")
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func envDur(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q", key, v))
		return def
	}
	return d
}

func envBool(key string, def bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return b
}

func envFloat(key string, def float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return f
}
