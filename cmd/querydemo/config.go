package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/illmade-knight/go-querycache/pkg/eventsink"
	"github.com/illmade-knight/go-querycache/pkg/microservice"
	"github.com/illmade-knight/go-querycache/pkg/querycache"
	"github.com/illmade-knight/go-querycache/pkg/sources"
	"gopkg.in/yaml.v3"
)

// QueryConfig describes one query the demo keeps bound.
type QueryConfig struct {
	Key            string        `yaml:"key"`
	Path           string        `yaml:"path"`
	StaleTime      time.Duration `yaml:"stale_time"`
	GCTime         time.Duration `yaml:"gc_time"`
	RefetchOnFocus bool          `yaml:"refetch_on_focus"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
}

// Config is the demo's full configuration.
type Config struct {
	microservice.BaseConfig `yaml:",inline"`

	Cache   querycache.Config  `yaml:"cache"`
	Dedupe  bool               `yaml:"dedupe"`
	HTTP    sources.HTTPConfig `yaml:"http_source"`
	Queries []QueryConfig      `yaml:"queries"`

	// Optional backends. Each is only wired when its key field is set.
	Firestore    sources.FirestoreConfig    `yaml:"firestore"`
	FirestoreDoc string                     `yaml:"firestore_doc"`
	Redis        sources.RedisConfig        `yaml:"redis"`
	RedisKey     string                     `yaml:"redis_key"`
	Pubsub       eventsink.PubsubSinkConfig `yaml:"pubsub"`
}

// DefaultConfig mirrors the two-query demo of a posts/users page.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig: microservice.BaseConfig{
			LogLevel:    "info",
			HTTPPort:    ":8080",
			ServiceName: "querydemo",
		},
		Cache: *querycache.DefaultConfig(),
		HTTP: sources.HTTPConfig{
			BaseURL: "https://jsonplaceholder.typicode.com",
			Timeout: 10 * time.Second,
		},
		Queries: []QueryConfig{
			{Key: "users", Path: "/users", RefetchOnFocus: true},
			{Key: "posts", Path: "/posts", StaleTime: 2 * time.Minute},
		},
	}
}

// LoadConfig reads path over the defaults and then applies environment
// overrides. An empty path yields the defaults plus overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("QUERYDEMO_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("QUERYDEMO_HTTP_PORT"); v != "" {
		c.HTTPPort = v
	}
	if v := os.Getenv("QUERYDEMO_PROJECT_ID"); v != "" {
		c.ProjectID = v
		c.Firestore.ProjectID = v
	}
	if v := os.Getenv("QUERYDEMO_CREDENTIALS_FILE"); v != "" {
		c.CredentialsFile = v
	}
	if v := os.Getenv("QUERYDEMO_BASE_URL"); v != "" {
		c.HTTP.BaseURL = v
	}
	if v := os.Getenv("QUERYDEMO_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("QUERYDEMO_PUBSUB_TOPIC"); v != "" {
		c.Pubsub.TopicID = v
	}
	if v := os.Getenv("QUERYDEMO_CLOCKLESS"); v != "" {
		clockless, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid QUERYDEMO_CLOCKLESS %q: %w", v, err)
		}
		c.Cache.Clockless = clockless
	}
	if v := os.Getenv("QUERYDEMO_DEFAULT_STALE_TIME"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid QUERYDEMO_DEFAULT_STALE_TIME %q: %w", v, err)
		}
		c.Cache.DefaultStaleTime = d
	}
	return nil
}

// Validate rejects configurations the demo cannot run.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("http port cannot be empty")
	}
	seen := make(map[string]bool, len(c.Queries))
	for i, q := range c.Queries {
		if q.Key == "" {
			return fmt.Errorf("query %d: key cannot be empty", i)
		}
		if seen[q.Key] {
			return fmt.Errorf("query %q is defined twice", q.Key)
		}
		seen[q.Key] = true
	}
	if c.Firestore.CollectionName != "" && c.ProjectID == "" && c.Firestore.ProjectID == "" {
		return fmt.Errorf("firestore collection %q needs a project id", c.Firestore.CollectionName)
	}
	if c.Pubsub.TopicID != "" && c.ProjectID == "" {
		return fmt.Errorf("pubsub topic %q needs a project id", c.Pubsub.TopicID)
	}
	return nil
}

// Definition builds the query definition for q with fetch as its source.
func (q QueryConfig) Definition(fetch querycache.FetchFunc) querycache.Definition {
	return querycache.Definition{
		Key:            q.Key,
		Fetch:          fetch,
		StaleTime:      q.StaleTime,
		GCTime:         q.GCTime,
		RefetchOnFocus: q.RefetchOnFocus,
		RetryInterval:  q.RetryInterval,
	}
}
