package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"go-aftershock/types"
)

const (
	StoreMemory       = "memory"
	StoreFirestore    = "firestore"
	NotifierWebsocket = "websocket"
	NotifierRedis     = "redis"
	ProviderHTTP      = "http"
	ProviderOpenAI    = "openai"
)

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type FeedConfig struct {
	URL          string        `yaml:"url"`
	MinMagnitude float64       `yaml:"min_magnitude"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Lookback     time.Duration `yaml:"lookback"` // overlap margin subtracted from now on every tick
	Timeout      time.Duration `yaml:"timeout"`
}

type AIConfig struct {
	Provider     string        `yaml:"provider"` // http | openai
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	OpenAIKey    string        `yaml:"openai_api_key"`
	OpenAIModel  string        `yaml:"openai_model"`
	RecentWindow time.Duration `yaml:"recent_window"`
	RecentLimit  int           `yaml:"recent_limit"`
}

type WorkerConfig struct {
	PoolSize  int `yaml:"pool_size"`
	QueueSize int `yaml:"queue_size"`
}

type OnDemandConfig struct {
	Deadline time.Duration `yaml:"deadline"`
}

type StoreConfig struct {
	Backend             string `yaml:"backend"` // memory | firestore
	FirebaseCredentials string `yaml:"firebase_credentials"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NotifierConfig struct {
	Backend string      `yaml:"backend"` // websocket | redis
	Redis   RedisConfig `yaml:"redis"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type MapsConfig struct {
	APIKey string `yaml:"api_key"`
}

// SeedUser is a directory entry for the memory store backend.
type SeedUser struct {
	types.UserProfile `yaml:",inline"`
	Medical           *types.MedicalProfile `yaml:"medical"`
}

type Config struct {
	LogLevel string         `yaml:"log_level"`
	Server   ServerConfig   `yaml:"server"`
	Feed     FeedConfig     `yaml:"feed"`
	AI       AIConfig       `yaml:"ai"`
	Workers  WorkerConfig   `yaml:"workers"`
	OnDemand OnDemandConfig `yaml:"ondemand"`
	Store    StoreConfig    `yaml:"store"`
	Notifier NotifierConfig `yaml:"notifier"`
	Auth     AuthConfig     `yaml:"auth"`
	Maps     MapsConfig     `yaml:"maps"`
	Users    []SeedUser     `yaml:"users"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server:   ServerConfig{Addr: ":8080"},
		Feed: FeedConfig{
			URL:          "https://earthquake.usgs.gov/fdsnws/event/1/query",
			MinMagnitude: 4.0,
			PollInterval: time.Minute,
			Lookback:     time.Minute,
			Timeout:      10 * time.Second,
		},
		AI: AIConfig{
			Provider:     ProviderHTTP,
			BaseURL:      "http://127.0.0.1:8081/api/ai",
			Timeout:      25 * time.Second,
			OpenAIModel:  "gpt-4o-mini",
			RecentWindow: 24 * time.Hour,
			RecentLimit:  3,
		},
		Workers:  WorkerConfig{PoolSize: 10, QueueSize: 256},
		OnDemand: OnDemandConfig{Deadline: 30 * time.Second},
		Store:    StoreConfig{Backend: StoreMemory},
		Notifier: NotifierConfig{Backend: NotifierWebsocket},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in that order. A .env file in the working directory is
// loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
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
	var errs []error
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		c.Server.Addr = ":" + strings.TrimPrefix(port, ":")
	}
	setString("LOG_LEVEL", &c.LogLevel)
	setString("FEED_URL", &c.Feed.URL)
	if v := os.Getenv("FEED_MIN_MAGNITUDE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("FEED_MIN_MAGNITUDE: %w", err))
		} else {
			c.Feed.MinMagnitude = f
		}
	}
	setDuration("FEED_POLL_INTERVAL", &c.Feed.PollInterval)
	setDuration("FEED_LOOKBACK", &c.Feed.Lookback)
	setDuration("FEED_TIMEOUT", &c.Feed.Timeout)
	setString("AI_SERVER_URL", &c.AI.BaseURL)
	setString("AI_PROVIDER", &c.AI.Provider)
	setDuration("AI_TIMEOUT", &c.AI.Timeout)
	setDuration("AI_RECENT_WINDOW", &c.AI.RecentWindow)
	setInt("AI_RECENT_LIMIT", &c.AI.RecentLimit)
	setString("OPENAI_API_KEY", &c.AI.OpenAIKey)
	setString("OPENAI_MODEL", &c.AI.OpenAIModel)
	setInt("WORKER_POOL_SIZE", &c.Workers.PoolSize)
	setInt("WORKER_QUEUE_SIZE", &c.Workers.QueueSize)
	setDuration("ONDEMAND_DEADLINE", &c.OnDemand.Deadline)
	setString("STORE_BACKEND", &c.Store.Backend)
	setString("FIREBASE_CREDENTIALS", &c.Store.FirebaseCredentials)
	setString("NOTIFIER_BACKEND", &c.Notifier.Backend)
	setString("REDIS_ADDR", &c.Notifier.Redis.Address)
	setString("REDIS_PASSWORD", &c.Notifier.Redis.Password)
	setInt("REDIS_DB", &c.Notifier.Redis.DB)
	setString("JWT_SECRET", &c.Auth.JWTSecret)
	setString("MAPS_CREDENTIALS", &c.Maps.APIKey)

	return errors.Join(errs...)
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Feed.URL) == "" {
		errs = append(errs, errors.New("feed url is required"))
	}
	if c.Feed.PollInterval <= 0 {
		errs = append(errs, errors.New("feed poll interval must be positive"))
	}
	if c.Feed.Lookback < 0 {
		errs = append(errs, errors.New("feed lookback must not be negative"))
	}
	if c.Workers.PoolSize <= 0 {
		errs = append(errs, errors.New("worker pool size must be positive"))
	}
	if c.Workers.QueueSize < 0 {
		errs = append(errs, errors.New("worker queue size must not be negative"))
	}
	if c.OnDemand.Deadline <= 0 {
		errs = append(errs, errors.New("on-demand deadline must be positive"))
	}
	if c.AI.RecentLimit <= 0 {
		errs = append(errs, errors.New("ai recent limit must be positive"))
	}

	switch c.AI.Provider {
	case ProviderHTTP:
		if strings.TrimSpace(c.AI.BaseURL) == "" {
			errs = append(errs, errors.New("ai base url is required for the http provider"))
		}
	case ProviderOpenAI:
		if c.AI.OpenAIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ai provider %q", c.AI.Provider))
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreFirestore:
		if c.Store.FirebaseCredentials == "" {
			errs = append(errs, errors.New("FIREBASE_CREDENTIALS is required for the firestore backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}

	switch c.Notifier.Backend {
	case NotifierWebsocket:
	case NotifierRedis:
		if c.Notifier.Redis.Address == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis notifier"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notifier backend %q", c.Notifier.Backend))
	}

	return errors.Join(errs...)
}
