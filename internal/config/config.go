package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr       string        `env:"HTTP_ADDR" envDefault:":5485"`
	ReadTimeout    time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout   time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout    time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"25s"`

	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`

	// Cache backend: local, sqlite, postgres, s3
	CacheBackend string `env:"CACHE_BACKEND" envDefault:"local"`
	CacheDir     string `env:"CACHE_DIR" envDefault:"cache"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"transcripts.db"`
	DatabaseURL  string `env:"DATABASE_URL"`
	DBMaxConns   int32  `env:"DATABASE_MAX_CONNS" envDefault:"10"`
	DBMinConns   int32  `env:"DATABASE_MIN_CONNS" envDefault:"2"`
	S3           S3Config

	Fetch FetchConfig
	Proxy ProxyConfig
	MQTT  MQTTConfig
}

// S3Config configures the S3 cache backend. Only used when CacheBackend is "s3".
type S3Config struct {
	Bucket       string        `env:"S3_BUCKET"`
	Endpoint     string        `env:"S3_ENDPOINT"`
	Region       string        `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKey    string        `env:"S3_ACCESS_KEY"`
	SecretKey    string        `env:"S3_SECRET_KEY"`
	Prefix       string        `env:"S3_PREFIX"`
	LocalCache   bool          `env:"S3_LOCAL_CACHE" envDefault:"false"`
	AsyncUpload  bool          `env:"S3_ASYNC_UPLOAD" envDefault:"false"`
	UploadBuffer int           `env:"S3_UPLOAD_BUFFER" envDefault:"256"`
	Reconcile    time.Duration `env:"S3_RECONCILE_INTERVAL" envDefault:"10m"`
}

// Enabled reports whether enough S3 settings are present to build a client.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// FetchConfig controls the upstream transcript fetcher.
type FetchConfig struct {
	Provider      string        `env:"FETCHER" envDefault:"youtube"`
	Timeout       time.Duration `env:"FETCH_TIMEOUT" envDefault:"20s"`
	Languages     []string      `env:"FETCH_LANGUAGES" envSeparator:"," envDefault:"en"`
	Coalesce      bool          `env:"FETCH_COALESCE" envDefault:"false"`
	MaxConcurrent int           `env:"MAX_CONCURRENT_FETCHES" envDefault:"8"`
	UpstreamURL   string        `env:"UPSTREAM_URL"`
}

// ProxyConfig holds outbound proxy settings for the fetcher. An explicit URL
// wins over Webshare credentials; neither means a direct connection.
type ProxyConfig struct {
	URL              string `env:"PROXY_URL"`
	WebshareUsername string `env:"WEBSHARE_USERNAME"`
	WebsharePassword string `env:"WEBSHARE_PASSWORD"`
}

// MQTTConfig enables fetch notifications. Empty BrokerURL disables them.
type MQTTConfig struct {
	BrokerURL   string `env:"MQTT_BROKER_URL"`
	ClientID    string `env:"MQTT_CLIENT_ID" envDefault:"yt-transcripts"`
	TopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"yt-transcripts"`
	Username    string `env:"MQTT_USERNAME"`
	Password    string `env:"MQTT_PASSWORD"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile      string
	HTTPAddr     string
	LogLevel     string
	CacheBackend string
	CacheDir     string
	DatabaseURL  string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.CacheBackend != "" {
		cfg.CacheBackend = overrides.CacheBackend
	}
	if overrides.CacheDir != "" {
		cfg.CacheDir = overrides.CacheDir
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}

	// CACHE_DIR may reference other variables, e.g. $TMPDIR/transcripts
	cfg.CacheDir = os.ExpandEnv(cfg.CacheDir)
	cfg.SQLitePath = os.ExpandEnv(cfg.SQLitePath)
	cfg.CacheBackend = strings.ToLower(strings.TrimSpace(cfg.CacheBackend))
	cfg.Fetch.Provider = strings.ToLower(strings.TrimSpace(cfg.Fetch.Provider))
	cfg.Fetch.Languages = cleanList(cfg.Fetch.Languages)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that depend on each other.
func (c *Config) Validate() error {
	switch c.CacheBackend {
	case "local":
		if c.CacheDir == "" {
			return fmt.Errorf("CACHE_DIR is required for the local cache backend")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite cache backend")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres cache backend")
		}
		if c.DBMaxConns < 1 {
			return fmt.Errorf("DATABASE_MAX_CONNS must be >= 1, got %d", c.DBMaxConns)
		}
	case "s3":
		if !c.S3.Enabled() {
			return fmt.Errorf("S3_BUCKET is required for the s3 cache backend")
		}
		if c.S3.LocalCache && c.CacheDir == "" {
			return fmt.Errorf("CACHE_DIR is required when S3_LOCAL_CACHE is enabled")
		}
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q (want local, sqlite, postgres or s3)", c.CacheBackend)
	}

	switch c.Fetch.Provider {
	case "youtube":
	case "upstream":
		if c.Fetch.UpstreamURL == "" {
			return fmt.Errorf("UPSTREAM_URL is required when FETCHER=upstream")
		}
	default:
		return fmt.Errorf("unknown FETCHER %q (want youtube or upstream)", c.Fetch.Provider)
	}

	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", c.Fetch.Timeout)
	}
	if len(c.Fetch.Languages) == 0 {
		return fmt.Errorf("FETCH_LANGUAGES must name at least one language")
	}
	if c.Fetch.MaxConcurrent < 0 {
		return fmt.Errorf("MAX_CONCURRENT_FETCHES must be >= 0, got %d", c.Fetch.MaxConcurrent)
	}

	if c.Proxy.URL != "" {
		if _, err := url.Parse(c.Proxy.URL); err != nil {
			return fmt.Errorf("invalid PROXY_URL: %w", err)
		}
	}
	if (c.Proxy.WebshareUsername == "") != (c.Proxy.WebsharePassword == "") {
		return fmt.Errorf("WEBSHARE_USERNAME and WEBSHARE_PASSWORD must be set together")
	}
	return nil
}

func cleanList(in []string) []string {
	out := in[:0]
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
