// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/housing-harvester/internal/logging"
)

// EnvPrefix namespaces every environment override, e.g. HARVESTER_DB_DSN.
const EnvPrefix = "HARVESTER"

// Archive backends.
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// DefaultRegions are the province slugs harvested when none are configured.
var DefaultRegions = []string{
	"dki-jakarta", "jawa-barat", "banten", "jawa-timur", "jawa-tengah",
	"bali", "daerah-istimewa-yogyakarta", "sumatera-utara", "kepulauan-riau",
	"sulawesi-selatan", "kalimantan-timur", "riau", "lampung", "sumatera-selatan",
	"kalimantan-barat", "sulawesi-utara", "nusa-tenggara-barat", "nusa-tenggara-timur",
	"sumatera-barat", "kalimantan-selatan", "jambi", "kepulauan-bangka-belitung",
	"kalimantan-tengah", "papua", "aceh", "bengkulu", "papua-barat", "sulawesi-tengah",
	"sulawesi-tenggara", "gorontalo", "kalimantan-utara", "maluku-utara",
	"sulawesi-barat", "maluku",
}

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Site    SiteConfig     `mapstructure:"site"`
	HTTP    HTTPConfig     `mapstructure:"http"`
	Crawler CrawlerConfig  `mapstructure:"crawler"`
	Enrich  EnrichConfig   `mapstructure:"enrich"`
	DB      DBConfig       `mapstructure:"db"`
	Archive ArchiveConfig  `mapstructure:"archive"`
	PubSub  PubSubConfig   `mapstructure:"pubsub"`
	Server  ServerConfig   `mapstructure:"server"`
	Logging logging.Config `mapstructure:"logging"`
}

// SiteConfig locates the listing site and the regions to walk.
type SiteConfig struct {
	BaseURL     string   `mapstructure:"base_url" validate:"required,url"`
	ListingPath string   `mapstructure:"listing_path" validate:"required"`
	Category    string   `mapstructure:"category" validate:"required"`
	Regions     []string `mapstructure:"regions" validate:"required,min=1,unique,dive,required"`
}

// HTTPConfig configures page fetching and its retry behavior.
type HTTPConfig struct {
	UserAgent        string `mapstructure:"user_agent" validate:"required"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds" validate:"gt=0"`
	MaxRetries       int    `mapstructure:"max_retries" validate:"gte=0"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms" validate:"gt=0"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms" validate:"gtefield=BackoffInitialMs"`
	RespectRobots    bool   `mapstructure:"respect_robots"`
}

// CrawlerConfig bounds the two worker pools.
type CrawlerConfig struct {
	RegionWorkers     int `mapstructure:"region_workers" validate:"gt=0"`
	DetailConcurrency int `mapstructure:"detail_concurrency" validate:"gt=0"`
}

// EnrichConfig configures the geodata API client.
type EnrichConfig struct {
	Endpoint                 string `mapstructure:"endpoint" validate:"required,url"`
	MinIntervalMs            int    `mapstructure:"min_interval_ms" validate:"gte=0"`
	MaxRetries               int    `mapstructure:"max_retries" validate:"gt=0"`
	RetryDelaySeconds        int    `mapstructure:"retry_delay_seconds" validate:"gte=0"`
	DefaultRetryAfterSeconds int    `mapstructure:"default_retry_after_seconds" validate:"gt=0"`
	QueryTimeoutSeconds      int    `mapstructure:"query_timeout_seconds" validate:"gt=0"`
	RequestTimeoutSeconds    int    `mapstructure:"request_timeout_seconds" validate:"gt=0"`
	Workers                  int    `mapstructure:"workers" validate:"gt=0"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn" validate:"required"`
	MaxConns               int32  `mapstructure:"max_conns" validate:"gte=0"`
	MinConns               int32  `mapstructure:"min_conns" validate:"gte=0"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes" validate:"gte=0"`
}

// ArchiveConfig selects where raw detail pages are kept.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=none local gcs"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds page commit notification settings.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the status API.
type ServerConfig struct {
	Port int `mapstructure:"port" validate:"gt=0,lte=65535"`
}

// Load builds a Config from .env, an optional file, and the environment.
// Environment variables win over the file, which wins over defaults.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.base_url", "https://www.rumah123.com")
	v.SetDefault("site.listing_path", "jual")
	v.SetDefault("site.category", "rumah")
	v.SetDefault("site.regions", DefaultRegions)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (compatible; housing-harvester/1.0)")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 30000)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("crawler.region_workers", 4)
	v.SetDefault("crawler.detail_concurrency", 4)
	v.SetDefault("enrich.endpoint", "https://overpass-api.de/api/interpreter")
	v.SetDefault("enrich.min_interval_ms", 2000)
	v.SetDefault("enrich.max_retries", 3)
	v.SetDefault("enrich.retry_delay_seconds", 5)
	v.SetDefault("enrich.default_retry_after_seconds", 60)
	v.SetDefault("enrich.query_timeout_seconds", 60)
	v.SetDefault("enrich.request_timeout_seconds", 90)
	v.SetDefault("enrich.workers", 2)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.dir", "")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "page-commits")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Archive.Backend {
	case ArchiveLocal:
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir must be set for the local archive")
		}
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs archive")
		}
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	if c.DB.MaxConns > 0 && c.DB.MinConns > c.DB.MaxConns {
		return fmt.Errorf("db.min_conns must not exceed db.max_conns")
	}
	return nil
}

// FetchTimeout is the per-request page fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffBase is the first retry delay for page fetches.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax caps the retry delay for page fetches.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}

// EnrichMinInterval is the spacing enforced between geodata API calls.
func (c Config) EnrichMinInterval() time.Duration {
	return time.Duration(c.Enrich.MinIntervalMs) * time.Millisecond
}

// ConnLifetime is the maximum age of a pooled database connection.
func (c Config) ConnLifetime() time.Duration {
	return time.Duration(c.DB.MaxConnLifetimeMinutes) * time.Minute
}
