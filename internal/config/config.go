package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"framestack/internal/models"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int64
}

type LoggingConfig struct {
	Level string
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ApplicationName string
	// StatementTimeout is set server side on every connection. Zero leaves
	// the server default.
	StatementTimeout time.Duration
}

// MetadataConfig selects the relational backend. Driver is "postgres" or
// "sqlite"; SQLitePath may be ":memory:".
type MetadataConfig struct {
	Driver     string
	SQLitePath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type QueueConfig struct {
	Stream        string
	Group         string
	Consumer      string
	ClaimInterval time.Duration
	MaxDeliveries int64
}

// BucketConfig names the bucket each variant is written to.
type BucketConfig struct {
	Original string
	Cropped  string
	Pending  string
}

// For returns the bucket that holds variant v.
func (b BucketConfig) For(v models.Variant) string {
	switch v {
	case models.VariantCropped:
		return b.Cropped
	case models.VariantPending:
		return b.Pending
	default:
		return b.Original
	}
}

func (b BucketConfig) All() []string {
	return []string{b.Original, b.Cropped, b.Pending}
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	PathStyle bool
	Buckets   BucketConfig
}

type SigningConfig struct {
	TTL      time.Duration
	Timeout  time.Duration
	Verify   bool
	CacheTTL time.Duration
}

type PipelineConfig struct {
	MaxFiles           int
	WriteTimeout       time.Duration
	WriteAttempts      int
	DeriveWorkers      int
	ReclaimConcurrency int
}

type DeriveConfig struct {
	CropSize    int
	JPEGQuality int
	MaxPixels   int
}

// TelemetryConfig points tracing at an OTLP/HTTP collector. An empty
// Endpoint disables export.
type TelemetryConfig struct {
	Endpoint    string
	ServiceName string
	SampleRatio float64
}

type SweepConfig struct {
	Schedule  string
	Grace     time.Duration
	BatchSize int
}

type AppConfig struct {
	Environment      string
	Logging          LoggingConfig
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Metadata         MetadataConfig
	Redis            RedisConfig
	Queue            QueueConfig
	Storage          StorageConfig
	Signing          SigningConfig
	Pipeline         PipelineConfig
	Derive           DeriveConfig
	Sweep            SweepConfig
	Telemetry        TelemetryConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	return LoadFrom("")
}

// LoadFrom reads the given config file, or searches the default locations
// when path is empty.
func LoadFrom(path string) (*AppConfig, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
	}

	v.SetEnvPrefix("FRAMESTACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *AppConfig) Validate() error {
	switch c.Metadata.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unknown metadata driver %q", c.Metadata.Driver)
	}
	b := c.Storage.Buckets
	if b.Original == "" || b.Cropped == "" || b.Pending == "" {
		return fmt.Errorf("config: storage.buckets.original, cropped and pending are required")
	}
	if c.Pipeline.MaxFiles < 1 {
		return fmt.Errorf("config: pipeline.maxfiles must be positive")
	}
	if c.Pipeline.WriteAttempts < 1 {
		return fmt.Errorf("config: pipeline.writeattempts must be positive")
	}
	if r := c.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("config: telemetry.sampleratio must be between 0 and 1")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("logging.level", "")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "30s")
	v.SetDefault("http.writetimeout", "60s")
	v.SetDefault("http.idletimeout", "60s")
	v.SetDefault("http.maxbodybytes", 64<<20)

	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")
	v.SetDefault("postgres.connmaxidletime", "5m")
	v.SetDefault("postgres.applicationname", "framestack")
	v.SetDefault("postgres.statementtimeout", "15s")

	v.SetDefault("metadata.driver", "postgres")
	v.SetDefault("metadata.sqlitepath", "framestack.db")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("queue.stream", "media:maintenance")
	v.SetDefault("queue.group", "media-workers")
	v.SetDefault("queue.consumer", "worker-1")
	v.SetDefault("queue.claiminterval", "30s")
	v.SetDefault("queue.maxdeliveries", 10)

	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.pathstyle", true)
	v.SetDefault("storage.buckets.original", "framestack-original")
	v.SetDefault("storage.buckets.cropped", "framestack-cropped")
	v.SetDefault("storage.buckets.pending", "framestack-pending")

	v.SetDefault("signing.ttl", "1h")
	v.SetDefault("signing.timeout", "5s")
	v.SetDefault("signing.verify", false)
	v.SetDefault("signing.cachettl", "30m")

	v.SetDefault("pipeline.maxfiles", 10)
	v.SetDefault("pipeline.writetimeout", "30s")
	v.SetDefault("pipeline.writeattempts", 3)
	v.SetDefault("pipeline.deriveworkers", runtime.GOMAXPROCS(0))
	v.SetDefault("pipeline.reclaimconcurrency", 16)

	v.SetDefault("derive.cropsize", 200)
	v.SetDefault("derive.jpegquality", 85)
	v.SetDefault("derive.maxpixels", 100_000_000)

	v.SetDefault("sweep.schedule", "0 */15 * * * *")
	v.SetDefault("sweep.grace", "1h")
	v.SetDefault("sweep.batchsize", 500)

	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.servicename", "framestack")
	v.SetDefault("telemetry.sampleratio", 1.0)
}
