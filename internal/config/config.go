// internal/config/config.go
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/andresuchdata/catalog-export/internal/domain"
)

const (
	DefaultSourceURL  = "https://fakestoreapi.com/products"
	DefaultOutputPath = "products_data.csv"

	ProviderGCS   = "gcs"
	ProviderS3    = "s3"
	ProviderLocal = "local"

	LedgerNone     = "none"
	LedgerRedis    = "redis"
	LedgerPostgres = "postgres"
)

type Config struct {
	Source  SourceConfig
	Output  OutputConfig
	Storage StorageConfig
	Ledger  LedgerConfig
	Metrics MetricsConfig
	Log     LogConfig
}

type SourceConfig struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
}

type OutputConfig struct {
	Path string
}

type StorageConfig struct {
	Provider string
	Bucket   string
	Object   string
	Verify   bool
	GCS      GCSConfig
	S3       S3Config
	Local    LocalConfig
}

type GCSConfig struct {
	CredentialsPath string
	Endpoint        string
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

type LocalConfig struct {
	Dir string
}

type LedgerConfig struct {
	Backend       string
	RedisURL      string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
	TTLSeconds    int
	DatabaseURL   string
}

type MetricsConfig struct {
	PushgatewayURL string
	Job            string
}

type LogConfig struct {
	Level  string
	Format string
}

// LoadOptions controls where configuration comes from. Precedence, highest
// first: Overrides, environment, ConfigFile, defaults.
type LoadOptions struct {
	ConfigFile string
	EnvFiles   []string
	Overrides  map[string]interface{}
}

// Load builds the configuration. It does not validate it; call Validate once
// the command knows which stages it runs.
func Load(opts LoadOptions) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(opts.EnvFiles...)

	v := viper.New()
	setDefaults(v)

	// GOOGLE_APPLICATION_CREDENTIALS is what gcloud tooling exports.
	_ = v.BindEnv("GCS_CREDENTIALS_PATH", "GCS_CREDENTIALS_PATH", "GOOGLE_APPLICATION_CREDENTIALS")

	// Read from environment variables
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, domain.E(domain.KindConfig, "load config", errors.Wrapf(err, "read %s", opts.ConfigFile))
		}
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	return &Config{
		Source: SourceConfig{
			URL:       v.GetString("SOURCE_URL"),
			Timeout:   time.Duration(v.GetInt("SOURCE_TIMEOUT_SECONDS")) * time.Second,
			UserAgent: v.GetString("SOURCE_USER_AGENT"),
		},
		Output: OutputConfig{
			Path: v.GetString("OUTPUT_PATH"),
		},
		Storage: StorageConfig{
			Provider: strings.ToLower(v.GetString("STORAGE_PROVIDER")),
			Bucket:   v.GetString("STORAGE_BUCKET"),
			Object:   v.GetString("STORAGE_OBJECT"),
			Verify:   v.GetBool("STORAGE_VERIFY"),
			GCS: GCSConfig{
				CredentialsPath: v.GetString("GCS_CREDENTIALS_PATH"),
				Endpoint:        v.GetString("GCS_ENDPOINT"),
			},
			S3: S3Config{
				Endpoint:  v.GetString("S3_ENDPOINT"),
				AccessKey: v.GetString("S3_ACCESS_KEY"),
				SecretKey: v.GetString("S3_SECRET_KEY"),
				Region:    v.GetString("S3_REGION"),
				UseSSL:    v.GetBool("S3_USE_SSL"),
			},
			Local: LocalConfig{
				Dir: v.GetString("LOCAL_STORAGE_DIR"),
			},
		},
		Ledger: LedgerConfig{
			Backend:       strings.ToLower(v.GetString("LEDGER_BACKEND")),
			RedisURL:      v.GetString("REDIS_URL"),
			RedisHost:     v.GetString("REDIS_HOST"),
			RedisPort:     v.GetString("REDIS_PORT"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			KeyPrefix:     v.GetString("LEDGER_KEY_PREFIX"),
			TTLSeconds:    v.GetInt("LEDGER_TTL_SECONDS"),
			DatabaseURL:   v.GetString("DATABASE_URL"),
		},
		Metrics: MetricsConfig{
			PushgatewayURL: v.GetString("METRICS_PUSHGATEWAY_URL"),
			Job:            v.GetString("METRICS_JOB"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SOURCE_URL", DefaultSourceURL)
	v.SetDefault("SOURCE_TIMEOUT_SECONDS", 60)
	v.SetDefault("SOURCE_USER_AGENT", "catalog-export/1.0")
	v.SetDefault("OUTPUT_PATH", DefaultOutputPath)
	v.SetDefault("STORAGE_PROVIDER", ProviderGCS)
	v.SetDefault("STORAGE_BUCKET", "")
	v.SetDefault("STORAGE_OBJECT", "")
	v.SetDefault("STORAGE_VERIFY", false)
	v.SetDefault("GCS_ENDPOINT", "")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_USE_SSL", true)
	v.SetDefault("LOCAL_STORAGE_DIR", "./data/buckets")
	v.SetDefault("LEDGER_BACKEND", LedgerNone)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "127.0.0.1")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LEDGER_KEY_PREFIX", "catalog-export")
	v.SetDefault("LEDGER_TTL_SECONDS", 30*24*60*60)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("METRICS_PUSHGATEWAY_URL", "")
	v.SetDefault("METRICS_JOB", "catalog_export")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
}

// ObjectName is the destination object name, defaulting to the file name of
// the output path.
func (c *Config) ObjectName() string {
	if c.Storage.Object != "" {
		return c.Storage.Object
	}
	return filepath.Base(c.Output.Path)
}

// Validate checks required fields. Storage settings are only checked when the
// command uploads.
func (c *Config) Validate(requireStorage bool) error {
	const op = "validate config"

	if err := validateSourceURL(c.Source.URL); err != nil {
		return domain.E(domain.KindConfig, op, err)
	}
	if c.Source.Timeout < 0 {
		return domain.Errorf(domain.KindConfig, op, "source timeout must not be negative")
	}
	if strings.TrimSpace(c.Output.Path) == "" {
		return domain.Errorf(domain.KindConfig, op, "output path is required")
	}

	if requireStorage {
		if err := c.Storage.validate(); err != nil {
			return domain.E(domain.KindConfig, op, err)
		}
	}

	switch c.Ledger.Backend {
	case LedgerNone, "":
	case LedgerRedis:
		if c.Ledger.RedisURL == "" && c.Ledger.RedisHost == "" {
			return domain.Errorf(domain.KindConfig, op, "redis ledger needs REDIS_URL or REDIS_HOST")
		}
	case LedgerPostgres:
		if c.Ledger.DatabaseURL == "" {
			return domain.Errorf(domain.KindConfig, op, "postgres ledger needs DATABASE_URL")
		}
	default:
		return domain.Errorf(domain.KindConfig, op, "unsupported ledger backend: %s", c.Ledger.Backend)
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		return domain.Errorf(domain.KindConfig, op, "unsupported log format: %s", c.Log.Format)
	}

	return nil
}

func (s StorageConfig) validate() error {
	if strings.TrimSpace(s.Bucket) == "" {
		return errors.New("storage bucket is required")
	}

	switch s.Provider {
	case ProviderGCS:
		// An emulator endpoint runs without credentials.
		if s.GCS.Endpoint != "" && s.GCS.CredentialsPath == "" {
			return nil
		}
		if s.GCS.CredentialsPath == "" {
			return errors.New("gcs credentials path is required (GCS_CREDENTIALS_PATH)")
		}
		info, err := os.Stat(s.GCS.CredentialsPath)
		if err != nil {
			return errors.Wrap(err, "gcs credentials file")
		}
		if info.IsDir() {
			return errors.Errorf("gcs credentials path %s is a directory", s.GCS.CredentialsPath)
		}
	case ProviderS3:
		if s.S3.Endpoint == "" {
			return errors.New("s3 endpoint must be provided")
		}
		if s.S3.AccessKey == "" || s.S3.SecretKey == "" {
			return errors.New("s3 credentials must be provided")
		}
	case ProviderLocal:
		if s.Local.Dir == "" {
			return errors.New("local storage dir must be provided")
		}
	default:
		return errors.Errorf("unsupported storage provider: %s", s.Provider)
	}

	return nil
}

func validateSourceURL(raw string) error {
	if raw == "" {
		return errors.New("source url is required")
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return errors.Wrap(err, "invalid source url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Errorf("unsupported source url scheme: %s", u.Scheme)
	}
	return nil
}
