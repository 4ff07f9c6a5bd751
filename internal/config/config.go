package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/utafrali/cartkeeper/pkg/config"
	"github.com/utafrali/cartkeeper/pkg/kvstore"
	"github.com/utafrali/cartkeeper/pkg/tracing"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config holds all configuration for cartd.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort        int           `env:"CART_HTTP_PORT" envDefault:"8003"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Durable store
	StoreBackend string `env:"STORE_BACKEND" envDefault:"sqlite"`
	RedisAddr    string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass    string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB      int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix  string `env:"REDIS_KEY_PREFIX" envDefault:"cartkeeper:"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"cartkeeper.db"`

	// Startup connection attempts for network backends.
	StoreConnectAttempts int `env:"STORE_CONNECT_ATTEMPTS" envDefault:"3"`

	// Keys
	CartKey       string   `env:"CART_KEY" envDefault:"@myapp_cart"`
	OrdersKey     string   `env:"ORDERS_KEY" envDefault:"@orders"`
	OrdersMetaKey string   `env:"ORDERS_META_KEY" envDefault:"@orders_meta"`
	SessionKeys   []string `env:"SESSION_KEYS" envDefault:"@credentials,@rememberMe" envSeparator:","`

	// Cart write retry
	WriteMaxAttempts    int           `env:"WRITE_MAX_ATTEMPTS" envDefault:"5"`
	WriteInitialBackoff time.Duration `env:"WRITE_INITIAL_BACKOFF" envDefault:"100ms"`
	WriteMaxBackoff     time.Duration `env:"WRITE_MAX_BACKOFF" envDefault:"5s"`
	WriteTimeout        time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`

	// Missing lines on increment/decrement/remove return NotFound when set.
	StrictLookups bool `env:"STRICT_LOOKUPS" envDefault:"false"`

	// Store circuit breaker
	BreakerEnabled      bool          `env:"BREAKER_ENABLED" envDefault:"true"`
	BreakerTimeout      time.Duration `env:"BREAKER_TIMEOUT" envDefault:"10s"`
	BreakerFailureRatio float64       `env:"BREAKER_FAILURE_RATIO" envDefault:"0.5"`
	BreakerMinRequests  uint32        `env:"BREAKER_MIN_REQUESTS" envDefault:"5"`

	// Store operations slower than this are logged.
	SlowStoreThreshold time.Duration `env:"SLOW_STORE_THRESHOLD" envDefault:"200ms"`

	// Tracing
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// HTTP extras
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	PprofAllowedCIDRs  []string `env:"PPROF_ALLOWED_CIDRS" envSeparator:","`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load cartd config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	switch c.StoreBackend {
	case BackendMemory, BackendRedis, BackendSQLite:
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, redis, sqlite; got %q", c.StoreBackend)
	}
	if c.StoreBackend == BackendSQLite && c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
	}
	if c.CartKey == "" || c.OrdersKey == "" || c.OrdersMetaKey == "" {
		return fmt.Errorf("CART_KEY, ORDERS_KEY and ORDERS_META_KEY must not be empty")
	}
	if c.CartKey == c.OrdersKey || c.OrdersKey == c.OrdersMetaKey || c.CartKey == c.OrdersMetaKey {
		return fmt.Errorf("cart, orders and orders meta keys must differ")
	}
	if c.WriteMaxAttempts < 1 {
		return fmt.Errorf("WRITE_MAX_ATTEMPTS must be at least 1")
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		return fmt.Errorf("BREAKER_FAILURE_RATIO must be in (0, 1]")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	return nil
}

// Breaker returns the store circuit breaker settings.
func (c *Config) Breaker() kvstore.BreakerConfig {
	b := kvstore.DefaultBreakerConfig("store-" + c.StoreBackend)
	b.Timeout = c.BreakerTimeout
	b.FailureRatio = c.BreakerFailureRatio
	b.MinRequests = c.BreakerMinRequests
	return b
}

// Tracing returns the tracer settings.
func (c *Config) Tracing() tracing.Config {
	t := tracing.DefaultConfig("cartd")
	t.Environment = c.Environment
	t.OTLPEndpoint = c.OTELEndpoint
	t.SampleRate = c.OTELSampleRate
	t.Enabled = c.OTELEnabled
	return t
}
