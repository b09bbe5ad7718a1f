package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. BAZAARBOOK_REDIS_ADDR
const EnvPrefix = "BAZAARBOOK"

// Storage backends
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StoragePebble = "pebble"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration
type Config struct {
	Server struct {
		HTTPAddr        string        `yaml:"http_addr"`
		LogLevel        string        `yaml:"log_level"`
		LogFormat       string        `yaml:"log_format"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Storage struct {
		Backend     string        `yaml:"backend"`
		OrderTTL    time.Duration `yaml:"order_ttl"`
		MaxOrderAge time.Duration `yaml:"max_order_age"`
		PebbleDir   string        `yaml:"pebble_dir"`
	} `yaml:"storage"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`

	Kafka struct {
		Enabled           bool          `yaml:"enabled"`
		Brokers           []string      `yaml:"brokers"`
		BazaarTopic       string        `yaml:"bazaar_topic"`
		GroupID           string        `yaml:"group_id"`
		BatchSize         int           `yaml:"batch_size"`
		FlushInterval     time.Duration `yaml:"flush_interval"`
		NotificationTopic string        `yaml:"notification_topic"`
	} `yaml:"kafka"`

	Items struct {
		BaseURL         string        `yaml:"base_url"`
		Timeout         time.Duration `yaml:"timeout"`
		RefreshInterval time.Duration `yaml:"refresh_interval"`
		RateLimit       float64       `yaml:"rate_limit"`
		MaxRetries      int           `yaml:"max_retries"`
	} `yaml:"items"`

	Hydration struct {
		MaxAttempts int           `yaml:"max_attempts"`
		BaseDelay   time.Duration `yaml:"base_delay"`
	} `yaml:"hydration"`

	OTel struct {
		Enabled     bool   `yaml:"enabled"`
		Endpoint    string `yaml:"endpoint"`
		ServiceName string `yaml:"service_name"`
	} `yaml:"otel"`
}

// Default returns the built-in configuration
func Default() *Config {
	cfg := &Config{}
	cfg.Server.HTTPAddr = ":8080"
	cfg.Server.LogLevel = "info"
	cfg.Server.LogFormat = "pretty"
	cfg.Server.ShutdownTimeout = 5 * time.Second

	cfg.Storage.Backend = StorageMemory
	cfg.Storage.OrderTTL = 7 * 24 * time.Hour
	cfg.Storage.MaxOrderAge = 7 * 24 * time.Hour
	cfg.Storage.PebbleDir = "data/orders"

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.Prefix = "bazaarbook"

	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Kafka.BazaarTopic = "bazaar-pulls"
	cfg.Kafka.GroupID = "bazaarbook"
	cfg.Kafka.BatchSize = 50
	cfg.Kafka.FlushInterval = time.Second
	cfg.Kafka.NotificationTopic = "notifications"

	cfg.Items.Timeout = 5 * time.Second
	cfg.Items.RefreshInterval = time.Hour
	cfg.Items.RateLimit = 1
	cfg.Items.MaxRetries = 3

	cfg.Hydration.MaxAttempts = 100
	cfg.Hydration.BaseDelay = 10 * time.Second

	cfg.OTel.Endpoint = "localhost:4317"
	cfg.OTel.ServiceName = "bazaarbook"
	return cfg
}

// LoadConfig loads the configuration from the process arguments and environment
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load builds the configuration in layers: defaults, the YAML file named by
// -config, BAZAARBOOK_* environment variables and finally explicitly set flags.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("bazaarbook", flag.ContinueOnError)
	configFile := fs.String("config", "", "Path to config file (YAML)")
	httpPort := fs.Int("http_port", 8080, "The HTTP server port")
	logLevel := fs.String("log_level", "info", "Log level: debug, info, warn, error")
	logFormat := fs.String("log_format", "pretty", "Log format: json, pretty")
	storage := fs.String("storage", StorageMemory, "Order store: memory, redis, pebble")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if *configFile != "" {
		yamlFile, err := os.ReadFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(yamlFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "http_port":
			cfg.Server.HTTPAddr = fmt.Sprintf(":%d", *httpPort)
		case "log_level":
			cfg.Server.LogLevel = *logLevel
		case "log_format":
			cfg.Server.LogFormat = *logFormat
		case "storage":
			cfg.Storage.Backend = *storage
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	integer := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	boolean := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}
	var durErr error
	duration := func(key string, dst *time.Duration) {
		if !v.IsSet(key) {
			return
		}
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			durErr = errors.Join(durErr, fmt.Errorf("%s_%s: %w", EnvPrefix, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), err))
			return
		}
		*dst = d
	}

	str("server.http_addr", &cfg.Server.HTTPAddr)
	str("server.log_level", &cfg.Server.LogLevel)
	str("server.log_format", &cfg.Server.LogFormat)
	duration("server.shutdown_timeout", &cfg.Server.ShutdownTimeout)

	str("storage.backend", &cfg.Storage.Backend)
	duration("storage.order_ttl", &cfg.Storage.OrderTTL)
	duration("storage.max_order_age", &cfg.Storage.MaxOrderAge)
	str("storage.pebble_dir", &cfg.Storage.PebbleDir)

	str("redis.addr", &cfg.Redis.Addr)
	str("redis.password", &cfg.Redis.Password)
	integer("redis.db", &cfg.Redis.DB)
	str("redis.prefix", &cfg.Redis.Prefix)

	boolean("kafka.enabled", &cfg.Kafka.Enabled)
	if v.IsSet("kafka.brokers") {
		cfg.Kafka.Brokers = splitList(v.GetString("kafka.brokers"))
	}
	str("kafka.bazaar_topic", &cfg.Kafka.BazaarTopic)
	str("kafka.group_id", &cfg.Kafka.GroupID)
	integer("kafka.batch_size", &cfg.Kafka.BatchSize)
	duration("kafka.flush_interval", &cfg.Kafka.FlushInterval)
	str("kafka.notification_topic", &cfg.Kafka.NotificationTopic)

	str("items.base_url", &cfg.Items.BaseURL)
	duration("items.timeout", &cfg.Items.Timeout)
	duration("items.refresh_interval", &cfg.Items.RefreshInterval)
	if v.IsSet("items.rate_limit") {
		cfg.Items.RateLimit = v.GetFloat64("items.rate_limit")
	}
	integer("items.max_retries", &cfg.Items.MaxRetries)

	integer("hydration.max_attempts", &cfg.Hydration.MaxAttempts)
	duration("hydration.base_delay", &cfg.Hydration.BaseDelay)

	boolean("otel.enabled", &cfg.OTel.Enabled)
	str("otel.endpoint", &cfg.OTel.Endpoint)
	str("otel.service_name", &cfg.OTel.ServiceName)

	return durErr
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects configurations the server cannot run with
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.HTTPAddr == "" {
		fail("server.http_addr must not be empty")
	}
	switch c.Server.LogFormat {
	case "json", "pretty":
	default:
		fail("server.log_format must be json or pretty, got %q", c.Server.LogFormat)
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageRedis:
		if c.Redis.Addr == "" {
			fail("redis.addr must not be empty")
		}
	case StoragePebble:
		if c.Storage.PebbleDir == "" {
			fail("storage.pebble_dir must not be empty")
		}
	default:
		fail("storage.backend must be one of memory, redis, pebble, got %q", c.Storage.Backend)
	}
	if c.Storage.OrderTTL <= 0 {
		fail("storage.order_ttl must be positive")
	}
	if c.Storage.MaxOrderAge <= 0 {
		fail("storage.max_order_age must be positive")
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			fail("kafka.brokers must not be empty")
		}
		if c.Kafka.BazaarTopic == "" || c.Kafka.NotificationTopic == "" {
			fail("kafka topics must not be empty")
		}
		if c.Kafka.GroupID == "" {
			fail("kafka.group_id must not be empty")
		}
	}
	if c.Kafka.BatchSize < 0 {
		fail("kafka.batch_size must not be negative")
	}

	if c.Items.RateLimit < 0 {
		fail("items.rate_limit must not be negative")
	}
	if c.Hydration.MaxAttempts <= 0 {
		fail("hydration.max_attempts must be positive")
	}
	if c.Hydration.BaseDelay < 0 {
		fail("hydration.base_delay must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
