package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the background daemon and the content CLI
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Store     StoreConfig     `mapstructure:"store"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Seed      SeedConfig      `mapstructure:"seed"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"` // "json" or "console"
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type SchedulerConfig struct {
	AlarmName    string        `mapstructure:"alarm_name"`
	Interval     time.Duration `mapstructure:"interval"`
	Parallelism  int           `mapstructure:"parallelism"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

type FetcherConfig struct {
	Kind    string        `mapstructure:"kind"` // "http" or "redis"
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type BridgeConfig struct {
	URL        string        `mapstructure:"url"`
	AckTimeout time.Duration `mapstructure:"ack_timeout"`
	Buffer     int           `mapstructure:"buffer"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type CaptureConfig struct {
	SymbolSelectors []string `mapstructure:"symbol_selectors"`
	PriceSelectors  []string `mapstructure:"price_selectors"`
}

type SeedConfig struct {
	Symbols []string `mapstructure:"symbols"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Brokers    []string `mapstructure:"brokers"`
	Topic      string   `mapstructure:"topic"`
	Partitions int      `mapstructure:"partitions"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	return Load(viper.New())
}

// Load is LoadConfig with a caller-supplied viper instance, so a CLI can bind
// its flags before the values are resolved.
func Load(v *viper.Viper) (*Config, error) {
	// Load .env into the process environment (if it exists)
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	setDefaults(v)

	// "scheduler.interval" -> "SCHEDULER_INTERVAL"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Flat env vars only reach nested structs through explicit bindings
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "logger.level", "logger.encoding")
	bindEnv(v, "store.path")
	bindEnv(v, "scheduler.alarm_name", "scheduler.interval", "scheduler.parallelism", "scheduler.fetch_timeout")
	bindEnv(v, "fetcher.kind", "fetcher.base_url", "fetcher.timeout")
	bindEnv(v, "bridge.url", "bridge.ack_timeout", "bridge.buffer", "bridge.max_retries")
	bindEnv(v, "capture.symbol_selectors", "capture.price_selectors")
	bindEnv(v, "seed.symbols")
	bindEnv(v, "redis.enabled", "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "kafka.enabled", "kafka.brokers", "kafka.topic", "kafka.partitions")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", ":8090")
	v.SetDefault("app.env", "local")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")

	v.SetDefault("store.path", "trade-watchlist.db")

	v.SetDefault("scheduler.alarm_name", "priceUpdate")
	v.SetDefault("scheduler.interval", 5*time.Minute)
	v.SetDefault("scheduler.parallelism", 4)
	v.SetDefault("scheduler.fetch_timeout", 10*time.Second)

	v.SetDefault("fetcher.kind", "http")
	v.SetDefault("fetcher.base_url", "http://localhost:8081")
	v.SetDefault("fetcher.timeout", 8*time.Second)

	v.SetDefault("bridge.url", "ws://localhost:8090/bridge")
	v.SetDefault("bridge.ack_timeout", 3*time.Second)
	v.SetDefault("bridge.buffer", 64)
	v.SetDefault("bridge.max_retries", 1)

	v.SetDefault("capture.symbol_selectors", []string{"[data-symbol]", "meta[itemprop=tickerSymbol]", ".stock-symbol", "#symbol"})
	v.SetDefault("capture.price_selectors", []string{"[data-price]", ".stock-price"})

	v.SetDefault("seed.symbols", []string{})

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "watchlist_prices")
	v.SetDefault("kafka.partitions", 4)
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %s", c.Scheduler.Interval)
	}
	if c.Scheduler.Parallelism < 1 {
		return fmt.Errorf("scheduler parallelism must be at least 1, got %d", c.Scheduler.Parallelism)
	}
	if c.Bridge.AckTimeout <= 0 {
		return fmt.Errorf("bridge ack timeout must be positive, got %s", c.Bridge.AckTimeout)
	}
	if c.Bridge.MaxRetries < 0 || c.Bridge.MaxRetries > 1 {
		return fmt.Errorf("bridge max retries must be 0 or 1, got %d", c.Bridge.MaxRetries)
	}
	switch c.Fetcher.Kind {
	case "http", "redis":
	default:
		return fmt.Errorf("unknown fetcher kind %q", c.Fetcher.Kind)
	}
	if c.Bridge.Buffer < 1 {
		return fmt.Errorf("bridge buffer must be at least 1, got %d", c.Bridge.Buffer)
	}
	if c.Kafka.Partitions < 1 {
		return fmt.Errorf("kafka partitions must be at least 1, got %d", c.Kafka.Partitions)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers cannot be empty")
	}
	return nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
