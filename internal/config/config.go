// Package config loads abxfeed settings.
//
// Sources, lowest to highest precedence: built-in defaults, an optional
// config file (format chosen by extension), variables from an optional .env
// file, ABXFEED_* environment variables, and explicitly set command-line
// flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. ABXFEED_SERVER_PORT.
const EnvPrefix = "ABXFEED"

// Output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Config holds all configuration for a run.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Recovery RecoveryConfig `mapstructure:"recovery"`
	Output   OutputConfig   `mapstructure:"output"`
	Store    StoreConfig    `mapstructure:"store"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type RecoveryConfig struct {
	// Concurrency caps simultaneous resend sessions; 0 means the default.
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type OutputConfig struct {
	Path   string `mapstructure:"path"`
	Format string `mapstructure:"format"` // "json" | "text"
}

type StoreConfig struct {
	Path string `mapstructure:"path"` // empty disables the run history
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"` // empty disables publishing
	Topic   string   `mapstructure:"topic"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"` // empty disables the redis sink
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type MetricsConfig struct {
	File string `mapstructure:"file"` // empty disables the textfile export
}

// FlagKeys maps command-line flag names to config keys.
var FlagKeys = map[string]string{
	"host":          "server.host",
	"port":          "server.port",
	"concurrency":   "recovery.concurrency",
	"timeout":       "recovery.timeout",
	"out":           "output.path",
	"out-format":    "output.format",
	"db":            "store.path",
	"kafka-brokers": "kafka.brokers",
	"kafka-topic":   "kafka.topic",
	"redis-addr":    "redis.addr",
	"metrics-file":  "metrics.file",
}

// LoadOptions selects the sources Load reads.
type LoadOptions struct {
	// File is a config file path; empty means none.
	File string

	// EnvFile is a dotenv file; empty means ".env" if it exists.
	EnvFile string

	// Flags, if set, are bound according to FlagKeys.
	Flags *pflag.FlagSet
}

// Load reads configuration from every source and validates it.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", opts.File, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for name, key := range FlagKeys {
			f := opts.Flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no source overrides anything.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Host: "127.0.0.1", Port: 3000},
		Recovery: RecoveryConfig{Concurrency: 16, Timeout: 5 * time.Second},
		Output:   OutputConfig{Path: "output.json", Format: FormatJSON},
		Kafka:    KafkaConfig{Topic: "abx-feed"},
		Redis:    RedisConfig{KeyPrefix: "abx:feed:"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("recovery.concurrency", d.Recovery.Concurrency)
	v.SetDefault("recovery.timeout", d.Recovery.Timeout)
	v.SetDefault("output.path", d.Output.Path)
	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic", d.Kafka.Topic)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.key_prefix", d.Redis.KeyPrefix)
	v.SetDefault("metrics.file", d.Metrics.File)
}

// loadEnvFile exports variables from a dotenv file into the process
// environment. Variables already set are left alone. A missing default
// ".env" is not an error; a missing explicit file is.
func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration can drive a run.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Host == "" {
		errs = append(errs, errors.New("server.host must not be empty"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range 1..65535", c.Server.Port))
	}
	if c.Recovery.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("recovery.concurrency %d must not be negative", c.Recovery.Concurrency))
	}
	if c.Recovery.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("recovery.timeout %s must be positive", c.Recovery.Timeout))
	}
	if c.Output.Format != FormatJSON && c.Output.Format != FormatText {
		errs = append(errs, fmt.Errorf("output.format %q must be one of [%s %s]", c.Output.Format, FormatJSON, FormatText))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic must be set when kafka.brokers is"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
