package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lazypower/vecarvs/internal/ledger"
)

// Config holds all vecarvs configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LedgerConfig struct {
	Genesis       uint64 `yaml:"genesis"`        // unix seconds; 0 means first start
	EpochDuration uint64 `yaml:"epoch_duration"` // seconds
	StakingFactor uint64 `yaml:"staking_factor"`
	Decimals      int32  `yaml:"decimals"` // token decimals for CLI amounts
	Vault         string `yaml:"vault"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"` // empty disables the sink
	Topic   string   `yaml:"topic"`
}

type ScheduleConfig struct {
	Checkpoint string `yaml:"checkpoint"` // cron with seconds
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37780,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Ledger: LedgerConfig{
			EpochDuration: ledger.DefaultEpochDuration,
			StakingFactor: 1,
			Decimals:      18,
			Vault:         "vault",
		},
		Kafka: KafkaConfig{
			Topic: "vecarvs.events",
		},
		Schedule: ScheduleConfig{
			Checkpoint: "0 5 0 * * *",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns ~/.vecarvs/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".vecarvs", "config.yaml"), nil
}

// Load reads config from a YAML file over the defaults, then applies
// environment variable overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if v := os.Getenv("VECARVS_DB"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("VECARVS_ADDR"); v != "" {
		host, port, err := net.SplitHostPort(v)
		if err != nil {
			return nil, fmt.Errorf("VECARVS_ADDR: %w", err)
		}
		n, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("VECARVS_ADDR port: %w", err)
		}
		cfg.Server.Bind = host
		cfg.Server.Port = n
	}
	if v := os.Getenv("VECARVS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}
	if v := os.Getenv("VECARVS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return &cfg, nil
}

// Validate checks that the ledger grid and server address are usable.
func (c *Config) Validate() error {
	if c.Ledger.EpochDuration == 0 {
		return fmt.Errorf("ledger.epoch_duration must be positive")
	}
	if c.Ledger.StakingFactor == 0 {
		return fmt.Errorf("ledger.staking_factor must be positive")
	}
	if c.Ledger.Decimals < 0 || c.Ledger.Decimals > 36 {
		return fmt.Errorf("ledger.decimals must be between 0 and 36")
	}
	if c.Ledger.Vault == "" {
		return fmt.Errorf("ledger.vault is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "crit":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error, crit", c.Log.Level)
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Bind, strconv.Itoa(c.Server.Port))
}

// ServerURL returns the base URL clients use to reach the server.
func (c *Config) ServerURL() string {
	return "http://" + c.ListenAddr()
}

// Params returns the ledger time grid. A zero genesis means the ledger is
// deployed at now; an existing database keeps its own genesis regardless.
func (c *Config) Params(now time.Time) (ledger.Params, error) {
	genesis := c.Ledger.Genesis
	if genesis == 0 {
		genesis = uint64(now.Unix())
	}
	return ledger.NewParams(genesis, c.Ledger.EpochDuration, c.Ledger.StakingFactor)
}
