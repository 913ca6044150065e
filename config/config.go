package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"rwa/policy"
	"rwa/util"

	"gopkg.in/yaml.v3"
)

// A risk of 42 must never be liquidatable and a risk of 85 always must be.
const (
	minLiquidationThreshold = 42
	maxLiquidationThreshold = 85
)

type Config struct {
	Port        int               `yaml:"port"`
	Policy      PolicyConfig      `yaml:"policy"`
	Engine      EngineConfig      `yaml:"engine"`
	Authorities AuthoritiesConfig `yaml:"authorities"`
	Ingestion   IngestionConfig   `yaml:"ingestion"`
	Storage     StorageConfig     `yaml:"storage"`
	Services    ServicesConfig    `yaml:"services"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type PolicyConfig struct {
	LiquidationThreshold uint8         `yaml:"liquidationThreshold"`
	LtvTiers             []policy.Tier `yaml:"ltvTiers"`
}

type EngineConfig struct {
	LockTimeoutMs int `yaml:"lockTimeoutMs"`
}

type AuthoritiesConfig struct {
	// SourceList is "static" or "redis".
	SourceList string   `yaml:"sourceList"`
	Principals []string `yaml:"principals"`
}

type IngestionConfig struct {
	Velocity VelocityConfig `yaml:"velocity"`
}

type VelocityConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"intervalSeconds"`
	Limit           int  `yaml:"limit"`
}

type StorageConfig struct {
	Backend    string `yaml:"backend"`
	BadgerPath string `yaml:"badgerPath"`
	// KeyPrefix namespaces every redis key the engine writes.
	KeyPrefix string `yaml:"keyPrefix"`
}

type ServicesConfig struct {
	Redis RedisConfig `yaml:"redis"`
	Nats  NatsConfig  `yaml:"nats"`
}

type NatsConfig struct {
	Url     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
	// PublishEvents sends risk updates and liquidation alerts.
	PublishEvents bool   `yaml:"publishEvents"`
	OracleSubject string `yaml:"oracleSubject"`
	Queue         string `yaml:"queue"`
}

type RedisConfig struct {
	Host    string `yaml:"host"`
	Enabled bool   `yaml:"enabled"`
}

type LoggingConfig struct {
	Mode string `yaml:"mode"`
}

// LoadConfig reads the yaml file at path, applies env overrides and defaults,
// and validates the result.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = util.EnvInt("PORT", c.Port)
	c.Logging.Mode = util.EnvString("LOG_MODE", c.Logging.Mode)
	c.Services.Redis.Host = util.EnvString("REDIS_HOST", c.Services.Redis.Host)
	c.Services.Nats.Url = util.EnvString("NATS_URL", c.Services.Nats.Url)
	c.Engine.LockTimeoutMs = util.EnvInt("LOCK_TIMEOUT_MS", c.Engine.LockTimeoutMs)
	if t := util.EnvInt("LIQUIDATION_THRESHOLD", -1); t >= 0 && t <= policy.MaxRiskScore {
		c.Policy.LiquidationThreshold = uint8(t)
	}
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Policy.LiquidationThreshold == 0 {
		c.Policy.LiquidationThreshold = policy.DefaultLiquidationThreshold
	}
	if len(c.Policy.LtvTiers) == 0 {
		c.Policy.LtvTiers = policy.DefaultTiers()
	}
	if c.Engine.LockTimeoutMs == 0 {
		c.Engine.LockTimeoutMs = 2000
	}
	if c.Authorities.SourceList == "" {
		c.Authorities.SourceList = util.SourceLists.Static
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = util.Backends.Memory
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "rwa"
	}
	if c.Services.Nats.OracleSubject == "" {
		c.Services.Nats.OracleSubject = util.Subjects.OracleFeed
	}
	if c.Services.Nats.Queue == "" {
		c.Services.Nats.Queue = util.Subjects.OracleQueueName
	}
	if c.Ingestion.Velocity.Enabled {
		if c.Ingestion.Velocity.IntervalSeconds == 0 {
			c.Ingestion.Velocity.IntervalSeconds = 60
		}
		if c.Ingestion.Velocity.Limit == 0 {
			c.Ingestion.Velocity.Limit = 30
		}
	}
}

// Validate reports the first setting that cannot work. Anything that needs
// redis must have redis enabled.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if t := c.Policy.LiquidationThreshold; t <= minLiquidationThreshold || t > maxLiquidationThreshold {
		return fmt.Errorf("policy.liquidationThreshold %d must be within %d..%d",
			t, minLiquidationThreshold+1, maxLiquidationThreshold)
	}
	if _, err := c.BuildPolicy(); err != nil {
		return err
	}
	if c.Engine.LockTimeoutMs < 0 {
		return errors.New("engine.lockTimeoutMs must not be negative")
	}

	redisOn := c.Services.Redis.Enabled
	if redisOn && strings.TrimSpace(c.Services.Redis.Host) == "" {
		return errors.New("provide a valid redis host")
	}

	switch c.Authorities.SourceList {
	case util.SourceLists.Static:
	case util.SourceLists.Redis:
		if !redisOn {
			return errors.New("authorities.sourceList redis requires services.redis.enabled")
		}
	default:
		return fmt.Errorf("unknown authorities.sourceList %q", c.Authorities.SourceList)
	}

	switch c.Storage.Backend {
	case util.Backends.Memory:
	case util.Backends.Redis:
		if !redisOn {
			return errors.New("storage.backend redis requires services.redis.enabled")
		}
	case util.Backends.Badger:
		if strings.TrimSpace(c.Storage.BadgerPath) == "" {
			return errors.New("storage.badgerPath is required for the badger backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}

	if v := c.Ingestion.Velocity; v.Enabled {
		if !redisOn {
			return errors.New("ingestion.velocity requires services.redis.enabled")
		}
		if v.IntervalSeconds < 0 || v.Limit < 0 {
			return errors.New("ingestion.velocity interval and limit must be positive")
		}
	}

	if c.Services.Nats.Enabled && strings.TrimSpace(c.Services.Nats.Url) == "" {
		return errors.New("provide a valid nats URL")
	}
	return nil
}

func (c Config) BuildPolicy() (*policy.Policy, error) {
	return policy.New(c.Policy.LtvTiers, c.Policy.LiquidationThreshold)
}

func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.Engine.LockTimeoutMs) * time.Millisecond
}

func (c Config) VelocityInterval() time.Duration {
	return time.Duration(c.Ingestion.Velocity.IntervalSeconds) * time.Second
}
