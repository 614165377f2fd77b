package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment" validate:"required"`
	Log         LogConfig        `yaml:"log"`
	Store       StoreConfig      `yaml:"store"`
	Snapshot    SnapshotConfig   `yaml:"snapshot"`
	Replay      ReplayConfig     `yaml:"replay"`
	Compaction  CompactionConfig `yaml:"compaction"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	Redis       RedisConfig      `yaml:"redis"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
	// Audit forwards aggregated warn/error entries to Kafka when kafka is enabled.
	Audit bool `yaml:"audit" default:"true"`
}

type StoreConfig struct {
	Root       string           `yaml:"root" default:"data/store" validate:"required"`
	Lock       LockConfig       `yaml:"lock"`
	Retry      RetryConfig      `yaml:"retry"`
	Validation ValidationConfig `yaml:"validation"`
	Resources  []ResourceConfig `yaml:"resources" validate:"required,min=1,dive"`
}

type LockConfig struct {
	Backend   string        `yaml:"backend" default:"file" validate:"oneof=file memory redis"`
	Timeout   time.Duration `yaml:"timeout" default:"5s"`
	TTL       time.Duration `yaml:"ttl" default:"60s"`
	Base      time.Duration `yaml:"base_interval" default:"20ms"`
	Max       time.Duration `yaml:"max_interval" default:"320ms"`
	StepEvery int           `yaml:"step_every" default:"5" validate:"gte=1"`
	Jitter    float64       `yaml:"jitter" default:"0.2" validate:"gte=0,lt=1"`
}

type RetryConfig struct {
	Attempts int           `yaml:"attempts" default:"3" validate:"gte=1"`
	Delay    time.Duration `yaml:"delay" default:"100ms"`
}

type ValidationConfig struct {
	MinStd float64 `yaml:"min_std" default:"0.002" validate:"gt=0"`
}

type ResourceConfig struct {
	Name         string `yaml:"name" validate:"required"`
	Path         string `yaml:"path" validate:"required"`
	LockRequired bool   `yaml:"lock_required" default:"true"`
	Criticality  string `yaml:"criticality" default:"critical" validate:"oneof=critical best_effort"`
	Validate     bool   `yaml:"validate" default:"true"`
}

type SnapshotConfig struct {
	Root string `yaml:"root" default:"data/snapshots" validate:"required"`
	// Resource is the rolling store resource copied into every snapshot.
	Resource string `yaml:"resource" default:"predictions"`
}

type ReplayConfig struct {
	Mode string `yaml:"mode" default:"live" validate:"oneof=live replay"`
	AsOf string `yaml:"as_of"`
}

type CompactionConfig struct {
	Enabled   bool             `yaml:"enabled" default:"true"`
	Interval  time.Duration    `yaml:"interval" default:"30s"`
	Source    string           `yaml:"source" default:"predictions"`
	Dir       string           `yaml:"dir" default:"data/artifacts"`
	Artifacts []ArtifactConfig `yaml:"artifacts" validate:"dive"`
}

type ArtifactConfig struct {
	Name   string `yaml:"name" validate:"required"`
	TopK   int    `yaml:"top_k" default:"200" validate:"gte=1"`
	RankBy string `yaml:"rank_by" default:"confidence" validate:"oneof=confidence score abs_score"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	CacheTTL        time.Duration `yaml:"cache_ttl" default:"15s"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	EventsTopic  string   `yaml:"events_topic" default:"finstore.events"`
	AuditTopic   string   `yaml:"audit_topic" default:"finstore.audit"`
	RequiredAcks int      `yaml:"required_acks" default:"-1"`
	Compression  string   `yaml:"compression" default:"zstd"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		Linger       time.Duration `yaml:"linger" default:"50ms"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" default:"finstore-api"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
	} `yaml:"consumer"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Host     string        `yaml:"host" default:"localhost"`
	Port     int           `yaml:"port" default:"6379"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix" default:"finstore"`
	TTL      time.Duration `yaml:"artifact_ttl" default:"5m"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"finstore"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides fields from FINSTORE_* variables using lookup.
func (c *Config) ApplyEnv(lookup func(string) string) error {
	if v := lookup("FINSTORE_ENV"); v != "" {
		c.Environment = v
	}
	if v := lookup("FINSTORE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := lookup("FINSTORE_STORE_ROOT"); v != "" {
		c.Store.Root = v
	}
	if v := lookup("FINSTORE_SNAPSHOT_ROOT"); v != "" {
		c.Snapshot.Root = v
	}
	if v := lookup("FINSTORE_LOCK_BACKEND"); v != "" {
		c.Store.Lock.Backend = v
	}
	if v := lookup("FINSTORE_LOCK_TTL"); v != "" {
		d, err := parseDurationOrSeconds(v)
		if err != nil {
			return fmt.Errorf("FINSTORE_LOCK_TTL: %w", err)
		}
		c.Store.Lock.TTL = d
	}
	if v := lookup("FINSTORE_LOCK_TIMEOUT"); v != "" {
		d, err := parseDurationOrSeconds(v)
		if err != nil {
			return fmt.Errorf("FINSTORE_LOCK_TIMEOUT: %w", err)
		}
		c.Store.Lock.Timeout = d
	}
	if v := lookup("FINSTORE_REPLAY_MODE"); v != "" {
		c.Replay.Mode = strings.ToLower(v)
	}
	if v := lookup("FINSTORE_AS_OF"); v != "" {
		c.Replay.AsOf = v
	}
	if v := lookup("FINSTORE_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := lookup("FINSTORE_REDIS_HOST"); v != "" {
		c.Redis.Host = v
		c.Redis.Enabled = true
	}
	if v := lookup("FINSTORE_CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	return nil
}

// parseDurationOrSeconds accepts Go durations ("45s") and bare seconds ("45").
func parseDurationOrSeconds(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// decode fills defaults first so explicit zero values in YAML (lock_required: false) survive.
func decode(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

func (r *ResourceConfig) UnmarshalYAML(n *yaml.Node) error {
	type plain ResourceConfig
	var p plain
	if err := defaults.Set(&p); err != nil {
		return err
	}
	if err := n.Decode(&p); err != nil {
		return err
	}
	*r = ResourceConfig(p)
	return nil
}

func (a *ArtifactConfig) UnmarshalYAML(n *yaml.Node) error {
	type plain ArtifactConfig
	var p plain
	if err := defaults.Set(&p); err != nil {
		return err
	}
	if err := n.Decode(&p); err != nil {
		return err
	}
	*a = ArtifactConfig(p)
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	names := make(map[string]struct{}, len(c.Store.Resources))
	for _, r := range c.Store.Resources {
		if _, dup := names[r.Name]; dup {
			return fmt.Errorf("store.resources: duplicate name %q", r.Name)
		}
		names[r.Name] = struct{}{}
	}
	if c.Compaction.Enabled {
		if _, ok := names[c.Compaction.Source]; !ok {
			return fmt.Errorf("compaction.source %q is not a store resource", c.Compaction.Source)
		}
	}
	if _, ok := names[c.Snapshot.Resource]; !ok {
		return fmt.Errorf("snapshot.resource %q is not a store resource", c.Snapshot.Resource)
	}
	if c.Store.Lock.Max < c.Store.Lock.Base {
		return fmt.Errorf("store.lock.max_interval must be >= base_interval")
	}
	if c.Replay.Mode == "replay" && c.Replay.AsOf == "" {
		return fmt.Errorf("replay.as_of is required when replay.mode is replay")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Store.Lock.Backend == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("store.lock.backend redis requires redis.enabled")
	}
	return nil
}

// ResourcePath resolves a resource path relative to the store root.
func (c *Config) ResourcePath(r ResourceConfig) string {
	if strings.HasPrefix(r.Path, "/") {
		return r.Path
	}
	return c.Store.Root + "/" + r.Path
}
