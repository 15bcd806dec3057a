// Package config loads Router and Engine settings through a layered
// viper configuration: a typed struct with mapstructure tags, env
// overrides via SetEnvPrefix/SetEnvKeyReplacer, defaults set before
// ReadInConfig, and a Validate pass.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is shared by both processes; each binary reads only the
// sections it needs.
type Config struct {
	Router RouterConfig `mapstructure:"router"`
	Engine EngineConfig `mapstructure:"engine"`
	IPC    IPCConfig    `mapstructure:"ipc"`
	Ingest IngestConfig `mapstructure:"ingest"`
}

// RouterConfig covers TCP ingress and the dispatcher's admission, retry,
// and deadline tunables.
type RouterConfig struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	MaxPending        int    `mapstructure:"max_pending"`
	SendRetries       int    `mapstructure:"send_retries"`
	SendRetryDelayUs  int    `mapstructure:"send_retry_delay_us"`
	WaitDeadlineMs    int    `mapstructure:"wait_deadline_ms"`
	WorkerCount       int    `mapstructure:"worker_count"`
}

// EngineConfig covers the Engine's subscriber-store backend.
type EngineConfig struct {
	Store StoreConfig `mapstructure:"store"`
}

// StoreConfig selects and configures the subscriber directory backend.
type StoreConfig struct {
	Backend    string `mapstructure:"backend"` // "memory" or "sqlite"
	SqliteDir  string `mapstructure:"sqlite_dir"`
	ShardCount int    `mapstructure:"shard_count"`
}

// IPCConfig covers the two named byte-message queues the Router and
// Engine use to exchange requests and responses.
type IPCConfig struct {
	RequestSocketPath  string `mapstructure:"request_socket_path"`
	ResponseSocketPath string `mapstructure:"response_socket_path"`
	Capacity           int    `mapstructure:"capacity"`
	MaxMessageSize     int    `mapstructure:"max_message_size"`
}

// IngestConfig covers the additive Kafka/RabbitMQ ingest adapters.
type IngestConfig struct {
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

// KafkaConfig configures the batch route-reconciliation ingest adapter.
type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	Topics      []string `mapstructure:"topics"`
	GroupID     string   `mapstructure:"group_id"`
	ResultTopic string   `mapstructure:"result_topic"`
	WorkerCount int      `mapstructure:"worker_count"`
}

// RabbitMQConfig configures the provisioning-notification ingest adapter.
type RabbitMQConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	URL         string `mapstructure:"url"`
	Exchange    string `mapstructure:"exchange"`
	Queue       string `mapstructure:"queue"`
	WorkerCount int    `mapstructure:"worker_count"`
}

// Load reads path (YAML or TOML, by extension) into a Config, applying
// defaults and TRMQ_-prefixed environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("trmq")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("router.host", "0.0.0.0")
	v.SetDefault("router.port", 5555)
	v.SetDefault("router.max_pending", 100_000)
	v.SetDefault("router.send_retries", 1_000)
	v.SetDefault("router.send_retry_delay_us", 200)
	v.SetDefault("router.wait_deadline_ms", 500)
	v.SetDefault("router.worker_count", 0) // 0 means runtime.NumCPU()

	v.SetDefault("engine.store.backend", "memory")
	v.SetDefault("engine.store.sqlite_dir", "./data/subscribers")
	v.SetDefault("engine.store.shard_count", 8)

	v.SetDefault("ipc.request_socket_path", "/tmp/tr_mq_req.sock")
	v.SetDefault("ipc.response_socket_path", "/tmp/tr_mq_resp.sock")
	v.SetDefault("ipc.capacity", 2048)
	v.SetDefault("ipc.max_message_size", 8192)

	v.SetDefault("ingest.kafka.worker_count", 4)
	v.SetDefault("ingest.rabbitmq.worker_count", 4)
}

// Validate checks cross-field invariants not expressible as defaults.
func (c Config) Validate() error {
	if c.Router.Port <= 0 || c.Router.Port > 65535 {
		return fmt.Errorf("router.port must be in 1..65535, got %d", c.Router.Port)
	}
	if c.Router.MaxPending <= 0 {
		return fmt.Errorf("router.max_pending must be positive")
	}
	switch c.Engine.Store.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("engine.store.backend must be memory or sqlite, got %q", c.Engine.Store.Backend)
	}
	if c.Engine.Store.Backend == "sqlite" && c.Engine.Store.SqliteDir == "" {
		return fmt.Errorf("engine.store.sqlite_dir is required when backend is sqlite")
	}
	if c.Ingest.Kafka.Enabled {
		if len(c.Ingest.Kafka.Brokers) == 0 {
			return fmt.Errorf("ingest.kafka.brokers is required when kafka is enabled")
		}
		if len(c.Ingest.Kafka.Topics) == 0 {
			return fmt.Errorf("ingest.kafka.topics is required when kafka is enabled")
		}
		if c.Ingest.Kafka.GroupID == "" {
			return fmt.Errorf("ingest.kafka.group_id is required when kafka is enabled")
		}
	}
	if c.Ingest.RabbitMQ.Enabled {
		if c.Ingest.RabbitMQ.URL == "" {
			return fmt.Errorf("ingest.rabbitmq.url is required when rabbitmq is enabled")
		}
		if c.Ingest.RabbitMQ.Queue == "" {
			return fmt.Errorf("ingest.rabbitmq.queue is required when rabbitmq is enabled")
		}
	}
	return nil
}
