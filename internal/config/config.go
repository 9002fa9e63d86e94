package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime settings for the alerting service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Engine   EngineConfig   `yaml:"engine"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Cluster  ClusterConfig  `yaml:"cluster"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	AuthToken    string        `yaml:"auth_token"`
}

type EngineConfig struct {
	// Delay before the first evaluation tick, Period between ticks.
	Delay  time.Duration `yaml:"delay"`
	Period time.Duration `yaml:"period"`
}

type IngestConfig struct {
	// Workers draining the ingestion buffer.
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
	BatchSize int `yaml:"batch_size"`
	// Minimum interval between same-identity items. Zero disables filtering.
	DataMinInterval   time.Duration `yaml:"data_min_interval"`
	EventsMinInterval time.Duration `yaml:"events_min_interval"`
	FlushInterval     time.Duration `yaml:"flush_interval"`
}

type ClusterConfig struct {
	Distributed bool `yaml:"distributed"`
	// NodeID is generated when empty.
	NodeID    string        `yaml:"node_id"`
	Heartbeat time.Duration `yaml:"heartbeat"`
	// Lifespan of the partition change marker.
	Lifespan time.Duration `yaml:"lifespan"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type KafkaConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Brokers     []string `yaml:"brokers"`
	DataTopic   string   `yaml:"data_topic"`
	EventsTopic string   `yaml:"events_topic"`
	AlertsTopic string   `yaml:"alerts_topic"`
	GroupID     string   `yaml:"group_id"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			Delay:  1000 * time.Millisecond,
			Period: 2000 * time.Millisecond,
		},
		Ingest: IngestConfig{
			Workers:           4,
			QueueSize:         1024,
			BatchSize:         100,
			DataMinInterval:   1000 * time.Millisecond,
			EventsMinInterval: 0,
			FlushInterval:     time.Second,
		},
		Cluster: ClusterConfig{
			Distributed: false,
			Heartbeat:   5 * time.Second,
			Lifespan:    30 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Postgres: PostgresConfig{
			MaxConns: 10,
		},
		Kafka: KafkaConfig{
			Brokers:     []string{"localhost:9092"},
			DataTopic:   "vigil-data",
			EventsTopic: "vigil-events",
			AlertsTopic: "vigil-alerts",
			GroupID:     "vigil",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file over the defaults, then applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides the deployment-specific settings. Environment wins over
// the file so one image can run in multiple environments.
func (c *Config) applyEnv() {
	if v := os.Getenv("VIGIL_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("VIGIL_AUTH_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv("VIGIL_NODE_ID"); v != "" {
		c.Cluster.NodeID = v
	}
	if v := os.Getenv("VIGIL_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("VIGIL_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("VIGIL_POSTGRES_URL"); v != "" {
		c.Postgres.URL = v
	}
	if v := os.Getenv("VIGIL_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("VIGIL_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.Period <= 0 {
		return fmt.Errorf("engine period must be positive")
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest workers must be positive")
	}
	if c.Cluster.Distributed && c.Redis.Addr == "" {
		return fmt.Errorf("distributed mode requires a redis address")
	}
	return nil
}
