// Package config loads rawlogs settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store and transport backends.
const (
	BackendOpenSearch = "opensearch"
	BackendDuckDB     = "duckdb"
	BackendFile       = "file"
	BackendNATS       = "nats"
	BackendKafka      = "kafka"
)

// Config is the root configuration for rawlogs.
type Config struct {
	LogLevel    string `yaml:"log_level"`    // debug, info, warn, error
	LogFormat   string `yaml:"log_format"`   // json or text
	MetricsAddr string `yaml:"metrics_addr"` // empty disables the metrics server

	Extract    ExtractConfig    `yaml:"extract"`
	Store      StoreConfig      `yaml:"store"`
	OpenSearch OpenSearchConfig `yaml:"opensearch"`
	DuckDB     DuckDBConfig     `yaml:"duckdb"`
	Transport  TransportConfig  `yaml:"transport"`
	NATS       NATSConfig       `yaml:"nats"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Receiver   ReceiverConfig   `yaml:"receiver"`
}

// ExtractConfig tunes the pull loop. Period is both the window width and the
// scheduler target.
type ExtractConfig struct {
	Period         time.Duration `yaml:"period"`
	Lookback       time.Duration `yaml:"lookback"`
	CatchUpSpan    time.Duration `yaml:"catch_up_span"`
	PageSize       int           `yaml:"page_size"`
	PagesPerSecond float64       `yaml:"pages_per_second"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
}

// StoreConfig picks where records are read from and where the checkpoint lives.
type StoreConfig struct {
	Backend        string `yaml:"backend"`         // opensearch or duckdb
	Checkpoint     string `yaml:"checkpoint"`      // opensearch, duckdb or file; defaults to backend
	CheckpointPath string `yaml:"checkpoint_path"` // for checkpoint=file
}

// OpenSearchConfig configures the OpenSearch client and indices.
type OpenSearchConfig struct {
	Endpoint           string        `yaml:"endpoint"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Index              string        `yaml:"index"`
	CheckpointIndex    string        `yaml:"checkpoint_index"`
	MaxRetries         int           `yaml:"max_retries"`
	Timeout            time.Duration `yaml:"timeout"`
	Scroll             time.Duration `yaml:"scroll"`
	WaitForIndex       bool          `yaml:"wait_for_index"`
	WaitInterval       time.Duration `yaml:"wait_interval"`
}

// DuckDBConfig configures the embedded store.
type DuckDBConfig struct {
	Path string `yaml:"path"` // empty means in-memory
}

// TransportConfig picks the pub/sub backend.
type TransportConfig struct {
	Backend string `yaml:"backend"` // nats or kafka
	Subject string `yaml:"subject"`
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Timeout       time.Duration `yaml:"timeout"`
}

// KafkaConfig configures the Kafka writer.
type KafkaConfig struct {
	Brokers         []string `yaml:"brokers"`
	MaxMessageBytes int64    `yaml:"max_message_bytes"`
	Compression     string   `yaml:"compression"`
	RequiredAcks    string   `yaml:"required_acks"`
	MaxAttempts     int      `yaml:"max_attempts"`
}

// ReceiverConfig configures the HTTP ingest server.
type ReceiverConfig struct {
	Addr           string        `yaml:"addr"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel:    "info",
		LogFormat:   "json",
		MetricsAddr: ":9090",
		Extract: ExtractConfig{
			Period:       10 * time.Second,
			CatchUpSpan:  time.Hour,
			PageSize:     2000,
			DrainTimeout: 10 * time.Second,
		},
		Store: StoreConfig{Backend: BackendOpenSearch},
		OpenSearch: OpenSearchConfig{
			Endpoint:        "http://localhost:9200",
			Index:           "logs",
			CheckpointIndex: "last_fetched",
			MaxRetries:      3,
			Timeout:         20 * time.Second,
			Scroll:          time.Minute,
			WaitForIndex:    true,
			WaitInterval:    2 * time.Second,
		},
		Transport: TransportConfig{Backend: BackendNATS, Subject: "raw_logs"},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Timeout:       5 * time.Second,
		},
		Kafka: KafkaConfig{MaxMessageBytes: 1 << 20, RequiredAcks: "all", MaxAttempts: 3},
		Receiver: ReceiverConfig{
			Addr:           ":8000",
			MaxBodyBytes:   16 << 20,
			PublishTimeout: 30 * time.Second,
		},
	}
}

// Load reads config from a YAML file over the defaults, applies environment
// overrides and validates the result. An empty path means defaults only.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyEnv overrides fields from the deployment environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"ES_ENDPOINT":       &c.OpenSearch.Endpoint,
		"ES_USERNAME":       &c.OpenSearch.Username,
		"ES_PASSWORD":       &c.OpenSearch.Password,
		"NATS_SERVER_URL":   &c.NATS.URL,
		"NATS_USERNAME":     &c.NATS.Username,
		"NATS_PASSWORD":     &c.NATS.Password,
		"RAWLOGS_LOG_LEVEL": &c.LogLevel,
	}
	for name, dst := range str {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	if v, ok := lookup("TIME_RANGE_SECONDS"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			return fmt.Errorf("TIME_RANGE_SECONDS: want a positive integer, got %q", v)
		}
		c.Extract.Period = time.Duration(n) * time.Second
	}
	if v, ok := lookup("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Kafka.Brokers = append(c.Kafka.Brokers, b)
			}
		}
	}
	return nil
}

// CheckpointBackend returns the checkpoint backend, defaulting to the store backend.
func (c *Config) CheckpointBackend() string {
	if c.Store.Checkpoint != "" {
		return c.Store.Checkpoint
	}
	return c.Store.Backend
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("log_format: want json or text, got %q", c.LogFormat))
	}
	if c.Extract.Period <= 0 {
		errs = append(errs, fmt.Errorf("extract.period must be positive, got %s", c.Extract.Period))
	}
	if c.Extract.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("extract.page_size must be positive, got %d", c.Extract.PageSize))
	}
	if c.Extract.PagesPerSecond < 0 {
		errs = append(errs, errors.New("extract.pages_per_second must not be negative"))
	}
	switch c.Store.Backend {
	case BackendOpenSearch:
		if c.OpenSearch.Endpoint == "" {
			errs = append(errs, errors.New("opensearch.endpoint is required for store backend opensearch"))
		}
		if c.OpenSearch.WaitForIndex && c.OpenSearch.WaitInterval <= 0 {
			errs = append(errs, fmt.Errorf("opensearch.wait_interval must be positive, got %s", c.OpenSearch.WaitInterval))
		}
	case BackendDuckDB:
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}
	switch cp := c.CheckpointBackend(); cp {
	case BackendOpenSearch:
		if c.OpenSearch.Endpoint == "" {
			errs = append(errs, errors.New("opensearch.endpoint is required for checkpoint backend opensearch"))
		}
	case BackendDuckDB:
	case BackendFile:
		if c.Store.CheckpointPath == "" {
			errs = append(errs, errors.New("store.checkpoint_path is required for checkpoint backend file"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.checkpoint: unknown backend %q", cp))
	}
	switch c.Transport.Backend {
	case BackendNATS:
		if c.NATS.URL == "" {
			errs = append(errs, errors.New("nats.url is required for transport nats"))
		}
	case BackendKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers is required for transport kafka"))
		}
	default:
		errs = append(errs, fmt.Errorf("transport.backend: unknown backend %q", c.Transport.Backend))
	}
	if c.Transport.Subject == "" {
		errs = append(errs, errors.New("transport.subject is required"))
	}
	return errors.Join(errs...)
}
