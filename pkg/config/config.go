package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Bitget struct {
		SpotWSURL         string        `yaml:"spot_ws_url"`
		MixWSURL          string        `yaml:"mix_ws_url"`
		RestURL           string        `yaml:"rest_url"`
		ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
		MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
		DownThreshold     int           `yaml:"down_threshold"`
		PingInterval      time.Duration `yaml:"ping_interval"`
		QueueSize         int           `yaml:"queue_size"`
	} `yaml:"bitget"`
	Fanout struct {
		BatchInterval  time.Duration `yaml:"batch_interval"`
		TradeDebounce  time.Duration `yaml:"trade_debounce"`
		CandleDebounce time.Duration `yaml:"candle_debounce"`
		SnapshotLimit  int           `yaml:"snapshot_limit"`
		IdlePing       time.Duration `yaml:"idle_ping"`
	} `yaml:"fanout"`
	Backfill struct {
		MaxRequestsPerSec int           `yaml:"max_requests_per_sec"`
		PageLimit         int           `yaml:"page_limit"`
		RetryDelay        time.Duration `yaml:"retry_delay"`
	} `yaml:"backfill"`
	Backend struct {
		Type string `yaml:"type"` // clickhouse or kafka
	} `yaml:"backend"`
	Kafka struct {
		Brokers      []string      `yaml:"brokers"`
		Topic        string        `yaml:"topic"`
		LogTopic     string        `yaml:"log_topic"`
		RequiredAcks int           `yaml:"required_acks"`
		Compression  string        `yaml:"compression"`
		MaxAttempts  int           `yaml:"max_attempts"`
		Linger       time.Duration `yaml:"linger"`
		BatchSize    int           `yaml:"batch_size"`
		BatchBytes   int           `yaml:"batch_bytes"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		Async        bool          `yaml:"async"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"redis"`
	Whale struct {
		Enabled          bool          `yaml:"enabled"`
		Chain            string        `yaml:"chain"`
		APIURL           string        `yaml:"api_url"`
		APIKey           string        `yaml:"api_key"`
		PollInterval     time.Duration `yaml:"poll_interval"`
		MinAmount        float64       `yaml:"min_amount"`
		HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	} `yaml:"whale"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}

	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Bitget.SpotWSURL == "" {
		c.Bitget.SpotWSURL = "wss://ws.bitget.com/spot/v1/stream"
	}
	if c.Bitget.MixWSURL == "" {
		c.Bitget.MixWSURL = "wss://ws.bitget.com/mix/v1/stream"
	}
	if c.Bitget.RestURL == "" {
		c.Bitget.RestURL = "https://api.bitget.com"
	}
	if c.Bitget.ReconnectDelay <= 0 {
		c.Bitget.ReconnectDelay = 5 * time.Second
	}
	if c.Bitget.MaxReconnectDelay <= 0 {
		c.Bitget.MaxReconnectDelay = 60 * time.Second
	}
	if c.Bitget.DownThreshold <= 0 {
		c.Bitget.DownThreshold = 5
	}
	if c.Bitget.PingInterval <= 0 {
		c.Bitget.PingInterval = 15 * time.Second
	}
	if c.Bitget.QueueSize <= 0 {
		c.Bitget.QueueSize = 4096
	}
	if c.Fanout.BatchInterval <= 0 {
		c.Fanout.BatchInterval = 50 * time.Millisecond
	}
	if c.Fanout.TradeDebounce <= 0 {
		c.Fanout.TradeDebounce = 25 * time.Millisecond
	}
	if c.Fanout.CandleDebounce <= 0 {
		c.Fanout.CandleDebounce = 100 * time.Millisecond
	}
	if c.Fanout.SnapshotLimit <= 0 {
		c.Fanout.SnapshotLimit = 30
	}
	if c.Fanout.IdlePing <= 0 {
		c.Fanout.IdlePing = 30 * time.Second
	}
	if c.Backfill.MaxRequestsPerSec <= 0 {
		c.Backfill.MaxRequestsPerSec = 15
	}
	if c.Backfill.PageLimit <= 0 {
		c.Backfill.PageLimit = 200
	}
	if c.Backfill.RetryDelay <= 0 {
		c.Backfill.RetryDelay = time.Second
	}
	if c.Whale.PollInterval <= 0 {
		c.Whale.PollInterval = 15 * time.Second
	}
	if c.Whale.HeartbeatTimeout <= 0 {
		c.Whale.HeartbeatTimeout = 60 * time.Second
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Backend.Type == "" {
		c.Backend.Type = "clickhouse"
	}
	if c.Backend.Type != "kafka" && c.Backend.Type != "clickhouse" {
		return fmt.Errorf("backend.type must be 'kafka' or 'clickhouse', got '%s'", c.Backend.Type)
	}
	if c.Backend.Type == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers required for kafka backend")
	}
	if c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required")
	}
	return nil
}
