package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Checkout   CheckoutConfig   `yaml:"checkout"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Auth       AuthConfig       `yaml:"auth"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size      int `yaml:"size"`
	QueueSize int `yaml:"queue_size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// CheckoutConfig holds the timing of the assignment and reclamation cycle.
type CheckoutConfig struct {
	PickupTimeoutSeconds    int           `yaml:"pickup_timeout_seconds"`
	UsageTimeoutSeconds     int           `yaml:"usage_timeout_seconds"`
	SweepIntervalSeconds    int           `yaml:"sweep_interval_seconds"`
	OperationTimeoutSeconds int           `yaml:"operation_timeout_seconds"`
	PickupTimeout           time.Duration `yaml:"-"`
	UsageTimeout            time.Duration `yaml:"-"`
	SweepInterval           time.Duration `yaml:"-"`
	OperationTimeout        time.Duration `yaml:"-"`
}

// WebSocketConfig holds keep-alive and sizing settings shared by device and
// user websocket sessions.
type WebSocketConfig struct {
	PingIntervalSeconds int `yaml:"ping_interval_seconds"`
	PongTimeoutSeconds  int `yaml:"pong_timeout_seconds"`
	MaxMessageSize      int `yaml:"max_message_size"`
	SendBuffer          int `yaml:"send_buffer"`
}

// AuthConfig holds the secret used to verify user tokens issued by the
// external auth service.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogSQL                 bool   `yaml:"log_sql"`
}

// MQTTConfig holds the broker settings for the device state publisher.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults fills in zero values and derives the durations.
func (cfg *Config) applyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 5
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Checkout.PickupTimeoutSeconds <= 0 {
		cfg.Checkout.PickupTimeoutSeconds = 1800
	}
	if cfg.Checkout.UsageTimeoutSeconds <= 0 {
		cfg.Checkout.UsageTimeoutSeconds = 1800
	}
	if cfg.Checkout.SweepIntervalSeconds <= 0 {
		cfg.Checkout.SweepIntervalSeconds = 60
	}
	if cfg.Checkout.OperationTimeoutSeconds <= 0 {
		cfg.Checkout.OperationTimeoutSeconds = 10
	}
	cfg.Checkout.PickupTimeout = time.Duration(cfg.Checkout.PickupTimeoutSeconds) * time.Second
	cfg.Checkout.UsageTimeout = time.Duration(cfg.Checkout.UsageTimeoutSeconds) * time.Second
	cfg.Checkout.SweepInterval = time.Duration(cfg.Checkout.SweepIntervalSeconds) * time.Second
	cfg.Checkout.OperationTimeout = time.Duration(cfg.Checkout.OperationTimeoutSeconds) * time.Second

	if cfg.WebSocket.PingIntervalSeconds <= 0 {
		cfg.WebSocket.PingIntervalSeconds = 30
	}
	if cfg.WebSocket.PongTimeoutSeconds <= 0 {
		cfg.WebSocket.PongTimeoutSeconds = 10
	}
	if cfg.WebSocket.MaxMessageSize <= 0 {
		cfg.WebSocket.MaxMessageSize = 4096
	}
	if cfg.WebSocket.SendBuffer <= 0 {
		cfg.WebSocket.SendBuffer = 16
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		cfg.WorkerPool.QueueSize = 64 * cfg.WorkerPool.Size
	}

	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "hwcheckout"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "checkoutd"
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		cfg.MQTT.QoS = 1
	}
}
