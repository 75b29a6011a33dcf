// Package config loads application configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	API        APIConfig                `mapstructure:"api"`
	Logging    LoggingConfig            `mapstructure:"logging"`
	Queue      QueueConfig              `mapstructure:"queue"`
	Repository RepositoryConfig         `mapstructure:"repository"`
	Attachment AttachmentConfig         `mapstructure:"attachment"`
	Tracker    TrackerConfig            `mapstructure:"tracker"`
	Channels   map[string]ChannelConfig `mapstructure:"channels"`
	Gateways   GatewaysConfig           `mapstructure:"gateways"`
}

// APIConfig holds the admission REST server configuration.
type APIConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	JWTTTL       time.Duration `mapstructure:"jwt_ttl"`
	// Clients maps client IDs to bcrypt hashes of their API keys.
	Clients map[string]string `mapstructure:"clients"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"` // stdout (default) or file
	FilePath  string `mapstructure:"file_path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

// QueueConfig holds queueing substrate configuration shared by all queues.
type QueueConfig struct {
	// Type selects the backend: "sqs" (default) or "redis".
	Type            string        `mapstructure:"type"`
	WorkerCount     int           `mapstructure:"worker_count"`
	ProcessTimeout  time.Duration `mapstructure:"process_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RedeliveryDelay is how long a requeued message stays invisible before
	// the next evaluation pass.
	RedeliveryDelay time.Duration `mapstructure:"redelivery_delay"`

	SQSRegion     string `mapstructure:"sqs_region"`
	SQSEndpoint   string `mapstructure:"sqs_endpoint"`
	SQSWaitTime   int32  `mapstructure:"sqs_wait_time"`
	SQSVisTimeout int32  `mapstructure:"sqs_visibility_timeout"`

	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	BlockTimeout  time.Duration `mapstructure:"block_timeout"`
}

// RepositoryConfig selects and configures the request-repository backend.
type RepositoryConfig struct {
	// Type is "http" (external repository manager) or "postgres".
	Type           string        `mapstructure:"type"`
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	DatabaseURL    string        `mapstructure:"database_url"`
	PoolMin        int32         `mapstructure:"pool_min"`
	PoolMax        int32         `mapstructure:"pool_max"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// AttachmentConfig selects and configures the attachment store backend.
type AttachmentConfig struct {
	// Type is "safestorage" (presigned-URL HTTP service) or "s3".
	Type           string        `mapstructure:"type"`
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	S3Bucket       string        `mapstructure:"s3_bucket"`
	S3Prefix       string        `mapstructure:"s3_prefix"`
	S3Endpoint     string        `mapstructure:"s3_endpoint"`
	S3Region       string        `mapstructure:"s3_region"`
}

// TrackerConfig holds the notification-tracker queue names, one per channel.
type TrackerConfig struct {
	QueueNames map[string]string `mapstructure:"queue_names"`
}

// ChannelConfig holds the per-channel delivery policy.
type ChannelConfig struct {
	InteractiveQueue string `mapstructure:"interactive_queue"`
	BatchQueue       string `mapstructure:"batch_queue"`
	ErrorQueue       string `mapstructure:"error_queue"`
	// RetryPolicy is the ordered scheduled-retry backoff table, in minutes.
	RetryPolicy []int `mapstructure:"retry_policy"`
	// MaxMessageBytes is the composed-message byte ceiling.
	MaxMessageBytes int64 `mapstructure:"max_message_bytes"`
	// SizePolicy is the attachment-inclusion strategy: "limit" or "first".
	SizePolicy string `mapstructure:"size_policy"`
}

// GatewaysConfig configures the external delivery gateways.
type GatewaysConfig struct {
	PEC   PECGatewayConfig   `mapstructure:"pec"`
	SMS   SMSGatewayConfig   `mapstructure:"sms"`
	Paper PaperGatewayConfig `mapstructure:"paper"`
}

// PECGatewayConfig configures the certified-mail SMTP submission endpoint.
type PECGatewayConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	MessageIDDomain string        `mapstructure:"message_id_domain"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// SMSGatewayConfig configures the SMS provider HTTP endpoint.
type SMSGatewayConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Sender   string        `mapstructure:"sender"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// PaperGatewayConfig configures the paper consolidator HTTP endpoint.
type PaperGatewayConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	APIKey    string        `mapstructure:"api_key"`
	ServiceID string        `mapstructure:"service_id"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Load reads configuration from the given config directory path.
// It looks for a file named "config.yaml" in that directory.
// Environment variables with prefix PN_EC_ override file values.
// For example, PN_EC_REPOSITORY_DATABASE_URL overrides repository.database_url.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("PN_EC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate checks cross-field constraints that viper cannot express.
func (c *Config) validate() error {
	for name, ch := range c.Channels {
		switch ch.SizePolicy {
		case "", "limit", "first":
		default:
			return fmt.Errorf("channel %s: unknown size_policy %q", name, ch.SizePolicy)
		}
		for i, m := range ch.RetryPolicy {
			if m <= 0 {
				return fmt.Errorf("channel %s: retry_policy[%d] must be positive minutes", name, i)
			}
		}
	}
	return nil
}

// Channel returns the configuration for the named channel. Unconfigured
// channels yield the zero value.
func (c *Config) Channel(name string) ChannelConfig {
	return c.Channels[name]
}
