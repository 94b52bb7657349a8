// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Server        ServerConfig            `mapstructure:"server"`
	AWS           AWSConfig               `mapstructure:"aws"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Delivery      DeliveryConfig          `mapstructure:"delivery"`
	Templates     TemplatesConfig         `mapstructure:"templates"`
	Localization  LocalizationConfig      `mapstructure:"localization"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	UsePlaintext   bool   `mapstructure:"use_plaintext"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Mongo         MongoConfig         `mapstructure:"mongo"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
	Timeout    int    `mapstructure:"timeout"` // milliseconds
}

type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	SSLEnabled bool     `mapstructure:"ssl_enabled"`
	URL        string   `mapstructure:"url"` // Single URL for backwards compatibility
	AuditIndex string   `mapstructure:"audit_index"`
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

// Enabled reports whether an Elasticsearch cluster is configured.
func (e ElasticsearchConfig) Enabled() bool {
	return e.GetURL() != ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ServerConfig is the HTTP surface: health checks, metrics, webhooks and admin.
type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	ReadTimeout     int      `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int      `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int      `mapstructure:"shutdown_timeout"` // milliseconds
	TrackingBuffer  int      `mapstructure:"tracking_buffer"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
}

type AWSConfig struct {
	Region string `mapstructure:"region"`
}

// --- Notification transports ---

// NotificationConfig selects and configures the provider behind each channel.
type NotificationConfig struct {
	Email  EmailConfig  `mapstructure:"email"`
	SMS    SMSConfig    `mapstructure:"sms"`
	Socket SocketConfig `mapstructure:"socket"`
}

// EmailConfig. Provider is one of ses, smtp, mailgun or log.
type EmailConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Provider         string `mapstructure:"provider"`
	FromEmail        string `mapstructure:"from_email"`
	ConfigurationSet string `mapstructure:"configuration_set"`
	BrandName        string `mapstructure:"brand_name"`
	FooterText       string `mapstructure:"footer_text"`

	SMTP struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		UseTLS   bool   `mapstructure:"use_tls"`
	} `mapstructure:"smtp"`

	Mailgun struct {
		Domain  string `mapstructure:"domain"`
		APIKey  string `mapstructure:"api_key"`
		APIBase string `mapstructure:"api_base"`
	} `mapstructure:"mailgun"`
}

// SMSConfig. Provider is one of sns, twilio or log.
type SMSConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Provider  string `mapstructure:"provider"`
	SenderID  string `mapstructure:"sender_id"`
	MaxLength int    `mapstructure:"max_length"`

	Twilio struct {
		AccountSID string `mapstructure:"account_sid"`
		AuthToken  string `mapstructure:"auth_token"`
		From       string `mapstructure:"from"`
	} `mapstructure:"twilio"`
}

type SocketConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Prefix             string `mapstructure:"prefix"`
	BroadcastThreshold int    `mapstructure:"broadcast_threshold"`
}

// --- Delivery ---

type DeliveryConfig struct {
	Retry          RetryConfig                `mapstructure:"retry"`
	Health         HealthConfig               `mapstructure:"health"`
	RateLimits     map[string]RateLimitConfig `mapstructure:"rate_limits"`
	Events         EventsConfig               `mapstructure:"events"`
	AttemptTimeout int                        `mapstructure:"attempt_timeout"` // milliseconds
	RetryKey       string                     `mapstructure:"retry_key"`
}

type RetryConfig struct {
	BaseDelay  int     `mapstructure:"base_delay"` // milliseconds
	Multiplier float64 `mapstructure:"multiplier"`
	MaxDelay   int     `mapstructure:"max_delay"` // milliseconds
	MaxRetries int     `mapstructure:"max_retries"`
}

type HealthConfig struct {
	SoftFailures int `mapstructure:"soft_failures"`
	HardFailures int `mapstructure:"hard_failures"`
	Cooldown     int `mapstructure:"cooldown"` // milliseconds
}

type RateLimitConfig struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

type EventsConfig struct {
	Buffer       int    `mapstructure:"buffer"`
	RedisChannel string `mapstructure:"redis_channel"`
	Audit        bool   `mapstructure:"audit"`
}

// --- Templates & localization ---

// TemplatesConfig. Store is one of memory, postgres or mongo.
type TemplatesConfig struct {
	Store           string `mapstructure:"store"`
	HistoryLimit    int    `mapstructure:"history_limit"`
	HistoryBackend  string `mapstructure:"history_backend"` // memory or redis
	SeedFile        string `mapstructure:"seed_file"`
	DefaultLanguage string `mapstructure:"default_language"`
}

type LocalizationConfig struct {
	DefaultLanguage    string   `mapstructure:"default_language"`
	SupportedLanguages []string `mapstructure:"supported_languages"`
	FallbackChain      []string `mapstructure:"fallback_chain"`

	TranslationCache struct {
		TTL        int `mapstructure:"ttl"` // milliseconds
		MaxEntries int `mapstructure:"max_entries"`
	} `mapstructure:"translation_cache"`

	Translator struct {
		URL     string `mapstructure:"url"`
		APIKey  string `mapstructure:"api_key"`
		Timeout int    `mapstructure:"timeout"` // milliseconds
	} `mapstructure:"translator"`
}
