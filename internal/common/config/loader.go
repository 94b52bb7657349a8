// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml over it
// and applies environment overrides.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // ignore error if not found

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	// DATABASE_REDIS_ADDRESS overrides database.redis.address
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// loadEnvFile looks for .env from the working directory up to the module root.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env", // test/e2e
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				fmt.Printf("Loaded .env from: %s\n", path)
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars replaces ${VAR} placeholders in string and list values.
// Unset variables expand to empty so validateConfig reports them.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		switch val := v.Get(key).(type) {
		case string:
			if expanded, ok := expand(val); ok {
				v.Set(key, expanded)
			}
		case []interface{}:
			out := make([]string, 0, len(val))
			changed := false
			for _, item := range val {
				s := fmt.Sprint(item)
				if expanded, ok := expand(s); ok {
					s, changed = expanded, true
				}
				if s != "" {
					out = append(out, s)
				}
			}
			if changed {
				v.Set(key, out)
			}
		}
	}
}

func expand(s string) (string, bool) {
	if !strings.Contains(s, "${") && !(strings.HasPrefix(s, "$") && len(s) > 1) {
		return s, false
	}
	expanded := os.ExpandEnv(s)
	return expanded, expanded != s
}

// overrideEmptyConfig fills provider secrets from their conventional
// environment variable names when the config file leaves them empty.
func overrideEmptyConfig(cfg *Config) {
	setIfEmpty := func(dst *string, env string) {
		if *dst != "" {
			return
		}
		if val := os.Getenv(env); val != "" {
			*dst = val
		}
	}

	setIfEmpty(&cfg.AWS.Region, "AWS_REGION")
	setIfEmpty(&cfg.Notifications.Email.SMTP.Password, "SMTP_PASSWORD")
	setIfEmpty(&cfg.Notifications.Email.Mailgun.APIKey, "MAILGUN_API_KEY")
	setIfEmpty(&cfg.Notifications.SMS.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	setIfEmpty(&cfg.Notifications.SMS.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	setIfEmpty(&cfg.Localization.Translator.APIKey, "TRANSLATION_API_KEY")

	// Database overrides
	setIfEmpty(&cfg.Database.Postgres.User, "DB_USER")
	setIfEmpty(&cfg.Database.Postgres.Password, "DB_PASSWORD")
	setIfEmpty(&cfg.Database.Mongo.URI, "MONGO_URI")
	setIfEmpty(&cfg.Database.Redis.Password, "REDIS_PASSWORD")
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "notification-workers"
	}

	// Camunda defaults
	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	// Database defaults
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Mongo.Database == "" {
		cfg.Database.Mongo.Database = "notifications"
	}
	if cfg.Database.Mongo.Collection == "" {
		cfg.Database.Mongo.Collection = "templates"
	}
	if cfg.Database.Mongo.Timeout == 0 {
		cfg.Database.Mongo.Timeout = 10000
	}
	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}
	if cfg.Database.Elasticsearch.AuditIndex == "" {
		cfg.Database.Elasticsearch.AuditIndex = "notification-delivery-events"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15000
	}
	if cfg.Server.TrackingBuffer == 0 {
		cfg.Server.TrackingBuffer = 1024
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}

	// Transport defaults
	if cfg.Notifications.Email.Provider == "" {
		cfg.Notifications.Email.Provider = "ses"
	}
	if cfg.Notifications.Email.SMTP.Port == 0 {
		cfg.Notifications.Email.SMTP.Port = 587
	}
	if cfg.Notifications.SMS.Provider == "" {
		cfg.Notifications.SMS.Provider = "sns"
	}
	if cfg.Notifications.SMS.MaxLength == 0 {
		cfg.Notifications.SMS.MaxLength = 160
	}
	if cfg.Notifications.Socket.Prefix == "" {
		cfg.Notifications.Socket.Prefix = "notifications"
	}
	if cfg.Notifications.Socket.BroadcastThreshold == 0 {
		cfg.Notifications.Socket.BroadcastThreshold = 10
	}

	// Delivery defaults
	if cfg.Delivery.Retry.BaseDelay == 0 {
		cfg.Delivery.Retry.BaseDelay = 1000
	}
	if cfg.Delivery.Retry.Multiplier == 0 {
		cfg.Delivery.Retry.Multiplier = 2
	}
	if cfg.Delivery.Retry.MaxDelay == 0 {
		cfg.Delivery.Retry.MaxDelay = 30000
	}
	if cfg.Delivery.Retry.MaxRetries == 0 {
		cfg.Delivery.Retry.MaxRetries = 3
	}
	if cfg.Delivery.Health.SoftFailures == 0 {
		cfg.Delivery.Health.SoftFailures = 5
	}
	if cfg.Delivery.Health.HardFailures == 0 {
		cfg.Delivery.Health.HardFailures = 10
	}
	if cfg.Delivery.Health.Cooldown == 0 {
		cfg.Delivery.Health.Cooldown = 300000
	}
	if cfg.Delivery.Events.Buffer == 0 {
		cfg.Delivery.Events.Buffer = 256
	}
	if cfg.Delivery.AttemptTimeout == 0 {
		cfg.Delivery.AttemptTimeout = 30000
	}
	if cfg.Delivery.RetryKey == "" {
		cfg.Delivery.RetryKey = "notifications:retries"
	}

	// Template defaults
	if cfg.Templates.Store == "" {
		cfg.Templates.Store = "postgres"
	}
	if cfg.Templates.HistoryLimit == 0 {
		cfg.Templates.HistoryLimit = 10
	}
	if cfg.Templates.HistoryBackend == "" {
		cfg.Templates.HistoryBackend = "redis"
	}
	if cfg.Templates.DefaultLanguage == "" {
		cfg.Templates.DefaultLanguage = "en"
	}

	// Localization defaults
	if cfg.Localization.DefaultLanguage == "" {
		cfg.Localization.DefaultLanguage = cfg.Templates.DefaultLanguage
	}
	if cfg.Localization.TranslationCache.TTL == 0 {
		cfg.Localization.TranslationCache.TTL = 86400000
	}
	if cfg.Localization.TranslationCache.MaxEntries == 0 {
		cfg.Localization.TranslationCache.MaxEntries = 1000
	}
	if cfg.Localization.Translator.Timeout == 0 {
		cfg.Localization.Translator.Timeout = 10000
	}

	// Worker defaults
	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required")
	}

	switch cfg.Templates.Store {
	case "memory":
	case "postgres":
		if cfg.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
		if cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
		if cfg.Database.Postgres.User == "" {
			return fmt.Errorf("database.postgres.user is required")
		}
	case "mongo":
		if cfg.Database.Mongo.URI == "" {
			return fmt.Errorf("database.mongo.uri is required")
		}
	default:
		return fmt.Errorf("templates.store must be memory, postgres or mongo, got %q", cfg.Templates.Store)
	}

	if cfg.Database.Redis.Address == "" && cfg.usesRedis() {
		return fmt.Errorf("database.redis.address is required")
	}

	switch cfg.Notifications.Email.Provider {
	case "ses", "smtp", "mailgun", "log":
	default:
		return fmt.Errorf("notifications.email.provider must be ses, smtp, mailgun or log, got %q", cfg.Notifications.Email.Provider)
	}
	if cfg.Notifications.Email.Enabled && cfg.Notifications.Email.FromEmail == "" && cfg.Notifications.Email.Provider != "log" {
		return fmt.Errorf("notifications.email.from_email is required")
	}

	switch cfg.Notifications.SMS.Provider {
	case "sns", "twilio", "log":
	default:
		return fmt.Errorf("notifications.sms.provider must be sns, twilio or log, got %q", cfg.Notifications.SMS.Provider)
	}

	if cfg.Delivery.Health.HardFailures < cfg.Delivery.Health.SoftFailures {
		return fmt.Errorf("delivery.health.hard_failures must not be below soft_failures")
	}

	return nil
}

// usesRedis reports whether any enabled component needs the Redis client.
func (c *Config) usesRedis() bool {
	return c.Notifications.Socket.Enabled ||
		c.Templates.HistoryBackend == "redis" ||
		c.Delivery.Events.RedisChannel != ""
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}

	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

// IsWorkerEnabled checks if a specific worker is enabled
func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
