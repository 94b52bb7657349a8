package delivernotification

import (
	"time"

	"notification-workers/internal/common/camunda"
)

type Config struct {
	Timeout         time.Duration
	DefaultPriority string
	// Completer sends the job result. Nil uses the default retry settings.
	Completer *camunda.JobCompleter
}

func LoadConfig() *Config {
	return &Config{
		Timeout:         30 * time.Second,
		DefaultPriority: "medium",
	}
}
