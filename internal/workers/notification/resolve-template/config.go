package resolvetemplate

import (
	"time"

	"notification-workers/internal/common/camunda"
)

type Config struct {
	Timeout   time.Duration
	Completer *camunda.JobCompleter
}

func LoadConfig() *Config {
	return &Config{Timeout: 5 * time.Second}
}
