package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	TransportHTTP     = "http"
	TransportRabbitMQ = "rabbitmq"
)

type Config struct {
	DatabaseDSN      string `env:"DATABASE_DSN,required=true"`
	RedisURL         string `env:"REDIS_URL,required=true"`
	BackendURL       string `env:"BACKEND_URL,required=true"`
	ServiceRoleKey   string `env:"SERVICE_ROLE_KEY,required=true"`
	WhatsAppAPIURL   string `env:"WHATSAPP_API_URL,required=true"`
	WhatsAppAPIToken string `env:"WHATSAPP_API_TOKEN"`
	RabbitMQURL      string `env:"RABBITMQ_URL"`

	DispatchTransport string        `env:"DISPATCH_TRANSPORT,default=http"`
	LeaseTTL          time.Duration `env:"LEASE_TTL,default=90s"`
	InvokeTimeout     time.Duration `env:"DISPATCH_INVOKE_TIMEOUT,default=60s"`
	DispatchBatchSize int           `env:"DISPATCH_BATCH_SIZE,default=50"`
	ScanLimit         int           `env:"SCAN_LIMIT,default=100"`
	SchedulerCron     string        `env:"SCHEDULER_CRON,default=@every 1m"`
	ResumeCron        string        `env:"RESUME_CRON,default=@every 1m"`
	RateLimitPerSec   int           `env:"RATE_LIMIT_PER_SEC,default=20"`
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY,default=4"`
	FeatureCacheTTL   time.Duration `env:"FEATURE_CACHE_TTL,default=5m"`
	APIPort           int           `env:"API_PORT,default=8080"`
	LogLevel          string        `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.DispatchTransport = strings.ToLower(strings.TrimSpace(c.DispatchTransport))
	switch c.DispatchTransport {
	case TransportHTTP:
	case TransportRabbitMQ:
		if c.RabbitMQURL == "" {
			return fmt.Errorf("invalid config: RABBITMQ_URL is required when DISPATCH_TRANSPORT=%s", TransportRabbitMQ)
		}
	default:
		return fmt.Errorf("invalid config: unsupported DISPATCH_TRANSPORT %q", c.DispatchTransport)
	}

	if c.LeaseTTL <= 0 {
		return fmt.Errorf("invalid config: LEASE_TTL must be positive")
	}
	if c.InvokeTimeout <= 0 {
		return fmt.Errorf("invalid config: DISPATCH_INVOKE_TIMEOUT must be positive")
	}
	if c.DispatchBatchSize <= 0 {
		return fmt.Errorf("invalid config: DISPATCH_BATCH_SIZE must be positive")
	}
	if c.ScanLimit <= 0 {
		return fmt.Errorf("invalid config: SCAN_LIMIT must be positive")
	}
	return nil
}
