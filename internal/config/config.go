package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	StoragePath   string `yaml:"storage_path"`
	RetentionDays int    `yaml:"retention_days"`
}

type Config struct {
	Server struct {
		HTTPPort    int      `yaml:"http_port"`
		GRPCPort    int      `yaml:"grpc_port"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup BackupConfig `yaml:"backup"`

	Redis struct {
		Address               string `yaml:"address"`
		Password              string `yaml:"password"`
		DB                    int    `yaml:"db"`
		PolicyCacheTTLSeconds int    `yaml:"policy_cache_ttl_seconds"`
	} `yaml:"redis"`

	Gateway struct {
		PublicKey string `yaml:"public_key"`
		SecretKey string `yaml:"secret_key"`
	} `yaml:"gateway"`

	AMQP struct {
		URL                   string `yaml:"url"`
		GatewayEventsQueue    string `yaml:"gateway_events_queue"`
		BookingEventsExchange string `yaml:"booking_events_exchange"`
		Prefetch              int    `yaml:"prefetch"`
	} `yaml:"amqp"`

	Telegram struct {
		BotToken     string  `yaml:"bot_token"`
		StaffChatIDs []int64 `yaml:"staff_chat_ids"`
	} `yaml:"telegram"`

	Sheets struct {
		CredentialsFile string `yaml:"credentials_file"`
		SpreadsheetID   string `yaml:"spreadsheet_id"`
		Range           string `yaml:"range"`
	} `yaml:"sheets"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		Issuer    string `yaml:"issuer"`
	} `yaml:"auth"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Booking struct {
		Timezone               string `yaml:"timezone"`
		DeferredMinDays        int    `yaml:"deferred_min_days"`
		CompletionSweepMinutes int    `yaml:"completion_sweep_minutes"`
	} `yaml:"booking"`

	Policies struct {
		Path          string `yaml:"path"`
		ReloadSeconds int    `yaml:"reload_seconds"`
	} `yaml:"policies"`

	Notifications struct {
		RatePerSecond float64 `yaml:"rate_per_second"`
		Burst         int     `yaml:"burst"`
		QueueSize     int     `yaml:"queue_size"`
	} `yaml:"notifications"`

	Reports struct {
		Enabled bool   `yaml:"enabled"`
		Dir     string `yaml:"dir"`
	} `yaml:"reports"`
}

// Secrets are read from SPACEBOOK_* environment variables and win over the YAML file.
type Secrets struct {
	GatewayPublicKey string `envconfig:"GATEWAY_PUBLIC_KEY"`
	GatewaySecretKey string `envconfig:"GATEWAY_SECRET_KEY"`
	JWTSecret        string `envconfig:"JWT_SECRET"`
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	AMQPURL          string `envconfig:"AMQP_URL"`
	RedisPassword    string `envconfig:"REDIS_PASSWORD"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var secrets Secrets
	if err = envconfig.Process("spacebook", &secrets); err != nil {
		return nil, fmt.Errorf("read secrets from env: %w", err)
	}
	cfg.applySecrets(secrets)
	cfg.applyDefaults()

	if _, err = time.LoadLocation(cfg.Booking.Timezone); err != nil {
		return nil, fmt.Errorf("booking.timezone: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applySecrets(s Secrets) {
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&c.Gateway.PublicKey, s.GatewayPublicKey)
	override(&c.Gateway.SecretKey, s.GatewaySecretKey)
	override(&c.Auth.JWTSecret, s.JWTSecret)
	override(&c.Telegram.BotToken, s.TelegramBotToken)
	override(&c.AMQP.URL, s.AMQPURL)
	override(&c.Redis.Password, s.RedisPassword)
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/spacebook.db"
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}
	if c.Backup.IntervalHours <= 0 {
		c.Backup.IntervalHours = 24
	}
	if c.AMQP.GatewayEventsQueue == "" {
		c.AMQP.GatewayEventsQueue = "gateway.events"
	}
	if c.AMQP.BookingEventsExchange == "" {
		c.AMQP.BookingEventsExchange = "booking.events"
	}
	if c.AMQP.Prefetch <= 0 {
		c.AMQP.Prefetch = 10
	}
	if c.Sheets.Range == "" {
		c.Sheets.Range = "Bookings!A:P"
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "spacebook"
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Booking.Timezone == "" {
		c.Booking.Timezone = "UTC"
	}
	if c.Booking.DeferredMinDays <= 0 {
		c.Booking.DeferredMinDays = 7
	}
	if c.Booking.CompletionSweepMinutes <= 0 {
		c.Booking.CompletionSweepMinutes = 60
	}
	if c.Policies.Path == "" {
		c.Policies.Path = "configs/policies.yaml"
	}
	if c.Policies.ReloadSeconds <= 0 {
		c.Policies.ReloadSeconds = 30
	}
	if c.Notifications.RatePerSecond <= 0 {
		c.Notifications.RatePerSecond = 20
	}
	if c.Notifications.Burst <= 0 {
		c.Notifications.Burst = 30
	}
	if c.Notifications.QueueSize <= 0 {
		c.Notifications.QueueSize = 256
	}
	if c.Reports.Dir == "" {
		c.Reports.Dir = "data/reports"
	}
}

// Location returns the timezone used to decide calendar dates.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Booking.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) PolicyCacheTTL() time.Duration {
	return time.Duration(c.Redis.PolicyCacheTTLSeconds) * time.Second
}

func (c *Config) CompletionSweepInterval() time.Duration {
	return time.Duration(c.Booking.CompletionSweepMinutes) * time.Minute
}

func (c *Config) PolicyReloadInterval() time.Duration {
	return time.Duration(c.Policies.ReloadSeconds) * time.Second
}
