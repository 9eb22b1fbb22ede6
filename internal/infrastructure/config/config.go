package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Fiscal        FiscalConfig        `mapstructure:"fiscal"`
	Notification  NotificationConfig  `mapstructure:"notification"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// GatewayConfig configures the bank payment gateway adapter.
type GatewayConfig struct {
	BaseURL               string        `mapstructure:"base_url"`
	Username              string        `mapstructure:"username"`
	Password              string        `mapstructure:"password"`
	ReturnURL             string        `mapstructure:"return_url"`
	FailURL               string        `mapstructure:"fail_url"`
	SessionTimeout        time.Duration `mapstructure:"session_timeout"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	RetryAttempts         uint          `mapstructure:"retry_attempts"`
	RetryBaseDelay        time.Duration `mapstructure:"retry_base_delay"`
	BreakerFailureRatio   float64       `mapstructure:"breaker_failure_ratio"`
	BreakerMinRequests    uint32        `mapstructure:"breaker_min_requests"`
	BreakerOpenTimeout    time.Duration `mapstructure:"breaker_open_timeout"`
}

// FiscalConfig configures the fiscal receipt provider adapter.
type FiscalConfig struct {
	URL            string        `mapstructure:"url"`
	Login          string        `mapstructure:"login"`
	Password       string        `mapstructure:"password"`
	PaymentLabel   string        `mapstructure:"payment_label"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// NotificationConfig configures the inbound notification gate. An empty
// secret disables the integrity check (explicit opt-in; document the
// deployment risk). AllowedOrigins entries are CIDR blocks or bare IPs.
type NotificationConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	Secret         string   `mapstructure:"secret"`
}

type WorkerConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("QRPAY")
	v.AutomaticEnv()

	// Read from config file if exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/qrpay")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Gateway.BaseURL == "" {
		errs = append(errs, fmt.Errorf("gateway.base_url is required"))
	}
	if c.Gateway.RetryAttempts == 0 {
		errs = append(errs, fmt.Errorf("gateway.retry_attempts must be positive"))
	}
	if c.Fiscal.URL == "" {
		errs = append(errs, fmt.Errorf("fiscal.url is required"))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}
	if c.Worker.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("worker.lock_ttl must be positive"))
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Gateway.Username == "" || c.Gateway.Password == "" {
			errs = append(errs, fmt.Errorf("gateway credentials required in production"))
		}
		if c.Notification.Secret == "" {
			errs = append(errs, fmt.Errorf("notification.secret required in production"))
		}
		for _, origin := range c.Notification.AllowedOrigins {
			if origin == "0.0.0.0/0" || origin == "::/0" {
				errs = append(errs, fmt.Errorf("notification.allowed_origins must not contain %s in production", origin))
			}
		}
	}

	// JWT secret length validation
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "qrpay")
	v.SetDefault("database.database", "qrpay")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Gateway defaults
	v.SetDefault("gateway.base_url", "https://gateway.example.test/ecomm/gw/partner/api/v1")
	v.SetDefault("gateway.return_url", "")
	v.SetDefault("gateway.fail_url", "")
	v.SetDefault("gateway.session_timeout", "20m")
	v.SetDefault("gateway.request_timeout", "30s")
	v.SetDefault("gateway.retry_attempts", 3)
	v.SetDefault("gateway.retry_base_delay", "500ms")
	v.SetDefault("gateway.breaker_failure_ratio", 0.6)
	v.SetDefault("gateway.breaker_min_requests", 10)
	v.SetDefault("gateway.breaker_open_timeout", "30s")

	// Fiscal defaults
	v.SetDefault("fiscal.url", "https://fiscal.example.test/api/v1/register")
	v.SetDefault("fiscal.payment_label", "SBP")
	v.SetDefault("fiscal.request_timeout", "30s")

	// Notification defaults: allow everything until an allow-list is
	// configured, so local setups work; production validation above forces a
	// secret and deployments are expected to narrow the origins.
	v.SetDefault("notification.allowed_origins", []string{"0.0.0.0/0"})
	v.SetDefault("notification.secret", "")

	// Worker defaults
	v.SetDefault("worker.sweep_interval", "1m")
	v.SetDefault("worker.batch_size", 50)
	v.SetDefault("worker.lock_ttl", "45s")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", true)

	// Auth defaults
	v.SetDefault("auth.jwt_expiry", "24h")

	// Instance ID
	v.SetDefault("instance_id", "qrpay-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
