package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host: "localhost",
			Port: 5432,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Gateway: GatewayConfig{
			BaseURL:       "https://gateway.example.test/api/v1",
			RetryAttempts: 3,
		},
		Fiscal: FiscalConfig{
			URL: "https://fiscal.example.test/register",
		},
		Worker: WorkerConfig{
			SweepInterval: time.Minute,
			BatchSize:     50,
			LockTTL:       45 * time.Second,
		},
	}
}

func TestValidate_Success(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantMsg string
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"zero read timeout", func(c *Config) { c.Server.ReadTimeout = 0 }, "server.read_timeout"},
		{"zero write timeout", func(c *Config) { c.Server.WriteTimeout = 0 }, "server.write_timeout"},
		{"no db host", func(c *Config) { c.Database.Host = "" }, "database.host"},
		{"zero db port", func(c *Config) { c.Database.Port = 0 }, "database.port"},
		{"zero redis port", func(c *Config) { c.Redis.Port = 0 }, "redis.port"},
		{"no gateway url", func(c *Config) { c.Gateway.BaseURL = "" }, "gateway.base_url"},
		{"zero retry attempts", func(c *Config) { c.Gateway.RetryAttempts = 0 }, "gateway.retry_attempts"},
		{"no fiscal url", func(c *Config) { c.Fiscal.URL = "" }, "fiscal.url"},
		{"zero batch size", func(c *Config) { c.Worker.BatchSize = 0 }, "worker.batch_size"},
		{"zero lock ttl", func(c *Config) { c.Worker.LockTTL = 0 }, "worker.lock_ttl"},
		{"short jwt secret", func(c *Config) { c.Auth.JWTSecret = "too-short" }, "auth.jwt_secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Gateway.BaseURL = ""
	cfg.Fiscal.URL = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "gateway.base_url")
	assert.Contains(t, err.Error(), "fiscal.url")
}

func TestValidate_ProductionRequiresSecrets(t *testing.T) {
	t.Setenv("ENV", "production")

	cfg := validConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.password")
	assert.Contains(t, err.Error(), "gateway credentials")
	assert.Contains(t, err.Error(), "notification.secret")

	cfg.Database.Password = "db-secret"
	cfg.Gateway.Username = "merchant"
	cfg.Gateway.Password = "gw-secret"
	cfg.Notification.Secret = "shared-secret"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_ProductionRejectsOpenAllowList(t *testing.T) {
	t.Setenv("ENV", "production")

	cfg := validConfig()
	cfg.Database.Password = "db-secret"
	cfg.Gateway.Username = "merchant"
	cfg.Gateway.Password = "gw-secret"
	cfg.Notification.Secret = "shared-secret"

	cfg.Notification.AllowedOrigins = []string{"0.0.0.0/0"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notification.allowed_origins")

	cfg.Notification.AllowedOrigins = []string{"::/0"}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notification.allowed_origins")

	cfg.Notification.AllowedOrigins = []string{"10.20.0.0/16"}
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, uint(3), cfg.Gateway.RetryAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Gateway.RetryBaseDelay)
	assert.Equal(t, 20*time.Minute, cfg.Gateway.SessionTimeout)
	assert.Equal(t, time.Minute, cfg.Worker.SweepInterval)
	assert.Equal(t, 50, cfg.Worker.BatchSize)
	assert.Equal(t, []string{"0.0.0.0/0"}, cfg.Notification.AllowedOrigins)
	assert.Empty(t, cfg.Notification.Secret)
	assert.Equal(t, "SBP", cfg.Fiscal.PaymentLabel)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("QRPAY_INSTANCE_ID", "qrpay-7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "qrpay-7", cfg.InstanceID)
}

func TestDatabaseDSN(t *testing.T) {
	c := DatabaseConfig{
		Host: "db.internal", Port: 5432, User: "qrpay",
		Password: "s3cret", Database: "qrpay", SSLMode: "require",
	}
	assert.Equal(t,
		"host=db.internal port=5432 user=qrpay password=s3cret dbname=qrpay sslmode=require",
		c.DatabaseDSN())
}

func TestRedisAddr(t *testing.T) {
	c := RedisConfig{Host: "cache.internal", Port: 6380}
	assert.Equal(t, "cache.internal:6380", c.RedisAddr())
}
