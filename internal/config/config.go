package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	SeedDemoData bool

	RateLimit RateLimitConfig
}

// RateLimitConfig controls the redis-backed limiter on the public
// coupon validation endpoint. Disabled when no redis address is set.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ValidateRate  float64
	ValidateBurst int
}

// Load loads configuration from environment variables and an optional .env file.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("APP_SERVICE", "perks")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("DATABASE_TYPE", "postgres")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", "5432")
	v.SetDefault("DATABASE_NAME", "perks")
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_IDLE_CONN", 5)
	v.SetDefault("DATABASE_MAX_OPEN_CONN", 25)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", 3600)
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", 600)
	v.SetDefault("SEED_DEMO_DATA", false)
	v.SetDefault("RATE_LIMIT_ENABLED", false)
	v.SetDefault("RATE_LIMIT_REDIS_ADDR", "")
	v.SetDefault("RATE_LIMIT_REDIS_PASSWORD", "")
	v.SetDefault("RATE_LIMIT_REDIS_DB", 0)
	v.SetDefault("RATE_LIMIT_VALIDATE_RATE", 10.0)
	v.SetDefault("RATE_LIMIT_VALIDATE_BURST", 20)

	return Config{
		AppName:           v.GetString("APP_SERVICE"),
		AppVersion:        v.GetString("APP_VERSION"),
		Environment:       strings.TrimSpace(v.GetString("ENVIRONMENT")),
		HTTPAddr:          v.GetString("HTTP_ADDR"),
		OTLPEndpoint:      v.GetString("OTLP_ENDPOINT"),
		DBType:            strings.ToLower(v.GetString("DATABASE_TYPE")),
		DBHost:            v.GetString("DATABASE_HOST"),
		DBPort:            v.GetString("DATABASE_PORT"),
		DBName:            v.GetString("DATABASE_NAME"),
		DBUser:            v.GetString("DATABASE_USER"),
		DBPassword:        v.GetString("DATABASE_PASSWORD"),
		DBSSLMode:         v.GetString("DATABASE_SSLMODE"),
		DBMaxIdleConn:     v.GetInt("DATABASE_MAX_IDLE_CONN"),
		DBMaxOpenConn:     v.GetInt("DATABASE_MAX_OPEN_CONN"),
		DBConnMaxLifetime: v.GetInt("DATABASE_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTime: v.GetInt("DATABASE_CONN_MAX_IDLE_TIME"),
		SeedDemoData:      v.GetBool("SEED_DEMO_DATA"),
		RateLimit: RateLimitConfig{
			Enabled:       v.GetBool("RATE_LIMIT_ENABLED"),
			RedisAddr:     strings.TrimSpace(v.GetString("RATE_LIMIT_REDIS_ADDR")),
			RedisPassword: strings.TrimSpace(v.GetString("RATE_LIMIT_REDIS_PASSWORD")),
			RedisDB:       v.GetInt("RATE_LIMIT_REDIS_DB"),
			ValidateRate:  v.GetFloat64("RATE_LIMIT_VALIDATE_RATE"),
			ValidateBurst: v.GetInt("RATE_LIMIT_VALIDATE_BURST"),
		},
	}
}

// IsProduction reports whether the service runs in a production environment.
func (c Config) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

// Module wires configuration loading.
var Module = fx.Module("config",
	fx.Provide(Load),
)
