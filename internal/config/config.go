package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string

	Logger LoggerConfig

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
	DBMetricsEnabled  bool

	RedisAddr     string
	RedisPassword string

	Metrics MetricsConfig

	Scheduler SchedulerConfig
}

type LoggerConfig struct {
	Level string
}

type MetricsConfig struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
}

type SchedulerConfig struct {
	Enabled      bool
	IntervalSec  int
	LockKey      string
	LockTTLSec   int
	BillingBatch int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "credora"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		Logger: LoggerConfig{
			Level: getenv("LOG_LEVEL", "info"),
		},

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "credora"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBMetricsEnabled:  getenvBool("DATABASE_METRICS_ENABLED", false),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		Metrics: MetricsConfig{
			Enabled:          getenvBool("METRICS_ENABLED", false),
			ExporterEndpoint: getenv("METRICS_OTLP_ENDPOINT", "localhost:4317"),
			ExporterProtocol: strings.ToLower(getenv("METRICS_OTLP_PROTOCOL", "grpc")),
		},

		Scheduler: SchedulerConfig{
			Enabled:      getenvBool("SCHEDULER_ENABLED", false),
			IntervalSec:  getenvInt("SCHEDULER_INTERVAL_SEC", 300),
			LockKey:      getenv("SCHEDULER_LOCK_KEY", "credora:billing_cycle"),
			LockTTLSec:   getenvInt("SCHEDULER_LOCK_TTL_SEC", 240),
			BillingBatch: getenvInt("SCHEDULER_BILLING_BATCH", 100),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
