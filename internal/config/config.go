package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config holds all configuration for the service
type Config struct {
	Environment string
	Port        string
	DatabaseURL string
	NATSURL     string
	JWTSecret   string

	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	ScopeCacheTTL            time.Duration
	HierarchyRefreshInterval time.Duration

	ExpenseServiceURL         string
	TaskServiceURL            string
	SafeTransactionServiceURL string
	PayrollServiceURL         string
	EntityServiceTimeout      time.Duration

	AllowedOrigins []string
}

// Load loads configuration from a .env file, if present, and environment variables
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Port:        getEnv("PORT", "8099"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		NATSURL:     getEnv("NATS_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnvInt("REDIS_PORT", 6379),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		ScopeCacheTTL:            time.Duration(getEnvInt("SCOPE_CACHE_TTL_SECONDS", 300)) * time.Second,
		HierarchyRefreshInterval: time.Duration(getEnvInt("HIERARCHY_REFRESH_MINUTES", 5)) * time.Minute,

		ExpenseServiceURL:         getEnv("EXPENSE_SERVICE_URL", "http://expense-service:8080"),
		TaskServiceURL:            getEnv("TASK_SERVICE_URL", "http://task-service:8080"),
		SafeTransactionServiceURL: getEnv("SAFE_SERVICE_URL", "http://safe-service:8080"),
		PayrollServiceURL:         getEnv("PAYROLL_SERVICE_URL", "http://payroll-service:8080"),
		EntityServiceTimeout:      time.Duration(getEnvInt("ENTITY_SERVICE_TIMEOUT_SECONDS", 10)) * time.Second,

		AllowedOrigins: []string{getEnv("CORS_ALLOWED_ORIGIN", "*")},
	}
}

// Validate reports configuration that would make the service unusable
func (c *Config) Validate() error {
	if c.JWTSecret == "" && c.Environment != "development" {
		return fmt.Errorf("JWT_SECRET is required in %s", c.Environment)
	}
	if c.HierarchyRefreshInterval <= 0 {
		return fmt.Errorf("HIERARCHY_REFRESH_MINUTES must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// InitDB initializes the database connection
func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := cfg.DatabaseURL
	if dsn == "" {
		// Build DSN from individual components if DATABASE_URL not set
		host := getEnv("DB_HOST", "localhost")
		port := getEnv("DB_PORT", "5432")
		user := getEnv("DB_USER", "postgres")
		password := getEnv("DB_PASSWORD", "")
		dbname := getEnv("DB_NAME", "approval_db")
		sslmode := getEnv("DB_SSLMODE", "require")

		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host, port, user, password, dbname, sslmode,
		)
	}

	logLevel := logger.Silent
	if cfg.Environment == "development" {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// InitRedis connects to Redis. It returns nil when Redis is not configured or
// unreachable, which disables caching.
func InitRedis(cfg *Config, log *logrus.Logger) *redis.Client {
	if cfg.RedisHost == "" {
		log.Info("REDIS_HOST not set, scope cache disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Redis unreachable, scope cache disabled")
		_ = client.Close()
		return nil
	}
	return client
}
