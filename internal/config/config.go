package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/petamap/markers-auth/internal/models"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	AppEnv     string
	ServerPort int
	LogLevel   string

	DatabaseURL string

	AccessTokenSecret []byte
	CSRFSecret        []byte

	ArgonMemoryKB    uint32
	ArgonTime        uint32
	ArgonParallelism uint8

	RedisAddr    string
	KafkaBrokers []string

	TurnstileSecretKey string

	SeedAdminPassword string
}

func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("notice: .env file not found: %v, using system environment variables", err)
	}

	cfg := &Config{
		AppEnv:      EnvDefault("APP_ENV", EnvDevelopment),
		ServerPort:  EnvIntDefault("SERVER_PORT", 8080),
		LogLevel:    EnvDefault("LOG_LEVEL", "info"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		AccessTokenSecret: []byte(os.Getenv("ACCESS_TOKEN_SECRET")),
		CSRFSecret:        []byte(os.Getenv("CSRF_SECRET")),

		RedisAddr:    os.Getenv("REDIS_ADDR"),
		KafkaBrokers: CSV(os.Getenv("KAFKA_BROKERS")),

		TurnstileSecretKey: os.Getenv("TURNSTILE_SECRET_KEY"),
		SeedAdminPassword:  os.Getenv("SEED_ADMIN_PASSWORD"),
	}

	// The CSRF signer falls back to the access-token secret when its own
	// secret is unset.
	if len(cfg.CSRFSecret) == 0 {
		cfg.CSRFSecret = cfg.AccessTokenSecret
	}

	if cfg.Production() {
		if len(cfg.AccessTokenSecret) == 0 {
			return nil, fmt.Errorf("ACCESS_TOKEN_SECRET must be set in production")
		}
		if len(cfg.CSRFSecret) == 0 {
			return nil, fmt.Errorf("CSRF_SECRET or ACCESS_TOKEN_SECRET must be set in production")
		}
	} else {
		if len(cfg.AccessTokenSecret) == 0 {
			log.Printf("warning: using default ACCESS_TOKEN_SECRET in development, insecure for production")
			cfg.AccessTokenSecret = []byte("dev_access_token_secret_for_development_only")
		}
		if len(cfg.CSRFSecret) == 0 {
			cfg.CSRFSecret = cfg.AccessTokenSecret
		}
		if cfg.SeedAdminPassword == "" {
			cfg.SeedAdminPassword = "admin"
		}
	}

	// Production profile is deliberately heavier: attacker cost vs login latency.
	if cfg.Production() {
		cfg.ArgonMemoryKB = uint32(EnvIntDefault("ARGON_MEMORY_KB", 64*1024))
		cfg.ArgonTime = uint32(EnvIntDefault("ARGON_TIME", 3))
		cfg.ArgonParallelism = uint8(EnvIntDefault("ARGON_PARALLELISM", 2))
	} else {
		cfg.ArgonMemoryKB = uint32(EnvIntDefault("ARGON_MEMORY_KB", 16*1024))
		cfg.ArgonTime = uint32(EnvIntDefault("ARGON_TIME", 1))
		cfg.ArgonParallelism = uint8(EnvIntDefault("ARGON_PARALLELISM", 1))
	}

	return cfg, nil
}

func (c *Config) Production() bool {
	return c.AppEnv == EnvProduction
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("cannot connect to database: %w", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.RefreshToken{}, &models.TwoFactorSecret{}); err != nil {
		return nil, fmt.Errorf("cannot run migrations: %w", err)
	}
	return db, nil
}

func CSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func EnvDefault(key, def string) string {
	if os.Getenv(key) != "" {
		return os.Getenv(key)
	}
	return def
}

func EnvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
