package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Lifecycle LifecycleConfig
	Resolver  ResolverConfig
	Audit     AuditConfig
	LogLevel  string

	// CatalogPath and PolicyPath point at optional YAML files; empty means
	// the compiled-in defaults.
	CatalogPath string
	PolicyPath  string

	// SeedSpaces maps built-in space codes to concrete space IDs for role
	// seeding, e.g. "SUPPORT=space-support,EXECUTIVE=space-exec". Empty
	// disables seeding.
	SeedSpaces map[string]string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server runs on a separate port for probes.
	HealthPort string
}

// DatabaseConfig holds postgres configuration.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LifecycleConfig tunes the approval workflow.
type LifecycleConfig struct {
	SweepSchedule    string
	ExecutionTimeout time.Duration
	RateLimitPerMin  int
}

// ResolverConfig tunes the authorization resolver cache.
type ResolverConfig struct {
	CacheEnabled bool
	CacheSize    int
	CacheTTL     time.Duration
}

// AuditConfig tunes audit storage.
type AuditConfig struct {
	FileDir     string // empty disables the file sink
	FileMaxSize int64
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("WARDEN_HOST", "0.0.0.0"),
			Port:            getEnv("WARDEN_PORT", "8080"),
			ReadTimeout:     getEnvDuration("WARDEN_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("WARDEN_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("WARDEN_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("WARDEN_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("WARDEN_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:          getEnv("WARDEN_POSTGRES_URL", "postgres://localhost:5432/warden?sslmode=disable"),
			MaxOpenConns: getEnvInt("WARDEN_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns: getEnvInt("WARDEN_POSTGRES_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("WARDEN_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("WARDEN_REDIS_PASSWORD", ""),
			DB:       getEnvInt("WARDEN_REDIS_DB", 0),
		},
		Lifecycle: LifecycleConfig{
			SweepSchedule:    getEnv("WARDEN_SWEEP_SCHEDULE", "*/10 * * * *"),
			ExecutionTimeout: getEnvDuration("WARDEN_EXECUTION_TIMEOUT", 30*time.Second),
			RateLimitPerMin:  getEnvInt("WARDEN_RATE_LIMIT_PER_MIN", 120),
		},
		Resolver: ResolverConfig{
			CacheEnabled: getEnvBool("WARDEN_RESOLVER_CACHE_ENABLED", false),
			CacheSize:    getEnvInt("WARDEN_RESOLVER_CACHE_SIZE", 10000),
			CacheTTL:     getEnvDuration("WARDEN_RESOLVER_CACHE_TTL", 30*time.Second),
		},
		Audit: AuditConfig{
			FileDir:     getEnv("WARDEN_AUDIT_FILE_DIR", ""),
			FileMaxSize: int64(getEnvInt("WARDEN_AUDIT_FILE_MAX_SIZE", 0)),
		},
		LogLevel:    getEnv("WARDEN_LOG_LEVEL", "info"),
		CatalogPath: getEnv("WARDEN_CATALOG_PATH", ""),
		PolicyPath:  getEnv("WARDEN_POLICY_PATH", ""),
		SeedSpaces:  parseSeedSpaces(getEnv("WARDEN_SEED_SPACES", "")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Resolver.CacheEnabled {
		if c.Resolver.CacheSize <= 0 {
			return fmt.Errorf("resolver cache size must be positive")
		}
		if c.Resolver.CacheTTL <= 0 {
			return fmt.Errorf("resolver cache TTL must be positive")
		}
	}
	return nil
}

func parseSeedSpaces(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	spaces := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		code, id, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || code == "" || id == "" {
			continue
		}
		spaces[code] = id
	}
	return spaces
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return strings.ToLower(val) == "true"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}
