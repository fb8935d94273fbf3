package config

import (
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Env       string
	Server    ServerConfig
	Database  DatabaseConfig
	Session   SessionConfig
	Security  SecurityConfig
	Redis     RedisConfig
	Storage   StorageConfig
	CORS      CORSConfig
	Discovery DiscoveryConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string
	Port string
	// ProtectedPrefix is the path prefix guarded by the session gate.
	// Its root is the public login page.
	ProtectedPrefix string
	// NotFoundPath is where denied visitors are sent.
	NotFoundPath string
}

// DatabaseConfig holds PostgreSQL connection configuration.
// URL takes precedence over the discrete fields when set (hosted Postgres services hand out URLs).
type DatabaseConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// SessionConfig holds admin session configuration
type SessionConfig struct {
	Secret          string
	Timeout         time.Duration
	DeviceCookieTTL time.Duration
	Issuer          string
}

// SecurityConfig holds login protection settings
type SecurityConfig struct {
	MaxLoginAttempts int
	LockoutDuration  time.Duration
	// TrustedCIDRs may call the login endpoint without an address.
	TrustedCIDRs []netip.Prefix
	// TrustedProxies are reverse proxies whose X-Forwarded-For header the rate limiter honours.
	TrustedProxies []netip.Prefix
	// RateLimitPerSecond and RateLimitBurst bound /authorization requests per client IP.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// RedisConfig holds Redis connection configuration.
// An empty URL keeps lockout counters in Postgres.
type RedisConfig struct {
	URL string
}

// StorageConfig holds S3-compatible storage configuration for product images
type StorageConfig struct {
	Endpoint           string
	Region             string
	Bucket             string
	AccessKeyID        string
	SecretAccessKey    string
	UseSSL             bool
	PresignedURLExpiry time.Duration
	MaxImageBytes      int64
}

// CORSConfig holds allowed browser origins for the marketing site
type CORSConfig struct {
	AllowedOrigins []string
}

// DiscoveryConfig holds address discovery settings used by gatectl
type DiscoveryConfig struct {
	PublicEchoURL  string
	PrivateTimeout time.Duration
	STUNServers    []string
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first when present.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	return &Config{
		Env: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnv("SERVER_PORT", "8080"),
			ProtectedPrefix: getPathPrefixEnv("PROTECTED_PREFIX", "/admin"),
			NotFoundPath:    getEnv("NOT_FOUND_PATH", "/404"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "motosite"),
			SSLMode:  getEnv("DB_SSLMODE", "require"),
		},
		Session: SessionConfig{
			Secret:          getEnv("SESSION_SECRET", ""),
			Timeout:         getDurationEnv("SESSION_TIMEOUT", 24*time.Hour),
			DeviceCookieTTL: getDurationEnv("DEVICE_COOKIE_TTL", 30*24*time.Hour),
			Issuer:          getEnv("SESSION_ISSUER", "motosite-admin"),
		},
		Security: SecurityConfig{
			MaxLoginAttempts:   getIntEnv("MAX_LOGIN_ATTEMPTS", 5),
			LockoutDuration:    getDurationEnv("LOCKOUT_DURATION", 15*time.Minute),
			TrustedCIDRs:       getPrefixesEnv("TRUSTED_CIDRS", "127.0.0.0/8,::1/128"),
			TrustedProxies:     getPrefixesEnv("TRUSTED_PROXIES", ""),
			RateLimitPerSecond: getFloatEnv("AUTH_RATE_LIMIT_RPS", 2),
			RateLimitBurst:     getIntEnv("AUTH_RATE_LIMIT_BURST", 10),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Storage: StorageConfig{
			Endpoint:           getEnv("S3_ENDPOINT", "localhost:9000"),
			Region:             getEnv("S3_REGION", "us-east-1"),
			Bucket:             getEnv("S3_BUCKET", "product-images"),
			AccessKeyID:        getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey:    getEnv("S3_SECRET_ACCESS_KEY", ""),
			UseSSL:             getBoolEnv("S3_USE_SSL", false),
			PresignedURLExpiry: getDurationEnv("S3_PRESIGN_EXPIRY", 15*time.Minute),
			MaxImageBytes:      int64(getIntEnv("MAX_IMAGE_BYTES", 8<<20)),
		},
		CORS: CORSConfig{
			AllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Discovery: DiscoveryConfig{
			PublicEchoURL:  getEnv("IP_ECHO_URL", "https://api.ipify.org?format=json"),
			PrivateTimeout: getDurationEnv("PRIVATE_DISCOVERY_TIMEOUT", 5*time.Second),
			STUNServers:    getListEnv("STUN_SERVERS", ""),
		},
	}
}

// IsProduction reports whether cookies must be marked Secure
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv accepts Go duration strings ("90s", "24h") or a bare number of minutes
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

// getListEnv splits a comma separated value, dropping empty entries
func getListEnv(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getPathPrefixEnv reads a URL path prefix. The site root cannot be a prefix and
// falls back to the default.
func getPathPrefixEnv(key, defaultValue string) string {
	value := "/" + strings.Trim(getEnv(key, defaultValue), "/ ")
	if value == "/" {
		slog.Warn("Ignoring root path prefix", "key", key)
		return defaultValue
	}
	return value
}

// getPrefixesEnv parses a comma separated CIDR list; invalid entries are skipped
func getPrefixesEnv(key, defaultValue string) []netip.Prefix {
	var out []netip.Prefix
	for _, raw := range getListEnv(key, defaultValue) {
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			slog.Warn("Ignoring invalid CIDR", "key", key, "value", raw)
			continue
		}
		out = append(out, p.Masked())
	}
	return out
}
