package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

// Rate limiter backends
const (
	RateLimitBackendRedis  = "redis"
	RateLimitBackendMemory = "memory"
)

type Config struct {
	Server   ServerConfig   `env:",prefix=SERVER_"`
	Postgres PostgresConfig `env:",prefix=POSTGRES_"`
	Redis    RedisConfig    `env:",prefix=REDIS_"`
	JWT      JWTConfig      `env:",prefix=JWT_"`
	Security SecurityConfig `env:",prefix="`
	CORS     CORSConfig     `env:",prefix=CORS_"`
	Mail     MailConfig     `env:",prefix=MAIL_"`
	Log      LogConfig      `env:",prefix=LOG_"`
	Cleanup  CleanupConfig  `env:",prefix=CLEANUP_"`
	Env      string         `env:"ENV,default=development"`
}

type ServerConfig struct {
	Port         string   `env:"PORT,default=8080"`
	Host         string   `env:"HOST,default=0.0.0.0"`
	ReadTimeout  Duration `env:"READ_TIMEOUT,default=15s"`
	WriteTimeout Duration `env:"WRITE_TIMEOUT,default=15s"`

	// TrustedProxies lists proxy addresses or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

type PostgresConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=credential_service"`
	Password string `env:"PASSWORD,default=credential_service_password"`
	DBName   string `env:"DB,default=credential_service_db"`
	SSLMode  string `env:"SSLMODE,default=disable"`
}

type RedisConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=6379"`
	Password string `env:"PASSWORD,default="`
	DB       int    `env:"DB,default=0"`
}

type JWTConfig struct {
	Secret             string   `env:"SECRET,required"`
	Issuer             string   `env:"ISSUER,default=credential-service"`
	AccessTokenExpiry  Duration `env:"ACCESS_TOKEN_EXPIRY,default=15m"`
	RefreshTokenExpiry Duration `env:"REFRESH_TOKEN_EXPIRY,default=7d"`
	APITokenExpiry     Duration `env:"API_TOKEN_EXPIRY,default=30d"`
}

type SecurityConfig struct {
	BCryptCost        int      `env:"BCRYPT_COST,default=12"`
	RateLimitRequests int      `env:"RATE_LIMIT_REQUESTS,default=10"`
	RateLimitWindow   Duration `env:"RATE_LIMIT_WINDOW,default=1m"`
	RateLimitBackend  string   `env:"RATE_LIMIT_BACKEND,default=redis"`

	// Two-factor settings
	TOTPIssuer              string `env:"TOTP_ISSUER,default=Credential Service"`
	TOTPSkew                uint   `env:"TOTP_SKEW,default=1"`
	BackupCodeCount         int    `env:"BACKUP_CODE_COUNT,default=10"`
	RequireCodeToDisable2FA bool   `env:"SECURITY_REQUIRE_2FA_CODE_TO_DISABLE,default=false"`

	// Client usage quota
	DefaultUsageQuota int      `env:"CLIENT_USAGE_QUOTA,default=1000"`
	UsageQuotaPeriod  Duration `env:"CLIENT_USAGE_PERIOD,default=30d"`
}

type CORSConfig struct {
	AllowedOrigins []string `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`
	AllowedMethods []string `env:"ALLOWED_METHODS,default=GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders []string `env:"ALLOWED_HEADERS,default=Content-Type,Authorization"`
}

type MailConfig struct {
	Enabled  bool   `env:"ENABLED,default=false"`
	Host     string `env:"HOST,default=localhost"`
	Port     int    `env:"PORT,default=587"`
	Username string `env:"USERNAME,default="`
	Password string `env:"PASSWORD,default="`
	From     string `env:"FROM,default=no-reply@localhost"`
}

type LogConfig struct {
	Level      string `env:"LEVEL,default=info"`
	FilePath   string `env:"FILE,default="`
	MaxSizeMB  int    `env:"MAX_SIZE_MB,default=100"`
	MaxBackups int    `env:"MAX_BACKUPS,default=5"`
	MaxAgeDays int    `env:"MAX_AGE_DAYS,default=28"`
}

// CleanupConfig controls the in-process token sweep. Zero interval disables it.
type CleanupConfig struct {
	Interval Duration `env:"INTERVAL,default=0s"`
}

// DSN returns PostgreSQL connection string
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

// URL returns PostgreSQL connection URL, as expected by golang-migrate
func (p PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode)
}

// Address returns Redis connection address
func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// Load loads configuration from environment variables
func Load(ctx context.Context) (*Config, error) {
	var config Config

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadPostgres reads only the POSTGRES_* settings, for tools that do not need the full service config
func LoadPostgres(ctx context.Context) (*PostgresConfig, error) {
	var pg PostgresConfig

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &pg,
		Lookuper: envconfig.PrefixLookuper("POSTGRES_", envconfig.OsLookuper()),
	}); err != nil {
		return nil, fmt.Errorf("failed to load postgres configuration: %w", err)
	}

	return &pg, nil
}

func (c *Config) validate() error {
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long")
	}

	switch c.Security.RateLimitBackend {
	case RateLimitBackendRedis, RateLimitBackendMemory:
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q, got %q",
			RateLimitBackendRedis, RateLimitBackendMemory, c.Security.RateLimitBackend)
	}

	if c.Security.BackupCodeCount <= 0 {
		return fmt.Errorf("BACKUP_CODE_COUNT must be positive")
	}

	return nil
}
