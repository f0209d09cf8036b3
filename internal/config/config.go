package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// HTTPServerConfig represents HTTP server configuration
type HTTPServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // postgres or sqlite
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig represents token issuance configuration
type JWTConfig struct {
	Secret           string `mapstructure:"secret"`
	RefreshSecret    string `mapstructure:"refresh_secret"`
	AccessTTLMinutes int    `mapstructure:"access_ttl_minutes"`
	RefreshTTLDays   int    `mapstructure:"refresh_ttl_days"`
	Issuer           string `mapstructure:"issuer"`
}

// AccessTTL returns the access token lifetime.
func (c JWTConfig) AccessTTL() time.Duration {
	return time.Duration(c.AccessTTLMinutes) * time.Minute
}

// RefreshTTL returns the refresh token lifetime.
func (c JWTConfig) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTTLDays) * 24 * time.Hour
}

// AdminConfig holds the bootstrap admin account
type AdminConfig struct {
	Email    string `mapstructure:"email"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// PasswordConfig holds password policy settings
type PasswordConfig struct {
	MinLength           int  `mapstructure:"min_length"`
	RequireUppercase    bool `mapstructure:"require_uppercase"`
	RequireLowercase    bool `mapstructure:"require_lowercase"`
	RequireNumbers      bool `mapstructure:"require_numbers"`
	RequireSpecialChars bool `mapstructure:"require_special_chars"`
}

// RateLimitRule is one endpoint-class rate limit
type RateLimitRule struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// RateLimitConfig holds per-endpoint-class rate limits
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Login   RateLimitRule `mapstructure:"login"`
	Registr RateLimitRule `mapstructure:"register"`
	Refresh RateLimitRule `mapstructure:"refresh"`
	General RateLimitRule `mapstructure:"general"`
	Profile RateLimitRule `mapstructure:"profile"`
	Admin   RateLimitRule `mapstructure:"admin"`
}

// Rule returns the configured rule for an endpoint class, falling back to
// the general rule for unknown classes.
func (c RateLimitConfig) Rule(class string) RateLimitRule {
	switch class {
	case "login":
		return c.Login
	case "register":
		return c.Registr
	case "refresh":
		return c.Refresh
	case "profile":
		return c.Profile
	case "admin":
		return c.Admin
	default:
		return c.General
	}
}

// AvatarConfig holds avatar storage settings
type AvatarConfig struct {
	Dir          string   `mapstructure:"dir"`
	BasePath     string   `mapstructure:"base_path"`
	MaxBytes     int64    `mapstructure:"max_bytes"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

// SessionConfig holds session lifetime settings
type SessionConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// Config represents the application configuration
type Config struct {
	HTTP      HTTPServerConfig `mapstructure:"http"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Redis     RedisConfig      `mapstructure:"redis"`
	JWT       JWTConfig        `mapstructure:"jwt"`
	Admin     AdminConfig      `mapstructure:"admin"`
	Password  PasswordConfig   `mapstructure:"password"`
	RateLimit RateLimitConfig  `mapstructure:"rate_limit"`
	Avatar    AvatarConfig     `mapstructure:"avatar"`
	Session   SessionConfig    `mapstructure:"session"`
	LogLevel  string           `mapstructure:"log_level"`
}

// LoadConfig loads configuration from config.yaml (if present) and
// AUTHKIT_* environment variables, on top of the built-in defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/authkit")

	v.SetEnvPrefix("AUTHKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations that cannot serve safely.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt secret cannot be empty")
	}
	if c.JWT.RefreshSecret == "" {
		return fmt.Errorf("jwt refresh secret cannot be empty")
	}
	if c.JWT.Secret == c.JWT.RefreshSecret {
		return fmt.Errorf("jwt access and refresh secrets must differ")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.JWT.AccessTTLMinutes <= 0 || c.JWT.RefreshTTLDays <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.idle_timeout", 120*time.Second)
	v.SetDefault("http.shutdown_timeout", 30*time.Second)
	v.SetDefault("http.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/auth.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 3600)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jwt.secret", "changeme-secret-key")
	v.SetDefault("jwt.refresh_secret", "changeme-refresh-secret-key")
	v.SetDefault("jwt.access_ttl_minutes", 30)
	v.SetDefault("jwt.refresh_ttl_days", 7)
	v.SetDefault("jwt.issuer", "authkit")

	v.SetDefault("admin.email", "admin@example.com")
	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password", "adminpassword")

	v.SetDefault("password.min_length", 8)
	v.SetDefault("password.require_uppercase", true)
	v.SetDefault("password.require_lowercase", true)
	v.SetDefault("password.require_numbers", true)
	v.SetDefault("password.require_special_chars", true)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.login.limit", 5)
	v.SetDefault("rate_limit.login.window", time.Minute)
	v.SetDefault("rate_limit.register.limit", 3)
	v.SetDefault("rate_limit.register.window", time.Minute)
	v.SetDefault("rate_limit.refresh.limit", 10)
	v.SetDefault("rate_limit.refresh.window", time.Minute)
	v.SetDefault("rate_limit.general.limit", 100)
	v.SetDefault("rate_limit.general.window", time.Minute)
	v.SetDefault("rate_limit.profile.limit", 30)
	v.SetDefault("rate_limit.profile.window", time.Minute)
	v.SetDefault("rate_limit.admin.limit", 50)
	v.SetDefault("rate_limit.admin.window", time.Minute)

	v.SetDefault("avatar.dir", "data/avatars")
	v.SetDefault("avatar.base_path", "/static/avatars")
	v.SetDefault("avatar.max_bytes", int64(2<<20))
	v.SetDefault("avatar.allowed_types", []string{"image/png", "image/jpeg", "image/webp"})

	v.SetDefault("session.ttl", 24*time.Hour)
}
