package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"bidmarket/internal/apperr"
)

type Config struct {
	HTTPPort    string        `mapstructure:"http_port"`
	LogLevel    string        `mapstructure:"log_level"`
	DatabaseURL string        `mapstructure:"database_url"`
	CORSOrigins []string      `mapstructure:"cors_origins"`
	Session     SessionConfig `mapstructure:"session"`
	Backend     BackendConfig `mapstructure:"backend"`
	Cache       CacheConfig   `mapstructure:"cache"`
	Role        RoleConfig    `mapstructure:"role"`
	Budget      BudgetConfig  `mapstructure:"budget"`
}

type SessionConfig struct {
	Secret        string        `mapstructure:"secret"`
	TTL           time.Duration `mapstructure:"ttl"`
	SecureCookies bool          `mapstructure:"secure_cookies"`
}

type BackendConfig struct {
	URL     string        `mapstructure:"url"`
	AnonKey string        `mapstructure:"anon_key"`
	RPS     float64       `mapstructure:"rps"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type CacheConfig struct {
	Driver        string `mapstructure:"driver"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

type RoleConfig struct {
	Fallback       string        `mapstructure:"fallback"`
	LookupAttempts int           `mapstructure:"lookup_attempts"`
	LookupBackoff  time.Duration `mapstructure:"lookup_backoff"`
	Failsafe       time.Duration `mapstructure:"failsafe"`
}

type BudgetConfig struct {
	LowThreshold    float64 `mapstructure:"low_threshold"`
	MatchThreshold  float64 `mapstructure:"match_threshold"`
	MarketerMinimum float64 `mapstructure:"marketer_min_price"`
}

var envBindings = map[string]string{
	"http_port":                 "HTTP_PORT",
	"log_level":                 "LOG_LEVEL",
	"database_url":              "DATABASE_URL",
	"cors_origins":              "CORS_ORIGINS",
	"session.secret":            "SESSION_SECRET",
	"session.ttl":               "SESSION_TTL",
	"session.secure_cookies":    "SESSION_SECURE_COOKIES",
	"backend.url":               "BACKEND_URL",
	"backend.anon_key":          "BACKEND_ANON_KEY",
	"backend.rps":               "BACKEND_RPS",
	"backend.timeout":           "BACKEND_TIMEOUT",
	"cache.driver":              "CACHE_DRIVER",
	"cache.redis_addr":          "REDIS_ADDR",
	"cache.redis_password":      "REDIS_PASSWORD",
	"cache.redis_db":            "REDIS_DB",
	"role.fallback":             "ROLE_FALLBACK",
	"role.lookup_attempts":      "ROLE_LOOKUP_ATTEMPTS",
	"role.lookup_backoff":       "ROLE_LOOKUP_BACKOFF",
	"role.failsafe":             "ROLE_FAILSAFE",
	"budget.low_threshold":      "BUDGET_LOW_THRESHOLD",
	"budget.match_threshold":    "BUDGET_MATCH_THRESHOLD",
	"budget.marketer_min_price": "MARKETER_MIN_PRICE",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("database_url", "")
	v.SetDefault("cors_origins", []string{"http://localhost:5173", "http://localhost:3000"})
	v.SetDefault("session.secret", "")
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.secure_cookies", false)
	v.SetDefault("backend.url", "")
	v.SetDefault("backend.anon_key", "")
	v.SetDefault("backend.rps", 10.0)
	v.SetDefault("backend.timeout", 10*time.Second)
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("role.fallback", "client")
	v.SetDefault("role.lookup_attempts", 3)
	v.SetDefault("role.lookup_backoff", time.Second)
	v.SetDefault("role.failsafe", 3*time.Second)
	v.SetDefault("budget.low_threshold", 1000.0)
	v.SetDefault("budget.match_threshold", 1000.0)
	v.SetDefault("budget.marketer_min_price", 0.0)
}

// Load reads .env (if present) and the process environment. A missing .env is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}
	if c.Session.Secret == "" {
		return Config{}, fmt.Errorf("config error: SESSION_SECRET required")
	}
	switch c.Cache.Driver {
	case "memory", "postgres", "redis":
	default:
		return Config{}, fmt.Errorf("config error: unknown CACHE_DRIVER %q", c.Cache.Driver)
	}
	if c.Cache.Driver == "postgres" && c.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config error: DATABASE_URL required for postgres cache")
	}
	return c, nil
}

// BackendReady reports the configuration error data operations must surface when
// the hosted backend credentials are missing. The server still starts so the UI can show it.
func (c Config) BackendReady() error {
	if strings.TrimSpace(c.Backend.URL) == "" || strings.TrimSpace(c.Backend.AnonKey) == "" {
		return apperr.Config("backend credentials are not configured (BACKEND_URL, BACKEND_ANON_KEY)")
	}
	return nil
}
