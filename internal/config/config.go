package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage backends for session data.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds application configuration sourced from environment variables.
type Config struct {
	AppEnv         string
	Port           string
	DBPath         string
	SessionSecret  string
	AdminToken     string
	LogLevel       string
	StorageBackend string
	RedisAddr      string
	KafkaBroker    string
	KafkaTopic     string

	CalcDebounce  time.Duration
	PriceSettle   time.Duration
	DraftDebounce time.Duration
	DraftMaxAge   time.Duration
	SessionTTL    time.Duration
	MaxSessions   int
}

func defaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_PATH", "./dev.db")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORAGE_BACKEND", BackendSQLite)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("KAFKA_TOPIC", "epackage.orders")
	v.SetDefault("CALC_DEBOUNCE", "300ms")
	v.SetDefault("PRICE_SETTLE", "500ms")
	v.SetDefault("DRAFT_DEBOUNCE", "2s")
	v.SetDefault("DRAFT_MAX_AGE", "168h")
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("MAX_SESSIONS", 1024)
}

// Load reads .env (if present) and the environment and returns a populated Config.
func Load() Config {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path.
func LoadFile(dotenvPath string) Config {
	// Best-effort: production should use real env injection.
	// Existing environment variables are not overwritten.
	_ = godotenv.Load(dotenvPath)

	v := viper.New()
	v.AutomaticEnv()
	defaults(v)

	// SESSION_SECRET, ADMIN_TOKEN and KAFKA_BROKER have no default; viper only
	// resolves keys it knows about.
	for _, key := range []string{"SESSION_SECRET", "ADMIN_TOKEN", "KAFKA_BROKER"} {
		_ = v.BindEnv(key)
	}

	return Config{
		AppEnv:         v.GetString("APP_ENV"),
		Port:           v.GetString("PORT"),
		DBPath:         v.GetString("DB_PATH"),
		SessionSecret:  v.GetString("SESSION_SECRET"),
		AdminToken:     v.GetString("ADMIN_TOKEN"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		StorageBackend: strings.ToLower(v.GetString("STORAGE_BACKEND")),
		RedisAddr:      v.GetString("REDIS_ADDR"),
		KafkaBroker:    v.GetString("KAFKA_BROKER"),
		KafkaTopic:     v.GetString("KAFKA_TOPIC"),
		CalcDebounce:   v.GetDuration("CALC_DEBOUNCE"),
		PriceSettle:    v.GetDuration("PRICE_SETTLE"),
		DraftDebounce:  v.GetDuration("DRAFT_DEBOUNCE"),
		DraftMaxAge:    v.GetDuration("DRAFT_MAX_AGE"),
		SessionTTL:     v.GetDuration("SESSION_TTL"),
		MaxSessions:    v.GetInt("MAX_SESSIONS"),
	}
}

// IsDev reports whether the app runs in development mode.
func (c Config) IsDev() bool {
	return c.AppEnv == "development"
}

// Warnings lists missing or suspicious settings. None of them stop the server.
func (c Config) Warnings() []string {
	var warnings []string
	if c.SessionSecret == "" {
		warnings = append(warnings, "SESSION_SECRET is not set")
	}
	if c.AdminToken == "" {
		warnings = append(warnings, "ADMIN_TOKEN is not set; admin routes are disabled")
	}
	if c.StorageBackend != BackendSQLite && c.StorageBackend != BackendRedis {
		warnings = append(warnings, "unknown STORAGE_BACKEND "+c.StorageBackend+"; using sqlite")
	}
	return warnings
}
