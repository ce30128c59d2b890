package config // package config loads application configuration from environment variables

import (
	"fmt"
	"log"
	"os"
	"time"
)

// Store drivers selectable with STORE_DRIVER.
const (
	DriverBadger = "badger"
	DriverRedis  = "redis"
	DriverMySQL  = "mysql"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env          string // APP_ENV
	Port         string // APP_PORT
	JWTSecret    string // JWT_SECRET, verifies viewer and operator tokens
	AccessTTLMin int    // ACCESS_TOKEN_TTL_MIN, lifetime of tokens minted by devtoken

	LogLevel  string // LOG_LEVEL
	LogPretty bool   // LOG_PRETTY

	StoreDriver       string        // STORE_DRIVER: badger | redis | mysql
	BadgerPath        string        // BADGER_PATH, empty keeps data in memory
	StorePollInterval time.Duration // STORE_POLL_INTERVAL, mysql change polling
	RedisNamespace    string        // REDIS_NAMESPACE, key prefix for redis documents

	DBUser string // DB_USER
	DBPass string // DB_PASS (optional)
	DBHost string // DB_HOST
	DBPort string // DB_PORT
	DBName string // DB_NAME

	DefaultCapacity uint32 // DEFAULT_CAPACITY, seats for never-configured rooms; 0 means uncapped

	GateTick           time.Duration // GATE_TICK
	GateRecheckTimeout time.Duration // GATE_RECHECK_TIMEOUT
	GateRecheckBackoff time.Duration // GATE_RECHECK_BACKOFF
	CatalogTick        time.Duration // CATALOG_TICK

	EventsEnabled bool   // EVENTS_ENABLED
	AMQPURL       string // RABBITMQ_URL or AMQP_URL
	EventLogPath  string // EVENT_LOG_PATH
}

// Load reads configuration values from environment variables.  Missing
// required variables cause the program to exit with a fatal log message;
// invalid combinations are returned as an error.
func Load() (Config, error) {
	c := Config{
		Env:          envStr("APP_ENV", "dev"),
		Port:         envStr("APP_PORT", "8080"),
		JWTSecret:    must("JWT_SECRET"),
		AccessTTLMin: envInt("ACCESS_TOKEN_TTL_MIN", 60),

		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogPretty: envBool("LOG_PRETTY", false),

		StoreDriver:       envStr("STORE_DRIVER", DriverBadger),
		BadgerPath:        os.Getenv("BADGER_PATH"),
		StorePollInterval: envDur("STORE_POLL_INTERVAL", 500*time.Millisecond),
		RedisNamespace:    envStr("REDIS_NAMESPACE", "liveroom:"),

		GateTick:           envDur("GATE_TICK", time.Second),
		GateRecheckTimeout: envDur("GATE_RECHECK_TIMEOUT", 5*time.Second),
		GateRecheckBackoff: envDur("GATE_RECHECK_BACKOFF", 5*time.Second),
		CatalogTick:        envDur("CATALOG_TICK", 15*time.Second),

		EventsEnabled: envBool("EVENTS_ENABLED", false),
		AMQPURL:       envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),
		EventLogPath:  envStr("EVENT_LOG_PATH", "logs/rsvp.log"),
	}

	capacity := envInt("DEFAULT_CAPACITY", 100)
	if capacity < 0 {
		return Config{}, fmt.Errorf("DEFAULT_CAPACITY must not be negative, got %d", capacity)
	}
	c.DefaultCapacity = uint32(capacity)

	switch c.StoreDriver {
	case DriverBadger, DriverRedis:
	case DriverMySQL:
		c.DBUser = must("DB_USER")
		c.DBPass = os.Getenv("DB_PASS")
		c.DBHost = must("DB_HOST")
		c.DBPort = envStr("DB_PORT", "3306")
		c.DBName = must("DB_NAME")
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	return c, nil
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
