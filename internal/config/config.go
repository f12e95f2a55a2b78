package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTPPort        string        `mapstructure:"HTTP_PORT"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`

	CatalogBaseURL string        `mapstructure:"CATALOG_BASE_URL"`
	CatalogTimeout time.Duration `mapstructure:"CATALOG_TIMEOUT"`

	StorageBackend string        `mapstructure:"STORAGE_BACKEND"`
	CartKeyPrefix  string        `mapstructure:"CART_KEY_PREFIX"`
	PersistTimeout time.Duration `mapstructure:"PERSIST_TIMEOUT"`

	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int           `mapstructure:"REDIS_DB"`
	RedisTTL      time.Duration `mapstructure:"REDIS_TTL"`

	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`

	SQLitePath  string `mapstructure:"SQLITE_PATH"`
	PostgresDSN string `mapstructure:"POSTGRES_DSN"`

	KafkaBrokers      string `mapstructure:"KAFKA_BROKERS"`
	KafkaSessionTopic string `mapstructure:"KAFKA_SESSION_TOPIC"`
	KafkaGroupID      string `mapstructure:"KAFKA_GROUP_ID"`
}

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"

	SessionKeyPrefix = "session"
)

var defaults = map[string]any{
	"HTTP_PORT":           "8080",
	"REQUEST_TIMEOUT":     30 * time.Second,
	"SHUTDOWN_TIMEOUT":    10 * time.Second,
	"LOG_LEVEL":           "info",
	"CATALOG_BASE_URL":    "https://dummyjson.com",
	"CATALOG_TIMEOUT":     5 * time.Second,
	"STORAGE_BACKEND":     BackendMemory,
	"CART_KEY_PREFIX":     "cart-storage",
	"PERSIST_TIMEOUT":     time.Second,
	"REDIS_ADDR":          "localhost:6379",
	"REDIS_PASSWORD":      "",
	"REDIS_DB":            0,
	"REDIS_TTL":           time.Duration(0),
	"MONGO_URI":           "mongodb://localhost:27017",
	"MONGO_DB_NAME":       "cartdb",
	"SQLITE_PATH":         "cart.db",
	"POSTGRES_DSN":        "host=localhost port=5432 user=postgres password=postgres dbname=cartdb sslmode=disable",
	"KAFKA_BROKERS":       "",
	"KAFKA_SESSION_TOPIC": "session-events",
	"KAFKA_GROUP_ID":      "cart-store",
}

// Load reads configuration from the environment on top of the defaults.
// Errors are returned rather than fatal so callers decide what to do.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	cf := &Config{}
	if err := v.Unmarshal(cf); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cf.validate(); err != nil {
		return nil, err
	}
	return cf, nil
}

func (c *Config) validate() error {
	switch c.StorageBackend {
	case BackendMemory, BackendRedis, BackendMongo, BackendSQLite, BackendPostgres:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	// sessions share the slot under "session:<token>"
	if c.CartKeyPrefix == "" || c.CartKeyPrefix == SessionKeyPrefix {
		return fmt.Errorf("CART_KEY_PREFIX must be set and must not be %q", SessionKeyPrefix)
	}
	if c.PersistTimeout <= 0 {
		return fmt.Errorf("PERSIST_TIMEOUT must be positive")
	}
	return nil
}

// Brokers splits KAFKA_BROKERS on commas; empty means the poller is disabled.
func (c *Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
