package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cf, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cf.HTTPPort)
	assert.Equal(t, BackendMemory, cf.StorageBackend)
	assert.Equal(t, "cart-storage", cf.CartKeyPrefix)
	assert.Equal(t, time.Second, cf.PersistTimeout)
	assert.Equal(t, "https://dummyjson.com", cf.CatalogBaseURL)
	assert.Empty(t, cf.Brokers())
}

func TestLoad_PostgresBackend(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "postgres")
	t.Setenv("POSTGRES_DSN", "host=db user=cart dbname=carts sslmode=disable")

	cf, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cf.StorageBackend)
	assert.Equal(t, "host=db user=cart dbname=carts sslmode=disable", cf.PostgresDSN)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("STORAGE_BACKEND", "redis")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REDIS_TTL", "24h")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")

	cf, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cf.HTTPPort)
	assert.Equal(t, BackendRedis, cf.StorageBackend)
	assert.Equal(t, 2, cf.RedisDB)
	assert.Equal(t, 24*time.Hour, cf.RedisTTL)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cf.Brokers())
}

func TestLoad_CartPrefixMustNotCollideWithSessions(t *testing.T) {
	t.Setenv("CART_KEY_PREFIX", "session")

	_, err := Load()
	assert.ErrorContains(t, err, "CART_KEY_PREFIX")
}

func TestLoad_UnknownBackend(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "floppy")

	_, err := Load()
	assert.ErrorContains(t, err, "STORAGE_BACKEND")
}
