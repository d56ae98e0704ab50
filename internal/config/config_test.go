package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, int64(41), cfg.Wallet.ChainID)
	assert.Equal(t, "TLOS", cfg.Wallet.CurrencySymbol)
	assert.Equal(t, 15*time.Minute, cfg.Wallet.SubmitTimeout)
	assert.Equal(t, "inr", cfg.Gateway.Currency)
	assert.Equal(t, 24*time.Hour, cfg.Purchase.IdempotencyTTL)
	assert.Len(t, cfg.Kafka.Topics.All(), 4)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("WALLET_CHAIN_ID", "1337")
	t.Setenv("GATEWAY_CURRENCY", "USD")
	t.Setenv("PURCHASE_LEDGER_TIMEOUT", "3s")
	t.Setenv("KAFKA_ENABLED", "false")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://tix.example")

	cfg := Load()

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, int64(1337), cfg.Wallet.ChainID)
	assert.Equal(t, "usd", cfg.Gateway.Currency)
	assert.Equal(t, 3*time.Second, cfg.Purchase.LedgerWriteTimeout)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"https://tix.example"}, cfg.Server.AllowedOrigins)
}

func TestGatewaySessionTTLHasFloor(t *testing.T) {
	t.Setenv("GATEWAY_SESSION_TTL", "5m")
	assert.Equal(t, 30*time.Minute, Load().Gateway.SessionTTL)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("DB_AUTO_MIGRATE", "maybe")
	t.Setenv("SHUTDOWN_TIMEOUT", "soon")

	cfg := Load()
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
}
