package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_DISABLED", "true")
	t.Setenv("BUSINESS_TIMEZONE", "UTC")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.Database.TxTimeout)
	assert.Equal(t, 3, cfg.Database.MaxRetries)
	assert.Equal(t, "RCP", cfg.Business.ReceiptPrefix)
	assert.Equal(t, "0.01", cfg.Business.TotalTolerance.String())
	assert.Equal(t, 24*time.Hour, cfg.Business.HeldOrderTTL)
	assert.Equal(t, time.UTC, cfg.Business.Location)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUTH_DISABLED", "1")
	t.Setenv("BUSINESS_TIMEZONE", "UTC")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("TX_TIMEOUT", "250ms")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.Database.TxTimeout)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Auth.Disabled)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("AUTH_DISABLED", "false")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("BUSINESS_TIMEZONE", "UTC")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("AUTH_DISABLED", "true")
	t.Setenv("BUSINESS_TIMEZONE", "UTC")
	t.Setenv("DB_DRIVER", "mysql")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tables:
  - number: "T1"
    capacity: 4
  - number: "T2"
    capacity: 2
`), 0o600))

	tables, err := LoadTables(path)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, TableSeed{Number: "T1", Capacity: 4}, tables[0])
}

func TestLoadTablesRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tables:
  - number: "T1"
  - number: "T1"
`), 0o600))

	_, err := LoadTables(path)
	assert.Error(t, err)
}
