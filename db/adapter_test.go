package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/corrosion/config"
)

func TestOpen_SQLiteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	db, err := Open(config.DatabaseConfig{Mode: ModeSQLite, SQLitePath: path})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()
	assert.NoError(t, sqlDB.Ping())
	assert.FileExists(t, path)
}

func TestOpen_Memory(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Mode: ModeMemory})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Mode: "postgres"})
	assert.ErrorContains(t, err, "unknown mode")

	_, err = Open(config.DatabaseConfig{Mode: ModeMySQL})
	assert.ErrorContains(t, err, "empty dsn")
}
