package db

import (
	"path/filepath"
	"testing"

	"ReelForge/config"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLite_CreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "index.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"_migrations", "media_entries"} {
		var name string
		err := s.Conn().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, table)
	}

	var mode string
	require.NoError(t, s.Conn().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestOpenSQLite_MigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	first, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := OpenSQLite(path)
	require.NoError(t, err)
	defer second.Close()

	var n int
	require.NoError(t, second.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestMySQLDSN(t *testing.T) {
	dsn := MySQLDSN(&config.Config{
		DBUser: "editor", DBPassword: "p@ss:word/1", DBHost: "db.local", DBPort: "3307", DBName: "reelforge",
	})
	parsed, err := mysqldriver.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "p@ss:word/1", parsed.Passwd)
	assert.Equal(t, "db.local:3307", parsed.Addr)
	assert.Equal(t, "reelforge", parsed.DBName)
	assert.True(t, parsed.ParseTime)
}
