package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/thought-board/config"
)

func TestSqliteDSN(t *testing.T) {
	assert.Equal(t,
		"board.db?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_synchronous=NORMAL",
		sqliteDSN("board.db"))
	assert.Equal(t,
		"board.db?_foreign_keys=off&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL",
		sqliteDSN("board.db?_foreign_keys=off"))
}

func TestInitDBCreatesTables(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "board.db"),
	}}
	db, err := InitDB(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	assert.True(t, db.Migrator().HasTable("thoughts"))
	assert.True(t, db.Migrator().HasTable("message_references"))
	assert.True(t, db.Migrator().HasIndex("thoughts", "idx_thought_author"))

	var fk int
	require.NoError(t, db.Raw("PRAGMA foreign_keys").Scan(&fk).Error)
	assert.Equal(t, 1, fk)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)
}
