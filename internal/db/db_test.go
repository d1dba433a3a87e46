package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := `SELECT id FROM leads WHERE status=? AND website <> '?' AND score=?`
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, `SELECT id FROM leads WHERE status=$1 AND website <> '?' AND score=$2`, Postgres.Rebind(q))
}

func TestDialectFor(t *testing.T) {
	assert.Equal(t, Postgres, DialectFor("postgres://u:p@localhost/leads"))
	assert.Equal(t, Postgres, DialectFor(" PostgreSQL://localhost/leads"))
	assert.Equal(t, SQLite, DialectFor(""))
	assert.Equal(t, SQLite, DialectFor("sqlite:///tmp/leads.db"))
}

func TestOpenWorkspaceSQLite(t *testing.T) {
	ws := t.TempDir()
	h, err := Open(Config{Workspace: ws})
	require.NoError(t, err)
	defer h.Close()
	require.NoError(t, h.Ping())
	assert.Equal(t, SQLite, h.Dialect)
	assert.FileExists(t, filepath.Join(ws, ".leadline", "leadline.db"))
	assert.Equal(t, filepath.Join(ws, ".leadline", "leadline.db"), Path(ws))
}
