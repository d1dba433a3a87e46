package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const defaultDBName = "leadline.db"

// Dialect selects SQL flavour differences (placeholders, DDL).
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

type Config struct {
	Workspace string
	// URL overrides the workspace SQLite file. postgres:// and postgresql:// URLs
	// are opened with the pgx driver.
	URL string
}

// Rebind rewrites ? placeholders to $n for postgres.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '\'' {
			inQuote = !inQuote
		}
		if c == '?' && !inQuote {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Handle pairs an open pool with its dialect.
type Handle struct {
	*sql.DB
	Dialect Dialect
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".leadline", defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, ".leadline")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// DialectFor infers the dialect from a database URL.
func DialectFor(url string) Dialect {
	u := strings.ToLower(strings.TrimSpace(url))
	if strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://") {
		return Postgres
	}
	return SQLite
}

// Open opens the record store. SQLite runs with foreign keys on and a busy
// timeout so concurrent agent runs wait instead of failing on a locked file.
func Open(cfg Config) (Handle, error) {
	dialect := DialectFor(cfg.URL)
	if dialect == Postgres {
		conn, err := sql.Open("pgx", cfg.URL)
		if err != nil {
			return Handle{}, fmt.Errorf("open postgres: %w", err)
		}
		return Handle{DB: conn, Dialect: Postgres}, nil
	}
	path := strings.TrimPrefix(strings.TrimSpace(cfg.URL), "sqlite://")
	if path == "" {
		if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
			return Handle{}, err
		}
		path = dbPath(cfg.Workspace)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return Handle{}, err
	}
	return Handle{DB: conn, Dialect: SQLite}, nil
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
