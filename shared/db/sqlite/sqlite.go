package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/dfryer1193/testprint/shared/db"
	_ "modernc.org/sqlite"
)

const defaultPath = "./testprint.db"

type SQLiteConfig struct {
	Path string
}

// NewSQLiteConfig reads the database path from TESTPRINT_SQLITE_PATH,
// falling back to ./testprint.db
func NewSQLiteConfig() *SQLiteConfig {
	path := os.Getenv("TESTPRINT_SQLITE_PATH")
	if path == "" {
		path = defaultPath
	}

	return &SQLiteConfig{
		Path: path,
	}
}

// SQLiteDB implements db.Database for SQLite
type SQLiteDB struct {
	dbPath string
	db     *sql.DB
}

var _ db.Database = (*SQLiteDB)(nil)

// NewSQLiteDB creates an unconnected SQLite database for cfg.Path
func NewSQLiteDB(cfg *SQLiteConfig) *SQLiteDB {
	return &SQLiteDB{
		dbPath: cfg.Path,
	}
}

// Connect opens the database, applies pragmas and runs pending migrations
func (s *SQLiteDB) Connect(ctx context.Context) error {
	if s.db != nil {
		return fmt.Errorf("database already connected")
	}

	conn, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL", // the slot is the only copy of the user's data
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			conn.Close()
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if err := runMigrations(ctx, conn); err != nil {
		conn.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	s.db = conn
	return nil
}

// Close closes the connection; closing an unconnected database is a no-op
func (s *SQLiteDB) Close() error {
	if s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil
	return err
}

// DB returns the underlying *sql.DB, nil before Connect
func (s *SQLiteDB) DB() *sql.DB {
	return s.db
}
