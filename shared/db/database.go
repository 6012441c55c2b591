package db

import (
	"context"
	"database/sql"
)

// Database is a SQL store that is opened and migrated by Connect
type Database interface {
	Connect(ctx context.Context) error
	Close() error
	DB() *sql.DB
}
