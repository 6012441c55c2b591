package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dfryer1193/testprint/shared/db"
)

var _ Slot = (*SQLiteSlot)(nil)

// SQLiteSlot stores the blob as one row of the record_slots table
type SQLiteSlot struct {
	db   *sql.DB
	name string
}

// NewSQLiteSlot creates a slot from a connected and migrated sql.DB
func NewSQLiteSlot(conn *sql.DB, name string) *SQLiteSlot {
	return &SQLiteSlot{db: conn, name: name}
}

const upsertSlotQuery = `
	INSERT INTO record_slots (name, payload, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		payload = excluded.payload,
		updated_at = excluded.updated_at
`

func (s *SQLiteSlot) Write(ctx context.Context, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	return db.InTx(ctx, s.db, func(txCtx context.Context) error {
		_, err := db.ExecutorFor(txCtx, s.db).ExecContext(txCtx, upsertSlotQuery, s.name, data, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to upsert slot %q: %w", s.name, err)
		}
		return nil
	})
}

const getSlotQuery = `SELECT payload FROM record_slots WHERE name = ?`

func (s *SQLiteSlot) Read(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := db.ExecutorFor(ctx, s.db).QueryRowContext(ctx, getSlotQuery, s.name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSlotEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read slot %q: %w", s.name, err)
	}
	return payload, nil
}
