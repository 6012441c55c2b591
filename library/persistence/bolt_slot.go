package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
)

var slotBucket = []byte("slots")

var _ Slot = (*BoltSlot)(nil)

// BoltSlot stores the blob under one key of a bolt bucket
type BoltSlot struct {
	db   *bolt.DB
	name []byte
}

// OpenBoltSlot opens (creating if needed) a bolt file and its slot bucket.
func OpenBoltSlot(file, name string) (*BoltSlot, error) {
	db, err := bolt.Open(file, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt file: %v", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(slotBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating slot bucket: %v", err)
	}
	return &BoltSlot{db: db, name: []byte(name)}, nil
}

func (s *BoltSlot) Read(_ context.Context) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(slotBucket).Get(s.name)
		if v == nil {
			return ErrSlotEmpty
		}
		// v is only valid for the life of the transaction
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltSlot) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(slotBucket).Put(s.name, data)
	})
}

// Close releases the bolt file lock
func (s *BoltSlot) Close() error {
	return s.db.Close()
}
