package persistence

import (
	"context"
	"errors"
	"sync"
)

// DefaultSlotName is the name under which the folder document is stored
const DefaultSlotName = "tg.folders"

// ErrSlotEmpty is returned by Slot.Read when nothing has been written yet
var ErrSlotEmpty = errors.New("slot is empty")

// Slot is a single named blob in some storage backend. Write must replace
// the previous contents atomically: a reader sees either the old or the new
// blob, never a mix.
type Slot interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}

// MemorySlot keeps the blob in memory. Used in tests and as a scratch store.
type MemorySlot struct {
	mu   sync.RWMutex
	data []byte
	set  bool

	// WriteErr, when non-nil, is returned by every Write
	WriteErr error
}

var _ Slot = (*MemorySlot)(nil)

// NewMemorySlot creates an empty in-memory slot
func NewMemorySlot() *MemorySlot {
	return &MemorySlot{}
}

func (m *MemorySlot) Read(_ context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return nil, ErrSlotEmpty
	}
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out, nil
}

func (m *MemorySlot) Write(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.data = make([]byte, len(data))
	copy(m.data, data)
	m.set = true
	return nil
}
