package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemorySlot implements Slot with in-process storage.
type MemorySlot struct {
	mu     sync.RWMutex
	values map[string][]byte
	used   int
	quota  int // bytes, 0 means unlimited
}

type MemoryOption func(*MemorySlot)

// WithQuota caps the total number of stored value bytes.
func WithQuota(bytes int) MemoryOption {
	return func(m *MemorySlot) {
		m.quota = bytes
	}
}

func NewMemorySlot(opts ...MemoryOption) *MemorySlot {
	m := &MemorySlot{values: make(map[string][]byte)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemorySlot) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	if !ok {
		return nil, ErrSlotEmpty
	}
	return append([]byte(nil), v...), nil
}

func (m *MemorySlot) Save(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	used := m.used - len(m.values[key]) + len(value)
	if m.quota > 0 && used > m.quota {
		return fmt.Errorf("%w: %d of %d bytes", ErrQuotaExceeded, used, m.quota)
	}
	m.values[key] = append([]byte(nil), value...)
	m.used = used
	return nil
}

func (m *MemorySlot) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.used -= len(m.values[key])
	delete(m.values, key)
	return nil
}

// Keys returns the number of stored keys.
func (m *MemorySlot) Keys() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
