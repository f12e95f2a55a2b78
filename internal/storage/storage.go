package storage

import (
	"context"
	"errors"
)

// Slot is a durable key-value location holding one serialized value per key.
// Implementations must be safe for concurrent use.
type Slot interface {
	// Load returns the stored value or ErrSlotEmpty when the key is absent.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save replaces the value stored under key.
	Save(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

var (
	ErrSlotEmpty     = errors.New("slot is empty")
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)
