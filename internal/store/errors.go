package store

import (
	"errors"
	"fmt"
)

var ErrIncompatibleSchema = errors.New("incompatible cart schema version")

// PersistenceWriteError reports that a committed state could not be written to
// its slot. The in-memory state is not rolled back.
type PersistenceWriteError struct {
	Key      string
	Revision uint64
	Err      error
}

func (e *PersistenceWriteError) Error() string {
	return fmt.Sprintf("persist cart %q revision %d: %v", e.Key, e.Revision, e.Err)
}

func (e *PersistenceWriteError) Unwrap() error {
	return e.Err
}

// PersistenceReadError reports a persisted value that was discarded during
// rehydration.
type PersistenceReadError struct {
	Key string
	Err error
}

func (e *PersistenceReadError) Error() string {
	return fmt.Sprintf("rehydrate cart %q: %v", e.Key, e.Err)
}

func (e *PersistenceReadError) Unwrap() error {
	return e.Err
}
