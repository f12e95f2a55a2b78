package store

import (
	"encoding/json"
	"fmt"

	"github.com/fjod/go_cart/cart-store/internal/domain"
)

// SchemaVersion tags every persisted cart.
const SchemaVersion = 1

type persistedState struct {
	Lines []domain.CartLine `json:"lines"`
}

type envelope struct {
	State    persistedState `json:"state"`
	Version  int            `json:"version"`
	Revision uint64         `json:"revision"`
}

// Encode serializes state together with the schema version and revision.
func Encode(state domain.CartState, revision uint64) ([]byte, error) {
	lines := state.Lines()
	if lines == nil {
		lines = []domain.CartLine{}
	}
	data, err := json.Marshal(envelope{
		State:    persistedState{Lines: lines},
		Version:  SchemaVersion,
		Revision: revision,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal cart failed: %w", err)
	}
	return data, nil
}

// Decode parses a persisted cart and checks its invariants.
func Decode(data []byte) (domain.CartState, uint64, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.CartState{}, 0, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	if env.Version != SchemaVersion {
		return domain.CartState{}, 0, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleSchema, env.Version, SchemaVersion)
	}
	state := domain.NewCartState(env.State.Lines...)
	if err := state.Validate(); err != nil {
		return domain.CartState{}, 0, err
	}
	return state, env.Revision, nil
}
