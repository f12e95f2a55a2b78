package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/fjod/go_cart/cart-store/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Manager keeps one Store per user, each persisted under "<prefix>:<userID>".
type Manager struct {
	slot   storage.Slot
	log    *logrus.Entry
	prefix string
	opts   []Option

	mu     sync.RWMutex
	stores map[string]*Store
	sfg    singleflight.Group // collapses concurrent first opens of the same cart
}

func NewManager(slot storage.Slot, log *logrus.Entry, prefix string, opts ...Option) *Manager {
	if prefix == "" {
		prefix = DefaultKey
	}
	return &Manager{
		slot:   slot,
		log:    log,
		prefix: prefix,
		opts:   opts,
		stores: make(map[string]*Store),
	}
}

func (m *Manager) key(userID string) string {
	return fmt.Sprintf("%s:%s", m.prefix, userID)
}

// Get returns the user's store, rehydrating it on first use. A store whose
// first load failed stays cached and retries the load before it commits.
func (m *Manager) Get(ctx context.Context, userID string) *Store {
	m.mu.RLock()
	s, ok := m.stores[userID]
	m.mu.RUnlock()
	if ok {
		m.reload(ctx, s)
		return s
	}

	v, _, _ := m.sfg.Do(userID, func() (interface{}, error) {
		m.mu.RLock()
		s, ok := m.stores[userID]
		m.mu.RUnlock()
		if ok {
			return s, nil
		}

		opts := append([]Option{
			WithKey(m.key(userID)),
			WithLogger(m.log.WithField("user_id", userID)),
		}, m.opts...)
		s = Open(ctx, m.slot, opts...)

		m.mu.Lock()
		m.stores[userID] = s
		m.mu.Unlock()
		return s, nil
	})

	return v.(*Store)
}

// reload gives a store whose first load failed another chance on each access,
// so reads do not keep showing an empty cart once the slot is back.
func (m *Manager) reload(ctx context.Context, s *Store) {
	if err := s.Reload(ctx); err != nil {
		m.log.WithError(err).WithField("cart_key", s.Key()).Debug("cart still unreadable")
	}
}

// Clear empties the user's cart. It is registered as a logout hook. A
// returned error is a persistence warning; the cart is empty either way.
func (m *Manager) Clear(ctx context.Context, userID string) error {
	if _, err := m.Get(ctx, userID).Clear(ctx); err != nil {
		return fmt.Errorf("clear cart for user %s: %w", userID, err)
	}
	return nil
}

// Len reports the number of carts currently held in memory.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.stores)
}
