package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjod/go_cart/cart-store/internal/domain"
	"github.com/fjod/go_cart/cart-store/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultKey is the slot a single cart is persisted under.
	DefaultKey = "cart-storage"

	defaultTimeout = time.Second
)

// Store owns one cart's state and mirrors every committed state into a slot.
//
// Mutations are serialized by writeMu, which is held while the next state is
// computed, persisted and announced to subscribers, so persisted writes follow
// the in-memory transition order. Readers only take mu and always see a whole
// committed snapshot.
type Store struct {
	key     string
	slot    storage.Slot
	log     *logrus.Entry
	timeout time.Duration
	warn    func(error)

	writeMu  sync.Mutex
	unread   atomic.Bool // the slot could not be read at Open
	mu       sync.RWMutex
	state    domain.CartState
	revision uint64

	subMu   sync.RWMutex
	subs    map[int]func(domain.CartState)
	nextSub int
}

type Option func(*Store)

func WithKey(key string) Option {
	return func(s *Store) {
		s.key = key
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(s *Store) {
		s.log = log
	}
}

// WithWarningHandler receives every non-fatal persistence error, both
// PersistenceReadError at Open and PersistenceWriteError on commit.
func WithWarningHandler(fn func(error)) Option {
	return func(s *Store) {
		s.warn = fn
	}
}

// WithTimeout bounds each slot call.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.timeout = d
	}
}

// Open rehydrates a store from slot. A missing key starts an empty cart. A
// corrupt value is reported as a PersistenceReadError warning, discarded and
// replaced by an empty cart. When the slot itself cannot be read the warning
// is reported too, but the value is kept and the load is retried before the
// first commit. Open never fails.
func Open(ctx context.Context, slot storage.Slot, opts ...Option) *Store {
	s := &Store{
		key:     DefaultKey,
		slot:    slot,
		timeout: defaultTimeout,
		state:   domain.Empty(),
		subs:    make(map[int]func(domain.CartState)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logrus.StandardLogger())
	}
	s.log = s.log.WithField("cart_key", s.key)

	s.rehydrate(ctx)
	return s
}

func (s *Store) rehydrate(ctx context.Context) {
	if err := s.load(ctx); err != nil {
		s.unread.Store(true)
		s.report(err)
	}
}

// load reads the persisted cart into s. Only a slot that cannot be read is
// returned as an error; a corrupt value is reported and discarded here. The
// caller's cancellation does not abort the load.
func (s *Store) load(ctx context.Context) error {
	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	data, err := s.slot.Load(loadCtx, s.key)
	if errors.Is(err, storage.ErrSlotEmpty) {
		s.log.Debug("no persisted cart, starting empty")
		return nil
	}
	if err != nil {
		return &PersistenceReadError{Key: s.key, Err: err}
	}

	state, revision, err := Decode(data)
	if err != nil {
		s.report(&PersistenceReadError{Key: s.key, Err: err})
		s.discard(ctx)
		return nil
	}

	s.mu.Lock()
	s.state = state
	s.revision = revision
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{
		"lines":    state.Len(),
		"revision": revision,
	}).Debug("cart rehydrated")
	return nil
}

// ensureLoaded retries a load that failed at Open. It must be called with
// writeMu held.
func (s *Store) ensureLoaded(ctx context.Context) error {
	if !s.unread.Load() {
		return nil
	}
	if err := s.load(ctx); err != nil {
		return err
	}
	s.unread.Store(false)
	s.log.Info("cart rehydrated after earlier read failure")
	return nil
}

// Reload retries a failed initial load. It is a no-op once the persisted
// cart has been read.
func (s *Store) Reload(ctx context.Context) error {
	if !s.unread.Load() {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ensureLoaded(ctx)
}

// discard removes a corrupt persisted value so it is not read again.
func (s *Store) discard(ctx context.Context) {
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.slot.Delete(delCtx, s.key); err != nil {
		s.log.WithError(err).Warn("failed to discard corrupt cart")
	}
}

func (s *Store) Key() string {
	return s.key
}

// State returns the latest committed cart.
func (s *Store) State() domain.CartState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Revision returns the number of the latest commit.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

func (s *Store) TotalItemCount() int {
	return s.State().TotalItemCount()
}

func (s *Store) TotalPrice() decimal.Decimal {
	return s.State().TotalPrice()
}

// AddItem adds one unit of c. An invalid candidate is rejected with an error
// wrapping domain.ErrInvalidCandidate and nothing is committed. A
// *PersistenceReadError means the persisted cart is still unreadable and
// nothing was committed either. A *PersistenceWriteError means the returned
// state is committed but not saved.
func (s *Store) AddItem(ctx context.Context, c domain.Candidate) (domain.CartState, error) {
	if err := c.Validate(); err != nil {
		return s.State(), err
	}
	return s.update(ctx, func(cur domain.CartState) (domain.CartState, bool) {
		return cur.Add(c), true
	})
}

// RemoveItem drops the line for id; an absent id is a no-op.
func (s *Store) RemoveItem(ctx context.Context, id int64) (domain.CartState, error) {
	return s.update(ctx, func(cur domain.CartState) (domain.CartState, bool) {
		return cur.Remove(id), true
	})
}

// Clear empties the cart. It is the integration point used at logout.
func (s *Store) Clear(ctx context.Context) (domain.CartState, error) {
	return s.update(ctx, func(domain.CartState) (domain.CartState, bool) {
		return domain.Empty(), true
	})
}

// IncrementItem adds one unit to an existing line. Nothing is written when
// the line is absent.
func (s *Store) IncrementItem(ctx context.Context, id int64) (domain.CartState, error) {
	return s.update(ctx, func(cur domain.CartState) (domain.CartState, bool) {
		return cur.Increment(id)
	})
}

// DecrementItem removes one unit from a line, removing the line when its
// quantity would reach zero. Nothing is written when the line is absent.
func (s *Store) DecrementItem(ctx context.Context, id int64) (domain.CartState, error) {
	return s.update(ctx, func(cur domain.CartState) (domain.CartState, bool) {
		return cur.Decrement(id)
	})
}

func (s *Store) update(ctx context.Context, next func(domain.CartState) (domain.CartState, bool)) (domain.CartState, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Committing over a cart that was never read would overwrite it.
	if err := s.ensureLoaded(ctx); err != nil {
		return s.State(), s.report(err)
	}

	state, changed := next(s.State())
	if !changed {
		return state, nil
	}
	return state, s.commit(ctx, state)
}

// commit must be called with writeMu held.
func (s *Store) commit(ctx context.Context, state domain.CartState) error {
	s.mu.Lock()
	s.revision++
	revision := s.revision
	s.state = state
	s.mu.Unlock()

	err := s.persist(ctx, state, revision)
	s.notify(state)
	return err
}

func (s *Store) persist(ctx context.Context, state domain.CartState, revision uint64) error {
	data, err := Encode(state, revision)
	if err != nil {
		return s.report(&PersistenceWriteError{Key: s.key, Revision: revision, Err: err})
	}

	saveCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.slot.Save(saveCtx, s.key, data); err != nil {
		return s.report(&PersistenceWriteError{Key: s.key, Revision: revision, Err: err})
	}
	return nil
}

func (s *Store) report(err error) error {
	s.log.WithError(err).Warn("cart persistence failed")
	if s.warn != nil {
		s.warn(err)
	}
	return err
}

// Subscribe registers fn to be called with every committed state, in commit
// order. fn must not mutate the same store. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(domain.CartState)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) notify(state domain.CartState) {
	s.subMu.RLock()
	subs := make([]func(domain.CartState), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range subs {
		fn(state)
	}
}
