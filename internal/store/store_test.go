package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/cart-store/internal/domain"
	"github.com/fjod/go_cart/cart-store/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSlot struct {
	m       sync.RWMutex
	values  map[string][]byte
	saves   [][]byte
	loadErr error
	saveErr error
	deleted []string
}

func newMockSlot() *mockSlot {
	return &mockSlot{values: make(map[string][]byte)}
}

func (m *mockSlot) Load(_ context.Context, key string) ([]byte, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	v, ok := m.values[key]
	if !ok {
		return nil, storage.ErrSlotEmpty
	}
	return v, nil
}

func (m *mockSlot) Save(_ context.Context, key string, value []byte) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.values[key] = value
	m.saves = append(m.saves, value)
	return nil
}

func (m *mockSlot) Delete(_ context.Context, key string) error {
	m.m.Lock()
	defer m.m.Unlock()
	delete(m.values, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *mockSlot) setSaveErr(err error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.saveErr = err
}

func (m *mockSlot) setLoadErr(err error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.loadErr = err
}

func (m *mockSlot) saveCount() int {
	m.m.RLock()
	defer m.m.RUnlock()
	return len(m.saves)
}

func (m *mockSlot) persisted(t *testing.T, key string) domain.CartState {
	t.Helper()
	m.m.RLock()
	data, ok := m.values[key]
	m.m.RUnlock()
	require.True(t, ok, "nothing persisted under %q", key)
	state, _, err := Decode(data)
	require.NoError(t, err)
	return state
}

func quietLogger() *logrus.Entry {
	log, _ := test.NewNullLogger()
	return logrus.NewEntry(log)
}

func item(id int64, title string, price int64, thumb string) domain.Candidate {
	return domain.Candidate{ID: id, Title: title, Price: decimal.NewFromInt(price), Thumbnail: thumb}
}

func TestOpen_EmptySlotStartsEmpty(t *testing.T) {
	slot := newMockSlot()

	sut := Open(context.Background(), slot, WithLogger(quietLogger()))

	assert.True(t, sut.State().IsEmpty())
	assert.Equal(t, DefaultKey, sut.Key())
	assert.Equal(t, uint64(0), sut.Revision())
	assert.Equal(t, 0, slot.saveCount(), "opening must not write")
}

func TestOpen_RehydratesPersistedCart(t *testing.T) {
	slot := newMockSlot()
	ctx := context.Background()

	first := Open(ctx, slot, WithLogger(quietLogger()))
	_, err := first.AddItem(ctx, item(1, "A", 10, "x"))
	require.NoError(t, err)
	_, err = first.AddItem(ctx, item(2, "B", 5, "y"))
	require.NoError(t, err)

	second := Open(ctx, slot, WithLogger(quietLogger()))
	assert.True(t, first.State().Equal(second.State()))
	assert.Equal(t, first.Revision(), second.Revision())
}

func TestOpen_CorruptValueIsDiscarded(t *testing.T) {
	slot := newMockSlot()
	slot.values[DefaultKey] = []byte(`{"state":{"lines":[`)

	var warnings []error
	sut := Open(context.Background(), slot,
		WithLogger(quietLogger()),
		WithWarningHandler(func(err error) { warnings = append(warnings, err) }))

	assert.True(t, sut.State().IsEmpty())
	require.Len(t, warnings, 1)
	var readErr *PersistenceReadError
	require.ErrorAs(t, warnings[0], &readErr)
	assert.Equal(t, DefaultKey, readErr.Key)
	assert.Equal(t, []string{DefaultKey}, slot.deleted)
}

func TestOpen_InvariantViolationIsDiscarded(t *testing.T) {
	slot := newMockSlot()
	slot.values[DefaultKey] = []byte(`{"state":{"lines":[
		{"id":1,"title":"A","price":"1","thumbnail":"","quantity":1},
		{"id":1,"title":"A","price":"1","thumbnail":"","quantity":1}]},"version":1}`)

	var warnings []error
	sut := Open(context.Background(), slot,
		WithLogger(quietLogger()),
		WithWarningHandler(func(err error) { warnings = append(warnings, err) }))

	assert.True(t, sut.State().IsEmpty())
	require.Len(t, warnings, 1)
	assert.ErrorIs(t, warnings[0], domain.ErrInvalidState)
}

func TestOpen_IncompatibleVersionIsDiscarded(t *testing.T) {
	slot := newMockSlot()
	slot.values[DefaultKey] = []byte(`{"state":{"lines":[]},"version":2}`)

	var warnings []error
	sut := Open(context.Background(), slot,
		WithLogger(quietLogger()),
		WithWarningHandler(func(err error) { warnings = append(warnings, err) }))

	assert.True(t, sut.State().IsEmpty())
	require.Len(t, warnings, 1)
	assert.ErrorIs(t, warnings[0], ErrIncompatibleSchema)
}

func TestOpen_UnreadableSlotKeepsValue(t *testing.T) {
	slot := newMockSlot()
	slot.values[DefaultKey] = []byte("whatever")
	slot.loadErr = fmt.Errorf("connection refused")

	var warnings []error
	sut := Open(context.Background(), slot,
		WithLogger(quietLogger()),
		WithWarningHandler(func(err error) { warnings = append(warnings, err) }))

	assert.True(t, sut.State().IsEmpty())
	require.Len(t, warnings, 1)
	assert.ErrorContains(t, warnings[0], "connection refused")
	assert.Empty(t, slot.deleted, "an unreachable slot must not be wiped")
}

func TestAddItem_PersistsBeforeReturning(t *testing.T) {
	slot := newMockSlot()
	ctx := context.Background()
	sut := Open(ctx, slot, WithLogger(quietLogger()))

	state, err := sut.AddItem(ctx, item(1, "A", 10, "x"))
	require.NoError(t, err)

	persisted := slot.persisted(t, DefaultKey)
	assert.True(t, state.Equal(persisted))
	assert.Equal(t, 1, slot.saveCount())
}

func TestAddItem_InvalidCandidateDoesNotMutate(t *testing.T) {
	slot := newMockSlot()
	ctx := context.Background()
	sut := Open(ctx, slot, WithLogger(quietLogger()))
	_, err := sut.AddItem(ctx, item(1, "A", 10, "x"))
	require.NoError(t, err)

	state, err := sut.AddItem(ctx, item(0, "broken", 10, "x"))

	require.ErrorIs(t, err, domain.ErrInvalidCandidate)
	var writeErr *PersistenceWriteError
	assert.False(t, errors.As(err, &writeErr))
	assert.Equal(t, 1, state.Len())
	assert.Equal(t, 1, sut.State().Len())
	assert.Equal(t, 1, slot.saveCount())
	assert.Equal(t, uint64(1), sut.Revision())
}

func TestAddItem_SnapshotFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	sut := Open(ctx, newMockSlot(), WithLogger(quietLogger()))

	_, err := sut.AddItem(ctx, item(1, "A", 10, "x"))
	require.NoError(t, err)
	state, err := sut.AddItem(ctx, item(1, "A", 20, "x"))
	require.NoError(t, err)

	line, ok := state.Line(1)
	require.True(t, ok)
	assert.Equal(t, 2, line.Quantity)
	assert.True(t, decimal.NewFromInt(10).Equal(line.Price))
}

func TestRemoveItem_AbsentIsNoop(t *testing.T) {
	ctx := context.Background()
	sut := Open(ctx, newMockSlot(), WithLogger(quietLogger()))
	before, err := sut.AddItem(ctx, item(1, "A", 10, "x"))
	require.NoError(t, err)

	after, err := sut.RemoveItem(ctx, 42)
	require.NoError(t, err)
	assert.True(t, before.Equal(after))
}

func TestDecrementItem_RemovesAtOne(t *testing.T) {
	slot := newMockSlot()
	ctx := context.Background()
	sut := Open(ctx, slot, WithLogger(quietLogger()))
	_, err := sut.AddItem(ctx, item(1, "A", 10, "x"))
	require.NoError(t, err)

	state, err := sut.DecrementItem(ctx, 1)
	require.NoError(t, err)

	_, found := state.Line(1)
	assert.False(t, found)
	assert.True(t, slot.persisted(t, DefaultKey).IsEmpty())
}

func TestIncrementDecrement_AbsentDoesNotWrite(t *testing.T) {
	slot := newMockSlot()
	ctx := context.Background()
	sut := Open(ctx, slot, WithLogger(quietLogger()))

	_, err := sut.IncrementItem(ctx, 5)
	require.NoError(t, err)
	_, err = sut.DecrementItem(ctx, 5)
	require.NoError(t, err)

	assert.Equal(t, 0, slot.saveCount())
	assert.Equal(t, uint64(0), sut.Revision())
}

func TestIncrementItem(t *testing.T) {
	ctx := context.Background()
	sut := Open(ctx, newMockSlot(), WithLogger(quietLogger()))
	_, err := sut.AddItem(ctx, item(1, "A", 10, "x"))
	require.NoError(t, err)

	state, err := sut.IncrementItem(ctx, 1)
	require.NoError(t, err)

	line, _ := state.Line(1)
	assert.Equal(t, 2, line.Quantity)
	assert.Equal(t, 2, sut.TotalItemCount())
	assert.True(t, decimal.NewFromInt(20).Equal(sut.TotalPrice()))
}

func TestClear_Idempotent(t *testing.T) {
	slot := newMockSlot()
	ctx := context.Background()
	sut := Open(ctx, slot, WithLogger(quietLogger()))
	_, err := sut.AddItem(ctx, item(1, "A", 10, "x"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		state, err := sut.Clear(ctx)
		require.NoError(t, err)
		assert.True(t, state.IsEmpty())
		assert.True(t, slot.persisted(t, DefaultKey).IsEmpty())
	}
}

func TestPersistenceFailure_KeepsNewState(t *testing.T) {
	slot := newMockSlot()
	ctx := context.Background()

	var warnings []error
	sut := Open(ctx, slot,
		WithLogger(quietLogger()),
		WithWarningHandler(func(err error) { warnings = append(warnings, err) }))
	_, err := sut.AddItem(ctx, item(1, "A", 10, "x"))
	require.NoError(t, err)

	slot.setSaveErr(storage.ErrQuotaExceeded)
	state, err := sut.AddItem(ctx, item(2, "B", 5, "y"))

	var writeErr *PersistenceWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.ErrorIs(t, err, storage.ErrQuotaExceeded)
	assert.Equal(t, DefaultKey, writeErr.Key)
	assert.Equal(t, uint64(2), writeErr.Revision)
	assert.Equal(t, 2, state.Len())
	assert.Equal(t, 2, sut.State().Len(), "in-memory state must not roll back")
	require.Len(t, warnings, 1)

	// the store stays usable once storage recovers
	slot.setSaveErr(nil)
	state, err = sut.RemoveItem(ctx, 1)
	require.NoError(t, err)
	assert.True(t, state.Equal(slot.persisted(t, DefaultKey)))
}

func TestPersistenceFailure_RealQuota(t *testing.T) {
	slot := storage.NewMemorySlot(storage.WithQuota(200))
	ctx := context.Background()
	sut := Open(ctx, slot, WithLogger(quietLogger()))

	var err error
	for id := int64(1); id <= 10 && err == nil; id++ {
		_, err = sut.AddItem(ctx, item(id, "Some product title", 10, "https://cdn.example.com/thumb.png"))
	}

	var writeErr *PersistenceWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.ErrorIs(t, err, storage.ErrQuotaExceeded)
	assert.Greater(t, sut.State().Len(), 0)
}

func TestSubscribe_ReceivesCommittedStatesInOrder(t *testing.T) {
	ctx := context.Background()
	sut := Open(ctx, newMockSlot(), WithLogger(quietLogger()))

	var counts []int
	unsubscribe := sut.Subscribe(func(s domain.CartState) {
		counts = append(counts, s.TotalItemCount())
	})

	_, _ = sut.AddItem(ctx, item(1, "A", 10, "x"))
	_, _ = sut.AddItem(ctx, item(1, "A", 10, "x"))
	_, _ = sut.DecrementItem(ctx, 1)
	_, _ = sut.IncrementItem(ctx, 99) // no commit, no notification
	unsubscribe()
	_, _ = sut.Clear(ctx)

	assert.Equal(t, []int{1, 2, 1}, counts)
}

func TestSubscribe_CallbackMayReadState(t *testing.T) {
	ctx := context.Background()
	sut := Open(ctx, newMockSlot(), WithLogger(quietLogger()))

	var seen int
	sut.Subscribe(func(domain.CartState) {
		seen = sut.State().Len()
	})

	_, err := sut.AddItem(ctx, item(1, "A", 10, "x"))
	require.NoError(t, err)
	assert.Equal(t, 1, seen)
}

func TestConcurrentMutations_PersistLatestState(t *testing.T) {
	slot := newMockSlot()
	ctx := context.Background()
	sut := Open(ctx, slot, WithLogger(quietLogger()))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := sut.AddItem(ctx, item(id%5+1, "p", 1, ""))
			assert.NoError(t, err)
		}(int64(i))
	}
	wg.Wait()

	state := sut.State()
	require.NoError(t, state.Validate())
	assert.Equal(t, 100, state.TotalItemCount())
	assert.Equal(t, uint64(100), sut.Revision())

	persisted := slot.persisted(t, DefaultKey)
	assert.True(t, state.Equal(persisted), "last persisted write must match the final state")

	// revisions were written in strictly increasing order
	var last uint64
	for _, data := range slot.saves {
		_, rev, err := Decode(data)
		require.NoError(t, err)
		assert.Greater(t, rev, last)
		last = rev
	}
}

func TestScenario_EndToEnd(t *testing.T) {
	slot := storage.NewMemorySlot()
	ctx := context.Background()
	sut := Open(ctx, slot, WithLogger(quietLogger()), WithTimeout(time.Second))

	_, err := sut.AddItem(ctx, item(1, "A", 10, "x"))
	require.NoError(t, err)
	state, err := sut.AddItem(ctx, item(1, "A", 10, "x"))
	require.NoError(t, err)
	require.Equal(t, 1, state.Len())
	line, _ := state.Line(1)
	assert.Equal(t, 2, line.Quantity)

	state, err = sut.AddItem(ctx, item(2, "B", 5, "y"))
	require.NoError(t, err)
	assert.Equal(t, 2, state.Len())
	assert.True(t, decimal.NewFromInt(25).Equal(state.TotalPrice()))

	state, err = sut.RemoveItem(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Len())

	state, err = sut.Clear(ctx)
	require.NoError(t, err)
	assert.True(t, state.IsEmpty())

	reopened := Open(ctx, slot, WithLogger(quietLogger()))
	assert.True(t, reopened.State().IsEmpty())
}

func TestOpen_CancelledContextStillRehydrates(t *testing.T) {
	slot := storage.NewMemorySlot()
	first := Open(context.Background(), slot, WithLogger(quietLogger()))
	_, err := first.AddItem(context.Background(), item(1, "A", 10, "x"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	second := Open(ctx, slot, WithLogger(quietLogger()))

	assert.Equal(t, 1, second.State().Len())
	assert.Equal(t, uint64(1), second.Revision())
}

func TestUnreadableSlot_MutationRetriesLoadBeforeCommit(t *testing.T) {
	slot := newMockSlot()
	persisted := domain.NewCartState(
		domain.CartLine{ID: 1, Title: "A", Price: decimal.NewFromInt(10), Quantity: 2},
		domain.CartLine{ID: 2, Title: "B", Price: decimal.NewFromInt(5), Quantity: 1},
	)
	data, err := Encode(persisted, 4)
	require.NoError(t, err)
	slot.values[DefaultKey] = data
	slot.setLoadErr(errors.New("i/o timeout"))

	var warnings []error
	ctx := context.Background()
	sut := Open(ctx, slot,
		WithLogger(quietLogger()),
		WithWarningHandler(func(err error) { warnings = append(warnings, err) }))
	require.True(t, sut.State().IsEmpty())

	_, err = sut.AddItem(ctx, item(3, "C", 1, "z"))
	var readErr *PersistenceReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, 0, slot.saveCount(), "nothing may overwrite a cart that was never read")
	assert.True(t, sut.State().IsEmpty())
	assert.Len(t, warnings, 2)

	slot.setLoadErr(nil)
	state, err := sut.AddItem(ctx, item(3, "C", 1, "z"))
	require.NoError(t, err)

	assert.Equal(t, 3, state.Len())
	assert.Equal(t, 4, state.TotalItemCount())
	assert.Equal(t, uint64(5), sut.Revision())
	assert.True(t, state.Equal(slot.persisted(t, DefaultKey)))
}

func TestReload_NoopAfterSuccessfulLoad(t *testing.T) {
	slot := newMockSlot()
	sut := Open(context.Background(), slot, WithLogger(quietLogger()))

	slot.setLoadErr(errors.New("should not be called"))
	assert.NoError(t, sut.Reload(context.Background()))
}
