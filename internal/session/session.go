package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/fjod/go_cart/cart-store/internal/storage"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoSession      = errors.New("session not found")
	ErrInvalidSession = errors.New("invalid session")
	// ErrLogoutHook marks errors from logout hooks. The session is already
	// gone when it is returned.
	ErrLogoutHook = errors.New("logout hook failed")
)

// User is the authenticated user as returned by the catalog's auth endpoint.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Gender    string `json:"gender"`
	Image     string `json:"image"`
	Token     string `json:"token"`
}

// UserID is the user's id as used for cart keys.
func (u User) UserID() string {
	return strconv.FormatInt(u.ID, 10)
}

// LogoutHook runs after a session has been removed.
type LogoutHook func(ctx context.Context, userID string) error

// Manager persists sessions by token and notifies hooks on logout.
type Manager struct {
	slot storage.Slot
	log  *logrus.Entry

	mu    sync.RWMutex
	hooks []LogoutHook
}

func NewManager(slot storage.Slot, log *logrus.Entry) *Manager {
	return &Manager{
		slot: slot,
		log:  log,
	}
}

// KeyPrefix namespaces session keys in a slot shared with carts.
const KeyPrefix = "session"

func sessionKey(token string) string {
	return fmt.Sprintf("%s:%s", KeyPrefix, token)
}

// OnLogout registers a hook invoked with the user id of every logged out session.
func (m *Manager) OnLogout(hook LogoutHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

func (m *Manager) Login(ctx context.Context, u User) error {
	if u.Token == "" || u.ID <= 0 {
		return fmt.Errorf("%w: token and user id are required", ErrInvalidSession)
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal session failed: %w", err)
	}
	if err := m.slot.Save(ctx, sessionKey(u.Token), data); err != nil {
		return fmt.Errorf("save session failed: %w", err)
	}
	m.log.WithField("user_id", u.ID).Info("user logged in")
	return nil
}

// Lookup resolves a token. A missing or undecodable session is ErrNoSession.
func (m *Manager) Lookup(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrNoSession
	}
	data, err := m.slot.Load(ctx, sessionKey(token))
	if errors.Is(err, storage.ErrSlotEmpty) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("load session failed: %w", err)
	}

	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		m.log.WithError(err).Warn("discarding unreadable session")
		return nil, ErrNoSession
	}
	return &u, nil
}

// Logout removes the session and then runs every logout hook. Hook failures
// do not stop the remaining hooks; they are joined into the returned error,
// which wraps ErrLogoutHook.
func (m *Manager) Logout(ctx context.Context, token string) error {
	u, err := m.Lookup(ctx, token)
	if err != nil {
		return err
	}
	if err := m.slot.Delete(ctx, sessionKey(token)); err != nil {
		return fmt.Errorf("delete session failed: %w", err)
	}

	m.mu.RLock()
	hooks := append([]LogoutHook(nil), m.hooks...)
	m.mu.RUnlock()

	var errs []error
	for _, hook := range hooks {
		if err := hook(ctx, u.UserID()); err != nil {
			m.log.WithError(err).WithField("user_id", u.ID).Error("logout hook failed")
			errs = append(errs, err)
		}
	}
	m.log.WithField("user_id", u.ID).Info("user logged out")
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrLogoutHook, errors.Join(errs...))
	}
	return nil
}
