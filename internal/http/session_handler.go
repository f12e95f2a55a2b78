package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_cart/cart-store/internal/catalog"
	"github.com/fjod/go_cart/cart-store/internal/session"
	"github.com/fjod/go_cart/cart-store/internal/store"
)

// Authenticator verifies credentials against the catalog's auth endpoint.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*catalog.AuthResponse, error)
}

// SessionService stores sessions and runs logout hooks.
type SessionService interface {
	SessionLookup
	Login(ctx context.Context, u session.User) error
	Logout(ctx context.Context, token string) error
}

type SessionHandler struct {
	auth     Authenticator
	sessions SessionService
	timeout  time.Duration
}

func NewSessionHandler(auth Authenticator, sessions SessionService, timeout time.Duration) *SessionHandler {
	return &SessionHandler{
		auth:     auth,
		sessions: sessions,
		timeout:  timeout,
	}
}

type LoginRequestDTO struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LogoutResponse struct {
	Status  string `json:"status"`
	Warning string `json:"warning,omitempty"`
}

func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req LoginRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "invalid_credentials", "username and password are required")
		return
	}

	auth, err := h.auth.Login(ctx, req.Username, req.Password)
	if err != nil {
		handleCatalogError(w, err)
		return
	}

	user := session.User{
		ID:        auth.ID,
		Username:  auth.Username,
		Email:     auth.Email,
		FirstName: auth.FirstName,
		LastName:  auth.LastName,
		Gender:    auth.Gender,
		Image:     auth.Image,
		Token:     auth.Token,
	}
	if err := h.sessions.Login(ctx, user); err != nil {
		if errors.Is(err, session.ErrInvalidSession) {
			respondErrorDetails(w, http.StatusBadGateway, "bad_gateway", "catalog returned an unusable session", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to store session")
		return
	}

	respondJSON(w, http.StatusOK, user)
}

// Logout ends the session. Carts are cleared by the registered logout hooks.
// Once the session is deleted any hook failure is a warning, never an error,
// since a retry would only get 401.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	token := bearerToken(r)
	err := h.sessions.Logout(ctx, token)
	if errors.Is(err, session.ErrNoSession) {
		respondError(w, http.StatusUnauthorized, "unauthorized", "session not found")
		return
	}

	var we *store.PersistenceWriteError
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, LogoutResponse{Status: "logged_out"})
	case errors.As(err, &we):
		w.Header().Set(warningHeader, "persistence-failed")
		respondJSON(w, http.StatusOK, LogoutResponse{
			Status:  "logged_out",
			Warning: "cart was cleared but could not be saved",
		})
	case errors.Is(err, session.ErrLogoutHook):
		w.Header().Set(warningHeader, "logout-hook-failed")
		respondJSON(w, http.StatusOK, LogoutResponse{
			Status:  "logged_out",
			Warning: "session ended but not every cleanup step succeeded",
		})
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "logout failed")
	}
}
