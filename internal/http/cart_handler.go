package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_cart/cart-store/internal/catalog"
	"github.com/fjod/go_cart/cart-store/internal/domain"
	"github.com/fjod/go_cart/cart-store/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const warningHeader = "X-Cart-Warning"

// CartProvider hands out the per-user cart store.
type CartProvider interface {
	Get(ctx context.Context, userID string) *store.Store
}

// ProductFetcher resolves a product before it is added to a cart.
type ProductFetcher interface {
	GetProduct(ctx context.Context, id int64) (*catalog.Product, error)
}

type CartHandler struct {
	carts    CartProvider
	products ProductFetcher
	timeout  time.Duration
}

func NewCartHandler(carts CartProvider, products ProductFetcher, timeout time.Duration) *CartHandler {
	return &CartHandler{
		carts:    carts,
		products: products,
		timeout:  timeout,
	}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id"`
}

type CartView struct {
	Lines      []domain.CartLine `json:"lines"`
	TotalItems int               `json:"total_items"`
	TotalPrice decimal.Decimal   `json:"total_price"`
	Warning    string            `json:"warning,omitempty"`
}

func newCartView(state domain.CartState) CartView {
	lines := state.Lines()
	if lines == nil {
		lines = []domain.CartLine{}
	}
	return CartView{
		Lines:      lines,
		TotalItems: state.TotalItemCount(),
		TotalPrice: state.TotalPrice(),
	}
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	st := h.carts.Get(r.Context(), user.UserID())
	respondJSON(w, http.StatusOK, newCartView(st.State()))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user := getUserFromContext(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}

	product, err := h.products.GetProduct(ctx, req.ProductID)
	if err != nil {
		handleCatalogError(w, err)
		return
	}

	state, err := h.carts.Get(ctx, user.UserID()).AddItem(ctx, product.Candidate())
	if errors.Is(err, domain.ErrInvalidCandidate) {
		respondErrorDetails(w, http.StatusUnprocessableEntity, "invalid_product", "product cannot be added to cart", err.Error())
		return
	}
	respondCart(w, http.StatusCreated, state, err)
}

func (h *CartHandler) IncrementItem(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, (*store.Store).IncrementItem)
}

func (h *CartHandler) DecrementItem(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, (*store.Store).DecrementItem)
}

// adjust applies a quantity change to an existing line. Unlike RemoveItem it
// reports an absent line as 404.
func (h *CartHandler) adjust(w http.ResponseWriter, r *http.Request, op func(*store.Store, context.Context, int64) (domain.CartState, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user := getUserFromContext(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	st := h.carts.Get(ctx, user.UserID())
	if _, found := st.State().Line(productID); !found {
		respondError(w, http.StatusNotFound, "item_not_found", "product is not in the cart")
		return
	}

	state, err := op(st, ctx, productID)
	respondCart(w, http.StatusOK, state, err)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user := getUserFromContext(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	state, err := h.carts.Get(ctx, user.UserID()).RemoveItem(ctx, productID)
	respondCart(w, http.StatusOK, state, err)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user := getUserFromContext(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	state, err := h.carts.Get(ctx, user.UserID()).Clear(ctx)
	respondCart(w, http.StatusOK, state, err)
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return 0, false
	}
	return productID, true
}

// respondCart writes the committed state. A failed save does not fail the
// request; it is surfaced as a warning. A cart that could not be read yet is
// not modified and is reported as unavailable.
func respondCart(w http.ResponseWriter, status int, state domain.CartState, err error) {
	view := newCartView(state)
	if err != nil {
		var re *store.PersistenceReadError
		if errors.As(err, &re) {
			respondError(w, http.StatusServiceUnavailable, "storage_unavailable", "cart storage is unavailable, try again")
			return
		}
		var we *store.PersistenceWriteError
		if !errors.As(err, &we) {
			respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		view.Warning = "cart was updated but could not be saved"
		w.Header().Set(warningHeader, "persistence-failed")
	}
	respondJSON(w, status, view)
}
