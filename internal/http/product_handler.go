package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_cart/cart-store/internal/catalog"
	"github.com/sony/gobreaker/v2"
)

const (
	defaultPageLimit = 30
	maxPageLimit     = 100
)

// ProductLister is the catalog listing used by the storefront.
type ProductLister interface {
	ListProducts(ctx context.Context, limit, skip int) (*catalog.ProductPage, error)
}

type ProductHandler struct {
	products ProductLister
	timeout  time.Duration
}

func NewProductHandler(products ProductLister, timeout time.Duration) *ProductHandler {
	return &ProductHandler{
		products: products,
		timeout:  timeout,
	}
}

func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit, err := queryInt(r, "limit", defaultPageLimit)
	if err != nil || limit <= 0 || limit > maxPageLimit {
		respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 100")
		return
	}
	skip, err := queryInt(r, "skip", 0)
	if err != nil || skip < 0 {
		respondError(w, http.StatusBadRequest, "invalid_skip", "skip must be a non-negative integer")
		return
	}

	page, err := h.products.ListProducts(ctx, limit, skip)
	if err != nil {
		handleCatalogError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// handleCatalogError maps catalog client failures to HTTP statuses.
func handleCatalogError(w http.ResponseWriter, err error) {
	var se *catalog.StatusError
	switch {
	case errors.Is(err, catalog.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "product_not_found", "product not found")
	case errors.Is(err, catalog.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", "catalog is unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "catalog request timed out")
	case errors.As(err, &se):
		respondErrorDetails(w, http.StatusBadGateway, "bad_gateway", "catalog request failed", se.Message)
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
