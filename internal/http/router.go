package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

type RouterConfig struct {
	Carts          *CartHandler
	Products       *ProductHandler
	Sessions       *SessionHandler
	Auth           SessionLookup
	Log            *logrus.Entry
	RequestTimeout time.Duration
}

func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(cfg.Log))
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", cfg.Products.List)
		r.Post("/session/login", cfg.Sessions.Login)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.Auth))

			r.Post("/session/logout", cfg.Sessions.Logout)
			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cfg.Carts.GetCart)
				r.Delete("/", cfg.Carts.ClearCart)
				r.Post("/items", cfg.Carts.AddItem)
				r.Post("/items/{product_id}/increment", cfg.Carts.IncrementItem)
				r.Post("/items/{product_id}/decrement", cfg.Carts.DecrementItem)
				r.Delete("/items/{product_id}", cfg.Carts.RemoveItem)
			})
		})
	})

	return r
}
