package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vasiliy-maslov/laptophub/internal/handler"
)

type Handlers struct {
	Orders  *handler.OrderHandler
	Cart    *handler.CartHandler
	Catalog *handler.CatalogHandler
	Webhook *handler.WebhookHandler
}

func NewRouter(h Handlers) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	h.Orders.RegisterRoutes(r)
	h.Cart.RegisterRoutes(r)
	h.Catalog.RegisterRoutes(r)
	h.Webhook.RegisterRoutes(r)

	return r
}
