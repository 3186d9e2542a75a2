package giftcard

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eventix/giftcard-api/internal/middleware"
)

// Routes returns gift card router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(authMiddleware)
	r.Use(middleware.RequirePermission(middleware.PermissionManageGiftCards))

	r.Get("/", h.List)
	r.Post("/", h.Create)

	r.Route("/acceptance", func(r chi.Router) {
		r.Get("/", h.ListAcceptances)
		r.Post("/", h.AddAcceptance)
		r.Delete("/{issuer}", h.RemoveAcceptance)
	})

	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Patch("/", h.Update)
		r.Post("/deactivate", h.Deactivate)
		r.Post("/transactions", h.CreateTransaction)
		r.Post("/transactions/{txID}/reverse", h.ReverseTransaction)
		r.Post("/refunds", h.Refund)
	})

	return r
}
