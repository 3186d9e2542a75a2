package payment

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eventix/giftcard-api/internal/middleware"
)

// Routes returns payment router, mounted at the API root
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(authMiddleware)
	r.Use(middleware.RequirePermission(middleware.PermissionManageGiftCards))

	r.Get("/orders/{orderRef}/payments", h.ListByOrder)
	r.Get("/payments/{id}", h.Get)

	return r
}
