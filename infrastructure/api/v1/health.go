package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rephole/rephole/infrastructure/api/middleware"
)

// HealthRouter exposes GET /health.
type HealthRouter struct{}

// NewHealthRouter creates a HealthRouter.
func NewHealthRouter() HealthRouter { return HealthRouter{} }

// Routes returns the mountable chi router.
func (HealthRouter) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}
