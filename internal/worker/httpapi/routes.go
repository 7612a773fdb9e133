package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter wires the worker's handlers behind the shared JWT
// middleware, following routes.NewRouter's shape (health public,
// everything else guarded).
func NewRouter(h *Handlers, jwtSecret []byte) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	protected := router.PathPrefix("").Subrouter()
	protected.Use(jwtAuth(jwtSecret))
	protected.HandleFunc("/migrate", h.Migrate).Methods(http.MethodPost)
	protected.HandleFunc("/test-connection", h.TestConnection).Methods(http.MethodPost)

	return router
}
