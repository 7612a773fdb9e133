package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter wires the Operations API, following routes.NewRouter's
// shape (health public, everything else under /api).
func NewRouter(h *Handlers) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/operations", h.CreateOperation).Methods(http.MethodPost)
	api.HandleFunc("/operations", h.ListOperations).Methods(http.MethodGet)
	// Registered before the {operationID} routes below: gorilla/mux
	// matches in registration order, and "summary" would otherwise be
	// captured as an operation ID.
	api.HandleFunc("/operations/summary", h.GetOperationsSummary).Methods(http.MethodGet)
	api.HandleFunc("/operations/{operationID}", h.GetOperation).Methods(http.MethodGet)
	api.HandleFunc("/operations/{operationID}", h.DeleteOperation).Methods(http.MethodDelete)
	api.HandleFunc("/operations/{operationID}/status", h.GetOperationStatus).Methods(http.MethodGet)
	api.HandleFunc("/operations/{operationID}/summary", h.GetOperationSummary).Methods(http.MethodGet)
	api.HandleFunc("/operations/{operationID}/execute", h.ExecuteOperation).Methods(http.MethodPost)
	api.HandleFunc("/operations/{operationID}/retry", h.RetryOperation).Methods(http.MethodPost)

	return router
}
