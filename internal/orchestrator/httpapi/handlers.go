// Package httpapi is the orchestrator's user-facing Operations API:
// create, list, get, execute, retry, delete, and status, grounded on
// stanstork-stratum-api's internal/handlers/job.go for handler shape
// (payload decode -> repository/service call -> encode, http.Error on
// failure) but backed by orchestrator.Service instead of a raw
// repository so every mutation goes through the state machine.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/stanstork/migratum/internal/opmodel"
	"github.com/stanstork/migratum/internal/orchestrator"
	"github.com/stanstork/migratum/internal/repository"
)

type Handlers struct {
	service *orchestrator.Service
	logger  zerolog.Logger
}

func NewHandlers(service *orchestrator.Service, logger zerolog.Logger) *Handlers {
	return &Handlers{service: service, logger: logger}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type createOperationRequest struct {
	OwnerID          string               `json:"owner_id"`
	SourceRegistryID string               `json:"source_registry_id"`
	ScheduledAt      time.Time            `json:"scheduled_at"`
	OperationType    opmodel.OperationType `json:"operation_type"`
	Config           opmodel.OperationConfig `json:"config"`
}

func (h *Handlers) CreateOperation(w http.ResponseWriter, r *http.Request) {
	var req createOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	op, err := h.service.Create(opmodel.Operation{
		OwnerID:          req.OwnerID,
		SourceRegistryID: req.SourceRegistryID,
		ScheduledAt:      req.ScheduledAt,
		OperationType:    req.OperationType,
		Config:           req.Config,
	})
	if err != nil {
		if errors.Is(err, opmodel.ErrMissingAdapterType) || errors.Is(err, opmodel.ErrSameSourceAndDest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to create operation: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(op)
}

func (h *Handlers) ListOperations(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	limit, offset := 20, 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil {
			offset = v
		}
	}

	ops, err := h.service.List(ownerID, limit, offset)
	if err != nil {
		http.Error(w, "failed to list operations: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ops)
}

func (h *Handlers) GetOperation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["operationID"]
	op, err := h.service.Get(id)
	if err != nil {
		h.writeNotFoundOr500(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(op)
}

// GetOperationStatus is the lightweight polling endpoint: status,
// timestamps, derived duration/completion flags, and the terminal
// result once one exists.
func (h *Handlers) GetOperationStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["operationID"]
	op, err := h.service.Get(id)
	if err != nil {
		h.writeNotFoundOr500(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":               op.ID,
		"status":           op.Status,
		"started_at":       op.StartedAt,
		"completed_at":     op.CompletedAt,
		"duration_seconds": op.DurationSeconds(),
		"error_message":    op.ErrorMessage,
		"is_completed":     op.IsCompleted(),
		"is_success":       op.IsSuccess(),
		"result":           op.Result,
	})
}

// GetOperationSummary returns the terminal MigrationSummary once one
// exists for a single operation.
func (h *Handlers) GetOperationSummary(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["operationID"]
	op, err := h.service.Get(id)
	if err != nil {
		h.writeNotFoundOr500(w, err)
		return
	}
	if op.Result == nil {
		http.Error(w, "operation has no result yet", http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(op.Result)
}

// GetOperationsSummary returns the per-owner aggregate view: counts by
// status and type, plus the most recent operations.
func (h *Handlers) GetOperationsSummary(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	recentLimit := 10
	if l := r.URL.Query().Get("recent"); l != "" {
		if v, err := strconv.Atoi(l); err == nil {
			recentLimit = v
		}
	}

	summary, err := h.service.Summary(ownerID, recentLimit)
	if err != nil {
		http.Error(w, "failed to build operations summary: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

func (h *Handlers) ExecuteOperation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["operationID"]
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if err := h.service.Execute(r.Context(), id, force); err != nil {
		h.writeExecuteErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handlers) RetryOperation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["operationID"]
	if err := h.service.Retry(r.Context(), id); err != nil {
		h.writeExecuteErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// DeleteOperation removes an operation, soft-cancelling it first if
// it's currently running.
func (h *Handlers) DeleteOperation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["operationID"]
	if err := h.service.Delete(id); err != nil {
		h.writeNotFoundOr500(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) writeExecuteErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrOperationNotExecutable), errors.Is(err, orchestrator.ErrOperationNotRetryable), errors.Is(err, orchestrator.ErrOperationNotDue):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, repository.ErrOperationNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handlers) writeNotFoundOr500(w http.ResponseWriter, err error) {
	if errors.Is(err, repository.ErrOperationNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
