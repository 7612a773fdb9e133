// Package httpapi is the migration worker's HTTP surface: a health
// check, the /migrate entry point into the Pipeline Engine, and a
// /test-connection diagnostic, grounded on stanstork-stratum-api's
// internal/handlers/health.go and internal/handlers/job.go for
// handler shape (decode payload, call the domain layer, encode
// response with http.Error on failure).
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/stanstork/migratum/internal/pipeline"
)

type Handlers struct {
	registry *pipeline.Registry
	engine   *pipeline.Engine
	logger   zerolog.Logger
}

func NewHandlers(registry *pipeline.Registry, engine *pipeline.Engine, logger zerolog.Logger) *Handlers {
	return &Handlers{registry: registry, engine: engine, logger: logger}
}

// Health reports the worker as healthy along with the adapter keys it
// currently has registered, so the supervisor's health probe and an
// operator hitting the endpoint directly can both see what this worker
// is actually capable of migrating (spec §6).
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":       "healthy",
		"sources":      h.registry.Sources(),
		"destinations": h.registry.Destinations(),
	})
}

type migrateRequest struct {
	SourceKey     string         `json:"source_key"`
	SourceConfig  map[string]any `json:"source_config"`
	DestKey       string         `json:"dest_key"`
	DestConfig    map[string]any `json:"dest_config"`
	OperationType string         `json:"operation_type"`
	Since         *time.Time     `json:"since,omitempty"`
}

// Migrate runs one migration to completion and returns the aggregated
// MigrationResult. The request blocks for the duration of the
// migration; the orchestrator's workerclient.Client carries a matching
// long timeout (spec §4.3, MIGRATE_HTTP_TIMEOUT).
func (h *Handlers) Migrate(w http.ResponseWriter, r *http.Request) {
	var req migrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	spec := pipeline.Spec{
		SourceKey:     req.SourceKey,
		SourceConfig:  req.SourceConfig,
		DestKey:       req.DestKey,
		DestConfig:    req.DestConfig,
		OperationType: req.OperationType,
		Since:         req.Since,
	}

	result, err := h.engine.Run(r.Context(), spec)
	if err != nil {
		h.logger.Error().Err(err).Str("source", req.SourceKey).Str("dest", req.DestKey).Msg("migration rejected")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !result.Success {
		// The migration ran to completion; the aggregated outcome is
		// still carried in the body (spec §6: "always with body") so a
		// 500 caller can decode the MigrationResult instead of just
		// seeing a bare error.
		w.WriteHeader(http.StatusInternalServerError)
	}
	json.NewEncoder(w).Encode(result)
}

type testConnectionRequest struct {
	AdapterKey string         `json:"adapter_key"`
	Role       string         `json:"role"` // "source" | "destination"
	Config     map[string]any `json:"config"`
}

type testConnectionResponse struct {
	Adapter      string `json:"adapter"`
	Success      bool   `json:"success"`
	ResolvedHost string `json:"resolved_host,omitempty"`
	ElapsedMS    int64  `json:"elapsed_ms"`
	Error        string `json:"error,omitempty"`
}

// TestConnection dials one adapter, in isolation from a full migration,
// and reports enough detail to distinguish "wrong credentials" from
// "host unreachable" (spec §9.1 supplemented feature, grounded on
// original_source/Scripts/diagnose_migration_issues.py).
func (h *Handlers) TestConnection(w http.ResponseWriter, r *http.Request) {
	var req testConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp := testConnectionResponse{Adapter: req.AdapterKey, ResolvedHost: resolvedHost(req.Config)}
	start := time.Now()

	switch req.Role {
	case "destination":
		dest, err := h.registry.NewDestination(req.AdapterKey)
		if err != nil {
			resp.Error = err.Error()
			break
		}
		if err := dest.Connect(r.Context(), req.Config, ""); err != nil {
			resp.Error = err.Error()
			break
		}
		defer dest.Disconnect(r.Context())
		resp.Success = true
	default:
		source, err := h.registry.NewSource(req.AdapterKey)
		if err != nil {
			resp.Error = err.Error()
			break
		}
		if err := source.Connect(r.Context(), req.Config); err != nil {
			resp.Error = err.Error()
			break
		}
		defer source.Disconnect(r.Context())
		resp.Success = true
	}

	resp.ElapsedMS = time.Since(start).Milliseconds()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func resolvedHost(config map[string]any) string {
	host, _ := config["host"].(string)
	if host == "" {
		host, _ = config["api_domain"].(string)
	}
	if port, ok := config["port"]; ok {
		return fmt.Sprintf("%s:%v", host, port)
	}
	return host
}
