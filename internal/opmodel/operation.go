// Package opmodel holds the persistent Operation record and its value
// objects, mirroring the fields in the original service's operations
// table but expressed as Go types with a JSON-backed config blob.
package opmodel

import (
	"encoding/json"
	"time"
)

type OperationType string

const (
	OperationFull        OperationType = "full"
	OperationIncremental OperationType = "incremental"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Operation is a scheduled migration job.
type Operation struct {
	ID               string          `json:"id" db:"id"`
	OwnerID          string          `json:"owner_id" db:"owner_id"`
	SourceRegistryID string          `json:"source_registry_id" db:"source_registry_id"`
	ScheduledAt      time.Time       `json:"scheduled_at" db:"scheduled_at"`
	OperationType    OperationType   `json:"operation_type" db:"operation_type"`
	Status           Status          `json:"status" db:"status"`
	Config           OperationConfig `json:"config" db:"config"`
	Result           *MigrationSummary `json:"result,omitempty" db:"result"`
	ErrorMessage     *string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	LastSyncTime     *time.Time      `json:"last_sync_time,omitempty" db:"last_sync_time"`
}

// OperationConfig is the opaque-to-orchestrator adapter configuration
// carried inside Operation.Config. The orchestrator only ever inspects
// SourceType/DestType; Source/Destination payloads are handed to the
// worker unmodified.
type OperationConfig struct {
	SourceType    string          `json:"source_type"`
	DestType      string          `json:"dest_type"`
	Source        json.RawMessage `json:"source"`
	Destination   json.RawMessage `json:"destination"`
	OperationType OperationType   `json:"operation_type"`
	LastSyncTime  *time.Time      `json:"last_sync_time,omitempty"`
}

// Validate enforces invariant I4: source_type and dest_type must both be
// present and must not be equal.
func (c OperationConfig) Validate() error {
	if c.SourceType == "" || c.DestType == "" {
		return ErrMissingAdapterType
	}
	if c.SourceType == c.DestType {
		return ErrSameSourceAndDest
	}
	return nil
}

// MigrationSummary is the terminal Operation.result payload, the Go
// mirror of pipeline.MigrationResult persisted as JSON.
type MigrationSummary struct {
	Success        bool                 `json:"success"`
	TablesMigrated []TableRecordCount   `json:"tables_migrated"`
	TablesFailed   []TableFailure       `json:"tables_failed"`
	TotalTables    int                  `json:"total_tables"`
	TotalRecords   int64                `json:"total_records"`
	Errors         []string             `json:"errors"`
}

type TableRecordCount struct {
	Table   string `json:"table"`
	Records int64  `json:"records"`
}

type TableFailure struct {
	Table        string `json:"table"`
	ErrorMessage string `json:"error"`
}

// DurationSeconds derives the duration for a completed operation,
// exposed by GET /operations/{id}/status.
func (o Operation) DurationSeconds() *float64 {
	if o.StartedAt == nil || o.CompletedAt == nil {
		return nil
	}
	d := o.CompletedAt.Sub(*o.StartedAt).Seconds()
	return &d
}

func (o Operation) IsCompleted() bool {
	switch o.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

func (o Operation) IsSuccess() bool {
	return o.Status == StatusCompleted && o.Result != nil && o.Result.Success
}
