// Package repository is the raw database/sql persistence layer for
// Operations, grounded on stanstork-stratum-api's
// internal/repository/job_repository.go query style (numbered $n
// placeholders, explicit Scan lists, sql.ErrNoRows translated to a
// descriptive not-found error) but without tenant scoping, since
// multi-tenant ownership is out of scope for this system.
package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stanstork/migratum/internal/opmodel"
)

var ErrOperationNotFound = errors.New("operation not found")

type OperationRepository interface {
	Create(op opmodel.Operation) (opmodel.Operation, error)
	Get(id string) (opmodel.Operation, error)
	ClaimNextDue(now time.Time) (*opmodel.Operation, error)
	UpdateStatus(id string, from, to opmodel.Status) error
	MarkStarted(id string) error
	MarkCompleted(id string, result opmodel.MigrationSummary) error
	MarkFailed(id string, errMsg string) error
	MarkCancelled(id string) error
	List(ownerID string, limit, offset int) ([]opmodel.Operation, error)
	CountsByStatusAndType(ownerID string) (byStatus map[opmodel.Status]int, byType map[opmodel.OperationType]int, err error)
	Delete(id string) error
}

type operationRepository struct {
	db *sql.DB
}

func NewOperationRepository(db *sql.DB) OperationRepository {
	return &operationRepository{db: db}
}

func (r *operationRepository) Create(op opmodel.Operation) (opmodel.Operation, error) {
	configJSON, err := json.Marshal(op.Config)
	if err != nil {
		return op, fmt.Errorf("marshal operation config: %w", err)
	}

	op.ID = uuid.NewString()
	const query = `
		INSERT INTO migratum.operations (id, owner_id, source_registry_id, scheduled_at, operation_type, status, config)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6)
		RETURNING status, created_at, updated_at
	`
	err = r.db.QueryRow(query, op.ID, op.OwnerID, op.SourceRegistryID, op.ScheduledAt, op.OperationType, configJSON).
		Scan(&op.Status, &op.CreatedAt, &op.UpdatedAt)
	return op, err
}

func (r *operationRepository) Get(id string) (opmodel.Operation, error) {
	const query = `
		SELECT id, owner_id, source_registry_id, scheduled_at, operation_type, status, config,
		       result, error_message, created_at, updated_at, started_at, completed_at, last_sync_time
		FROM migratum.operations
		WHERE id = $1
	`
	return r.scanOne(r.db.QueryRow(query, id))
}

func (r *operationRepository) scanOne(row *sql.Row) (opmodel.Operation, error) {
	var op opmodel.Operation
	var configJSON []byte
	var resultJSON []byte

	err := row.Scan(
		&op.ID, &op.OwnerID, &op.SourceRegistryID, &op.ScheduledAt, &op.OperationType, &op.Status,
		&configJSON, &resultJSON, &op.ErrorMessage, &op.CreatedAt, &op.UpdatedAt,
		&op.StartedAt, &op.CompletedAt, &op.LastSyncTime,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return op, ErrOperationNotFound
		}
		return op, err
	}
	if err := json.Unmarshal(configJSON, &op.Config); err != nil {
		return op, fmt.Errorf("unmarshal operation config: %w", err)
	}
	if len(resultJSON) > 0 {
		var summary opmodel.MigrationSummary
		if err := json.Unmarshal(resultJSON, &summary); err != nil {
			return op, fmt.Errorf("unmarshal operation result: %w", err)
		}
		op.Result = &summary
	}
	return op, nil
}

// ClaimNextDue atomically claims the earliest pending operation whose
// scheduled_at has passed, using SELECT ... FOR UPDATE SKIP LOCKED so
// concurrent scheduler ticks never double-claim the same row (spec
// §4.3, Scheduler invariant).
func (r *operationRepository) ClaimNextDue(now time.Time) (*opmodel.Operation, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	const selectQuery = `
		SELECT id FROM migratum.operations
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`
	var id string
	if err := tx.QueryRow(selectQuery, now).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select next due operation: %w", err)
	}

	const updateQuery = `
		UPDATE migratum.operations
		SET status = 'running', started_at = now(), updated_at = now()
		WHERE id = $1
	`
	if _, err := tx.Exec(updateQuery, id); err != nil {
		return nil, fmt.Errorf("claim operation %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	op, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (r *operationRepository) UpdateStatus(id string, from, to opmodel.Status) error {
	if err := opmodel.RequireTransition(from, to); err != nil {
		return err
	}
	res, err := r.db.Exec(`UPDATE migratum.operations SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`, to, id, from)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("update status %s -> %s on %s: %w", from, to, id, ErrOperationNotFound)
	}
	return nil
}

func (r *operationRepository) MarkStarted(id string) error {
	_, err := r.db.Exec(`UPDATE migratum.operations SET status = 'running', started_at = now(), updated_at = now() WHERE id = $1`, id)
	return err
}

func (r *operationRepository) MarkCompleted(id string, result opmodel.MigrationSummary) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal migration summary: %w", err)
	}
	status := opmodel.StatusCompleted
	if !result.Success {
		status = opmodel.StatusFailed
	}
	_, err = r.db.Exec(
		`UPDATE migratum.operations SET status = $1, result = $2, completed_at = now(), updated_at = now() WHERE id = $3`,
		status, resultJSON, id,
	)
	return err
}

func (r *operationRepository) MarkFailed(id string, errMsg string) error {
	_, err := r.db.Exec(
		`UPDATE migratum.operations SET status = 'failed', error_message = $1, completed_at = now(), updated_at = now() WHERE id = $2`,
		errMsg, id,
	)
	return err
}

// MarkCancelled persists the running->cancelled soft-cancel transition
// (§4.3 Delete: "if running, mark cancelled first ... persist the
// terminal state, then remove"), guarded by RequireTransition and a CAS
// on the current status the same way UpdateStatus is.
func (r *operationRepository) MarkCancelled(id string) error {
	if err := opmodel.RequireTransition(opmodel.StatusRunning, opmodel.StatusCancelled); err != nil {
		return err
	}
	res, err := r.db.Exec(
		`UPDATE migratum.operations SET status = 'cancelled', completed_at = now(), updated_at = now() WHERE id = $1 AND status = 'running'`,
		id,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("cancel operation %s: %w", id, ErrOperationNotFound)
	}
	return nil
}

func (r *operationRepository) List(ownerID string, limit, offset int) ([]opmodel.Operation, error) {
	const query = `
		SELECT id, owner_id, source_registry_id, scheduled_at, operation_type, status, config,
		       result, error_message, created_at, updated_at, started_at, completed_at, last_sync_time
		FROM migratum.operations
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ops := make([]opmodel.Operation, 0, limit)
	for rows.Next() {
		var op opmodel.Operation
		var configJSON, resultJSON []byte
		if err := rows.Scan(
			&op.ID, &op.OwnerID, &op.SourceRegistryID, &op.ScheduledAt, &op.OperationType, &op.Status,
			&configJSON, &resultJSON, &op.ErrorMessage, &op.CreatedAt, &op.UpdatedAt,
			&op.StartedAt, &op.CompletedAt, &op.LastSyncTime,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(configJSON, &op.Config); err != nil {
			return nil, fmt.Errorf("unmarshal operation config: %w", err)
		}
		if len(resultJSON) > 0 {
			var summary opmodel.MigrationSummary
			if err := json.Unmarshal(resultJSON, &summary); err != nil {
				return nil, fmt.Errorf("unmarshal operation result: %w", err)
			}
			op.Result = &summary
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// CountsByStatusAndType computes the two GROUP BY aggregates the
// per-owner summary endpoint needs in a single round trip each,
// following ClaimNextDue's pattern of pushing aggregation into SQL
// rather than pulling every row into Go.
func (r *operationRepository) CountsByStatusAndType(ownerID string) (map[opmodel.Status]int, map[opmodel.OperationType]int, error) {
	byStatus := make(map[opmodel.Status]int)
	statusRows, err := r.db.Query(`SELECT status, count(*) FROM migratum.operations WHERE owner_id = $1 GROUP BY status`, ownerID)
	if err != nil {
		return nil, nil, fmt.Errorf("count operations by status: %w", err)
	}
	defer statusRows.Close()
	for statusRows.Next() {
		var status opmodel.Status
		var n int
		if err := statusRows.Scan(&status, &n); err != nil {
			return nil, nil, err
		}
		byStatus[status] = n
	}
	if err := statusRows.Err(); err != nil {
		return nil, nil, err
	}

	byType := make(map[opmodel.OperationType]int)
	typeRows, err := r.db.Query(`SELECT operation_type, count(*) FROM migratum.operations WHERE owner_id = $1 GROUP BY operation_type`, ownerID)
	if err != nil {
		return nil, nil, fmt.Errorf("count operations by type: %w", err)
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var opType opmodel.OperationType
		var n int
		if err := typeRows.Scan(&opType, &n); err != nil {
			return nil, nil, err
		}
		byType[opType] = n
	}
	return byStatus, byType, typeRows.Err()
}

func (r *operationRepository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM migratum.operations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrOperationNotFound
	}
	return nil
}
