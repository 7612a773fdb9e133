package pipeline

import (
	"errors"
	"fmt"
)

// errIncrementalRequiresSince guards against an incremental operation
// spec that never carried a last-sync watermark (spec §4.2.3).
var errIncrementalRequiresSince = errors.New("incremental operation requires a since timestamp")

// Adapter-level error taxonomy (spec §7.1).

type ConnectionError struct {
	Adapter string
	Cause   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Adapter, e.Cause)
}
func (e *ConnectionError) Unwrap() error { return e.Cause }

type SchemaError struct {
	Table string
	Cause error
}

func (e *SchemaError) Error() string { return fmt.Sprintf("schema %s: %v", e.Table, e.Cause) }
func (e *SchemaError) Unwrap() error { return e.Cause }

type TypeMappingError struct {
	Table, Column string
	Cause         error
}

func (e *TypeMappingError) Error() string {
	return fmt.Sprintf("map type %s.%s: %v", e.Table, e.Column, e.Cause)
}
func (e *TypeMappingError) Unwrap() error { return e.Cause }

type ReadError struct {
	Table string
	Cause error
}

func (e *ReadError) Error() string { return fmt.Sprintf("read %s: %v", e.Table, e.Cause) }
func (e *ReadError) Unwrap() error { return e.Cause }

type WriteError struct {
	Table string
	Cause error
}

func (e *WriteError) Error() string { return fmt.Sprintf("write %s: %v", e.Table, e.Cause) }
func (e *WriteError) Unwrap() error { return e.Cause }

type ConstraintError struct {
	Table, Kind string
	Cause       error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s constraint on %s: %v", e.Kind, e.Table, e.Cause)
}
func (e *ConstraintError) Unwrap() error { return e.Cause }

type AuthError struct {
	Adapter string
	Cause   error
}

func (e *AuthError) Error() string { return fmt.Sprintf("auth %s: %v", e.Adapter, e.Cause) }
func (e *AuthError) Unwrap() error { return e.Cause }

// Pipeline-level errors (spec §7.2).

type UnsupportedCombinationError struct {
	SourceType, DestType string
	Reason               string
}

func (e *UnsupportedCombinationError) Error() string {
	return fmt.Sprintf("unsupported combination %s -> %s: %s", e.SourceType, e.DestType, e.Reason)
}

type TableFailedError struct {
	Table string
	Cause error
}

func (e *TableFailedError) Error() string { return fmt.Sprintf("table %s failed: %v", e.Table, e.Cause) }
func (e *TableFailedError) Unwrap() error { return e.Cause }

type OperationAbortedError struct {
	Cause error
}

func (e *OperationAbortedError) Error() string { return fmt.Sprintf("operation aborted: %v", e.Cause) }
func (e *OperationAbortedError) Unwrap() error { return e.Cause }
