package opmodel

import "fmt"

// ErrIllegalTransition is returned when a caller attempts a state
// transition not present in the table below (spec §4.3, invariant I1).
type ErrIllegalTransition struct {
	From, To Status
}

func (e ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal operation transition: %s -> %s", e.From, e.To)
}

var (
	ErrMissingAdapterType = fmt.Errorf("source_type and dest_type are both required")
	ErrSameSourceAndDest  = fmt.Errorf("source_type and dest_type must not be the same adapter")
)

// transitions enumerates every legal (from, to) pair from §4.3's table.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusFailed: {
		StatusRunning: true, // explicit retry
	},
	StatusCompleted: {
		StatusRunning: true, // explicit retry (re-run)
	},
	StatusCancelled: {},
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to Status) bool {
	next, ok := transitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// RequireTransition returns ErrIllegalTransition if the move is not
// permitted; callers use this to guard every state mutation (P1).
func RequireTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return ErrIllegalTransition{From: from, To: to}
	}
	return nil
}
