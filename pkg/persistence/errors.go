// Package persistence provides standardized error types for store operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrVersionConflict indicates an append lost an optimistic-concurrency
	// race: another writer already holds the target version.
	ErrVersionConflict = errors.New("event version conflict")

	// ErrAggregateNotFound indicates no events exist for the aggregate id.
	ErrAggregateNotFound = errors.New("aggregate not found")

	// ErrSnapshotNotFound indicates no snapshot exists for the aggregate.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrTriggerNotFound indicates a trigger was not found by id.
	ErrTriggerNotFound = errors.New("trigger not found")

	// ErrGraphNotFound indicates a workflow graph was not found by id.
	ErrGraphNotFound = errors.New("workflow graph not found")

	// ErrExecutionNotFound indicates an execution was not found by id.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrDeadLetterNotFound indicates a dead-letter entry was not found.
	ErrDeadLetterNotFound = errors.New("dead letter entry not found")
)

// ConflictError reports the aggregate and expected version of a rejected
// concurrent append. Callers must reload and retry the command.
type ConflictError struct {
	AggregateID     string
	ExpectedVersion int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict for aggregate %s: expected version %d is already taken", e.AggregateID, e.ExpectedVersion)
}

func (e *ConflictError) Unwrap() error {
	return ErrVersionConflict
}

// IsVersionConflict checks if an error indicates an optimistic-concurrency
// conflict.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsAggregateNotFound checks if an error indicates a missing aggregate.
func IsAggregateNotFound(err error) bool {
	return errors.Is(err, ErrAggregateNotFound)
}

// IsTriggerNotFound checks if an error indicates a missing trigger.
func IsTriggerNotFound(err error) bool {
	return errors.Is(err, ErrTriggerNotFound)
}

// IsGraphNotFound checks if an error indicates a missing workflow graph.
func IsGraphNotFound(err error) bool {
	return errors.Is(err, ErrGraphNotFound)
}
