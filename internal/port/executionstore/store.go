// Package executionstore defines the port for tracking executions.
// The store is injected into the coordinator at startup; lifetime of
// tracked executions is explicit (put on create, delete on expiry).
package executionstore

import (
	"context"
	"time"

	"github.com/solsuite/treasuryd/internal/domain/execution"
)

// Store is the port interface for execution tracking.
type Store interface {
	// Get returns the execution with the given id, or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*execution.Execution, error)

	// Put stores or replaces an execution.
	Put(ctx context.Context, e *execution.Execution) error

	// Delete removes an execution. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// ListActive returns snapshots of all non-terminal executions.
	ListActive(ctx context.Context) ([]execution.Execution, error)

	// ListExpired returns ids of terminal executions whose completion is
	// older than the cutoff, for garbage collection.
	ListExpired(ctx context.Context, cutoff time.Time) ([]string, error)
}
