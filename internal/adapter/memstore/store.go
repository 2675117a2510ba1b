// Package memstore is the in-memory execution store. It is the
// authoritative store for live executions; terminal executions linger
// until the coordinator's GC sweep deletes them.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/solsuite/treasuryd/internal/domain"
	"github.com/solsuite/treasuryd/internal/domain/execution"
	"github.com/solsuite/treasuryd/internal/port/executionstore"
)

// Store implements executionstore.Store with a mutex-guarded map.
type Store struct {
	mu         sync.RWMutex
	executions map[string]*execution.Execution
}

var _ executionstore.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{executions: make(map[string]*execution.Execution)}
}

// Get returns the execution with the given id, or domain.ErrNotFound.
func (s *Store) Get(_ context.Context, id string) (*execution.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.executions[id]
	if !ok {
		return nil, fmt.Errorf("%w: execution %s", domain.ErrNotFound, id)
	}
	return e, nil
}

// Put stores or replaces an execution.
func (s *Store) Put(_ context.Context, e *execution.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.executions[e.ID] = e
	return nil
}

// Delete removes an execution. Deleting an unknown id is not an error.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.executions, id)
	return nil
}

// ListActive returns snapshots of all non-terminal executions.
func (s *Store) ListActive(_ context.Context) ([]execution.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []execution.Execution
	for _, e := range s.executions {
		if !e.Status.IsTerminal() {
			out = append(out, e.Snapshot())
		}
	}
	return out, nil
}

// ListExpired returns ids of terminal executions completed before cutoff.
func (s *Store) ListExpired(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for id, e := range s.executions {
		if e.Status.IsTerminal() && e.CompletedAt != nil && e.CompletedAt.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out, nil
}
