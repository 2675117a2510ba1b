package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	otelad "github.com/solsuite/treasuryd/internal/adapter/otel"
	"github.com/solsuite/treasuryd/internal/adapter/ws"
	"github.com/solsuite/treasuryd/internal/config"
	"github.com/solsuite/treasuryd/internal/domain"
	"github.com/solsuite/treasuryd/internal/domain/execution"
	"github.com/solsuite/treasuryd/internal/port/executionstore"
	"github.com/solsuite/treasuryd/internal/port/messagequeue"
)

// Archiver persists terminal executions beyond the in-memory GC window.
// Satisfied by the postgres archive; nil disables archiving.
type Archiver interface {
	Save(ctx context.Context, e execution.Execution) error
}

// Coordinator owns execution lifecycles. It is the only writer of
// execution state; observers poll snapshots or subscribe to the event
// fan-out.
type Coordinator struct {
	store   executionstore.Store
	queue   messagequeue.Queue
	hub     Broadcaster
	archive Archiver
	metrics *otelad.Metrics
	logger  *slog.Logger
	cfg     config.Executions

	mu        sync.Mutex
	approvals map[string]string // approval id -> execution id

	now func() time.Time
}

// NewCoordinator creates a Coordinator. queue, hub, archive and metrics
// may be nil to disable the corresponding side channel.
func NewCoordinator(store executionstore.Store, cfg config.Executions, queue messagequeue.Queue, hub Broadcaster, archive Archiver, metrics *otelad.Metrics, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:     store,
		queue:     queue,
		hub:       hub,
		archive:   archive,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		approvals: make(map[string]string),
		now:       time.Now,
	}
}

// Create registers a new execution in the pending state.
func (c *Coordinator) Create(ctx context.Context, operation string) (execution.Execution, error) {
	if operation == "" {
		return execution.Execution{}, fmt.Errorf("%w: operation is required", domain.ErrValidation)
	}

	e := execution.New(uuid.NewString(), operation, c.now().UTC())
	if err := c.store.Put(ctx, e); err != nil {
		return execution.Execution{}, fmt.Errorf("store execution: %w", err)
	}

	if c.metrics != nil {
		c.metrics.ExecutionsStarted.Add(ctx, 1)
	}
	c.logger.InfoContext(ctx, "execution created", "execution_id", e.ID, "operation", operation)

	snap := e.Snapshot()
	c.notify(ctx, snap)
	return snap, nil
}

// Get returns a snapshot of the execution, or domain.ErrNotFound.
func (c *Coordinator) Get(ctx context.Context, id string) (execution.Execution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.store.Get(ctx, id)
	if err != nil {
		return execution.Execution{}, err
	}
	return e.Snapshot(), nil
}

// ListActive returns snapshots of all non-terminal executions.
func (c *Coordinator) ListActive(ctx context.Context) ([]execution.Execution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.ListActive(ctx)
}

// Advance moves an execution to a new non-terminal status.
func (c *Coordinator) Advance(ctx context.Context, id string, to execution.Status) (execution.Execution, error) {
	return c.mutate(ctx, id, func(e *execution.Execution) error {
		return e.TransitionTo(to, c.now().UTC())
	})
}

// SetProgress updates an execution's progress.
func (c *Coordinator) SetProgress(ctx context.Context, id string, progress int) (execution.Execution, error) {
	return c.mutate(ctx, id, func(e *execution.Execution) error {
		return e.SetProgress(progress, c.now().UTC())
	})
}

// RequireApproval suspends an execution pending external consent and
// returns the approval the caller must answer.
func (c *Coordinator) RequireApproval(ctx context.Context, id string, estimatedFee float64, riskLevel, description string) (execution.Approval, error) {
	approval := execution.Approval{
		ID:           uuid.NewString(),
		EstimatedFee: estimatedFee,
		RiskLevel:    riskLevel,
		Description:  description,
	}

	snap, err := c.mutate(ctx, id, func(e *execution.Execution) error {
		return e.RequireApproval(approval, c.now().UTC())
	})
	if err != nil {
		return execution.Approval{}, err
	}

	c.mu.Lock()
	c.approvals[approval.ID] = id
	c.mu.Unlock()

	if c.hub != nil {
		c.hub.BroadcastEvent(ctx, ws.EventApprovalNeeded, ws.ApprovalNeededEvent{
			ExecutionID:  snap.ID,
			ApprovalID:   approval.ID,
			EstimatedFee: approval.EstimatedFee,
			RiskLevel:    approval.RiskLevel,
			Description:  approval.Description,
		})
	}
	return approval, nil
}

// ResolveApproval answers a pending approval. Consent resumes the
// execution; refusal cancels it. The approval id is single-use.
func (c *Coordinator) ResolveApproval(ctx context.Context, approvalID string, approved bool) (execution.Execution, error) {
	c.mu.Lock()
	id, ok := c.approvals[approvalID]
	if ok {
		delete(c.approvals, approvalID)
	}
	c.mu.Unlock()

	if !ok {
		return execution.Execution{}, fmt.Errorf("%w: approval %s", domain.ErrNotFound, approvalID)
	}

	return c.mutate(ctx, id, func(e *execution.Execution) error {
		now := c.now().UTC()
		if !approved {
			return e.Cancel(now)
		}
		return e.Approve(now)
	})
}

// Complete marks an execution successful.
func (c *Coordinator) Complete(ctx context.Context, id string, result json.RawMessage) (execution.Execution, error) {
	return c.mutate(ctx, id, func(e *execution.Execution) error {
		return e.Complete(result, c.now().UTC())
	})
}

// Fail terminates an execution with an error message.
func (c *Coordinator) Fail(ctx context.Context, id, msg string) (execution.Execution, error) {
	return c.mutate(ctx, id, func(e *execution.Execution) error {
		return e.Fail(msg, c.now().UTC())
	})
}

// Cancel terminates a non-terminal execution. Cancelling a terminal
// execution returns domain.ErrTerminal.
func (c *Coordinator) Cancel(ctx context.Context, id string) (execution.Execution, error) {
	return c.mutate(ctx, id, func(e *execution.Execution) error {
		return e.Cancel(c.now().UTC())
	})
}

// mutate applies fn to the stored execution under the coordinator lock
// and fans out the resulting snapshot.
func (c *Coordinator) mutate(ctx context.Context, id string, fn func(*execution.Execution) error) (execution.Execution, error) {
	c.mu.Lock()

	e, err := c.store.Get(ctx, id)
	if err != nil {
		c.mu.Unlock()
		return execution.Execution{}, err
	}
	if err := fn(e); err != nil {
		c.mu.Unlock()
		return execution.Execution{}, err
	}
	if err := c.store.Put(ctx, e); err != nil {
		c.mu.Unlock()
		return execution.Execution{}, fmt.Errorf("store execution: %w", err)
	}
	snap := e.Snapshot()
	c.mu.Unlock()

	c.notify(ctx, snap)
	return snap, nil
}

// notify fans an execution snapshot out to the WebSocket hub, NATS and,
// for terminal states, the archive. All channels are best-effort; a
// failed observer never rolls back a transition.
func (c *Coordinator) notify(ctx context.Context, e execution.Execution) {
	ctx, span := otelad.StartExecutionSpan(ctx, e.ID, string(e.Status))
	defer span.End()

	if c.hub != nil {
		c.hub.BroadcastEvent(ctx, ws.EventExecutionStatus, ws.ExecutionStatusEvent{
			ExecutionID: e.ID,
			Operation:   e.Operation,
			Status:      string(e.Status),
			Progress:    e.Progress,
			Error:       e.Error,
		})
	}

	if c.queue != nil {
		payload := messagequeue.ExecutionStatusPayload{
			ExecutionID: e.ID,
			Operation:   e.Operation,
			Status:      string(e.Status),
			Progress:    e.Progress,
			Error:       e.Error,
		}
		data, err := json.Marshal(payload)
		if err == nil {
			if err := c.queue.Publish(ctx, messagequeue.SubjectExecutionStatus, data); err != nil {
				c.logger.WarnContext(ctx, "execution status publish failed",
					"execution_id", e.ID, "error", err)
			}
		}
	}

	if e.Status.IsTerminal() {
		if c.metrics != nil {
			c.metrics.ExecutionsTerminal.Add(ctx, 1)
		}
		if c.archive != nil {
			if err := c.archive.Save(ctx, e); err != nil {
				c.logger.WarnContext(ctx, "execution archive failed",
					"execution_id", e.ID, "error", err)
			}
		}
	}
}

// RunGC deletes terminal executions older than the configured TTL on a
// fixed interval, until ctx is cancelled. Approvals belonging to deleted
// executions are dropped with them.
func (c *Coordinator) RunGC(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Coordinator) sweep(ctx context.Context) {
	cutoff := c.now().Add(-c.cfg.TerminalTTL)

	c.mu.Lock()
	defer c.mu.Unlock()

	expired, err := c.store.ListExpired(ctx, cutoff)
	if err != nil {
		c.logger.WarnContext(ctx, "execution gc list failed", "error", err)
		return
	}

	for _, id := range expired {
		if err := c.store.Delete(ctx, id); err != nil {
			c.logger.WarnContext(ctx, "execution gc delete failed", "execution_id", id, "error", err)
			continue
		}
		for approvalID, execID := range c.approvals {
			if execID == id {
				delete(c.approvals, approvalID)
			}
		}
	}

	if len(expired) > 0 {
		c.logger.DebugContext(ctx, "execution gc swept", "deleted", len(expired))
	}
}
