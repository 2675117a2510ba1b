// Package execution models the lifecycle of one long-running external
// operation as an explicit finite state machine, so callers can observe
// status without understanding the underlying operation's mechanics.
package execution

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/solsuite/treasuryd/internal/domain"
)

// Status represents the current state of an execution. Exactly one value
// holds at any time.
type Status string

const (
	StatusPending          Status = "pending"
	StatusRunning          Status = "running"
	StatusSimulation       Status = "simulation"
	StatusApprovalRequired Status = "approval_required"
	StatusApproved         Status = "approved"
	StatusExecuting        Status = "executing"
	StatusConfirming       Status = "confirming"
	StatusSuccess          Status = "success"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

// IsTerminal returns true once no further transitions are permitted.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// transitions is the allowed forward-transition table. Terminal states
// are entered only through Complete, Fail and Cancel; success appears
// here so Complete can check where it is legal from.
var transitions = map[Status][]Status{
	StatusPending:          {StatusRunning, StatusSimulation},
	StatusRunning:          {StatusSimulation, StatusExecuting, StatusConfirming, StatusSuccess},
	StatusSimulation:       {StatusApprovalRequired, StatusExecuting},
	StatusApprovalRequired: {StatusApproved},
	StatusApproved:         {StatusExecuting},
	StatusExecuting:        {StatusConfirming, StatusSuccess},
	StatusConfirming:       {StatusSuccess},
}

// Approval carries the metadata an external approver needs to decide
// without inspecting internals.
type Approval struct {
	ID           string  `json:"id"`
	EstimatedFee float64 `json:"estimated_fee"`
	RiskLevel    string  `json:"risk_level"`
	Description  string  `json:"description"`
}

// Execution is a tracked handle to a long-running external operation.
// It is mutated only by its owning coordinator; observers read snapshots.
type Execution struct {
	ID          string          `json:"id"`
	Operation   string          `json:"operation"`
	Status      Status          `json:"status"`
	Progress    int             `json:"progress"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Approval    *Approval       `json:"approval,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// New creates an execution in the pending state, the only valid initial state.
func New(id, operation string, now time.Time) *Execution {
	return &Execution{
		ID:        id,
		Operation: operation,
		Status:    StatusPending,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func canTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionTo moves the execution to a new non-terminal status.
// Terminal targets are rejected: success carries a result and failure a
// message, so those transitions go through Complete, Fail or Cancel.
func (e *Execution) TransitionTo(to Status, now time.Time) error {
	if e.Status.IsTerminal() {
		return fmt.Errorf("%w: %s cannot move to %s", domain.ErrTerminal, e.Status, to)
	}
	if to.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal, use complete, fail or cancel", domain.ErrValidation, to)
	}
	if !canTransition(e.Status, to) {
		return fmt.Errorf("%w: invalid transition %s -> %s", domain.ErrValidation, e.Status, to)
	}
	e.Status = to
	e.UpdatedAt = now
	return nil
}

// RequireApproval suspends the execution pending external consent.
// The approval metadata must be complete enough for an approver to decide.
func (e *Execution) RequireApproval(a Approval, now time.Time) error {
	if a.Description == "" || a.RiskLevel == "" {
		return fmt.Errorf("%w: approval requires risk_level and description", domain.ErrValidation)
	}
	if err := e.TransitionTo(StatusApprovalRequired, now); err != nil {
		return err
	}
	e.Approval = &a
	return nil
}

// Approve resumes a suspended execution after external consent.
func (e *Execution) Approve(now time.Time) error {
	if e.Status != StatusApprovalRequired {
		return fmt.Errorf("%w: cannot approve from %s", domain.ErrValidation, e.Status)
	}
	return e.TransitionTo(StatusApproved, now)
}

// Complete marks the execution successful and freezes it.
func (e *Execution) Complete(result json.RawMessage, now time.Time) error {
	if e.Status.IsTerminal() {
		return fmt.Errorf("%w: %s cannot complete", domain.ErrTerminal, e.Status)
	}
	if !canTransition(e.Status, StatusSuccess) {
		return fmt.Errorf("%w: invalid transition %s -> %s", domain.ErrValidation, e.Status, StatusSuccess)
	}
	e.Status = StatusSuccess
	e.Progress = 100
	e.Result = result
	e.complete(now)
	return nil
}

// Fail terminates the execution with a non-empty error message.
func (e *Execution) Fail(msg string, now time.Time) error {
	if msg == "" {
		return fmt.Errorf("%w: failure requires an error message", domain.ErrValidation)
	}
	if e.Status.IsTerminal() {
		return fmt.Errorf("%w: %s cannot fail", domain.ErrTerminal, e.Status)
	}
	e.Status = StatusFailed
	e.Error = msg
	e.complete(now)
	return nil
}

// Cancel terminates the execution from any non-terminal state.
// Cancelling a completed execution is rejected, not a silent overwrite.
func (e *Execution) Cancel(now time.Time) error {
	if e.Status.IsTerminal() {
		return fmt.Errorf("%w: %s cannot be cancelled", domain.ErrTerminal, e.Status)
	}
	e.Status = StatusCancelled
	e.complete(now)
	return nil
}

// SetProgress updates progress, clamped to [0,100]. Progress is frozen
// once the execution is terminal.
func (e *Execution) SetProgress(p int, now time.Time) error {
	if e.Status.IsTerminal() {
		return fmt.Errorf("%w: progress is frozen", domain.ErrTerminal)
	}
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	e.Progress = p
	e.UpdatedAt = now
	return nil
}

// complete freezes the execution at its current progress.
// Success sets progress to 100 in TransitionTo; failed and cancelled
// keep whatever progress was last reported.
func (e *Execution) complete(now time.Time) {
	e.UpdatedAt = now
	e.CompletedAt = &now
}

// Snapshot returns a copy safe to hand to observers.
func (e *Execution) Snapshot() Execution {
	cp := *e
	if e.Approval != nil {
		a := *e.Approval
		cp.Approval = &a
	}
	return cp
}
