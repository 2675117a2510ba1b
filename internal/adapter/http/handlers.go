package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/solsuite/treasuryd/internal/domain/execution"
	"github.com/solsuite/treasuryd/internal/domain/plan"
	"github.com/solsuite/treasuryd/internal/poll"
	"github.com/solsuite/treasuryd/internal/service"
)

// Handlers bundles the services exposed over HTTP.
type Handlers struct {
	Planner    *service.Orchestrator
	Executions *service.Coordinator

	// Poll settings for the blocking wait endpoint.
	PollInterval    time.Duration
	PollMaxAttempts int
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(planner *service.Orchestrator, executions *service.Coordinator) *Handlers {
	return &Handlers{
		Planner:         planner,
		Executions:      executions,
		PollInterval:    time.Second,
		PollMaxAttempts: 60,
	}
}

// OrchestratePlan runs a plan. The response is always 200 with ok:true;
// step-level failure shows up inside the result, never as an HTTP error.
func (h *Handlers) OrchestratePlan(w http.ResponseWriter, r *http.Request) {
	var req plan.OrchestrateRequest
	// Malformed bodies still get a plan: decode failures leave req empty
	// and the orchestrator degrades gracefully.
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	result := h.Planner.Run(r.Context(), req)
	writeJSON(w, http.StatusOK, result)
}

type createExecutionRequest struct {
	Operation string `json:"operation"`
}

// CreateExecution registers a new pending execution.
func (h *Handlers) CreateExecution(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[createExecutionRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}

	e, err := h.Executions.Create(r.Context(), req.Operation)
	if err != nil {
		writeDomainError(w, err, "execution not created")
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// GetExecution returns a snapshot of one execution.
func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	e, err := h.Executions.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// ListExecutions returns all non-terminal executions.
func (h *Handlers) ListExecutions(w http.ResponseWriter, r *http.Request) {
	list, err := h.Executions.ListActive(r.Context())
	if err != nil {
		writeDomainError(w, err, "executions not listed")
		return
	}
	if list == nil {
		list = []execution.Execution{}
	}
	writeJSON(w, http.StatusOK, list)
}

// WaitExecution blocks until the execution turns terminal or the polling
// budget runs out. A poll timeout is reported as 200 with the last
// snapshot; the execution itself is untouched.
func (h *Handlers) WaitExecution(w http.ResponseWriter, r *http.Request) {
	watcher := poll.NewWatcher(h.Executions, h.PollInterval, h.PollMaxAttempts)

	e, err := watcher.Wait(r.Context(), urlParam(r, "id"))
	if err != nil && !errorsIsTimeout(err) {
		writeDomainError(w, err, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// CancelExecution cancels a non-terminal execution. Cancelling a
// terminal execution is a 409, not a silent overwrite.
func (h *Handlers) CancelExecution(w http.ResponseWriter, r *http.Request) {
	e, err := h.Executions.Cancel(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type advanceRequest struct {
	Status   string `json:"status"`
	Progress *int   `json:"progress,omitempty"`
}

// AdvanceExecution moves an execution to a new non-terminal status and,
// optionally, updates its progress. Terminal statuses have dedicated
// endpoints carrying their required payloads.
func (h *Handlers) AdvanceExecution(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[advanceRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	id := urlParam(r, "id")

	if execution.Status(req.Status).IsTerminal() {
		writeError(w, http.StatusBadRequest,
			"status "+req.Status+" is terminal, use the complete, fail or cancel endpoints")
		return
	}

	e, err := h.Executions.Advance(r.Context(), id, execution.Status(req.Status))
	if err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	if req.Progress != nil {
		if e, err = h.Executions.SetProgress(r.Context(), id, *req.Progress); err != nil {
			writeDomainError(w, err, "execution not found")
			return
		}
	}
	writeJSON(w, http.StatusOK, e)
}

type requireApprovalRequest struct {
	EstimatedFee float64 `json:"estimated_fee"`
	RiskLevel    string  `json:"risk_level"`
	Description  string  `json:"description"`
}

// RequireApproval suspends an execution pending external consent.
func (h *Handlers) RequireApproval(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[requireApprovalRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}

	approval, err := h.Executions.RequireApproval(r.Context(), urlParam(r, "id"),
		req.EstimatedFee, req.RiskLevel, req.Description)
	if err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

type resolveApprovalRequest struct {
	ApprovalID string `json:"approval_id"`
	Approved   bool   `json:"approved"`
}

// ResolveApproval answers a pending approval.
func (h *Handlers) ResolveApproval(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[resolveApprovalRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if req.ApprovalID == "" {
		writeError(w, http.StatusBadRequest, "approval_id is required")
		return
	}

	e, err := h.Executions.ResolveApproval(r.Context(), req.ApprovalID, req.Approved)
	if err != nil {
		writeDomainError(w, err, "approval not found")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type completeRequest struct {
	Result json.RawMessage `json:"result,omitempty"`
}

// CompleteExecution marks an execution successful.
func (h *Handlers) CompleteExecution(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[completeRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}

	e, err := h.Executions.Complete(r.Context(), urlParam(r, "id"), req.Result)
	if err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type failRequest struct {
	Error string `json:"error"`
}

// FailExecution terminates an execution with an error message.
func (h *Handlers) FailExecution(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[failRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}

	e, err := h.Executions.Fail(r.Context(), urlParam(r, "id"), req.Error)
	if err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func errorsIsTimeout(err error) bool {
	return errors.Is(err, poll.ErrTimeout)
}
