package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventExecutionStatus = "execution.status"
	EventApprovalNeeded  = "execution.approval_needed"
	EventPlanCompleted   = "plan.completed"
)

// ExecutionStatusEvent is broadcast on every execution status transition.
type ExecutionStatusEvent struct {
	ExecutionID string `json:"execution_id"`
	Operation   string `json:"operation"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	Error       string `json:"error,omitempty"`
}

// ApprovalNeededEvent is broadcast when an execution suspends for consent.
type ApprovalNeededEvent struct {
	ExecutionID  string  `json:"execution_id"`
	ApprovalID   string  `json:"approval_id"`
	EstimatedFee float64 `json:"estimated_fee"`
	RiskLevel    string  `json:"risk_level"`
	Description  string  `json:"description"`
}

// PlanCompletedEvent is broadcast when an orchestration run finishes.
type PlanCompletedEvent struct {
	RunID       string  `json:"run_id"`
	Steps       int     `json:"steps"`
	FailedSteps int     `json:"failed_steps"`
	FeesUSD     float64 `json:"fees_usd"`
	TimeMinutes float64 `json:"time_minutes"`
	DurationMs  int64   `json:"duration_ms"`
}

// BroadcastEvent marshals a typed event and broadcasts it to all clients.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
