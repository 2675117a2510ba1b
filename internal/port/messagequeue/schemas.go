package messagequeue

// ExecutionStatusPayload is the schema for executions.status messages.
type ExecutionStatusPayload struct {
	ExecutionID string `json:"execution_id"`
	Operation   string `json:"operation"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	Error       string `json:"error,omitempty"`
}

// PlanCompletedPayload is the schema for plans.completed messages.
type PlanCompletedPayload struct {
	RunID       string  `json:"run_id"`
	Steps       int     `json:"steps"`
	FailedSteps int     `json:"failed_steps"`
	FeesUSD     float64 `json:"fees_usd"`
	TimeMinutes float64 `json:"time_minutes"`
	DurationMs  int64   `json:"duration_ms"`
}
