package model

import (
	"time"

	"github.com/google/uuid"
)

// TraceStatus is the lifecycle state of a pipeline trace.
// in_progress → completed | failed, one-way.
type TraceStatus string

const (
	TraceInProgress TraceStatus = "in_progress"
	TraceCompleted  TraceStatus = "completed"
	TraceFailed     TraceStatus = "failed"
)

// Span is a timed sub-operation recorded within a trace. Append-only;
// insertion order is temporal order.
type Span struct {
	Name       string         `json:"name"`
	AgentType  string         `json:"agent_type"`
	DurationMS float64        `json:"duration_ms"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Trace is one end-to-end pipeline execution.
type Trace struct {
	TraceID   uuid.UUID      `json:"trace_id"`
	Operation string         `json:"operation"`
	StartTime time.Time      `json:"start_time"`
	EndTime   *time.Time     `json:"end_time,omitempty"`
	Spans     []Span         `json:"spans"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Status    TraceStatus    `json:"status"`
}

// TraceSummary aggregates trace counts for the monitoring API.
type TraceSummary struct {
	Total       int     `json:"total_traces"`
	Completed   int     `json:"completed"`
	InProgress  int     `json:"in_progress"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}
