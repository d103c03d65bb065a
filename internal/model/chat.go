package model

import (
	"time"

	"github.com/google/uuid"
)

// Agent type labels identify which pipeline stage produced a response or error.
const (
	AgentGuardrail  = "guardrail"
	AgentIntent     = "intent_agent"
	AgentSupport    = "support_agent"
	AgentEscalation = "escalation_agent"
)

// Intent labels form a fixed closed set. Classifier output outside this set
// is normalized to IntentOther; guardrail-blocked messages report IntentBlocked.
const (
	IntentGreeting  = "greeting"
	IntentQuestion  = "question"
	IntentComplaint = "complaint"
	IntentRefund    = "refund"
	IntentTechnical = "technical"
	IntentBilling   = "billing"
	IntentOther     = "other"
	IntentBlocked   = "blocked"
)

// ValidIntents is the closed set of classifier labels.
var ValidIntents = map[string]bool{
	IntentGreeting:  true,
	IntentQuestion:  true,
	IntentComplaint: true,
	IntentRefund:    true,
	IntentTechnical: true,
	IntentBilling:   true,
	IntentOther:     true,
}

// ConversationTurn is one persisted user message / agent response pair.
type ConversationTurn struct {
	ID        uuid.UUID      `json:"id"`
	UserID    string         `json:"user_id"`
	Message   string         `json:"message"`
	Response  string         `json:"response"`
	AgentType string         `json:"agent_type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ChatResult is the composed outcome of one pipeline execution.
// The pipeline always produces one, including on guardrail blocks and
// upstream failures.
type ChatResult struct {
	Response     string     `json:"response"`
	Intent       string     `json:"intent"`
	AgentType    string     `json:"agent_type"`
	Escalated    bool       `json:"escalated"`
	EscalationID *uuid.UUID `json:"escalation_id,omitempty"`
	TraceID      uuid.UUID  `json:"trace_id"`
	Timestamp    time.Time  `json:"timestamp"`
}
