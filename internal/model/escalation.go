// Package model defines the domain types shared across the madoguchi server:
// escalation records, conversation turns, pipeline traces, users, and the
// HTTP API envelope.
package model

import (
	"time"

	"github.com/google/uuid"
)

// EscalationStatus is the lifecycle state of an escalation record.
//
// Transitions are monotonic: pending → approved | rejected | edited → resolved,
// or pending → resolved directly. A record never returns to pending and is
// never deleted (append-only audit trail).
type EscalationStatus string

const (
	StatusPending  EscalationStatus = "pending"
	StatusApproved EscalationStatus = "approved"
	StatusRejected EscalationStatus = "rejected"
	StatusEdited   EscalationStatus = "edited"
	StatusResolved EscalationStatus = "resolved"
)

// ReviewStatuses are the statuses a reviewer action may set.
var ReviewStatuses = map[EscalationStatus]bool{
	StatusApproved: true,
	StatusRejected: true,
	StatusEdited:   true,
}

// Valid reports whether s is a known escalation status.
func (s EscalationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusEdited, StatusResolved:
		return true
	}
	return false
}

// EscalationRecord is a conversation turn flagged for human review.
//
// Invariant: a pending record has no HumanResponse/ReviewedBy; any other
// status has both populated. UserMessage, AIResponse, Intent, and Reason are
// immutable after creation.
type EscalationRecord struct {
	ID            uuid.UUID        `json:"id"`
	UserID        string           `json:"user_id"`
	UserMessage   string           `json:"user_message"`
	AIResponse    string           `json:"ai_response"`
	Intent        string           `json:"intent"`
	Reason        string           `json:"reason"`
	Status        EscalationStatus `json:"status"`
	HumanResponse *string          `json:"human_response,omitempty"`
	ReviewedBy    *string          `json:"reviewed_by,omitempty"`
	Notes         *string          `json:"notes,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	ReviewedAt    *time.Time       `json:"reviewed_at,omitempty"`
	ResolvedAt    *time.Time       `json:"resolved_at,omitempty"`
}

// CanTransition reports whether moving from the record's current status to
// target is a legal forward transition.
func (r EscalationRecord) CanTransition(target EscalationStatus) bool {
	switch {
	case ReviewStatuses[target]:
		// Reviewer actions only apply to records awaiting review.
		return r.Status == StatusPending
	case target == StatusResolved:
		// Anything short of resolved can be resolved; double-resolution is
		// rejected to preserve the audit trail.
		return r.Status != StatusResolved
	default:
		return false
	}
}
