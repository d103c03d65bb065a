// Package escalation manages the lifecycle of escalation records: creation
// when the pipeline flags a turn for human review, and the single reviewer
// transition (approve / reject / edit / resolve) out of pending.
//
// Records are append-only audit entries. Status moves strictly forward and
// at most one terminal transition wins; concurrent reviewers racing on the
// same record serialize through the store's compare-and-swap so the loser
// observes model.ErrInvalidState instead of double-applying.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// Update carries the mutable fields of one status transition.
// HumanResponse is applied only if the record has none yet (set exactly once,
// at the transition out of pending).
type Update struct {
	Status        model.EscalationStatus
	HumanResponse *string
	ReviewedBy    *string
	Notes         *string
	ReviewedAt    *time.Time
	ResolvedAt    *time.Time
}

// Feedback is the audit row recorded alongside each reviewer action.
type Feedback struct {
	EscalationID     uuid.UUID
	Reviewer         string
	Action           string // approved | rejected | edited | resolved
	Response         string
	OriginalResponse *string
	Notes            *string
	CreatedAt        time.Time
}

// Stats is the per-status breakdown of the escalation table.
type Stats struct {
	Total    int64                            `json:"total"`
	ByStatus map[model.EscalationStatus]int64 `json:"by_status"`
}

// Store is the persistence collaborator for escalation records.
//
// Transition must be atomic per record id: it applies update only when the
// record's current status is in from, returning model.ErrInvalidState
// otherwise and model.ErrNotFound for unknown ids.
type Store interface {
	InsertEscalation(ctx context.Context, rec model.EscalationRecord) error
	FindEscalation(ctx context.Context, id uuid.UUID) (model.EscalationRecord, error)
	FindEscalationsByStatus(ctx context.Context, status model.EscalationStatus) ([]model.EscalationRecord, error)
	Transition(ctx context.Context, id uuid.UUID, from []model.EscalationStatus, update Update) error
	InsertFeedback(ctx context.Context, fb Feedback) error
	CountByStatus(ctx context.Context) (Stats, error)
}

// Registry is the escalation lifecycle service.
type Registry struct {
	store  Store
	logger *slog.Logger
}

// NewRegistry creates a registry over the given store.
func NewRegistry(store Store, logger *slog.Logger) *Registry {
	return &Registry{store: store, logger: logger}
}

// Create allocates a new pending escalation record and persists it.
func (r *Registry) Create(ctx context.Context, userID, userMessage, aiResponse, intent, reason string) (model.EscalationRecord, error) {
	rec := model.EscalationRecord{
		ID:          uuid.New(),
		UserID:      userID,
		UserMessage: userMessage,
		AIResponse:  aiResponse,
		Intent:      intent,
		Reason:      reason,
		Status:      model.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.store.InsertEscalation(ctx, rec); err != nil {
		return model.EscalationRecord{}, fmt.Errorf("escalation: create: %w", err)
	}

	r.logger.Info("escalation created",
		"escalation_id", rec.ID,
		"intent", intent,
		"reason", reason,
	)
	return rec, nil
}

// Get returns the record for id. Malformed ids fail with model.ErrValidation,
// unknown ids with model.ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (model.EscalationRecord, error) {
	recID, err := parseID(id)
	if err != nil {
		return model.EscalationRecord{}, err
	}
	rec, err := r.store.FindEscalation(ctx, recID)
	if err != nil {
		return model.EscalationRecord{}, fmt.Errorf("escalation: get %s: %w", id, err)
	}
	return rec, nil
}

// ListPending returns pending records ordered by creation time, most recent
// first. Unbounded result size is a known scaling limit; callers should
// paginate upstream.
func (r *Registry) ListPending(ctx context.Context) ([]model.EscalationRecord, error) {
	recs, err := r.store.FindEscalationsByStatus(ctx, model.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("escalation: list pending: %w", err)
	}
	return recs, nil
}

// Review applies a reviewer action (approved, rejected, or edited) to a
// pending record, setting human_response, reviewed_by, and reviewed_at.
// A record past pending fails with model.ErrInvalidState.
func (r *Registry) Review(ctx context.Context, id, humanResponse, reviewedBy string, status model.EscalationStatus, notes *string) error {
	recID, err := parseID(id)
	if err != nil {
		return err
	}
	if !model.ReviewStatuses[status] {
		return fmt.Errorf("%w: %q is not a review status", model.ErrValidation, status)
	}

	now := time.Now().UTC()
	err = r.store.Transition(ctx, recID,
		[]model.EscalationStatus{model.StatusPending},
		Update{
			Status:        status,
			HumanResponse: &humanResponse,
			ReviewedBy:    &reviewedBy,
			Notes:         notes,
			ReviewedAt:    &now,
		},
	)
	if err != nil {
		return fmt.Errorf("escalation: review %s: %w", id, err)
	}

	fb := Feedback{
		EscalationID: recID,
		Reviewer:     reviewedBy,
		Action:       string(status),
		Response:     humanResponse,
		Notes:        notes,
		CreatedAt:    now,
	}
	// The AI response is immutable, so reading it after the transition still
	// yields the text the reviewer acted on.
	if status == model.StatusEdited {
		if rec, ferr := r.store.FindEscalation(ctx, recID); ferr == nil {
			orig := rec.AIResponse
			fb.OriginalResponse = &orig
		}
	}
	r.recordFeedback(ctx, fb)

	r.logger.Info("escalation reviewed",
		"escalation_id", id,
		"status", status,
		"reviewed_by", reviewedBy,
	)
	return nil
}

// Resolve moves a record to resolved and stamps resolved_at. Allowed from
// any non-resolved status; a second resolve fails with model.ErrInvalidState
// so silent double-resolution can never blur the audit trail. The human
// response is applied only when the record is leaving pending.
func (r *Registry) Resolve(ctx context.Context, id, humanResponse, resolvedBy string, notes *string) error {
	recID, err := parseID(id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	err = r.store.Transition(ctx, recID,
		[]model.EscalationStatus{model.StatusPending, model.StatusApproved, model.StatusRejected, model.StatusEdited},
		Update{
			Status:        model.StatusResolved,
			HumanResponse: &humanResponse,
			ReviewedBy:    &resolvedBy,
			Notes:         notes,
			ResolvedAt:    &now,
		},
	)
	if err != nil {
		return fmt.Errorf("escalation: resolve %s: %w", id, err)
	}

	r.recordFeedback(ctx, Feedback{
		EscalationID: recID,
		Reviewer:     resolvedBy,
		Action:       string(model.StatusResolved),
		Response:     humanResponse,
		Notes:        notes,
		CreatedAt:    now,
	})

	r.logger.Info("escalation resolved", "escalation_id", id, "resolved_by", resolvedBy)
	return nil
}

// Stats aggregates escalation counts per status for the review dashboard.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	stats, err := r.store.CountByStatus(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("escalation: stats: %w", err)
	}
	return stats, nil
}

// recordFeedback writes the reviewer audit row. Best-effort: a failure is
// logged, not surfaced — the transition itself already committed.
func (r *Registry) recordFeedback(ctx context.Context, fb Feedback) {
	if err := r.store.InsertFeedback(ctx, fb); err != nil {
		r.logger.Warn("feedback write failed",
			"escalation_id", fb.EscalationID,
			"action", fb.Action,
			"error", err,
		)
	}
}

func parseID(id string) (uuid.UUID, error) {
	recID, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed escalation id %q", model.ErrValidation, id)
	}
	return recID, nil
}
