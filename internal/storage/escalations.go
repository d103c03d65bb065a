package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/madoguchi/internal/escalation"
	"github.com/ashita-ai/madoguchi/internal/model"
)

const escalationColumns = `id, user_id, user_message, ai_response, intent, reason, status,
	 human_response, reviewed_by, notes, created_at, reviewed_at, resolved_at`

// InsertEscalation persists a new escalation record.
func (db *DB) InsertEscalation(ctx context.Context, rec model.EscalationRecord) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO escalations (`+escalationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.UserID, rec.UserMessage, rec.AIResponse, rec.Intent, rec.Reason, rec.Status,
		rec.HumanResponse, rec.ReviewedBy, rec.Notes, rec.CreatedAt, rec.ReviewedAt, rec.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert escalation: %w", err)
	}
	return nil
}

// FindEscalation returns the record with the given id, or model.ErrNotFound.
func (db *DB) FindEscalation(ctx context.Context, id uuid.UUID) (model.EscalationRecord, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+escalationColumns+` FROM escalations WHERE id = $1`, id)
	rec, err := scanEscalation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.EscalationRecord{}, model.ErrNotFound
		}
		return model.EscalationRecord{}, fmt.Errorf("storage: find escalation: %w", err)
	}
	return rec, nil
}

// FindEscalationsByStatus returns all records in the given status, newest first.
func (db *DB) FindEscalationsByStatus(ctx context.Context, status model.EscalationStatus) ([]model.EscalationRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+escalationColumns+` FROM escalations
		 WHERE status = $1
		 ORDER BY created_at DESC`,
		status,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: find escalations by status: %w", err)
	}
	defer rows.Close()

	var recs []model.EscalationRecord
	for rows.Next() {
		rec, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan escalation: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: find escalations by status: %w", err)
	}
	return recs, nil
}

// Transition applies update to the record only if its current status is one
// of from. The guard lives in the UPDATE's WHERE clause, so two concurrent
// reviewers serialize at the row: the loser matches zero rows and gets
// model.ErrInvalidState. human_response and reviewed_by are written at most
// once per record, at the first transition that supplies them.
func (db *DB) Transition(ctx context.Context, id uuid.UUID, from []model.EscalationStatus, update escalation.Update) error {
	fromStrs := make([]string, len(from))
	for i, st := range from {
		fromStrs[i] = string(st)
	}

	var tag int64
	err := withRetry(ctx, 3, 10*time.Millisecond, func() error {
		res, err := db.pool.Exec(ctx,
			`UPDATE escalations SET
				status = $2,
				human_response = COALESCE(human_response, $3),
				reviewed_by = COALESCE(reviewed_by, $4),
				notes = COALESCE($5, notes),
				reviewed_at = COALESCE(reviewed_at, $6),
				resolved_at = COALESCE(resolved_at, $7)
			 WHERE id = $1 AND status = ANY($8)`,
			id, update.Status, update.HumanResponse, update.ReviewedBy,
			update.Notes, update.ReviewedAt, update.ResolvedAt, fromStrs,
		)
		if err != nil {
			return err
		}
		tag = res.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage: transition escalation: %w", err)
	}
	if tag > 0 {
		return nil
	}

	// Zero rows: either the record is missing or the CAS lost.
	var current model.EscalationStatus
	err = db.pool.QueryRow(ctx, `SELECT status FROM escalations WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("storage: transition escalation: %w", err)
	}
	return fmt.Errorf("%w: escalation is %s", model.ErrInvalidState, current)
}

// InsertFeedback records one reviewer action for the audit trail.
func (db *DB) InsertFeedback(ctx context.Context, fb escalation.Feedback) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO human_feedback (escalation_id, reviewer, action, response, original_response, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		fb.EscalationID, fb.Reviewer, fb.Action, fb.Response, fb.OriginalResponse, fb.Notes, fb.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert feedback: %w", err)
	}
	return nil
}

// CountByStatus aggregates escalation counts per status.
func (db *DB) CountByStatus(ctx context.Context) (escalation.Stats, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT status, count(*) FROM escalations GROUP BY status`)
	if err != nil {
		return escalation.Stats{}, fmt.Errorf("storage: count escalations: %w", err)
	}
	defer rows.Close()

	stats := escalation.Stats{ByStatus: make(map[model.EscalationStatus]int64)}
	for rows.Next() {
		var (
			status model.EscalationStatus
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return escalation.Stats{}, fmt.Errorf("storage: scan escalation count: %w", err)
		}
		stats.ByStatus[status] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return escalation.Stats{}, fmt.Errorf("storage: count escalations: %w", err)
	}
	return stats, nil
}

func scanEscalation(row pgx.Row) (model.EscalationRecord, error) {
	var rec model.EscalationRecord
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.UserMessage, &rec.AIResponse, &rec.Intent, &rec.Reason, &rec.Status,
		&rec.HumanResponse, &rec.ReviewedBy, &rec.Notes, &rec.CreatedAt, &rec.ReviewedAt, &rec.ResolvedAt,
	)
	return rec, err
}
