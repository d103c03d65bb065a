package storage

import (
	"context"
	"fmt"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// InsertTurn persists one user message / agent response pair.
func (db *DB) InsertTurn(ctx context.Context, turn model.ConversationTurn) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO conversations (id, user_id, message, response, agent_type, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		turn.ID, turn.UserID, turn.Message, turn.Response, turn.AgentType, turn.Metadata, turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert turn: %w", err)
	}
	return nil
}

// RecentTurns returns the user's most recent turns, newest first,
// capped at limit.
func (db *DB) RecentTurns(ctx context.Context, userID string, limit int) ([]model.ConversationTurn, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, user_id, message, response, agent_type, metadata, created_at
		 FROM conversations
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: recent turns: %w", err)
	}
	defer rows.Close()

	var turns []model.ConversationTurn
	for rows.Next() {
		var t model.ConversationTurn
		if err := rows.Scan(&t.ID, &t.UserID, &t.Message, &t.Response, &t.AgentType, &t.Metadata, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: recent turns: %w", err)
	}
	return turns, nil
}
