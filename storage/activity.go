package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/emna-belhajltaief/smart-task-manager/domain"
)

// ActivityRepository stores the audit trail in the activity_logs table.
type ActivityRepository struct {
	s *Storage
}

// Record inserts a. Missing ids and timestamps are filled in.
func (r *ActivityRepository) Record(ctx context.Context, a domain.Activity) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.s.now()
	}
	_, err := r.s.exec(ctx, r.s.db,
		`INSERT INTO activity_logs (id, user_id, board_id, entity_type, entity_id, action, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, sql.NullString{String: a.BoardID, Valid: a.BoardID != ""}, a.EntityType, a.EntityID, a.Action, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// Recent returns the user's latest activity, newest first.
func (r *ActivityRepository) Recent(ctx context.Context, userID string, limit int) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.s.query(ctx, r.s.db,
		`SELECT id, user_id, board_id, entity_type, entity_id, action, created_at
		 FROM activity_logs WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("select activity: %w", err)
	}
	defer rows.Close()
	out := []domain.Activity{}
	for rows.Next() {
		var a domain.Activity
		var boardID sql.NullString
		if err := rows.Scan(&a.ID, &a.UserID, &boardID, &a.EntityType, &a.EntityID, &a.Action, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.BoardID = boardID.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// GenerationRepository stores AI calls in the ai_generations table.
type GenerationRepository struct {
	s *Storage
}

// Record inserts g. Missing ids and timestamps are filled in.
func (r *GenerationRepository) Record(ctx context.Context, g domain.AIGeneration) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = r.s.now()
	}
	_, err := r.s.exec(ctx, r.s.db,
		`INSERT INTO ai_generations (id, user_id, board_id, kind, prompt, response, tokens_used, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.UserID, sql.NullString{String: g.BoardID, Valid: g.BoardID != ""}, g.Kind, g.Prompt, g.Response, g.TokensUsed, g.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}
