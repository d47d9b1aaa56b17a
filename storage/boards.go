package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/emna-belhajltaief/smart-task-manager/domain"
)

// BoardRepository stores boards.
type BoardRepository struct {
	s *Storage
}

const boardColumns = `id, workspace_id, owner_id, name, description, is_favorite, is_archived, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBoard(r rowScanner) (domain.Board, error) {
	var b domain.Board
	var desc sql.NullString
	if err := r.Scan(&b.ID, &b.WorkspaceID, &b.OwnerID, &b.Name, &desc, &b.IsFavorite, &b.IsArchived, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return domain.Board{}, err
	}
	b.Description = nullString(desc)
	return b, nil
}

// ListByOwner returns the owner's non-archived boards, newest first.
func (r *BoardRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.Board, error) {
	rows, err := r.s.query(ctx, r.s.db,
		`SELECT `+boardColumns+` FROM boards WHERE owner_id = ? AND is_archived = ? ORDER BY created_at DESC, id`,
		ownerID, false)
	if err != nil {
		return nil, fmt.Errorf("select boards: %w", err)
	}
	defer rows.Close()
	boards := []domain.Board{}
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

// Get returns a board by id, archived or not.
func (r *BoardRepository) Get(ctx context.Context, id string) (domain.Board, error) {
	b, err := scanBoard(r.s.queryRow(ctx, r.s.db, `SELECT `+boardColumns+` FROM boards WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Board{}, fmt.Errorf("board %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Board{}, fmt.Errorf("select board: %w", err)
	}
	return b, nil
}

// Insert creates a board owned by ownerID.
func (r *BoardRepository) Insert(ctx context.Context, ownerID string, in domain.NewBoard) (domain.Board, error) {
	now := r.s.now()
	b := domain.Board{
		ID:          uuid.NewString(),
		WorkspaceID: in.WorkspaceID,
		OwnerID:     ownerID,
		Name:        in.Name,
		Description: in.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := r.s.exec(ctx, r.s.db,
		`INSERT INTO boards (`+boardColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.WorkspaceID, b.OwnerID, b.Name, toNullString(b.Description), b.IsFavorite, b.IsArchived, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return domain.Board{}, fmt.Errorf("insert board: %w", err)
	}
	return b, nil
}

// Update writes the mutable fields of b and bumps updated_at.
func (r *BoardRepository) Update(ctx context.Context, b domain.Board) (domain.Board, error) {
	b.UpdatedAt = r.s.now()
	res, err := r.s.exec(ctx, r.s.db,
		`UPDATE boards SET name = ?, description = ?, is_favorite = ?, is_archived = ?, updated_at = ? WHERE id = ?`,
		b.Name, toNullString(b.Description), b.IsFavorite, b.IsArchived, b.UpdatedAt, b.ID)
	if err != nil {
		return domain.Board{}, fmt.Errorf("update board: %w", err)
	}
	if err := expectOne(res, "board", b.ID); err != nil {
		return domain.Board{}, err
	}
	return b, nil
}

// Delete removes a board with everything below it.
func (r *BoardRepository) Delete(ctx context.Context, id string) error {
	res, err := r.s.exec(ctx, r.s.db, `DELETE FROM boards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete board: %w", err)
	}
	return expectOne(res, "board", id)
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
