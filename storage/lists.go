package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/emna-belhajltaief/smart-task-manager/domain"
)

// ListRepository stores lists.
type ListRepository struct {
	s *Storage
}

const listColumns = `id, board_id, name, position, created_at`

func scanList(r rowScanner) (domain.List, error) {
	var l domain.List
	if err := r.Scan(&l.ID, &l.BoardID, &l.Name, &l.Position, &l.CreatedAt); err != nil {
		return domain.List{}, err
	}
	return l, nil
}

// ByBoard returns a board's lists ordered by position, without tasks.
func (r *ListRepository) ByBoard(ctx context.Context, boardID string) ([]domain.List, error) {
	rows, err := r.s.query(ctx, r.s.db,
		`SELECT `+listColumns+` FROM lists WHERE board_id = ? ORDER BY position, created_at`, boardID)
	if err != nil {
		return nil, fmt.Errorf("select lists: %w", err)
	}
	defer rows.Close()
	lists := []domain.List{}
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		lists = append(lists, l)
	}
	return lists, rows.Err()
}

// Get returns a list by id, without tasks.
func (r *ListRepository) Get(ctx context.Context, id string) (domain.List, error) {
	l, err := scanList(r.s.queryRow(ctx, r.s.db, `SELECT `+listColumns+` FROM lists WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.List{}, fmt.Errorf("list %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.List{}, fmt.Errorf("select list: %w", err)
	}
	return l, nil
}

// Insert creates a list at position.
func (r *ListRepository) Insert(ctx context.Context, boardID, name string, position int) (domain.List, error) {
	l := domain.List{
		ID:        uuid.NewString(),
		BoardID:   boardID,
		Name:      name,
		Position:  position,
		Tasks:     []domain.Task{},
		CreatedAt: r.s.now(),
	}
	_, err := r.s.exec(ctx, r.s.db,
		`INSERT INTO lists (`+listColumns+`) VALUES (?, ?, ?, ?, ?)`,
		l.ID, l.BoardID, l.Name, l.Position, l.CreatedAt)
	if err != nil {
		return domain.List{}, fmt.Errorf("insert list: %w", err)
	}
	return l, nil
}

// Update writes the list's name. Positions are only written in batches.
func (r *ListRepository) Update(ctx context.Context, l domain.List) error {
	res, err := r.s.exec(ctx, r.s.db, `UPDATE lists SET name = ? WHERE id = ?`, l.Name, l.ID)
	if err != nil {
		return fmt.Errorf("update list: %w", err)
	}
	return expectOne(res, "list", l.ID)
}

// Delete removes a list and its tasks.
func (r *ListRepository) Delete(ctx context.Context, id string) error {
	res, err := r.s.exec(ctx, r.s.db, `DELETE FROM lists WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	return expectOne(res, "list", id)
}
