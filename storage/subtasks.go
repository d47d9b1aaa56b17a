package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/emna-belhajltaief/smart-task-manager/domain"
)

// SubtaskRepository stores subtasks.
type SubtaskRepository struct {
	s *Storage
}

const subtaskColumns = `st.id, st.task_id, st.title, st.is_completed, st.position, st.created_at`

func scanSubtask(r rowScanner) (domain.Subtask, error) {
	var st domain.Subtask
	if err := r.Scan(&st.ID, &st.TaskID, &st.Title, &st.IsCompleted, &st.Position, &st.CreatedAt); err != nil {
		return domain.Subtask{}, err
	}
	return st, nil
}

func (r *SubtaskRepository) selectSubtasks(ctx context.Context, query string, args ...any) ([]domain.Subtask, error) {
	rows, err := r.s.query(ctx, r.s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select subtasks: %w", err)
	}
	defer rows.Close()
	out := []domain.Subtask{}
	for rows.Next() {
		st, err := scanSubtask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subtask: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ByTask returns a task's subtasks ordered by position.
func (r *SubtaskRepository) ByTask(ctx context.Context, taskID string) ([]domain.Subtask, error) {
	return r.selectSubtasks(ctx,
		`SELECT `+subtaskColumns+` FROM subtasks st WHERE st.task_id = ? ORDER BY st.position, st.created_at`, taskID)
}

// ByBoard returns every subtask on a board.
func (r *SubtaskRepository) ByBoard(ctx context.Context, boardID string) ([]domain.Subtask, error) {
	return r.selectSubtasks(ctx,
		`SELECT `+subtaskColumns+` FROM subtasks st
		 JOIN tasks t ON t.id = st.task_id
		 JOIN lists l ON l.id = t.list_id
		 WHERE l.board_id = ?
		 ORDER BY st.task_id, st.position, st.created_at`, boardID)
}

// Get returns a subtask by id.
func (r *SubtaskRepository) Get(ctx context.Context, id string) (domain.Subtask, error) {
	st, err := scanSubtask(r.s.queryRow(ctx, r.s.db,
		`SELECT `+subtaskColumns+` FROM subtasks st WHERE st.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Subtask{}, fmt.Errorf("subtask %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Subtask{}, fmt.Errorf("select subtask: %w", err)
	}
	return st, nil
}

// Insert appends a subtask to its task. The position is the current number
// of subtasks, counted in the same transaction.
func (r *SubtaskRepository) Insert(ctx context.Context, taskID, title string) (domain.Subtask, error) {
	st := domain.Subtask{ID: uuid.NewString(), TaskID: taskID, Title: title, CreatedAt: r.s.now()}
	err := r.s.inTx(ctx, func(tx *sql.Tx) error {
		if err := r.s.queryRow(ctx, tx, `SELECT COUNT(*) FROM subtasks WHERE task_id = ?`, taskID).Scan(&st.Position); err != nil {
			return fmt.Errorf("count subtasks: %w", err)
		}
		_, err := r.s.exec(ctx, tx,
			`INSERT INTO subtasks (id, task_id, title, is_completed, position, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			st.ID, st.TaskID, st.Title, st.IsCompleted, st.Position, st.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert subtask: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Subtask{}, err
	}
	return st, nil
}

// Update writes the subtask's title and completion flag.
func (r *SubtaskRepository) Update(ctx context.Context, st domain.Subtask) error {
	res, err := r.s.exec(ctx, r.s.db,
		`UPDATE subtasks SET title = ?, is_completed = ? WHERE id = ?`, st.Title, st.IsCompleted, st.ID)
	if err != nil {
		return fmt.Errorf("update subtask: %w", err)
	}
	return expectOne(res, "subtask", st.ID)
}

// Delete removes a subtask and closes the gap it leaves.
func (r *SubtaskRepository) Delete(ctx context.Context, id string) error {
	st, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return r.s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := r.s.exec(ctx, tx, `DELETE FROM subtasks WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete subtask: %w", err)
		}
		if err := expectOne(res, "subtask", id); err != nil {
			return err
		}
		_, err = r.s.exec(ctx, tx,
			`UPDATE subtasks SET position = position - 1 WHERE task_id = ? AND position > ?`, st.TaskID, st.Position)
		if err != nil {
			return fmt.Errorf("renumber subtasks: %w", err)
		}
		return nil
	})
}
