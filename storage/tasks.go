package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/emna-belhajltaief/smart-task-manager/domain"
)

// TaskRepository stores tasks.
type TaskRepository struct {
	s *Storage
}

const taskColumns = `t.id, t.list_id, t.title, t.description, t.priority, t.status, t.due_date, t.position, t.is_ai_generated, t.completed_at, t.created_at, t.updated_at`

func scanTask(r rowScanner) (domain.Task, error) {
	var (
		t         domain.Task
		desc      sql.NullString
		due, done sql.NullTime
		priority  string
		status    string
	)
	if err := r.Scan(&t.ID, &t.ListID, &t.Title, &desc, &priority, &status, &due, &t.Position, &t.IsAIGenerated, &done, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.Task{}, err
	}
	t.Description = nullString(desc)
	t.Priority = domain.Priority(priority)
	t.Status = domain.Status(status)
	t.DueDate = nullTime(due)
	t.CompletedAt = nullTime(done)
	return t, nil
}

func (r *TaskRepository) selectTasks(ctx context.Context, where string, args ...any) ([]domain.Task, error) {
	rows, err := r.s.query(ctx, r.s.db,
		`SELECT `+taskColumns+` FROM tasks t JOIN lists l ON l.id = t.list_id WHERE `+where+` ORDER BY l.position, t.position, t.created_at`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("select tasks: %w", err)
	}
	defer rows.Close()
	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ByList returns a list's tasks ordered by position.
func (r *TaskRepository) ByList(ctx context.Context, listID string) ([]domain.Task, error) {
	return r.selectTasks(ctx, `t.list_id = ?`, listID)
}

// ByBoard returns every task of a board, ordered by list then position.
func (r *TaskRepository) ByBoard(ctx context.Context, boardID string) ([]domain.Task, error) {
	return r.selectTasks(ctx, `l.board_id = ?`, boardID)
}

// ByIDs returns the tasks with the given ids owned by ownerID.
func (r *TaskRepository) ByIDs(ctx context.Context, ownerID string, ids []string) ([]domain.Task, error) {
	if len(ids) == 0 {
		return []domain.Task{}, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, ownerID)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	return r.selectTasks(ctx,
		`l.board_id IN (SELECT id FROM boards WHERE owner_id = ?) AND t.id IN (`+placeholders+`)`,
		args...)
}

// ByOwner returns every task on the owner's non-archived boards.
func (r *TaskRepository) ByOwner(ctx context.Context, ownerID string) ([]domain.Task, error) {
	return r.selectTasks(ctx,
		`l.board_id IN (SELECT id FROM boards WHERE owner_id = ? AND is_archived = ?)`,
		ownerID, false)
}

// Get returns a task by id, without subtasks.
func (r *TaskRepository) Get(ctx context.Context, id string) (domain.Task, error) {
	t, err := scanTask(r.s.queryRow(ctx, r.s.db, `SELECT `+taskColumns+` FROM tasks t WHERE t.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("select task: %w", err)
	}
	return t, nil
}

// BoardID returns the board a task belongs to.
func (r *TaskRepository) BoardID(ctx context.Context, taskID string) (string, error) {
	var boardID string
	err := r.s.queryRow(ctx, r.s.db,
		`SELECT l.board_id FROM tasks t JOIN lists l ON l.id = t.list_id WHERE t.id = ?`, taskID).Scan(&boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("select task board: %w", err)
	}
	return boardID, nil
}

// Insert creates a task in listID at position.
func (r *TaskRepository) Insert(ctx context.Context, listID string, in domain.NewTask, position int, aiGenerated bool) (domain.Task, error) {
	now := r.s.now()
	t := domain.Task{
		ID:            uuid.NewString(),
		ListID:        listID,
		Title:         in.Title,
		Description:   in.Description,
		Priority:      in.Priority,
		Status:        in.Status,
		DueDate:       in.DueDate,
		Position:      position,
		IsAIGenerated: aiGenerated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if t.Status == domain.StatusDone {
		t.CompletedAt = &now
	}
	_, err := r.s.exec(ctx, r.s.db,
		`INSERT INTO tasks (id, list_id, title, description, priority, status, due_date, position, is_ai_generated, completed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ListID, t.Title, toNullString(t.Description), string(t.Priority), string(t.Status),
		toNullTime(t.DueDate), t.Position, t.IsAIGenerated, toNullTime(t.CompletedAt), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

// Update writes the task's content fields. Placement is only written in
// batches.
func (r *TaskRepository) Update(ctx context.Context, t domain.Task) error {
	res, err := r.s.exec(ctx, r.s.db,
		`UPDATE tasks SET title = ?, description = ?, priority = ?, status = ?, due_date = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		t.Title, toNullString(t.Description), string(t.Priority), string(t.Status),
		toNullTime(t.DueDate), toNullTime(t.CompletedAt), t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return expectOne(res, "task", t.ID)
}

// Delete removes a task and its subtasks.
func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	res, err := r.s.exec(ctx, r.s.db, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return expectOne(res, "task", id)
}

// Stats counts the owner's tasks by status and priority.
func (r *TaskRepository) Stats(ctx context.Context, ownerID string) (domain.Stats, error) {
	tasks, err := r.ByOwner(ctx, ownerID)
	if err != nil {
		return domain.Stats{}, err
	}
	now := r.s.now()
	stats := domain.NewStats()
	for _, t := range tasks {
		stats.Add(t, now)
	}
	return stats, nil
}
