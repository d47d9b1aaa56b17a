// Package storage persists boards, lists, tasks and subtasks in SQL and wraps
// them with Redis caching and Azure sinks.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/emna-belhajltaief/smart-task-manager/board"
	"github.com/emna-belhajltaief/smart-task-manager/domain"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("not found")

// Storage provides typed repositories over one SQL database.
type Storage struct {
	db      *sql.DB
	dialect string
	now     func() time.Time

	Boards      *BoardRepository
	Lists       *ListRepository
	Tasks       *TaskRepository
	Subtasks    *SubtaskRepository
	Activity    *ActivityRepository
	Generations *GenerationRepository
	Vectors     *VectorRepository
}

// Open connects to the database. driver is "postgres" or "sqlite".
func Open(driver, dsn string) (*Storage, error) {
	switch driver {
	case "postgres":
	case "sqlite":
		dsn = withPragma(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == "sqlite" {
		// one connection keeps in-memory databases shared and serialises writers
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return New(db, driver), nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, dialect string) *Storage {
	s := &Storage{db: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
	s.Boards = &BoardRepository{s: s}
	s.Lists = &ListRepository{s: s}
	s.Tasks = &TaskRepository{s: s}
	s.Subtasks = &SubtaskRepository{s: s}
	s.Activity = &ActivityRepository{s: s}
	s.Generations = &GenerationRepository{s: s}
	s.Vectors = &VectorRepository{s: s}
	return s
}

func withPragma(dsn string) string {
	if strings.Contains(dsn, "_pragma=foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders into the numbered form postgres expects.
func (s *Storage) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Storage) exec(ctx context.Context, q execer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Storage) query(ctx context.Context, q execer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Storage) queryRow(ctx context.Context, q execer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.rebind(query), args...)
}

// inTx runs fn in a transaction, committing when fn returns nil.
func (s *Storage) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// expectOne turns a zero-row update or delete into ErrNotFound.
func expectOne(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

// LoadBoard reads the ordered state of a board: its lists, their tasks and
// the tasks' subtasks.
func (s *Storage) LoadBoard(ctx context.Context, boardID string) (board.State, error) {
	if _, err := s.Boards.Get(ctx, boardID); err != nil {
		return board.State{}, err
	}
	lists, err := s.Lists.ByBoard(ctx, boardID)
	if err != nil {
		return board.State{}, err
	}
	tasks, err := s.Tasks.ByBoard(ctx, boardID)
	if err != nil {
		return board.State{}, err
	}
	subtasks, err := s.Subtasks.ByBoard(ctx, boardID)
	if err != nil {
		return board.State{}, err
	}

	byTask := make(map[string][]domain.Subtask)
	for _, st := range subtasks {
		byTask[st.TaskID] = append(byTask[st.TaskID], st)
	}
	byList := make(map[string][]domain.Task)
	for _, t := range tasks {
		t.Subtasks = byTask[t.ID]
		byList[t.ListID] = append(byList[t.ListID], t)
	}
	for i := range lists {
		lists[i].Tasks = byList[lists[i].ID]
		if lists[i].Tasks == nil {
			lists[i].Tasks = []domain.Task{}
		}
	}
	return board.NewState(boardID, lists), nil
}

// ApplyPositions writes every row of change in one transaction. A row that
// does not belong to boardID aborts the whole batch.
func (s *Storage) ApplyPositions(ctx context.Context, boardID string, change board.Change) error {
	if change.Empty() {
		return nil
	}
	now := s.now()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, l := range change.Lists {
			res, err := s.exec(ctx, tx,
				`UPDATE lists SET position = ? WHERE id = ? AND board_id = ?`,
				l.Position, l.ID, boardID)
			if err != nil {
				return fmt.Errorf("update list %s position: %w", l.ID, err)
			}
			if err := expectOne(res, "list", l.ID); err != nil {
				return err
			}
		}
		for _, t := range change.Tasks {
			res, err := s.exec(ctx, tx,
				`UPDATE tasks SET list_id = ?, position = ?, updated_at = ?
				 WHERE id = ?
				   AND list_id IN (SELECT id FROM lists WHERE board_id = ?)
				   AND EXISTS (SELECT 1 FROM lists WHERE id = ? AND board_id = ?)`,
				t.ListID, t.Position, now, t.ID, boardID, t.ListID, boardID)
			if err != nil {
				return fmt.Errorf("update task %s position: %w", t.ID, err)
			}
			if err := expectOne(res, "task", t.ID); err != nil {
				return err
			}
		}
		res, err := s.exec(ctx, tx, `UPDATE boards SET updated_at = ? WHERE id = ?`, now, boardID)
		if err != nil {
			return fmt.Errorf("touch board: %w", err)
		}
		return expectOne(res, "board", boardID)
	})
}
