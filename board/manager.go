package board

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Persister writes a change for a board in a single batch. Either every row
// of the change is written or none is.
type Persister interface {
	ApplyPositions(ctx context.Context, boardID string, change Change) error
}

// Observer is notified with the state after each optimistic apply and after
// each rollback.
type Observer func(State)

// Result is the outcome of one dispatched command.
type Result struct {
	// State is the manager's state after the command settled.
	State State
	// Command is the dispatched command, nil when nothing was dispatched.
	Command Command
	Change  Change
	// Err is set when the command was rejected or could not be persisted.
	Err error
	// RolledBack reports that the optimistic state was reverted.
	RolledBack bool
}

// Manager applies ordering commands optimistically and reverts them when the
// store rejects the write.
type Manager struct {
	store          Persister
	logger         *log.Logger
	persistTimeout time.Duration

	mu        sync.Mutex
	state     State
	version   uint64
	stale     bool
	observers []Observer
}

// NewManager creates a manager for state backed by store.
func NewManager(state State, store Persister, logger *log.Logger) *Manager {
	if logger == nil {
		panic("board.NewManager: logger is nil")
	}
	return &Manager{
		store:          store,
		logger:         logger,
		persistTimeout: 10 * time.Second,
		state:          state.Clone(),
	}
}

// State returns a copy of the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Stale reports whether a failed write could not be reverted because a newer
// command had already been applied. A stale manager should be reloaded.
func (m *Manager) Stale() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stale
}

// Subscribe registers fn for state notifications.
func (m *Manager) Subscribe(fn Observer) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// Dispatch applies cmd to the state, then persists the resulting change. The
// new state is visible to State callers before the write completes.
func (m *Manager) Dispatch(ctx context.Context, cmd Command) Result {
	m.mu.Lock()
	next, change, err := Reduce(m.state, cmd)
	if err != nil {
		cur := m.state.Clone()
		m.mu.Unlock()
		return Result{State: cur, Command: cmd, Err: err}
	}
	snapshot := m.state
	m.state = next
	m.version++
	version := m.version
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	notify(observers, next)

	if change.Empty() || m.store == nil {
		return Result{State: next.Clone(), Command: cmd, Change: change}
	}

	pctx, cancel := context.WithTimeout(ctx, m.persistTimeout)
	perr := m.store.ApplyPositions(pctx, next.BoardID, change)
	cancel()
	if perr == nil {
		return Result{State: next.Clone(), Command: cmd, Change: change}
	}

	m.logger.WithFields(log.Fields{
		"board_id": next.BoardID,
		"command":  cmd.Name(),
		"lists":    len(change.Lists),
		"tasks":    len(change.Tasks),
	}).WithError(perr).Error("persist board change failed")

	m.mu.Lock()
	rolledBack := false
	if m.version == version {
		m.state = snapshot
		m.version++
		rolledBack = true
	} else {
		m.stale = true
	}
	cur := m.state.Clone()
	m.mu.Unlock()

	if rolledBack {
		notify(observers, cur)
	}
	return Result{
		State:      cur,
		Command:    cmd,
		Change:     change,
		Err:        fmt.Errorf("persist %s: %w", cmd.Name(), perr),
		RolledBack: rolledBack,
	}
}

// HandleDragEnd resolves a drag gesture and dispatches the resulting command.
// The boolean is false when the gesture was a no-op and nothing was written.
func (m *Manager) HandleDragEnd(ctx context.Context, ev DragEnd) (Result, bool) {
	cmd, ok := m.State().ResolveDragEnd(ev)
	if !ok {
		return Result{State: m.State()}, false
	}
	return m.Dispatch(ctx, cmd), true
}

func notify(observers []Observer, s State) {
	for _, fn := range observers {
		fn(s.Clone())
	}
}
