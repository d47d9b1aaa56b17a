package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/emna-belhajltaief/smart-task-manager/ai"
	"github.com/emna-belhajltaief/smart-task-manager/board"
	"github.com/emna-belhajltaief/smart-task-manager/domain"
	"github.com/emna-belhajltaief/smart-task-manager/storage"
)

// BoardStore persists boards.
type BoardStore interface {
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Board, error)
	Get(ctx context.Context, id string) (domain.Board, error)
	Insert(ctx context.Context, ownerID string, in domain.NewBoard) (domain.Board, error)
	Update(ctx context.Context, b domain.Board) (domain.Board, error)
}

// ListStore persists lists.
type ListStore interface {
	Get(ctx context.Context, id string) (domain.List, error)
	Insert(ctx context.Context, boardID, name string, position int) (domain.List, error)
	Update(ctx context.Context, l domain.List) error
	Delete(ctx context.Context, id string) error
}

// TaskStore persists tasks.
type TaskStore interface {
	Get(ctx context.Context, id string) (domain.Task, error)
	BoardID(ctx context.Context, taskID string) (string, error)
	ByBoard(ctx context.Context, boardID string) ([]domain.Task, error)
	ByIDs(ctx context.Context, ownerID string, ids []string) ([]domain.Task, error)
	Insert(ctx context.Context, listID string, in domain.NewTask, position int, aiGenerated bool) (domain.Task, error)
	Update(ctx context.Context, t domain.Task) error
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context, ownerID string) (domain.Stats, error)
}

// SubtaskStore persists subtasks.
type SubtaskStore interface {
	Get(ctx context.Context, id string) (domain.Subtask, error)
	Insert(ctx context.Context, taskID, title string) (domain.Subtask, error)
	Update(ctx context.Context, st domain.Subtask) error
	Delete(ctx context.Context, id string) error
}

// StateStore loads ordered board state and writes position batches. Store
// and Evict manage the cached copy.
type StateStore interface {
	board.Persister
	LoadBoard(ctx context.Context, boardID string) (board.State, error)
	Store(ctx context.Context, s board.State)
	Evict(ctx context.Context, boardID string)
}

// ActivityLog reads the audit trail.
type ActivityLog interface {
	Recent(ctx context.Context, userID string, limit int) ([]domain.Activity, error)
}

// GenerationLog records model calls.
type GenerationLog interface {
	Record(ctx context.Context, g domain.AIGeneration) error
}

// VectorIndex stores task embeddings and answers similarity queries.
type VectorIndex interface {
	Upsert(ctx context.Context, taskID string, vector []float32) error
	Search(ctx context.Context, ownerID string, query []float32, threshold float64, limit int) ([]storage.Match, error)
}

// Assistant is the language model used by the AI endpoints.
type Assistant interface {
	Complete(ctx context.Context, system, prompt string) (ai.Completion, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate ordering requests. Keys are
// scoped per user and per scope, the board and path of the request.
type Deduper interface {
	// Add claims the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, scope, key string) (bool, error)
	// Settle stores the response of the request that claimed the key.
	Settle(ctx context.Context, userID, scope, key string, outcome []byte) error
	// Outcome returns the stored response once the claiming request settled.
	Outcome(ctx context.Context, userID, scope, key string) ([]byte, bool, error)
	// Remove deletes a previously added key, used when processing fails.
	Remove(ctx context.Context, userID, scope, key string) error
}

// Publisher fans out "board changed" notifications to every instance.
type Publisher interface {
	Publish(ctx context.Context, boardID string) error
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the HTTP handlers. Deduper, Updates,
// Activity, Assistant, Vectors and Health are optional.
type Deps struct {
	Boards      BoardStore
	Lists       ListStore
	Tasks       TaskStore
	Subtasks    SubtaskStore
	States      StateStore
	ActivityLog ActivityLog
	Generations GenerationLog
	Vectors     VectorIndex
	Assistant   Assistant
	Auth        Authenticator
	Deduper     Deduper
	Updates     Publisher
	Activity    *ActivityRecorder
	Health      Pinger
	Logger      *log.Logger

	MatchThreshold float64
	MatchCount     int
	Now            func() time.Time
}
