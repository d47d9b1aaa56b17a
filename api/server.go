package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/emna-belhajltaief/smart-task-manager/ai"
	"github.com/emna-belhajltaief/smart-task-manager/board"
	"github.com/emna-belhajltaief/smart-task-manager/domain"
	"github.com/emna-belhajltaief/smart-task-manager/storage"
)

const maxBodySize = 64 * 1024 // 64 KiB

const userIDKey = "userID"

// streamRoute is the only route accepting the bearer token as a query
// parameter.
const streamRoute = "/api/boards/:id/stream"

var errEmptyBody = errors.New("empty body")

// Server holds the handler dependencies and per-board coordination state.
type Server struct {
	Deps

	locks  *boardLocks
	broker *updateBroker
}

// Register wires up all API routes on the provided Echo instance. The returned
// server's Notify should receive board updates published by other instances.
func Register(e *echo.Echo, d Deps) *Server {
	if d.Logger == nil {
		panic("Logger is not initialized")
	}
	if d.Auth == nil {
		panic("Authenticator is not initialized")
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.MatchCount <= 0 {
		d.MatchCount = 10
	}
	s := &Server{Deps: d, locks: newBoardLocks(), broker: newUpdateBroker()}

	e.GET("/healthz", healthz(s))

	g := e.Group("/api", GzipRequestMiddleware(), requireUser(d.Auth))
	g.GET("/boards", listBoards(s))
	g.POST("/boards", createBoard(s))
	g.GET("/boards/:id", getBoard(s))
	g.PATCH("/boards/:id/favorite", favoriteBoard(s))
	g.POST("/boards/:id/archive", archiveBoard(s))
	g.GET("/boards/:id/lists", getLists(s))
	g.POST("/boards/:id/lists", createList(s))
	g.PUT("/boards/:id/lists/order", reorderLists(s))
	g.POST("/boards/:id/drag-end", dragEnd(s))
	g.GET("/boards/:id/stream", streamBoard(s))

	g.PATCH("/lists/:id", renameList(s))
	g.DELETE("/lists/:id", deleteList(s))
	g.POST("/lists/:id/tasks", createTask(s))

	g.PATCH("/tasks/:id", updateTask(s))
	g.DELETE("/tasks/:id", deleteTask(s))
	g.POST("/tasks/:id/move", moveTask(s))
	g.POST("/tasks/:id/subtasks", createSubtask(s))

	g.PATCH("/subtasks/:id", updateSubtask(s))
	g.DELETE("/subtasks/:id", deleteSubtask(s))

	g.GET("/stats", getStats(s))
	g.GET("/activity", getActivity(s))

	g.POST("/ai/summarize", summarizeBoard(s))
	g.POST("/ai/generate-tasks", generateTasks(s))
	g.POST("/ai/embeddings", createEmbedding(s))
	g.POST("/ai/search", searchTasks(s))

	return s
}

// Notify wakes the live streams of boardID on this instance.
func (s *Server) Notify(boardID string) {
	s.broker.notify(boardID)
}

type errorResponse struct {
	Error string       `json:"error"`
	Board *board.State `json:"board,omitempty"`
}

func currentUser(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}

var strictJSON = sonic.Config{DisallowUnknownFields: true}.Froze()

// decode reads a JSON body of at most maxBodySize bytes, rejecting unknown
// fields.
func decode(c echo.Context, v any) error {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return errEmptyBody
	}
	return strictJSON.Unmarshal(data, v)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

// fail maps err onto a status code. Unexpected errors are logged and hidden
// from the client.
func (s *Server) fail(c echo.Context, err error) error {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: verr.Error()})
	case errors.Is(err, board.ErrNotPermutation), errors.Is(err, board.ErrDuplicateID):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, board.ErrListNotFound),
		errors.Is(err, board.ErrTaskNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, ai.ErrNotConfigured):
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "ai is not configured"})
	}
	s.Logger.WithFields(log.Fields{
		"method": c.Request().Method,
		"path":   c.Path(),
	}).WithError(err).Error("request failed")
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

// ownedBoard returns the board when it belongs to ownerID. Boards of other
// users are reported as missing.
func (s *Server) ownedBoard(ctx context.Context, ownerID, boardID string) (domain.Board, error) {
	b, err := s.Boards.Get(ctx, boardID)
	if err != nil {
		return domain.Board{}, err
	}
	if b.OwnerID != ownerID {
		return domain.Board{}, storage.ErrNotFound
	}
	return b, nil
}

func (s *Server) ownedList(ctx context.Context, ownerID, listID string) (domain.List, error) {
	l, err := s.Lists.Get(ctx, listID)
	if err != nil {
		return domain.List{}, err
	}
	if _, err := s.ownedBoard(ctx, ownerID, l.BoardID); err != nil {
		return domain.List{}, err
	}
	return l, nil
}

func (s *Server) ownedTask(ctx context.Context, ownerID, taskID string) (string, error) {
	boardID, err := s.Tasks.BoardID(ctx, taskID)
	if err != nil {
		return "", err
	}
	if _, err := s.ownedBoard(ctx, ownerID, boardID); err != nil {
		return "", err
	}
	return boardID, nil
}

// onBoard runs fn against a manager seeded with the current state of boardID
// while holding the board's lock. Every optimistic or reverted state the
// manager reports is cached and announced to live streams. A settled change
// is announced once more; failures evict the cache.
func (s *Server) onBoard(ctx context.Context, boardID string, fn func(*board.Manager) (board.Result, bool, error)) (board.Result, error) {
	unlock := s.locks.lock(boardID)
	defer unlock()

	state, err := s.States.LoadBoard(ctx, boardID)
	if err != nil {
		return board.Result{}, err
	}
	m := board.NewManager(state, s.States, s.Logger)
	m.Subscribe(func(st board.State) {
		s.States.Store(ctx, st)
		s.publish(ctx, boardID)
	})
	res, changed, err := fn(m)
	switch {
	case err != nil || res.Err != nil:
		s.States.Evict(ctx, boardID)
		if changed {
			s.publish(ctx, boardID)
		}
	case changed:
		s.States.Store(ctx, res.State)
		s.publish(ctx, boardID)
	}
	return res, err
}

// touched evicts the cached board after a content change that has no
// ordering command and announces it.
func (s *Server) touched(ctx context.Context, boardID string) {
	s.States.Evict(ctx, boardID)
	s.publish(ctx, boardID)
}

func (s *Server) publish(ctx context.Context, boardID string) {
	if s.Updates == nil {
		s.broker.notify(boardID)
		return
	}
	if err := s.Updates.Publish(ctx, boardID); err != nil {
		s.Logger.WithField("board_id", boardID).WithError(err).Warn("publish board update failed")
		s.broker.notify(boardID)
	}
}

func (s *Server) record(userID, boardID, entityType, entityID, action string) {
	if s.Activity == nil {
		return
	}
	s.Activity.Record(domain.Activity{
		UserID:     userID,
		BoardID:    boardID,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		CreatedAt:  s.Now(),
	})
}

// boardLocks serialises mutations of one board inside this process.
type boardLocks struct {
	mu sync.Mutex
	m  map[string]*boardLock
}

type boardLock struct {
	mu   sync.Mutex
	refs int
}

func newBoardLocks() *boardLocks {
	return &boardLocks{m: make(map[string]*boardLock)}
}

func (l *boardLocks) lock(boardID string) func() {
	l.mu.Lock()
	bl := l.m[boardID]
	if bl == nil {
		bl = &boardLock{}
		l.m[boardID] = bl
	}
	bl.refs++
	l.mu.Unlock()

	bl.mu.Lock()
	return func() {
		bl.mu.Unlock()
		l.mu.Lock()
		bl.refs--
		if bl.refs == 0 {
			delete(l.m, boardID)
		}
		l.mu.Unlock()
	}
}

func healthz(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.Health == nil {
			return c.NoContent(http.StatusOK)
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.Health.Ping(ctx); err != nil {
			s.Logger.WithError(err).Warn("health check failed")
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.NoContent(http.StatusOK)
	}
}
