package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/emna-belhajltaief/smart-task-manager/board"
	"github.com/emna-belhajltaief/smart-task-manager/domain"
	"github.com/emna-belhajltaief/smart-task-manager/storage"
)

type reorderRequest struct {
	ListIDs []string `json:"listIds"`
}

type moveRequest struct {
	ListID   string `json:"listId"`
	Position *int   `json:"position"`
}

type orderingResponse struct {
	Board    board.State   `json:"board"`
	Applied  bool          `json:"applied"`
	Change   *board.Change `json:"change,omitempty"`
	Replayed bool          `json:"replayed,omitempty"`
}

// orderingOp runs one ordering request against the board's manager. The
// boolean is false when the request is a no-op.
type orderingOp func(ctx context.Context, m *board.Manager) (board.Result, bool)

func dispatch(cmd board.Command) orderingOp {
	return func(ctx context.Context, m *board.Manager) (board.Result, bool) {
		return m.Dispatch(ctx, cmd), true
	}
}

func reorderLists(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in reorderRequest
		if err := decode(c, &in); err != nil || in.ListIDs == nil {
			return badRequest(c, "invalid body")
		}
		return s.runOrdering(c, "/api/boards/:id/lists/order", c.Param("id"), dispatch(board.ReorderLists{OrderedListIDs: in.ListIDs}))
	}
}

func moveTask(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in moveRequest
		if err := decode(c, &in); err != nil || in.ListID == "" || in.Position == nil {
			return badRequest(c, "invalid body")
		}
		taskID := c.Param("id")
		boardID, err := s.Tasks.BoardID(c.Request().Context(), taskID)
		if err != nil {
			return s.fail(c, err)
		}
		return s.runOrdering(c, "/api/tasks/:id/move", boardID, dispatch(board.MoveTask{TaskID: taskID, TargetListID: in.ListID, TargetPosition: *in.Position}))
	}
}

func dragEnd(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in board.DragEnd
		if err := decode(c, &in); err != nil || in.ActiveID == "" {
			return badRequest(c, "invalid body")
		}
		return s.runOrdering(c, "/api/boards/:id/drag-end", c.Param("id"), func(ctx context.Context, m *board.Manager) (board.Result, bool) {
			return m.HandleDragEnd(ctx, in)
		})
	}
}

// runOrdering applies op to boardID under the board lock. A request repeating
// an Idempotency-Key gets the response of the first request once it settled,
// and a 409 while it is still running.
func (s *Server) runOrdering(c echo.Context, route, boardID string, op orderingOp) (err error) {
	ctx := c.Request().Context()
	metrics, spanCtx := newBoardRequestMetrics(ctx, s.Logger, route)
	c.SetRequest(c.Request().WithContext(spanCtx))
	ctx = spanCtx
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()

	uid := currentUser(c)
	authStart := time.Now()
	_, ownErr := s.ownedBoard(ctx, uid, boardID)
	metrics.ObserveAuth(time.Since(authStart))
	if ownErr != nil {
		metrics.SetErrorStage("ownership")
		return s.fail(c, ownErr)
	}

	key := c.Request().Header.Get(headerIdempotencyKey)
	scope := boardID + ":" + c.Request().URL.Path
	if key != "" && s.Deduper != nil {
		added, dedupeErr := s.Deduper.Add(ctx, uid, scope, key)
		switch {
		case dedupeErr != nil:
			s.Logger.WithField("board_id", boardID).WithError(dedupeErr).Warn("idempotency check failed; processing anyway")
			key = ""
		case !added:
			metrics.SetReplayed()
			return s.replayOrdering(c, metrics, uid, scope, key)
		}
	} else {
		key = ""
	}

	var (
		res     board.Result
		applied bool
	)
	loadStart := time.Now()
	_, runErr := s.onBoard(ctx, boardID, func(m *board.Manager) (board.Result, bool, error) {
		metrics.ObserveLoad(time.Since(loadStart))
		persistStart := time.Now()
		res, applied = op(ctx, m)
		if res.Command != nil {
			metrics.SetCommand(res.Command.Name())
			metrics.ObservePersist(time.Since(persistStart))
		}
		return res, applied, nil
	})
	metrics.SetResult(res, applied)

	if runErr != nil || res.Err != nil {
		if key != "" {
			s.releaseKey(ctx, uid, scope, key)
		}
	}
	if runErr != nil {
		metrics.SetErrorStage("load")
		return s.fail(c, runErr)
	}
	if res.Err != nil {
		return s.orderingFailed(c, metrics, res)
	}

	if applied {
		s.recordOrdering(uid, boardID, res.Command)
	}
	out := orderingResponse{Board: res.State, Applied: applied}
	if applied {
		change := res.Change
		out.Change = &change
	}
	if key != "" {
		s.settleKey(ctx, uid, scope, key, out)
	}
	return c.JSON(http.StatusOK, out)
}

// replayOrdering answers a repeated Idempotency-Key with the stored response
// of the first request.
func (s *Server) replayOrdering(c echo.Context, metrics *boardRequestMetrics, uid, scope, key string) error {
	data, settled, err := s.Deduper.Outcome(c.Request().Context(), uid, scope, key)
	if err != nil {
		metrics.SetErrorStage("dedupe")
		return s.fail(c, err)
	}
	if !settled {
		metrics.SetErrorStage("in_progress")
		return c.JSON(http.StatusConflict, errorResponse{Error: "a request with this idempotency key is still in progress"})
	}
	var out orderingResponse
	if err := sonic.Unmarshal(data, &out); err != nil {
		metrics.SetErrorStage("dedupe")
		return s.fail(c, fmt.Errorf("decode stored outcome: %w", err))
	}
	out.Replayed = true
	return c.JSON(http.StatusOK, out)
}

// settleKey stores out under the key. When that fails the key is released
// so a retry is processed instead of waiting on a key that never settles.
func (s *Server) settleKey(ctx context.Context, uid, scope, key string, out orderingResponse) {
	ctx = context.WithoutCancel(ctx)
	data, err := sonic.Marshal(out)
	if err == nil {
		err = s.Deduper.Settle(ctx, uid, scope, key, data)
	}
	if err != nil {
		s.Logger.WithFields(log.Fields{"scope": scope, "key": key}).WithError(err).Warn("store idempotent outcome failed")
		s.releaseKey(ctx, uid, scope, key)
	}
}

func (s *Server) releaseKey(ctx context.Context, uid, scope, key string) {
	if err := s.Deduper.Remove(context.WithoutCancel(ctx), uid, scope, key); err != nil {
		s.Logger.WithFields(log.Fields{"scope": scope, "key": key}).WithError(err).Error("dedupe rollback failed")
	}
}

// orderingFailed reports a rejected or reverted command. Store rejections
// get a 409 and connection failures a 502, both with the reverted board.
func (s *Server) orderingFailed(c echo.Context, metrics *boardRequestMetrics, res board.Result) error {
	if !res.RolledBack && res.Change.Empty() {
		metrics.SetErrorStage("validate")
		return s.fail(c, res.Err)
	}
	metrics.SetErrorStage("persist")
	state := res.State
	status := http.StatusBadGateway
	if errors.Is(res.Err, storage.ErrNotFound) {
		status = http.StatusConflict
	}
	return c.JSON(status, errorResponse{Error: "board change was not saved", Board: &state})
}

func (s *Server) recordOrdering(uid, boardID string, cmd board.Command) {
	switch c := cmd.(type) {
	case board.ReorderLists:
		s.record(uid, boardID, domain.EntityBoard, boardID, domain.ActionReordered)
	case board.MoveTask:
		s.record(uid, boardID, domain.EntityTask, c.TaskID, domain.ActionMoved)
	}
}

func parsePositive(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be positive")
	}
	return n, nil
}
