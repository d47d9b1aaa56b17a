package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/emna-belhajltaief/smart-task-manager/ai"
	"github.com/emna-belhajltaief/smart-task-manager/board"
	"github.com/emna-belhajltaief/smart-task-manager/domain"
)

func createTask(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.NewTask
		if err := decode(c, &in); err != nil {
			return badRequest(c, "invalid body")
		}
		if err := in.Validate(); err != nil {
			return s.fail(c, err)
		}
		ctx := c.Request().Context()
		uid := currentUser(c)
		l, err := s.ownedList(ctx, uid, c.Param("id"))
		if err != nil {
			return s.fail(c, err)
		}

		created, err := s.appendTasks(ctx, l, []domain.NewTask{in}, false)
		if err != nil {
			return s.fail(c, err)
		}
		t := created[0]
		s.record(uid, l.BoardID, domain.EntityTask, t.ID, domain.ActionCreated)
		s.index(ctx, t)
		return c.JSON(http.StatusCreated, t)
	}
}

// appendTasks inserts tasks at the end of l in order.
func (s *Server) appendTasks(ctx context.Context, l domain.List, tasks []domain.NewTask, aiGenerated bool) ([]domain.Task, error) {
	created := make([]domain.Task, 0, len(tasks))
	_, err := s.onBoard(ctx, l.BoardID, func(m *board.Manager) (board.Result, bool, error) {
		var res board.Result
		for _, in := range tasks {
			dest, ok := m.State().List(l.ID)
			if !ok {
				return res, len(created) > 0, board.ErrListNotFound
			}
			t, err := s.Tasks.Insert(ctx, l.ID, in, len(dest.Tasks), aiGenerated)
			if err != nil {
				return res, len(created) > 0, err
			}
			created = append(created, t)
			res = m.Dispatch(ctx, board.AddTask{Task: t})
			if res.Err != nil {
				return res, true, nil
			}
		}
		return res, true, nil
	})
	return created, err
}

func updateTask(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		var patch domain.TaskPatch
		if err := decode(c, &patch); err != nil {
			return badRequest(c, "invalid body")
		}
		if err := patch.Validate(); err != nil {
			return s.fail(c, err)
		}
		ctx := c.Request().Context()
		uid := currentUser(c)
		boardID, err := s.ownedTask(ctx, uid, c.Param("id"))
		if err != nil {
			return s.fail(c, err)
		}
		t, err := s.Tasks.Get(ctx, c.Param("id"))
		if err != nil {
			return s.fail(c, err)
		}
		wasDone := t.Status == domain.StatusDone
		patch.Apply(&t, s.Now())
		if err := s.Tasks.Update(ctx, t); err != nil {
			return s.fail(c, err)
		}
		if _, err := s.onBoard(ctx, boardID, func(m *board.Manager) (board.Result, bool, error) {
			return m.Dispatch(ctx, board.UpdateTask{Task: t}), true, nil
		}); err != nil {
			s.Logger.WithField("task_id", t.ID).WithError(err).Warn("refresh board after task update failed")
		}

		action := domain.ActionUpdated
		if !wasDone && t.Status == domain.StatusDone {
			action = domain.ActionCompleted
		}
		s.record(uid, boardID, domain.EntityTask, t.ID, action)
		if patch.Title != nil || patch.Description != nil {
			s.index(ctx, t)
		}
		return c.JSON(http.StatusOK, t)
	}
}

// deleteTask removes the task and closes the gap in its list.
func deleteTask(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		uid := currentUser(c)
		taskID := c.Param("id")
		boardID, err := s.ownedTask(ctx, uid, taskID)
		if err != nil {
			return s.fail(c, err)
		}
		res, err := s.onBoard(ctx, boardID, func(m *board.Manager) (board.Result, bool, error) {
			if err := s.Tasks.Delete(ctx, taskID); err != nil {
				return board.Result{}, false, err
			}
			return m.Dispatch(ctx, board.RemoveTask{TaskID: taskID}), true, nil
		})
		if err != nil {
			return s.fail(c, err)
		}
		if res.Err != nil {
			s.Logger.WithField("task_id", taskID).WithError(res.Err).Warn("renumber tasks after delete failed")
		}
		s.record(uid, boardID, domain.EntityTask, taskID, domain.ActionDeleted)
		return c.NoContent(http.StatusNoContent)
	}
}

// index refreshes the search embedding of t. Failures are logged only.
func (s *Server) index(ctx context.Context, t domain.Task) {
	if s.Assistant == nil || s.Vectors == nil {
		return
	}
	vec, err := s.Assistant.Embed(ctx, ai.TaskDocument(t))
	if err == nil {
		err = s.Vectors.Upsert(ctx, t.ID, vec)
	}
	if err != nil {
		s.Logger.WithFields(log.Fields{"task_id": t.ID}).WithError(err).Warn("index task embedding failed")
	}
}

type subtaskRequest struct {
	Title string `json:"title"`
}

type subtaskPatch struct {
	Title       *string `json:"title"`
	IsCompleted *bool   `json:"isCompleted"`
}

func createSubtask(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in subtaskRequest
		if err := decode(c, &in); err != nil {
			return badRequest(c, "invalid body")
		}
		title, err := domain.ValidateSubtaskTitle(in.Title)
		if err != nil {
			return s.fail(c, err)
		}
		ctx := c.Request().Context()
		uid := currentUser(c)
		taskID := c.Param("id")
		boardID, err := s.ownedTask(ctx, uid, taskID)
		if err != nil {
			return s.fail(c, err)
		}
		st, err := s.Subtasks.Insert(ctx, taskID, title)
		if err != nil {
			return s.fail(c, err)
		}
		s.touched(ctx, boardID)
		s.record(uid, boardID, domain.EntitySubtask, st.ID, domain.ActionCreated)
		return c.JSON(http.StatusCreated, st)
	}
}

func updateSubtask(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		var patch subtaskPatch
		if err := decode(c, &patch); err != nil {
			return badRequest(c, "invalid body")
		}
		ctx := c.Request().Context()
		uid := currentUser(c)
		st, err := s.Subtasks.Get(ctx, c.Param("id"))
		if err != nil {
			return s.fail(c, err)
		}
		boardID, err := s.ownedTask(ctx, uid, st.TaskID)
		if err != nil {
			return s.fail(c, err)
		}
		if patch.Title != nil {
			title, err := domain.ValidateSubtaskTitle(*patch.Title)
			if err != nil {
				return s.fail(c, err)
			}
			st.Title = title
		}
		action := domain.ActionUpdated
		if patch.IsCompleted != nil {
			if *patch.IsCompleted && !st.IsCompleted {
				action = domain.ActionCompleted
			}
			st.IsCompleted = *patch.IsCompleted
		}
		if err := s.Subtasks.Update(ctx, st); err != nil {
			return s.fail(c, err)
		}
		s.touched(ctx, boardID)
		s.record(uid, boardID, domain.EntitySubtask, st.ID, action)
		return c.JSON(http.StatusOK, st)
	}
}

func deleteSubtask(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		uid := currentUser(c)
		st, err := s.Subtasks.Get(ctx, c.Param("id"))
		if err != nil {
			return s.fail(c, err)
		}
		boardID, err := s.ownedTask(ctx, uid, st.TaskID)
		if err != nil {
			return s.fail(c, err)
		}
		if err := s.Subtasks.Delete(ctx, st.ID); err != nil {
			return s.fail(c, err)
		}
		s.touched(ctx, boardID)
		s.record(uid, boardID, domain.EntitySubtask, st.ID, domain.ActionDeleted)
		return c.NoContent(http.StatusNoContent)
	}
}

func getStats(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		stats, err := s.Tasks.Stats(c.Request().Context(), currentUser(c))
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(http.StatusOK, stats)
	}
}

func getActivity(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.ActivityLog == nil {
			return c.JSON(http.StatusOK, []domain.Activity{})
		}
		limit := 0
		if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
			n, err := parsePositive(raw)
			if err != nil {
				return badRequest(c, "invalid limit")
			}
			limit = n
		}
		items, err := s.ActivityLog.Recent(c.Request().Context(), currentUser(c), limit)
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(http.StatusOK, items)
	}
}
