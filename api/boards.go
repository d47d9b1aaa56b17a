package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/emna-belhajltaief/smart-task-manager/board"
	"github.com/emna-belhajltaief/smart-task-manager/domain"
)

type boardResponse struct {
	Board domain.Board  `json:"board"`
	Lists []domain.List `json:"lists"`
}

type favoriteRequest struct {
	IsFavorite *bool `json:"isFavorite"`
}

func listBoards(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		boards, err := s.Boards.ListByOwner(c.Request().Context(), currentUser(c))
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(http.StatusOK, boards)
	}
}

func createBoard(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.NewBoard
		if err := decode(c, &in); err != nil {
			return badRequest(c, "invalid body")
		}
		if err := in.Validate(); err != nil {
			return s.fail(c, err)
		}
		uid := currentUser(c)
		b, err := s.Boards.Insert(c.Request().Context(), uid, in)
		if err != nil {
			return s.fail(c, err)
		}
		s.record(uid, b.ID, domain.EntityBoard, b.ID, domain.ActionCreated)
		return c.JSON(http.StatusCreated, b)
	}
}

func getBoard(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		b, err := s.ownedBoard(ctx, currentUser(c), c.Param("id"))
		if err != nil {
			return s.fail(c, err)
		}
		state, err := s.States.LoadBoard(ctx, b.ID)
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(http.StatusOK, boardResponse{Board: b, Lists: state.Lists})
	}
}

// favoriteBoard sets the favorite flag, or flips it when the body omits it.
func favoriteBoard(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in favoriteRequest
		if err := decode(c, &in); err != nil && !errors.Is(err, errEmptyBody) {
			return badRequest(c, "invalid body")
		}
		ctx := c.Request().Context()
		uid := currentUser(c)
		b, err := s.ownedBoard(ctx, uid, c.Param("id"))
		if err != nil {
			return s.fail(c, err)
		}
		if in.IsFavorite != nil {
			b.IsFavorite = *in.IsFavorite
		} else {
			b.IsFavorite = !b.IsFavorite
		}
		b, err = s.Boards.Update(ctx, b)
		if err != nil {
			return s.fail(c, err)
		}
		s.record(uid, b.ID, domain.EntityBoard, b.ID, domain.ActionFavorited)
		return c.JSON(http.StatusOK, b)
	}
}

func archiveBoard(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		uid := currentUser(c)
		b, err := s.ownedBoard(ctx, uid, c.Param("id"))
		if err != nil {
			return s.fail(c, err)
		}
		if !b.IsArchived {
			b.IsArchived = true
			if b, err = s.Boards.Update(ctx, b); err != nil {
				return s.fail(c, err)
			}
			s.record(uid, b.ID, domain.EntityBoard, b.ID, domain.ActionArchived)
		}
		return c.JSON(http.StatusOK, b)
	}
}

func getLists(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		b, err := s.ownedBoard(ctx, currentUser(c), c.Param("id"))
		if err != nil {
			return s.fail(c, err)
		}
		state, err := s.States.LoadBoard(ctx, b.ID)
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(http.StatusOK, state.Lists)
	}
}

type listRequest struct {
	Name string `json:"name"`
}

func createList(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in listRequest
		if err := decode(c, &in); err != nil {
			return badRequest(c, "invalid body")
		}
		name, err := domain.ValidateListName(in.Name)
		if err != nil {
			return s.fail(c, err)
		}
		ctx := c.Request().Context()
		uid := currentUser(c)
		b, err := s.ownedBoard(ctx, uid, c.Param("id"))
		if err != nil {
			return s.fail(c, err)
		}

		var created domain.List
		_, err = s.onBoard(ctx, b.ID, func(m *board.Manager) (board.Result, bool, error) {
			l, err := s.Lists.Insert(ctx, b.ID, name, len(m.State().Lists))
			if err != nil {
				return board.Result{}, false, err
			}
			l.Tasks = []domain.Task{}
			created = l
			return m.Dispatch(ctx, board.AddList{List: l}), true, nil
		})
		if err != nil {
			return s.fail(c, err)
		}
		s.record(uid, b.ID, domain.EntityList, created.ID, domain.ActionCreated)
		return c.JSON(http.StatusCreated, created)
	}
}

func renameList(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in listRequest
		if err := decode(c, &in); err != nil {
			return badRequest(c, "invalid body")
		}
		name, err := domain.ValidateListName(in.Name)
		if err != nil {
			return s.fail(c, err)
		}
		ctx := c.Request().Context()
		uid := currentUser(c)
		l, err := s.ownedList(ctx, uid, c.Param("id"))
		if err != nil {
			return s.fail(c, err)
		}
		l.Name = name
		if err := s.Lists.Update(ctx, l); err != nil {
			return s.fail(c, err)
		}
		s.touched(ctx, l.BoardID)
		s.record(uid, l.BoardID, domain.EntityList, l.ID, domain.ActionUpdated)
		return c.JSON(http.StatusOK, l)
	}
}

// deleteList removes the list with its tasks and renumbers the lists after
// it.
func deleteList(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		uid := currentUser(c)
		l, err := s.ownedList(ctx, uid, c.Param("id"))
		if err != nil {
			return s.fail(c, err)
		}
		res, err := s.onBoard(ctx, l.BoardID, func(m *board.Manager) (board.Result, bool, error) {
			if err := s.Lists.Delete(ctx, l.ID); err != nil {
				return board.Result{}, false, err
			}
			return m.Dispatch(ctx, board.RemoveList{ListID: l.ID}), true, nil
		})
		if err != nil {
			return s.fail(c, err)
		}
		if res.Err != nil {
			s.Logger.WithField("list_id", l.ID).WithError(res.Err).Warn("renumber lists after delete failed")
		}
		s.record(uid, l.BoardID, domain.EntityList, l.ID, domain.ActionDeleted)
		return c.NoContent(http.StatusNoContent)
	}
}
