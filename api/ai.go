package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/emna-belhajltaief/smart-task-manager/ai"
	"github.com/emna-belhajltaief/smart-task-manager/domain"
)

type summarizeRequest struct {
	BoardID string `json:"boardId"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

type generateRequest struct {
	Prompt string `json:"prompt"`
	ListID string `json:"listId"`
}

type generateResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type embeddingRequest struct {
	Text string `json:"text"`
}

type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

type searchRequest struct {
	Query     string   `json:"query"`
	Threshold *float64 `json:"threshold,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

type searchResult struct {
	Task       domain.Task `json:"task"`
	Similarity float64     `json:"similarity"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

// summarizeBoard asks the model to summarise the board's tasks and stores
// the summary as the board description.
func summarizeBoard(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.Assistant == nil {
			return s.fail(c, ai.ErrNotConfigured)
		}
		var in summarizeRequest
		if err := decode(c, &in); err != nil || in.BoardID == "" {
			return badRequest(c, "invalid body")
		}
		ctx := c.Request().Context()
		uid := currentUser(c)
		b, err := s.ownedBoard(ctx, uid, in.BoardID)
		if err != nil {
			return s.fail(c, err)
		}
		tasks, err := s.Tasks.ByBoard(ctx, b.ID)
		if err != nil {
			return s.fail(c, err)
		}

		prompt := ai.SummaryPrompt(tasks)
		out, err := s.Assistant.Complete(ctx, "", prompt)
		if err != nil {
			return s.aiFailed(c, err)
		}
		summary := strings.TrimSpace(out.Text)
		b.Description = &summary
		if _, err := s.Boards.Update(ctx, b); err != nil {
			return s.fail(c, err)
		}
		s.recordGeneration(c, domain.AIGeneration{
			UserID:     uid,
			BoardID:    b.ID,
			Kind:       domain.GenerationSummary,
			Prompt:     prompt,
			Response:   out.Text,
			TokensUsed: out.TokensUsed,
		})
		s.record(uid, b.ID, domain.EntityBoard, b.ID, domain.ActionUpdated)
		return c.JSON(http.StatusOK, summarizeResponse{Summary: summary})
	}
}

// generateTasks turns a prompt into AI-generated tasks appended to a list.
func generateTasks(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.Assistant == nil {
			return s.fail(c, ai.ErrNotConfigured)
		}
		var in generateRequest
		if err := decode(c, &in); err != nil || in.ListID == "" {
			return badRequest(c, "invalid body")
		}
		if strings.TrimSpace(in.Prompt) == "" {
			return s.fail(c, &domain.ValidationError{Field: "prompt", Msg: "is required"})
		}
		ctx := c.Request().Context()
		uid := currentUser(c)
		l, err := s.ownedList(ctx, uid, in.ListID)
		if err != nil {
			return s.fail(c, err)
		}

		out, err := s.Assistant.Complete(ctx, ai.PlannerSystemPrompt, in.Prompt)
		if err != nil {
			return s.aiFailed(c, err)
		}
		s.recordGeneration(c, domain.AIGeneration{
			UserID:     uid,
			BoardID:    l.BoardID,
			Kind:       domain.GenerationTasks,
			Prompt:     in.Prompt,
			Response:   out.Text,
			TokensUsed: out.TokensUsed,
		})
		titles, err := ai.ParseTaskTitles(out.Text)
		if err != nil {
			s.Logger.WithField("list_id", l.ID).WithError(err).Warn("model returned unusable task list")
			return c.JSON(http.StatusBadGateway, errorResponse{Error: "model returned an invalid task list"})
		}

		news := make([]domain.NewTask, 0, len(titles))
		for _, title := range titles {
			nt := domain.NewTask{Title: title}
			if err := nt.Validate(); err != nil {
				continue
			}
			news = append(news, nt)
		}
		created, err := s.appendTasks(ctx, l, news, true)
		if err != nil {
			return s.fail(c, err)
		}
		for _, t := range created {
			s.record(uid, l.BoardID, domain.EntityTask, t.ID, domain.ActionCreated)
			s.index(ctx, t)
		}
		return c.JSON(http.StatusCreated, generateResponse{Tasks: created})
	}
}

func createEmbedding(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.Assistant == nil {
			return s.fail(c, ai.ErrNotConfigured)
		}
		var in embeddingRequest
		if err := decode(c, &in); err != nil || strings.TrimSpace(in.Text) == "" {
			return badRequest(c, "invalid body")
		}
		vec, err := s.Assistant.Embed(c.Request().Context(), in.Text)
		if err != nil {
			return s.aiFailed(c, err)
		}
		return c.JSON(http.StatusOK, embeddingResponse{Embedding: vec})
	}
}

// searchTasks embeds the query and returns the caller's most similar tasks.
func searchTasks(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.Assistant == nil || s.Vectors == nil {
			return s.fail(c, ai.ErrNotConfigured)
		}
		var in searchRequest
		if err := decode(c, &in); err != nil || strings.TrimSpace(in.Query) == "" {
			return badRequest(c, "invalid body")
		}
		threshold := s.MatchThreshold
		if in.Threshold != nil {
			threshold = *in.Threshold
		}
		limit := s.MatchCount
		if in.Limit > 0 && in.Limit < limit {
			limit = in.Limit
		}

		ctx := c.Request().Context()
		uid := currentUser(c)
		vec, err := s.Assistant.Embed(ctx, in.Query)
		if err != nil {
			return s.aiFailed(c, err)
		}
		matches, err := s.Vectors.Search(ctx, uid, vec, threshold, limit)
		if err != nil {
			return s.fail(c, err)
		}
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.TaskID
		}
		tasks, err := s.Tasks.ByIDs(ctx, uid, ids)
		if err != nil {
			return s.fail(c, err)
		}
		byID := make(map[string]domain.Task, len(tasks))
		for _, t := range tasks {
			byID[t.ID] = t
		}
		results := make([]searchResult, 0, len(matches))
		for _, m := range matches {
			if t, ok := byID[m.TaskID]; ok {
				results = append(results, searchResult{Task: t, Similarity: m.Similarity})
			}
		}
		return c.JSON(http.StatusOK, searchResponse{Results: results})
	}
}

func (s *Server) aiFailed(c echo.Context, err error) error {
	if errors.Is(err, ai.ErrNotConfigured) {
		return s.fail(c, err)
	}
	s.Logger.WithFields(log.Fields{"path": c.Path()}).WithError(err).Error("ai request failed")
	return c.JSON(http.StatusBadGateway, errorResponse{Error: "ai request failed"})
}

func (s *Server) recordGeneration(c echo.Context, g domain.AIGeneration) {
	if s.Generations == nil {
		return
	}
	g.CreatedAt = s.Now()
	if err := s.Generations.Record(c.Request().Context(), g); err != nil {
		s.Logger.WithFields(log.Fields{"kind": g.Kind, "user_id": g.UserID}).WithError(err).Error("record ai generation failed")
	}
}
