package ai

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/emna-belhajltaief/smart-task-manager/domain"
)

// PlannerSystemPrompt instructs the model to answer with task titles only.
const PlannerSystemPrompt = "You are a task planner. Return a JSON array of task titles."

// SummaryPrompt lists tasks as "- title (status, priority)" lines.
func SummaryPrompt(tasks []domain.Task) string {
	var b strings.Builder
	b.WriteString("Summarize the following tasks:\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "- %s (%s, %s)\n", t.Title, t.Status, t.Priority)
	}
	return b.String()
}

// ParseTaskTitles decodes a JSON array of titles. Markdown code fences around
// the array are tolerated and blank titles are dropped.
func ParseTaskTitles(content string) ([]string, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	var raw []string
	if err := sonic.UnmarshalString(strings.TrimSpace(s), &raw); err != nil {
		return nil, fmt.Errorf("parse task titles: %w", err)
	}
	titles := make([]string, 0, len(raw))
	for _, t := range raw {
		if t = strings.TrimSpace(t); t != "" {
			titles = append(titles, t)
		}
	}
	return titles, nil
}

// TaskDocument is the text indexed for semantic search of a task.
func TaskDocument(t domain.Task) string {
	if t.Description == nil || *t.Description == "" {
		return t.Title
	}
	return t.Title + "\n\n" + *t.Description
}
