package domain

import (
	"strings"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Task is a card inside a list.
type Task struct {
	ID            string     `json:"id"`
	ListID        string     `json:"listId"`
	Title         string     `json:"title"`
	Description   *string    `json:"description,omitempty"`
	Priority      Priority   `json:"priority"`
	Status        Status     `json:"status"`
	DueDate       *time.Time `json:"dueDate,omitempty"`
	Position      int        `json:"position"`
	IsAIGenerated bool       `json:"isAiGenerated"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	Subtasks      []Subtask  `json:"subtasks,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Clone copies the task including its subtasks.
func (t Task) Clone() Task {
	out := t
	if t.Subtasks != nil {
		out.Subtasks = append([]Subtask(nil), t.Subtasks...)
	}
	return out
}

// NewTask carries the fields accepted when creating a task.
type NewTask struct {
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	Priority    Priority   `json:"priority,omitempty"`
	Status      Status     `json:"status,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

// Validate trims the title and fills in the default status and priority.
func (n *NewTask) Validate() error {
	n.Title = strings.TrimSpace(n.Title)
	if n.Title == "" {
		return &ValidationError{Field: "title", Msg: "is required"}
	}
	if n.Priority == "" {
		n.Priority = PriorityMedium
	}
	if n.Status == "" {
		n.Status = StatusTodo
	}
	if !n.Priority.Valid() {
		return &ValidationError{Field: "priority", Msg: "must be one of low, medium, high"}
	}
	if !n.Status.Valid() {
		return &ValidationError{Field: "status", Msg: "must be one of todo, in_progress, done"}
	}
	return nil
}

// TaskPatch is a partial update. Nil fields are left untouched.
type TaskPatch struct {
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	Priority     *Priority  `json:"priority,omitempty"`
	Status       *Status    `json:"status,omitempty"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
	ClearDueDate bool       `json:"clearDueDate,omitempty"`
}

func (p *TaskPatch) Validate() error {
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return &ValidationError{Field: "title", Msg: "must not be empty"}
		}
		p.Title = &title
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return &ValidationError{Field: "priority", Msg: "must be one of low, medium, high"}
	}
	if p.Status != nil && !p.Status.Valid() {
		return &ValidationError{Field: "status", Msg: "must be one of todo, in_progress, done"}
	}
	return nil
}

// Apply merges the patch into t. Entering the done status stamps
// CompletedAt, leaving it clears the stamp.
func (p TaskPatch) Apply(t *Task, now time.Time) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		desc := *p.Description
		t.Description = &desc
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.ClearDueDate {
		t.DueDate = nil
	} else if p.DueDate != nil {
		due := *p.DueDate
		t.DueDate = &due
	}
	if p.Status != nil && *p.Status != t.Status {
		t.Status = *p.Status
		if t.Status == StatusDone {
			done := now
			t.CompletedAt = &done
		} else {
			t.CompletedAt = nil
		}
	}
	t.UpdatedAt = now
}

// Subtask is a checklist item of a task.
type Subtask struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"taskId"`
	Title       string    `json:"title"`
	IsCompleted bool      `json:"isCompleted"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ValidateSubtaskTitle trims a subtask title and rejects empty ones.
func ValidateSubtaskTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", &ValidationError{Field: "title", Msg: "is required"}
	}
	return title, nil
}
