package domain

import "time"

// Entity types recorded in the activity log.
const (
	EntityBoard   = "board"
	EntityList    = "list"
	EntityTask    = "task"
	EntitySubtask = "subtask"
)

// Activity actions.
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionDeleted   = "deleted"
	ActionArchived  = "archived"
	ActionFavorited = "favorited"
	ActionReordered = "reordered"
	ActionMoved     = "moved"
	ActionCompleted = "completed"
)

// Activity is a single entry of the per-user audit trail.
type Activity struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	BoardID    string    `json:"boardId,omitempty"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	Action     string    `json:"action"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Generation kinds.
const (
	GenerationTasks   = "generate_tasks"
	GenerationSummary = "summarize"
)

// AIGeneration records one model call made on behalf of a user.
type AIGeneration struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	BoardID    string    `json:"boardId,omitempty"`
	Kind       string    `json:"kind"`
	Prompt     string    `json:"prompt"`
	Response   string    `json:"response"`
	TokensUsed int       `json:"tokensUsed"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Stats summarises a user's tasks across all boards they own.
type Stats struct {
	Total      int              `json:"total"`
	Completed  int              `json:"completed"`
	Overdue    int              `json:"overdue"`
	ByStatus   map[Status]int   `json:"byStatus"`
	ByPriority map[Priority]int `json:"byPriority"`
}

// NewStats returns stats with every known status and priority present.
func NewStats() Stats {
	return Stats{
		ByStatus: map[Status]int{
			StatusTodo: 0, StatusInProgress: 0, StatusDone: 0,
		},
		ByPriority: map[Priority]int{
			PriorityLow: 0, PriorityMedium: 0, PriorityHigh: 0,
		},
	}
}

// Add counts t. A task is overdue when it has a due date before now and is not done.
func (s *Stats) Add(t Task, now time.Time) {
	s.Total++
	s.ByStatus[t.Status]++
	s.ByPriority[t.Priority]++
	if t.Status == StatusDone {
		s.Completed++
		return
	}
	if t.DueDate != nil && t.DueDate.Before(now) {
		s.Overdue++
	}
}
