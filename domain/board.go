package domain

import (
	"strings"
	"time"
)

// Board is the top-level container of lists inside a workspace.
type Board struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	OwnerID     string    `json:"ownerId"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	IsFavorite  bool      `json:"isFavorite"`
	IsArchived  bool      `json:"isArchived"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewBoard carries the fields accepted when creating a board.
type NewBoard struct {
	Name        string  `json:"name"`
	WorkspaceID string  `json:"workspaceId"`
	Description *string `json:"description,omitempty"`
}

// Validate trims the input and rejects boards without a name or workspace.
func (b *NewBoard) Validate() error {
	b.Name = strings.TrimSpace(b.Name)
	b.WorkspaceID = strings.TrimSpace(b.WorkspaceID)
	if b.Name == "" {
		return &ValidationError{Field: "name", Msg: "is required"}
	}
	if b.WorkspaceID == "" {
		return &ValidationError{Field: "workspaceId", Msg: "is required"}
	}
	return nil
}

// List is an ordered column of tasks. Position is unique within a board.
type List struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"boardId"`
	Name      string    `json:"name"`
	Position  int       `json:"position"`
	Tasks     []Task    `json:"tasks"`
	CreatedAt time.Time `json:"createdAt"`
}

// Clone returns a copy of the list whose task slice can be mutated freely.
func (l List) Clone() List {
	out := l
	out.Tasks = make([]Task, len(l.Tasks))
	for i := range l.Tasks {
		out.Tasks[i] = l.Tasks[i].Clone()
	}
	return out
}

// ValidateListName trims a list name and rejects empty ones.
func ValidateListName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &ValidationError{Field: "name", Msg: "is required"}
	}
	return name, nil
}
