// Package board keeps the in-memory ordering of a board's lists and tasks and
// reconciles drag-and-drop gestures against the persisted positions.
package board

import (
	"sort"

	"github.com/emna-belhajltaief/smart-task-manager/domain"
)

// State is the ordered view of one board. Lists are kept in visual order and
// every list's tasks are kept in visual order.
type State struct {
	BoardID string        `json:"boardId"`
	Lists   []domain.List `json:"lists"`
}

// NewState builds a State from lists in any order, sorting lists and tasks by
// their stored position.
func NewState(boardID string, lists []domain.List) State {
	s := State{BoardID: boardID, Lists: make([]domain.List, len(lists))}
	for i := range lists {
		s.Lists[i] = lists[i].Clone()
		sort.SliceStable(s.Lists[i].Tasks, func(a, b int) bool {
			return s.Lists[i].Tasks[a].Position < s.Lists[i].Tasks[b].Position
		})
	}
	sort.SliceStable(s.Lists, func(a, b int) bool {
		return s.Lists[a].Position < s.Lists[b].Position
	})
	return s
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := State{BoardID: s.BoardID, Lists: make([]domain.List, len(s.Lists))}
	for i := range s.Lists {
		out.Lists[i] = s.Lists[i].Clone()
	}
	return out
}

// ListIDs returns list ids in visual order.
func (s State) ListIDs() []string {
	ids := make([]string, len(s.Lists))
	for i := range s.Lists {
		ids[i] = s.Lists[i].ID
	}
	return ids
}

// TaskCount is the number of tasks across all lists.
func (s State) TaskCount() int {
	n := 0
	for i := range s.Lists {
		n += len(s.Lists[i].Tasks)
	}
	return n
}

// List returns the list with the given id.
func (s State) List(id string) (domain.List, bool) {
	i := s.listIndex(id)
	if i < 0 {
		return domain.List{}, false
	}
	return s.Lists[i], true
}

// Task returns the task with the given id.
func (s State) Task(id string) (domain.Task, bool) {
	li, ti := s.findTask(id)
	if li < 0 {
		return domain.Task{}, false
	}
	return s.Lists[li].Tasks[ti], true
}

func (s State) listIndex(id string) int {
	for i := range s.Lists {
		if s.Lists[i].ID == id {
			return i
		}
	}
	return -1
}

func (s State) findTask(id string) (int, int) {
	for li := range s.Lists {
		for ti := range s.Lists[li].Tasks {
			if s.Lists[li].Tasks[ti].ID == id {
				return li, ti
			}
		}
	}
	return -1, -1
}

// ListPosition is a persisted list position.
type ListPosition struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

// TaskPlacement is a persisted task placement.
type TaskPlacement struct {
	ID       string `json:"id"`
	ListID   string `json:"listId"`
	Position int    `json:"position"`
}

// Change is the set of rows a command needs written. It is persisted as one
// batch.
type Change struct {
	Lists []ListPosition  `json:"lists,omitempty"`
	Tasks []TaskPlacement `json:"tasks,omitempty"`
}

// Empty reports whether the change writes nothing.
func (c Change) Empty() bool {
	return len(c.Lists) == 0 && len(c.Tasks) == 0
}
