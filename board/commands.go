package board

import (
	"errors"
	"fmt"

	"github.com/emna-belhajltaief/smart-task-manager/domain"
)

var (
	ErrNotPermutation = errors.New("list order is not a permutation of the board's lists")
	ErrListNotFound   = errors.New("list not found")
	ErrTaskNotFound   = errors.New("task not found")
	ErrDuplicateID    = errors.New("id already present on board")
)

// Command is a mutation of a board's ordering.
type Command interface {
	Name() string
	apply(s State) (State, Change, error)
}

// Reduce applies cmd to a copy of s. s itself is never modified.
func Reduce(s State, cmd Command) (State, Change, error) {
	next, change, err := cmd.apply(s.Clone())
	if err != nil {
		return s, Change{}, err
	}
	return next, change, nil
}

// ReorderLists sets the board's list order. OrderedListIDs must contain every
// list of the board exactly once.
type ReorderLists struct {
	OrderedListIDs []string `json:"listIds"`
}

func (ReorderLists) Name() string { return "reorder_lists" }

func (c ReorderLists) apply(s State) (State, Change, error) {
	if len(c.OrderedListIDs) != len(s.Lists) {
		return s, Change{}, fmt.Errorf("%w: got %d ids for %d lists", ErrNotPermutation, len(c.OrderedListIDs), len(s.Lists))
	}
	byID := make(map[string]domain.List, len(s.Lists))
	for _, l := range s.Lists {
		byID[l.ID] = l
	}
	lists := make([]domain.List, 0, len(s.Lists))
	change := Change{Lists: make([]ListPosition, 0, len(s.Lists))}
	for i, id := range c.OrderedListIDs {
		l, ok := byID[id]
		if !ok {
			return s, Change{}, fmt.Errorf("%w: unknown or repeated id %q", ErrNotPermutation, id)
		}
		delete(byID, id)
		l.Position = i
		lists = append(lists, l)
		change.Lists = append(change.Lists, ListPosition{ID: id, Position: i})
	}
	s.Lists = lists
	return s, change, nil
}

// MoveTask places a task at TargetPosition inside TargetListID. Positions
// outside the destination are clamped to its bounds.
type MoveTask struct {
	TaskID         string `json:"taskId"`
	TargetListID   string `json:"listId"`
	TargetPosition int    `json:"position"`
}

func (MoveTask) Name() string { return "move_task" }

func (c MoveTask) apply(s State) (State, Change, error) {
	src, ti := s.findTask(c.TaskID)
	if src < 0 {
		return s, Change{}, fmt.Errorf("%w: %s", ErrTaskNotFound, c.TaskID)
	}
	dst := s.listIndex(c.TargetListID)
	if dst < 0 {
		return s, Change{}, fmt.Errorf("%w: %s", ErrListNotFound, c.TargetListID)
	}
	before := placements(s, src, dst)

	task := s.Lists[src].Tasks[ti]
	s.Lists[src].Tasks = removeTask(s.Lists[src].Tasks, ti)

	pos := clamp(c.TargetPosition, 0, len(s.Lists[dst].Tasks))
	task.ListID = s.Lists[dst].ID
	s.Lists[dst].Tasks = insertTask(s.Lists[dst].Tasks, pos, task)

	renumber(s.Lists[src].Tasks)
	if dst != src {
		renumber(s.Lists[dst].Tasks)
	}

	change := Change{Tasks: []TaskPlacement{{ID: task.ID, ListID: task.ListID, Position: pos}}}
	change.Tasks = append(change.Tasks, shifted(s, before, task.ID, src, dst)...)
	return s, change, nil
}

// AddList appends a list that already exists in the store.
type AddList struct {
	List domain.List
}

func (AddList) Name() string { return "add_list" }

func (c AddList) apply(s State) (State, Change, error) {
	if s.listIndex(c.List.ID) >= 0 {
		return s, Change{}, fmt.Errorf("%w: %s", ErrDuplicateID, c.List.ID)
	}
	l := c.List.Clone()
	l.BoardID = s.BoardID
	l.Position = len(s.Lists)
	s.Lists = append(s.Lists, l)
	return s, Change{}, nil
}

// AddTask appends a task that already exists in the store to its list.
type AddTask struct {
	Task domain.Task
}

func (AddTask) Name() string { return "add_task" }

func (c AddTask) apply(s State) (State, Change, error) {
	li := s.listIndex(c.Task.ListID)
	if li < 0 {
		return s, Change{}, fmt.Errorf("%w: %s", ErrListNotFound, c.Task.ListID)
	}
	if l, _ := s.findTask(c.Task.ID); l >= 0 {
		return s, Change{}, fmt.Errorf("%w: %s", ErrDuplicateID, c.Task.ID)
	}
	t := c.Task.Clone()
	t.Position = len(s.Lists[li].Tasks)
	s.Lists[li].Tasks = append(s.Lists[li].Tasks, t)
	return s, Change{}, nil
}

// RemoveList drops a list and closes the gap it leaves.
type RemoveList struct {
	ListID string
}

func (RemoveList) Name() string { return "remove_list" }

func (c RemoveList) apply(s State) (State, Change, error) {
	li := s.listIndex(c.ListID)
	if li < 0 {
		return s, Change{}, fmt.Errorf("%w: %s", ErrListNotFound, c.ListID)
	}
	s.Lists = append(s.Lists[:li], s.Lists[li+1:]...)
	var change Change
	for i := range s.Lists {
		if s.Lists[i].Position != i {
			s.Lists[i].Position = i
			change.Lists = append(change.Lists, ListPosition{ID: s.Lists[i].ID, Position: i})
		}
	}
	return s, change, nil
}

// RemoveTask drops a task and closes the gap it leaves in its list.
type RemoveTask struct {
	TaskID string
}

func (RemoveTask) Name() string { return "remove_task" }

func (c RemoveTask) apply(s State) (State, Change, error) {
	li, ti := s.findTask(c.TaskID)
	if li < 0 {
		return s, Change{}, fmt.Errorf("%w: %s", ErrTaskNotFound, c.TaskID)
	}
	tasks := removeTask(s.Lists[li].Tasks, ti)
	var change Change
	for i := range tasks {
		if tasks[i].Position != i {
			tasks[i].Position = i
			change.Tasks = append(change.Tasks, TaskPlacement{ID: tasks[i].ID, ListID: tasks[i].ListID, Position: i})
		}
	}
	s.Lists[li].Tasks = tasks
	return s, change, nil
}

// UpdateTask replaces a task's content without touching its placement.
type UpdateTask struct {
	Task domain.Task
}

func (UpdateTask) Name() string { return "update_task" }

func (c UpdateTask) apply(s State) (State, Change, error) {
	li, ti := s.findTask(c.Task.ID)
	if li < 0 {
		return s, Change{}, fmt.Errorf("%w: %s", ErrTaskNotFound, c.Task.ID)
	}
	cur := s.Lists[li].Tasks[ti]
	t := c.Task.Clone()
	t.ListID = cur.ListID
	t.Position = cur.Position
	if t.Subtasks == nil {
		t.Subtasks = cur.Subtasks
	}
	s.Lists[li].Tasks[ti] = t
	return s, Change{}, nil
}

type placement struct {
	listID   string
	position int
}

func placements(s State, lists ...int) map[string]placement {
	out := make(map[string]placement)
	for _, li := range lists {
		for _, t := range s.Lists[li].Tasks {
			out[t.ID] = placement{listID: t.ListID, position: t.Position}
		}
	}
	return out
}

// shifted lists the tasks of the given lists, other than skip, whose placement
// differs from before.
func shifted(s State, before map[string]placement, skip string, lists ...int) []TaskPlacement {
	var out []TaskPlacement
	seen := make(map[int]bool, len(lists))
	for _, li := range lists {
		if seen[li] {
			continue
		}
		seen[li] = true
		for _, t := range s.Lists[li].Tasks {
			if t.ID == skip {
				continue
			}
			if p, ok := before[t.ID]; ok && p.listID == t.ListID && p.position == t.Position {
				continue
			}
			out = append(out, TaskPlacement{ID: t.ID, ListID: t.ListID, Position: t.Position})
		}
	}
	return out
}

func removeTask(tasks []domain.Task, i int) []domain.Task {
	out := make([]domain.Task, 0, len(tasks)-1)
	out = append(out, tasks[:i]...)
	return append(out, tasks[i+1:]...)
}

func insertTask(tasks []domain.Task, i int, t domain.Task) []domain.Task {
	out := make([]domain.Task, 0, len(tasks)+1)
	out = append(out, tasks[:i]...)
	out = append(out, t)
	return append(out, tasks[i:]...)
}

func renumber(tasks []domain.Task) {
	for i := range tasks {
		tasks[i].Position = i
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
