package board

import (
	"errors"
	"reflect"
	"testing"

	"github.com/emna-belhajltaief/smart-task-manager/domain"
)

func fixture() State {
	return NewState("b1", []domain.List{
		{ID: "L2", Name: "Doing", Position: 1},
		{ID: "L1", Name: "Todo", Position: 0, Tasks: []domain.Task{
			{ID: "T3", ListID: "L1", Position: 2},
			{ID: "T1", ListID: "L1", Position: 0},
			{ID: "T2", ListID: "L1", Position: 1},
		}},
		{ID: "L3", Name: "Done", Position: 2},
	})
}

func taskIDs(l domain.List) []string {
	ids := make([]string, len(l.Tasks))
	for i, t := range l.Tasks {
		ids[i] = t.ID
	}
	return ids
}

func assertDense(t *testing.T, s State) {
	t.Helper()
	for i, l := range s.Lists {
		if l.Position != i {
			t.Fatalf("list %s has position %d at index %d", l.ID, l.Position, i)
		}
		for j, task := range l.Tasks {
			if task.Position != j {
				t.Fatalf("task %s has position %d at index %d", task.ID, task.Position, j)
			}
			if task.ListID != l.ID {
				t.Fatalf("task %s claims list %s but sits in %s", task.ID, task.ListID, l.ID)
			}
		}
	}
}

func TestNewStateSortsByPosition(t *testing.T) {
	s := fixture()
	if got := s.ListIDs(); !reflect.DeepEqual(got, []string{"L1", "L2", "L3"}) {
		t.Fatalf("unexpected list order: %v", got)
	}
	if got := taskIDs(s.Lists[0]); !reflect.DeepEqual(got, []string{"T1", "T2", "T3"}) {
		t.Fatalf("unexpected task order: %v", got)
	}
}

func TestReorderListsAssignsIndexPositions(t *testing.T) {
	s := fixture()
	next, change, err := Reduce(s, ReorderLists{OrderedListIDs: []string{"L3", "L1", "L2"}})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	want := []ListPosition{{ID: "L3", Position: 0}, {ID: "L1", Position: 1}, {ID: "L2", Position: 2}}
	if !reflect.DeepEqual(change.Lists, want) {
		t.Fatalf("unexpected change: %#v", change.Lists)
	}
	if got := next.ListIDs(); !reflect.DeepEqual(got, []string{"L3", "L1", "L2"}) {
		t.Fatalf("unexpected order: %v", got)
	}
	assertDense(t, next)
	if got := s.ListIDs(); !reflect.DeepEqual(got, []string{"L1", "L2", "L3"}) {
		t.Fatalf("input state was mutated: %v", got)
	}
}

// permutations returns every ordering of ids.
func permutations(ids []string) [][]string {
	if len(ids) <= 1 {
		return [][]string{append([]string(nil), ids...)}
	}
	var out [][]string
	for i, id := range ids {
		rest := make([]string, 0, len(ids)-1)
		rest = append(rest, ids[:i]...)
		rest = append(rest, ids[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]string{id}, p...))
		}
	}
	return out
}

func TestReorderListsEveryPermutation(t *testing.T) {
	s := NewState("b1", []domain.List{
		{ID: "A", Position: 0, Tasks: []domain.Task{{ID: "t1", ListID: "A", Position: 0}}},
		{ID: "B", Position: 1},
		{ID: "C", Position: 2, Tasks: []domain.Task{{ID: "t2", ListID: "C", Position: 0}, {ID: "t3", ListID: "C", Position: 1}}},
		{ID: "D", Position: 3},
	})
	orders := permutations(s.ListIDs())
	if len(orders) != 24 {
		t.Fatalf("expected 24 orderings, got %d", len(orders))
	}
	for _, order := range orders {
		next, change, err := Reduce(s, ReorderLists{OrderedListIDs: order})
		if err != nil {
			t.Fatalf("reorder %v: %v", order, err)
		}
		if got := next.ListIDs(); !reflect.DeepEqual(got, order) {
			t.Fatalf("reorder %v produced %v", order, got)
		}
		if len(change.Lists) != len(order) {
			t.Fatalf("reorder %v changed %d lists", order, len(change.Lists))
		}
		for i, lp := range change.Lists {
			if lp.ID != order[i] || lp.Position != i {
				t.Fatalf("reorder %v: change %d is %#v", order, i, lp)
			}
		}
		assertDense(t, next)
		if next.TaskCount() != s.TaskCount() {
			t.Fatalf("reorder %v lost tasks", order)
		}
	}
}

func TestReorderListsIdentityStillWritesEveryList(t *testing.T) {
	_, change, err := Reduce(fixture(), ReorderLists{OrderedListIDs: []string{"L1", "L2", "L3"}})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if len(change.Lists) != 3 {
		t.Fatalf("expected every list in change, got %#v", change.Lists)
	}
}

func TestReorderListsRejectsNonPermutation(t *testing.T) {
	tests := map[string][]string{
		"missing":   {"L1", "L2"},
		"duplicate": {"L1", "L1", "L2"},
		"unknown":   {"L1", "L2", "L9"},
		"extra":     {"L1", "L2", "L3", "L4"},
	}
	for name, ids := range tests {
		t.Run(name, func(t *testing.T) {
			s := fixture()
			next, change, err := Reduce(s, ReorderLists{OrderedListIDs: ids})
			if !errors.Is(err, ErrNotPermutation) {
				t.Fatalf("expected ErrNotPermutation, got %v", err)
			}
			if !change.Empty() {
				t.Fatalf("expected empty change, got %#v", change)
			}
			if !reflect.DeepEqual(next.ListIDs(), s.ListIDs()) {
				t.Fatalf("state changed on rejected reorder")
			}
		})
	}
}

func TestMoveTaskAcrossLists(t *testing.T) {
	s := fixture()
	next, change, err := Reduce(s, MoveTask{TaskID: "T2", TargetListID: "L2", TargetPosition: 0})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := taskIDs(next.Lists[0]); !reflect.DeepEqual(got, []string{"T1", "T3"}) {
		t.Fatalf("unexpected source tasks: %v", got)
	}
	if got := taskIDs(next.Lists[1]); !reflect.DeepEqual(got, []string{"T2"}) {
		t.Fatalf("unexpected destination tasks: %v", got)
	}
	moved, _ := next.Task("T2")
	if moved.ListID != "L2" || moved.Position != 0 {
		t.Fatalf("unexpected moved task: %+v", moved)
	}
	assertDense(t, next)
	if next.TaskCount() != s.TaskCount() {
		t.Fatalf("task count changed: %d -> %d", s.TaskCount(), next.TaskCount())
	}

	want := []TaskPlacement{
		{ID: "T2", ListID: "L2", Position: 0},
		{ID: "T3", ListID: "L1", Position: 1},
	}
	if !reflect.DeepEqual(change.Tasks, want) {
		t.Fatalf("unexpected change: %#v", change.Tasks)
	}
}

func TestMoveTaskWithinList(t *testing.T) {
	next, change, err := Reduce(fixture(), MoveTask{TaskID: "T3", TargetListID: "L1", TargetPosition: 0})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := taskIDs(next.Lists[0]); !reflect.DeepEqual(got, []string{"T3", "T1", "T2"}) {
		t.Fatalf("unexpected order: %v", got)
	}
	assertDense(t, next)
	if len(change.Tasks) != 3 || change.Tasks[0].ID != "T3" {
		t.Fatalf("unexpected change: %#v", change.Tasks)
	}
	for _, p := range change.Tasks {
		if p.ListID != "L1" {
			t.Fatalf("same-list move changed list id: %#v", p)
		}
	}
}

func TestMoveTaskClampsPosition(t *testing.T) {
	tests := []struct {
		name string
		pos  int
		want []string
	}{
		{name: "negative", pos: -4, want: []string{"T2", "T1", "T3"}},
		{name: "past_end", pos: 99, want: []string{"T1", "T3", "T2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, _, err := Reduce(fixture(), MoveTask{TaskID: "T2", TargetListID: "L1", TargetPosition: tt.pos})
			if err != nil {
				t.Fatalf("move: %v", err)
			}
			if got := taskIDs(next.Lists[0]); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("unexpected order: %v", got)
			}
			assertDense(t, next)
		})
	}
}

func TestMoveTaskExclusivity(t *testing.T) {
	next, _, err := Reduce(fixture(), MoveTask{TaskID: "T1", TargetListID: "L3", TargetPosition: 0})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	count := 0
	for _, l := range next.Lists {
		for _, task := range l.Tasks {
			if task.ID == "T1" {
				count++
			}
		}
	}
	if count != 1 {
		t.Fatalf("expected task in exactly one list, found %d", count)
	}
}

func TestMoveTaskUnknownIDs(t *testing.T) {
	if _, _, err := Reduce(fixture(), MoveTask{TaskID: "nope", TargetListID: "L1"}); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
	if _, _, err := Reduce(fixture(), MoveTask{TaskID: "T1", TargetListID: "nope"}); !errors.Is(err, ErrListNotFound) {
		t.Fatalf("expected ErrListNotFound, got %v", err)
	}
}

func TestAddTaskAppends(t *testing.T) {
	s := NewState("b1", []domain.List{{ID: "L1", Tasks: []domain.Task{
		{ID: "T1", ListID: "L1", Position: 0},
		{ID: "T2", ListID: "L1", Position: 1},
	}}})
	next, change, err := Reduce(s, AddTask{Task: domain.Task{ID: "T3", ListID: "L1", Position: 7}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	added, _ := next.Task("T3")
	if added.Position != 2 {
		t.Fatalf("expected appended position 2, got %d", added.Position)
	}
	if !change.Empty() {
		t.Fatalf("append should not rewrite positions: %#v", change)
	}
	if _, _, err := Reduce(next, AddTask{Task: domain.Task{ID: "T3", ListID: "L1"}}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestAddListAppends(t *testing.T) {
	next, _, err := Reduce(fixture(), AddList{List: domain.List{ID: "L4", Name: "Later"}})
	if err != nil {
		t.Fatalf("add list: %v", err)
	}
	l, ok := next.List("L4")
	if !ok || l.Position != 3 || l.BoardID != "b1" {
		t.Fatalf("unexpected list: %+v", l)
	}
}

func TestRemoveTaskRenumbersSiblings(t *testing.T) {
	next, change, err := Reduce(fixture(), RemoveTask{TaskID: "T1"})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	assertDense(t, next)
	want := []TaskPlacement{{ID: "T2", ListID: "L1", Position: 0}, {ID: "T3", ListID: "L1", Position: 1}}
	if !reflect.DeepEqual(change.Tasks, want) {
		t.Fatalf("unexpected change: %#v", change.Tasks)
	}
}

func TestRemoveListRenumbersSiblings(t *testing.T) {
	next, change, err := Reduce(fixture(), RemoveList{ListID: "L1"})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	assertDense(t, next)
	want := []ListPosition{{ID: "L2", Position: 0}, {ID: "L3", Position: 1}}
	if !reflect.DeepEqual(change.Lists, want) {
		t.Fatalf("unexpected change: %#v", change.Lists)
	}
}

func TestUpdateTaskKeepsPlacement(t *testing.T) {
	next, _, err := Reduce(fixture(), UpdateTask{Task: domain.Task{ID: "T2", ListID: "L9", Position: 9, Title: "renamed"}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	task, _ := next.Task("T2")
	if task.Title != "renamed" || task.ListID != "L1" || task.Position != 1 {
		t.Fatalf("unexpected task: %+v", task)
	}
}
