package board

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/emna-belhajltaief/smart-task-manager/domain"
)

type stubPersister struct {
	mu      sync.Mutex
	calls   []Change
	err     error
	onApply func()
}

func (s *stubPersister) ApplyPositions(_ context.Context, _ string, change Change) error {
	s.mu.Lock()
	s.calls = append(s.calls, change)
	hook := s.onApply
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stubPersister) Calls() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Change(nil), s.calls...)
}

func threeLists() State {
	return NewState("b1", []domain.List{
		{ID: "L1", Position: 0},
		{ID: "L2", Position: 1},
		{ID: "L3", Position: 2},
	})
}

func TestManagerReorderPersistsOneBatch(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := &stubPersister{}
	m := NewManager(threeLists(), store, logger)

	res := m.Dispatch(context.Background(), ReorderLists{OrderedListIDs: []string{"L3", "L1", "L2"}})
	if res.Err != nil {
		t.Fatalf("dispatch: %v", res.Err)
	}
	calls := store.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected a single persistence call, got %d", len(calls))
	}
	want := []ListPosition{{ID: "L3", Position: 0}, {ID: "L1", Position: 1}, {ID: "L2", Position: 2}}
	if !reflect.DeepEqual(calls[0].Lists, want) {
		t.Fatalf("unexpected batch: %#v", calls[0].Lists)
	}
	if got := m.State().ListIDs(); !reflect.DeepEqual(got, []string{"L3", "L1", "L2"}) {
		t.Fatalf("unexpected state: %v", got)
	}
}

func TestManagerStateVisibleBeforePersistence(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := &stubPersister{}
	m := NewManager(threeLists(), store, logger)

	var during []string
	store.onApply = func() { during = m.State().ListIDs() }

	m.Dispatch(context.Background(), ReorderLists{OrderedListIDs: []string{"L2", "L3", "L1"}})
	if !reflect.DeepEqual(during, []string{"L2", "L3", "L1"}) {
		t.Fatalf("expected optimistic state during persistence, got %v", during)
	}
}

func TestManagerRollsBackOnFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	boom := errors.New("store down")
	store := &stubPersister{err: boom}
	m := NewManager(threeLists(), store, logger)

	var seen [][]string
	m.Subscribe(func(s State) { seen = append(seen, s.ListIDs()) })

	res := m.Dispatch(context.Background(), ReorderLists{OrderedListIDs: []string{"L3", "L2", "L1"}})
	if !errors.Is(res.Err, boom) {
		t.Fatalf("expected wrapped store error, got %v", res.Err)
	}
	if !res.RolledBack {
		t.Fatal("expected rollback")
	}
	if got := m.State().ListIDs(); !reflect.DeepEqual(got, []string{"L1", "L2", "L3"}) {
		t.Fatalf("expected original order after rollback, got %v", got)
	}
	if !reflect.DeepEqual(res.State.ListIDs(), []string{"L1", "L2", "L3"}) {
		t.Fatalf("result should carry reverted state, got %v", res.State.ListIDs())
	}
	want := [][]string{{"L3", "L2", "L1"}, {"L1", "L2", "L3"}}
	if !reflect.DeepEqual(seen, want) {
		t.Fatalf("unexpected notifications: %v", seen)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Message != "persist board change failed" {
		t.Fatalf("expected failure to be logged, got %#v", entry)
	}
	if entry.Data["command"] != "reorder_lists" {
		t.Fatalf("unexpected command field: %v", entry.Data["command"])
	}
}

func TestManagerMarksStaleWhenNewerCommandApplied(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := &stubPersister{}
	m := NewManager(threeLists(), store, logger)

	first := true
	store.onApply = func() {
		if !first {
			return
		}
		first = false
		store.mu.Lock()
		store.err = errors.New("conflict")
		store.mu.Unlock()
		// a second command lands while the first write is in flight
		next, _, _ := Reduce(m.State(), ReorderLists{OrderedListIDs: []string{"L1", "L3", "L2"}})
		m.mu.Lock()
		m.state = next
		m.version++
		m.mu.Unlock()
	}

	res := m.Dispatch(context.Background(), ReorderLists{OrderedListIDs: []string{"L2", "L1", "L3"}})
	if res.Err == nil || res.RolledBack {
		t.Fatalf("expected failure without rollback, got %+v", res)
	}
	if !m.Stale() {
		t.Fatal("expected manager to be stale")
	}
}

func TestManagerRejectsInvalidCommandWithoutPersisting(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := &stubPersister{}
	m := NewManager(threeLists(), store, logger)

	res := m.Dispatch(context.Background(), ReorderLists{OrderedListIDs: []string{"L1"}})
	if !errors.Is(res.Err, ErrNotPermutation) {
		t.Fatalf("expected ErrNotPermutation, got %v", res.Err)
	}
	if len(store.Calls()) != 0 {
		t.Fatal("store must not be called for rejected commands")
	}
}

func TestManagerDragEndWithoutTargetIsNoop(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := &stubPersister{}
	m := NewManager(threeLists(), store, logger)

	_, ok := m.HandleDragEnd(context.Background(), DragEnd{ActiveID: "L1"})
	if ok {
		t.Fatal("expected no-op")
	}
	if len(store.Calls()) != 0 {
		t.Fatal("store must not be called for a drop outside any target")
	}
}

func TestManagerAppendSkipsPersistence(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := &stubPersister{}
	m := NewManager(threeLists(), store, logger)

	res := m.Dispatch(context.Background(), AddTask{Task: domain.Task{ID: "T1", ListID: "L2"}})
	if res.Err != nil {
		t.Fatalf("dispatch: %v", res.Err)
	}
	if len(store.Calls()) != 0 {
		t.Fatal("append should not issue a position write")
	}
}
