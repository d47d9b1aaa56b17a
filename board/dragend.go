package board

// DragEnd is the end of a drag gesture. ActiveID is the dragged list or task;
// OverID is the list or task it was dropped on and is empty when the drop
// landed outside any target.
type DragEnd struct {
	ActiveID string `json:"activeId"`
	OverID   string `json:"overId"`
}

// ResolveDragEnd translates a gesture into a command. It returns false when
// the gesture does not change anything.
func (s State) ResolveDragEnd(ev DragEnd) (Command, bool) {
	if ev.OverID == "" || ev.ActiveID == "" {
		return nil, false
	}

	if from := s.listIndex(ev.ActiveID); from >= 0 {
		to := s.listIndex(ev.OverID)
		if to < 0 || to == from {
			return nil, false
		}
		return ReorderLists{OrderedListIDs: arrayMove(s.ListIDs(), from, to)}, true
	}

	src, ti := s.findTask(ev.ActiveID)
	if src < 0 {
		return nil, false
	}

	dst := s.listIndex(ev.OverID)
	overTask := -1
	if dst < 0 {
		dst, overTask = s.findTask(ev.OverID)
		if dst < 0 {
			return nil, false
		}
	}

	if dst != src {
		return MoveTask{
			TaskID:         ev.ActiveID,
			TargetListID:   s.Lists[dst].ID,
			TargetPosition: len(s.Lists[dst].Tasks),
		}, true
	}

	pos := len(s.Lists[src].Tasks) - 1
	if overTask >= 0 {
		pos = overTask
	}
	if pos == ti {
		return nil, false
	}
	return MoveTask{TaskID: ev.ActiveID, TargetListID: s.Lists[src].ID, TargetPosition: pos}, true
}

func arrayMove(ids []string, from, to int) []string {
	out := make([]string, 0, len(ids))
	moved := ids[from]
	for i, id := range ids {
		if i == from {
			continue
		}
		out = append(out, id)
	}
	head := append([]string(nil), out[:to]...)
	head = append(head, moved)
	return append(head, out[to:]...)
}
