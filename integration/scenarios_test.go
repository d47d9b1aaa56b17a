//go:build integration

package integration

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"github.com/emna-belhajltaief/smart-task-manager/api"
	"github.com/emna-belhajltaief/smart-task-manager/board"
	"github.com/emna-belhajltaief/smart-task-manager/domain"
)

type orderingResult struct {
	Board    board.State `json:"board"`
	Applied  bool        `json:"applied"`
	Replayed bool        `json:"replayed"`
}

func newClient(t *testing.T) *Client {
	t.Helper()
	base := os.Getenv("API_BASE")
	if base == "" {
		base = "http://localhost:8080"
	}
	if _, err := http.Get(base + "/healthz"); err != nil {
		t.Skipf("skipping, API not reachable: %v", err)
	}
	bearer := os.Getenv("TEST_BEARER")
	if bearer == "" {
		tok, err := api.SignTestToken(os.Getenv("TEST_JWT_SECRET"), "integration-user", time.Hour)
		if err != nil {
			t.Skipf("skipping, no credentials: %v", err)
		}
		bearer = tok
	}
	return New(base, bearer)
}

type seededBoard struct {
	board domain.Board
	lists []domain.List
	tasks [][]domain.Task
}

func seed(t *testing.T, ctx context.Context, c *Client, counts ...int) seededBoard {
	t.Helper()
	var out seededBoard
	name := fmt.Sprintf("board-%d", time.Now().UnixNano())
	if err := c.PostJSON(ctx, "/api/boards", map[string]string{"name": name, "workspaceId": "integration"}, &out.board); err != nil {
		t.Fatalf("create board: %v", err)
	}
	for i, n := range counts {
		var l domain.List
		if err := c.PostJSON(ctx, "/api/boards/"+out.board.ID+"/lists", map[string]string{"name": fmt.Sprintf("list-%d", i)}, &l); err != nil {
			t.Fatalf("create list: %v", err)
		}
		out.lists = append(out.lists, l)
		var tasks []domain.Task
		for j := 0; j < n; j++ {
			var task domain.Task
			if err := c.PostJSON(ctx, "/api/lists/"+l.ID+"/tasks", map[string]string{"title": fmt.Sprintf("task-%d-%d", i, j)}, &task); err != nil {
				t.Fatalf("create task: %v", err)
			}
			tasks = append(tasks, task)
		}
		out.tasks = append(out.tasks, tasks)
	}
	return out
}

func listIDs(ls []domain.List) []string {
	ids := make([]string, len(ls))
	for i, l := range ls {
		ids[i] = l.ID
	}
	return ids
}

func equal(a, b []string) bool {
	return strings.Join(a, ",") == strings.Join(b, ",")
}

func TestBoardOrderingScenario(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	s := seed(t, ctx, c, 2, 1, 0)

	order := []string{s.lists[2].ID, s.lists[0].ID, s.lists[1].ID}
	var res orderingResult
	if err := c.PutJSON(ctx, "/api/boards/"+s.board.ID+"/lists/order", map[string][]string{"listIds": order}, &res); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if !res.Applied || !equal(res.Board.ListIDs(), order) {
		t.Fatalf("unexpected reorder result: %+v", res)
	}

	moving := s.tasks[0][0]
	if err := c.PostJSON(ctx, "/api/tasks/"+moving.ID+"/move", map[string]any{"listId": s.lists[1].ID, "position": 0}, &res); err != nil {
		t.Fatalf("move: %v", err)
	}

	var got struct {
		Lists []domain.List `json:"lists"`
	}
	if err := c.GetJSON(ctx, "/api/boards/"+s.board.ID, &got); err != nil {
		t.Fatalf("get board: %v", err)
	}
	if !equal(listIDs(got.Lists), order) {
		t.Fatalf("stored order %v, want %v", listIDs(got.Lists), order)
	}
	for i, l := range got.Lists {
		if l.Position != i {
			t.Fatalf("list %s at %d, want %d", l.ID, l.Position, i)
		}
		for j, task := range l.Tasks {
			if task.Position != j {
				t.Fatalf("task %s at %d, want %d", task.ID, task.Position, j)
			}
		}
	}
	if target := got.Lists[2]; len(target.Tasks) != 2 || target.Tasks[0].ID != moving.ID {
		t.Fatalf("moved task not at the top of its new list: %+v", target.Tasks)
	}
}

func TestIdempotentMoveScenario(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	s := seed(t, ctx, c, 3)

	key := fmt.Sprintf("move-%d", time.Now().UnixNano())
	body := map[string]any{"listId": s.lists[0].ID, "position": 2}
	headers := map[string]string{"Idempotency-Key": key}

	var first, second orderingResult
	if err := c.Do(ctx, http.MethodPost, "/api/tasks/"+s.tasks[0][0].ID+"/move", body, &first, headers); err != nil {
		t.Fatalf("first move: %v", err)
	}
	if err := c.Do(ctx, http.MethodPost, "/api/tasks/"+s.tasks[0][0].ID+"/move", body, &second, headers); err != nil {
		t.Fatalf("replayed move: %v", err)
	}
	if first.Replayed || !second.Replayed {
		t.Fatalf("expected only the second request to be replayed: %+v %+v", first, second)
	}
	if !equal(listIDs(first.Board.Lists), listIDs(second.Board.Lists)) {
		t.Fatalf("replay changed the board")
	}
}

func TestStreamingLiveUpdates(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	c := newClient(t)
	s := seed(t, ctx, c, 0, 0)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/boards/"+s.board.ID+"/stream?token="+c.Bearer, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status %d", resp.StatusCode)
	}

	frames := make(chan board.State)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var state board.State
			if err := sonic.UnmarshalString(strings.TrimPrefix(line, "data: "), &state); err == nil {
				select {
				case frames <- state:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	next := func() board.State {
		select {
		case st := <-frames:
			return st
		case <-ctx.Done():
			t.Fatalf("timeout waiting for stream frame")
			return board.State{}
		}
	}
	if initial := next(); !equal(initial.ListIDs(), listIDs(s.lists)) {
		t.Fatalf("unexpected initial frame: %v", initial.ListIDs())
	}

	order := []string{s.lists[1].ID, s.lists[0].ID}
	if err := c.PutJSON(ctx, "/api/boards/"+s.board.ID+"/lists/order", map[string][]string{"listIds": order}, nil); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	for {
		if st := next(); equal(st.ListIDs(), order) {
			return
		}
	}
}
