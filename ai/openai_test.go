package ai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/emna-belhajltaief/smart-task-manager/config"
	"github.com/emna-belhajltaief/smart-task-manager/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := config.Default().OpenAI
	cfg.APIKey = "sk-test"
	cfg.BaseURL = srv.URL + "/"
	logger := log.New()
	logger.SetOutput(io.Discard)
	c := NewClient(cfg, srv.Client(), logger)
	c.initialDelay = time.Millisecond
	return c
}

func TestCompleteSendsSystemAndUserMessages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header: %q", got)
		}
		var req chatRequest
		body, _ := io.ReadAll(r.Body)
		if err := sonic.Unmarshal(body, &req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" || len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "plan a launch" {
			t.Errorf("unexpected request: %+v", req)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"[\"a\"]"}}],"usage":{"total_tokens":42}}`))
	})

	out, err := c.Complete(context.Background(), PlannerSystemPrompt, "plan a launch")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Text != `["a"]` || out.TokensUsed != 42 {
		t.Fatalf("unexpected completion: %+v", out)
	}
}

func TestCompleteOmitsEmptySystemPrompt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		body, _ := io.ReadAll(r.Body)
		_ = sonic.Unmarshal(body, &req)
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})
	if _, err := c.Complete(context.Background(), "", "hi"); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func TestEmbedRetriesOnServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	})

	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 3 || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("unexpected result: vec=%v calls=%d", vec, calls)
	}
}

func TestEmbedGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})
	if _, err := c.Embed(context.Background(), "hello"); err == nil || !strings.Contains(err.Error(), "max retries") {
		t.Fatalf("expected max retries error, got %v", err)
	}
	if calls != maxRetries {
		t.Fatalf("expected %d calls, got %d", maxRetries, calls)
	}
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad input"}}`))
	})
	_, err := c.Embed(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "bad input") {
		t.Fatalf("expected api error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestEmbedTruncatesInput(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		body, _ := io.ReadAll(r.Body)
		_ = sonic.Unmarshal(body, &req)
		if n := len([]rune(req.Input)); n != maxInputChars {
			t.Errorf("expected truncated input, got %d runes", n)
		}
		if req.Model != "text-embedding-3-small" {
			t.Errorf("unexpected model: %s", req.Model)
		}
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1]}]}`))
	})
	if _, err := c.Embed(context.Background(), strings.Repeat("é", maxInputChars+50)); err != nil {
		t.Fatalf("embed: %v", err)
	}
}

func TestMissingAPIKey(t *testing.T) {
	c := NewClient(config.Default().OpenAI, nil, nil)
	if _, err := c.Embed(context.Background(), "x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSummaryPrompt(t *testing.T) {
	got := SummaryPrompt([]domain.Task{
		{Title: "Ship", Status: domain.StatusDone, Priority: domain.PriorityHigh},
		{Title: "Test", Status: domain.StatusTodo, Priority: domain.PriorityLow},
	})
	want := "Summarize the following tasks:\n- Ship (done, high)\n- Test (todo, low)\n"
	if got != want {
		t.Fatalf("unexpected prompt:\n%q\nwant\n%q", got, want)
	}
}

func TestParseTaskTitles(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    []string
		wantErr bool
	}{
		{name: "plain", in: `["Design", "Build"]`, want: []string{"Design", "Build"}},
		{name: "fenced", in: "```json\n[\"Design\", \"  \"]\n```", want: []string{"Design"}},
		{name: "not json", in: "Design, Build", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseTaskTitles(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if strings.Join(got, "|") != strings.Join(tc.want, "|") {
				t.Fatalf("unexpected titles: %v", got)
			}
		})
	}
}

func TestTaskDocument(t *testing.T) {
	desc := "details"
	if got := TaskDocument(domain.Task{Title: "T", Description: &desc}); got != "T\n\ndetails" {
		t.Fatalf("unexpected document: %q", got)
	}
	if got := TaskDocument(domain.Task{Title: "T"}); got != "T" {
		t.Fatalf("unexpected document: %q", got)
	}
}
