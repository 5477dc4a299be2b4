package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"github.com/TobiSchelling/NewsContinent/internal/metrics"
)

type mockProvider struct {
	reply  string
	err    error
	prompt string
}

func (m *mockProvider) Generate(_ context.Context, prompt string, _ int) (string, error) {
	m.prompt = prompt
	return m.reply, m.err
}

func (m *mockProvider) IsConfigured() bool { return true }

type mockSummarizer struct{}

func (mockSummarizer) Summarize(_ context.Context, text string) (string, string, error) {
	return "ext:" + text, "abs:" + text, nil
}

type fixedAsker struct {
	reply string
	err   error
}

func (a fixedAsker) Query(context.Context, string, string) (string, error) { return a.reply, a.err }

func TestClientAsk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if r.URL.Path != "/ask" || body["text"] != "article" || body["question"] != "why?" {
			t.Errorf("unexpected request %s %v", r.URL.Path, body)
		}
		w.Write([]byte(`{"response":"because"}`))
	}))
	defer srv.Close()

	if got := NewClient(srv.URL, time.Second).Ask(context.Background(), "article", "why?"); got != "because" {
		t.Errorf("expected 'because', got %q", got)
	}
}

func TestClientAskNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"text and question are required"}`))
	}))
	defer srv.Close()

	got := NewClient(srv.URL, time.Second).Ask(context.Background(), "", "q")
	want := `Error 400: {"error":"text and question are required"}`
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestClientAskConnectionError(t *testing.T) {
	got := NewClient("http://127.0.0.1:1", time.Second).Ask(context.Background(), "t", "q")
	if !strings.HasPrefix(got, "Connection error: ") {
		t.Errorf("unexpected reply %q", got)
	}
}

func TestRelayAppendsTwoPerExchange(t *testing.T) {
	log := NewMemoryLog(0, 0)
	relay := NewRelay(fixedAsker{reply: "answer"}, log)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		reply, history, err := relay.Exchange(ctx, "s1", "article", "question")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if reply != "answer" {
			t.Errorf("unexpected reply %q", reply)
		}
		if len(history) != 2*i {
			t.Fatalf("after %d exchanges expected %d entries, got %d", i, 2*i, len(history))
		}
		if history[len(history)-2].Sender != SenderUser || history[len(history)-1].Sender != SenderBot {
			t.Errorf("unexpected sender order: %+v", history[len(history)-2:])
		}
	}

	other, _ := log.History(ctx, "s2")
	if len(other) != 0 {
		t.Errorf("sessions must not share history, got %d", len(other))
	}
}

func TestRelayBackendErrorStillLogged(t *testing.T) {
	relay := NewRelay(fixedAsker{err: &BackendError{StatusCode: 500, Body: "boom"}}, NewMemoryLog(0, 0))
	reply, history, err := relay.Exchange(context.Background(), "s1", "a", "q")
	if err != nil {
		t.Fatalf("backend failures must not be errors: %v", err)
	}
	if reply != "Error 500: boom" || len(history) != 2 {
		t.Errorf("unexpected reply %q history %d", reply, len(history))
	}
}

func TestMemoryLogMaxHistory(t *testing.T) {
	log := NewMemoryLog(3, 0)
	ctx := context.Background()
	for _, m := range []string{"a", "b", "c", "d"} {
		log.Append(ctx, "s", Message{Sender: SenderUser, Message: m})
	}
	h, _ := log.History(ctx, "s")
	if len(h) != 3 || h[0].Message != "b" || h[2].Message != "d" {
		t.Errorf("expected oldest entries trimmed, got %+v", h)
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestRedisLog(t *testing.T) {
	mr, rdb := newTestRedis(t)
	log := NewRedisLog(rdb, 4, time.Hour)
	relay := NewRelay(fixedAsker{reply: "answer"}, log)
	ctx := context.Background()

	_, history, err := relay.Exchange(ctx, "abc", "article", "first")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 || history[0].Message != "first" || history[1].Message != "answer" {
		t.Errorf("unexpected history %+v", history)
	}

	items, err := mr.List("chat:abc:history")
	if err != nil || len(items) != 2 {
		t.Fatalf("expected 2 list items, got %v (%v)", items, err)
	}

	relay.Exchange(ctx, "abc", "article", "second")
	relay.Exchange(ctx, "abc", "article", "third")
	history, _ = log.History(ctx, "abc")
	if len(history) != 4 || history[0].Message != "second" {
		t.Errorf("expected history trimmed to 4, got %+v", history)
	}
}

func TestSelections(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	for name, s := range map[string]Selections{
		"memory": NewMemorySelections(time.Hour),
		"redis":  NewRedisSelections(rdb, time.Hour),
	} {
		if id, err := s.Selected(ctx, "s1"); err != nil || id != "" {
			t.Errorf("%s: expected empty selection, got %q %v", name, id, err)
		}
		s.Select(ctx, "s1", "42")
		if id, _ := s.Selected(ctx, "s1"); id != "42" {
			t.Errorf("%s: expected 42, got %q", name, id)
		}
	}
}

func TestBackendAsk(t *testing.T) {
	p := &mockProvider{reply: " It rained. "}
	srv := httptest.NewServer(NewBackend(p, mockSummarizer{}, 0).Handler())
	defer srv.Close()

	got := NewClient(srv.URL, time.Second).Ask(context.Background(), "Weather report", "What happened?")
	if got != "It rained." {
		t.Errorf("unexpected answer %q", got)
	}
	if !strings.Contains(p.prompt, "Weather report") || !strings.Contains(p.prompt, "What happened?") {
		t.Error("prompt must include text and question")
	}
}

func TestBackendAskMissingFields(t *testing.T) {
	srv := httptest.NewServer(NewBackend(&mockProvider{}, mockSummarizer{}, 0).Handler())
	defer srv.Close()

	for _, body := range []string{`{"text":"only text"}`, `{"question":"only question"}`, `not json`} {
		resp, err := http.Post(srv.URL+"/ask", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		var out map[string]string
		json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest || out["error"] == "" {
			t.Errorf("body %s: expected 400 with error, got %d %v", body, resp.StatusCode, out)
		}
	}
}

func TestBackendAskProviderError(t *testing.T) {
	srv := httptest.NewServer(NewBackend(&mockProvider{err: errors.New("down")}, mockSummarizer{}, 0).Handler())
	defer srv.Close()

	got := NewClient(srv.URL, time.Second).Ask(context.Background(), "t", "q")
	if !strings.HasPrefix(got, "Error 502: ") {
		t.Errorf("unexpected reply %q", got)
	}
}

func TestBackendSummarize(t *testing.T) {
	srv := httptest.NewServer(NewBackend(nil, mockSummarizer{}, 0).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/summarize", "application/json", strings.NewReader(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]string
	json.NewDecoder(resp.Body).Decode(&out)
	if out["extractive"] != "ext:hello" || out["abstractive"] != "abs:hello" {
		t.Errorf("unexpected summaries %v", out)
	}
}

func TestClientQueryTypedErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Query(context.Background(), "t", "q")
	var backendErr *BackendError
	if !errors.As(err, &backendErr) || backendErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected *BackendError with 503, got %v", err)
	}

	_, err = NewClient("http://127.0.0.1:1", time.Second).Query(context.Background(), "t", "q")
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Errorf("expected *ConnectionError, got %v", err)
	}
}

func TestRelayCountsAnswersByOutcome(t *testing.T) {
	ok := metrics.ChatExchanges.WithLabelValues("ok")
	failed := metrics.ChatExchanges.WithLabelValues("backend_error")
	okBefore, failedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	relay := NewRelay(fixedAsker{reply: "Error handling in the article is discussed at length."}, NewMemoryLog(0, 0))
	if _, _, err := relay.Exchange(context.Background(), "s", "a", "q"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := testutil.ToFloat64(ok) - okBefore; got != 1 {
		t.Errorf("expected one ok exchange, got %v", got)
	}
	if got := testutil.ToFloat64(failed) - failedBefore; got != 0 {
		t.Errorf("an answer starting with Error must not count as a failure, got %v", got)
	}

	relay = NewRelay(fixedAsker{err: &ConnectionError{Err: errors.New("refused")}}, NewMemoryLog(0, 0))
	reply, _, _ := relay.Exchange(context.Background(), "s", "a", "q")
	if reply != "Connection error: refused" {
		t.Errorf("unexpected reply %q", reply)
	}
	if got := testutil.ToFloat64(failed) - failedBefore; got != 1 {
		t.Errorf("expected one failed exchange, got %v", got)
	}
}

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func TestMemoryLogForgetsIdleSessions(t *testing.T) {
	c := &testClock{t: time.Date(2025, 1, 30, 12, 0, 0, 0, time.UTC)}
	log := NewMemoryLog(0, time.Hour)
	log.logs.now = c.now
	ctx := context.Background()

	for i := range 50 {
		log.Append(ctx, fmt.Sprintf("visitor-%d", i), Message{Sender: SenderUser, Message: "hi"})
	}
	if log.Sessions() != 50 {
		t.Fatalf("expected 50 sessions, got %d", log.Sessions())
	}

	c.t = c.t.Add(2 * time.Hour)
	if h, _ := log.History(ctx, "visitor-0"); len(h) != 0 {
		t.Errorf("expired conversation still visible: %+v", h)
	}
	log.Append(ctx, "late", Message{Sender: SenderUser, Message: "hi"})
	if log.Sessions() != 1 {
		t.Errorf("expected idle sessions to be freed, %d held", log.Sessions())
	}
}

func TestMemorySelectionsExpire(t *testing.T) {
	c := &testClock{t: time.Date(2025, 1, 30, 12, 0, 0, 0, time.UTC)}
	sel := NewMemorySelections(time.Hour)
	sel.ids.now = c.now
	ctx := context.Background()

	sel.Select(ctx, "a", "1")
	sel.Select(ctx, "b", "2")
	c.t = c.t.Add(90 * time.Minute)

	if id, _ := sel.Selected(ctx, "a"); id != "" {
		t.Errorf("expected expired selection, got %q", id)
	}
	sel.Select(ctx, "c", "3")
	if n := sel.ids.len(); n != 1 {
		t.Errorf("expected idle selections to be freed, %d held", n)
	}
}
