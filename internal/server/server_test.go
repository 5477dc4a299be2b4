package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/NewsContinent/internal/chat"
	"github.com/TobiSchelling/NewsContinent/internal/database"
	"github.com/TobiSchelling/NewsContinent/internal/reader"
	"github.com/TobiSchelling/NewsContinent/internal/tts"
)

type echoAsker struct{}

func (echoAsker) Query(_ context.Context, text, question string) (string, error) {
	return "about " + text[:7] + ": " + question, nil
}

type fakeSpeaker struct{ err error }

func (s fakeSpeaker) Speak(_ context.Context, text, lang string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []byte("mp3:" + lang + ":" + text), nil
}

func ptr(s string) *string { return &s }

type testEnv struct {
	handler http.Handler
	reader  *reader.Reader
	log     *chat.MemoryLog
	cookie  *http.Cookie
}

func newTestEnv(t *testing.T, speaker tts.Speaker) *testEnv {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	for i, title := range []string{"Harbour reopens", "Election results", "New bridge"} {
		err := db.Insert(ctx, &database.Article{
			ID:                 title,
			Title:              title,
			URL:                "https://example.com/" + string(rune('a'+i)),
			PublishedAt:        time.Date(2025, 1, 30, 10, 0, 0, 0, time.UTC),
			Content:            "Content of " + title,
			AbstractiveSummary: ptr("**Short** summary of " + title),
			Language:           "en",
			Source:             "Daily",
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	rd := reader.New(db, reader.NewMemory(nil), reader.Options{TTL: time.Hour})
	log := chat.NewMemoryLog(0, time.Hour)
	srv, err := New(Deps{
		Reader:     rd,
		Relay:      chat.NewRelay(echoAsker{}, log),
		Selections: chat.NewMemorySelections(time.Hour),
		Speaker:    speaker,
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return &testEnv{
		handler: srv.Handler(),
		reader:  rd,
		log:     log,
		cookie:  &http.Cookie{Name: SessionCookie, Value: "6f1c2d9e-3b7a-4c4e-9d2f-1a2b3c4d5e6f"},
	}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.AddCookie(e.cookie)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) firstID(t *testing.T) string {
	t.Helper()
	entries, err := e.reader.List(context.Background(), e.cookie.Value)
	if err != nil || len(entries) == 0 {
		t.Fatalf("expected entries: %v", err)
	}
	return entries[0].DisplayID
}

func chatReply(t *testing.T, rec *httptest.ResponseRecorder) chatResponse {
	t.Helper()
	var out chatResponse
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decoding chat response: %v", err)
	}
	return out
}

func TestHomeRoute(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do("GET", "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, title := range []string{"Harbour reopens", "Election results", "New bridge"} {
		if !strings.Contains(body, title) {
			t.Errorf("expected %q on home page", title)
		}
	}
	if !strings.Contains(body, "/article/") {
		t.Error("expected links to detail pages")
	}
}

func TestSessionCookieIssued(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != SessionCookie || cookies[0].Value == "" {
		t.Fatalf("expected a session cookie, got %v", cookies)
	}

	if rec := env.do("GET", "/healthz", ""); len(rec.Result().Cookies()) != 0 {
		t.Error("existing session must not be replaced")
	}
}

func TestDetailRoute(t *testing.T) {
	env := newTestEnv(t, fakeSpeaker{})
	id := env.firstID(t)

	rec := env.do("GET", "/article/"+id+"/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<strong>Short</strong>") {
		t.Error("expected markdown-rendered summary")
	}
	if !strings.Contains(body, "More stories") {
		t.Error("expected related articles")
	}
	if !strings.Contains(body, "Listen") {
		t.Error("expected listen button when speech is enabled")
	}
}

func TestDetailNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	env.firstID(t)

	rec := env.do("GET", "/article/12345/", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Article not found") {
		t.Error("expected 404 page")
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, nil)
	if rec := env.do("GET", "/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestChatbotFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	if got := chatReply(t, env.do("POST", "/chatbot/", `{"message":"hi"}`)); got.Response != "Error: cached data not available." {
		t.Errorf("unexpected reply %q", got.Response)
	}

	id := env.firstID(t)
	if got := chatReply(t, env.do("POST", "/chatbot/", `{"message":"hi"}`)); got.Response != "Error: no article selected." {
		t.Errorf("unexpected reply %q", got.Response)
	}

	env.do("GET", "/article/"+id+"/", "")

	if got := chatReply(t, env.do("GET", "/chatbot/", "")); got.Response != "Error: method not allowed." {
		t.Errorf("unexpected reply %q", got.Response)
	}
	if got := chatReply(t, env.do("POST", "/chatbot/", `{not json`)); got.Response != "Error: invalid JSON data." {
		t.Errorf("unexpected reply %q", got.Response)
	}
	if got := chatReply(t, env.do("POST", "/chatbot/", `{"message":""}`)); got.Response != "Error: empty message." {
		t.Errorf("unexpected reply %q", got.Response)
	}

	got := chatReply(t, env.do("POST", "/chatbot/", `{"message":"What happened?"}`))
	if !strings.HasPrefix(got.Response, "about Content: What happened?") {
		t.Errorf("unexpected reply %q", got.Response)
	}
	if len(got.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(got.History))
	}

	got = chatReply(t, env.do("POST", "/chatbot/", `{"message":"And then?"}`))
	if len(got.History) != 4 {
		t.Errorf("expected history to grow by two, got %d", len(got.History))
	}
}

func TestChatbotArticleNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.firstID(t)
	env.do("GET", "/article/"+id+"/", "")

	env.do("POST", "/reload", "")
	env.firstID(t)

	got := chatReply(t, env.do("POST", "/chatbot/", `{"message":"hi"}`))
	if got.Response != "Error: article not found." {
		t.Errorf("unexpected reply %q", got.Response)
	}
}

func TestGenerateAudio(t *testing.T) {
	env := newTestEnv(t, fakeSpeaker{})

	rec := env.do("POST", "/generate-audio/", `{"text":"Bonjour"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("expected audio/mpeg, got %q", ct)
	}
	if rec.Body.String() != "mp3:fr:Bonjour" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}

	for _, body := range []string{`{"text":""}`, `{}`, `bad`} {
		rec := env.do("POST", "/generate-audio/", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, rec.Code)
		}
		var out map[string]string
		json.NewDecoder(rec.Body).Decode(&out)
		if out["error"] == "" {
			t.Errorf("body %s: expected error field", body)
		}
	}

	if rec := env.do("GET", "/generate-audio/", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for GET, got %d", rec.Code)
	}
}

func TestGenerateAudioFailures(t *testing.T) {
	env := newTestEnv(t, fakeSpeaker{err: errors.New("quota")})
	if rec := env.do("POST", "/generate-audio/", `{"text":"x"}`); rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}

	disabled := newTestEnv(t, nil)
	if rec := disabled.do("POST", "/generate-audio/", `{"text":"x"}`); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestReloadInvalidates(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.firstID(t)

	rec := env.do("POST", "/reload", "")
	if rec.Code != http.StatusSeeOther {
		t.Errorf("expected 303, got %d", rec.Code)
	}
	if rec := env.do("GET", "/article/"+id+"/", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected old display id to be gone, got %d", rec.Code)
	}
}

func TestMetricsAndHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do("GET", "/", "")

	rec := env.do("GET", "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "newscontinent_http_requests_total") {
		t.Error("expected request counter in metrics output")
	}
	if rec := env.do("GET", "/healthz", ""); rec.Body.String() != "ok" {
		t.Errorf("unexpected health body %q", rec.Body.String())
	}
}

func TestExcerpt(t *testing.T) {
	if got := excerpt("short", 10); got != "short" {
		t.Errorf("unexpected %q", got)
	}
	if got := excerpt("a longer sentence", 8); got != "a longer…" {
		t.Errorf("unexpected %q", got)
	}
}
