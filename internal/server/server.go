package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/NewsContinent/internal/chat"
	"github.com/TobiSchelling/NewsContinent/internal/metrics"
	"github.com/TobiSchelling/NewsContinent/internal/reader"
	"github.com/TobiSchelling/NewsContinent/internal/tts"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// SessionCookie names the cookie that scopes snapshots and conversations.
const SessionCookie = "nc_session"

// Deps are the collaborators the web server serves from.
type Deps struct {
	Reader     *reader.Reader
	Relay      *chat.Relay
	Selections chat.Selections
	// Speaker may be nil when text-to-speech is disabled.
	Speaker    tts.Speaker
	SpeechLang string
}

// Server is the HTTP server for reading articles.
type Server struct {
	deps  Deps
	pages map[string]*template.Template
	mux   *http.ServeMux
}

// New creates a new Server.
func New(deps Deps) (*Server, error) {
	if deps.SpeechLang == "" {
		deps.SpeechLang = "fr"
	}

	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"date": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("2 Jan 2006")
		},
		"excerpt": excerpt,
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so {{define "content"}} does not collide.
	pageNames := []string{"home_page.html", "article_detail.html", "404.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{deps: deps, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.withSession(s.mux)
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("GET /{$}", s.handleHome)
	s.mux.HandleFunc("GET /article/{id}/", s.handleDetail)
	s.mux.HandleFunc("GET /article/{id}", s.handleDetail)
	s.mux.HandleFunc("/chatbot/", s.handleChatbot)
	s.mux.HandleFunc("/generate-audio/", s.handleAudio)
	s.mux.HandleFunc("POST /reload", s.handleReload)
	s.mux.Handle("GET /metrics", metrics.Handler())
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	s.mux.HandleFunc("/", s.handleNotFound)
}

type ctxKey struct{}

// sessionFrom returns the session ID attached by withSession.
func sessionFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withSession makes sure every request carries a session cookie and counts
// responses per route.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var session string
		if c, err := r.Cookie(SessionCookie); err == nil {
			if _, err := uuid.Parse(c.Value); err == nil {
				session = c.Value
			}
		}
		if session == "" {
			session = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    session,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, session))
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Reader.List(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		slog.Error("listing articles", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.render(w, http.StatusOK, "home_page.html", map[string]any{
		"article": entries,
	})
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := sessionFrom(ctx)
	id := r.PathValue("id")

	entry, err := s.deps.Reader.Detail(ctx, session, id)
	if errors.Is(err, reader.ErrNotFound) {
		s.render(w, http.StatusNotFound, "404.html", nil)
		return
	}
	if err != nil {
		slog.Error("loading article", "id", id, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := s.deps.Selections.Select(ctx, session, id); err != nil {
		slog.Warn("recording selection", "error", err)
	}

	others, err := s.deps.Reader.List(ctx, session)
	if err != nil {
		slog.Warn("listing related articles", "error", err)
	}
	s.render(w, http.StatusOK, "article_detail.html", map[string]any{
		"article":     entry,
		"cached_data": others,
		"tts":         s.deps.Speaker != nil,
	})
}

type chatResponse struct {
	Response string         `json:"response"`
	History  []chat.Message `json:"history,omitempty"`
}

func (s *Server) handleChatbot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := sessionFrom(ctx)

	snap, err := s.deps.Reader.Peek(ctx, session)
	if err != nil {
		writeJSON(w, http.StatusOK, chatResponse{Response: "Error: cached data not available."})
		return
	}

	id, err := s.deps.Selections.Selected(ctx, session)
	if err != nil || id == "" {
		writeJSON(w, http.StatusOK, chatResponse{Response: "Error: no article selected."})
		return
	}

	entry, err := reader.Find(snap.Entries, id)
	if err != nil {
		writeJSON(w, http.StatusOK, chatResponse{Response: "Error: article not found."})
		return
	}

	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusOK, chatResponse{Response: "Error: method not allowed."})
		return
	}

	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, chatResponse{Response: "Error: invalid JSON data."})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusOK, chatResponse{Response: "Error: empty message."})
		return
	}

	reply, history, err := s.deps.Relay.Exchange(ctx, session, entry.Content, req.Message)
	if err != nil {
		slog.Error("chat exchange", "error", err)
		writeJSON(w, http.StatusInternalServerError, chatResponse{Response: "Error: conversation unavailable."})
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: reply, History: history})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	badRequest := map[string]string{"error": "missing text or invalid request"}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusBadRequest, badRequest)
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, badRequest)
		return
	}
	if s.deps.Speaker == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "text-to-speech is disabled"})
		return
	}

	audio, err := s.deps.Speaker.Speak(r.Context(), req.Text, s.deps.SpeechLang)
	if errors.Is(err, tts.ErrEmptyText) {
		writeJSON(w, http.StatusBadRequest, badRequest)
		return
	}
	if err != nil {
		slog.Error("generating audio", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "audio generation failed"})
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.Write(audio)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Reader.Invalidate(r.Context(), sessionFrom(r.Context())); err != nil {
		slog.Warn("invalidating snapshot", "error", err)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusNotFound, "404.html", nil)
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		slog.Error("template not found", "name", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		slog.Error("rendering template", "name", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

func excerpt(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return strings.TrimSpace(string(runes[:n])) + "…"
}

// Serve starts the HTTP server on the given port and shuts it down when ctx
// is cancelled.
func Serve(ctx context.Context, deps Deps, port int) error {
	srv, err := New(deps)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "url", "http://"+httpSrv.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}
