package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/TobiSchelling/NewsContinent/internal/llm"
	"github.com/TobiSchelling/NewsContinent/internal/summarize"
)

// Backend is the question-answering service the relay talks to.
type Backend struct {
	provider   llm.Provider
	summarizer summarize.Summarizer
	maxTokens  int
}

// NewBackend creates a Backend. provider answers /ask; summarizer serves
// /summarize.
func NewBackend(provider llm.Provider, summarizer summarize.Summarizer, maxTokens int) *Backend {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &Backend{provider: provider, summarizer: summarizer, maxTokens: maxTokens}
}

// Handler returns the backend's routes.
func (b *Backend) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ask", b.handleAsk)
	mux.HandleFunc("POST /summarize", b.handleSummarize)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	return mux
}

func (b *Backend) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text     string `json:"text"`
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if strings.TrimSpace(req.Text) == "" || strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text and question are required"})
		return
	}
	if b.provider == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no LLM provider available"})
		return
	}

	answer, err := b.provider.Generate(r.Context(), llm.AnswerPrompt(req.Text, req.Question), b.maxTokens)
	if err != nil {
		slog.Error("answer failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": strings.TrimSpace(answer)})
}

func (b *Backend) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	ext, abs, err := b.summarizer.Summarize(r.Context(), req.Text)
	if err != nil {
		// Partial summaries are still returned.
		slog.Warn("summarize failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"extractive": ext, "abstractive": abs})
}

// Serve runs the backend on port until ctx is cancelled.
func (b *Backend) Serve(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           b.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("chatbot backend listening", "url", "http://"+srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
