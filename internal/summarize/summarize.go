package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/TobiSchelling/NewsContinent/internal/llm"
)

// Summarizer turns article text into an extractive and an abstractive summary.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (extractive, abstractive string, err error)
}

// Local builds the extractive summary in-process and asks an LLM for the
// abstractive one.
type Local struct {
	provider  llm.Provider
	sentences int
	maxTokens int
}

// NewLocal creates a Local summarizer. provider may be nil, in which case
// abstractive summaries are left blank.
func NewLocal(provider llm.Provider, sentences, maxTokens int) *Local {
	if sentences <= 0 {
		sentences = 3
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &Local{provider: provider, sentences: sentences, maxTokens: maxTokens}
}

// Summarize implements Summarizer.
func (l *Local) Summarize(ctx context.Context, text string) (string, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", "", nil
	}

	extractive := Extract(text, l.sentences)
	if l.provider == nil {
		return extractive, "", nil
	}

	reply, err := l.provider.Generate(ctx, llm.SummaryPrompt(text), l.maxTokens)
	if err != nil {
		return extractive, "", fmt.Errorf("abstractive summary: %w", err)
	}
	abstractive := strings.TrimSpace(reply)
	if parsed := llm.ParseJSONResponse(reply); parsed != nil {
		abstractive = llm.StringField(parsed, "summary")
	}
	return extractive, abstractive, nil
}

// Remote delegates summarization to the QA backend's /summarize endpoint.
type Remote struct {
	baseURL string
	client  *http.Client
}

// NewRemote creates a Remote summarizer.
func NewRemote(baseURL string, timeout time.Duration) *Remote {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Summarize implements Summarizer.
func (r *Remote) Summarize(ctx context.Context, text string) (string, string, error) {
	data, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/summarize", bytes.NewReader(data))
	if err != nil {
		return "", "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("summarize request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", "", fmt.Errorf("summarize returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Extractive  string `json:"extractive"`
		Abstractive string `json:"abstractive"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("decoding summaries: %w", err)
	}
	return out.Extractive, out.Abstractive, nil
}

// Noop returns empty summaries.
type Noop struct{}

// Summarize implements Summarizer.
func (Noop) Summarize(context.Context, string) (string, string, error) {
	return "", "", nil
}

// Options selects and configures a Summarizer.
type Options struct {
	Provider            string
	Model               string
	OllamaURL           string
	OpenAIModel         string
	APIKeyEnv           string
	MaxTokens           int
	ExtractiveSentences int
	RemoteURL           string
}

// New builds the Summarizer named by opts.Provider: "remote", "none", or an
// LLM provider name for Local.
func New(opts Options) Summarizer {
	switch strings.ToLower(opts.Provider) {
	case "none", "noop", "":
		slog.Info("summaries disabled")
		return Noop{}
	case "remote":
		slog.Info("using remote summarizer", "url", opts.RemoteURL)
		return NewRemote(opts.RemoteURL, 0)
	default:
		provider := llm.CreateProvider(opts.Provider, opts.Model, opts.OllamaURL, opts.OpenAIModel, opts.APIKeyEnv)
		return NewLocal(provider, opts.ExtractiveSentences, opts.MaxTokens)
	}
}
