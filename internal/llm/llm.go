package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultTimeout = 120 * time.Second
	temperature    = 0.3
)

// systemPrompt frames every request as news-article work.
const systemPrompt = "You are an assistant for a news reading service. Stay factual and stick to the article you are given."

// Provider generates text from a prompt.
type Provider interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	IsConfigured() bool
}

// HTTPError is a non-200 answer from a provider API.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.StatusCode, e.Body)
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func conversation(prompt string) []message {
	return []message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}
}

// OllamaProvider talks to a local Ollama server.
type OllamaProvider struct {
	Model   string
	BaseURL string
	client  *http.Client
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  struct {
		NumPredict  int     `json:"num_predict"`
		Temperature float64 `json:"temperature"`
	} `json:"options"`
}

type ollamaChatResponse struct {
	Message message `json:"message"`
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(model, baseURL string) *OllamaProvider {
	return &OllamaProvider{
		Model:   model,
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// IsConfigured reports whether the server answers and has the model pulled.
func (o *OllamaProvider) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := doJSON(ctx, o.client, "ollama", http.MethodGet, o.BaseURL+"/api/tags", "", nil, &tags); err != nil {
		slog.Debug("ollama unreachable", "url", o.BaseURL, "error", err)
		return false
	}

	family, _, _ := strings.Cut(o.Model, ":")
	for _, m := range tags.Models {
		if name, _, _ := strings.Cut(m.Name, ":"); name == family {
			return true
		}
	}
	slog.Warn("ollama model not pulled", "model", o.Model)
	return false
}

// Generate runs a single-turn chat against /api/chat.
func (o *OllamaProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	req := ollamaChatRequest{Model: o.Model, Messages: conversation(prompt)}
	req.Options.NumPredict = maxTokens
	req.Options.Temperature = temperature

	var resp ollamaChatResponse
	if err := doJSON(ctx, o.client, "ollama", http.MethodPost, o.BaseURL+"/api/chat", "", req, &resp); err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// OpenAIProvider uses the OpenAI chat completions API. BaseURL may point at
// any compatible server.
type OpenAIProvider struct {
	Model   string
	APIKey  string
	BaseURL string
	client  *http.Client
}

type openAIChatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

// NewOpenAIProvider creates an OpenAI provider reading its key from apiKeyEnv.
func NewOpenAIProvider(model, apiKeyEnv string) *OpenAIProvider {
	return &OpenAIProvider{
		Model:   model,
		APIKey:  os.Getenv(apiKeyEnv),
		BaseURL: "https://api.openai.com",
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

func (o *OpenAIProvider) IsConfigured() bool {
	return o.APIKey != ""
}

// Generate runs a single-turn chat completion.
func (o *OpenAIProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if o.APIKey == "" {
		return "", fmt.Errorf("openai: API key not configured")
	}

	req := openAIChatRequest{
		Model:       o.Model,
		Messages:    conversation(prompt),
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	var resp openAIChatResponse
	url := strings.TrimRight(o.BaseURL, "/") + "/v1/chat/completions"
	if err := doJSON(ctx, o.client, "openai", http.MethodPost, url, o.APIKey, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: response has no choices")
	}
	if reason := resp.Choices[0].FinishReason; reason == "length" {
		slog.Debug("openai reply truncated", "max_tokens", maxTokens)
	}
	return resp.Choices[0].Message.Content, nil
}

// doJSON sends body (if any) as JSON and decodes a 200 reply into out.
func doJSON(ctx context.Context, client *http.Client, provider, method, url, bearer string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", provider, err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return fmt.Errorf("%s: %w", provider, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{Provider: provider, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", provider, err)
	}
	return nil
}

// CreateProvider returns Ollama when it is the configured provider and is
// reachable, otherwise OpenAI when a key is set, otherwise nil.
func CreateProvider(provider, model, ollamaURL, openaiModel, apiKeyEnv string) Provider {
	if strings.EqualFold(provider, "ollama") {
		if p := NewOllamaProvider(model, ollamaURL); p.IsConfigured() {
			slog.Info("using ollama", "model", model)
			return p
		}
		slog.Info("ollama not available, falling back to OpenAI")
	}

	if p := NewOpenAIProvider(openaiModel, apiKeyEnv); p.IsConfigured() {
		slog.Info("using OpenAI", "model", openaiModel)
		return p
	}

	slog.Warn("no LLM provider available", "ollama_url", ollamaURL, "api_key_env", apiKeyEnv)
	return nil
}
