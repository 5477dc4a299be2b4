package tts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/TobiSchelling/NewsContinent/internal/metrics"
)

// ErrEmptyText is returned when there is nothing to read out.
var ErrEmptyText = errors.New("text is required")

// Speaker turns text into MP3 audio.
type Speaker interface {
	Speak(ctx context.Context, text, lang string) ([]byte, error)
}

var languageNames = map[string]string{
	"fr": "French",
	"en": "English",
	"de": "German",
	"es": "Spanish",
	"it": "Italian",
}

// OpenAISpeaker uses the OpenAI speech endpoint.
type OpenAISpeaker struct {
	Model   string
	Voice   string
	BaseURL string
	apiKey  string
	client  *http.Client
}

// NewOpenAISpeaker creates a speaker reading its key from apiKeyEnv.
func NewOpenAISpeaker(model, voice, apiKeyEnv string) *OpenAISpeaker {
	return &OpenAISpeaker{
		Model:   model,
		Voice:   voice,
		BaseURL: "https://api.openai.com",
		apiKey:  os.Getenv(apiKeyEnv),
		client:  &http.Client{Timeout: 150 * time.Second},
	}
}

// IsConfigured checks if the API key is set.
func (s *OpenAISpeaker) IsConfigured() bool {
	return s.apiKey != ""
}

// Speak implements Speaker.
func (s *OpenAISpeaker) Speak(ctx context.Context, text, lang string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if s.apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}

	body := map[string]any{
		"model":           s.Model,
		"input":           text,
		"voice":           s.Voice,
		"response_format": "mp3",
	}
	if name, ok := languageNames[lang]; ok {
		body["instructions"] = "Read the text aloud in " + name + " with a calm news-reader tone."
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/v1/audio/speech", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("speech API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(audio)))
	}
	return audio, nil
}

// Cached keeps the most recently generated clips in memory.
type Cached struct {
	next  Speaker
	cache *lru.Cache[string, []byte]
}

// NewCached wraps next with an LRU cache of size clips.
func NewCached(next Speaker, size int) (*Cached, error) {
	if size <= 0 {
		size = 100
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &Cached{next: next, cache: cache}, nil
}

// Speak implements Speaker.
func (c *Cached) Speak(ctx context.Context, text, lang string) ([]byte, error) {
	sum := sha256.Sum256([]byte(text))
	key := lang + ":" + hex.EncodeToString(sum[:])

	if audio, ok := c.cache.Get(key); ok {
		metrics.SpeechRequests.WithLabelValues("cached").Inc()
		return audio, nil
	}

	audio, err := c.next.Speak(ctx, text, lang)
	if err != nil {
		metrics.SpeechRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.SpeechRequests.WithLabelValues("generated").Inc()
	c.cache.Add(key, audio)
	return audio, nil
}

// Len returns the number of cached clips.
func (c *Cached) Len() int {
	return c.cache.Len()
}
