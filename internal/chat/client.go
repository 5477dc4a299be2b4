package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Asker answers a question about a text. A failed call returns an error
// whose message is fit to show the reader.
type Asker interface {
	Query(ctx context.Context, text, question string) (string, error)
}

// BackendError is a non-200 answer from the QA backend.
type BackendError struct {
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("Error %d: %s", e.StatusCode, e.Body)
}

// ConnectionError is a QA backend call that got no usable answer.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("Connection error: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Client calls the QA backend's /ask endpoint.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client for the backend at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Query posts text and question to the backend and returns its answer.
// Errors are *BackendError or *ConnectionError.
func (c *Client) Query(ctx context.Context, text, question string) (string, error) {
	data, err := json.Marshal(map[string]string{"text": text, "question": question})
	if err != nil {
		return "", &ConnectionError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ask", bytes.NewReader(data))
	if err != nil {
		return "", &ConnectionError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ConnectionError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &BackendError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &BackendError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return out.Response, nil
}

// Ask is Query with every failure folded into the returned string.
func (c *Client) Ask(ctx context.Context, text, question string) string {
	reply, err := c.Query(ctx, text, question)
	if err != nil {
		return err.Error()
	}
	return reply
}
