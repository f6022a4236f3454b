package detector

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

// maxOllamaResponse caps how much of a reply is read.
const maxOllamaResponse = 10 << 20 // 10 MB

type ollamaRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// OllamaClient is a Completer backed by an Ollama server's /api/generate.
type OllamaClient struct {
	url   string
	model string
	http  *http.Client
}

// NewOllamaClient returns a client for endpoint (e.g. http://localhost:11434).
// timeout bounds each round trip; zero means no client-side limit.
func NewOllamaClient(endpoint, model string, timeout time.Duration) *OllamaClient {
	return &OllamaClient{
		url:   strings.TrimRight(endpoint, "/") + "/api/generate",
		model: model,
		http:  &http.Client{Timeout: timeout},
	}
}

// Complete implements Completer with a single non-streaming generate call
// at temperature 0.
func (c *OllamaClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	reqBody, err := json.Marshal(ollamaRequest{
		Model:   c.model,
		System:  system,
		Prompt:  prompt,
		Stream:  false,
		Options: map[string]any{"temperature": 0},
	})
	if err != nil {
		return "", fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req) // #nosec G107 -- URL from trusted config, not user input
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOllamaResponse))
	if err != nil {
		return "", fmt.Errorf("read ollama response: %w", err)
	}

	var out ollamaResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("ollama response parse error (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama status %d: %s", resp.StatusCode, out.Error)
	}
	return out.Response, nil
}
