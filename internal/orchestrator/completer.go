package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPCompleter posts {"prompt": ...} to a completion endpoint.
type HTTPCompleter struct {
	url        string
	httpClient *http.Client
}

func NewHTTPCompleter(url string, timeout time.Duration) *HTTPCompleter {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPCompleter{url: url, httpClient: &http.Client{Timeout: timeout}}
}

// response shapes seen from completion gateways, first non-empty wins
var completionPaths = []string{"text", "completion", "output", "choices.0.message.content", "choices.0.text"}

func (c *HTTPCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion failed (status %d): %s", resp.StatusCode, truncate(string(data), 200))
	}

	if gjson.ValidBytes(data) {
		for _, path := range completionPaths {
			if v := gjson.GetBytes(data, path); v.Type == gjson.String && v.String() != "" {
				return v.String(), nil
			}
		}
	}
	return string(data), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
