package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/execution"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

const defaultHTTPTimeout = 30 * time.Second

type httpRequestConfig struct {
	URL            string            `mapstructure:"url"`
	Method         string            `mapstructure:"method"`
	Headers        map[string]string `mapstructure:"headers"`
	Body           interface{}       `mapstructure:"body"`
	RecordsPath    string            `mapstructure:"records_path"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
}

// HTTPRequest calls an external endpoint and turns its JSON response into
// records. Without an explicit body, POST and PUT send the input records.
func (h *Handlers) HTTPRequest(ctx context.Context, _ *execution.Context, node types.Node, input []types.Record) (*types.Result, error) {
	var cfg httpRequestConfig
	if err := decode(node, &cfg); err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, missing(node, "url")
	}
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	payload := cfg.Body
	if payload == nil && (method == http.MethodPost || method == http.MethodPut) {
		payload = map[string]interface{}{"records": input}
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
	if err != nil {
		return nil, &types.ConfigError{NodeID: node.ID, Field: "url", Reason: err.Error()}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	client := h.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", cfg.URL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request %s returned %d: %s", cfg.URL, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("request %s: response is not JSON", cfg.URL)
	}

	selected := gjson.ParseBytes(raw)
	if cfg.RecordsPath != "" {
		selected = selected.Get(cfg.RecordsPath)
	}
	records := []types.Record{}
	if selected.Exists() {
		records = types.ToRecords(selected.Value())
	}

	return &types.Result{
		Records: records,
		Summary: map[string]interface{}{"status": resp.StatusCode, "count": len(records)},
	}, nil
}
