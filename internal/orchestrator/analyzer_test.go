package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

type cannedCompleter struct {
	text   string
	err    error
	prompt string
}

func (c *cannedCompleter) Complete(_ context.Context, prompt string) (string, error) {
	c.prompt = prompt
	return c.text, c.err
}

func analyze(t *testing.T, text string) (AnalysisResult, error) {
	t.Helper()
	a, err := NewLLMAnalyzer(&cannedCompleter{text: text}, 0)
	require.NoError(t, err)
	return a.Analyze(context.Background(), AnalysisRequest{Market: map[string]interface{}{"market_id": "m1"}})
}

func TestAnalyzeParsesFencedJSON(t *testing.T) {
	res, err := analyze(t, "Here is my call:\n```json\n{\"decision\":\"GO\",\"direction\":\"yes\",\"recommended_size\":42.5,\"risk_score\":4,\"reasoning\":\"whales aligned\",\"confidence\":0.7}\n```")
	require.NoError(t, err)
	assert.Equal(t, types.DecisionGo, res.Decision)
	assert.Equal(t, "YES", res.Direction)
	assert.Equal(t, 42.5, res.RecommendedSize)
	assert.Equal(t, 4.0, res.RiskScore)
	assert.Equal(t, "whales aligned", res.Reasoning)
	assert.Equal(t, 0.7, res.Confidence)
}

func TestAnalyzeRejectsMalformed(t *testing.T) {
	for name, text := range map[string]string{
		"no json":          "I think you should buy.",
		"broken json":      `{"decision": "GO",`,
		"missing decision": `{"recommended_size": 10}`,
		"unknown decision": `{"decision": "MAYBE"}`,
		"negative size":    `{"decision": "GO", "recommended_size": -5}`,
		"bad confidence":   `{"decision": "NO_GO", "confidence": 3}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := analyze(t, text)
			assert.True(t, errors.Is(err, ErrMalformedAnalysis), "%v", err)
		})
	}
}

func TestAnalyzePropagatesCompleterError(t *testing.T) {
	a, err := NewLLMAnalyzer(&cannedCompleter{err: errors.New("timeout")}, 60)
	require.NoError(t, err)
	_, err = a.Analyze(context.Background(), AnalysisRequest{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrMalformedAnalysis))
}

func TestAnalyzePromptCarriesRequest(t *testing.T) {
	c := &cannedCompleter{text: `{"decision":"NO_GO"}`}
	a, err := NewLLMAnalyzer(c, 0)
	require.NoError(t, err)
	_, err = a.Analyze(context.Background(), AnalysisRequest{
		Market: map[string]interface{}{"market_id": "m7"},
		Rules:  PositionSizingRules{MaxBet: 25},
	})
	require.NoError(t, err)
	assert.Contains(t, c.prompt, `"market_id": "m7"`)
	assert.Contains(t, c.prompt, `"max_bet": 25`)
	assert.NotContains(t, c.prompt, `"signal"`)
}

func TestAnalyzeHonoursCancelledContext(t *testing.T) {
	a, err := NewLLMAnalyzer(&cannedCompleter{text: `{"decision":"GO"}`}, 1)
	require.NoError(t, err)
	// first call consumes the single token
	_, err = a.Analyze(context.Background(), AnalysisRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Analyze(ctx, AnalysisRequest{})
	assert.Error(t, err)
}

func TestHTTPCompleter(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"text field", `{"text":"{\"decision\":\"GO\"}"}`, `{"decision":"GO"}`},
		{"chat choices", `{"choices":[{"message":{"content":"hello"}}]}`, "hello"},
		{"raw body", `plain words`, "plain words"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var req map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "ping", req["prompt"])
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := NewHTTPCompleter(srv.URL, 0).Complete(context.Background(), "ping")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTTPCompleterStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	_, err := NewHTTPCompleter(srv.URL, 0).Complete(context.Background(), "ping")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

type tradeList []types.PaperTrade

func (l tradeList) ListPaperTrades(context.Context, string) ([]types.PaperTrade, error) {
	return l, nil
}

func TestPaperPortfolio(t *testing.T) {
	p := NewPaperPortfolio(tradeList{
		{MarketID: "m1", SizeUSD: 100.1},
		{MarketID: "m1", SizeUSD: 50.2},
		{MarketID: "m2", SizeUSD: 25},
	}, 1000)
	state, err := p.Portfolio(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, state.TotalEquityUSD)
	assert.Equal(t, 175.3, state.DeployedCapital)
	assert.Equal(t, 824.7, state.FreeCashUSD)
	assert.Equal(t, 2, state.OpenPositions)

	state, err = NewPaperPortfolio(tradeList{{MarketID: "m1", SizeUSD: 50}}, 20).Portfolio(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, state.FreeCashUSD)
}
