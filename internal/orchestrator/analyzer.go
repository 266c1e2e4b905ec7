package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

// ErrMalformedAnalysis marks a completion that cannot be read as a decision.
// It is never defaulted to GO.
var ErrMalformedAnalysis = errors.New("malformed analysis response")

type AnalysisRequest struct {
	Market    map[string]interface{} `json:"market"`
	Portfolio types.PortfolioState   `json:"portfolio"`
	Rules     PositionSizingRules    `json:"position_sizing_rules"`
	Signal    map[string]interface{} `json:"signal,omitempty"`
	Position  map[string]interface{} `json:"current_position,omitempty"`
}

type AnalysisResult struct {
	Decision        types.Decision `json:"decision"`
	Direction       string         `json:"direction,omitempty"`
	RecommendedSize float64        `json:"recommended_size"`
	RiskScore       float64        `json:"risk_score"`
	Reasoning       string         `json:"reasoning"`
	Confidence      float64        `json:"confidence"`
}

// Analyzer judges one opportunity.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (AnalysisResult, error)
}

// Completer is a text completion service.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

const analysisSchema = `{
	"type": "object",
	"required": ["decision"],
	"properties": {
		"decision": {"type": "string", "enum": ["GO", "NO_GO"]},
		"direction": {"type": "string"},
		"recommended_size": {"type": "number", "minimum": 0},
		"risk_score": {"type": "number"},
		"reasoning": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`

// LLMAnalyzer asks a completion service for a JSON verdict and validates it.
type LLMAnalyzer struct {
	completer Completer
	limiter   *rate.Limiter
	schema    *jsonschema.Schema
}

// NewLLMAnalyzer throttles completions to ratePerMinute; zero disables throttling.
func NewLLMAnalyzer(completer Completer, ratePerMinute int) (*LLMAnalyzer, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("analysis.json", strings.NewReader(analysisSchema)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("analysis.json")
	if err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if ratePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(ratePerMinute)/60), 1)
	}
	return &LLMAnalyzer{completer: completer, limiter: limiter, schema: schema}, nil
}

func (a *LLMAnalyzer) Analyze(ctx context.Context, req AnalysisRequest) (AnalysisResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return AnalysisResult{}, err
	}

	prompt, err := buildPrompt(req)
	if err != nil {
		return AnalysisResult{}, err
	}

	text, err := a.completer.Complete(ctx, prompt)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("analysis call failed: %w", err)
	}

	res, err := a.parse(text)
	if err != nil {
		log.Warn().Err(err).Str("market", fmt.Sprint(req.Market["market_id"])).Msg("Rejected analysis response")
		return AnalysisResult{}, err
	}
	return res, nil
}

func (a *LLMAnalyzer) parse(text string) (AnalysisResult, error) {
	raw := extractJSON(text)
	if raw == "" || !gjson.Valid(raw) {
		return AnalysisResult{}, fmt.Errorf("%w: no JSON object in response", ErrMalformedAnalysis)
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return AnalysisResult{}, fmt.Errorf("%w: %v", ErrMalformedAnalysis, err)
	}
	if err := a.schema.Validate(doc); err != nil {
		return AnalysisResult{}, fmt.Errorf("%w: %v", ErrMalformedAnalysis, err)
	}

	parsed := gjson.Parse(raw)
	return AnalysisResult{
		Decision:        types.Decision(parsed.Get("decision").String()),
		Direction:       strings.ToUpper(parsed.Get("direction").String()),
		RecommendedSize: parsed.Get("recommended_size").Float(),
		RiskScore:       parsed.Get("risk_score").Float(),
		Reasoning:       parsed.Get("reasoning").String(),
		Confidence:      parsed.Get("confidence").Float(),
	}, nil
}

// extractJSON returns the outermost {...} span, tolerating prose or code fences around it.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func buildPrompt(req AnalysisRequest) (string, error) {
	payload, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal analysis request: %w", err)
	}
	var b strings.Builder
	b.WriteString("You are the risk desk for a prediction-market trading strategy.\n")
	b.WriteString("Decide whether to take the opportunity below given the portfolio and position sizing rules.\n")
	b.WriteString("Respond with a single JSON object: ")
	b.WriteString(`{"decision":"GO|NO_GO","direction":"YES|NO","recommended_size":<usd>,"risk_score":<1-10>,"reasoning":"...","confidence":<0-1>}`)
	b.WriteString("\n\n")
	b.Write(payload)
	return b.String(), nil
}
