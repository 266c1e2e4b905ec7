// Package signals classifies markets from smart-money consensus (OWRR).
package signals

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

type Kind string

const (
	BuyYes Kind = "BUY_YES"
	BuyNo  Kind = "BUY_NO"
	Skip   Kind = "SKIP"
)

const (
	DefaultMinOWRRYes    = 0.65
	DefaultMaxOWRRNo     = 0.35
	DefaultMinConfidence = "medium"
)

var confidenceRank = map[string]int{
	"insufficient_data": 0,
	"low":               1,
	"medium":            2,
	"high":              3,
}

// ConfidenceRank returns the ordinal of a confidence level, -1 when unknown.
func ConfidenceRank(level string) int {
	if r, ok := confidenceRank[strings.ToLower(strings.TrimSpace(level))]; ok {
		return r
	}
	return -1
}

// OWRRResult is the consensus computation for one market.
type OWRRResult struct {
	OWRR         float64 `json:"owrr"`
	Slider       float64 `json:"slider"`
	Confidence   string  `json:"confidence"`
	YesQualified int     `json:"yes_qualified"`
	NoQualified  int     `json:"no_qualified"`
}

// OWRRProvider computes OWRR for a market within its category.
type OWRRProvider interface {
	OWRR(ctx context.Context, market types.Record, category string) (OWRRResult, error)
}

// Config thresholds are pointers so an explicit zero is kept rather than
// replaced by the default.
type Config struct {
	MinOWRRYes     *float64 `mapstructure:"min_owrr_yes"`
	MaxOWRRNo      *float64 `mapstructure:"max_owrr_no"`
	MinConfidence  string   `mapstructure:"min_confidence"`
	MinEdgePercent *float64 `mapstructure:"min_edge_percent"`
}

type thresholds struct {
	minYes, maxNo float64
	minConfidence string
}

func (c Config) resolve() thresholds {
	t := thresholds{minYes: DefaultMinOWRRYes, maxNo: DefaultMaxOWRRNo, minConfidence: c.MinConfidence}
	if c.MinOWRRYes != nil {
		t.minYes = *c.MinOWRRYes
	}
	if c.MaxOWRRNo != nil {
		t.maxNo = *c.MaxOWRRNo
	}
	if ConfidenceRank(t.minConfidence) < 0 {
		t.minConfidence = DefaultMinConfidence
	}
	return t
}

// Signal is the classification attached to a market copy.
type Signal struct {
	Signal          Kind     `json:"signal"`
	Reason          string   `json:"reason"`
	RecommendedSide string   `json:"recommended_side,omitempty"`
	EdgePercent     *float64 `json:"edge_percent,omitempty"`
	OWRR            float64  `json:"owrr"`
	Confidence      string   `json:"confidence"`
}

// Evaluate classifies one market. It never returns BUY_YES or BUY_NO when
// confidence is below the configured minimum.
//
// Edge is measured against the price of the recommended side using that
// side's implied probability: owrr/yes_price-1 for BUY_YES and
// (1-owrr)/no_price-1 for BUY_NO, as a percentage rounded to two places.
func Evaluate(market types.Record, owrr OWRRResult, cfg Config) Signal {
	th := cfg.resolve()
	sig := Signal{Signal: Skip, OWRR: owrr.OWRR, Confidence: owrr.Confidence}

	if ConfidenceRank(owrr.Confidence) < ConfidenceRank(th.minConfidence) {
		sig.Reason = fmt.Sprintf("insufficient confidence: %s below %s", owrr.Confidence, th.minConfidence)
		return sig
	}

	switch {
	case owrr.OWRR >= th.minYes:
		sig.Signal = BuyYes
		sig.RecommendedSide = "YES"
		sig.Reason = fmt.Sprintf("smart money favors YES: owrr %.2f >= %.2f", owrr.OWRR, th.minYes)
	case owrr.OWRR <= th.maxNo:
		sig.Signal = BuyNo
		sig.RecommendedSide = "NO"
		sig.Reason = fmt.Sprintf("smart money favors NO: owrr %.2f <= %.2f", owrr.OWRR, th.maxNo)
	default:
		sig.Reason = fmt.Sprintf("neutral owrr %.2f between %.2f and %.2f", owrr.OWRR, th.maxNo, th.minYes)
		return sig
	}

	yes, yesOK := SidePrice(market, "YES")
	no, noOK := SidePrice(market, "NO")
	if !yesOK || !noOK {
		return sig
	}

	// implied probability of the recommended side against its market price
	prob, price := owrr.OWRR, yes
	if sig.Signal == BuyNo {
		prob, price = 1-owrr.OWRR, no
	}
	if price <= 0 {
		return sig
	}
	edge, _ := decimal.NewFromFloat(prob).
		Div(decimal.NewFromFloat(price)).
		Sub(decimal.NewFromInt(1)).
		Mul(decimal.NewFromInt(100)).
		Round(2).
		Float64()
	sig.EdgePercent = &edge

	if cfg.MinEdgePercent != nil && edge < *cfg.MinEdgePercent {
		sig.Reason = fmt.Sprintf("edge too low: %.2f%% < %.2f%% (was %s)", edge, *cfg.MinEdgePercent, sig.Signal)
		sig.Signal = Skip
		sig.RecommendedSide = ""
	}
	return sig
}

var priceFields = map[string][]string{
	"YES": {"yes_price", "price_yes", "current_price_yes", "outcome_prices.0"},
	"NO":  {"no_price", "price_no", "current_price_no", "outcome_prices.1"},
}

// SidePrice reads the current price of side ("YES" or "NO") from a market record.
func SidePrice(market types.Record, side string) (float64, bool) {
	for _, key := range priceFields[strings.ToUpper(side)] {
		if v, ok := market.Float(key); ok {
			return v, true
		}
		if strings.HasPrefix(key, "outcome_prices.") {
			if v, ok := outcomePrice(market, key[len("outcome_prices."):]); ok {
				return v, true
			}
		}
	}
	return 0, false
}

func outcomePrice(market types.Record, idx string) (float64, bool) {
	raw, ok := market.Get("outcome_prices")
	if !ok {
		return 0, false
	}
	list, ok := raw.([]interface{})
	if !ok {
		return 0, false
	}
	i := 0
	if idx == "1" {
		i = 1
	}
	if i >= len(list) {
		return 0, false
	}
	return types.ToFloat(list[i])
}

// Result carries the retained markets and a tally.
type Result struct {
	Markets []types.Record `json:"markets"`
	Count   int            `json:"count"`
	BuyYes  int            `json:"buy_yes"`
	BuyNo   int            `json:"buy_no"`
	Skipped int            `json:"skipped"`
}

// Evaluator runs Evaluate over a market set using an OWRR provider.
type Evaluator struct {
	provider OWRRProvider
}

func NewEvaluator(provider OWRRProvider) *Evaluator {
	return &Evaluator{provider: provider}
}

// Run keeps only non-SKIP markets, each a copy annotated with its signal.
// Markets without a category and markets whose OWRR lookup fails are skipped.
func (e *Evaluator) Run(ctx context.Context, markets []types.Record, cfg Config) (Result, error) {
	res := Result{Markets: []types.Record{}}
	for i, m := range markets {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		id := m.ID(i)
		category := m.String("category")
		if category == "" {
			log.Warn().Str("market", id).Msg("Market has no category, skipping signal evaluation")
			res.Skipped++
			continue
		}

		owrr, err := e.provider.OWRR(ctx, m, category)
		if err != nil {
			log.Error().Err(err).Str("market", id).Msg("OWRR lookup failed")
			res.Skipped++
			continue
		}

		sig := Evaluate(m, owrr, cfg)
		if sig.Signal == Skip {
			log.Debug().Str("market", id).Str("reason", sig.Reason).Msg("Signal skipped")
			res.Skipped++
			continue
		}

		annotated := m.Clone()
		annotated["signal"] = string(sig.Signal)
		annotated["signal_reason"] = sig.Reason
		annotated["recommended_side"] = sig.RecommendedSide
		if sig.EdgePercent != nil {
			annotated["edge_percent"] = *sig.EdgePercent
		} else {
			annotated["edge_percent"] = nil
		}
		annotated["owrr"] = owrr.OWRR
		annotated["owrr_slider"] = owrr.Slider
		annotated["owrr_confidence"] = owrr.Confidence
		annotated["yes_qualified"] = owrr.YesQualified
		annotated["no_qualified"] = owrr.NoQualified
		res.Markets = append(res.Markets, annotated)

		if sig.Signal == BuyYes {
			res.BuyYes++
		} else {
			res.BuyNo++
		}
	}
	res.Count = len(res.Markets)

	log.Info().
		Int("buy_yes", res.BuyYes).
		Int("buy_no", res.BuyNo).
		Int("skipped", res.Skipped).
		Msg("Smart-money signals evaluated")
	return res, nil
}

// FieldProvider reads precomputed OWRR fields off the market record itself.
// Used when an upstream data source already joined the consensus metrics.
type FieldProvider struct{}

func (FieldProvider) OWRR(_ context.Context, market types.Record, _ string) (OWRRResult, error) {
	v, ok := market.Float("owrr")
	if !ok {
		return OWRRResult{}, fmt.Errorf("market %s has no owrr field", market.ID(0))
	}
	slider, _ := market.Float("owrr_slider")
	yes, _ := market.Float("yes_qualified")
	no, _ := market.Float("no_qualified")
	confidence := market.String("owrr_confidence")
	if confidence == "" {
		confidence = "insufficient_data"
	}
	return OWRRResult{
		OWRR:         v,
		Slider:       slider,
		Confidence:   confidence,
		YesQualified: int(yes),
		NoQualified:  int(no),
	}, nil
}
