package signals

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) OWRR(ctx context.Context, market types.Record, category string) (OWRRResult, error) {
	args := m.Called(market.String("id"), category)
	return args.Get(0).(OWRRResult), args.Error(1)
}

func TestEvaluateBuyYes(t *testing.T) {
	minYes := 0.65
	sig := Evaluate(types.Record{}, OWRRResult{OWRR: 0.70, Confidence: "high"}, Config{MinOWRRYes: &minYes, MinConfidence: "medium"})
	assert.Equal(t, BuyYes, sig.Signal)
	assert.Equal(t, "YES", sig.RecommendedSide)
	assert.Nil(t, sig.EdgePercent, "no prices, no edge")
}

func TestEvaluateClassification(t *testing.T) {
	tests := []struct {
		name       string
		owrr       float64
		confidence string
		want       Kind
		reason     string
	}{
		{"yes at threshold", 0.65, "medium", BuyYes, "favors YES"},
		{"no at threshold", 0.35, "high", BuyNo, "favors NO"},
		{"neutral", 0.5, "high", Skip, "neutral"},
		{"low confidence", 0.9, "low", Skip, "insufficient confidence"},
		{"insufficient data", 0.1, "insufficient_data", Skip, "insufficient confidence"},
		{"unknown confidence", 0.9, "very high", Skip, "insufficient confidence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := Evaluate(types.Record{}, OWRRResult{OWRR: tt.owrr, Confidence: tt.confidence}, Config{})
			assert.Equal(t, tt.want, sig.Signal)
			assert.Contains(t, sig.Reason, tt.reason)
		})
	}
}

func TestEvaluateKeepsExplicitZeroThreshold(t *testing.T) {
	zero := 0.0
	sig := Evaluate(types.Record{}, OWRRResult{OWRR: 0.2, Confidence: "high"}, Config{MaxOWRRNo: &zero})
	assert.Equal(t, Skip, sig.Signal)
	assert.Contains(t, sig.Reason, "between 0.00 and 0.65")

	sig = Evaluate(types.Record{}, OWRRResult{OWRR: 0, Confidence: "high"}, Config{MaxOWRRNo: &zero})
	assert.Equal(t, BuyNo, sig.Signal)
}

func TestEvaluateNeverBuysBelowMinConfidence(t *testing.T) {
	levels := []string{"insufficient_data", "low", "medium", "high", ""}
	for _, min := range levels[:4] {
		for _, got := range levels {
			for _, owrr := range []float64{0, 0.2, 0.35, 0.5, 0.65, 0.8, 1} {
				sig := Evaluate(types.Record{}, OWRRResult{OWRR: owrr, Confidence: got}, Config{MinConfidence: min})
				if ConfidenceRank(got) < ConfidenceRank(min) {
					assert.Equal(t, Skip, sig.Signal, "min=%s got=%s owrr=%v", min, got, owrr)
				}
			}
		}
	}
}

func TestEvaluateEdge(t *testing.T) {
	market := types.Record{"yes_price": 0.5, "no_price": "0.5"}

	sig := Evaluate(market, OWRRResult{OWRR: 0.7, Confidence: "high"}, Config{})
	require.NotNil(t, sig.EdgePercent)
	assert.Equal(t, 40.0, *sig.EdgePercent)

	// NO side compares 1-owrr with the NO price
	sig = Evaluate(market, OWRRResult{OWRR: 0.3, Confidence: "high"}, Config{})
	require.NotNil(t, sig.EdgePercent)
	assert.Equal(t, BuyNo, sig.Signal)
	assert.Equal(t, 40.0, *sig.EdgePercent)

	minEdge := 50.0
	sig = Evaluate(market, OWRRResult{OWRR: 0.7, Confidence: "high"}, Config{MinEdgePercent: &minEdge})
	assert.Equal(t, Skip, sig.Signal)
	assert.Contains(t, sig.Reason, "edge too low")
	assert.Empty(t, sig.RecommendedSide)
}

func TestEvaluateEdgeGateNeedsBothPrices(t *testing.T) {
	minEdge := 50.0
	sig := Evaluate(types.Record{"yes_price": 0.9}, OWRRResult{OWRR: 0.7, Confidence: "high"}, Config{MinEdgePercent: &minEdge})
	assert.Equal(t, BuyYes, sig.Signal)
	assert.Nil(t, sig.EdgePercent)
}

func TestSidePriceOutcomeList(t *testing.T) {
	m := types.Record{"outcome_prices": []interface{}{"0.42", 0.58}}
	yes, ok := SidePrice(m, "yes")
	require.True(t, ok)
	assert.Equal(t, 0.42, yes)
	no, ok := SidePrice(m, "NO")
	require.True(t, ok)
	assert.Equal(t, 0.58, no)
}

func TestEvaluatorRun(t *testing.T) {
	p := new(mockProvider)
	p.On("OWRR", "yes", "Politics").Return(OWRRResult{OWRR: 0.8, Confidence: "high", YesQualified: 7}, nil)
	p.On("OWRR", "no", "Crypto").Return(OWRRResult{OWRR: 0.2, Confidence: "medium"}, nil)
	p.On("OWRR", "flat", "Crypto").Return(OWRRResult{OWRR: 0.5, Confidence: "high"}, nil)
	p.On("OWRR", "broken", "Sports").Return(OWRRResult{}, errors.New("warehouse timeout"))

	markets := []types.Record{
		{"id": "yes", "category": "Politics"},
		{"id": "no", "category": "Crypto"},
		{"id": "flat", "category": "Crypto"},
		{"id": "nocat"},
		{"id": "broken", "category": "Sports"},
	}

	res, err := NewEvaluator(p).Run(context.Background(), markets, Config{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 1, res.BuyYes)
	assert.Equal(t, 1, res.BuyNo)
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, "BUY_YES", res.Markets[0]["signal"])
	assert.Equal(t, "YES", res.Markets[0]["recommended_side"])
	assert.Equal(t, 7, res.Markets[0]["yes_qualified"])
	assert.Equal(t, "NO", res.Markets[1]["recommended_side"])

	_, annotated := markets[0]["signal"]
	assert.False(t, annotated, "source market must not be mutated")
	p.AssertNotCalled(t, "OWRR", "nocat", mock.Anything)
	p.AssertExpectations(t)
}

func TestFieldProvider(t *testing.T) {
	r, err := FieldProvider{}.OWRR(context.Background(), types.Record{"owrr": "0.71", "owrr_confidence": "high", "yes_qualified": 4}, "x")
	require.NoError(t, err)
	assert.Equal(t, 0.71, r.OWRR)
	assert.Equal(t, 4, r.YesQualified)

	_, err = FieldProvider{}.OWRR(context.Background(), types.Record{}, "x")
	assert.Error(t, err)
}
