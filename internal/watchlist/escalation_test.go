package watchlist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func momentum(side string, mag float64, at time.Time) types.LiveEvent {
	return types.LiveEvent{Type: types.EventMomentumSpike, Side: side, Magnitude: mag, Timestamp: at}
}

func walletFlow(side string, rank int, at time.Time) types.LiveEvent {
	return types.LiveEvent{Type: types.EventHighScoreWalletFlow, Side: side, Wallet: "0xw", WalletRank: rank, Timestamp: at}
}

func TestEvaluateEscalation(t *testing.T) {
	price := 0.50
	tests := []struct {
		name  string
		event types.LiveEvent
		wc    WatchContext
		want  Level
	}{
		{"weak momentum", momentum("YES", 0.01, t0), WatchContext{}, LevelNone},
		{"momentum alone", momentum("YES", 0.08, t0), WatchContext{}, LevelAlertOnly},
		{"momentum confirmed by wallet", momentum("YES", 0.08, t0),
			WatchContext{Recent: []types.LiveEvent{walletFlow("YES", 10, t0.Add(-5 * time.Minute))}}, LevelReadyToTrade},
		{"wallet on other side", momentum("YES", 0.08, t0),
			WatchContext{Recent: []types.LiveEvent{walletFlow("NO", 10, t0.Add(-5 * time.Minute))}}, LevelAlertOnly},
		{"wallet outside window", momentum("YES", 0.08, t0),
			WatchContext{Recent: []types.LiveEvent{walletFlow("YES", 10, t0.Add(-time.Hour))}}, LevelAlertOnly},
		{"low rank wallet in context", momentum("YES", 0.08, t0),
			WatchContext{Recent: []types.LiveEvent{walletFlow("YES", 400, t0.Add(-time.Minute))}}, LevelAlertOnly},
		{"low rank wallet", walletFlow("YES", 400, t0), WatchContext{}, LevelNone},
		{"unranked wallet", walletFlow("YES", 0, t0), WatchContext{}, LevelNone},
		{"high rank wallet alone", walletFlow("NO", 3, t0), WatchContext{}, LevelAlertOnly},
		{"high rank wallet into momentum", walletFlow("no", 3, t0),
			WatchContext{Recent: []types.LiveEvent{momentum("NO", -0.07, t0.Add(-2 * time.Minute))}}, LevelReadyToTrade},
		{"ready against preferred side", walletFlow("NO", 3, t0),
			WatchContext{PreferredSide: "YES", Recent: []types.LiveEvent{momentum("NO", 0.07, t0)}}, LevelAlertOnly},
		{"ready on preferred side", walletFlow("YES", 3, t0),
			WatchContext{PreferredSide: "yes", Recent: []types.LiveEvent{momentum("YES", 0.07, t0)}}, LevelReadyToTrade},
		{"price move without reference", types.LiveEvent{Type: types.EventPriceMove, NewPriceYes: 0.6}, WatchContext{}, LevelNone},
		{"small price move", types.LiveEvent{Type: types.EventPriceMove, NewPriceYes: 0.51}, WatchContext{LastPriceYes: &price}, LevelNone},
		{"large price move", types.LiveEvent{Type: types.EventPriceMove, NewPriceYes: 0.45}, WatchContext{LastPriceYes: &price}, LevelAlertOnly},
		{"unknown event", types.LiveEvent{Type: "trade"}, WatchContext{}, LevelNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Evaluate(tt.event, tt.wc, EscalationConfig{})
			assert.Equal(t, tt.want, res.Level, res.Reason)
			assert.NotEmpty(t, res.Reason)
		})
	}
}

func TestEvaluateCustomThresholds(t *testing.T) {
	cfg := EscalationConfig{HighConvictionRank: 500, MomentumThreshold: 0.2}
	assert.Equal(t, LevelAlertOnly, Evaluate(walletFlow("YES", 400, t0), WatchContext{}, cfg).Level)
	assert.Equal(t, LevelNone, Evaluate(momentum("YES", 0.1, t0), WatchContext{}, cfg).Level)
}
