package watchlist

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

type Level string

const (
	LevelNone         Level = "NONE"
	LevelAlertOnly    Level = "ALERT_ONLY"
	LevelReadyToTrade Level = "READY_TO_TRADE"
)

type EscalationResult struct {
	Level  Level  `json:"level"`
	Reason string `json:"reason"`
}

type EscalationConfig struct {
	HighConvictionRank int           `mapstructure:"high_conviction_rank"`
	MomentumThreshold  float64       `mapstructure:"momentum_threshold"`
	PriceMoveThreshold float64       `mapstructure:"price_move_threshold"`
	Window             time.Duration `mapstructure:"window"`
}

func DefaultEscalationConfig() EscalationConfig {
	return EscalationConfig{
		HighConvictionRank: 50,
		MomentumThreshold:  0.05,
		PriceMoveThreshold: 0.03,
		Window:             15 * time.Minute,
	}
}

func (c EscalationConfig) withDefaults() EscalationConfig {
	d := DefaultEscalationConfig()
	if c.HighConvictionRank <= 0 {
		c.HighConvictionRank = d.HighConvictionRank
	}
	if c.MomentumThreshold <= 0 {
		c.MomentumThreshold = d.MomentumThreshold
	}
	if c.PriceMoveThreshold <= 0 {
		c.PriceMoveThreshold = d.PriceMoveThreshold
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	return c
}

// WatchContext is what the evaluator knows about a market besides the
// triggering event.
type WatchContext struct {
	PreferredSide string
	LastPriceYes  *float64
	Recent        []types.LiveEvent
}

// Evaluate classifies a live event. It holds no state: the same event and
// context always produce the same result.
func Evaluate(event types.LiveEvent, wc WatchContext, cfg EscalationConfig) EscalationResult {
	cfg = cfg.withDefaults()

	var res EscalationResult
	switch event.Type {
	case types.EventMomentumSpike:
		res = evalMomentum(event, wc, cfg)
	case types.EventHighScoreWalletFlow:
		res = evalWalletFlow(event, wc, cfg)
	case types.EventPriceMove:
		res = evalPriceMove(event, wc, cfg)
	default:
		return EscalationResult{Level: LevelNone, Reason: fmt.Sprintf("unhandled event %q", event.Type)}
	}

	if res.Level == LevelReadyToTrade && wc.PreferredSide != "" && !strings.EqualFold(wc.PreferredSide, event.Side) {
		return EscalationResult{
			Level:  LevelAlertOnly,
			Reason: fmt.Sprintf("%s, but on %s against preferred side %s", res.Reason, strings.ToUpper(event.Side), strings.ToUpper(wc.PreferredSide)),
		}
	}
	return res
}

func evalMomentum(event types.LiveEvent, wc WatchContext, cfg EscalationConfig) EscalationResult {
	if math.Abs(event.Magnitude) < cfg.MomentumThreshold {
		return EscalationResult{Level: LevelNone, Reason: fmt.Sprintf("momentum %.3f below %.3f", event.Magnitude, cfg.MomentumThreshold)}
	}
	for _, e := range recent(wc.Recent, event.Timestamp, cfg.Window) {
		if e.Type == types.EventHighScoreWalletFlow && highConviction(e, cfg) && sameSide(e, event) {
			return EscalationResult{
				Level:  LevelReadyToTrade,
				Reason: fmt.Sprintf("momentum spike on %s confirmed by wallet %s (rank %d)", side(event), e.Wallet, e.WalletRank),
			}
		}
	}
	return EscalationResult{Level: LevelAlertOnly, Reason: fmt.Sprintf("momentum spike on %s without smart-money confirmation", side(event))}
}

func evalWalletFlow(event types.LiveEvent, wc WatchContext, cfg EscalationConfig) EscalationResult {
	if !highConviction(event, cfg) {
		return EscalationResult{Level: LevelNone, Reason: fmt.Sprintf("wallet rank %d outside top %d", event.WalletRank, cfg.HighConvictionRank)}
	}
	for _, e := range recent(wc.Recent, event.Timestamp, cfg.Window) {
		if e.Type == types.EventMomentumSpike && math.Abs(e.Magnitude) >= cfg.MomentumThreshold && sameSide(e, event) {
			return EscalationResult{
				Level:  LevelReadyToTrade,
				Reason: fmt.Sprintf("wallet %s (rank %d) buying %s into momentum", event.Wallet, event.WalletRank, side(event)),
			}
		}
	}
	return EscalationResult{Level: LevelAlertOnly, Reason: fmt.Sprintf("wallet %s (rank %d) buying %s", event.Wallet, event.WalletRank, side(event))}
}

func evalPriceMove(event types.LiveEvent, wc WatchContext, cfg EscalationConfig) EscalationResult {
	if wc.LastPriceYes == nil {
		return EscalationResult{Level: LevelNone, Reason: "no reference price yet"}
	}
	delta := event.NewPriceYes - *wc.LastPriceYes
	if math.Abs(delta) < cfg.PriceMoveThreshold {
		return EscalationResult{Level: LevelNone, Reason: fmt.Sprintf("price move %.3f below %.3f", delta, cfg.PriceMoveThreshold)}
	}
	return EscalationResult{Level: LevelAlertOnly, Reason: fmt.Sprintf("YES price moved %.3f to %.3f", delta, event.NewPriceYes)}
}

func highConviction(e types.LiveEvent, cfg EscalationConfig) bool {
	return e.WalletRank > 0 && e.WalletRank <= cfg.HighConvictionRank
}

func sameSide(a, b types.LiveEvent) bool {
	return a.Side != "" && strings.EqualFold(a.Side, b.Side)
}

func side(e types.LiveEvent) string {
	if e.Side == "" {
		return "unknown side"
	}
	return strings.ToUpper(e.Side)
}

// recent keeps events within window before at. Events without a timestamp count as recent.
func recent(events []types.LiveEvent, at time.Time, window time.Duration) []types.LiveEvent {
	if at.IsZero() {
		return events
	}
	out := make([]types.LiveEvent, 0, len(events))
	for _, e := range events {
		if e.Timestamp.IsZero() || (at.Sub(e.Timestamp) <= window && !e.Timestamp.After(at)) {
			out = append(out, e)
		}
	}
	return out
}
