package orchestrator

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

type Mode string

const (
	ModeAutonomous Mode = "autonomous"
	ModeApproval   Mode = "approval"
)

type ExecutionMode string

const (
	ExecutionPaper ExecutionMode = "paper"
	ExecutionLive  ExecutionMode = "live"
)

const (
	RefreshBatch  = "batch"
	RefreshMarket = "market"

	DefaultMaxConcurrency  = 4
	DefaultAnalysisTimeout = 60
)

// PositionSizingRules bound the size of a GO. MaxPositionPct is a fraction
// of total equity (0.05 is 5%); values above 1 are read as percentages.
type PositionSizingRules struct {
	MaxBet         float64 `mapstructure:"max_bet" json:"max_bet"`
	MinBet         float64 `mapstructure:"min_bet" json:"min_bet"`
	MaxPositionPct float64 `mapstructure:"max_position_pct" json:"max_position_pct"`
	KellyFraction  float64 `mapstructure:"kelly_fraction" json:"kelly_fraction,omitempty"`
}

type Config struct {
	Mode                   Mode                 `mapstructure:"mode"`
	Execution              ExecutionMode        `mapstructure:"execution"`
	Rules                  *PositionSizingRules `mapstructure:"position_sizing_rules"`
	MaxConcurrency         int                  `mapstructure:"max_concurrency"`
	AnalysisTimeoutSeconds int                  `mapstructure:"analysis_timeout_seconds"`
	PortfolioRefresh       string               `mapstructure:"portfolio_refresh"`
	Platform               string               `mapstructure:"platform"`
	AccountID              string               `mapstructure:"account_id"`
}

// Normalize fills defaults and rejects an unusable configuration.
func (c *Config) Normalize(nodeID string) error {
	if c.Rules == nil {
		return &types.ConfigError{NodeID: nodeID, Field: "position_sizing_rules", Reason: "required"}
	}
	if c.Mode == "" {
		c.Mode = ModeApproval
	}
	if c.Execution == "" {
		c.Execution = ExecutionPaper
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.AnalysisTimeoutSeconds <= 0 {
		c.AnalysisTimeoutSeconds = DefaultAnalysisTimeout
	}
	if c.PortfolioRefresh == "" {
		c.PortfolioRefresh = RefreshBatch
	}
	if c.Platform == "" {
		c.Platform = "predict"
	}

	c.Mode = Mode(strings.ToLower(string(c.Mode)))
	c.Execution = ExecutionMode(strings.ToLower(string(c.Execution)))
	switch c.Mode {
	case ModeAutonomous, ModeApproval:
	default:
		return &types.ConfigError{NodeID: nodeID, Field: "mode", Reason: fmt.Sprintf("unknown mode %q", c.Mode)}
	}
	switch c.Execution {
	case ExecutionPaper, ExecutionLive:
	default:
		return &types.ConfigError{NodeID: nodeID, Field: "execution", Reason: fmt.Sprintf("unknown execution %q", c.Execution)}
	}
	switch c.PortfolioRefresh {
	case RefreshBatch, RefreshMarket:
	default:
		return &types.ConfigError{NodeID: nodeID, Field: "portfolio_refresh", Reason: fmt.Sprintf("unknown refresh %q", c.PortfolioRefresh)}
	}
	if c.Rules.MinBet < 0 || c.Rules.MaxBet < 0 || c.Rules.MaxPositionPct < 0 {
		return &types.ConfigError{NodeID: nodeID, Field: "position_sizing_rules", Reason: "limits must not be negative"}
	}
	if c.Rules.MaxBet > 0 && c.Rules.MinBet > c.Rules.MaxBet {
		return &types.ConfigError{NodeID: nodeID, Field: "position_sizing_rules", Reason: "min_bet exceeds max_bet"}
	}
	return nil
}

// Size clamps the recommended size to max_bet, the position cap and free cash.
// ok is false when the result falls below min_bet.
func (r PositionSizingRules) Size(recommended float64, portfolio types.PortfolioState) (size float64, ok bool, reason string) {
	s := decimal.NewFromFloat(recommended)
	var limits []string

	if r.MaxBet > 0 {
		if maxBet := decimal.NewFromFloat(r.MaxBet); s.GreaterThan(maxBet) {
			s = maxBet
			limits = append(limits, "max_bet")
		}
	}
	if r.MaxPositionPct > 0 {
		pct := decimal.NewFromFloat(r.MaxPositionPct)
		if r.MaxPositionPct > 1 {
			pct = pct.Div(decimal.NewFromInt(100))
		}
		if limit := pct.Mul(decimal.NewFromFloat(portfolio.TotalEquityUSD)); s.GreaterThan(limit) {
			s = limit
			limits = append(limits, "max_position_pct")
		}
	}
	if free := decimal.NewFromFloat(portfolio.FreeCashUSD); s.GreaterThan(free) {
		s = free
		limits = append(limits, "free_cash")
	}
	if s.IsNegative() {
		s = decimal.Zero
	}

	size, _ = s.Round(2).Float64()
	if len(limits) > 0 {
		reason = "clamped by " + strings.Join(limits, ", ")
	}
	if size <= 0 || size < r.MinBet {
		return size, false, fmt.Sprintf("size %.2f below minimum bet %.2f", size, r.MinBet)
	}
	return size, true, reason
}
