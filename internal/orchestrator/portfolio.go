package orchestrator

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

type PortfolioProvider interface {
	Portfolio(ctx context.Context, strategyID string) (types.PortfolioState, error)
}

type TradeLister interface {
	ListPaperTrades(ctx context.Context, strategyID string) ([]types.PaperTrade, error)
}

// PaperPortfolio derives bankroll state from the strategy's paper trades.
// Trades are held to resolution, so every recorded trade is deployed capital.
type PaperPortfolio struct {
	trades   TradeLister
	bankroll decimal.Decimal
}

func NewPaperPortfolio(trades TradeLister, bankrollUSD float64) *PaperPortfolio {
	return &PaperPortfolio{trades: trades, bankroll: decimal.NewFromFloat(bankrollUSD)}
}

func (p *PaperPortfolio) Portfolio(ctx context.Context, strategyID string) (types.PortfolioState, error) {
	trades, err := p.trades.ListPaperTrades(ctx, strategyID)
	if err != nil {
		return types.PortfolioState{}, err
	}

	deployed := decimal.Zero
	markets := make(map[string]struct{})
	for _, t := range trades {
		deployed = deployed.Add(decimal.NewFromFloat(t.SizeUSD))
		markets[t.MarketID] = struct{}{}
	}

	free := p.bankroll.Sub(deployed)
	if free.IsNegative() {
		free = decimal.Zero
	}

	state := types.PortfolioState{OpenPositions: len(markets)}
	state.TotalEquityUSD, _ = p.bankroll.Round(2).Float64()
	state.FreeCashUSD, _ = free.Round(2).Float64()
	state.DeployedCapital, _ = deployed.Round(2).Float64()
	return state, nil
}
