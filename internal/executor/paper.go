package executor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

type Ledger interface {
	InsertPaperTrade(ctx context.Context, t *types.PaperTrade) error
}

// Paper simulates fills against a virtual bankroll and appends them to the ledger.
type Paper struct {
	ledger      Ledger
	slippageBps int64
}

func NewPaper(ledger Ledger, slippageBps int) *Paper {
	return &Paper{ledger: ledger, slippageBps: int64(slippageBps)}
}

var maxPrice = decimal.RequireFromString("0.99")

// Fill estimates the fill price (side price plus slippage, capped below 1)
// and the shares size buys at that price.
func (p *Paper) Fill(price, sizeUSD float64) (fillPrice, shares float64, err error) {
	if price <= 0 || price >= 1 {
		return 0, 0, fmt.Errorf("price %.4f outside (0, 1)", price)
	}
	if sizeUSD <= 0 {
		return 0, 0, fmt.Errorf("size %.2f must be positive", sizeUSD)
	}

	fill := decimal.NewFromFloat(price).
		Mul(decimal.NewFromInt(10000 + p.slippageBps)).
		Div(decimal.NewFromInt(10000)).
		Round(4)
	if fill.GreaterThan(maxPrice) {
		fill = maxPrice
	}
	n := decimal.NewFromFloat(sizeUSD).Div(fill).RoundFloor(4)

	fillPrice, _ = fill.Float64()
	shares, _ = n.Float64()
	return fillPrice, shares, nil
}

func (p *Paper) Execute(ctx context.Context, order types.Order) (types.OrderResult, error) {
	fill, shares, err := p.Fill(order.Price, order.SizeUSD)
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("paper order on %s: %w", order.MarketID, err)
	}

	trade := &types.PaperTrade{
		ID:         uuid.New().String(),
		StrategyID: order.StrategyID,
		DecisionID: order.DecisionID,
		MarketID:   order.MarketID,
		Side:       order.Side,
		Price:      fill,
		Shares:     shares,
		SizeUSD:    order.SizeUSD,
	}
	if err := p.ledger.InsertPaperTrade(ctx, trade); err != nil {
		return types.OrderResult{}, err
	}

	log.Info().
		Str("strategy", order.StrategyID).
		Str("market", order.MarketID).
		Str("side", order.Side).
		Float64("fill_price", fill).
		Float64("shares", shares).
		Float64("size_usd", order.SizeUSD).
		Msg("Paper trade recorded")

	return types.OrderResult{
		OrderID:   trade.ID,
		Status:    "filled",
		FillPrice: fill,
		Shares:    shares,
		Simulated: true,
	}, nil
}
