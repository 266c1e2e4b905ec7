package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

// ErrLiveTradingDisabled is returned for live orders when no venue is configured.
var ErrLiveTradingDisabled = errors.New("live trading is not configured")

// Executor places one order and reports the fill.
type Executor interface {
	Execute(ctx context.Context, order types.Order) (types.OrderResult, error)
}

// Venue posts orders to the account services' /trade endpoint.
type Venue struct {
	predictURL    string
	polymarketURL string
	httpClient    *http.Client
	dryRun        bool
}

func NewVenue(predictURL, polymarketURL string, dryRun bool) *Venue {
	return &Venue{
		predictURL:    predictURL,
		polymarketURL: polymarketURL,
		dryRun:        dryRun,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (v *Venue) Execute(ctx context.Context, order types.Order) (types.OrderResult, error) {
	baseURL := v.predictURL
	if order.Platform == "polymarket" {
		baseURL = v.polymarketURL
	}
	if baseURL == "" {
		return types.OrderResult{}, fmt.Errorf("%w: no url for platform %q", ErrLiveTradingDisabled, order.Platform)
	}
	if order.Price <= 0 {
		return types.OrderResult{}, fmt.Errorf("order on %s has no price", order.MarketID)
	}

	shares, _ := decimal.NewFromFloat(order.SizeUSD).
		Div(decimal.NewFromFloat(order.Price)).
		RoundFloor(4).
		Float64()

	payload := map[string]interface{}{
		"account_id": order.AccountID,
		"market_id":  order.MarketID,
		"side":       order.Side,
		"price":      order.Price,
		"shares":     shares,
		"confirm":    !v.dryRun,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		"POST",
		fmt.Sprintf("%s/trade", baseURL),
		bytes.NewBuffer(jsonData),
	)
	if err != nil {
		return types.OrderResult{}, err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return types.OrderResult{}, fmt.Errorf("order failed (status %d): %v", resp.StatusCode, errResp)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return types.OrderResult{}, err
	}

	out := types.OrderResult{
		OrderID:   cast.ToString(result["order_id"]),
		Status:    cast.ToString(result["status"]),
		FillPrice: cast.ToFloat64(result["fill_price"]),
		Shares:    cast.ToFloat64(result["shares"]),
	}
	if out.FillPrice == 0 {
		out.FillPrice = order.Price
	}
	if out.Shares == 0 {
		out.Shares = shares
	}
	if out.Status == "" {
		out.Status = "submitted"
	}

	log.Info().
		Str("platform", order.Platform).
		Str("account", order.AccountID).
		Str("market", order.MarketID).
		Str("side", order.Side).
		Float64("price", order.Price).
		Float64("size_usd", order.SizeUSD).
		Str("order_id", out.OrderID).
		Bool("dry_run", v.dryRun).
		Msg("Order placed successfully")

	return out, nil
}
