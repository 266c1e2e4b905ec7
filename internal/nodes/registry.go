package nodes

import (
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/engine"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

// RegisterAll registers a handler for every node kind
func RegisterAll(eng *engine.Engine, h *Handlers) error {
	handlers := map[types.NodeKind]engine.Handler{
		types.NodeDataSource:       h.DataSource,
		types.NodeFilter:           h.Filter,
		types.NodeCondition:        h.Condition,
		types.NodeAggregation:      h.Aggregation,
		types.NodeTransform:        h.Transform,
		types.NodeWalletFilter:     h.WalletFilter,
		types.NodeMarketFilter:     h.MarketFilter,
		types.NodeSmartMoneySignal: h.SmartMoneySignal,
		types.NodeAddToWatchlist:   h.AddToWatchlist,
		types.NodeOrchestrator:     h.Orchestrate,
		types.NodeHTTPRequest:      h.HTTPRequest,
	}

	for _, kind := range types.NodeKinds {
		if err := eng.RegisterNode(kind, handlers[kind]); err != nil {
			return err
		}
	}
	return nil
}
