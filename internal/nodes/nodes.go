// Package nodes implements one handler per node kind. Each handler decodes
// its node's config and delegates to the engine that owns the semantics.
package nodes

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/datasource"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/execution"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/expr"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/filter"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/markets"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/orchestrator"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/signals"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/transform"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/wallets"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/watchlist"
)

// Watchlist is the part of the subscription manager add-to-watchlist needs.
type Watchlist interface {
	Add(ctx context.Context, ec *execution.Context, item types.WatchlistItem) (watchlist.AddResult, error)
}

// Orchestrator runs one decision pass over candidate markets.
type Orchestrator interface {
	Run(ctx context.Context, ec *execution.Context, nodeID string, markets []types.Record, cfg orchestrator.Config) (*orchestrator.Summary, error)
}

// Handlers carries the collaborators node handlers call into. A nil
// collaborator makes its node kind fail with a configuration error.
type Handlers struct {
	Source       datasource.Source
	Watchlist    Watchlist
	Orchestrator Orchestrator
	Signals      *signals.Evaluator
	Markets      *markets.Filter
	HTTP         *http.Client
}

func decode(node types.Node, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(node.Config); err != nil {
		return &types.ConfigError{NodeID: node.ID, Field: "config", Reason: err.Error()}
	}
	return nil
}

func missing(node types.Node, field string) error {
	return &types.ConfigError{NodeID: node.ID, Field: field, Reason: "required"}
}

type dataSourceConfig struct {
	Source  string                 `mapstructure:"source"`
	Filters map[string]interface{} `mapstructure:"filters"`
	Limit   int                    `mapstructure:"limit"`
}

// DataSource loads rows from a named source. Input records are ignored.
func (h *Handlers) DataSource(ctx context.Context, _ *execution.Context, node types.Node, _ []types.Record) (*types.Result, error) {
	var cfg dataSourceConfig
	if err := decode(node, &cfg); err != nil {
		return nil, err
	}
	if cfg.Source == "" {
		return nil, missing(node, "source")
	}
	if h.Source == nil {
		return nil, &types.ConfigError{NodeID: node.ID, Field: "source", Reason: "no data source configured"}
	}

	rows, err := h.Source.Query(ctx, cfg.Source, cfg.Filters)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", cfg.Source, err)
	}
	total := len(rows)
	if cfg.Limit > 0 && len(rows) > cfg.Limit {
		rows = rows[:cfg.Limit]
	}
	return &types.Result{
		Records: rows,
		Summary: map[string]interface{}{"source": cfg.Source, "count": len(rows), "available": total},
	}, nil
}

// Filter runs the legacy list or the v2 condition tree.
func (h *Handlers) Filter(_ context.Context, _ *execution.Context, node types.Node, input []types.Record) (*types.Result, error) {
	var cfg filter.Config
	if err := decode(node, &cfg); err != nil {
		return nil, err
	}
	res := filter.Evaluate(input, cfg)
	summary := map[string]interface{}{"count": res.Count, "originalCount": res.OriginalCount}
	if res.Failures != nil {
		summary["failures"] = res.Failures
	}
	return &types.Result{Records: res.Filtered, Summary: summary}, nil
}

type conditionConfig struct {
	Expression string `mapstructure:"expression"`
}

// Condition keeps records for which the expression is truthy.
func (h *Handlers) Condition(_ context.Context, _ *execution.Context, node types.Node, input []types.Record) (*types.Result, error) {
	var cfg conditionConfig
	if err := decode(node, &cfg); err != nil {
		return nil, err
	}
	if cfg.Expression == "" {
		return nil, missing(node, "expression")
	}
	e, err := expr.Compile(cfg.Expression)
	if err != nil {
		return nil, &types.ConfigError{NodeID: node.ID, Field: "expression", Reason: err.Error()}
	}

	out := make([]types.Record, 0, len(input))
	for _, r := range input {
		if e.Test(r) {
			out = append(out, r)
		}
	}
	return &types.Result{
		Records: out,
		Summary: map[string]interface{}{"count": len(out), "originalCount": len(input)},
	}, nil
}

type aggregationConfig struct {
	Operation    string `mapstructure:"operation"`
	Field        string `mapstructure:"field"`
	GroupBy      string `mapstructure:"group_by"`
	GroupByCamel string `mapstructure:"groupBy"`
}

func (h *Handlers) Aggregation(_ context.Context, _ *execution.Context, node types.Node, input []types.Record) (*types.Result, error) {
	var cfg aggregationConfig
	if err := decode(node, &cfg); err != nil {
		return nil, err
	}
	groupBy := cfg.GroupBy
	if groupBy == "" {
		groupBy = cfg.GroupByCamel
	}
	out, err := transform.Aggregate(input, transform.AggregateConfig{
		Operation: cfg.Operation,
		Field:     cfg.Field,
		GroupBy:   groupBy,
	})
	if err != nil {
		if ce, ok := err.(*types.ConfigError); ok {
			ce.NodeID = node.ID
		}
		return nil, err
	}
	return &types.Result{Records: out, Summary: map[string]interface{}{"count": len(out)}}, nil
}

type transformConfig struct {
	Operations []transform.Operation `mapstructure:"operations"`
}

func (h *Handlers) Transform(_ context.Context, _ *execution.Context, node types.Node, input []types.Record) (*types.Result, error) {
	var cfg transformConfig
	if err := decode(node, &cfg); err != nil {
		return nil, err
	}
	res, err := transform.Run(input, cfg.Operations)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", node.ID, err)
	}
	return &types.Result{
		Records: res.Transformed,
		Summary: map[string]interface{}{"count": res.Count, "operations": len(cfg.Operations)},
	}, nil
}

func (h *Handlers) WalletFilter(_ context.Context, _ *execution.Context, node types.Node, input []types.Record) (*types.Result, error) {
	var cfg wallets.Config
	if err := decode(node, &cfg); err != nil {
		return nil, err
	}
	res := wallets.Rank(input, cfg)
	return &types.Result{
		Records: res.Wallets,
		Summary: map[string]interface{}{"count": res.Count, "original_count": res.OriginalCount},
	}, nil
}

func (h *Handlers) MarketFilter(_ context.Context, _ *execution.Context, node types.Node, input []types.Record) (*types.Result, error) {
	var rules markets.Rules
	if err := decode(node, &rules); err != nil {
		return nil, err
	}
	f := h.Markets
	if f == nil {
		f = markets.NewFilter()
	}
	res := f.Apply(input, rules)
	return &types.Result{
		Records: res.Markets,
		Summary: map[string]interface{}{"count": res.Count, "original_count": res.OriginalCount},
	}, nil
}

func (h *Handlers) SmartMoneySignal(ctx context.Context, _ *execution.Context, node types.Node, input []types.Record) (*types.Result, error) {
	var cfg signals.Config
	if err := decode(node, &cfg); err != nil {
		return nil, err
	}
	ev := h.Signals
	if ev == nil {
		ev = signals.NewEvaluator(signals.FieldProvider{})
	}
	res, err := ev.Run(ctx, input, cfg)
	if err != nil {
		return nil, err
	}
	return &types.Result{
		Records: res.Markets,
		Summary: map[string]interface{}{
			"count":   res.Count,
			"buy_yes": res.BuyYes,
			"buy_no":  res.BuyNo,
			"skipped": res.Skipped,
		},
	}, nil
}

type watchlistConfig struct {
	ItemType types.ItemType `mapstructure:"item_type"`
	IDField  string         `mapstructure:"id_field"`
	Reason   string         `mapstructure:"reason"`
}

// AddToWatchlist records each input market (or wallet) and passes the
// records through annotated with their watch status. One bad record never
// fails the node.
func (h *Handlers) AddToWatchlist(ctx context.Context, ec *execution.Context, node types.Node, input []types.Record) (*types.Result, error) {
	var cfg watchlistConfig
	if err := decode(node, &cfg); err != nil {
		return nil, err
	}
	if h.Watchlist == nil {
		return nil, &types.ConfigError{NodeID: node.ID, Field: "watchlist", Reason: "no watchlist store configured"}
	}
	if cfg.ItemType == "" {
		cfg.ItemType = types.ItemMarket
	}
	switch cfg.ItemType {
	case types.ItemMarket, types.ItemWallet:
	default:
		return nil, &types.ConfigError{NodeID: node.ID, Field: "item_type", Reason: fmt.Sprintf("unknown item type %q", cfg.ItemType)}
	}

	var added, duplicates, subscribed, failed int
	out := make([]types.Record, 0, len(input))
	for i, r := range input {
		id := itemID(r, cfg)
		annotated := r.Clone()
		if id == "" {
			log.Warn().Str("node", node.ID).Int("index", i).Msg("Record has no watchable id, skipping")
			annotated["watchlist_status"] = "skipped"
			failed++
			out = append(out, annotated)
			continue
		}

		res, err := h.Watchlist.Add(ctx, ec, types.WatchlistItem{
			StrategyID: ec.StrategyID,
			ItemType:   cfg.ItemType,
			ItemID:     id,
			Metadata:   watchMetadata(r, cfg, node.ID),
		})
		switch {
		case err != nil:
			log.Error().Err(err).Str("node", node.ID).Str("item", id).Msg("Failed to add watchlist item")
			annotated["watchlist_status"] = "failed"
			failed++
		case res.Duplicate:
			annotated["watchlist_status"] = "duplicate"
			duplicates++
		default:
			annotated["watchlist_status"] = "added"
			added++
		}
		annotated["subscribed"] = res.Subscribed
		if res.Subscribed {
			subscribed++
		}
		out = append(out, annotated)
	}

	return &types.Result{
		Records: out,
		Summary: map[string]interface{}{
			"added":      added,
			"duplicates": duplicates,
			"subscribed": subscribed,
			"failed":     failed,
		},
	}, nil
}

func itemID(r types.Record, cfg watchlistConfig) string {
	if cfg.IDField != "" {
		return r.String(cfg.IDField)
	}
	keys := []string{"condition_id", "market_id", "id"}
	if cfg.ItemType == types.ItemWallet {
		keys = []string{"wallet_address", "address", "id"}
	}
	for _, k := range keys {
		if s := r.String(k); s != "" {
			return s
		}
	}
	return ""
}

func watchMetadata(r types.Record, cfg watchlistConfig, nodeID string) map[string]interface{} {
	md := map[string]interface{}{"node_id": nodeID, "added_at": time.Now().UTC().Format(time.RFC3339)}
	if cfg.Reason != "" {
		md["reason"] = cfg.Reason
	}
	for _, k := range []string{"title", "question", "category", "signal", "recommended_side", "owrr"} {
		if v, ok := r.Get(k); ok && v != nil {
			md[k] = v
		}
	}
	if p, ok := signals.SidePrice(r, "YES"); ok {
		md["price_yes"] = p
	}
	if side := r.String("recommended_side"); side != "" {
		md["preferred_side"] = side
	}
	return md
}

// Orchestrate runs the decision engine and emits one record per decision.
func (h *Handlers) Orchestrate(ctx context.Context, ec *execution.Context, node types.Node, input []types.Record) (*types.Result, error) {
	var cfg orchestrator.Config
	if err := decode(node, &cfg); err != nil {
		return nil, err
	}
	if h.Orchestrator == nil {
		return nil, &types.ConfigError{NodeID: node.ID, Field: "orchestrator", Reason: "no decision engine configured"}
	}

	sum, err := h.Orchestrator.Run(ctx, ec, node.ID, input, cfg)
	if err != nil {
		return nil, err
	}

	out := make([]types.Record, 0, len(sum.Decisions))
	for _, d := range sum.Decisions {
		out = append(out, types.Record{
			"decision_id":      d.ID,
			"market_id":        d.MarketID,
			"decision":         string(d.Decision),
			"direction":        d.Direction,
			"recommended_size": d.RecommendedSize,
			"risk_score":       d.RiskScore,
			"ai_reasoning":     d.AIReasoning,
			"ai_confidence":    d.AIConfidence,
			"status":           string(d.Status),
		})
	}
	return &types.Result{
		Records: out,
		Summary: map[string]interface{}{
			"total":            sum.Total,
			"go":               sum.Go,
			"no_go":            sum.NoGo,
			"pending_approval": sum.PendingApproval,
			"executed":         sum.Executed,
			"failed":           sum.Failed,
		},
	}, nil
}
