package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Record represents one market, wallet or trade row flowing through a pipeline
type Record map[string]interface{}

// Get returns the value stored under field. Dotted paths reach into nested mappings.
func (r Record) Get(field string) (interface{}, bool) {
	if r == nil {
		return nil, false
	}
	if v, ok := r[field]; ok {
		return v, true
	}
	if !strings.Contains(field, ".") {
		return nil, false
	}

	var cur interface{} = map[string]interface{}(r)
	for _, part := range strings.Split(field, ".") {
		switch m := cur.(type) {
		case map[string]interface{}:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		case Record:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

// Float returns the numeric value of field, false when absent or non-numeric.
func (r Record) Float(field string) (float64, bool) {
	v, ok := r.Get(field)
	if !ok {
		return 0, false
	}
	return ToFloat(v)
}

// String returns the stringified value of field, "" when absent.
func (r Record) String(field string) string {
	v, _ := r.Get(field)
	return ToString(v)
}

// Clone returns a shallow copy so annotations never touch the source row.
func (r Record) Clone() Record {
	out := make(Record, len(r)+4)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ID identifies a record in diagnostics. Falls back to its position in the batch.
func (r Record) ID(index int) string {
	for _, key := range []string{"id", "condition_id", "market_id", "wallet_address"} {
		if s := r.String(key); s != "" {
			return s
		}
	}
	return fmt.Sprintf("record_%d", index)
}

// NodeKind selects the executor for a node
type NodeKind string

const (
	NodeDataSource       NodeKind = "data-source"
	NodeFilter           NodeKind = "filter"
	NodeCondition        NodeKind = "condition"
	NodeAggregation      NodeKind = "aggregation"
	NodeTransform        NodeKind = "transform"
	NodeWalletFilter     NodeKind = "wallet-filter"
	NodeMarketFilter     NodeKind = "market-filter"
	NodeSmartMoneySignal NodeKind = "smart-money-signal"
	NodeAddToWatchlist   NodeKind = "add-to-watchlist"
	NodeOrchestrator     NodeKind = "orchestrator"
	NodeHTTPRequest      NodeKind = "http-request"
)

// NodeKinds is the closed set of kinds the dispatcher accepts.
var NodeKinds = []NodeKind{
	NodeDataSource,
	NodeFilter,
	NodeCondition,
	NodeAggregation,
	NodeTransform,
	NodeWalletFilter,
	NodeMarketFilter,
	NodeSmartMoneySignal,
	NodeAddToWatchlist,
	NodeOrchestrator,
	NodeHTTPRequest,
}

// Valid reports whether k belongs to the closed node-kind set.
func (k NodeKind) Valid() bool {
	for _, known := range NodeKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Node is one step of a workflow. Nodes carry no state between invocations.
type Node struct {
	ID     string                 `json:"id" yaml:"id"`
	Type   NodeKind               `json:"type" yaml:"type"`
	Config map[string]interface{} `json:"config" yaml:"config"`
}

// Workflow is a linear pipeline of nodes owned by a strategy
type Workflow struct {
	ID         string `json:"id" yaml:"id"`
	StrategyID string `json:"strategy_id" yaml:"strategy_id"`
	Name       string `json:"name" yaml:"name"`
	Nodes      []Node `json:"nodes" yaml:"nodes"`
}

// Result is the uniform envelope every node invocation returns
type Result struct {
	NodeID   string                 `json:"node_id"`
	Kind     NodeKind               `json:"kind"`
	Success  bool                   `json:"success"`
	Records  []Record               `json:"records"`
	Summary  map[string]interface{} `json:"summary,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Duration time.Duration          `json:"duration"`
}

var (
	ErrInvalidConfig   = errors.New("invalid node config")
	ErrUnknownNodeKind = errors.New("unknown node kind")
)

// ConfigError reports a missing or malformed node configuration field.
type ConfigError struct {
	NodeID string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("node %s: config %s: %s", e.NodeID, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// LiveEventType distinguishes events delivered by a live market subscription
type LiveEventType string

const (
	EventMomentumSpike       LiveEventType = "momentum_spike"
	EventHighScoreWalletFlow LiveEventType = "high_score_wallet_flow"
	EventPriceMove           LiveEventType = "price_move"
)

// LiveEvent represents an event pushed by the live signal stream
type LiveEvent struct {
	ID          string        `json:"id"`
	Type        LiveEventType `json:"type"`
	ConditionID string        `json:"condition_id"`
	Timestamp   time.Time     `json:"timestamp"`

	// momentum_spike, high_score_wallet_flow
	Side      string  `json:"side,omitempty"` // YES, NO
	Magnitude float64 `json:"magnitude,omitempty"`

	// high_score_wallet_flow
	Wallet     string `json:"wallet,omitempty"`
	WalletRank int    `json:"wallet_rank,omitempty"`

	// price_move
	NewPriceYes float64 `json:"new_price_yes,omitempty"`
	NewPriceNo  float64 `json:"new_price_no,omitempty"`
}

type ItemType string

const (
	ItemMarket ItemType = "MARKET"
	ItemWallet ItemType = "WALLET"
)

type WatchStatus string

const (
	WatchWatching  WatchStatus = "WATCHING"
	WatchTriggered WatchStatus = "TRIGGERED"
)

// WatchlistItem is a market or wallet a strategy keeps an eye on
type WatchlistItem struct {
	ID         string                 `json:"id"`
	StrategyID string                 `json:"strategy_id"`
	ItemType   ItemType               `json:"item_type"`
	ItemID     string                 `json:"item_id"`
	Status     WatchStatus            `json:"status"`
	Metadata   map[string]interface{} `json:"metadata"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// PortfolioState is a point-in-time bankroll snapshot
type PortfolioState struct {
	TotalEquityUSD  float64 `json:"bankroll_total_equity_usd"`
	FreeCashUSD     float64 `json:"bankroll_free_cash_usd"`
	DeployedCapital float64 `json:"deployed_capital"`
	OpenPositions   int     `json:"open_positions"`
	RecentPnL       float64 `json:"recent_pnl"`
	WinRate7d       float64 `json:"win_rate_7d"`
	CurrentDrawdown float64 `json:"current_drawdown"`
}

type Decision string

const (
	DecisionGo   Decision = "GO"
	DecisionNoGo Decision = "NO_GO"
)

type DecisionStatus string

const (
	StatusPending  DecisionStatus = "pending"
	StatusApproved DecisionStatus = "approved"
	StatusRejected DecisionStatus = "rejected"
	StatusExecuted DecisionStatus = "executed"
)

// OrchestratorDecision is the durable record of one market's evaluation
type OrchestratorDecision struct {
	ID                string         `json:"id"`
	ExecutionID       string         `json:"execution_id"`
	WorkflowID        string         `json:"workflow_id"`
	NodeID            string         `json:"node_id"`
	StrategyID        string         `json:"strategy_id"`
	MarketID          string         `json:"market_id"`
	Decision          Decision       `json:"decision"`
	Direction         string         `json:"direction"`
	RecommendedSize   float64        `json:"recommended_size"`
	RiskScore         float64        `json:"risk_score"`
	AIReasoning       string         `json:"ai_reasoning"`
	AIConfidence      float64        `json:"ai_confidence"`
	Status            DecisionStatus `json:"status"`
	PortfolioSnapshot PortfolioState `json:"portfolio_snapshot"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Position represents a strategy's open position on a market
type Position struct {
	AccountID string    `json:"account_id"`
	Platform  string    `json:"platform"`
	MarketID  string    `json:"market_id"`
	OutcomeID string    `json:"outcome_id"`
	Side      string    `json:"side"`
	Shares    float64   `json:"shares"`
	AvgPrice  float64   `json:"avg_price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Order represents a trade to place on the venue or the paper ledger
type Order struct {
	StrategyID string                 `json:"strategy_id"`
	DecisionID string                 `json:"decision_id"`
	Platform   string                 `json:"platform"` // predict, polymarket
	AccountID  string                 `json:"account_id"`
	MarketID   string                 `json:"market_id"`
	Side       string                 `json:"side"` // yes, no
	Price      float64                `json:"price"`
	SizeUSD    float64                `json:"size_usd"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// OrderResult is what an execution hook reports back
type OrderResult struct {
	OrderID   string  `json:"order_id"`
	Status    string  `json:"status"`
	FillPrice float64 `json:"fill_price"`
	Shares    float64 `json:"shares"`
	Simulated bool    `json:"simulated"`
}

// PaperTrade is a simulated fill against the virtual bankroll
type PaperTrade struct {
	ID         string    `json:"id"`
	StrategyID string    `json:"strategy_id"`
	DecisionID string    `json:"decision_id"`
	MarketID   string    `json:"market_id"`
	Side       string    `json:"side"`
	Price      float64   `json:"price"`
	Shares     float64   `json:"shares"`
	SizeUSD    float64   `json:"size_usd"`
	CreatedAt  time.Time `json:"created_at"`
}

// Notification is a message surfaced to a strategy owner
type Notification struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"user_id"`
	StrategyID string                 `json:"strategy_id"`
	Type       string                 `json:"type"` // approval_required, escalation_alert, ready_to_trade
	Title      string                 `json:"title"`
	Message    string                 `json:"message"`
	Metadata   map[string]interface{} `json:"metadata"`
	CreatedAt  time.Time              `json:"created_at"`
}
