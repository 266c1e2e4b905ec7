// Package orchestrator turns candidate markets into GO/NO_GO decisions and
// queues them for approval or executes them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/execution"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/executor"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/signals"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

type Store interface {
	InsertDecision(ctx context.Context, d *types.OrchestratorDecision) error
	UpdateDecisionStatus(ctx context.Context, id string, status types.DecisionStatus) error
	InsertNotification(ctx context.Context, n *types.Notification) error
}

type Engine struct {
	store     Store
	analyzer  Analyzer
	portfolio PortfolioProvider
	paper     executor.Executor
	live      executor.Executor

	maxConcurrency  int
	analysisTimeout int
	accountID       string
}

func NewEngine(store Store, analyzer Analyzer, portfolio PortfolioProvider, paper, live executor.Executor) *Engine {
	return &Engine{
		store:     store,
		analyzer:  analyzer,
		portfolio: portfolio,
		paper:     paper,
		live:      live,
	}
}

// WithDefaults sets the concurrency and analysis timeout used when a node's
// config leaves them unset.
func (e *Engine) WithDefaults(maxConcurrency, analysisTimeoutSeconds int) *Engine {
	e.maxConcurrency = maxConcurrency
	e.analysisTimeout = analysisTimeoutSeconds
	return e
}

// WithAccount sets the venue account used when a node names none.
func (e *Engine) WithAccount(accountID string) *Engine {
	e.accountID = accountID
	return e
}

// Summary tallies one pass. Total counts markets processed without error.
type Summary struct {
	Total           int                          `json:"total"`
	Go              int                          `json:"go"`
	NoGo            int                          `json:"no_go"`
	PendingApproval int                          `json:"pending_approval"`
	Executed        int                          `json:"executed"`
	Failed          int                          `json:"failed"`
	Decisions       []types.OrchestratorDecision `json:"decisions"`
}

type pass struct {
	ec        *execution.Context
	nodeID    string
	cfg       Config
	portfolio *types.PortfolioState
	budget    *cashBudget

	mu        sync.Mutex
	summary   Summary
	decisions map[int]types.OrchestratorDecision
}

// cashBudget is the free cash a pass may still commit. It is seeded from the
// first portfolio snapshot and only shrinks: a later snapshot lowers it but
// never restores cash already reserved by sibling markets.
type cashBudget struct {
	mu        sync.Mutex
	remaining decimal.Decimal
	seeded    bool
}

// reserve takes up to size from the budget and returns the amount granted.
func (b *cashBudget) reserve(size, freeCash float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	free := decimal.NewFromFloat(freeCash)
	if !b.seeded || free.LessThan(b.remaining) {
		b.remaining = free
		b.seeded = true
	}
	granted := decimal.Min(decimal.NewFromFloat(size), b.remaining).Round(2)
	if granted.IsNegative() {
		granted = decimal.Zero
	}
	b.remaining = b.remaining.Sub(granted)
	out, _ := granted.Float64()
	return out
}

func (b *cashBudget) release(amount float64) {
	if amount <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining = b.remaining.Add(decimal.NewFromFloat(amount))
}

func (p *pass) record(index int, d *types.OrchestratorDecision, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.summary.Failed++
		return
	}
	p.summary.Total++
	p.decisions[index] = *d
	if d.Decision == types.DecisionGo {
		p.summary.Go++
	} else {
		p.summary.NoGo++
	}
	switch {
	case d.Status == types.StatusExecuted:
		p.summary.Executed++
	case d.Decision == types.DecisionGo && d.Status == types.StatusPending:
		p.summary.PendingApproval++
	}
}

// Run evaluates markets concurrently, at most cfg.MaxConcurrency at a time.
// A failing or panicking market is logged and counted; it never aborts the pass.
func (e *Engine) Run(ctx context.Context, ec *execution.Context, nodeID string, markets []types.Record, cfg Config) (*Summary, error) {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = e.maxConcurrency
	}
	if cfg.AnalysisTimeoutSeconds <= 0 {
		cfg.AnalysisTimeoutSeconds = e.analysisTimeout
	}
	if cfg.AccountID == "" {
		cfg.AccountID = e.accountID
	}
	if err := cfg.Normalize(nodeID); err != nil {
		return nil, err
	}

	p := &pass{ec: ec, nodeID: nodeID, cfg: cfg, budget: &cashBudget{}, decisions: make(map[int]types.OrchestratorDecision)}

	if cfg.PortfolioRefresh == RefreshBatch {
		state, err := e.portfolio.Portfolio(ctx, ec.StrategyID)
		if err != nil {
			log.Error().Err(err).Str("strategy", ec.StrategyID).Msg("Failed to fetch portfolio, skipping pass")
			p.summary.Failed = len(markets)
			p.summary.Decisions = []types.OrchestratorDecision{}
			return &p.summary, nil
		}
		p.portfolio = &state
	}

	g := new(errgroup.Group)
	g.SetLimit(cfg.MaxConcurrency)
	for i, m := range markets {
		i, m := i, m
		g.Go(func() error {
			d, err := e.invokeSafe(ctx, p, i, m)
			if err != nil {
				log.Error().Err(err).Str("node", nodeID).Str("market", marketID(m, i)).Msg("Market evaluation failed")
			}
			p.record(i, d, err)
			return nil
		})
	}
	_ = g.Wait()

	p.summary.Decisions = make([]types.OrchestratorDecision, 0, len(p.decisions))
	for i := range markets {
		if d, ok := p.decisions[i]; ok {
			p.summary.Decisions = append(p.summary.Decisions, d)
		}
	}

	log.Info().
		Str("node", nodeID).
		Str("execution", ec.ExecutionID).
		Int("candidates", len(markets)).
		Int("total", p.summary.Total).
		Int("go", p.summary.Go).
		Int("no_go", p.summary.NoGo).
		Int("pending_approval", p.summary.PendingApproval).
		Int("executed", p.summary.Executed).
		Int("failed", p.summary.Failed).
		Msg("Orchestrator pass complete")

	return &p.summary, nil
}

func (e *Engine) invokeSafe(ctx context.Context, p *pass, index int, market types.Record) (d *types.OrchestratorDecision, err error) {
	defer func() {
		if r := recover(); r != nil {
			d, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return e.evaluate(ctx, p, index, market)
}

func (e *Engine) evaluate(ctx context.Context, p *pass, index int, market types.Record) (*types.OrchestratorDecision, error) {
	id := marketID(market, index)

	var portfolio types.PortfolioState
	if p.portfolio != nil {
		portfolio = *p.portfolio
	} else {
		state, err := e.portfolio.Portfolio(ctx, p.ec.StrategyID)
		if err != nil {
			return nil, fmt.Errorf("portfolio: %w", err)
		}
		portfolio = state
	}

	req := AnalysisRequest{
		Market:    normalizeMarket(market, id),
		Portfolio: portfolio,
		Rules:     *p.cfg.Rules,
		Signal:    upstreamSignal(market),
		Position:  currentPosition(market),
	}

	actx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.AnalysisTimeoutSeconds)*time.Second)
	analysis, err := e.analyzer.Analyze(actx, req)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}
	if analysis.Decision != types.DecisionGo && analysis.Decision != types.DecisionNoGo {
		return nil, fmt.Errorf("%w: decision %q", ErrMalformedAnalysis, analysis.Decision)
	}

	d := &types.OrchestratorDecision{
		ExecutionID:       p.ec.ExecutionID,
		WorkflowID:        p.ec.WorkflowID,
		NodeID:            p.nodeID,
		StrategyID:        p.ec.StrategyID,
		MarketID:          id,
		Decision:          analysis.Decision,
		RecommendedSize:   analysis.RecommendedSize,
		RiskScore:         analysis.RiskScore,
		AIReasoning:       analysis.Reasoning,
		AIConfidence:      analysis.Confidence,
		Status:            types.StatusPending,
		PortfolioSnapshot: portfolio,
	}

	// reserved is held for queued GOs and handed back when the GO fails.
	var reserved float64
	if d.Decision == types.DecisionGo {
		d.Direction = direction(req.Signal, analysis)
		if d.Direction == "" {
			return nil, fmt.Errorf("%w: GO without a direction", ErrMalformedAnalysis)
		}
		size, ok, reason := p.cfg.Rules.Size(analysis.RecommendedSize, portfolio)
		if ok {
			reserved = p.budget.reserve(size, portfolio.FreeCashUSD)
			if reserved < size {
				size = reserved
				if reason != "" {
					reason += "; "
				}
				reason += fmt.Sprintf("clamped by cash committed this pass, %.2f left", reserved)
				if size <= 0 || size < p.cfg.Rules.MinBet {
					p.budget.release(reserved)
					reserved = 0
					ok = false
					reason += fmt.Sprintf("; size %.2f below minimum bet %.2f", size, p.cfg.Rules.MinBet)
				}
			}
		}
		d.RecommendedSize = size
		if reason != "" {
			d.AIReasoning = strings.TrimSpace(d.AIReasoning + " [sizing: " + reason + "]")
		}
		if !ok {
			d.Decision = types.DecisionNoGo
		}
	}

	if err := e.store.InsertDecision(ctx, d); err != nil {
		p.budget.release(reserved)
		return nil, err
	}

	if d.Decision == types.DecisionNoGo {
		log.Info().Str("market", id).Str("reasoning", d.AIReasoning).Msg("NO_GO recorded")
		return d, nil
	}

	switch p.cfg.Mode {
	case ModeAutonomous:
		if err := e.execute(ctx, p, market, d); err != nil {
			p.budget.release(reserved)
			return nil, err
		}
	case ModeApproval:
		e.requestApproval(ctx, p, d)
	}
	return d, nil
}

func (e *Engine) execute(ctx context.Context, p *pass, market types.Record, d *types.OrchestratorDecision) error {
	exec := e.paper
	if p.cfg.Execution == ExecutionLive {
		exec = e.live
	}
	if exec == nil {
		if p.cfg.Execution == ExecutionLive {
			return executor.ErrLiveTradingDisabled
		}
		return errors.New("no paper executor configured")
	}

	price, ok := signals.SidePrice(market, d.Direction)
	if !ok {
		return fmt.Errorf("market %s has no %s price", d.MarketID, d.Direction)
	}

	result, err := exec.Execute(ctx, types.Order{
		StrategyID: d.StrategyID,
		DecisionID: d.ID,
		Platform:   p.cfg.Platform,
		AccountID:  p.cfg.AccountID,
		MarketID:   d.MarketID,
		Side:       strings.ToLower(d.Direction),
		Price:      price,
		SizeUSD:    d.RecommendedSize,
	})
	if err != nil {
		return fmt.Errorf("execute %s: %w", p.cfg.Execution, err)
	}

	if err := e.store.UpdateDecisionStatus(ctx, d.ID, types.StatusExecuted); err != nil {
		return err
	}
	d.Status = types.StatusExecuted

	log.Info().
		Str("market", d.MarketID).
		Str("direction", d.Direction).
		Float64("size_usd", d.RecommendedSize).
		Float64("fill_price", result.FillPrice).
		Float64("shares", result.Shares).
		Bool("simulated", result.Simulated).
		Msg("Decision executed")
	return nil
}

// requestApproval never fails the decision; the row is the durable record.
func (e *Engine) requestApproval(ctx context.Context, p *pass, d *types.OrchestratorDecision) {
	n := &types.Notification{
		UserID:     p.ec.UserID,
		StrategyID: d.StrategyID,
		Type:       "approval_required",
		Title:      fmt.Sprintf("Approve %s on %s", d.Direction, d.MarketID),
		Message:    fmt.Sprintf("GO %s for $%.2f (risk %.1f): %s", d.Direction, d.RecommendedSize, d.RiskScore, d.AIReasoning),
		Metadata: map[string]interface{}{
			"decision_id":      d.ID,
			"market_id":        d.MarketID,
			"direction":        d.Direction,
			"recommended_size": d.RecommendedSize,
		},
	}
	if err := e.store.InsertNotification(ctx, n); err != nil {
		log.Error().Err(err).Str("decision", d.ID).Msg("Failed to send approval notification")
	}
}

func marketID(m types.Record, index int) string {
	for _, key := range []string{"market_id", "condition_id", "id"} {
		if s := m.String(key); s != "" {
			return s
		}
	}
	return fmt.Sprintf("record_%d", index)
}

func first(m types.Record, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := m.Get(k); ok && !types.IsNull(v) {
			return v
		}
	}
	return nil
}

// normalizeMarket builds the canonical market shape the analysis expects.
func normalizeMarket(m types.Record, id string) map[string]interface{} {
	out := map[string]interface{}{
		"market_id":   id,
		"question":    first(m, "question", "title"),
		"description": first(m, "description"),
		"category":    first(m, "category"),
		"volume":      first(m, "volume", "volume_24h", "volume_usd"),
		"liquidity":   first(m, "liquidity", "liquidity_usd"),
		"closes_at":   first(m, "closes_at", "end_date", "endDate"),
		"yes_price":   nil,
		"no_price":    nil,
	}
	if v, ok := signals.SidePrice(m, "YES"); ok {
		out["yes_price"] = v
	}
	if v, ok := signals.SidePrice(m, "NO"); ok {
		out["no_price"] = v
	}
	return out
}

var signalFields = []string{"signal", "signal_reason", "recommended_side", "edge_percent", "owrr", "owrr_confidence"}

// upstreamSignal passes through what an upstream signal node attached; it
// never synthesizes values.
func upstreamSignal(m types.Record) map[string]interface{} {
	v, ok := m["signal"]
	if !ok || v == nil {
		return nil
	}
	if nested, ok := v.(map[string]interface{}); ok {
		return nested
	}
	out := make(map[string]interface{})
	for _, f := range signalFields {
		if fv, ok := m[f]; ok {
			out[f] = fv
		}
	}
	return out
}

func currentPosition(m types.Record) map[string]interface{} {
	for _, key := range []string{"current_position", "position"} {
		if v, ok := m[key].(map[string]interface{}); ok {
			return v
		}
	}
	return nil
}

func direction(signal map[string]interface{}, analysis AnalysisResult) string {
	if signal != nil {
		if side := strings.ToUpper(types.ToString(signal["recommended_side"])); side == "YES" || side == "NO" {
			return side
		}
	}
	if side := strings.ToUpper(analysis.Direction); side == "YES" || side == "NO" {
		return side
	}
	return ""
}
