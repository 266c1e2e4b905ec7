package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

func (s *Store) InsertDecision(ctx context.Context, d *types.OrchestratorDecision) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = types.StatusPending
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	_, err := s.exec(ctx, `
		INSERT INTO orchestrator_decisions (
			id, execution_id, workflow_id, node_id, strategy_id, market_id, decision, direction,
			recommended_size, risk_score, ai_reasoning, ai_confidence, status, portfolio_snapshot,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ExecutionID, d.WorkflowID, d.NodeID, d.StrategyID, d.MarketID, string(d.Decision), d.Direction,
		d.RecommendedSize, d.RiskScore, d.AIReasoning, d.AIConfidence, string(d.Status), toJSON(d.PortfolioSnapshot),
		millis(d.CreatedAt), millis(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

func (s *Store) UpdateDecisionStatus(ctx context.Context, id string, status types.DecisionStatus) error {
	res, err := s.exec(ctx, `UPDATE orchestrator_decisions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), millis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update decision: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("decision %s not found", id)
	}
	return nil
}

const decisionColumns = `id, execution_id, workflow_id, node_id, strategy_id, market_id, decision, direction,
	recommended_size, risk_score, ai_reasoning, ai_confidence, status, portfolio_snapshot, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDecision(row scanner) (types.OrchestratorDecision, error) {
	var d types.OrchestratorDecision
	var decision, status, snapshot string
	var created, updated int64
	err := row.Scan(
		&d.ID, &d.ExecutionID, &d.WorkflowID, &d.NodeID, &d.StrategyID, &d.MarketID, &decision, &d.Direction,
		&d.RecommendedSize, &d.RiskScore, &d.AIReasoning, &d.AIConfidence, &status, &snapshot, &created, &updated,
	)
	if err != nil {
		return d, err
	}
	d.Decision = types.Decision(decision)
	d.Status = types.DecisionStatus(status)
	d.CreatedAt = fromMillis(created)
	d.UpdatedAt = fromMillis(updated)
	if err := json.Unmarshal([]byte(snapshot), &d.PortfolioSnapshot); err != nil {
		log.Error().Err(err).Str("decision", d.ID).Msg("Failed to parse portfolio snapshot")
	}
	return d, nil
}

// GetDecision returns nil without error when the id is unknown.
func (s *Store) GetDecision(ctx context.Context, id string) (*types.OrchestratorDecision, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+decisionColumns+` FROM orchestrator_decisions WHERE id = ?`), id)
	d, err := scanDecision(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

func (s *Store) ListDecisions(ctx context.Context, executionID string) ([]types.OrchestratorDecision, error) {
	rows, err := s.query(ctx, `SELECT `+decisionColumns+` FROM orchestrator_decisions WHERE execution_id = ? ORDER BY created_at, id`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.OrchestratorDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			log.Error().Err(err).Msg("Failed to scan decision")
			continue
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) InsertNotification(ctx context.Context, n *types.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx, `
		INSERT INTO notifications (id, user_id, strategy_id, type, title, message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.StrategyID, n.Type, n.Title, n.Message, toJSON(n.Metadata), millis(n.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, strategyID string) ([]types.Notification, error) {
	rows, err := s.query(ctx, `
		SELECT id, user_id, strategy_id, type, title, message, metadata, created_at
		FROM notifications WHERE strategy_id = ? ORDER BY created_at, id`, strategyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Notification
	for rows.Next() {
		var n types.Notification
		var metadata string
		var created int64
		if err := rows.Scan(&n.ID, &n.UserID, &n.StrategyID, &n.Type, &n.Title, &n.Message, &metadata, &created); err != nil {
			log.Error().Err(err).Msg("Failed to scan notification")
			continue
		}
		n.CreatedAt = fromMillis(created)
		if err := json.Unmarshal([]byte(metadata), &n.Metadata); err != nil {
			log.Error().Err(err).Str("notification", n.ID).Msg("Failed to parse notification metadata")
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) InsertPaperTrade(ctx context.Context, t *types.PaperTrade) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx, `
		INSERT INTO paper_trades (id, strategy_id, decision_id, market_id, side, price, shares, size_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.StrategyID, t.DecisionID, t.MarketID, t.Side, t.Price, t.Shares, t.SizeUSD, millis(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert paper trade: %w", err)
	}
	return nil
}

func (s *Store) ListPaperTrades(ctx context.Context, strategyID string) ([]types.PaperTrade, error) {
	rows, err := s.query(ctx, `
		SELECT id, strategy_id, decision_id, market_id, side, price, shares, size_usd, created_at
		FROM paper_trades WHERE strategy_id = ? ORDER BY created_at, id`, strategyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.PaperTrade
	for rows.Next() {
		var t types.PaperTrade
		var created int64
		if err := rows.Scan(&t.ID, &t.StrategyID, &t.DecisionID, &t.MarketID, &t.Side, &t.Price, &t.Shares, &t.SizeUSD, &created); err != nil {
			log.Error().Err(err).Msg("Failed to scan paper trade")
			continue
		}
		t.CreatedAt = fromMillis(created)
		out = append(out, t)
	}
	return out, rows.Err()
}
