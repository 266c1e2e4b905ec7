package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

// InsertWatchlistItem stores item unless (strategy_id, item_type, item_id)
// already exists. inserted is false for a duplicate; that is not an error.
func (s *Store) InsertWatchlistItem(ctx context.Context, item *types.WatchlistItem) (bool, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = types.WatchWatching
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	res, err := s.exec(ctx, `
		INSERT INTO watchlist_items (id, strategy_id, item_type, item_id, status, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (strategy_id, item_type, item_id) DO NOTHING`,
		item.ID, item.StrategyID, string(item.ItemType), item.ItemID, string(item.Status),
		toJSON(item.Metadata), millis(item.CreatedAt), millis(item.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert watchlist item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) UpdateWatchlistStatus(ctx context.Context, strategyID string, itemType types.ItemType, itemID string, status types.WatchStatus) error {
	_, err := s.exec(ctx, `
		UPDATE watchlist_items SET status = ?, updated_at = ?
		WHERE strategy_id = ? AND item_type = ? AND item_id = ?`,
		string(status), millis(time.Now()), strategyID, string(itemType), itemID,
	)
	if err != nil {
		return fmt.Errorf("failed to update watchlist status: %w", err)
	}
	return nil
}

func (s *Store) DeleteWatchlistItem(ctx context.Context, strategyID string, itemType types.ItemType, itemID string) (bool, error) {
	res, err := s.exec(ctx, `
		DELETE FROM watchlist_items WHERE strategy_id = ? AND item_type = ? AND item_id = ?`,
		strategyID, string(itemType), itemID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete watchlist item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) DeleteWatchlist(ctx context.Context, strategyID string) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM watchlist_items WHERE strategy_id = ?`, strategyID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete watchlist: %w", err)
	}
	return res.RowsAffected()
}

// ListWatchlistItems returns a strategy's items, optionally narrowed to one status.
func (s *Store) ListWatchlistItems(ctx context.Context, strategyID string, status types.WatchStatus) ([]types.WatchlistItem, error) {
	query := `
		SELECT id, strategy_id, item_type, item_id, status, metadata, created_at, updated_at
		FROM watchlist_items
		WHERE strategy_id = ?`
	args := []interface{}{strategyID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []types.WatchlistItem
	for rows.Next() {
		var item types.WatchlistItem
		var itemType, itemStatus, metadata string
		var created, updated int64

		err := rows.Scan(&item.ID, &item.StrategyID, &itemType, &item.ItemID, &itemStatus, &metadata, &created, &updated)
		if err != nil {
			log.Error().Err(err).Msg("Failed to scan watchlist item")
			continue
		}
		item.ItemType = types.ItemType(itemType)
		item.Status = types.WatchStatus(itemStatus)
		item.CreatedAt = fromMillis(created)
		item.UpdatedAt = fromMillis(updated)

		if err := json.Unmarshal([]byte(metadata), &item.Metadata); err != nil {
			log.Error().Err(err).Str("item", item.ItemID).Msg("Failed to parse watchlist metadata")
		}

		items = append(items, item)
	}

	return items, rows.Err()
}
