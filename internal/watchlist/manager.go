// Package watchlist persists watched markets and wallets, keeps a live
// subscription open per watched market and escalates live events.
package watchlist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/execution"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

var ErrNoLiveStream = errors.New("no live stream configured")

const recentLimit = 50

type Store interface {
	InsertWatchlistItem(ctx context.Context, item *types.WatchlistItem) (bool, error)
	UpdateWatchlistStatus(ctx context.Context, strategyID string, itemType types.ItemType, itemID string, status types.WatchStatus) error
	DeleteWatchlistItem(ctx context.Context, strategyID string, itemType types.ItemType, itemID string) (bool, error)
	DeleteWatchlist(ctx context.Context, strategyID string) (int64, error)
	ListWatchlistItems(ctx context.Context, strategyID string, status types.WatchStatus) ([]types.WatchlistItem, error)
	InsertNotification(ctx context.Context, n *types.Notification) error
}

// LiveStream pushes events for one market until the returned function is called.
type LiveStream interface {
	Subscribe(ctx context.Context, conditionID string, handler func(types.LiveEvent)) (func(), error)
}

// ReadyHook is invoked when a watched market escalates to READY_TO_TRADE.
type ReadyHook func(ctx context.Context, item types.WatchlistItem, event types.LiveEvent, result EscalationResult)

type AddResult struct {
	Duplicate  bool
	Subscribed bool
}

type Manager struct {
	store   Store
	stream  LiveStream
	cfg     EscalationConfig
	onReady ReadyHook

	mu      sync.Mutex
	markets map[string]*marketState
}

// marketState serializes event handling for one watched market
type marketState struct {
	mu           sync.Mutex
	item         types.WatchlistItem
	userID       string
	lastPriceYes *float64
	recent       []types.LiveEvent
}

func NewManager(store Store, stream LiveStream, cfg EscalationConfig) *Manager {
	return &Manager{
		store:   store,
		stream:  stream,
		cfg:     cfg.withDefaults(),
		markets: make(map[string]*marketState),
	}
}

func (m *Manager) OnReady(hook ReadyHook) {
	m.onReady = hook
}

// Add records the item and, for markets, opens a live subscription keyed by
// the condition id. A duplicate is reported, not returned as an error; a
// subscription failure is logged and leaves the item recorded.
func (m *Manager) Add(ctx context.Context, ec *execution.Context, item types.WatchlistItem) (AddResult, error) {
	if item.StrategyID == "" {
		item.StrategyID = ec.StrategyID
	}
	if item.ItemType == "" {
		item.ItemType = types.ItemMarket
	}
	if item.ItemID == "" {
		return AddResult{}, fmt.Errorf("watchlist item has no id")
	}
	item.Status = types.WatchWatching

	inserted, err := m.store.InsertWatchlistItem(ctx, &item)
	if err != nil {
		return AddResult{}, err
	}
	if !inserted {
		log.Info().
			Str("strategy", item.StrategyID).
			Str("item_type", string(item.ItemType)).
			Str("item", item.ItemID).
			Msg("Watchlist item already present")
		return AddResult{Duplicate: true}, nil
	}

	res := AddResult{}
	if item.ItemType == types.ItemMarket {
		if err := m.subscribe(ctx, ec, item); err != nil {
			log.Warn().Err(err).Str("market", item.ItemID).Msg("Live escalation unavailable for watched market")
		} else {
			res.Subscribed = true
		}
	}
	return res, nil
}

func (m *Manager) subscribe(ctx context.Context, ec *execution.Context, item types.WatchlistItem) error {
	if ec.Subscriptions.Has(item.ItemID) {
		return nil
	}
	if m.stream == nil {
		return ErrNoLiveStream
	}

	state := m.track(item, ec.UserID)
	unsubscribe, err := m.stream.Subscribe(ctx, item.ItemID, func(event types.LiveEvent) {
		m.handle(state, event)
	})
	if err != nil {
		return err
	}
	if !ec.Subscriptions.Register(item.ItemID, unsubscribe) {
		return fmt.Errorf("subscription for %s not registered", item.ItemID)
	}
	return nil
}

func (m *Manager) track(item types.WatchlistItem, userID string) *marketState {
	key := item.StrategyID + "/" + item.ItemID
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.markets[key]; ok {
		return s
	}
	s := &marketState{item: item, userID: userID}
	if p, ok := types.Record(item.Metadata).Float("price_yes"); ok {
		s.lastPriceYes = &p
	}
	m.markets[key] = s
	return s
}

func (m *Manager) tracked(strategyID string) []string {
	prefix := strategyID + "/"
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for key, s := range m.markets {
		if strings.HasPrefix(key, prefix) {
			ids = append(ids, s.item.ItemID)
		}
	}
	return ids
}

func (m *Manager) untrack(strategyID, itemID string) {
	m.mu.Lock()
	delete(m.markets, strategyID+"/"+itemID)
	m.mu.Unlock()
}

func (m *Manager) handle(s *marketState, event types.LiveEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	wc := WatchContext{
		PreferredSide: types.Record(s.item.Metadata).String("preferred_side"),
		LastPriceYes:  s.lastPriceYes,
		Recent:        s.recent,
	}
	result := Evaluate(event, wc, m.cfg)

	s.recent = append(s.recent, event)
	if len(s.recent) > recentLimit {
		s.recent = s.recent[len(s.recent)-recentLimit:]
	}
	if event.Type == types.EventPriceMove {
		p := event.NewPriceYes
		s.lastPriceYes = &p
	}

	log.Debug().
		Str("market", s.item.ItemID).
		Str("event", string(event.Type)).
		Str("level", string(result.Level)).
		Str("reason", result.Reason).
		Msg("Live event evaluated")

	if result.Level == LevelNone {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch result.Level {
	case LevelAlertOnly:
		m.notify(ctx, s, "escalation_alert", "Watched market alert", event, result)
	case LevelReadyToTrade:
		if err := m.store.UpdateWatchlistStatus(ctx, s.item.StrategyID, s.item.ItemType, s.item.ItemID, types.WatchTriggered); err != nil {
			log.Error().Err(err).Str("market", s.item.ItemID).Msg("Failed to mark watchlist item triggered")
		}
		s.item.Status = types.WatchTriggered
		m.notify(ctx, s, "ready_to_trade", "Watched market ready to trade", event, result)
		if m.onReady != nil {
			m.onReady(ctx, s.item, event, result)
		}
	}
}

func (m *Manager) notify(ctx context.Context, s *marketState, kind, title string, event types.LiveEvent, result EscalationResult) {
	n := &types.Notification{
		UserID:     s.userID,
		StrategyID: s.item.StrategyID,
		Type:       kind,
		Title:      title,
		Message:    result.Reason,
		Metadata: map[string]interface{}{
			"market_id": s.item.ItemID,
			"event":     string(event.Type),
			"level":     string(result.Level),
			"side":      event.Side,
		},
	}
	if err := m.store.InsertNotification(ctx, n); err != nil {
		log.Error().Err(err).Str("market", s.item.ItemID).Msg("Failed to send escalation notification")
	}
}

// Remove unsubscribes and deletes one item.
func (m *Manager) Remove(ctx context.Context, ec *execution.Context, itemType types.ItemType, itemID string) (bool, error) {
	if itemType == types.ItemMarket {
		ec.Subscriptions.Unsubscribe(itemID)
		m.untrack(ec.StrategyID, itemID)
	}
	return m.store.DeleteWatchlistItem(ctx, ec.StrategyID, itemType, itemID)
}

// Teardown unsubscribes every watched market of the strategy and deletes its
// rows. Tracked markets are closed even when the store cannot list them.
func (m *Manager) Teardown(ctx context.Context, ec *execution.Context) error {
	ids := m.tracked(ec.StrategyID)
	items, listErr := m.store.ListWatchlistItems(ctx, ec.StrategyID, "")
	for _, item := range items {
		if item.ItemType == types.ItemMarket {
			ids = append(ids, item.ItemID)
		}
	}
	closed := 0
	for _, id := range ids {
		if ec.Subscriptions.Unsubscribe(id) {
			closed++
		}
		m.untrack(ec.StrategyID, id)
	}
	if listErr != nil {
		log.Warn().Err(listErr).Str("strategy", ec.StrategyID).Int("unsubscribed", closed).Msg("Failed to list watchlist, closed tracked markets only")
		return listErr
	}

	n, err := m.store.DeleteWatchlist(ctx, ec.StrategyID)
	if err != nil {
		return err
	}
	log.Info().
		Str("strategy", ec.StrategyID).
		Int("unsubscribed", closed).
		Int64("deleted", n).
		Msg("Watchlist torn down")
	return nil
}

// Resume reopens subscriptions for markets still WATCHING, e.g. after a restart.
func (m *Manager) Resume(ctx context.Context, ec *execution.Context) (int, error) {
	items, err := m.store.ListWatchlistItems(ctx, ec.StrategyID, types.WatchWatching)
	if err != nil {
		return 0, err
	}
	opened := 0
	for _, item := range items {
		if item.ItemType != types.ItemMarket || ec.Subscriptions.Has(item.ItemID) {
			continue
		}
		if err := m.subscribe(ctx, ec, item); err != nil {
			log.Warn().Err(err).Str("market", item.ItemID).Msg("Failed to resume market subscription")
			continue
		}
		opened++
	}
	log.Info().Str("strategy", ec.StrategyID).Int("subscriptions", opened).Msg("Watchlist resumed")
	return opened, nil
}
