package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

// MarketStreamPrefix is prepended to a condition id to name its signal stream.
const MarketStreamPrefix = "market_signals:"

type RedisEventBus struct {
	client *redis.Client
	block  time.Duration
}

func NewRedisEventBus(host string, port int) (*RedisEventBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", host, port),
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Str("addr", fmt.Sprintf("%s:%d", host, port)).Msg("Connected to Redis")

	return &RedisEventBus{client: client, block: time.Second}, nil
}

// Subscribe reads the market's signal stream in the background, starting
// from new entries only. The returned function stops the reader and waits
// for it to exit.
func (b *RedisEventBus) Subscribe(ctx context.Context, conditionID string, handler func(types.LiveEvent)) (func(), error) {
	stream := MarketStreamPrefix + conditionID
	if err := b.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", stream, err)
	}

	// detached from ctx so the subscription outlives the call that opened it
	readCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.read(readCtx, stream, handler)
	}()

	log.Info().Str("stream", stream).Msg("Subscribed to market stream")

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
			log.Info().Str("stream", stream).Msg("Unsubscribed from market stream")
		})
	}, nil
}

func (b *RedisEventBus) read(ctx context.Context, stream string, handler func(types.LiveEvent)) {
	args := &redis.XReadArgs{
		Streams: []string{stream, "$"},
		Block:   b.block,
		Count:   10,
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, err := b.client.XRead(ctx, args).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Str("stream", stream).Msg("Failed to read from stream")
			time.Sleep(time.Second)
			continue
		}

		for _, s := range result {
			for _, message := range s.Messages {
				args.Streams[1] = message.ID

				event, err := parseEvent(message)
				if err != nil {
					log.Error().Err(err).Str("stream", s.Stream).Msg("Failed to parse event")
					continue
				}
				if event.ConditionID == "" {
					event.ConditionID = strings.TrimPrefix(stream, MarketStreamPrefix)
				}
				handler(event)
			}
		}
	}
}

// Publish appends an entry to stream. data is JSON-encoded under "data".
func (b *RedisEventBus) Publish(ctx context.Context, stream, eventType string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	values := map[string]interface{}{
		"id":        uuid.New().String(),
		"type":      eventType,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      string(payload),
	}

	if err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Debug().
		Str("stream", stream).
		Str("type", eventType).
		Msg("Published event")

	return nil
}

// parseEvent decodes a stream entry. Event fields live in the JSON "data"
// value; top-level id, type, condition_id and timestamp take precedence.
func parseEvent(msg redis.XMessage) (types.LiveEvent, error) {
	var event types.LiveEvent
	if dataStr, ok := msg.Values["data"].(string); ok && dataStr != "" {
		if err := json.Unmarshal([]byte(dataStr), &event); err != nil {
			return event, fmt.Errorf("invalid event data: %w", err)
		}
	}

	if v, ok := msg.Values["id"]; ok {
		event.ID = cast.ToString(v)
	}
	if event.ID == "" {
		event.ID = msg.ID
	}
	if v, ok := msg.Values["type"]; ok {
		event.Type = types.LiveEventType(cast.ToString(v))
	}
	if v, ok := msg.Values["condition_id"]; ok {
		event.ConditionID = cast.ToString(v)
	}
	if ts, ok := msg.Values["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			event.Timestamp = t
		}
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	switch event.Type {
	case types.EventMomentumSpike, types.EventHighScoreWalletFlow, types.EventPriceMove:
	default:
		return event, fmt.Errorf("unknown live event type %q", event.Type)
	}
	return event, nil
}

func (b *RedisEventBus) Close() error {
	return b.client.Close()
}
