package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

// WebSocketStream opens one websocket per watched market against a signal
// gateway. Each text frame carries one JSON-encoded live event.
type WebSocketStream struct {
	baseURL string
	dialer  *websocket.Dialer
}

func NewWebSocketStream(baseURL string) *WebSocketStream {
	return &WebSocketStream{
		baseURL: baseURL,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (s *WebSocketStream) marketURL(conditionID string) (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid websocket url: %w", err)
	}
	q := u.Query()
	q.Set("condition_id", conditionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *WebSocketStream) Subscribe(ctx context.Context, conditionID string, handler func(types.LiveEvent)) (func(), error) {
	target, err := s.marketURL(conditionID)
	if err != nil {
		return nil, err
	}

	conn, _, err := s.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", conditionID, err)
	}

	log.Info().Str("market", conditionID).Msg("Websocket subscription opened")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Str("market", conditionID).Msg("Websocket reader stopped")
				}
				return
			}

			var event types.LiveEvent
			if err := json.Unmarshal(data, &event); err != nil {
				log.Error().Err(err).Str("market", conditionID).Msg("Failed to parse event")
				continue
			}
			if event.ConditionID == "" {
				event.ConditionID = conditionID
			}
			if event.Timestamp.IsZero() {
				event.Timestamp = time.Now().UTC()
			}
			handler(event)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			conn.Close()
			<-done
			log.Info().Str("market", conditionID).Msg("Websocket subscription closed")
		})
	}, nil
}
