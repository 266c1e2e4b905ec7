package eventbus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

func TestParseEvent(t *testing.T) {
	msg := redis.XMessage{
		ID: "1700000000000-0",
		Values: map[string]interface{}{
			"type":         "high_score_wallet_flow",
			"condition_id": "0xabc",
			"timestamp":    "2026-03-01T12:00:00Z",
			"data":         `{"side":"YES","wallet":"0xw","wallet_rank":12,"magnitude":1500}`,
		},
	}
	event, err := parseEvent(msg)
	require.NoError(t, err)
	assert.Equal(t, types.EventHighScoreWalletFlow, event.Type)
	assert.Equal(t, "0xabc", event.ConditionID)
	assert.Equal(t, "1700000000000-0", event.ID)
	assert.Equal(t, 12, event.WalletRank)
	assert.Equal(t, "YES", event.Side)
	assert.Equal(t, 2026, event.Timestamp.Year())
}

func TestParseEventRejectsUnknownType(t *testing.T) {
	_, err := parseEvent(redis.XMessage{ID: "1-0", Values: map[string]interface{}{"type": "trade"}})
	assert.Error(t, err)

	_, err = parseEvent(redis.XMessage{ID: "1-0", Values: map[string]interface{}{"type": "price_move", "data": "{"}})
	assert.Error(t, err)
}

func TestWebSocketStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotMarket := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		gotMarket <- r.URL.Query().Get("condition_id")

		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"momentum_spike","side":"NO","magnitude":0.08}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"price_move","new_price_yes":0.61,"new_price_no":0.39}`))
		// hold the connection until the client closes it
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	stream := NewWebSocketStream("ws" + strings.TrimPrefix(srv.URL, "http") + "/signals")
	events := make(chan types.LiveEvent, 4)
	unsubscribe, err := stream.Subscribe(context.Background(), "0xmarket", func(e types.LiveEvent) {
		events <- e
	})
	require.NoError(t, err)

	assert.Equal(t, "0xmarket", <-gotMarket)

	var got []types.LiveEvent
	for len(got) < 2 {
		select {
		case e := <-events:
			got = append(got, e)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	assert.Equal(t, types.EventMomentumSpike, got[0].Type)
	assert.Equal(t, "0xmarket", got[0].ConditionID)
	assert.Equal(t, 0.08, got[0].Magnitude)
	assert.Equal(t, 0.61, got[1].NewPriceYes)

	unsubscribe()
	unsubscribe()
}

func TestWebSocketStreamDialFailure(t *testing.T) {
	stream := NewWebSocketStream("ws://127.0.0.1:1/signals")
	_, err := stream.Subscribe(context.Background(), "0xmarket", func(types.LiveEvent) {})
	assert.Error(t, err)
}
