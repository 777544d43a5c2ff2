package handlers_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/novadex/swap-engine/internal/domain/order"
	"github.com/novadex/swap-engine/internal/handlers"
	"github.com/novadex/swap-engine/internal/hub"
	"github.com/novadex/swap-engine/internal/metrics"
)

type wsFixture struct {
	hub     *hub.Hub
	metrics *metrics.Metrics
	server  *httptest.Server
	conn    *websocket.Conn
}

func newWSFixture(t *testing.T, svc handlers.OrderService) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := hub.New(zap.NewNop())
	m := metrics.New()
	wsHandler := handlers.NewWSHandler(svc, h, m, []string{"*"}, zap.NewNop())

	router := gin.New()
	router.GET("/api/orders/execute", wsHandler.Execute)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	url := strings.Replace(server.URL, "http", "ws", 1) + "/api/orders/execute"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &wsFixture{hub: h, metrics: m, server: server, conn: conn}
}

func (f *wsFixture) read(t *testing.T) hub.Message {
	t.Helper()
	require.NoError(t, f.conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var msg hub.Message
	require.NoError(t, f.conn.ReadJSON(&msg))
	return msg
}

func (f *wsFixture) write(t *testing.T, frame interface{}) {
	t.Helper()
	require.NoError(t, f.conn.WriteJSON(frame))
}

func TestWSHandler_Ping(t *testing.T) {
	f := newWSFixture(t, &stubOrderService{})

	f.write(t, gin.H{"action": "ping"})

	msg := f.read(t)
	assert.Equal(t, hub.TypeSuccess, msg.Type)
	assert.Equal(t, "pong", msg.Message)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestWSHandler_ExecuteCreatesAndSubscribes(t *testing.T) {
	created := sampleOrder("ws-ord-1")
	svc := &stubOrderService{
		createFn: func(_ context.Context, in order.CreateInput) (*order.Order, error) {
			assert.Equal(t, "SOL", in.TokenIn)
			return created, nil
		},
	}
	f := newWSFixture(t, svc)

	f.write(t, gin.H{
		"action": "execute",
		"order":  gin.H{"tokenIn": "SOL", "tokenOut": "USDC", "amount": "1.0"},
	})

	ack := f.read(t)
	require.Equal(t, hub.TypeSuccess, ack.Type)
	assert.Equal(t, "ws-ord-1", ack.OrderID)
	assert.Equal(t, "Order accepted", ack.Message)

	// The acceptance frame is sent after the hub binding, so status
	// pushes from here on must reach this socket.
	assert.Equal(t, 1, f.hub.Len())

	f.hub.PushOrderUpdate("ws-ord-1", "processing", map[string]interface{}{"attempt": 1})

	push := f.read(t)
	assert.Equal(t, hub.TypeStatus, push.Type)
	assert.Equal(t, "ws-ord-1", push.OrderID)
	assert.Equal(t, "processing", push.Status)
}

func TestWSHandler_ExecuteRejection(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(context.Context, order.CreateInput) (*order.Order, error) {
			return nil, order.ErrValidation
		},
	}
	f := newWSFixture(t, svc)

	f.write(t, gin.H{
		"action": "execute",
		"order":  gin.H{"tokenIn": "SOL", "tokenOut": "SOL", "amount": "1.0"},
	})

	msg := f.read(t)
	assert.Equal(t, hub.TypeError, msg.Type)
	assert.Contains(t, msg.Message, "order rejected")
	assert.Equal(t, 0, f.hub.Len())
}

func TestWSHandler_MalformedAndUnknownFrames(t *testing.T) {
	f := newWSFixture(t, &stubOrderService{})

	require.NoError(t, f.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := f.read(t)
	assert.Equal(t, hub.TypeError, msg.Type)
	assert.Equal(t, "malformed message", msg.Message)

	// The connection survives a bad frame.
	f.write(t, gin.H{"action": "warp"})
	msg = f.read(t)
	assert.Equal(t, hub.TypeError, msg.Type)
	assert.Contains(t, msg.Message, "unknown action")

	f.write(t, gin.H{"action": "execute"})
	msg = f.read(t)
	assert.Equal(t, hub.TypeError, msg.Type)
	assert.Contains(t, msg.Message, "requires an order")
}

func TestWSHandler_DisconnectCleansUp(t *testing.T) {
	created := sampleOrder("ws-ord-2")
	svc := &stubOrderService{
		createFn: func(context.Context, order.CreateInput) (*order.Order, error) {
			return created, nil
		},
	}
	f := newWSFixture(t, svc)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.WSSubscribers) == 1
	}, time.Second, 10*time.Millisecond)

	f.write(t, gin.H{
		"action": "execute",
		"order":  gin.H{"tokenIn": "SOL", "tokenOut": "USDC", "amount": "1.0"},
	})
	f.read(t)
	require.Equal(t, 1, f.hub.Len())

	require.NoError(t, f.conn.Close())

	assert.Eventually(t, func() bool {
		return f.hub.Len() == 0 && testutil.ToFloat64(f.metrics.WSSubscribers) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
