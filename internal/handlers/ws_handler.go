package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/novadex/swap-engine/internal/domain/order"
	"github.com/novadex/swap-engine/internal/hub"
	"github.com/novadex/swap-engine/internal/metrics"
)

const (
	wsReadBuffer      = 1024
	wsWriteBuffer     = 1024
	wsWriteTimeout    = 5 * time.Second
	wsMaxMessageBytes = 1 << 20
)

// clientMessage is the frame clients send over the socket.
type clientMessage struct {
	Action string             `json:"action"`
	Order  *order.CreateInput `json:"order,omitempty"`
}

// WSHandler upgrades order-execution WebSocket connections and binds
// them to the notification hub. The same socket receives every status
// push for the orders it submitted.
type WSHandler struct {
	orders   OrderService
	hub      *hub.Hub
	metrics  *metrics.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates the WebSocket handler. allowedOrigins follows
// the CORS configuration; "*" admits any origin.
func NewWSHandler(orders OrderService, h *hub.Hub, m *metrics.Metrics, allowedOrigins []string, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		orders:  orders,
		hub:     h,
		metrics: m,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsReadBuffer,
			WriteBufferSize: wsWriteBuffer,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	exact := make(map[string]bool, len(allowed))
	allowAll := false
	for _, origin := range allowed {
		if origin == "*" {
			allowAll = true
		}
		exact[origin] = true
	}
	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		// Non-browser clients send no Origin header.
		return origin == "" || exact[origin]
	}
}

// wsSubscriber adapts one websocket connection to hub.Subscriber.
// gorilla connections allow a single concurrent writer, so sends are
// serialized under a mutex with a bounded write deadline.
type wsSubscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSubscriber) Send(msg hub.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(msg)
}

func (s *wsSubscriber) Close() error {
	return s.conn.Close()
}

// Execute handles GET /api/orders/execute. The socket accepts
// {action:"execute", order:{...}} frames to create orders and
// {action:"ping"} keepalives; status pushes arrive as they happen.
func (h *WSHandler) Execute(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := &wsSubscriber{conn: conn}
	h.metrics.WSSubscribers.Inc()
	h.logger.Debug("websocket client connected", zap.String("remote", conn.RemoteAddr().String()))

	defer func() {
		h.hub.RemoveSubscriber(sub)
		h.metrics.WSSubscribers.Dec()
		_ = conn.Close()
		h.logger.Debug("websocket client disconnected", zap.String("remote", conn.RemoteAddr().String()))
	}()

	conn.SetReadLimit(wsMaxMessageBytes)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		h.dispatch(c, sub, payload)
	}
}

func (h *WSHandler) dispatch(c *gin.Context, sub *wsSubscriber, payload []byte) {
	var msg clientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		h.sendError(sub, "malformed message")
		return
	}

	switch msg.Action {
	case "execute":
		h.executeOrder(c, sub, msg.Order)
	case "ping":
		h.send(sub, hub.Message{
			Type:      hub.TypeSuccess,
			Message:   "pong",
			Timestamp: time.Now().UTC(),
		})
	default:
		h.sendError(sub, "unknown action: "+msg.Action)
	}
}

func (h *WSHandler) executeOrder(c *gin.Context, sub *wsSubscriber, in *order.CreateInput) {
	if in == nil {
		h.sendError(sub, "execute requires an order")
		return
	}

	o, err := h.orders.Create(c.Request.Context(), *in)
	if err != nil {
		h.sendError(sub, "order rejected: "+err.Error())
		return
	}

	// Bind before acknowledging so the client cannot observe a status
	// push gap between acceptance and subscription.
	h.hub.Register(o.ID, sub)

	h.send(sub, hub.Message{
		Type:      hub.TypeSuccess,
		OrderID:   o.ID,
		Message:   "Order accepted",
		Data:      o,
		Timestamp: time.Now().UTC(),
	})
}

func (h *WSHandler) sendError(sub *wsSubscriber, message string) {
	h.send(sub, hub.Message{
		Type:      hub.TypeError,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

func (h *WSHandler) send(sub *wsSubscriber, msg hub.Message) {
	if err := sub.Send(msg); err != nil {
		h.logger.Debug("websocket send failed", zap.Error(err))
	}
}
