package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/conclave-rtc/sfu-core/internal/logging"
	"github.com/conclave-rtc/sfu-core/internal/metrics"
	"github.com/conclave-rtc/sfu-core/internal/room"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// inboundFrame is the JSON shape of a client-originated message: an event
// name, its payload, and an optional client-supplied ackId correlating the
// reply.
type inboundFrame struct {
	Event   room.Event      `json:"event"`
	Payload json.RawMessage `json:"payload"`
	AckID   string          `json:"ackId,omitempty"`
}

// outboundAck is the reply frame for one inbound mutating event.
type outboundAck struct {
	Event   room.Event `json:"event"`
	AckID   string     `json:"ackId,omitempty"`
	Payload any        `json:"payload"`
}

// conn wraps one upgraded WebSocket with its outbound queue and room
// placement, tracked by the Hub so a forced drain can close it directly.
type conn struct {
	ws   *websocket.Conn
	send chan []byte

	roomID  string
	userKey string

	session *room.ClientSession
}

func newConn(ws *websocket.Conn, roomID, userKey string) *conn {
	return &conn{
		ws:      ws,
		send:    make(chan []byte, 256),
		roomID:  roomID,
		userKey: userKey,
	}
}

// writePump drains c.send to the socket until the channel closes or a write fails.
func (c *conn) writePump() {
	defer c.ws.Close()
	for message := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.ws.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump decodes inbound frames and dispatches them through router, until
// the connection errors or closes. onDisconnect runs exactly once on exit.
// limiter may be nil, disabling per-user message rate enforcement.
func (c *conn) readPump(ctx context.Context, r *room.Room, router *room.Router, limiter RateLimiter, onDisconnect func()) {
	defer func() {
		onDisconnect()
		c.ws.Close()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logging.Warn(ctx, "failed to unmarshal inbound frame", zap.Error(err))
			continue
		}

		var payload any
		if len(frame.Payload) > 0 {
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				logging.Warn(ctx, "failed to unmarshal inbound payload", zap.String("event", string(frame.Event)), zap.Error(err))
				continue
			}
		}

		ackID := frame.AckID
		event := frame.Event
		ack := func(reply any) {
			raw, err := json.Marshal(outboundAck{Event: event, AckID: ackID, Payload: reply})
			if err != nil {
				return
			}
			c.session.Send(raw)
		}

		if limiter != nil {
			if err := limiter.CheckWebSocketUser(ctx, c.userKey); err != nil {
				ack(map[string]any{"error": "RateLimited"})
				continue
			}
		}

		router.Dispatch(ctx, r, c.session, event, payload, ack)
	}
}
