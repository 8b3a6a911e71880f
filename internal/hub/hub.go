// Package hub implements C9 (Drain & Lifecycle Manager) and the process-wide
// room registry: WebSocket upgrade/auth, room creation/lookup, and the
// forced-drain broadcast used for graceful restarts.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/conclave-rtc/sfu-core/internal/auth"
	"github.com/conclave-rtc/sfu-core/internal/bus"
	"github.com/conclave-rtc/sfu-core/internal/logging"
	"github.com/conclave-rtc/sfu-core/internal/mediaengine"
	"github.com/conclave-rtc/sfu-core/internal/metrics"
	"github.com/conclave-rtc/sfu-core/internal/room"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TokenValidator authenticates the bearer token presented at WebSocket
// upgrade time; satisfied by *auth.Validator and *auth.MockValidator.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// RateLimiter enforces WS connection and per-user message rates; satisfied
// by *ratelimit.RateLimiter. Nil disables rate limiting.
type RateLimiter interface {
	CheckWebSocketIP(c *gin.Context) bool
	CheckWebSocketUser(ctx context.Context, userKey string) error
}

// Hub is C9 plus the room registry: it owns WebSocket upgrade/auth, creates
// and retires Room instances, and broadcasts the forced-drain sequence.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room.Room

	connsMu sync.Mutex
	conns   map[*conn]struct{}

	validator      TokenValidator
	limiter        RateLimiter
	admission      *room.Engine
	router         *room.Router
	engine         *mediaengine.Client
	busService     *bus.Service
	cfg            room.Config
	allowedOrigins []string
}

// New wires the hub to its dependencies. limiter and busService may be nil.
func New(validator TokenValidator, limiter RateLimiter, admission *room.Engine, router *room.Router,
	engine *mediaengine.Client, busService *bus.Service, cfg room.Config, allowedOrigins []string) *Hub {
	return &Hub{
		rooms:          make(map[string]*room.Room),
		conns:          make(map[*conn]struct{}),
		validator:      validator,
		limiter:        limiter,
		admission:      admission,
		router:         router,
		engine:         engine,
		busService:     busService,
		cfg:            cfg,
		allowedOrigins: allowedOrigins,
	}
}

// GetOrCreateRoom satisfies room.Registry. Rooms self-manage their own
// empty/admin-absence GC timer (Room.evaluateLifecycle) and call back into
// removeRoom when they decide to close.
func (h *Hub) GetOrCreateRoom(ctx context.Context, channelID string, allowCreate bool) (*room.Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[channelID]; ok {
		return r, nil
	}
	if !allowCreate {
		return nil, room.NewWireError(room.ErrNotFound)
	}

	var b room.Bus
	if h.busService != nil {
		b = h.busService
	}
	r := room.NewRoom(channelID, h.engine, b, h.cfg, h.removeRoom)
	h.rooms[channelID] = r
	metrics.ActiveRooms.Inc()
	logging.Info(ctx, "room created", zap.String("room", channelID))
	return r, nil
}

func (h *Hub) removeRoom(channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[channelID]; !ok {
		return
	}
	delete(h.rooms, channelID)
	metrics.ActiveRooms.Dec()
	metrics.RoomMembers.DeleteLabelValues(channelID)
	metrics.RoomPending.DeleteLabelValues(channelID)
	logging.Info(context.Background(), "room closed", zap.String("room", channelID))
}

func (h *Hub) snapshotRooms() []*room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*room.Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		out = append(out, r)
	}
	return out
}

// Rooms returns an admin-facing snapshot of every active room.
func (h *Hub) Rooms() []room.RoomSnapshot {
	rooms := h.snapshotRooms()
	out := make([]room.RoomSnapshot, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Snapshot())
	}
	return out
}

// Drain flips the admission drain gate and, if force is set, broadcasts
// serverRestarting to every room and pending socket, waits noticeMs (bounded
// 0..30000), then closes every tracked connection.
func (h *Hub) Drain(ctx context.Context, draining, force bool, message string, noticeMs int) {
	h.admission.SetDraining(draining)
	if draining {
		metrics.DrainEvents.WithLabelValues("start").Inc()
	} else {
		metrics.DrainEvents.WithLabelValues("stop").Inc()
		return
	}
	if !force {
		return
	}

	if noticeMs < 0 {
		noticeMs = 0
	}
	if noticeMs > 30000 {
		noticeMs = 30000
	}

	for _, r := range h.snapshotRooms() {
		r.Drain(message)
	}

	if noticeMs > 0 {
		select {
		case <-time.After(time.Duration(noticeMs) * time.Millisecond):
		case <-ctx.Done():
		}
	}

	h.closeAllConnections()
	metrics.DrainEvents.WithLabelValues("disconnect_all").Inc()
}

func (h *Hub) closeAllConnections() {
	h.connsMu.Lock()
	defer h.connsMu.Unlock()
	for c := range h.conns {
		c.ws.Close()
	}
}

func (h *Hub) registerConn(c *conn) {
	h.connsMu.Lock()
	h.conns[c] = struct{}{}
	h.connsMu.Unlock()
}

func (h *Hub) unregisterConn(c *conn) {
	h.connsMu.Lock()
	delete(h.conns, c)
	h.connsMu.Unlock()
}

var upgrader = websocket.Upgrader{
	WriteBufferPool: &sync.Pool{
		New: func() any { return make([]byte, 4096) },
	},
}

// ServeWs authenticates the request, upgrades it to a WebSocket, runs the
// admission decision, and upon success starts the connection's read/write
// pumps.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.limiter != nil && !h.limiter.CheckWebSocketIP(c) {
		return
	}

	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
		return
	}
	claims, err := h.validator.ValidateToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	roomID := c.Param("roomId")
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	displayName := c.Query("displayName")
	if displayName == "" {
		displayName = claims.DisplayName()
	}
	role := parseRole(c.Query("role"))

	upgrader.CheckOrigin = h.checkOrigin

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	userKey := claims.UserKey()
	cn := newConn(ws, roomID, userKey)
	h.registerConn(cn)
	metrics.IncConnection()

	ctx := logging.WithRoom(logging.WithUser(context.Background(), userKey), roomID)

	result, err := h.admission.Join(ctx, room.JoinRequest{
		RoomID:              roomID,
		UserKey:             userKey,
		SessionID:           sessionID,
		DisplayName:         displayName,
		Role:                role,
		PresentedInviteCode: c.Query("inviteCode"),
		PresentedSignedLink: c.Query("signedLink"),
		IsHostCredential:    claims.IsHostCredential(),
		Send:                cn.send,
	})
	if err != nil {
		writeJoinError(cn, err)
		h.unregisterConn(cn)
		ws.Close()
		metrics.DecConnection()
		return
	}

	if result.Session != nil {
		cn.session = result.Session
	}
	writeJoinAck(cn, result)

	r, lookupErr := h.GetOrCreateRoom(ctx, roomID, false)
	if lookupErr != nil {
		// Room vanished between admission and this lookup (e.g. closed by a
		// racing drain); the connection is already admitted into a session
		// that no longer has a home, so just tear it down.
		h.unregisterConn(cn)
		ws.Close()
		metrics.DecConnection()
		return
	}

	go cn.writePump()
	go cn.readPump(ctx, r, h.router, h.limiter, func() {
		h.unregisterConn(cn)
		h.handleDisconnect(ctx, r, cn)
		close(cn.send)
	})
}

func (h *Hub) handleDisconnect(ctx context.Context, r *room.Room, c *conn) {
	if c.session == nil {
		h.admission.CancelPendingJoin(r, c.userKey)
		return
	}
	h.admission.ScheduleDisconnect(r, c.session.UserID, func() {
		h.admission.FinalizeDisconnect(ctx, r, c.session.UserID)
	})
}

func writeJoinAck(c *conn, result *room.JoinResult) {
	raw, err := json.Marshal(outboundAck{Event: room.EventJoinRoom, Payload: result})
	if err != nil {
		return
	}
	select {
	case c.send <- raw:
	default:
	}
}

func writeJoinError(c *conn, err error) {
	kind := room.ErrMediaEngineError
	if we, ok := err.(*room.WireError); ok {
		kind = we.Kind
	}
	raw, merr := json.Marshal(outboundAck{Event: room.EventJoinRoom, Payload: map[string]any{"error": string(kind)}})
	if merr != nil {
		return
	}
	select {
	case c.send <- raw:
	default:
	}
}

func parseRole(raw string) room.RoleType {
	switch raw {
	case "ghost":
		return room.RoleGhost
	case "webinar_attendee":
		return room.RoleWebinarAttendee
	default:
		return room.RoleParticipant
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}

// AllowedOriginsFromEnv parses a comma-separated origin list.
func AllowedOriginsFromEnv(envVar string, defaults []string) []string {
	return auth.GetAllowedOriginsFromEnv(envVar, defaults)
}
