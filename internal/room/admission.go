package room

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/conclave-rtc/sfu-core/internal/logging"
	"github.com/conclave-rtc/sfu-core/internal/mediaengine"
	"go.uber.org/zap"
)

// JoinRequest is the input to the admission decision.
type JoinRequest struct {
	RoomID              string
	UserKey             string
	SessionID           string
	DisplayName         string
	Role                RoleType
	PresentedInviteCode string
	PresentedSignedLink string
	IsHostCredential    bool

	Send chan []byte
}

// JoinResult mirrors the joinRoom ack shape.
type JoinResult struct {
	Status            string             `json:"status"` // "joined" | "waiting"
	RtpCapabilities   map[string]any     `json:"rtpCapabilities,omitempty"`
	ExistingProducers []ExistingProducer `json:"existingProducers,omitempty"`
	HostUserID        string             `json:"hostUserId,omitempty"`
	Session           *ClientSession     `json:"-"`
}

// ExistingProducer is one entry of the producer snapshot replayed to a
// newly admitted member.
type ExistingProducer struct {
	ProducerID     string                  `json:"producerId"`
	ProducerUserID string                  `json:"producerUserId"`
	Kind           mediaengine.Kind        `json:"kind"`
	Type           mediaengine.ProduceType `json:"type"`
}

// Registry resolves or creates rooms by channel id; satisfied by the hub's
// room table (C9).
type Registry interface {
	GetOrCreateRoom(ctx context.Context, channelID string, allowCreate bool) (*Room, error)
}

// Engine is the Admission & Role Engine (C5): one process-wide instance
// shared by every room, holding the drain gate and the secret used to
// verify invite codes and signed webinar links.
type Engine struct {
	registry        Registry
	allowRoomCreate bool
	macKey          []byte
	graceWindow     time.Duration

	mu       sync.RWMutex
	draining bool
}

// NewEngine wires the admission engine to its room registry and secret.
func NewEngine(registry Registry, macKey []byte, allowRoomCreate bool, graceWindow time.Duration) *Engine {
	return &Engine{registry: registry, macKey: macKey, allowRoomCreate: allowRoomCreate, graceWindow: graceWindow}
}

// SetRegistry wires the room registry after construction, breaking the
// Engine/Hub construction cycle (the hub needs a constructed Engine, and the
// Engine needs the hub as its Registry).
func (e *Engine) SetRegistry(registry Registry) {
	e.registry = registry
}

// SetDraining flips the process-wide drain gate (C9 calls this).
func (e *Engine) SetDraining(draining bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draining = draining
}

func (e *Engine) isDraining() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.draining
}

// Join runs the decision pipeline, short-circuiting at
// the first applicable step.
func (e *Engine) Join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	// 1. Drain gate.
	if e.isDraining() {
		return nil, NewWireError(ErrDraining)
	}

	// 2. Room resolution.
	r, err := e.registry.GetOrCreateRoom(ctx, req.RoomID, e.allowRoomCreate)
	if err != nil {
		return nil, err
	}

	// 3. Role-specific preflight.
	if err := e.preflight(r, &req); err != nil {
		return nil, err
	}

	userID := UserID(req.UserKey, req.SessionID)

	// Grace-window reconnection: the same (userKey, sessionId) reconnecting
	// before its disconnect timer expires resumes the existing session in
	// place rather than going through admission again.
	if e.CancelDisconnect(r, userID) {
		return e.resume(ctx, r, req, userID)
	}

	// 4. Host path.
	if req.IsHostCredential && req.Role != RoleWebinarAttendee {
		return e.admit(ctx, r, req, userID, true)
	}

	// 5. Pre-cleared path.
	r.mu.RLock()
	_, allowed := r.allowedUsers[req.UserKey]
	_, lockedAllowed := r.lockedAllowedUsers[req.UserKey]
	locked := r.isLocked
	r.mu.RUnlock()
	if allowed || (locked && lockedAllowed) {
		return e.admit(ctx, r, req, userID, false)
	}

	// 6. Locked room.
	if locked {
		return nil, NewWireError(ErrRoomLocked)
	}

	// webinar attendees never knock (preflight already enforced cap/link).
	if req.Role == RoleWebinarAttendee {
		return e.admit(ctx, r, req, userID, false)
	}

	// 7. Knock path.
	return e.knock(ctx, r, req, userID)
}

func (e *Engine) preflight(r *Room, req *JoinRequest) error {
	switch req.Role {
	case RoleWebinarAttendee:
		enabled, publicAccess, _, maxAttendees := r.webinar.Snapshot()
		if !enabled {
			return NewWireError(ErrWebinarDisabled)
		}
		if !publicAccess {
			linkOK := req.PresentedSignedLink != "" && verifyWebinarLink(r, req.PresentedSignedLink, e.macKey)
			codeOK := req.PresentedInviteCode != "" && r.webinar.CheckInviteCode(req.PresentedInviteCode, e.macKey)
			if !linkOK && !codeOK {
				return NewWireError(ErrInvalidSignedLink)
			}
		}
		if e.attendeeCount(r) >= maxAttendees {
			// Cheap fail-fast; admit() rechecks under r.mu so a race between
			// two concurrent attendee joins can't both slip past this read.
			return NewWireError(ErrAttendeeCapExceeded)
		}
	case RoleGhost:
		if !req.IsHostCredential {
			req.Role = RoleParticipant
		}
	case RoleParticipant:
		r.mu.RLock()
		noGuests := r.noGuests
		hasInviteCode := r.webinar.HasInviteCode()
		r.mu.RUnlock()
		if noGuests && isGuestIdentity(req.UserKey) {
			return NewWireError(ErrGuestsBlocked)
		}
		if hasInviteCode {
			if req.PresentedInviteCode == "" {
				return NewWireError(ErrInviteCodeRequired)
			}
			if !r.webinar.CheckInviteCode(req.PresentedInviteCode, e.macKey) {
				return NewWireError(ErrInvalidInviteCode)
			}
		}
	}
	return nil
}

func isGuestIdentity(userKey string) bool {
	return len(userKey) >= 6 && userKey[:6] == "guest-"
}

func verifyWebinarLink(r *Room, token string, macKey []byte) bool {
	_, _, err := r.webinar.VerifyLink(token, macKey)
	return err == nil
}

func (e *Engine) attendeeCount(r *Room) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, s := range r.members {
		if s.GetRole() == RoleWebinarAttendee {
			count++
		}
	}
	return count
}

func (e *Engine) admit(ctx context.Context, r *Room, req JoinRequest, userID string, isHostJoin bool) (*JoinResult, error) {
	session := newClientSession(req.UserKey, req.SessionID, req.DisplayName, req.Role, r.engine, r, req.Send)

	r.mu.Lock()
	if _, exists := r.members[userID]; exists {
		r.mu.Unlock()
		return nil, NewWireError(ErrForbidden)
	}
	if req.Role == RoleWebinarAttendee {
		_, _, _, maxAttendees := r.webinar.Snapshot()
		count := 0
		for _, s := range r.members {
			if s.GetRole() == RoleWebinarAttendee {
				count++
			}
		}
		if count >= maxAttendees {
			r.mu.Unlock()
			return nil, NewWireError(ErrAttendeeCapExceeded)
		}
	}
	makeHost := isHostJoin && r.hostUserKey == "" && req.Role != RoleGhost
	r.addMember(session)
	delete(r.pendingClients, req.UserKey)
	if makeHost {
		r.hostUserKey = req.UserKey
	}
	hostUserKey := r.hostUserKey
	existing := existingProducersLocked(r, userID)
	r.mu.Unlock()

	if makeHost {
		logging.Info(ctx, "first admin assigned", zap.String("room", r.ID), zap.String("userKey", req.UserKey))
	}

	if r.engine != nil {
		r.mu.RLock()
		needsRouter := r.RouterID == ""
		r.mu.RUnlock()
		if needsRouter {
			if rtr, err := r.engine.CreateRouter(ctx, r.ID); err == nil {
				r.mu.Lock()
				if r.RouterID == "" {
					r.RouterID = rtr.RouterID
					r.RtpCapabilities = rtr.RtpCapabilities
				}
				r.mu.Unlock()
			}
		}
	}

	r.updateVideoQualityTarget(ctx)
	r.broadcast(ctx, EventUserJoined, map[string]any{"userId": userID, "displayName": req.DisplayName}, userID)
	if req.Role == RoleWebinarAttendee {
		_, _, _, maxAttendees := r.webinar.Snapshot()
		r.broadcast(ctx, EventWebinarAttendeeCountChanged, map[string]any{
			"roomId": r.ID, "attendeeCount": e.attendeeCount(r), "maxAttendees": maxAttendees,
		}, "")
	}

	return &JoinResult{
		Status:            "joined",
		ExistingProducers: existing,
		HostUserID:        hostUserKey,
		Session:           session,
	}, nil
}

// resume reattaches req.Send to the surviving session for userID after a
// cancelled grace-window disconnect. Falls back to a fresh admit if the
// session was already torn down by the time the timer was cancelled.
func (e *Engine) resume(ctx context.Context, r *Room, req JoinRequest, userID string) (*JoinResult, error) {
	r.mu.Lock()
	s, ok := r.members[userID]
	r.mu.Unlock()
	if !ok {
		return e.admit(ctx, r, req, userID, req.IsHostCredential)
	}

	s.Resume(ctx, req.Send)

	r.mu.RLock()
	hostUserKey := r.hostUserKey
	existing := existingProducersLocked(r, userID)
	r.mu.RUnlock()

	return &JoinResult{
		Status:            "joined",
		ExistingProducers: existing,
		HostUserID:        hostUserKey,
		Session:           s,
	}, nil
}

func existingProducersLocked(r *Room, excludeUserID string) []ExistingProducer {
	var out []ExistingProducer
	for id, s := range r.members {
		if id == excludeUserID {
			continue
		}
		for key, h := range s.ProducerSnapshot() {
			out = append(out, ExistingProducer{ProducerID: h.ProducerID, ProducerUserID: id, Kind: key.Kind, Type: key.Type})
		}
	}
	return out
}

func (e *Engine) knock(ctx context.Context, r *Room, req JoinRequest, userID string) (*JoinResult, error) {
	r.mu.Lock()
	r.pendingClients[req.UserKey] = &pendingClient{
		userID: userID, userKey: req.UserKey, sessionID: req.SessionID,
		displayName: req.DisplayName, send: req.Send,
	}
	r.cancelCleanupTimerLocked()
	r.broadcastLocked(ctx, EventPendingUserJoined, map[string]any{"userId": userID, "displayName": req.DisplayName}, "")
	r.mu.Unlock()

	return &JoinResult{Status: "waiting"}, nil
}

// AdmitUser resolves a pending knock (host action).
func (e *Engine) AdmitUser(ctx context.Context, r *Room, userKey string) error {
	r.mu.Lock()
	pc, ok := r.pendingClients[userKey]
	r.mu.Unlock()
	if !ok {
		return NewWireError(ErrNotFound)
	}
	_, err := e.admit(ctx, r, JoinRequest{
		UserKey: pc.userKey, SessionID: pc.sessionID, DisplayName: pc.displayName,
		Role: RoleParticipant, Send: pc.send,
	}, pc.userID, false)
	return err
}

// RejectUser purges a pending knock entry (host action). The notice goes
// directly to the knocker's own socket since it was never added to
// r.members.
func (e *Engine) RejectUser(ctx context.Context, r *Room, userKey string) error {
	r.mu.Lock()
	pc, ok := r.pendingClients[userKey]
	if ok {
		delete(r.pendingClients, userKey)
	}
	r.mu.Unlock()
	if !ok {
		return NewWireError(ErrNotFound)
	}
	raw, err := json.Marshal(Message{Event: EventDisplayName, Payload: map[string]any{"status": "rejected"}})
	if err != nil {
		return nil
	}
	select {
	case pc.send <- raw:
	default:
	}
	return nil
}

// PromoteHost requires the caller already be admin; target must not be
// ghost or attendee.
func (e *Engine) PromoteHost(ctx context.Context, r *Room, callerUserKey, targetUserID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hostUserKey != callerUserKey {
		return NewWireError(ErrForbidden)
	}
	target, ok := r.members[targetUserID]
	if !ok {
		return NewWireError(ErrNotFound)
	}
	if target.GetRole() == RoleGhost || target.GetRole() == RoleWebinarAttendee {
		return NewWireError(ErrForbidden)
	}
	r.hostUserKey = target.UserKey
	r.broadcastLocked(ctx, EventDisplayName, map[string]any{"hostUserId": target.UserKey}, "")
	return nil
}

// KickUser requires admin; closes the target session and removes its userKey
// from allowedUsers and lockedAllowedUsers. No deny-list is kept, so a
// kicked user can join again through the normal admission steps (knocking,
// or directly with a host credential).
func (e *Engine) KickUser(ctx context.Context, r *Room, callerUserKey, targetUserID string) error {
	r.mu.Lock()
	if r.hostUserKey != callerUserKey {
		r.mu.Unlock()
		return NewWireError(ErrForbidden)
	}
	target, ok := r.members[targetUserID]
	if !ok {
		r.mu.Unlock()
		return NewWireError(ErrNotFound)
	}
	delete(r.allowedUsers, target.UserKey)
	delete(r.lockedAllowedUsers, target.UserKey)
	r.removeMember(ctx, targetUserID)
	r.mu.Unlock()

	target.Close(ctx)
	r.removeAppsAwarenessForUser(ctx, targetUserID)
	r.broadcast(ctx, EventUserLeft, map[string]any{"userId": targetUserID, "reason": "kicked"}, "")
	r.evaluateLifecycle()
	return nil
}

// CancelPendingJoin removes a knocker's pending entry on socket disconnect
// before admission.
func (e *Engine) CancelPendingJoin(r *Room, userKey string) {
	r.mu.Lock()
	delete(r.pendingClients, userKey)
	r.mu.Unlock()
	r.evaluateLifecycle()
}

// FinalizeDisconnect removes userID from the room once its grace-window
// timer expires without a reconnection: closes the session's engine
// resources and re-evaluates the room's GC timers.
func (e *Engine) FinalizeDisconnect(ctx context.Context, r *Room, userID string) {
	r.mu.Lock()
	s := r.removeMember(ctx, userID)
	r.mu.Unlock()
	if s == nil {
		return
	}
	s.Close(ctx)
	r.removeAppsAwarenessForUser(ctx, userID)
	r.broadcast(ctx, EventUserLeft, map[string]any{"userId": userID, "reason": "disconnected"}, "")
	r.evaluateLifecycle()
}

// ScheduleDisconnect arms the grace-window timer on socket drop. If the
// same (userKey, sessionId) reconnects before expiry, the caller cancels
// the timer via CancelDisconnect and resumes the session in place.
func (e *Engine) ScheduleDisconnect(r *Room, userID string, onExpire func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.pendingDisconnects[userID]; ok {
		existing.timer.Stop()
	}
	r.pendingDisconnects[userID] = &pendingDisconnect{
		timer: time.AfterFunc(e.graceWindow, func() {
			r.mu.Lock()
			_, stillPending := r.pendingDisconnects[userID]
			if stillPending {
				delete(r.pendingDisconnects, userID)
			}
			r.mu.Unlock()
			if stillPending {
				onExpire()
			}
		}),
	}
}

// CancelDisconnect cancels a pending grace timer if the (userId) still has
// one outstanding, returning true if a reconnection within the window
// should resume the prior session.
func (e *Engine) CancelDisconnect(r *Room, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	pd, ok := r.pendingDisconnects[userID]
	if !ok {
		return false
	}
	pd.timer.Stop()
	delete(r.pendingDisconnects, userID)
	return true
}
