package room

import (
	"context"
	"time"

	"github.com/conclave-rtc/sfu-core/internal/mediaengine"
)

type sendChatPayload struct {
	Content string `json:"content"`
}

type setHandRaisedPayload struct {
	Raised bool `json:"raised"`
}

type sendReactionPayload struct {
	Kind  string `json:"kind"` // "emoji" | "asset"
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

// handleSendChat broadcasts a chat message, subject to isChatLocked.
func (r *Room) handleSendChat(ctx context.Context, s *ClientSession, payload any) error {
	p, ok := assertPayload[sendChatPayload](payload)
	if !ok || p.Content == "" {
		return NewWireError(ErrForbidden)
	}
	r.mu.RLock()
	locked := r.isChatLocked
	r.mu.RUnlock()
	if locked && !r.isAdmin(s) {
		return NewWireError(ErrForbidden)
	}
	r.broadcast(ctx, EventChat, map[string]any{
		"userId": s.UserID, "displayName": s.DisplayName, "content": p.Content,
		"timestamp": time.Now().UnixMilli(),
	}, "")
	return nil
}

// handleSetHandRaised toggles membership in handRaisedByUserId; the set is
// always a subset of the room's current non-ghost members.
func (r *Room) handleSetHandRaised(ctx context.Context, s *ClientSession, payload any) error {
	p, ok := assertPayload[setHandRaisedPayload](payload)
	if !ok {
		return NewWireError(ErrForbidden)
	}
	if s.GetRole() == RoleGhost {
		return NewWireError(ErrForbidden)
	}
	r.mu.Lock()
	if p.Raised {
		r.handRaisedByUserID[s.UserID] = struct{}{}
	} else {
		delete(r.handRaisedByUserID, s.UserID)
	}
	r.mu.Unlock()

	r.broadcast(ctx, EventHandRaised, map[string]any{
		"userId": s.UserID, "raised": p.Raised, "timestamp": time.Now().UnixMilli(),
	}, "")
	return nil
}

// handleSendReaction is fire-and-forget; no ack.
func (r *Room) handleSendReaction(ctx context.Context, s *ClientSession, payload any) error {
	p, ok := assertPayload[sendReactionPayload](payload)
	if !ok {
		return NewWireError(ErrForbidden)
	}
	r.broadcast(ctx, EventReaction, map[string]any{
		"userId": s.UserID, "kind": p.Kind, "value": p.Value, "label": p.Label,
	}, "")
	return nil
}

type toggleMediaPayload struct {
	ProducerID string `json:"producerId"`
	Paused     bool   `json:"paused"`
}

// handleToggleMute pauses or resumes the caller's webcam-audio producer.
func (r *Room) handleToggleMute(ctx context.Context, s *ClientSession, payload any) error {
	p, ok := assertPayload[toggleMediaPayload](payload)
	if !ok {
		return NewWireError(ErrForbidden)
	}
	if err := s.ToggleMute(ctx, p.Paused); err != nil {
		return err
	}
	r.fanOutToggleMedia(ctx, p.ProducerID, p.Paused)
	return nil
}

// handleToggleCamera pauses or resumes the caller's webcam-video producer.
func (r *Room) handleToggleCamera(ctx context.Context, s *ClientSession, payload any) error {
	p, ok := assertPayload[toggleMediaPayload](payload)
	if !ok {
		return NewWireError(ErrForbidden)
	}
	if err := s.ToggleCamera(ctx, p.Paused); err != nil {
		return err
	}
	r.fanOutToggleMedia(ctx, p.ProducerID, p.Paused)
	return nil
}

type closeProducerPayload struct {
	ProducerID string `json:"producerId"`
}

// handleCloseProducer closes one of the caller's own producers, releasing
// the screen lease if applicable, and fans out producerClosed.
func (r *Room) handleCloseProducer(ctx context.Context, s *ClientSession, payload any) error {
	p, ok := assertPayload[closeProducerPayload](payload)
	if !ok {
		return NewWireError(ErrForbidden)
	}
	key, found := s.CloseProducer(ctx, p.ProducerID)
	if !found {
		return NewWireError(ErrNotFound)
	}
	if key.Type == mediaengine.TypeScreen {
		r.releaseScreenLease(s.UserID, p.ProducerID)
	}
	r.fanOutProducerClosed(ctx, s.UserID, p.ProducerID, key.Kind)
	return nil
}

// handleMuteAll is admin-only: pauses every member's webcam-audio producer.
func (r *Room) handleMuteAll(ctx context.Context, caller *ClientSession) error {
	if !r.isAdmin(caller) {
		return NewWireError(ErrForbidden)
	}
	for _, s := range r.memberSnapshot() {
		_ = s.ToggleMute(ctx, true)
	}
	r.broadcast(ctx, EventToggleMedia, map[string]any{"all": true, "kind": "audio", "paused": true}, "")
	return nil
}

// handleCloseAllVideo is admin-only: pauses every member's webcam-video producer.
func (r *Room) handleCloseAllVideo(ctx context.Context, caller *ClientSession) error {
	if !r.isAdmin(caller) {
		return NewWireError(ErrForbidden)
	}
	for _, s := range r.memberSnapshot() {
		_ = s.ToggleCamera(ctx, true)
	}
	r.broadcast(ctx, EventToggleMedia, map[string]any{"all": true, "kind": "video", "paused": true}, "")
	return nil
}
