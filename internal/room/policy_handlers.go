package room

import "context"

type boolPayload struct {
	Value bool `json:"value"`
}

// handleSetTtsDisabled is admin-only.
func (r *Room) handleSetTtsDisabled(ctx context.Context, caller *ClientSession, payload any) error {
	if !r.isAdmin(caller) {
		return NewWireError(ErrForbidden)
	}
	p, ok := assertPayload[boolPayload](payload)
	if !ok {
		return NewWireError(ErrForbidden)
	}
	r.mu.Lock()
	r.isTtsDisabled = p.Value
	r.mu.Unlock()
	r.broadcast(ctx, EventSetTtsDisabled, map[string]any{"disabled": p.Value}, "")
	return nil
}

// handleSetLocked is admin-only; locking clears lockedAllowedUsers back to
// the current allowedUsers snapshot so pre-cleared re-entry still works
// under lock.
func (r *Room) handleSetLocked(ctx context.Context, caller *ClientSession, payload any) error {
	if !r.isAdmin(caller) {
		return NewWireError(ErrForbidden)
	}
	p, ok := assertPayload[boolPayload](payload)
	if !ok {
		return NewWireError(ErrForbidden)
	}
	r.mu.Lock()
	r.isLocked = p.Value
	if p.Value {
		r.lockedAllowedUsers = make(map[string]struct{}, len(r.allowedUsers))
		for k := range r.allowedUsers {
			r.lockedAllowedUsers[k] = struct{}{}
		}
	}
	r.mu.Unlock()
	r.broadcast(ctx, EventSetLocked, map[string]any{"locked": p.Value}, "")
	return nil
}

// handleSetChatLocked is admin-only.
func (r *Room) handleSetChatLocked(ctx context.Context, caller *ClientSession, payload any) error {
	if !r.isAdmin(caller) {
		return NewWireError(ErrForbidden)
	}
	p, ok := assertPayload[boolPayload](payload)
	if !ok {
		return NewWireError(ErrForbidden)
	}
	r.mu.Lock()
	r.isChatLocked = p.Value
	r.mu.Unlock()
	r.broadcast(ctx, EventSetChatLocked, map[string]any{"locked": p.Value}, "")
	return nil
}

type updateMeetingConfigPayload struct {
	InviteCode *string `json:"inviteCode"` // null clears
	NoGuests   *bool   `json:"noGuests,omitempty"`
}

// handleUpdateMeetingConfig is admin-only.
func (r *Room) handleUpdateMeetingConfig(ctx context.Context, caller *ClientSession, payload any, macKey []byte) error {
	if !r.isAdmin(caller) {
		return NewWireError(ErrForbidden)
	}
	p, ok := assertPayload[updateMeetingConfigPayload](payload)
	if !ok {
		return NewWireError(ErrForbidden)
	}
	if p.InviteCode != nil {
		r.webinar.SetInviteCode(*p.InviteCode, macKey)
	}
	if p.NoGuests != nil {
		r.mu.Lock()
		r.noGuests = *p.NoGuests
		r.mu.Unlock()
	}
	return nil
}

type updateWebinarConfigPayload struct {
	Enabled      *bool   `json:"enabled,omitempty"`
	PublicAccess *bool   `json:"publicAccess,omitempty"`
	Locked       *bool   `json:"locked,omitempty"`
	MaxAttendees *int    `json:"maxAttendees,omitempty"`
	InviteCode   *string `json:"inviteCode,omitempty"`
}

// handleUpdateWebinarConfig is admin-only.
func (r *Room) handleUpdateWebinarConfig(ctx context.Context, caller *ClientSession, payload any, macKey []byte) error {
	if !r.isAdmin(caller) {
		return NewWireError(ErrForbidden)
	}
	p, ok := assertPayload[updateWebinarConfigPayload](payload)
	if !ok {
		return NewWireError(ErrForbidden)
	}
	if p.Enabled != nil {
		r.webinar.SetEnabled(*p.Enabled)
	}
	if p.PublicAccess != nil {
		r.webinar.SetPublicAccess(*p.PublicAccess)
	}
	if p.Locked != nil {
		r.webinar.SetLocked(*p.Locked)
	}
	if p.MaxAttendees != nil {
		if err := r.webinar.SetMaxAttendees(*p.MaxAttendees); err != nil {
			return NewWireError(ErrForbidden)
		}
	}
	if p.InviteCode != nil {
		r.webinar.SetInviteCode(*p.InviteCode, macKey)
	}
	enabled, publicAccess, locked, maxAttendees := r.webinar.Snapshot()
	r.broadcast(ctx, EventWebinarConfigChanged, map[string]any{
		"enabled": enabled, "publicAccess": publicAccess,
		"locked": locked, "maxAttendees": maxAttendees,
	}, "")
	return nil
}

// handleGenerateWebinarLink and handleRotateWebinarLink issue signed links
// for a target clientId.
func (r *Room) handleGenerateWebinarLink(caller *ClientSession, clientID string, macKey []byte, rotate bool) (string, error) {
	if !r.isAdmin(caller) {
		return "", NewWireError(ErrForbidden)
	}
	return r.webinar.GenerateLink(r.ID, clientID, macKey, rotate)
}
