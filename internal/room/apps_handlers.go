package room

import "context"

type appsOpenPayload struct {
	AppID string `json:"appId"`
}

type appsSyncPayload struct {
	AppID       string `json:"appId"`
	SyncMessage []byte `json:"syncMessage"`
}

type appsUpdatePayload struct {
	AppID  string `json:"appId"`
	Update []byte `json:"update"`
}

type appsAwarenessPayload struct {
	AppID    string `json:"appId"`
	ClientID string `json:"clientId"`
	Update   []byte `json:"update"`
}

// handleAppsOpen is admin-only when apps.locked.
func (r *Room) handleAppsOpen(ctx context.Context, s *ClientSession, payload any) error {
	p, ok := assertPayload[appsOpenPayload](payload)
	if !ok {
		return NewWireError(ErrForbidden)
	}
	if r.apps.Locked() && !r.isAdmin(s) {
		return NewWireError(ErrForbidden)
	}
	r.apps.Open(p.AppID)
	r.broadcast(ctx, EventAppsState, map[string]any{"activeAppId": p.AppID, "locked": r.apps.Locked()}, "")
	return nil
}

// handleAppsClose clears the active app and broadcasts apps:state with an
// empty activeAppId. No awareness removal update is sent for the closed
// app's client-ids.
func (r *Room) handleAppsClose(ctx context.Context, s *ClientSession) error {
	if r.apps.Locked() && !r.isAdmin(s) {
		return NewWireError(ErrForbidden)
	}
	r.apps.Close()
	r.broadcast(ctx, EventAppsState, map[string]any{"activeAppId": "", "locked": r.apps.Locked()}, "")
	return nil
}

// handleAppsLock is admin-only.
func (r *Room) handleAppsLock(ctx context.Context, s *ClientSession, locked bool) error {
	if !r.isAdmin(s) {
		return NewWireError(ErrForbidden)
	}
	r.apps.SetLocked(locked)
	r.broadcast(ctx, EventAppsState, map[string]any{"activeAppId": r.apps.ActiveAppID(), "locked": locked}, "")
	return nil
}

// handleAppsSync is the request/response step-1 of the CRDT handshake.
func (r *Room) handleAppsSync(s *ClientSession, payload any) (any, error) {
	p, ok := assertPayload[appsSyncPayload](payload)
	if !ok {
		return nil, NewWireError(ErrForbidden)
	}
	stateVector, awareness := r.apps.Sync(p.AppID, p.SyncMessage)
	return map[string]any{"stateVector": stateVector, "awareness": awareness}, nil
}

// handleAppsUpdate applies an update and fans it out to every other member.
func (r *Room) handleAppsUpdate(ctx context.Context, s *ClientSession, payload any) error {
	p, ok := assertPayload[appsUpdatePayload](payload)
	if !ok {
		return NewWireError(ErrForbidden)
	}
	r.apps.Update(p.AppID, p.Update)
	r.broadcast(ctx, EventAppsUpdateOut, map[string]any{"appId": p.AppID, "update": p.Update}, s.UserID)
	return nil
}

// handleAppsAwareness applies an awareness update, tracked for disconnect GC.
func (r *Room) handleAppsAwareness(ctx context.Context, s *ClientSession, payload any) error {
	p, ok := assertPayload[appsAwarenessPayload](payload)
	if !ok {
		return NewWireError(ErrForbidden)
	}
	r.apps.Awareness(p.AppID, s.UserID, p.ClientID, p.Update)
	r.broadcast(ctx, EventAppsAwarenessOut, map[string]any{"appId": p.AppID, "awarenessUpdate": p.Update}, s.UserID)
	return nil
}

// removeAppsAwarenessForUser synthesizes a removal update for every
// awareness client-id the departing user held, across every app doc.
func (r *Room) removeAppsAwarenessForUser(ctx context.Context, userID string) {
	removed := r.apps.RemoveUser(userID)
	for appID, clientIDs := range removed {
		r.broadcast(ctx, EventAppsAwarenessOut, map[string]any{
			"appId": appID, "removedClientIds": clientIDs,
		}, "")
	}
}

func (r *Room) isAdmin(s *ClientSession) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hostUserKey == s.UserKey
}
