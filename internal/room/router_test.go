package room

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDispatchRoom() (*Room, *Router, *ClientSession) {
	r := newTestRoom(Config{})
	router := NewRouter(NewEngine(nil, testMacKey, true, 0), testMacKey)
	send := make(chan []byte, 8)
	s := newClientSession("host-1", "s1", "Host", RoleParticipant, nil, r, send)
	r.mu.Lock()
	r.addMember(s)
	r.hostUserKey = "host-1"
	r.mu.Unlock()
	return r, router, s
}

func lastAck(t *testing.T) (func(any), *any) {
	t.Helper()
	var got any
	return func(reply any) { got = reply }, &got
}

func TestDispatchRejectsAdminEventFromNonAdmin(t *testing.T) {
	r, router, _ := newDispatchRoom()
	send := make(chan []byte, 8)
	guest := newClientSession("guest-1", "s1", "Guest", RoleParticipant, nil, r, send)
	r.mu.Lock()
	r.addMember(guest)
	r.mu.Unlock()

	ack, got := lastAck(t)
	router.Dispatch(context.Background(), r, guest, EventMuteAll, nil, ack)
	reply, ok := (*got).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(ErrForbidden), reply["error"])
}

func TestDispatchGetRtpCapabilities(t *testing.T) {
	r, router, s := newDispatchRoom()
	r.mu.Lock()
	r.RtpCapabilities = map[string]any{"codecs": "opus"}
	r.mu.Unlock()

	ack, got := lastAck(t)
	router.Dispatch(context.Background(), r, s, EventGetRtpCapabilities, nil, ack)
	reply, ok := (*got).(map[string]any)
	require.True(t, ok)
	caps, ok := reply["rtpCapabilities"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "opus", caps["codecs"])
}

func TestDispatchSendChatBroadcasts(t *testing.T) {
	r, router, s := newDispatchRoom()
	otherSend := make(chan []byte, 8)
	other := newClientSession("u2", "s1", "Other", RoleParticipant, nil, r, otherSend)
	r.mu.Lock()
	r.addMember(other)
	r.mu.Unlock()

	router.Dispatch(context.Background(), r, s, EventSendChat, map[string]any{"content": "hello"}, nil)

	select {
	case <-otherSend:
	default:
		t.Fatal("expected the chat message to be broadcast to other members")
	}
}

func TestDispatchSendChatRejectsEmptyContent(t *testing.T) {
	r, router, s := newDispatchRoom()
	ack, got := lastAck(t)
	router.Dispatch(context.Background(), r, s, EventSendChat, map[string]any{"content": ""}, ack)
	reply, ok := (*got).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(ErrForbidden), reply["error"])
}

func TestDispatchChatLockedBlocksNonAdmin(t *testing.T) {
	r, router, _ := newDispatchRoom()
	send := make(chan []byte, 8)
	guest := newClientSession("guest-1", "s1", "Guest", RoleParticipant, nil, r, send)
	r.mu.Lock()
	r.addMember(guest)
	r.isChatLocked = true
	r.mu.Unlock()

	ack, got := lastAck(t)
	router.Dispatch(context.Background(), r, guest, EventSendChat, map[string]any{"content": "hi"}, ack)
	reply, ok := (*got).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(ErrForbidden), reply["error"])
}

func TestDispatchSetHandRaisedRejectsGhost(t *testing.T) {
	r, router, _ := newDispatchRoom()
	send := make(chan []byte, 8)
	ghost := newClientSession("ghost-1", "s1", "Ghost", RoleGhost, nil, r, send)
	r.mu.Lock()
	r.addMember(ghost)
	r.mu.Unlock()

	ack, got := lastAck(t)
	router.Dispatch(context.Background(), r, ghost, EventSetHandRaised, map[string]any{"raised": true}, ack)
	reply, ok := (*got).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(ErrForbidden), reply["error"])
}

func TestDispatchAppsOpenAndSync(t *testing.T) {
	r, router, s := newDispatchRoom()
	router.Dispatch(context.Background(), r, s, EventAppsOpen, map[string]any{"appId": "whiteboard"}, nil)
	assert.Equal(t, "whiteboard", r.apps.ActiveAppID())

	var syncResult any
	ack := func(reply any) { syncResult = reply }
	router.Dispatch(context.Background(), r, s, EventAppsSync, map[string]any{"appId": "whiteboard", "syncMessage": []byte("doc")}, ack)
	reply, ok := syncResult.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, reply, "stateVector")
}

func TestDispatchAppsOpenLockedRejectsNonAdmin(t *testing.T) {
	r, router, _ := newDispatchRoom()
	r.apps.SetLocked(true)
	send := make(chan []byte, 8)
	guest := newClientSession("guest-1", "s1", "Guest", RoleParticipant, nil, r, send)
	r.mu.Lock()
	r.addMember(guest)
	r.mu.Unlock()

	ack, got := lastAck(t)
	router.Dispatch(context.Background(), r, guest, EventAppsOpen, map[string]any{"appId": "poll"}, ack)
	reply, ok := (*got).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(ErrForbidden), reply["error"])
}

func TestDispatchUpdateWebinarConfigByHostApplies(t *testing.T) {
	r, router, s := newDispatchRoom()
	payload := map[string]any{"enabled": true}

	router.Dispatch(context.Background(), r, s, EventUpdateWebinarConfig, payload, nil)
	gotEnabled, _, _, _ := r.webinar.Snapshot()
	assert.True(t, gotEnabled)
}

func TestDispatchUpdateWebinarConfigRejectsNonAdmin(t *testing.T) {
	r, router, _ := newDispatchRoom()
	send := make(chan []byte, 8)
	guest := newClientSession("guest-1", "s1", "Guest", RoleParticipant, nil, r, send)
	r.mu.Lock()
	r.addMember(guest)
	r.mu.Unlock()

	ack, got := lastAck(t)
	router.Dispatch(context.Background(), r, guest, EventUpdateWebinarConfig, map[string]any{"enabled": true}, ack)
	reply, ok := (*got).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(ErrForbidden), reply["error"])

	gotEnabled, _, _, _ := r.webinar.Snapshot()
	assert.False(t, gotEnabled)
}

func TestDispatchUnknownEventDoesNotPanic(t *testing.T) {
	r, router, s := newDispatchRoom()
	assert.NotPanics(t, func() {
		router.Dispatch(context.Background(), r, s, Event("not-a-real-event"), nil, nil)
	})
}
