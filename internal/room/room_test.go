package room

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoom(cfg Config) *Room {
	return NewRoom("room-1", nil, nil, cfg, func(string) {})
}

func TestIsEmptyAndHasAdmin(t *testing.T) {
	r := newTestRoom(Config{})
	assert.True(t, r.IsEmpty())
	assert.False(t, r.HasAdmin())

	send := make(chan []byte, 4)
	s := newClientSession("host-1", "s1", "Host", RoleParticipant, nil, r, send)
	r.mu.Lock()
	r.addMember(s)
	r.hostUserKey = "host-1"
	r.mu.Unlock()

	assert.False(t, r.IsEmpty())
	assert.True(t, r.HasAdmin())
}

func TestRemoveMemberClearsHostOnLastSession(t *testing.T) {
	r := newTestRoom(Config{})
	send := make(chan []byte, 4)
	s := newClientSession("host-1", "s1", "Host", RoleParticipant, nil, r, send)
	r.mu.Lock()
	r.addMember(s)
	r.hostUserKey = "host-1"
	removed := r.removeMember(context.Background(), s.UserID)
	r.mu.Unlock()

	require.NotNil(t, removed)
	assert.Equal(t, "", r.hostUserKey)
}

func TestRemoveMemberKeepsHostIfAnotherSessionSharesKey(t *testing.T) {
	r := newTestRoom(Config{})
	send1 := make(chan []byte, 4)
	send2 := make(chan []byte, 4)
	s1 := newClientSession("host-1", "s1", "Host", RoleParticipant, nil, r, send1)
	s2 := newClientSession("host-1", "s2", "Host", RoleParticipant, nil, r, send2)
	r.mu.Lock()
	r.addMember(s1)
	r.addMember(s2)
	r.hostUserKey = "host-1"
	r.removeMember(context.Background(), s1.UserID)
	r.mu.Unlock()

	assert.Equal(t, "host-1", r.hostUserKey)
}

func TestBroadcastExcludesGivenUser(t *testing.T) {
	r := newTestRoom(Config{})
	send1 := make(chan []byte, 4)
	send2 := make(chan []byte, 4)
	s1 := newClientSession("u1", "s1", "User1", RoleParticipant, nil, r, send1)
	s2 := newClientSession("u2", "s1", "User2", RoleParticipant, nil, r, send2)
	r.mu.Lock()
	r.addMember(s1)
	r.addMember(s2)
	r.mu.Unlock()

	r.broadcast(context.Background(), EventChat, map[string]any{"text": "hi"}, s1.UserID)

	select {
	case <-send1:
		t.Fatal("excluded user should not receive the broadcast")
	default:
	}
	select {
	case raw := <-send2:
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, EventChat, msg.Event)
	default:
		t.Fatal("expected the non-excluded user to receive the broadcast")
	}
}

func TestEvaluateLifecycleFiresOnEmptyAfterGrace(t *testing.T) {
	fired := make(chan string, 1)
	r := NewRoom("room-1", nil, nil, Config{EmptyRoomGrace: 20 * time.Millisecond}, func(id string) {
		fired <- id
	})
	r.evaluateLifecycle()

	select {
	case id := <-fired:
		assert.Equal(t, "room-1", id)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected onEmpty to fire after the empty-room grace window")
	}
}

func TestEvaluateLifecycleDoesNotFireIfMemberJoinsBeforeGraceExpires(t *testing.T) {
	fired := make(chan string, 1)
	r := NewRoom("room-1", nil, nil, Config{EmptyRoomGrace: 30 * time.Millisecond}, func(id string) {
		fired <- id
	})
	r.evaluateLifecycle()

	send := make(chan []byte, 4)
	s := newClientSession("u1", "s1", "User1", RoleParticipant, nil, r, send)
	r.mu.Lock()
	r.addMember(s)
	r.mu.Unlock()

	select {
	case <-fired:
		t.Fatal("onEmpty should not fire once a member has joined")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestEvaluateLifecycleFiresAdminCleanupWhenNoHost(t *testing.T) {
	fired := make(chan string, 1)
	r := NewRoom("room-1", nil, nil, Config{AdminCleanupGrace: 20 * time.Millisecond}, func(id string) {
		fired <- id
	})
	send := make(chan []byte, 4)
	s := newClientSession("u1", "s1", "User1", RoleParticipant, nil, r, send)
	r.mu.Lock()
	r.addMember(s)
	r.mu.Unlock()

	r.evaluateLifecycle()

	select {
	case id := <-fired:
		assert.Equal(t, "room-1", id)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected onEmpty to fire once the admin-absence grace window expires")
	}
}

func TestDrainNotifiesMembersAndPendingKnockers(t *testing.T) {
	r := newTestRoom(Config{})
	send := make(chan []byte, 4)
	s := newClientSession("u1", "s1", "User1", RoleParticipant, nil, r, send)
	pendingSend := make(chan []byte, 4)
	r.mu.Lock()
	r.addMember(s)
	r.pendingClients["u2"] = &pendingClient{userID: "u2#s1", userKey: "u2", sessionID: "s1", send: pendingSend}
	r.mu.Unlock()

	r.Drain("server restarting")

	for _, ch := range []chan []byte{send, pendingSend} {
		select {
		case raw := <-ch:
			var msg Message
			require.NoError(t, json.Unmarshal(raw, &msg))
			assert.Equal(t, EventServerRestarting, msg.Event)
		default:
			t.Fatal("expected a serverRestarting notice")
		}
	}
}

func TestSnapshotCountsAttendeesAndLockState(t *testing.T) {
	r := newTestRoom(Config{})
	send1 := make(chan []byte, 4)
	send2 := make(chan []byte, 4)
	s1 := newClientSession("u1", "s1", "User1", RoleParticipant, nil, r, send1)
	s2 := newClientSession("u2", "s1", "User2", RoleWebinarAttendee, nil, r, send2)
	r.mu.Lock()
	r.addMember(s1)
	r.addMember(s2)
	r.isLocked = true
	r.mu.Unlock()

	snap := r.Snapshot()
	assert.Equal(t, 2, snap.Members)
	assert.Equal(t, 1, snap.Attendees)
	assert.True(t, snap.Locked)
}

func TestUpdateVideoQualityTargetAppliesHysteresis(t *testing.T) {
	r := newTestRoom(Config{LowThreshold: 2, StandardThreshold: 1})
	assert.Equal(t, QualityStandard, r.currentQuality)

	for i := 0; i < 2; i++ {
		send := make(chan []byte, 4)
		s := newClientSession("u", string(rune('a'+i)), "User", RoleParticipant, nil, r, send)
		r.mu.Lock()
		r.addMember(s)
		r.mu.Unlock()
	}
	r.updateVideoQualityTarget(context.Background())
	r.mu.RLock()
	current := r.currentQuality
	r.mu.RUnlock()
	assert.Equal(t, QualityLow, current)
}

func TestScreenLeaseIsFCFS(t *testing.T) {
	r := newTestRoom(Config{})
	require.NoError(t, r.acquireScreenLease("u1", "prod-1"))
	err := r.acquireScreenLease("u2", "prod-2")
	var wireErr *WireError
	require.ErrorAs(t, err, &wireErr)
	assert.Equal(t, ErrScreenBusy, wireErr.Kind)

	r.releaseScreenLease("u1", "prod-1")
	assert.NoError(t, r.acquireScreenLease("u2", "prod-2"))
}
