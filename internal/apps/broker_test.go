package apps

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenIsIdempotentOnSameApp(t *testing.T) {
	s := NewState()
	assert.True(t, s.Open("whiteboard"))
	assert.False(t, s.Open("whiteboard"))
	assert.Equal(t, "whiteboard", s.ActiveAppID())
}

func TestOpenSwitchesActiveApp(t *testing.T) {
	s := NewState()
	s.Open("whiteboard")
	assert.True(t, s.Open("poll"))
	assert.Equal(t, "poll", s.ActiveAppID())
}

func TestCloseClearsActiveApp(t *testing.T) {
	s := NewState()
	s.Open("whiteboard")
	closed := s.Close()
	assert.Equal(t, "whiteboard", closed)
	assert.Equal(t, "", s.ActiveAppID())
}

func TestSyncReturnsStateVectorAndAwareness(t *testing.T) {
	s := NewState()
	s.Open("whiteboard")
	s.Awareness("whiteboard", "user1", "client1", []byte("cursor-at-1,1"))

	sv, awareness := s.Sync("whiteboard", []byte("initial-doc"))
	assert.Equal(t, []byte("initial-doc"), sv)
	assert.Contains(t, string(awareness), "cursor-at-1,1")
}

func TestRemoveUserClearsAwarenessAcrossApps(t *testing.T) {
	s := NewState()
	s.Open("whiteboard")
	s.Awareness("whiteboard", "user1", "client1", []byte("cursor"))
	s.Open("poll")
	s.Awareness("poll", "user1", "client2", []byte("vote"))

	removed := s.RemoveUser("user1")
	assert.ElementsMatch(t, []string{"client1", "client2"}, removed["whiteboard"])
	assert.ElementsMatch(t, []string{"client1", "client2"}, removed["poll"])

	// A second removal is a no-op, not an error.
	assert.Nil(t, s.RemoveUser("user1"))
}

func TestLocked(t *testing.T) {
	s := NewState()
	assert.False(t, s.Locked())
	s.SetLocked(true)
	assert.True(t, s.Locked())
}
