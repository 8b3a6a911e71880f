package webinar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMacKey = []byte("test-mac-key")

func TestSetEnabledBumpsLinkVersionOnlyOnDisable(t *testing.T) {
	c := NewConfig()
	v0 := c.LinkVersion()

	c.SetEnabled(true)
	assert.Equal(t, v0, c.LinkVersion(), "enabling should not bump the version")

	c.SetEnabled(true)
	assert.Equal(t, v0, c.LinkVersion(), "enabling again is a no-op")

	c.SetEnabled(false)
	assert.Equal(t, v0+1, c.LinkVersion(), "disabling bumps the version")

	c.SetEnabled(false)
	assert.Equal(t, v0+1, c.LinkVersion(), "disabling again is a no-op")
}

func TestSetMaxAttendeesValidatesRange(t *testing.T) {
	c := NewConfig()

	require.NoError(t, c.SetMaxAttendees(MinAttendees))
	_, _, _, max := c.Snapshot()
	assert.Equal(t, MinAttendees, max)

	require.NoError(t, c.SetMaxAttendees(MaxAttendees))

	assert.Error(t, c.SetMaxAttendees(MinAttendees-1))
	assert.Error(t, c.SetMaxAttendees(MaxAttendees+1))
}

func TestSnapshotReflectsSetters(t *testing.T) {
	c := NewConfig()
	c.SetEnabled(true)
	c.SetPublicAccess(true)
	c.SetLocked(true)
	require.NoError(t, c.SetMaxAttendees(250))

	enabled, publicAccess, locked, max := c.Snapshot()
	assert.True(t, enabled)
	assert.True(t, publicAccess)
	assert.True(t, locked)
	assert.Equal(t, 250, max)

	c.SetLocked(false)
	_, _, locked, _ = c.Snapshot()
	assert.False(t, locked)
}

func TestInviteCodeHashedNotStoredPlain(t *testing.T) {
	c := NewConfig()
	assert.False(t, c.HasInviteCode())
	assert.False(t, c.CheckInviteCode("anything", testMacKey))

	c.SetInviteCode("let-me-in", testMacKey)
	assert.True(t, c.HasInviteCode())
	assert.True(t, c.CheckInviteCode("let-me-in", testMacKey))
	assert.False(t, c.CheckInviteCode("wrong-code", testMacKey))

	c.SetInviteCode("", testMacKey)
	assert.False(t, c.HasInviteCode())
}

func TestGenerateLinkPublicAccessIsBarePath(t *testing.T) {
	c := NewConfig()
	c.SetPublicAccess(true)

	link, err := c.GenerateLink("room-1", "client-1", testMacKey, false)
	require.NoError(t, err)
	assert.Equal(t, "/room-1", link)
}

func TestGenerateAndVerifySignedLink(t *testing.T) {
	c := NewConfig()

	link, err := c.GenerateLink("room-1", "client-1", testMacKey, false)
	require.NoError(t, err)
	assert.Contains(t, link, "/room-1?wt=")

	token := link[len("/room-1?wt="):]
	roomID, clientID, err := c.VerifyLink(token, testMacKey)
	require.NoError(t, err)
	assert.Equal(t, "room-1", roomID)
	assert.Equal(t, "client-1", clientID)
}

func TestVerifyLinkRejectsWrongKey(t *testing.T) {
	c := NewConfig()
	link, err := c.GenerateLink("room-1", "client-1", testMacKey, false)
	require.NoError(t, err)
	token := link[len("/room-1?wt="):]

	_, _, err = c.VerifyLink(token, []byte("wrong-key"))
	assert.ErrorIs(t, err, ErrInvalidSignedLink)
}

func TestRotateLinkInvalidatesPreviousToken(t *testing.T) {
	c := NewConfig()
	oldLink, err := c.GenerateLink("room-1", "client-1", testMacKey, false)
	require.NoError(t, err)
	oldToken := oldLink[len("/room-1?wt="):]

	newLink, err := c.GenerateLink("room-1", "client-1", testMacKey, true)
	require.NoError(t, err)
	require.NotEqual(t, oldLink, newLink)

	_, _, err = c.VerifyLink(oldToken, testMacKey)
	assert.ErrorIs(t, err, ErrInvalidSignedLink)

	newToken := newLink[len("/room-1?wt="):]
	_, _, err = c.VerifyLink(newToken, testMacKey)
	assert.NoError(t, err)
}

func TestVerifyLinkRejectsMalformedToken(t *testing.T) {
	c := NewConfig()
	_, _, err := c.VerifyLink("not-a-valid-token", testMacKey)
	assert.ErrorIs(t, err, ErrInvalidSignedLink)
}
