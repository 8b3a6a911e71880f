// Package webinar implements the per-room Webinar Controller (C4): config,
// attendee counting, active-speaker feed selection, and signed-link issuance.
package webinar

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// FeedMode selects how the curated attendee feed is computed.
type FeedMode string

const (
	FeedModeActiveSpeaker FeedMode = "active-speaker"
)

const (
	MinAttendees = 1
	MaxAttendees = 5000
)

// Config is the per-room webinar configuration.
type Config struct {
	mu sync.RWMutex

	Enabled      bool
	PublicAccess bool
	Locked       bool
	MaxAttendees int
	FeedMode     FeedMode

	inviteCodeHash []byte
	linkVersion    uint64
}

// NewConfig returns a disabled webinar config with sane defaults.
func NewConfig() *Config {
	return &Config{MaxAttendees: 100, FeedMode: FeedModeActiveSpeaker, linkVersion: 1}
}

// LinkVersion returns the current monotonic link version.
func (c *Config) LinkVersion() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.linkVersion
}

// SetEnabled toggles webinar mode. Disabling bumps the link version,
// invalidating every outstanding signed link; the link version only ever
// increases.
func (c *Config) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Enabled && !enabled {
		c.linkVersion++
	}
	c.Enabled = enabled
}

// SetMaxAttendees accepts n only within [MinAttendees, MaxAttendees]; a value
// outside that range returns an error and leaves the current cap unchanged.
func (c *Config) SetMaxAttendees(n int) error {
	if n < MinAttendees || n > MaxAttendees {
		return fmt.Errorf("maxAttendees must be between %d and %d, got %d", MinAttendees, MaxAttendees, n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.MaxAttendees = n
	return nil
}

// SetPublicAccess toggles whether the webinar can be joined without an
// invite code or signed link.
func (c *Config) SetPublicAccess(public bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PublicAccess = public
}

// SetLocked records the webinar's locked flag, which Snapshot reports.
// Admission does not read this flag; it does not restrict who may join.
func (c *Config) SetLocked(locked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Locked = locked
}

// Snapshot returns a consistent read of the fields the config's ack/broadcast
// payloads report, taken under a single lock rather than field-by-field.
func (c *Config) Snapshot() (enabled, publicAccess, locked bool, maxAttendees int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Enabled, c.PublicAccess, c.Locked, c.MaxAttendees
}

// SetInviteCode hashes and stores code via a keyed MAC; the plain value is
// never retained. Passing "" clears the configured code.
func (c *Config) SetInviteCode(code string, macKey []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if code == "" {
		c.inviteCodeHash = nil
		return
	}
	c.inviteCodeHash = hashInviteCode(code, macKey)
}

func hashInviteCode(code string, macKey []byte) []byte {
	mac := hmac.New(sha256.New, macKey)
	mac.Write([]byte(code))
	return mac.Sum(nil)
}

// CheckInviteCode verifies presented against the stored hash in constant
// time. Returns false if no code is configured.
func (c *Config) CheckInviteCode(presented string, macKey []byte) bool {
	c.mu.RLock()
	stored := c.inviteCodeHash
	c.mu.RUnlock()
	if stored == nil {
		return false
	}
	candidate := hashInviteCode(presented, macKey)
	return hmac.Equal(stored, candidate)
}

// HasInviteCode reports whether a meeting/invite code is currently configured.
func (c *Config) HasInviteCode() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inviteCodeHash != nil
}

// linkClaims is the signed payload carried by a webinar link token
// ({typ:"webinar_link", roomId, clientId, linkVersion}).
type linkClaims struct {
	Typ         string `json:"typ"`
	RoomID      string `json:"roomId"`
	ClientID    string `json:"clientId"`
	LinkVersion uint64 `json:"linkVersion"`
}

// GenerateLink returns either a bare "/<roomId>" path (publicAccess) or a
// signed "/<roomId>?wt=<token>" path under macKey. Rotating the link (the
// caller passing rotate=true) bumps linkVersion first, invalidating every
// previously issued token.
func (c *Config) GenerateLink(roomID, clientID string, macKey []byte, rotate bool) (string, error) {
	c.mu.Lock()
	if rotate {
		c.linkVersion++
	}
	if c.PublicAccess {
		c.mu.Unlock()
		return "/" + roomID, nil
	}
	version := c.linkVersion
	c.mu.Unlock()

	token, err := signLink(roomID, clientID, version, macKey)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("/%s?wt=%s", roomID, token), nil
}

func signLink(roomID, clientID string, version uint64, macKey []byte) (string, error) {
	claims := linkClaims{Typ: "webinar_link", RoomID: roomID, ClientID: clientID, LinkVersion: version}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, macKey)
	mac.Write(payload)
	sig := mac.Sum(nil)

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	encodedSig := base64.RawURLEncoding.EncodeToString(sig)
	return encoded + "." + encodedSig, nil
}

// ErrInvalidSignedLink is returned for any malformed, mis-signed, or
// version-stale token.
var ErrInvalidSignedLink = errors.New("invalid signed link")

// VerifyLink validates token against macKey and the config's current
// linkVersion, returning the embedded roomId/clientId on success.
func (c *Config) VerifyLink(token string, macKey []byte) (roomID, clientID string, err error) {
	parts := splitToken(token)
	if len(parts) != 2 {
		return "", "", ErrInvalidSignedLink
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", "", ErrInvalidSignedLink
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", "", ErrInvalidSignedLink
	}

	mac := hmac.New(sha256.New, macKey)
	mac.Write(payload)
	expected := mac.Sum(nil)
	if !hmac.Equal(expected, sig) {
		return "", "", ErrInvalidSignedLink
	}

	var claims linkClaims
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Typ != "webinar_link" {
		return "", "", ErrInvalidSignedLink
	}

	c.mu.RLock()
	current := c.linkVersion
	c.mu.RUnlock()
	if claims.LinkVersion != current {
		return "", "", ErrInvalidSignedLink
	}

	return claims.RoomID, claims.ClientID, nil
}

func splitToken(token string) []string {
	for i := len(token) - 1; i >= 0; i-- {
		if token[i] == '.' {
			return []string{token[:i], token[i+1:]}
		}
	}
	return nil
}
