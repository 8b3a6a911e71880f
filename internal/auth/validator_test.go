package auth

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserKeyReturnsSubject(t *testing.T) {
	c := &CustomClaims{}
	c.Subject = "auth0|abc123"
	assert.Equal(t, "auth0|abc123", c.UserKey())
}

func TestIsHostCredential(t *testing.T) {
	assert.True(t, (&CustomClaims{Scope: "openid host profile"}).IsHostCredential())
	assert.True(t, (&CustomClaims{Scope: "host"}).IsHostCredential())
	assert.False(t, (&CustomClaims{Scope: "openid profile"}).IsHostCredential())
	assert.False(t, (&CustomClaims{Scope: ""}).IsHostCredential())
}

func TestDisplayNamePrefersName(t *testing.T) {
	c := &CustomClaims{Name: "Ada Lovelace", Email: "ada@example.com"}
	c.Subject = "sub-1"
	assert.Equal(t, "Ada Lovelace", c.DisplayName())
}

func TestDisplayNameFallsBackToEmailLocalPart(t *testing.T) {
	c := &CustomClaims{Email: "ada@example.com"}
	c.Subject = "sub-1"
	assert.Equal(t, "ada", c.DisplayName())
}

func TestDisplayNameFallsBackToSubject(t *testing.T) {
	c := &CustomClaims{}
	c.Subject = "sub-1"
	assert.Equal(t, "sub-1", c.DisplayName())
}

func TestGetAllowedOriginsFromEnvUsesDefaultWhenUnset(t *testing.T) {
	got := GetAllowedOriginsFromEnv("SOME_UNSET_ORIGINS_VAR", []string{"https://default.example.com"})
	assert.Equal(t, []string{"https://default.example.com"}, got)
}

func TestGetAllowedOriginsFromEnvParsesCommaSeparatedList(t *testing.T) {
	t.Setenv("TEST_ORIGINS_VAR", "https://a.example.com,https://b.example.com")
	got := GetAllowedOriginsFromEnv("TEST_ORIGINS_VAR", nil)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, got)
}

func makeUnsignedJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payloadBytes, err := json.Marshal(claims)
	require.NoError(t, err)
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	return header + "." + payload + ".sig"
}

func TestMockValidatorParsesUnverifiedClaims(t *testing.T) {
	m := &MockValidator{}
	token := makeUnsignedJWT(t, map[string]any{
		"sub":   "user-42",
		"name":  "Grace Hopper",
		"email": "grace@example.com",
		"scope": "host",
	})
	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.UserKey())
	assert.Equal(t, "Grace Hopper", claims.DisplayName())
	assert.True(t, claims.IsHostCredential())
}

func TestMockValidatorDefaultsSubjectWhenMissing(t *testing.T) {
	m := &MockValidator{}
	claims, err := m.ValidateToken(makeUnsignedJWT(t, map[string]any{}))
	require.NoError(t, err)
	assert.Equal(t, "dev-user", claims.UserKey())
}

func TestMockValidatorToleratesMalformedToken(t *testing.T) {
	m := &MockValidator{}
	claims, err := m.ValidateToken("not-a-jwt")
	require.NoError(t, err)
	assert.Equal(t, "dev-user", claims.UserKey())
}
