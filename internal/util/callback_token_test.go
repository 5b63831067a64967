package util

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ComUnity/voiceid-service/internal/models"
)

func newTestTokens(t *testing.T) *CallbackTokenManager {
	t.Helper()
	m, err := NewCallbackTokenManager("test-signing-key", "https://voice.example.com/", time.Hour)
	require.NoError(t, err)
	return m
}

func TestCallbackToken_RoundTrip(t *testing.T) {
	m := newTestTokens(t)
	tok, err := m.Mint("sess-1", models.WorkflowVerification)
	require.NoError(t, err)

	claims, err := m.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, models.WorkflowVerification, claims.Kind)
	assert.Equal(t, "sess-1", claims.Subject)
}

func TestCallbackToken_Rejects(t *testing.T) {
	m := newTestTokens(t)
	good, err := m.Mint("sess-1", models.WorkflowEnrollment)
	require.NoError(t, err)

	other, err := NewCallbackTokenManager("another-key", "", time.Hour)
	require.NoError(t, err)
	foreign, err := other.Mint("sess-1", models.WorkflowEnrollment)
	require.NoError(t, err)

	expired, err := newTestTokens(t).
		WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) }).
		Mint("sess-1", models.WorkflowEnrollment)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, CallbackClaims{
		SessionID: "sess-1",
		Kind:      models.WorkflowEnrollment,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"wrong key":    foreign,
		"expired":      expired,
		"alg none":     unsigned,
		"tampered sig": good + "AAAA",
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := m.Parse(tok)
			assert.ErrorIs(t, err, ErrInvalidCallbackToken)
		})
	}
}

func TestCallbackToken_MintValidation(t *testing.T) {
	m := newTestTokens(t)
	_, err := m.Mint("", models.WorkflowEnrollment)
	assert.Error(t, err)
	_, err = m.Mint("sess-1", models.WorkflowKind("OTHER"))
	assert.Error(t, err)

	_, err = NewCallbackTokenManager("", "", time.Hour)
	assert.Error(t, err)
}

func TestCallbackToken_ScriptURL(t *testing.T) {
	m := newTestTokens(t)
	raw, err := m.ScriptURL("sess-9", models.WorkflowEnrollment)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "https://voice.example.com/v1/scripts/sess-9?token="))

	u, err := url.Parse(raw)
	require.NoError(t, err)
	claims, err := m.Parse(u.Query().Get("token"))
	require.NoError(t, err)
	assert.Equal(t, "sess-9", claims.SessionID)
}

func TestRandomKey(t *testing.T) {
	a, b := RandomKey(), RandomKey()
	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
}
