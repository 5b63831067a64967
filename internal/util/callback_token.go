package util

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/ComUnity/voiceid-service/internal/models"
)

const callbackIssuer = "voiceid-service"

var ErrInvalidCallbackToken = errors.New("invalid callback token")

// CallbackClaims binds a provider callback to one session.
type CallbackClaims struct {
	SessionID string              `json:"sid"`
	Kind      models.WorkflowKind `json:"kind"`

	jwt.RegisteredClaims
}

// CallbackTokenManager mints and validates the HS256 tokens embedded in the
// script URL handed to the telephony provider.
type CallbackTokenManager struct {
	key     []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

func NewCallbackTokenManager(signingKey, baseURL string, ttl time.Duration) (*CallbackTokenManager, error) {
	if signingKey == "" {
		return nil, errors.New("callback signing key is empty")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CallbackTokenManager{
		key:     []byte(signingKey),
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// WithClock overrides the issue time. Validation always uses wall time.
func (m *CallbackTokenManager) WithClock(now func() time.Time) *CallbackTokenManager {
	m.now = now
	return m
}

func (m *CallbackTokenManager) Mint(sessionID string, kind models.WorkflowKind) (string, error) {
	if sessionID == "" || !kind.Valid() {
		return "", fmt.Errorf("mint callback token: bad session %q kind %q", sessionID, kind)
	}
	now := m.now()
	claims := CallbackClaims{
		SessionID: sessionID,
		Kind:      kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   sessionID,
			Issuer:    callbackIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign callback token: %w", err)
	}
	return signed, nil
}

// Parse validates signature, method and expiry and returns the claims.
func (m *CallbackTokenManager) Parse(tokenString string) (*CallbackClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CallbackClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCallbackToken, err)
	}
	claims, ok := token.Claims.(*CallbackClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidCallbackToken
	}
	if claims.SessionID == "" || !claims.Kind.Valid() || claims.Issuer != callbackIssuer {
		return nil, fmt.Errorf("%w: missing session binding", ErrInvalidCallbackToken)
	}
	return claims, nil
}

// ScriptURL implements service.ScriptLinker.
func (m *CallbackTokenManager) ScriptURL(sessionID string, kind models.WorkflowKind) (string, error) {
	tok, err := m.Mint(sessionID, kind)
	if err != nil {
		return "", err
	}
	return m.baseURL + "/v1/scripts/" + url.PathEscape(sessionID) + "?token=" + url.QueryEscape(tok), nil
}

// RandomKey returns a fresh 256-bit signing key, base64url encoded.
func RandomKey() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Errorf("crypto/rand: %w", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
