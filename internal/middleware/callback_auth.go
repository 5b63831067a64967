package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/ComUnity/voiceid-service/internal/util"
	"github.com/ComUnity/voiceid-service/internal/util/logger"
)

const CallbackTokenHeader = "X-Callback-Token"

// CallbackTokenParser validates a provider callback token.
type CallbackTokenParser interface {
	Parse(token string) (*util.CallbackClaims, error)
}

// CallbackAuth rejects provider requests that do not carry a valid callback token.
// The token is read from the "token" query parameter, X-Callback-Token, or a
// Bearer authorization header.
func CallbackAuth(tokens CallbackTokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := callbackToken(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing callback token")
				return
			}
			claims, err := tokens.Parse(raw)
			if err != nil {
				logger.Warnf("rejected callback token from %s: %v", ClientIP(r), err)
				writeError(w, http.StatusUnauthorized, "invalid callback token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callbackClaimsKey, claims)))
		})
	}
}

// CallbackClaimsFrom returns the claims stored by CallbackAuth.
func CallbackClaimsFrom(ctx context.Context) (*util.CallbackClaims, bool) {
	c, ok := ctx.Value(callbackClaimsKey).(*util.CallbackClaims)
	return c, ok
}

// WithCallbackClaims is used by handlers mounted without CallbackAuth and by tests.
func WithCallbackClaims(ctx context.Context, c *util.CallbackClaims) context.Context {
	return context.WithValue(ctx, callbackClaimsKey, c)
}

func callbackToken(r *http.Request) string {
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
		return t
	}
	if t := strings.TrimSpace(r.Header.Get(CallbackTokenHeader)); t != "" {
		return t
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}
