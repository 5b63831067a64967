package handler

import (
	"encoding/json"
	"net/http"

	"github.com/ComUnity/voiceid-service/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": message,
		},
	})
}

// writeKindError reports a classified service failure without leaking the wrapped cause.
func writeKindError(w http.ResponseWriter, kind service.ErrorKind) {
	status := statusForKind(kind)
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    status,
			"kind":    kind,
			"message": messageForKind(kind),
		},
	})
}

func statusForKind(kind service.ErrorKind) int {
	switch kind {
	case service.KindNone:
		return http.StatusOK
	case service.KindSessionExpired:
		return http.StatusGone
	case service.KindProfileNotFound, service.KindCodeNotFound:
		return http.StatusNotFound
	case service.KindLockedOut:
		return http.StatusLocked
	case service.KindWrongWorkflow, service.KindAlreadyEnrolled:
		return http.StatusConflict
	case service.KindTooManyAttempts:
		return http.StatusTooManyRequests
	case service.KindProviderUnavailable, service.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case service.KindInvalidMatcherOutput:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func messageForKind(kind service.ErrorKind) string {
	switch kind {
	case service.KindSessionExpired:
		return "session expired or not found"
	case service.KindProfileNotFound:
		return "no voice profile for this number"
	case service.KindCodeNotFound:
		return "confirmation code not found or expired"
	case service.KindLockedOut:
		return "voice verification is temporarily locked for this number"
	case service.KindWrongWorkflow:
		return "operation not valid for this session"
	case service.KindAlreadyEnrolled:
		return "this number already has a voice profile"
	case service.KindTooManyAttempts:
		return "too many wrong codes, the confirmation code was discarded"
	case service.KindProviderUnavailable:
		return "an upstream provider is unavailable, try again later"
	case service.KindStoreUnavailable:
		return "service temporarily unavailable, try again later"
	case service.KindInvalidMatcherOutput:
		return "biometric engine returned an invalid result"
	default:
		return "internal error"
	}
}
