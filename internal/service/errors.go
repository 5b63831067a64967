package service

import (
	"errors"
	"fmt"
)

var (
	ErrSessionExpired       = errors.New("session expired or not found")
	ErrProfileNotFound      = errors.New("profile not found")
	ErrProviderUnavailable  = errors.New("provider unavailable")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrLockedOut            = errors.New("phone number locked out")
	ErrMatchBelowThreshold  = errors.New("match below threshold")
	ErrWrongWorkflow        = errors.New("operation not valid for this workflow")
	ErrInvalidMatcherOutput = errors.New("matcher returned confidence outside [0,1]")
	ErrCodeNotFound         = errors.New("confirmation code not found or expired")
	ErrAlreadyEnrolled      = errors.New("phone number already enrolled")
	ErrTooManyAttempts      = errors.New("too many confirmation attempts")
)

// ErrorKind is the caller-facing classification of a failure.
type ErrorKind string

const (
	KindNone                 ErrorKind = ""
	KindSessionExpired       ErrorKind = "SESSION_EXPIRED"
	KindProfileNotFound      ErrorKind = "PROFILE_NOT_FOUND"
	KindProviderUnavailable  ErrorKind = "PROVIDER_UNAVAILABLE"
	KindStoreUnavailable     ErrorKind = "STORE_UNAVAILABLE"
	KindLockedOut            ErrorKind = "LOCKED_OUT"
	KindMatchBelowThreshold  ErrorKind = "MATCH_BELOW_THRESHOLD"
	KindWrongWorkflow        ErrorKind = "WRONG_WORKFLOW"
	KindInvalidMatcherOutput ErrorKind = "INVALID_MATCHER_OUTPUT"
	KindCodeNotFound         ErrorKind = "CODE_NOT_FOUND"
	KindAlreadyEnrolled      ErrorKind = "ALREADY_ENROLLED"
	KindTooManyAttempts      ErrorKind = "TOO_MANY_ATTEMPTS"
	KindInternal             ErrorKind = "INTERNAL"
)

var kindBySentinel = []struct {
	err  error
	kind ErrorKind
}{
	{ErrSessionExpired, KindSessionExpired},
	{ErrProfileNotFound, KindProfileNotFound},
	{ErrProviderUnavailable, KindProviderUnavailable},
	{ErrStoreUnavailable, KindStoreUnavailable},
	{ErrLockedOut, KindLockedOut},
	{ErrMatchBelowThreshold, KindMatchBelowThreshold},
	{ErrWrongWorkflow, KindWrongWorkflow},
	{ErrInvalidMatcherOutput, KindInvalidMatcherOutput},
	{ErrCodeNotFound, KindCodeNotFound},
	{ErrAlreadyEnrolled, KindAlreadyEnrolled},
	{ErrTooManyAttempts, KindTooManyAttempts},
}

// KindOf classifies err by the first sentinel it wraps.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, s := range kindBySentinel {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return KindInternal
}

// Result string used in SYSTEM_ERROR audit events.
func (k ErrorKind) auditResult() string {
	if k == KindNone {
		return "error"
	}
	return string(k)
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func providerErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrProviderUnavailable, err)
}
