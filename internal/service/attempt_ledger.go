package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ComUnity/voiceid-service/internal/repository"
)

const (
	attemptsPrefix = "attempts:"
	lockoutPrefix  = "lockout:"
)

// AttemptLedger counts consecutive verification failures per phone number and
// owns the lockout record. All state lives in the CounterStore.
type AttemptLedger struct {
	store     repository.CounterStore
	threshold int
	ttl       time.Duration
	now       func() time.Time
}

type LedgerOption func(*AttemptLedger)

// WithLedgerClock overrides the clock used to stamp lockout records.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *AttemptLedger) { l.now = now }
}

func NewAttemptLedger(store repository.CounterStore, threshold int, ttl time.Duration, opts ...LedgerOption) *AttemptLedger {
	if threshold < 1 {
		threshold = 3
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	l := &AttemptLedger{store: store, threshold: threshold, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Threshold is the failure count at which lockout triggers.
func (l *AttemptLedger) Threshold() int { return l.threshold }

// RecordFailure increments the failure count. Only the failure that brings the
// count to exactly the threshold writes the lockout record and reports
// lockoutTriggered; counts past it never lock again.
func (l *AttemptLedger) RecordFailure(ctx context.Context, phone string) (int, bool, error) {
	n, err := l.store.Increment(ctx, attemptsPrefix+phone, l.ttl)
	if err != nil {
		return 0, false, fmt.Errorf("increment failures: %w", err)
	}
	if int(n) != l.threshold {
		return int(n), false, nil
	}
	created, err := l.store.SetIfAbsent(ctx, lockoutPrefix+phone, l.now().UTC().Format(time.RFC3339), l.ttl)
	if err != nil {
		return int(n), false, fmt.Errorf("set lockout: %w", err)
	}
	return int(n), created, nil
}

// RecordSuccess resets the failure count to zero. An active lockout is left to expire.
func (l *AttemptLedger) RecordSuccess(ctx context.Context, phone string) error {
	if err := l.store.Reset(ctx, attemptsPrefix+phone); err != nil {
		return fmt.Errorf("reset failures: %w", err)
	}
	return nil
}

func (l *AttemptLedger) IsLocked(ctx context.Context, phone string) (bool, error) {
	ok, err := l.store.Exists(ctx, lockoutPrefix+phone)
	if err != nil {
		return false, fmt.Errorf("check lockout: %w", err)
	}
	return ok, nil
}
