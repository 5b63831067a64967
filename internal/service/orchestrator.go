package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ComUnity/voiceid-service/internal/config"
	"github.com/ComUnity/voiceid-service/internal/models"
	"github.com/ComUnity/voiceid-service/internal/repository"
	"github.com/ComUnity/voiceid-service/internal/util"
	"github.com/ComUnity/voiceid-service/internal/util/logger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// VerificationConfig is the orchestrator policy: TTLs, thresholds and attempt limits.
type VerificationConfig = config.VerificationConfig

const (
	sessionPrefix         = "session:"
	challengePrefix       = "challenge:"
	confirmationPrefix    = "confirm:"
	confirmAttemptsPrefix = "confirm_attempts:"
)

// Dependencies are the collaborators the orchestrator drives.
type Dependencies struct {
	Profiles   repository.ProfileRepository
	Sessions   repository.SessionStore
	Ledger     *AttemptLedger
	Counters   repository.CounterStore
	Risk       *RiskScorer
	Calls      CallProvider
	Matcher    BiometricMatcher
	Templates  TemplateGenerator
	Notifier   Notifier
	Audit      AuditSink
	Scripts    ScriptLinker
	FromNumber string
}

type Option func(*VerificationOrchestrator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *VerificationOrchestrator) { o.now = now }
}

func WithMetrics(m Metrics) Option {
	return func(o *VerificationOrchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(o *VerificationOrchestrator) { o.tracer = t }
}

// VerificationOrchestrator runs the enrollment and verification state machine.
// It keeps no per-session state of its own.
type VerificationOrchestrator struct {
	cfg VerificationConfig
	Dependencies

	now     func() time.Time
	metrics Metrics
	tracer  trace.Tracer
}

type challengeRecord struct {
	Code     string    `json:"code"`
	IssuedAt time.Time `json:"issued_at"`
}

type confirmationRecord struct {
	Code      string    `json:"code"`
	ProfileID uuid.UUID `json:"profile_id"`
	IssuedAt  time.Time `json:"issued_at"`
}

func NewVerificationOrchestrator(cfg VerificationConfig, deps Dependencies, opts ...Option) (*VerificationOrchestrator, error) {
	switch {
	case deps.Profiles == nil, deps.Sessions == nil, deps.Ledger == nil, deps.Counters == nil:
		return nil, errors.New("orchestrator: profiles, sessions, ledger and counters are required")
	case deps.Calls == nil, deps.Matcher == nil, deps.Templates == nil:
		return nil, errors.New("orchestrator: call provider, matcher and template generator are required")
	case deps.Audit == nil, deps.Scripts == nil:
		return nil, errors.New("orchestrator: audit sink and script linker are required")
	}
	cfg.ApplyDefaults()
	if deps.Risk == nil {
		deps.Risk = NewRiskScorer(time.UTC)
	}
	o := &VerificationOrchestrator{
		cfg:          cfg,
		Dependencies: deps,
		now:          time.Now,
		metrics:      noopMetrics{},
		tracer:       otel.Tracer("voiceid/orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Initiate decides the workflow for req.Phone, places the call and persists the session.
// req.Phone must already be normalized to E.164.
func (o *VerificationOrchestrator) Initiate(ctx context.Context, req InitiateRequest) (res InitiateResult) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.Initiate")
	defer func() { o.finish(span, "initiate", res.Outcome, res.Err) }()

	res = InitiateResult{SessionID: uuid.NewString(), State: StateReceived}
	fail := func(err error) InitiateResult {
		res.Outcome, res.State, res.Err = OutcomeError, StateError, err
		o.audit(ctx, models.AuditEvent{
			SessionID:   res.SessionID,
			PhoneNumber: req.Phone,
			Action:      models.AuditSystemError,
			Result:      KindOf(err).auditResult(),
			RiskScore:   res.RiskScore,
			CallerIP:    req.CallerIP,
		})
		logger.Error("initiate %s for %s failed: %v", res.SessionID, util.MaskPhone(req.Phone), err)
		return res
	}

	profile, err := o.Profiles.FindByPhoneNumber(ctx, req.Phone)
	if err != nil {
		return fail(storeErr("find profile", err))
	}

	tx := models.Transaction{Type: req.TransactionType, Amount: req.Amount}
	if profile == nil {
		res.Kind, res.State = models.WorkflowEnrollment, StateEnrolling
	} else {
		locked, err := o.Ledger.IsLocked(ctx, req.Phone)
		if err != nil {
			return fail(storeErr("check lockout", err))
		}
		if locked {
			res.Kind = models.WorkflowVerification
			res.Outcome, res.State, res.Err = OutcomeLockedOut, StateLockedOut, ErrLockedOut
			o.audit(ctx, models.AuditEvent{
				SessionID:   res.SessionID,
				PhoneNumber: req.Phone,
				Action:      models.AuditVerificationFailure,
				Result:      "locked_out",
				CallerIP:    req.CallerIP,
			})
			return res
		}
		risk := o.Risk.Assess(tx, o.now())
		res.Kind, res.State = models.WorkflowVerification, StateRiskScored
		res.RiskScore, res.RiskBand = &risk.Score, &risk.Band
	}
	span.SetAttributes(attribute.String("voiceid.workflow", string(res.Kind)))

	scriptURL, err := o.Scripts.ScriptURL(res.SessionID, res.Kind)
	if err != nil {
		return fail(fmt.Errorf("build script url: %w", err))
	}
	callID, err := o.Calls.PlaceCall(ctx, models.CallRequest{
		To:        req.Phone,
		From:      o.FromNumber,
		ScriptURL: scriptURL,
		Record:    true,
	})
	if err != nil {
		o.metrics.CallPlacementFailed()
		return fail(providerErr("place call", err))
	}
	res.CallID = callID

	session := models.Session{
		ID:          res.SessionID,
		PhoneNumber: req.Phone,
		Kind:        res.Kind,
		CallID:      callID,
		RiskScore:   res.RiskScore,
		Transaction: tx,
		CallerIP:    req.CallerIP,
		CreatedAt:   o.now().UTC(),
		TTL:         o.cfg.SessionTTL,
	}
	if err := o.Sessions.Put(ctx, sessionPrefix+session.ID, session, session.TTL); err != nil {
		if cerr := o.Calls.CancelCall(context.WithoutCancel(ctx), callID); cerr != nil {
			logger.Error("cancel call %s after session write failure: %v", callID, cerr)
		}
		return fail(storeErr("save session", err))
	}

	res.Outcome, res.State = OutcomeAccepted, StateAwaitingRecording
	logger.Info("session %s started: kind=%s phone=%s call=%s", session.ID, session.Kind, util.MaskPhone(req.Phone), callID)
	return res
}

// IssueChallenge binds a fresh 4-digit code to a live VERIFICATION session.
func (o *VerificationOrchestrator) IssueChallenge(ctx context.Context, sessionID string) (ChallengeResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.IssueChallenge")
	defer span.End()

	var session models.Session
	if err := o.getSession(ctx, sessionID, &session); err != nil {
		recordSpanError(span, err)
		return ChallengeResult{}, err
	}
	if session.Kind != models.WorkflowVerification {
		return ChallengeResult{}, fmt.Errorf("issue challenge for %s session: %w", session.Kind, ErrWrongWorkflow)
	}
	now := o.now()
	remaining := session.ExpiresAt().Sub(now)
	if remaining <= 0 {
		return ChallengeResult{}, ErrSessionExpired
	}

	code, err := newChallengeCode()
	if err != nil {
		return ChallengeResult{}, err
	}
	rec := challengeRecord{Code: code, IssuedAt: now.UTC()}
	if err := o.Sessions.Put(ctx, challengePrefix+sessionID, rec, o.cfg.ChallengeTTL); err != nil {
		recordSpanError(span, err)
		return ChallengeResult{}, storeErr("save challenge", err)
	}
	if !session.ChallengeIssued {
		session.ChallengeIssued = true
		if err := o.Sessions.Put(ctx, sessionPrefix+sessionID, session, remaining); err != nil {
			recordSpanError(span, err)
			return ChallengeResult{}, storeErr("mark challenge issued", err)
		}
	}
	return ChallengeResult{SessionID: sessionID, Code: code, ExpiresAt: now.Add(o.cfg.ChallengeTTL)}, nil
}

// CompleteEnrollment consumes an ENROLLMENT session, stores the new profile and
// issues a confirmation code. A replay finds no session and fails with ErrSessionExpired.
// A session for a number enrolled since it started fails with ErrAlreadyEnrolled and
// leaves the existing profile untouched.
func (o *VerificationOrchestrator) CompleteEnrollment(ctx context.Context, cb RecordingCallback) (res EnrollmentResult) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.CompleteEnrollment")
	defer func() { o.finish(span, "enrollment", res.Outcome, res.Err) }()

	res = EnrollmentResult{SessionID: cb.SessionID, State: StateAwaitingRecording}
	var session models.Session
	fail := func(err error) EnrollmentResult {
		res.Outcome, res.State, res.Err = OutcomeError, StateError, err
		o.audit(ctx, models.AuditEvent{
			SessionID:   cb.SessionID,
			PhoneNumber: firstNonEmpty(session.PhoneNumber, cb.CallerNumber),
			Action:      models.AuditSystemError,
			Result:      KindOf(err).auditResult(),
			CallerIP:    firstNonEmpty(cb.CallerIP, session.CallerIP),
		})
		logger.Error("enrollment %s failed: %v", cb.SessionID, err)
		return res
	}

	if err := o.consumeSession(ctx, cb.SessionID, models.WorkflowEnrollment, &session); err != nil {
		return fail(err)
	}
	existing, err := o.Profiles.FindByPhoneNumber(ctx, session.PhoneNumber)
	if err != nil {
		return fail(storeErr("find profile", err))
	}
	alreadyEnrolled := fmt.Errorf("session %s for %s: %w", session.ID, util.MaskPhone(session.PhoneNumber), ErrAlreadyEnrolled)
	if existing != nil {
		return fail(alreadyEnrolled)
	}

	template, err := o.Templates.Generate(ctx, cb.AudioRef)
	if err != nil {
		return fail(providerErr("generate template", err))
	}

	now := o.now().UTC()
	profile := &models.Profile{
		ID:            uuid.New(),
		PhoneNumber:   session.PhoneNumber,
		VoiceTemplate: template,
		EnrolledAt:    now,
		SecurityTier:  models.TierLow,
		Metadata:      callerMetadata(cb, session),
	}

	code, err := newConfirmationCode()
	if err != nil {
		return fail(err)
	}
	err = o.Profiles.Create(ctx, profile)
	if errors.Is(err, repository.ErrProfileExists) {
		return fail(alreadyEnrolled)
	}
	if err != nil {
		return fail(storeErr("create profile", err))
	}
	rec := confirmationRecord{Code: code, ProfileID: profile.ID, IssuedAt: now}
	if err := o.Sessions.Put(ctx, confirmationPrefix+session.PhoneNumber, rec, o.cfg.ConfirmationTTL); err != nil {
		return fail(storeErr("save confirmation code", err))
	}
	if err := o.Counters.Reset(ctx, confirmAttemptsPrefix+session.PhoneNumber); err != nil {
		logger.Warn("reset confirmation attempts for %s: %v", util.MaskPhone(session.PhoneNumber), err)
	}

	o.audit(ctx, models.AuditEvent{
		SessionID:   session.ID,
		PhoneNumber: session.PhoneNumber,
		Action:      models.AuditEnrollmentSuccess,
		Result:      "success",
		CallerIP:    firstNonEmpty(cb.CallerIP, session.CallerIP),
	})
	o.notify(ctx, session.PhoneNumber, fmt.Sprintf("Your voice enrollment is complete. Confirmation code: %s", code))

	res.ProfileID, res.ConfirmationCode = profile.ID, code
	res.Outcome, res.State = OutcomeSuccess, StateCompletedSuccess
	logger.Info("enrollment %s completed for %s", session.ID, util.MaskPhone(session.PhoneNumber))
	return res
}

// CompleteVerification consumes a VERIFICATION session and applies the match decision.
func (o *VerificationOrchestrator) CompleteVerification(ctx context.Context, cb RecordingCallback) (res VerificationResult) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.CompleteVerification")
	defer func() { o.finish(span, "verification", res.Outcome, res.Err) }()

	res = VerificationResult{SessionID: cb.SessionID, State: StateAwaitingRecording}
	var session models.Session
	fail := func(err error) VerificationResult {
		res.Outcome, res.State, res.Err = OutcomeError, StateError, err
		o.audit(ctx, models.AuditEvent{
			SessionID:   cb.SessionID,
			PhoneNumber: firstNonEmpty(session.PhoneNumber, cb.CallerNumber),
			Action:      models.AuditSystemError,
			Result:      KindOf(err).auditResult(),
			RiskScore:   session.RiskScore,
			CallerIP:    firstNonEmpty(cb.CallerIP, session.CallerIP),
		})
		logger.Error("verification %s failed: %v", cb.SessionID, err)
		return res
	}

	if err := o.consumeSession(ctx, cb.SessionID, models.WorkflowVerification, &session); err != nil {
		return fail(err)
	}
	res.RiskScore = session.RiskScore
	phone := session.PhoneNumber
	callerIP := firstNonEmpty(cb.CallerIP, session.CallerIP)

	profile, err := o.Profiles.FindByPhoneNumber(ctx, phone)
	if err != nil {
		return fail(storeErr("find profile", err))
	}
	if profile == nil {
		return fail(fmt.Errorf("session %s: %w", session.ID, ErrProfileNotFound))
	}

	locked, err := o.Ledger.IsLocked(ctx, phone)
	if err != nil {
		return fail(storeErr("check lockout", err))
	}
	if locked {
		res.FailureCount = profile.FailureCount
		res.Outcome, res.State, res.Err = OutcomeLockedOut, StateLockedOut, ErrLockedOut
		o.audit(ctx, models.AuditEvent{
			SessionID:   session.ID,
			PhoneNumber: phone,
			Action:      models.AuditVerificationFailure,
			Result:      "locked_out",
			RiskScore:   session.RiskScore,
			CallerIP:    callerIP,
		})
		return res
	}

	challengeOK, err := o.checkChallenge(ctx, session, cb.SpokenCode)
	if err != nil {
		return fail(err)
	}

	failReason := "challenge_mismatch"
	if challengeOK {
		start := o.now()
		confidence, err := o.Matcher.Match(ctx, cb.AudioRef, profile.VoiceTemplate)
		o.metrics.ObserveMatch(o.now().Sub(start), err)
		if err != nil {
			return fail(providerErr("match voice", err))
		}
		if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
			return fail(fmt.Errorf("confidence %v: %w", confidence, ErrInvalidMatcherOutput))
		}
		res.Confidence = confidence
		failReason = "below_threshold"
	}
	span.SetAttributes(attribute.Float64("voiceid.confidence", res.Confidence))

	if challengeOK && res.Confidence > o.cfg.MatchThreshold {
		if err := o.Ledger.RecordSuccess(ctx, phone); err != nil {
			return fail(storeErr("reset ledger", err))
		}
		now := o.now().UTC()
		profile.LastVerifiedAt = &now
		profile.FailureCount = 0
		if err := o.Profiles.Save(ctx, profile); err != nil {
			return fail(storeErr("save profile", err))
		}
		o.audit(ctx, models.AuditEvent{
			SessionID:   session.ID,
			PhoneNumber: phone,
			Action:      models.AuditVerificationSuccess,
			Result:      "success",
			RiskScore:   session.RiskScore,
			CallerIP:    callerIP,
		})
		o.notify(ctx, phone, "Your identity was verified by voice. If this wasn't you, contact support immediately.")
		res.Outcome, res.State = OutcomeSuccess, StateCompletedSuccess
		return res
	}

	count, triggered, err := o.Ledger.RecordFailure(ctx, phone)
	if err != nil {
		return fail(storeErr("record failure", err))
	}
	res.FailureCount = count

	// The ledger is authoritative from here on; the profile copy of the count
	// must not turn a decided failure or lockout into an error.
	profile.FailureCount = count
	if err := o.Profiles.Save(ctx, profile); err != nil {
		o.metrics.ProfileSyncFailed()
		logger.Error("mirror failure count %d for %s: %v", count, util.MaskPhone(phone), err)
	}
	o.audit(ctx, models.AuditEvent{
		SessionID:   session.ID,
		PhoneNumber: phone,
		Action:      models.AuditVerificationFailure,
		Result:      failReason,
		RiskScore:   session.RiskScore,
		CallerIP:    callerIP,
	})
	if triggered {
		o.audit(ctx, models.AuditEvent{
			SessionID:   session.ID,
			PhoneNumber: phone,
			Action:      models.AuditLockoutTriggered,
			Result:      fmt.Sprintf("failures=%d", count),
			RiskScore:   session.RiskScore,
			CallerIP:    callerIP,
		})
		logger.Warn("lockout triggered for %s after %d failures", util.MaskPhone(phone), count)
		res.Outcome, res.State = OutcomeLockedOut, StateLockedOut
		return res
	}
	res.Outcome, res.State = OutcomeFailure, StateCompletedFailure
	return res
}

// Script returns the prompt parameters for a live session, or an apology script.
func (o *VerificationOrchestrator) Script(ctx context.Context, sessionID string) (Script, error) {
	var session models.Session
	if err := o.getSession(ctx, sessionID, &session); err != nil {
		return ApologyScript(sessionID), err
	}
	return ScriptFor(session.Kind, session.ID), nil
}

// ConfirmationCode returns the pending enrollment confirmation code for phone.
func (o *VerificationOrchestrator) ConfirmationCode(ctx context.Context, phone string) (string, error) {
	var rec confirmationRecord
	err := o.Sessions.Get(ctx, confirmationPrefix+phone, &rec)
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrCodeNotFound
	}
	if err != nil {
		return "", storeErr("get confirmation code", err)
	}
	return rec.Code, nil
}

// ConfirmEnrollment checks code against the pending confirmation and consumes it on a match.
// Every miss is counted; the miss that reaches ConfirmMaxAttempts discards the code and
// returns ErrTooManyAttempts.
func (o *VerificationOrchestrator) ConfirmEnrollment(ctx context.Context, phone, code string) (bool, error) {
	want, err := o.ConfirmationCode(ctx, phone)
	if err != nil {
		return false, err
	}
	attemptsKey := confirmAttemptsPrefix + phone
	if codesEqual(want, code) {
		if err := o.Sessions.Delete(ctx, confirmationPrefix+phone); err != nil {
			return false, storeErr("consume confirmation code", err)
		}
		if err := o.Counters.Reset(ctx, attemptsKey); err != nil {
			logger.Warn("reset confirmation attempts for %s: %v", util.MaskPhone(phone), err)
		}
		return true, nil
	}

	misses, err := o.Counters.Increment(ctx, attemptsKey, o.cfg.ConfirmationTTL)
	if err != nil {
		return false, storeErr("count confirmation attempt", err)
	}
	if int(misses) < o.cfg.ConfirmMaxAttempts {
		return false, nil
	}
	if err := o.Sessions.Delete(ctx, confirmationPrefix+phone); err != nil {
		return false, storeErr("discard confirmation code", err)
	}
	if err := o.Counters.Reset(ctx, attemptsKey); err != nil {
		logger.Warn("reset confirmation attempts for %s: %v", util.MaskPhone(phone), err)
	}
	logger.Warn("confirmation code for %s discarded after %d wrong attempts", util.MaskPhone(phone), misses)
	return false, ErrTooManyAttempts
}

func (o *VerificationOrchestrator) getSession(ctx context.Context, id string, dest *models.Session) error {
	if id == "" {
		return ErrSessionExpired
	}
	err := o.Sessions.Get(ctx, sessionPrefix+id, dest)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("session %s: %w", id, ErrSessionExpired)
	}
	if err != nil {
		return storeErr("get session", err)
	}
	return nil
}

// consumeSession checks the workflow kind and then deletes the session atomically,
// so exactly one completion wins.
func (o *VerificationOrchestrator) consumeSession(ctx context.Context, id string, kind models.WorkflowKind, dest *models.Session) error {
	if err := o.getSession(ctx, id, dest); err != nil {
		return err
	}
	if dest.Kind != kind {
		return fmt.Errorf("session %s is %s, not %s: %w", id, dest.Kind, kind, ErrWrongWorkflow)
	}
	err := o.Sessions.Take(ctx, sessionPrefix+id, dest)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("session %s: %w", id, ErrSessionExpired)
	}
	if err != nil {
		return storeErr("consume session", err)
	}
	return nil
}

// checkChallenge consumes the session's challenge and compares the spoken code.
func (o *VerificationOrchestrator) checkChallenge(ctx context.Context, session models.Session, spoken string) (bool, error) {
	if !session.ChallengeIssued {
		return !o.cfg.ChallengeRequired, nil
	}
	var rec challengeRecord
	err := o.Sessions.Take(ctx, challengePrefix+session.ID, &rec)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("consume challenge", err)
	}
	return codesEqual(rec.Code, spoken), nil
}

// audit never changes an outcome; failures are logged and counted.
func (o *VerificationOrchestrator) audit(ctx context.Context, e models.AuditEvent) {
	e.ID = uuid.New()
	e.Timestamp = o.now().UTC()
	if err := o.Audit.Append(context.WithoutCancel(ctx), e); err != nil {
		o.metrics.AuditFailed(e.Action)
		logger.Error("audit %s for session %s failed: %v", e.Action, e.SessionID, err)
	}
}

func (o *VerificationOrchestrator) notify(ctx context.Context, phone, msg string) {
	if o.Notifier == nil {
		return
	}
	if err := o.Notifier.Send(context.WithoutCancel(ctx), phone, msg); err != nil {
		logger.Warn("notify %s failed: %v", util.MaskPhone(phone), err)
	}
}

func (o *VerificationOrchestrator) finish(span trace.Span, op string, outcome Outcome, err error) {
	o.metrics.ObserveOutcome(op, outcome)
	span.SetAttributes(attribute.String("voiceid.outcome", string(outcome)))
	if err != nil && outcome == OutcomeError {
		recordSpanError(span, err)
	}
	span.End()
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(KindOf(err)))
}

func callerMetadata(cb RecordingCallback, s models.Session) models.JSONMap {
	md := models.JSONMap{"call_id": s.CallID}
	if cb.CallerNumber != "" {
		md["caller_number"] = cb.CallerNumber
	}
	if cb.CallerCarrier != "" {
		md["carrier"] = cb.CallerCarrier
	}
	if ip := firstNonEmpty(cb.CallerIP, s.CallerIP); ip != "" {
		md["caller_ip"] = ip
	}
	return md
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
