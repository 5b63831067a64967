package service_test

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks CallProvider,Notifier,BiometricMatcher,TemplateGenerator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/ComUnity/voiceid-service/internal/config"
	"github.com/ComUnity/voiceid-service/internal/models"
	"github.com/ComUnity/voiceid-service/internal/repository"
	"github.com/ComUnity/voiceid-service/internal/service"
	"github.com/ComUnity/voiceid-service/internal/service/mocks"
	"github.com/ComUnity/voiceid-service/internal/util/logger"
)

type stubLinker struct{}

func (stubLinker) ScriptURL(sessionID string, kind models.WorkflowKind) (string, error) {
	return "https://voice.test/v1/scripts/" + sessionID + "?kind=" + string(kind), nil
}

// flakyStore fails every Put when failPut is set.
type flakyStore struct {
	*repository.MemoryStore
	failPut bool
}

func (f *flakyStore) Put(ctx context.Context, key string, v any, ttl time.Duration) error {
	if f.failPut {
		return errors.New("redis: connection pool timeout")
	}
	return f.MemoryStore.Put(ctx, key, v, ttl)
}

// forgetfulProfiles answers the first lookup and then claims the profile is gone.
type forgetfulProfiles struct {
	*repository.MemoryProfileRepository
	lookups int
}

func (f *forgetfulProfiles) FindByPhoneNumber(ctx context.Context, phone string) (*models.Profile, error) {
	f.lookups++
	if f.lookups > 1 {
		return nil, nil
	}
	return f.MemoryProfileRepository.FindByPhoneNumber(ctx, phone)
}

// blindProfiles never finds a profile, as when two enrollments race past the lookup.
type blindProfiles struct {
	*repository.MemoryProfileRepository
}

func (blindProfiles) FindByPhoneNumber(context.Context, string) (*models.Profile, error) {
	return nil, nil
}

// saveFailingProfiles rejects the failOn-th Save made through it.
type saveFailingProfiles struct {
	*repository.MemoryProfileRepository
	failOn int
	saves  int
}

func (f *saveFailingProfiles) Save(ctx context.Context, p *models.Profile) error {
	f.saves++
	if f.saves == f.failOn {
		return errors.New("pq: could not serialize access")
	}
	return f.MemoryProfileRepository.Save(ctx, p)
}

type brokenAudit struct{}

func (brokenAudit) Append(context.Context, models.AuditEvent) error {
	return errors.New("kafka: leader not available")
}

type OrchestratorSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	calls     *mocks.MockCallProvider
	matcher   *mocks.MockBiometricMatcher
	templates *mocks.MockTemplateGenerator
	notifier  *mocks.MockNotifier

	now      time.Time
	store    *repository.MemoryStore
	profiles *repository.MemoryProfileRepository
	auditLog *repository.MemoryAuditLog
	ledger   *service.AttemptLedger
	orch     *service.VerificationOrchestrator
}

func TestOrchestratorSuite(t *testing.T) {
	logger.UseNop()
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.calls = mocks.NewMockCallProvider(s.ctrl)
	s.matcher = mocks.NewMockBiometricMatcher(s.ctrl)
	s.templates = mocks.NewMockTemplateGenerator(s.ctrl)
	s.notifier = mocks.NewMockNotifier(s.ctrl)
	s.notifier.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	s.now = time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)
	s.store = repository.NewMemoryStore().WithClock(s.clock)
	s.profiles = repository.NewMemoryProfileRepository()
	s.auditLog = repository.NewMemoryAuditLog()
	s.orch = s.newOrchestrator(s.store, s.profiles, s.auditLog)
}

func (s *OrchestratorSuite) clock() time.Time { return s.now }

func (s *OrchestratorSuite) newOrchestrator(sessions repository.SessionStore, profiles repository.ProfileRepository, audit service.AuditSink) *service.VerificationOrchestrator {
	var cfg config.VerificationConfig
	cfg.ApplyDefaults()
	s.ledger = service.NewAttemptLedger(s.store, cfg.MaxFailures, cfg.LockoutTTL, service.WithLedgerClock(s.clock))
	orch, err := service.NewVerificationOrchestrator(cfg, service.Dependencies{
		Profiles:   profiles,
		Sessions:   sessions,
		Ledger:     s.ledger,
		Counters:   s.store,
		Risk:       service.NewRiskScorer(time.UTC),
		Calls:      s.calls,
		Matcher:    s.matcher,
		Templates:  s.templates,
		Notifier:   s.notifier,
		Audit:      audit,
		Scripts:    stubLinker{},
		FromNumber: "+18005550100",
	}, service.WithClock(s.clock))
	s.Require().NoError(err)
	return orch
}

func (s *OrchestratorSuite) seedProfile(phone string) {
	s.Require().NoError(s.profiles.Save(context.Background(), &models.Profile{
		PhoneNumber:   phone,
		VoiceTemplate: []byte("tpl"),
		EnrolledAt:    s.now.Add(-24 * time.Hour),
	}))
}

func (s *OrchestratorSuite) startSession(phone string, tx models.TransactionType, amount float64) service.InitiateResult {
	s.calls.EXPECT().PlaceCall(gomock.Any(), gomock.Any()).Return("call-"+phone, nil)
	res := s.orch.Initiate(context.Background(), service.InitiateRequest{Phone: phone, TransactionType: tx, Amount: amount})
	s.Require().Equal(service.OutcomeAccepted, res.Outcome, "initiate: %v", res.Err)
	return res
}

func (s *OrchestratorSuite) verifyWith(sessionID string, confidence float64) service.VerificationResult {
	s.matcher.EXPECT().Match(gomock.Any(), "audio-"+sessionID, []byte("tpl")).Return(confidence, nil)
	return s.orch.CompleteVerification(context.Background(), service.RecordingCallback{
		SessionID: sessionID,
		AudioRef:  "audio-" + sessionID,
	})
}

func (s *OrchestratorSuite) profile(phone string) *models.Profile {
	p, err := s.profiles.FindByPhoneNumber(context.Background(), phone)
	s.Require().NoError(err)
	s.Require().NotNil(p)
	return p
}

func (s *OrchestratorSuite) TestInitiate_UnknownPhoneStartsEnrollment() {
	const phone = "+15550001111"
	// A stale lockout record must be ignored: enrollment never consults the ledger.
	_, err := s.store.SetIfAbsent(context.Background(), "lockout:"+phone, "x", time.Hour)
	s.Require().NoError(err)

	s.calls.EXPECT().PlaceCall(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req models.CallRequest) (string, error) {
			s.Equal(phone, req.To)
			s.Equal("+18005550100", req.From)
			s.True(req.Record)
			s.Contains(req.ScriptURL, "kind=ENROLLMENT")
			return "call-1", nil
		})

	res := s.orch.Initiate(context.Background(), service.InitiateRequest{Phone: phone})
	s.Equal(service.OutcomeAccepted, res.Outcome)
	s.Equal(service.StateAwaitingRecording, res.State)
	s.Equal(models.WorkflowEnrollment, res.Kind)
	s.Nil(res.RiskScore)
	s.Nil(res.RiskBand)
	s.Equal("call-1", res.CallID)
	s.Len(res.SessionID, 36)

	script, err := s.orch.Script(context.Background(), res.SessionID)
	s.Require().NoError(err)
	s.Equal(models.WorkflowEnrollment, script.Kind)
	s.True(script.Record)
}

func (s *OrchestratorSuite) TestInitiate_KnownPhoneIsRiskScored() {
	s.seedProfile("+15550002222")
	res := s.startSession("+15550002222", models.TxCrypto, 12000)

	s.Equal(models.WorkflowVerification, res.Kind)
	s.Require().NotNil(res.RiskScore)
	s.Equal(85, *res.RiskScore)
	s.Equal(service.RiskHigh, *res.RiskBand)
	s.Empty(s.auditLog.Events())
}

func (s *OrchestratorSuite) TestInitiate_LockedPhonePlacesNoCall() {
	const phone = "+15550003333"
	s.seedProfile(phone)
	for i := 0; i < 3; i++ {
		_, _, err := s.ledger.RecordFailure(context.Background(), phone)
		s.Require().NoError(err)
	}

	// no PlaceCall expectation: any call fails the test
	res := s.orch.Initiate(context.Background(), service.InitiateRequest{Phone: phone, TransactionType: models.TxTransfer, Amount: 10})
	s.Equal(service.OutcomeLockedOut, res.Outcome)
	s.Equal(service.StateLockedOut, res.State)
	s.Equal(service.KindLockedOut, res.ErrorKind())
	s.Equal([]models.AuditAction{models.AuditVerificationFailure}, s.auditLog.Actions())
	s.Equal("locked_out", s.auditLog.Events()[0].Result)
}

func (s *OrchestratorSuite) TestInitiate_ProviderUnavailable() {
	s.calls.EXPECT().PlaceCall(gomock.Any(), gomock.Any()).Return("", errors.New("503 from provider"))

	res := s.orch.Initiate(context.Background(), service.InitiateRequest{Phone: "+15550004444"})
	s.Equal(service.OutcomeError, res.Outcome)
	s.Equal(service.StateError, res.State)
	s.Equal(service.KindProviderUnavailable, res.ErrorKind())
	s.Equal([]models.AuditAction{models.AuditSystemError}, s.auditLog.Actions())

	_, err := s.orch.Script(context.Background(), res.SessionID)
	s.ErrorIs(err, service.ErrSessionExpired, "no session may be left live")
}

func (s *OrchestratorSuite) TestInitiate_SessionWriteFailureCancelsCall() {
	flaky := &flakyStore{MemoryStore: s.store, failPut: true}
	orch := s.newOrchestrator(flaky, s.profiles, s.auditLog)

	gomock.InOrder(
		s.calls.EXPECT().PlaceCall(gomock.Any(), gomock.Any()).Return("call-9", nil),
		s.calls.EXPECT().CancelCall(gomock.Any(), "call-9").Return(nil),
	)
	res := orch.Initiate(context.Background(), service.InitiateRequest{Phone: "+15550005555"})
	s.Equal(service.OutcomeError, res.Outcome)
	s.Equal(service.KindStoreUnavailable, res.ErrorKind())
	s.Equal([]models.AuditAction{models.AuditSystemError}, s.auditLog.Actions())
}

func (s *OrchestratorSuite) TestCompleteEnrollment_CreatesProfileAndCode() {
	const phone = "+15550006666"
	res := s.startSession(phone, "", 0)
	s.templates.EXPECT().Generate(gomock.Any(), "audio-1").Return([]byte("voiceprint"), nil)

	out := s.orch.CompleteEnrollment(context.Background(), service.RecordingCallback{
		SessionID:     res.SessionID,
		AudioRef:      "audio-1",
		CallerNumber:  phone,
		CallerCarrier: "acme-mobile",
		CallerIP:      "203.0.113.7",
	})
	s.Require().NoError(out.Err)
	s.Equal(service.OutcomeSuccess, out.Outcome)
	s.Equal(service.StateCompletedSuccess, out.State)
	s.Len(out.ConfirmationCode, 6)

	p := s.profile(phone)
	s.Equal(out.ProfileID, p.ID)
	s.Equal([]byte("voiceprint"), p.VoiceTemplate)
	s.Equal("acme-mobile", p.Metadata["carrier"])
	s.Equal(0, p.FailureCount)
	s.Equal([]models.AuditAction{models.AuditEnrollmentSuccess}, s.auditLog.Actions())

	code, err := s.orch.ConfirmationCode(context.Background(), phone)
	s.Require().NoError(err)
	s.Equal(out.ConfirmationCode, code)

	s.now = s.now.Add(300 * time.Second)
	_, err = s.orch.ConfirmationCode(context.Background(), phone)
	s.ErrorIs(err, service.ErrCodeNotFound)
}

func (s *OrchestratorSuite) TestConfirmEnrollment() {
	const phone = "+15550006767"
	res := s.startSession(phone, "", 0)
	s.templates.EXPECT().Generate(gomock.Any(), gomock.Any()).Return([]byte("vp"), nil)
	out := s.orch.CompleteEnrollment(context.Background(), service.RecordingCallback{SessionID: res.SessionID, AudioRef: "a"})
	s.Require().NoError(out.Err)

	ok, err := s.orch.ConfirmEnrollment(context.Background(), phone, "000000")
	s.Require().NoError(err)
	s.False(ok)

	ok, err = s.orch.ConfirmEnrollment(context.Background(), phone, out.ConfirmationCode)
	s.Require().NoError(err)
	s.True(ok)

	_, err = s.orch.ConfirmEnrollment(context.Background(), phone, out.ConfirmationCode)
	s.ErrorIs(err, service.ErrCodeNotFound)
}

func (s *OrchestratorSuite) TestConfirmEnrollment_WrongCodesDiscardCode() {
	const phone = "+15550006868"
	res := s.startSession(phone, "", 0)
	s.templates.EXPECT().Generate(gomock.Any(), gomock.Any()).Return([]byte("vp"), nil)
	out := s.orch.CompleteEnrollment(context.Background(), service.RecordingCallback{SessionID: res.SessionID, AudioRef: "a"})
	s.Require().NoError(out.Err)

	for i := 1; i < 5; i++ {
		ok, err := s.orch.ConfirmEnrollment(context.Background(), phone, "000000")
		s.Require().NoError(err, "miss %d", i)
		s.False(ok)
	}
	ok, err := s.orch.ConfirmEnrollment(context.Background(), phone, "000000")
	s.False(ok)
	s.ErrorIs(err, service.ErrTooManyAttempts)
	s.Equal(service.KindTooManyAttempts, service.KindOf(err))

	_, err = s.orch.ConfirmEnrollment(context.Background(), phone, out.ConfirmationCode)
	s.ErrorIs(err, service.ErrCodeNotFound, "the real code must be gone after the last miss")
}

func (s *OrchestratorSuite) TestConfirmEnrollment_MatchClearsMisses() {
	const phone = "+15550006969"
	res := s.startSession(phone, "", 0)
	s.templates.EXPECT().Generate(gomock.Any(), gomock.Any()).Return([]byte("vp"), nil)
	out := s.orch.CompleteEnrollment(context.Background(), service.RecordingCallback{SessionID: res.SessionID, AudioRef: "a"})
	s.Require().NoError(out.Err)

	for i := 0; i < 4; i++ {
		_, err := s.orch.ConfirmEnrollment(context.Background(), phone, "000000")
		s.Require().NoError(err)
	}
	ok, err := s.orch.ConfirmEnrollment(context.Background(), phone, out.ConfirmationCode)
	s.Require().NoError(err)
	s.True(ok)

	exists, err := s.store.Exists(context.Background(), "confirm_attempts:"+phone)
	s.Require().NoError(err)
	s.False(exists)
}

func (s *OrchestratorSuite) TestCompleteEnrollment_SecondSessionKeepsExistingProfile() {
	const phone = "+15550008989"
	first := s.startSession(phone, "", 0)
	second := s.startSession(phone, "", 0)
	s.Equal(models.WorkflowEnrollment, second.Kind)

	s.templates.EXPECT().Generate(gomock.Any(), "owner").Return([]byte("owner-voice"), nil).Times(1)
	out := s.orch.CompleteEnrollment(context.Background(), service.RecordingCallback{SessionID: first.SessionID, AudioRef: "owner"})
	s.Require().Equal(service.OutcomeSuccess, out.Outcome)
	enrolled := s.profile(phone)

	s.now = s.now.Add(time.Minute)
	again := s.orch.CompleteEnrollment(context.Background(), service.RecordingCallback{SessionID: second.SessionID, AudioRef: "other"})
	s.Equal(service.OutcomeError, again.Outcome)
	s.Equal(service.StateError, again.State)
	s.Equal(service.KindAlreadyEnrolled, again.ErrorKind())
	s.Empty(again.ConfirmationCode)

	p := s.profile(phone)
	s.Equal(enrolled.ID, p.ID)
	s.Equal([]byte("owner-voice"), p.VoiceTemplate)
	s.True(p.EnrolledAt.Equal(enrolled.EnrolledAt))
	s.Equal(1, s.profiles.Count())
	s.Equal([]models.AuditAction{models.AuditEnrollmentSuccess, models.AuditSystemError}, s.auditLog.Actions())

	code, err := s.orch.ConfirmationCode(context.Background(), phone)
	s.Require().NoError(err)
	s.Equal(out.ConfirmationCode, code)
}

func (s *OrchestratorSuite) TestCompleteEnrollment_InsertConflictKeepsExistingProfile() {
	const phone = "+15550009090"
	s.seedProfile(phone)
	s.orch = s.newOrchestrator(s.store, blindProfiles{MemoryProfileRepository: s.profiles}, s.auditLog)

	res := s.startSession(phone, "", 0)
	s.Require().Equal(models.WorkflowEnrollment, res.Kind)
	s.templates.EXPECT().Generate(gomock.Any(), "other").Return([]byte("other-voice"), nil)

	out := s.orch.CompleteEnrollment(context.Background(), service.RecordingCallback{SessionID: res.SessionID, AudioRef: "other"})
	s.Equal(service.OutcomeError, out.Outcome)
	s.Equal(service.KindAlreadyEnrolled, out.ErrorKind())
	s.Equal([]byte("tpl"), s.profile(phone).VoiceTemplate)
	s.Equal([]models.AuditAction{models.AuditSystemError}, s.auditLog.Actions())

	_, err := s.orch.ConfirmationCode(context.Background(), phone)
	s.ErrorIs(err, service.ErrCodeNotFound)
}

func (s *OrchestratorSuite) TestCompleteEnrollment_ReplayIsSessionExpired() {
	const phone = "+15550007777"
	res := s.startSession(phone, "", 0)
	s.templates.EXPECT().Generate(gomock.Any(), gomock.Any()).Return([]byte("voiceprint"), nil).Times(1)

	cb := service.RecordingCallback{SessionID: res.SessionID, AudioRef: "audio-1"}
	s.Require().Equal(service.OutcomeSuccess, s.orch.CompleteEnrollment(context.Background(), cb).Outcome)

	for i := 0; i < 2; i++ {
		again := s.orch.CompleteEnrollment(context.Background(), cb)
		s.Equal(service.OutcomeError, again.Outcome)
		s.Equal(service.KindSessionExpired, again.ErrorKind())
		s.ErrorIs(again.Err, service.ErrSessionExpired)
	}
	s.Equal(1, s.profiles.Count())
	s.Equal([]models.AuditAction{
		models.AuditEnrollmentSuccess, models.AuditSystemError, models.AuditSystemError,
	}, s.auditLog.Actions())
}

func (s *OrchestratorSuite) TestCompleteEnrollment_ExpiredSession() {
	res := s.startSession("+15550008888", "", 0)
	s.now = s.now.Add(time.Hour)

	out := s.orch.CompleteEnrollment(context.Background(), service.RecordingCallback{SessionID: res.SessionID, AudioRef: "a"})
	s.Equal(service.KindSessionExpired, out.ErrorKind())
	s.Equal(0, s.profiles.Count())
}

func (s *OrchestratorSuite) TestCompleteEnrollment_UnknownSession() {
	out := s.orch.CompleteEnrollment(context.Background(), service.RecordingCallback{SessionID: "does-not-exist"})
	s.Equal(service.StateError, out.State)
	s.Equal(service.KindSessionExpired, out.ErrorKind())
}

func (s *OrchestratorSuite) TestCompleteEnrollment_RejectsVerificationSession() {
	s.seedProfile("+15550009999")
	res := s.startSession("+15550009999", models.TxTransfer, 10)

	out := s.orch.CompleteEnrollment(context.Background(), service.RecordingCallback{SessionID: res.SessionID})
	s.Equal(service.KindWrongWorkflow, out.ErrorKind())

	// the session survives for the correct callback
	v := s.verifyWith(res.SessionID, 0.95)
	s.Equal(service.OutcomeSuccess, v.Outcome)
}

func (s *OrchestratorSuite) TestThreeFailuresLockOnThird() {
	const phone = "+15551110000"
	s.seedProfile(phone)

	wantOutcomes := []service.Outcome{service.OutcomeFailure, service.OutcomeFailure, service.OutcomeLockedOut}
	for i, want := range wantOutcomes {
		res := s.startSession(phone, models.TxTransfer, 10)
		v := s.verifyWith(res.SessionID, 0.40)
		s.Require().NoError(v.Err)
		s.Equal(want, v.Outcome, "attempt %d", i+1)
		s.Equal(i+1, v.FailureCount)
		s.Equal(i+1, s.profile(phone).FailureCount)
	}
	s.Equal([]models.AuditAction{
		models.AuditVerificationFailure,
		models.AuditVerificationFailure,
		models.AuditVerificationFailure,
		models.AuditLockoutTriggered,
	}, s.auditLog.Actions())

	res := s.orch.Initiate(context.Background(), service.InitiateRequest{Phone: phone})
	s.Equal(service.OutcomeLockedOut, res.Outcome)
}

func (s *OrchestratorSuite) TestLockoutSurvivesProfileMirrorFailure() {
	const phone = "+15551110101"
	s.seedProfile(phone)
	profiles := &saveFailingProfiles{MemoryProfileRepository: s.profiles, failOn: 3}
	s.orch = s.newOrchestrator(s.store, profiles, s.auditLog)

	for i := 0; i < 2; i++ {
		res := s.startSession(phone, models.TxTransfer, 10)
		s.Require().Equal(service.OutcomeFailure, s.verifyWith(res.SessionID, 0.30).Outcome)
	}
	res := s.startSession(phone, models.TxTransfer, 10)
	v := s.verifyWith(res.SessionID, 0.30)
	s.NoError(v.Err)
	s.Equal(service.OutcomeLockedOut, v.Outcome)
	s.Equal(service.StateLockedOut, v.State)
	s.Equal(3, v.FailureCount)
	s.Equal([]models.AuditAction{
		models.AuditVerificationFailure,
		models.AuditVerificationFailure,
		models.AuditVerificationFailure,
		models.AuditLockoutTriggered,
	}, s.auditLog.Actions())

	locked, err := s.ledger.IsLocked(context.Background(), phone)
	s.Require().NoError(err)
	s.True(locked)
	s.Equal(2, s.profile(phone).FailureCount, "the rejected mirror write leaves the previous count")
}

func (s *OrchestratorSuite) TestSuccessResetsFailureCount() {
	const phone = "+15551112222"
	s.seedProfile(phone)
	for i := 0; i < 2; i++ {
		res := s.startSession(phone, models.TxTransfer, 10)
		s.Require().Equal(service.OutcomeFailure, s.verifyWith(res.SessionID, 0.1).Outcome)
	}
	s.Equal(2, s.profile(phone).FailureCount)

	res := s.startSession(phone, models.TxTransfer, 10)
	v := s.verifyWith(res.SessionID, 0.86)
	s.Equal(service.OutcomeSuccess, v.Outcome)
	s.Equal(service.StateCompletedSuccess, v.State)
	s.InDelta(0.86, v.Confidence, 1e-9)

	p := s.profile(phone)
	s.Equal(0, p.FailureCount)
	s.Require().NotNil(p.LastVerifiedAt)
	s.True(p.LastVerifiedAt.Equal(s.now))

	res = s.startSession(phone, models.TxTransfer, 10)
	s.Equal(1, s.verifyWith(res.SessionID, 0.2).FailureCount)
}

func (s *OrchestratorSuite) TestThresholdIsExclusive() {
	s.seedProfile("+15551113333")
	res := s.startSession("+15551113333", models.TxTransfer, 10)
	s.Equal(service.OutcomeFailure, s.verifyWith(res.SessionID, 0.85).Outcome)
}

func (s *OrchestratorSuite) TestSuccessAuditCarriesRiskScore() {
	s.seedProfile("+15551114444")
	res := s.startSession("+15551114444", models.TxInternational, 6000)
	s.Equal(service.OutcomeSuccess, s.verifyWith(res.SessionID, 0.99).Outcome)

	events := s.auditLog.Events()
	s.Require().Len(events, 1)
	s.Equal(models.AuditVerificationSuccess, events[0].Action)
	s.Require().NotNil(events[0].RiskScore)
	s.Equal(55, *events[0].RiskScore)
}

func (s *OrchestratorSuite) TestInvalidMatcherOutputIsSystemError() {
	const phone = "+15551115555"
	s.seedProfile(phone)
	res := s.startSession(phone, models.TxTransfer, 10)

	v := s.verifyWith(res.SessionID, 1.2)
	s.Equal(service.OutcomeError, v.Outcome)
	s.Equal(service.KindInvalidMatcherOutput, v.ErrorKind())
	s.Equal([]models.AuditAction{models.AuditSystemError}, s.auditLog.Actions())
	s.Equal(0, s.profile(phone).FailureCount)
}

func (s *OrchestratorSuite) TestMatcherFailureIsSystemError() {
	s.seedProfile("+15551116666")
	res := s.startSession("+15551116666", models.TxTransfer, 10)
	s.matcher.EXPECT().Match(gomock.Any(), gomock.Any(), gomock.Any()).Return(0.0, errors.New("model timeout"))

	v := s.orch.CompleteVerification(context.Background(), service.RecordingCallback{SessionID: res.SessionID, AudioRef: "a"})
	s.Equal(service.OutcomeError, v.Outcome)
	s.Equal(service.KindProviderUnavailable, v.ErrorKind())
	s.Equal([]models.AuditAction{models.AuditSystemError}, s.auditLog.Actions())
}

func (s *OrchestratorSuite) TestProfileVanishedIsProfileNotFound() {
	const phone = "+15551117777"
	s.seedProfile(phone)
	profiles := &forgetfulProfiles{MemoryProfileRepository: s.profiles}
	s.orch = s.newOrchestrator(s.store, profiles, s.auditLog)

	res := s.startSession(phone, models.TxTransfer, 10)
	v := s.orch.CompleteVerification(context.Background(), service.RecordingCallback{SessionID: res.SessionID})
	s.Equal(service.OutcomeError, v.Outcome)
	s.Equal(service.KindProfileNotFound, v.ErrorKind())
}

func (s *OrchestratorSuite) TestChallenge() {
	const phone = "+15551118888"
	s.seedProfile(phone)

	s.Run("enrollment session is rejected", func() {
		res := s.startSession("+15559990000", "", 0)
		_, err := s.orch.IssueChallenge(context.Background(), res.SessionID)
		s.ErrorIs(err, service.ErrWrongWorkflow)
	})

	s.Run("unknown session", func() {
		_, err := s.orch.IssueChallenge(context.Background(), "nope")
		s.ErrorIs(err, service.ErrSessionExpired)
	})

	s.Run("wrong spoken code fails without matching", func() {
		res := s.startSession(phone, models.TxTransfer, 10)
		ch, err := s.orch.IssueChallenge(context.Background(), res.SessionID)
		s.Require().NoError(err)
		s.Len(ch.Code, 4)
		s.Equal(s.now.Add(120*time.Second), ch.ExpiresAt)

		wrong := "0000"
		if ch.Code == wrong {
			wrong = "1111"
		}
		v := s.orch.CompleteVerification(context.Background(), service.RecordingCallback{
			SessionID: res.SessionID, AudioRef: "a", SpokenCode: wrong,
		})
		s.Equal(service.OutcomeFailure, v.Outcome)
		s.Equal(1, v.FailureCount)
	})

	s.Run("matching spoken code is evaluated", func() {
		res := s.startSession(phone, models.TxTransfer, 10)
		ch, err := s.orch.IssueChallenge(context.Background(), res.SessionID)
		s.Require().NoError(err)

		s.matcher.EXPECT().Match(gomock.Any(), "a", []byte("tpl")).Return(0.9, nil)
		spoken := strings.Join(strings.Split(ch.Code, ""), " ")
		v := s.orch.CompleteVerification(context.Background(), service.RecordingCallback{
			SessionID: res.SessionID, AudioRef: "a", SpokenCode: spoken,
		})
		s.Equal(service.OutcomeSuccess, v.Outcome)
	})

	s.Run("expired challenge fails", func() {
		res := s.startSession(phone, models.TxTransfer, 10)
		ch, err := s.orch.IssueChallenge(context.Background(), res.SessionID)
		s.Require().NoError(err)

		s.now = s.now.Add(121 * time.Second)
		v := s.orch.CompleteVerification(context.Background(), service.RecordingCallback{
			SessionID: res.SessionID, AudioRef: "a", SpokenCode: ch.Code,
		})
		s.Equal(service.OutcomeFailure, v.Outcome)
	})
}

func (s *OrchestratorSuite) TestAuditFailureDoesNotChangeOutcome() {
	s.orch = s.newOrchestrator(s.store, s.profiles, brokenAudit{})
	res := s.startSession("+15552220000", "", 0)
	s.templates.EXPECT().Generate(gomock.Any(), gomock.Any()).Return([]byte("vp"), nil)

	out := s.orch.CompleteEnrollment(context.Background(), service.RecordingCallback{SessionID: res.SessionID, AudioRef: "a"})
	s.Equal(service.OutcomeSuccess, out.Outcome)
	s.NoError(out.Err)
}

func (s *OrchestratorSuite) TestNotifierFailureIsBestEffort() {
	ctrl := gomock.NewController(s.T())
	notifier := mocks.NewMockNotifier(ctrl)
	notifier.EXPECT().Send(gomock.Any(), "+15552221111", gomock.Any()).Return(errors.New("sms gateway down"))
	s.notifier = notifier
	s.orch = s.newOrchestrator(s.store, s.profiles, s.auditLog)

	res := s.startSession("+15552221111", "", 0)
	s.templates.EXPECT().Generate(gomock.Any(), gomock.Any()).Return([]byte("vp"), nil)
	out := s.orch.CompleteEnrollment(context.Background(), service.RecordingCallback{SessionID: res.SessionID, AudioRef: "a"})
	s.Equal(service.OutcomeSuccess, out.Outcome)
}

// Enrollment then verification for one caller, end to end.
func (s *OrchestratorSuite) TestEndToEnd() {
	const phone = "+51999888777"
	ctx := context.Background()

	s1 := s.startSession(phone, "", 0)
	s.Equal(models.WorkflowEnrollment, s1.Kind)

	s.templates.EXPECT().Generate(gomock.Any(), "audioRef").Return([]byte("tpl"), nil)
	enrolled := s.orch.CompleteEnrollment(ctx, service.RecordingCallback{SessionID: s1.SessionID, AudioRef: "audioRef"})
	s.Require().Equal(service.OutcomeSuccess, enrolled.Outcome)
	s.Len(enrolled.ConfirmationCode, 6)
	p1 := s.profile(phone)

	s.now = s.now.Add(2 * time.Hour)
	s2 := s.startSession(phone, models.TxTransfer, 5000)
	s.Equal(models.WorkflowVerification, s2.Kind)
	s.Require().NotNil(s2.RiskScore)
	s.Equal(service.Score(models.TxTransfer, 5000, s.now.Hour()), *s2.RiskScore)
	s.Equal(service.BandFor(*s2.RiskScore), *s2.RiskBand)

	s.matcher.EXPECT().Match(gomock.Any(), "audioRef2", []byte("tpl")).Return(0.9, nil)
	v := s.orch.CompleteVerification(ctx, service.RecordingCallback{SessionID: s2.SessionID, AudioRef: "audioRef2"})
	s.Equal(service.OutcomeSuccess, v.Outcome)

	after := s.profile(phone)
	s.Equal(p1.ID, after.ID)
	s.Equal(0, after.FailureCount)
	s.Equal(1, s.profiles.Count())
}

func TestNewVerificationOrchestrator_RequiresCollaborators(t *testing.T) {
	_, err := service.NewVerificationOrchestrator(config.VerificationConfig{}, service.Dependencies{})
	if err == nil {
		t.Fatal("expected error for missing collaborators")
	}
}
