package service

import (
	"time"

	"github.com/ComUnity/voiceid-service/internal/models"
	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomeAccepted  Outcome = "ACCEPTED"
	OutcomeSuccess   Outcome = "SUCCESS"
	OutcomeFailure   Outcome = "FAILURE"
	OutcomeLockedOut Outcome = "LOCKED_OUT"
	OutcomeError     Outcome = "ERROR"
)

// State is the orchestrator state a session reached when the operation returned.
type State string

const (
	StateReceived          State = "RECEIVED"
	StateEnrolling         State = "ENROLLING"
	StateRiskScored        State = "RISK_SCORED"
	StateAwaitingRecording State = "AWAITING_RECORDING"
	StateCompletedSuccess  State = "COMPLETED_SUCCESS"
	StateCompletedFailure  State = "COMPLETED_FAILURE"
	StateLockedOut         State = "LOCKED_OUT"
	StateError             State = "ERROR"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateCompletedSuccess, StateCompletedFailure, StateLockedOut, StateError:
		return true
	}
	return false
}

type InitiateRequest struct {
	Phone           string
	TransactionType models.TransactionType
	Amount          float64
	CallerIP        string
}

type InitiateResult struct {
	SessionID string
	Kind      models.WorkflowKind
	RiskScore *int
	RiskBand  *RiskBand
	CallID    string
	Outcome   Outcome
	State     State
	Err       error
}

func (r InitiateResult) ErrorKind() ErrorKind { return KindOf(r.Err) }

// RecordingCallback is what the telephony provider reports once a recording is ready.
type RecordingCallback struct {
	SessionID     string
	AudioRef      string
	CallerNumber  string
	CallerCarrier string
	CallerIP      string
	// SpokenCode is the transcribed challenge response, when a challenge was issued.
	SpokenCode string
}

type EnrollmentResult struct {
	SessionID        string
	ProfileID        uuid.UUID
	ConfirmationCode string
	Outcome          Outcome
	State            State
	Err              error
}

func (r EnrollmentResult) ErrorKind() ErrorKind { return KindOf(r.Err) }

type ChallengeResult struct {
	SessionID string
	Code      string
	ExpiresAt time.Time
}

type VerificationResult struct {
	SessionID    string
	Outcome      Outcome
	State        State
	Confidence   float64
	FailureCount int
	RiskScore    *int
	Err          error
}

func (r VerificationResult) ErrorKind() ErrorKind { return KindOf(r.Err) }
