package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WorkflowKind is fixed for the lifetime of a session.
type WorkflowKind string

const (
	WorkflowEnrollment   WorkflowKind = "ENROLLMENT"
	WorkflowVerification WorkflowKind = "VERIFICATION"
)

func (k WorkflowKind) Valid() bool {
	return k == WorkflowEnrollment || k == WorkflowVerification
}

// SecurityTier is ordered: LOW < MEDIUM < HIGH < CRITICAL.
type SecurityTier int

const (
	TierLow SecurityTier = iota
	TierMedium
	TierHigh
	TierCritical
)

var tierNames = [...]string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}

func (t SecurityTier) String() string {
	if t < TierLow || t > TierCritical {
		return fmt.Sprintf("SecurityTier(%d)", int(t))
	}
	return tierNames[t]
}

// ParseSecurityTier accepts the upper-case names produced by String.
func ParseSecurityTier(s string) (SecurityTier, error) {
	for i, name := range tierNames {
		if strings.EqualFold(name, s) {
			return SecurityTier(i), nil
		}
	}
	return TierLow, fmt.Errorf("unknown security tier %q", s)
}

// TransactionType may carry several flags joined with "|", e.g. "INTERNATIONAL|CRYPTO".
type TransactionType string

const (
	TxTransfer      TransactionType = "TRANSFER"
	TxPayment       TransactionType = "PAYMENT"
	TxInternational TransactionType = "INTERNATIONAL"
	TxCrypto        TransactionType = "CRYPTO"
)

// Includes reports whether flag is one of the "|"-separated parts of t.
func (t TransactionType) Includes(flag TransactionType) bool {
	for _, part := range strings.Split(string(t), "|") {
		if strings.EqualFold(strings.TrimSpace(part), string(flag)) {
			return true
		}
	}
	return false
}

type Transaction struct {
	Type   TransactionType `json:"type"`
	Amount float64         `json:"amount"`
}

// JSONMap is a simple type for JSON data
type JSONMap map[string]interface{}

// Profile is one enrolled phone number. PhoneNumber is the unique key.
type Profile struct {
	ID             uuid.UUID    `json:"id"`
	PhoneNumber    string       `json:"phone_number"`
	VoiceTemplate  []byte       `json:"-"`
	EnrolledAt     time.Time    `json:"enrolled_at"`
	LastVerifiedAt *time.Time   `json:"last_verified_at,omitempty"`
	FailureCount   int          `json:"failure_count"`
	SecurityTier   SecurityTier `json:"security_tier"`
	Metadata       JSONMap      `json:"metadata,omitempty"`
}

// Session is one in-flight call workflow, stored in the cache with a TTL.
type Session struct {
	ID              string        `json:"id"`
	PhoneNumber     string        `json:"phone_number"`
	Kind            WorkflowKind  `json:"kind"`
	CallID          string        `json:"call_id"`
	RiskScore       *int          `json:"risk_score,omitempty"`
	Transaction     Transaction   `json:"transaction"`
	CallerIP        string        `json:"caller_ip,omitempty"`
	ChallengeIssued bool          `json:"challenge_issued,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	TTL             time.Duration `json:"ttl"`
}

// ExpiresAt is when the cache entry lapses.
func (s Session) ExpiresAt() time.Time {
	return s.CreatedAt.Add(s.TTL)
}

// CallRequest asks the telephony provider for one outbound recorded call.
type CallRequest struct {
	To        string
	From      string
	ScriptURL string
	Record    bool
}

type AuditAction string

const (
	AuditEnrollmentSuccess   AuditAction = "ENROLLMENT_SUCCESS"
	AuditVerificationSuccess AuditAction = "VERIFICATION_SUCCESS"
	AuditVerificationFailure AuditAction = "VERIFICATION_FAILURE"
	AuditLockoutTriggered    AuditAction = "LOCKOUT_TRIGGERED"
	AuditSystemError         AuditAction = "SYSTEM_ERROR"
)

// AuditEvent is append-only.
type AuditEvent struct {
	ID          uuid.UUID   `json:"id"`
	SessionID   string      `json:"session_id,omitempty"`
	PhoneNumber string      `json:"phone_number"`
	Action      AuditAction `json:"action"`
	Result      string      `json:"result"`
	RiskScore   *int        `json:"risk_score,omitempty"`
	Timestamp   time.Time   `json:"@timestamp"`
	CallerIP    string      `json:"caller_ip,omitempty"`
}
