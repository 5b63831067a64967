package service

import (
	"context"
	"time"

	"github.com/ComUnity/voiceid-service/internal/models"
)

// CallProvider places and cancels outbound recorded calls.
type CallProvider interface {
	PlaceCall(ctx context.Context, req models.CallRequest) (callID string, err error)
	CancelCall(ctx context.Context, callID string) error
}

// Notifier delivers out-of-band text messages.
type Notifier interface {
	Send(ctx context.Context, phone, message string) error
}

// BiometricMatcher scores a recording against a stored template. Confidence must be in [0,1].
type BiometricMatcher interface {
	Match(ctx context.Context, audioRef string, template []byte) (float64, error)
}

// TemplateGenerator derives a voice template from an enrollment recording.
type TemplateGenerator interface {
	Generate(ctx context.Context, audioRef string) ([]byte, error)
}

// AuditSink appends audit events. Errors must be returned, not swallowed.
type AuditSink interface {
	Append(ctx context.Context, e models.AuditEvent) error
}

// ScriptLinker builds the URL the telephony provider fetches the call script from.
type ScriptLinker interface {
	ScriptURL(sessionID string, kind models.WorkflowKind) (string, error)
}

// Metrics is the orchestrator's view of the metrics backend.
type Metrics interface {
	ObserveOutcome(operation string, outcome Outcome)
	ObserveMatch(d time.Duration, err error)
	CallPlacementFailed()
	AuditFailed(action models.AuditAction)
	ProfileSyncFailed()
}

type noopMetrics struct{}

func (noopMetrics) ObserveOutcome(string, Outcome) {}
func (noopMetrics) ObserveMatch(time.Duration, error) {}
func (noopMetrics) CallPlacementFailed() {}
func (noopMetrics) AuditFailed(models.AuditAction) {}
func (noopMetrics) ProfileSyncFailed() {}
