package telemetry

import (
	"time"

	"github.com/ComUnity/voiceid-service/internal/models"
	"github.com/google/uuid"
)

const (
	serviceName   = "voiceid-service"
	schemaVersion = 1
)

// auditEnvelope is the wire shape shipped to downstream consumers.
type auditEnvelope struct {
	Timestamp   time.Time          `json:"@timestamp"`
	Schema      int                `json:"schema"`
	Service     string             `json:"service"`
	Env         string             `json:"env,omitempty"`
	ID          uuid.UUID          `json:"id"`
	SessionID   string             `json:"session_id,omitempty"`
	PhoneNumber string             `json:"phone_number"`
	Action      models.AuditAction `json:"action"`
	Result      string             `json:"result"`
	RiskScore   *int               `json:"risk_score,omitempty"`
	CallerIP    string             `json:"caller_ip,omitempty"`
}

func newEnvelope(service, env string, e models.AuditEvent) auditEnvelope {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return auditEnvelope{
		Timestamp:   ts,
		Schema:      schemaVersion,
		Service:     service,
		Env:         env,
		ID:          e.ID,
		SessionID:   e.SessionID,
		PhoneNumber: e.PhoneNumber,
		Action:      e.Action,
		Result:      e.Result,
		RiskScore:   e.RiskScore,
		CallerIP:    e.CallerIP,
	}
}
