package telemetry

import (
	"context"

	"github.com/ComUnity/voiceid-service/internal/models"
	"github.com/ComUnity/voiceid-service/internal/util"
	"github.com/ComUnity/voiceid-service/internal/util/logger"
)

// LogAuditSink writes audit events to the structured log with the phone masked.
type LogAuditSink struct{}

func (LogAuditSink) Append(_ context.Context, e models.AuditEvent) error {
	kv := []interface{}{
		"audit_id", e.ID.String(),
		"session_id", e.SessionID,
		"phone", util.MaskPhone(e.PhoneNumber),
		"action", string(e.Action),
		"result", e.Result,
		"caller_ip", e.CallerIP,
	}
	if e.RiskScore != nil {
		kv = append(kv, "risk_score", *e.RiskScore)
	}
	logger.Infow("audit", kv...)
	return nil
}

func (LogAuditSink) Name() string { return "log" }
