package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ComUnity/voiceid-service/internal/models"
	"github.com/google/uuid"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id           UUID PRIMARY KEY,
	session_id   TEXT,
	phone_number TEXT NOT NULL,
	action       TEXT NOT NULL,
	result       TEXT NOT NULL,
	risk_score   INTEGER,
	caller_ip    TEXT,
	occurred_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_phone_idx ON audit_events (phone_number, occurred_at)`

// PostgresAuditRepository writes audit events to an insert-only table.
type PostgresAuditRepository struct {
	db *sql.DB
}

func NewPostgresAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

func (r *PostgresAuditRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("create audit_events: %w", err)
	}
	return nil
}

func (r *PostgresAuditRepository) Append(ctx context.Context, e models.AuditEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	var risk sql.NullInt64
	if e.RiskScore != nil {
		risk = sql.NullInt64{Int64: int64(*e.RiskScore), Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, session_id, phone_number, action, result, risk_score, caller_ip, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.SessionID, e.PhoneNumber, string(e.Action), e.Result, risk, e.CallerIP, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// CountByPhone returns how many events exist for phone with the given action.
func (r *PostgresAuditRepository) CountByPhone(ctx context.Context, phone string, action models.AuditAction) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_events WHERE phone_number = $1 AND action = $2`,
		phone, string(action),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return n, nil
}
