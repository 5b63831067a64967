package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ComUnity/voiceid-service/internal/models"
	"github.com/google/uuid"
)

const profileSchema = `
CREATE TABLE IF NOT EXISTS voice_profiles (
	id               UUID PRIMARY KEY,
	phone_number     TEXT NOT NULL UNIQUE,
	voice_template   BYTEA NOT NULL,
	enrolled_at      TIMESTAMPTZ NOT NULL,
	last_verified_at TIMESTAMPTZ,
	failure_count    INTEGER NOT NULL DEFAULT 0,
	security_tier    TEXT NOT NULL DEFAULT 'LOW',
	metadata         JSONB NOT NULL DEFAULT '{}'::jsonb
)`

// PostgresProfileRepository implements ProfileRepository on database/sql with lib/pq.
type PostgresProfileRepository struct {
	db     *sql.DB
	sealer TemplateSealer
}

// NewPostgresProfileRepository returns a repository; sealer may be nil to store templates as-is.
func NewPostgresProfileRepository(db *sql.DB, sealer TemplateSealer) *PostgresProfileRepository {
	return &PostgresProfileRepository{db: db, sealer: sealer}
}

// EnsureSchema creates the profile table when missing.
func (r *PostgresProfileRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, profileSchema); err != nil {
		return fmt.Errorf("create voice_profiles: %w", err)
	}
	return nil
}

func (r *PostgresProfileRepository) FindByPhoneNumber(ctx context.Context, phone string) (*models.Profile, error) {
	const query = `SELECT id, phone_number, voice_template, enrolled_at, last_verified_at,
	                      failure_count, security_tier, metadata
	               FROM voice_profiles WHERE phone_number = $1`
	var (
		p        models.Profile
		lastSeen sql.NullTime
		tier     string
		meta     []byte
	)
	err := r.db.QueryRowContext(ctx, query, phone).Scan(
		&p.ID, &p.PhoneNumber, &p.VoiceTemplate, &p.EnrolledAt, &lastSeen,
		&p.FailureCount, &tier, &meta,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find profile: %w", err)
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		p.LastVerifiedAt = &t
	}
	if p.SecurityTier, err = models.ParseSecurityTier(tier); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return nil, fmt.Errorf("decode profile metadata: %w", err)
		}
	}
	if r.sealer != nil {
		if p.VoiceTemplate, err = r.sealer.Open(ctx, p.VoiceTemplate); err != nil {
			return nil, fmt.Errorf("open voice template: %w", err)
		}
	}
	return &p, nil
}

// profileRow is p encoded for the voice_profiles columns.
type profileRow struct {
	template []byte
	meta     []byte
	lastSeen sql.NullTime
}

func (r *PostgresProfileRepository) encode(ctx context.Context, p *models.Profile) (profileRow, error) {
	var row profileRow
	if p == nil || p.PhoneNumber == "" {
		return row, fmt.Errorf("save profile: phone number required")
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row.template = p.VoiceTemplate
	if r.sealer != nil {
		var err error
		if row.template, err = r.sealer.Seal(ctx, p.VoiceTemplate); err != nil {
			return row, fmt.Errorf("seal voice template: %w", err)
		}
	}
	row.meta = []byte("{}")
	if p.Metadata != nil {
		meta, err := json.Marshal(p.Metadata)
		if err != nil {
			return row, fmt.Errorf("encode profile metadata: %w", err)
		}
		row.meta = meta
	}
	if p.LastVerifiedAt != nil {
		row.lastSeen = sql.NullTime{Time: *p.LastVerifiedAt, Valid: true}
	}
	return row, nil
}

// Create inserts a new profile and never touches an existing one.
func (r *PostgresProfileRepository) Create(ctx context.Context, p *models.Profile) error {
	row, err := r.encode(ctx, p)
	if err != nil {
		return err
	}
	const query = `INSERT INTO voice_profiles
	                   (id, phone_number, voice_template, enrolled_at, last_verified_at,
	                    failure_count, security_tier, metadata)
	               VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	               ON CONFLICT (phone_number) DO NOTHING
	               RETURNING id`
	err = r.db.QueryRowContext(ctx, query,
		p.ID, p.PhoneNumber, row.template, p.EnrolledAt, row.lastSeen,
		p.FailureCount, p.SecurityTier.String(), row.meta,
	).Scan(&p.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrProfileExists
	}
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func (r *PostgresProfileRepository) Save(ctx context.Context, p *models.Profile) error {
	row, err := r.encode(ctx, p)
	if err != nil {
		return err
	}
	const query = `INSERT INTO voice_profiles
	                   (id, phone_number, voice_template, enrolled_at, last_verified_at,
	                    failure_count, security_tier, metadata)
	               VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	               ON CONFLICT (phone_number) DO UPDATE SET
	                   voice_template   = EXCLUDED.voice_template,
	                   enrolled_at      = EXCLUDED.enrolled_at,
	                   last_verified_at = EXCLUDED.last_verified_at,
	                   failure_count    = EXCLUDED.failure_count,
	                   security_tier    = EXCLUDED.security_tier,
	                   metadata         = EXCLUDED.metadata
	               RETURNING id`
	err = r.db.QueryRowContext(ctx, query,
		p.ID, p.PhoneNumber, row.template, p.EnrolledAt, row.lastSeen,
		p.FailureCount, p.SecurityTier.String(), row.meta,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}
