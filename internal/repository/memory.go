package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ComUnity/voiceid-service/internal/models"
	"github.com/google/uuid"
)

type memEntry struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is an in-process SessionStore and CounterStore. Values round-trip
// through JSON so callers see the same copy semantics as with Redis.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memEntry), now: time.Now}
}

// WithClock replaces the expiry clock; used by tests.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	return m
}

// lookup must be called with mu held.
func (m *MemoryStore) lookup(key string) (memEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *MemoryStore) Put(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("memory put %s: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memEntry{data: data, expiresAt: m.expiry(ttl)}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string, dest any) error {
	m.mu.Lock()
	e, ok := m.lookup(key)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(e.data, dest)
}

func (m *MemoryStore) Take(_ context.Context, key string, dest any) error {
	m.mu.Lock()
	e, ok := m.lookup(key)
	delete(m.entries, key)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(e.data, dest)
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	e, ok := m.lookup(key)
	if ok {
		var err error
		if n, err = strconv.ParseInt(string(e.data), 10, 64); err != nil {
			return 0, fmt.Errorf("memory incr %s: value is not an integer", key)
		}
	} else {
		e.expiresAt = m.expiry(ttl)
	}
	n++
	e.data = []byte(strconv.FormatInt(n, 10))
	m.entries[key] = e
	return n, nil
}

func (m *MemoryStore) Reset(ctx context.Context, key string) error {
	return m.Delete(ctx, key)
}

func (m *MemoryStore) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.entries[key] = memEntry{data: []byte(value), expiresAt: m.expiry(ttl)}
	return true, nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.lookup(key)
	return ok, nil
}

// MemoryProfileRepository keeps profiles in a map keyed by phone number.
type MemoryProfileRepository struct {
	mu       sync.RWMutex
	profiles map[string]models.Profile
}

func NewMemoryProfileRepository() *MemoryProfileRepository {
	return &MemoryProfileRepository{profiles: make(map[string]models.Profile)}
}

func (r *MemoryProfileRepository) FindByPhoneNumber(_ context.Context, phone string) (*models.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[phone]
	if !ok {
		return nil, nil
	}
	cp := cloneProfile(p)
	return &cp, nil
}

func (r *MemoryProfileRepository) Create(_ context.Context, p *models.Profile) error {
	if p == nil || p.PhoneNumber == "" {
		return fmt.Errorf("create profile: phone number required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[p.PhoneNumber]; ok {
		return ErrProfileExists
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.profiles[p.PhoneNumber] = cloneProfile(*p)
	return nil
}

func (r *MemoryProfileRepository) Save(_ context.Context, p *models.Profile) error {
	if p == nil || p.PhoneNumber == "" {
		return fmt.Errorf("save profile: phone number required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.profiles[p.PhoneNumber]; ok {
		p.ID = existing.ID
	} else if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.profiles[p.PhoneNumber] = cloneProfile(*p)
	return nil
}

// Count returns the number of stored profiles.
func (r *MemoryProfileRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.profiles)
}

func cloneProfile(p models.Profile) models.Profile {
	if p.VoiceTemplate != nil {
		p.VoiceTemplate = append([]byte(nil), p.VoiceTemplate...)
	}
	if p.LastVerifiedAt != nil {
		t := *p.LastVerifiedAt
		p.LastVerifiedAt = &t
	}
	if p.Metadata != nil {
		md := make(models.JSONMap, len(p.Metadata))
		for k, v := range p.Metadata {
			md[k] = v
		}
		p.Metadata = md
	}
	return p
}

// MemoryAuditLog records audit events in order.
type MemoryAuditLog struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func NewMemoryAuditLog() *MemoryAuditLog { return &MemoryAuditLog{} }

func (l *MemoryAuditLog) Append(_ context.Context, e models.AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

// Events returns a copy of everything appended so far.
func (l *MemoryAuditLog) Events() []models.AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.AuditEvent(nil), l.events...)
}

// Actions lists the action of each recorded event.
func (l *MemoryAuditLog) Actions() []models.AuditAction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.AuditAction, len(l.events))
	for i, e := range l.events {
		out[i] = e.Action
	}
	return out
}
