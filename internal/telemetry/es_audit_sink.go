package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/ComUnity/voiceid-service/internal/config"
	"github.com/ComUnity/voiceid-service/internal/models"
	"github.com/ComUnity/voiceid-service/internal/util/logger"
)

var (
	ErrAuditQueueFull = errors.New("elasticsearch audit queue full")
	ErrSinkClosed     = errors.New("audit sink closed")
)

// ESAuditSink batches audit events into daily Elasticsearch indices. It is a
// search copy: Append only fails when the event cannot be queued, and bulk
// failures are logged and counted as dropped.
type ESAuditSink struct {
	es      *elasticsearch.Client
	cfg     config.ElasticsearchConfig
	env     string
	metrics *Metrics

	ch   chan auditEnvelope
	stop chan struct{}
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewESAuditSink(cfg config.ElasticsearchConfig, env string, m *Metrics) (*ESAuditSink, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("elasticsearch: no addresses configured")
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		APIKey:    cfg.APIKey,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}
	return newESAuditSink(es, cfg, env, m), nil
}

func newESAuditSink(es *elasticsearch.Client, cfg config.ElasticsearchConfig, env string, m *Metrics) *ESAuditSink {
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = 500
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.IndexPrefix == "" {
		cfg.IndexPrefix = "voiceid-audit"
	}
	s := &ESAuditSink{
		es:      es,
		cfg:     cfg,
		env:     env,
		metrics: m,
		ch:      make(chan auditEnvelope, cfg.FlushSize*4),
		stop:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

func (s *ESAuditSink) Append(_ context.Context, e models.AuditEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.ch <- newEnvelope(serviceName, s.env, e):
		return nil
	default:
		s.metrics.AuditDropped(s.Name(), 1)
		return ErrAuditQueueFull
	}
}

func (s *ESAuditSink) Name() string { return "elasticsearch" }

// Close flushes queued events and stops the loop, waiting at most one bulk timeout.
func (s *ESAuditSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stop)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.Timeout):
		return errors.New("elasticsearch audit sink: flush timed out")
	}
}

func (s *ESAuditSink) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.FlushEvery)
	defer ticker.Stop()

	batch := make([]auditEnvelope, 0, s.cfg.FlushSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.bulkIndex(batch); err != nil {
			logger.Error("Elasticsearch audit bulk of %d events failed: %v", len(batch), err)
			s.metrics.AuditDropped(s.Name(), len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-s.ch:
			batch = append(batch, ev)
			if len(batch) >= s.cfg.FlushSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stop:
			for {
				select {
				case ev := <-s.ch:
					batch = append(batch, ev)
					if len(batch) >= s.cfg.FlushSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error,omitempty"`
	} `json:"items"`
}

func (s *ESAuditSink) bulkIndex(batch []auditEnvelope) error {
	var buf bytes.Buffer
	for _, ev := range batch {
		meta := map[string]any{"index": map[string]any{"_index": s.index(ev.Timestamp), "_id": ev.ID.String()}}
		mb, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		buf.Write(mb)
		buf.WriteByte('\n')

		db, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		buf.Write(db)
		buf.WriteByte('\n')
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	res, err := s.es.Bulk(&buf, s.es.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("bulk request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("bulk status %s: %s", res.Status(), body)
	}

	var out bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !out.Errors {
		return nil
	}
	failed := 0
	var first string
	for _, item := range out.Items {
		for _, r := range item {
			if r.Error != nil {
				failed++
				if first == "" {
					first = r.Error.Type + ": " + r.Error.Reason
				}
			}
		}
	}
	s.metrics.AuditDropped(s.Name(), failed)
	logger.Warn("Elasticsearch rejected %d of %d audit events: %s", failed, len(batch), first)
	return nil
}

func (s *ESAuditSink) index(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s-%04d.%02d.%02d", s.cfg.IndexPrefix, t.Year(), int(t.Month()), t.Day())
}
