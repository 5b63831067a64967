package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ComUnity/voiceid-service/internal/config"
	"github.com/ComUnity/voiceid-service/internal/models"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaAuditSink publishes audit events synchronously, keyed by phone number so
// events for one number stay ordered within a partition.
type KafkaAuditSink struct {
	w       messageWriter
	service string
	env     string
	timeout time.Duration
}

func NewKafkaAuditSink(cfg config.KafkaAuditConfig, env string) (*KafkaAuditSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: no audit topic configured")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
	}
	return newKafkaAuditSink(w, env, cfg.WriteTimeout), nil
}

func newKafkaAuditSink(w messageWriter, env string, timeout time.Duration) *KafkaAuditSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaAuditSink{w: w, service: serviceName, env: env, timeout: timeout}
}

func (s *KafkaAuditSink) Append(ctx context.Context, e models.AuditEvent) error {
	payload, err := json.Marshal(newEnvelope(s.service, s.env, e))
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err = s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.PhoneNumber),
		Value: payload,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(e.Action)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka audit write: %w", err)
	}
	return nil
}

func (s *KafkaAuditSink) Name() string { return "kafka" }

// Close flushes pending writes.
func (s *KafkaAuditSink) Close() error {
	return s.w.Close()
}
