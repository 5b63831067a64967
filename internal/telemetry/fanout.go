package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/ComUnity/voiceid-service/internal/models"
	"golang.org/x/sync/errgroup"
)

// Appender is one audit destination.
type Appender interface {
	Append(ctx context.Context, e models.AuditEvent) error
}

type named interface {
	Name() string
}

// FanoutAuditSink delivers each event to every sink concurrently. A failing sink
// does not stop the others; the joined error names each failure.
type FanoutAuditSink struct {
	sinks []Appender
}

func NewFanoutAuditSink(sinks ...Appender) *FanoutAuditSink {
	out := make([]Appender, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &FanoutAuditSink{sinks: out}
}

func (f *FanoutAuditSink) Append(ctx context.Context, e models.AuditEvent) error {
	errs := make([]error, len(f.sinks))
	var g errgroup.Group
	for i, s := range f.sinks {
		g.Go(func() error {
			if err := s.Append(ctx, e); err != nil {
				errs[i] = fmt.Errorf("%s: %w", sinkName(s, i), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func sinkName(s Appender, i int) string {
	if n, ok := s.(named); ok {
		return n.Name()
	}
	return fmt.Sprintf("sink[%d]", i)
}
