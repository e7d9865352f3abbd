// Package audit provides sinks for the append-only audit trail: every
// signal, risk decision, fill, and exit goes through one of these.
package audit

import (
	"context"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// Nop discards every event. Used when no audit transport is configured.
type Nop struct{}

func (Nop) Publish(context.Context, domain.AuditEvent) error { return nil }

// Multi fans an event out to every sink. The first error is returned but all
// sinks are attempted; audit delivery is best effort by contract.
type Multi []domain.AuditSink

func (m Multi) Publish(ctx context.Context, ev domain.AuditEvent) error {
	var first error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ domain.AuditSink = Nop{}
	_ domain.AuditSink = Multi{}
)
