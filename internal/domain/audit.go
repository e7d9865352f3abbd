package domain

import (
	"context"
	"time"
)

// AuditEvent is the structured record published for every signal, risk
// decision, fill, and risk event.
type AuditEvent struct {
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Symbol    string         `json:"symbol"`
	Payload   map[string]any `json:"payload"`
}

// Audit event types.
const (
	AuditSignal       = "signal"
	AuditRiskDecision = "risk_decision"
	AuditRiskEvent    = "risk_event"
	AuditFill         = "fill"
	AuditPositionExit = "position_exit"
)

// AuditSink receives audit events. Implementations must be safe for
// concurrent use. Sink failure must never block trading: callers treat
// Publish errors as degraded-mode warnings only.
type AuditSink interface {
	Publish(ctx context.Context, ev AuditEvent) error
}
