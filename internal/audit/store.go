package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// RiskEventRecorder persists risk events flowing through the audit trail into
// the risk event store. Non risk events pass through untouched.
type RiskEventRecorder struct {
	store domain.RiskEventStore
}

// NewRiskEventRecorder wraps store as an audit sink.
func NewRiskEventRecorder(store domain.RiskEventStore) *RiskEventRecorder {
	return &RiskEventRecorder{store: store}
}

// Publish inserts risk events into the store; other event types are ignored.
func (r *RiskEventRecorder) Publish(ctx context.Context, ev domain.AuditEvent) error {
	if ev.EventType != domain.AuditRiskEvent {
		return nil
	}
	re, err := riskEventFromPayload(ev)
	if err != nil {
		return fmt.Errorf("audit: decode risk event: %w", err)
	}
	return r.store.Insert(ctx, re)
}

func riskEventFromPayload(ev domain.AuditEvent) (domain.RiskEvent, error) {
	re := domain.RiskEvent{
		Symbol:    ev.Symbol,
		CreatedAt: ev.Timestamp.UTC(),
	}
	if re.CreatedAt.IsZero() {
		re.CreatedAt = time.Now().UTC()
	}

	var ok bool
	if re.ID, ok = ev.Payload["id"].(string); !ok || re.ID == "" {
		return domain.RiskEvent{}, fmt.Errorf("missing id: %w", domain.ErrDataFormat)
	}
	re.Kind, _ = ev.Payload["kind"].(string)
	re.Reason, _ = ev.Payload["reason"].(string)

	var err error
	if re.DailyPnL, err = payloadDecimal(ev.Payload, "daily_pnl"); err != nil {
		return domain.RiskEvent{}, err
	}
	if re.Drawdown, err = payloadDecimal(ev.Payload, "drawdown"); err != nil {
		return domain.RiskEvent{}, err
	}
	return re, nil
}

func payloadDecimal(payload map[string]any, key string) (decimal.Decimal, error) {
	s, ok := payload[key].(string)
	if !ok {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s %q: %w", key, s, domain.ErrDataFormat)
	}
	return d, nil
}

var _ domain.AuditSink = (*RiskEventRecorder)(nil)
