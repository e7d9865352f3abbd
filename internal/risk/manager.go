// Package risk gates every candidate signal through hard financial limits and
// owns the session kill switch.
package risk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// State is the risk manager's gate state.
type State string

const (
	StateActive State = "ACTIVE"
	StateHalted State = "HALTED"
)

// Config holds the hard limits enforced on every authorization.
type Config struct {
	DailyLossLimit      decimal.Decimal // halt when dailyPnl < -DailyLossLimit
	MaxDrawdown         decimal.Decimal // halt when peak-equity gap exceeds this
	MaxPositionSize     decimal.Decimal // per-order notional cap, deny only
	MaxExposurePct      decimal.Decimal // per-instrument exposure cap, % of equity
	MaxHoldTime         time.Duration   // positions older than this are force-closed
	InitialEquity       decimal.Decimal
}

// Manager validates candidate signals against the configured limits and owns
// the ACTIVE -> HALTED transition. The transition is one-way for the session:
// no call on Manager ever re-enters ACTIVE. All mutable state is behind one
// mutex so concurrent authorizations from different instruments cannot race
// on peak equity.
type Manager struct {
	cfg    Config
	sink   domain.AuditSink
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	haltReason domain.DenialReason
	equity     decimal.Decimal
	peakEquity decimal.Decimal
	dailyPnL   decimal.Decimal
	day        string // UTC date of the current dailyPnL window
}

// NewManager creates a risk manager in the ACTIVE state.
func NewManager(cfg Config, sink domain.AuditSink, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		sink:       sink,
		logger:     logger.With(slog.String("component", "risk_manager")),
		state:      StateActive,
		equity:     cfg.InitialEquity,
		peakEquity: cfg.InitialEquity,
	}
}

// State returns the current gate state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Halted reports whether the kill switch is engaged.
func (m *Manager) Halted() bool { return m.State() == StateHalted }

// RecordPnL applies a realized profit or loss to the daily window and the
// running equity. The daily window resets lazily at the UTC day boundary.
func (m *Manager) RecordPnL(pnl decimal.Decimal, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked(at)
	m.dailyPnL = m.dailyPnL.Add(pnl)
	m.equity = m.equity.Add(pnl)
}

// Snapshot returns the current equity, peak equity, and daily PnL.
func (m *Manager) Snapshot() (equity, peak, dailyPnL decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.equity, m.peakEquity, m.dailyPnL
}

// Authorize validates a candidate order against the limits. candidateNotional
// is the order's size * reference price; openExposure is the notional already
// held in the signal's instrument. Checks run in a fixed order and the first
// failure is the reported reason. Fatal breaches (daily loss, drawdown) engage
// the kill switch; sizing breaches only reject the signal.
func (m *Manager) Authorize(ctx context.Context, sig *domain.Signal, candidateNotional, openExposure decimal.Decimal) domain.RiskDecision {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	m.rollDayLocked(now)

	// 1. Kill switch already engaged.
	if m.state == StateHalted {
		return m.denyLocked(ctx, sig, domain.DenialKillSwitch, now)
	}

	// 2. Daily loss limit.
	if m.dailyPnL.LessThan(m.cfg.DailyLossLimit.Neg()) {
		m.haltLocked(ctx, sig.Symbol, domain.DenialDailyLoss, now)
		return m.denyLocked(ctx, sig, domain.DenialDailyLoss, now)
	}

	// 3. Max drawdown, measured against the peak before this call.
	drawdown := m.peakEquity.Sub(m.equity)
	if drawdown.GreaterThan(m.cfg.MaxDrawdown) {
		m.haltLocked(ctx, sig.Symbol, domain.DenialMaxDrawdown, now)
		return m.denyLocked(ctx, sig, domain.DenialMaxDrawdown, now)
	}

	// 4. Peak equity only ratchets upward.
	if m.equity.GreaterThan(m.peakEquity) {
		m.peakEquity = m.equity
	}

	// 5. Per-order notional cap. Non-fatal: rejects this signal only.
	if candidateNotional.GreaterThan(m.cfg.MaxPositionSize) {
		return m.denyLocked(ctx, sig, domain.DenialPositionSize, now)
	}

	// 6. Per-instrument exposure cap as a percentage of current equity.
	maxExposure := m.equity.Mul(m.cfg.MaxExposurePct).Div(decimal.NewFromInt(100))
	if openExposure.Add(candidateNotional).GreaterThan(maxExposure) {
		return m.denyLocked(ctx, sig, domain.DenialExposureLimit, now)
	}

	return domain.RiskDecision{Authorized: true, SignalID: sig.ID}
}

// TimeStops returns the subset of positions held longer than the configured
// max hold time. This runs on a schedule, independent of signal flow; flagged
// positions must be force-closed by the caller.
func (m *Manager) TimeStops(ctx context.Context, positions []domain.Position, now time.Time) []domain.Position {
	if m.cfg.MaxHoldTime <= 0 {
		return nil
	}
	var expired []domain.Position
	for _, p := range positions {
		if p.Status != domain.PositionStatusOpen {
			continue
		}
		if p.HeldFor(now) > m.cfg.MaxHoldTime {
			expired = append(expired, p)
			m.emit(ctx, domain.RiskEvent{
				ID:        uuid.New().String(),
				Symbol:    p.Symbol,
				Kind:      "time_stop",
				Reason:    "max hold time exceeded",
				CreatedAt: now,
			})
		}
	}
	return expired
}

// rollDayLocked resets the daily PnL window when the UTC day changes.
func (m *Manager) rollDayLocked(now time.Time) {
	day := now.UTC().Format(time.DateOnly)
	if m.day == "" {
		m.day = day
		return
	}
	if day != m.day {
		m.day = day
		m.dailyPnL = decimal.Zero
	}
}

// haltLocked engages the kill switch. There is no path back to ACTIVE within
// the session; only an operator-driven restart clears it.
func (m *Manager) haltLocked(ctx context.Context, symbol string, reason domain.DenialReason, now time.Time) {
	m.state = StateHalted
	m.haltReason = reason
	m.logger.ErrorContext(ctx, "kill switch engaged, all trading halted",
		slog.String("reason", string(reason)),
		slog.String("daily_pnl", m.dailyPnL.String()),
		slog.String("equity", m.equity.String()),
		slog.String("peak_equity", m.peakEquity.String()),
	)
	m.emit(ctx, domain.RiskEvent{
		ID:        uuid.New().String(),
		Symbol:    symbol,
		Kind:      "halt",
		Reason:    string(reason),
		DailyPnL:  m.dailyPnL,
		Drawdown:  m.peakEquity.Sub(m.equity),
		CreatedAt: now,
	})
}

func (m *Manager) denyLocked(ctx context.Context, sig *domain.Signal, reason domain.DenialReason, now time.Time) domain.RiskDecision {
	m.logger.WarnContext(ctx, "signal denied",
		slog.String("signal_id", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("reason", string(reason)),
	)
	m.emit(ctx, domain.RiskEvent{
		ID:        uuid.New().String(),
		Symbol:    sig.Symbol,
		Kind:      "denial",
		Reason:    string(reason),
		DailyPnL:  m.dailyPnL,
		Drawdown:  m.peakEquity.Sub(m.equity),
		CreatedAt: now,
	})
	return domain.RiskDecision{Authorized: false, Reason: reason, SignalID: sig.ID}
}

// emit publishes a risk event to the audit sink. Sink loss never blocks the
// risk path; it is reported as a degraded-mode warning.
func (m *Manager) emit(ctx context.Context, ev domain.RiskEvent) {
	if m.sink == nil {
		return
	}
	err := m.sink.Publish(ctx, domain.AuditEvent{
		EventType: domain.AuditRiskEvent,
		Timestamp: ev.CreatedAt,
		Symbol:    ev.Symbol,
		Payload: map[string]any{
			"id":        ev.ID,
			"kind":      ev.Kind,
			"reason":    ev.Reason,
			"daily_pnl": ev.DailyPnL.String(),
			"drawdown":  ev.Drawdown.String(),
		},
	})
	if err != nil {
		m.logger.WarnContext(ctx, "audit sink degraded, risk event not delivered",
			slog.String("error", err.Error()),
		)
	}
}
