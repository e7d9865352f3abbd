package risk

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

type captureSink struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (c *captureSink) Publish(_ context.Context, ev domain.AuditEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSink) kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Payload["kind"].(string))
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		DailyLossLimit:  decimal.NewFromInt(500),
		MaxDrawdown:     decimal.NewFromInt(1000),
		MaxPositionSize: decimal.NewFromInt(10000),
		MaxExposurePct:  decimal.NewFromInt(50),
		MaxHoldTime:     time.Hour,
		InitialEquity:   decimal.NewFromInt(100000),
	}
}

func signal(side domain.OrderSide) *domain.Signal {
	return &domain.Signal{
		ID:        "sig-1",
		Symbol:    "BTC-USD",
		Side:      side,
		Strength:  decimal.NewFromInt(4),
		CreatedAt: time.Now().UTC(),
	}
}

func TestAuthorizeHappyPath(t *testing.T) {
	m := NewManager(testConfig(), &captureSink{}, testLogger())

	dec := m.Authorize(context.Background(), signal(domain.OrderSideBuy),
		decimal.NewFromInt(5000), decimal.Zero)
	assert.True(t, dec.Authorized)
	assert.Equal(t, domain.DenialNone, dec.Reason)
	assert.Equal(t, StateActive, m.State())
}

func TestDailyLossBreachHaltsThenKillSwitchSticks(t *testing.T) {
	sink := &captureSink{}
	m := NewManager(testConfig(), sink, testLogger())

	// Push daily PnL just past the limit.
	m.RecordPnL(decimal.RequireFromString("-500.01"), time.Now().UTC())

	dec := m.Authorize(context.Background(), signal(domain.OrderSideBuy),
		decimal.NewFromInt(100), decimal.Zero)
	require.False(t, dec.Authorized)
	assert.Equal(t, domain.DenialDailyLoss, dec.Reason)
	assert.Equal(t, StateHalted, m.State())

	// A later, perfectly healthy signal is still denied: the halt is terminal.
	m.RecordPnL(decimal.NewFromInt(10000), time.Now().UTC())
	dec = m.Authorize(context.Background(), signal(domain.OrderSideBuy),
		decimal.NewFromInt(100), decimal.Zero)
	require.False(t, dec.Authorized)
	assert.Equal(t, domain.DenialKillSwitch, dec.Reason)

	kinds := sink.kinds()
	assert.Contains(t, kinds, "halt")
	assert.Contains(t, kinds, "denial")
}

func TestDrawdownBreachHalts(t *testing.T) {
	// Daily loss limit wide enough that only the drawdown check can trip.
	cfg := testConfig()
	cfg.DailyLossLimit = decimal.NewFromInt(10000)
	m := NewManager(cfg, &captureSink{}, testLogger())

	// Gain first so the peak ratchets up, then lose more than MaxDrawdown:
	// peak 100400, equity 99199.50, gap 1200.50 > 1000.
	m.RecordPnL(decimal.NewFromInt(400), time.Now().UTC())
	require.True(t, m.Authorize(context.Background(), signal(domain.OrderSideBuy),
		decimal.NewFromInt(100), decimal.Zero).Authorized)

	m.RecordPnL(decimal.RequireFromString("-1200.50"), time.Now().UTC())

	dec := m.Authorize(context.Background(), signal(domain.OrderSideBuy),
		decimal.NewFromInt(100), decimal.Zero)
	require.False(t, dec.Authorized)
	assert.Equal(t, domain.DenialMaxDrawdown, dec.Reason)
	assert.Equal(t, StateHalted, m.State())
}

func TestPeakEquityMonotonic(t *testing.T) {
	cfg := testConfig()
	cfg.DailyLossLimit = decimal.NewFromInt(1000000)
	cfg.MaxDrawdown = decimal.NewFromInt(1000000)
	m := NewManager(cfg, &captureSink{}, testLogger())

	moves := []string{"250", "-100", "400", "-300", "50"}
	prevPeak := decimal.Zero
	for _, mv := range moves {
		m.RecordPnL(decimal.RequireFromString(mv), time.Now().UTC())
		m.Authorize(context.Background(), signal(domain.OrderSideBuy),
			decimal.NewFromInt(1), decimal.Zero)
		_, peak, _ := m.Snapshot()
		assert.True(t, peak.GreaterThanOrEqual(prevPeak),
			"peak %s regressed below %s", peak, prevPeak)
		prevPeak = peak
	}

	_, peak, _ := m.Snapshot()
	// High-water mark: 100000 +250, -100, +400 => 100550.
	assert.True(t, peak.Equal(decimal.NewFromInt(100550)), "peak %s", peak)
}

func TestPositionSizeDenyIsNonFatal(t *testing.T) {
	m := NewManager(testConfig(), &captureSink{}, testLogger())

	dec := m.Authorize(context.Background(), signal(domain.OrderSideBuy),
		decimal.NewFromInt(10001), decimal.Zero)
	require.False(t, dec.Authorized)
	assert.Equal(t, domain.DenialPositionSize, dec.Reason)

	// Not a halt: a smaller order goes through afterwards.
	assert.Equal(t, StateActive, m.State())
	dec = m.Authorize(context.Background(), signal(domain.OrderSideBuy),
		decimal.NewFromInt(5000), decimal.Zero)
	assert.True(t, dec.Authorized)
}

func TestExposureLimit(t *testing.T) {
	m := NewManager(testConfig(), &captureSink{}, testLogger())

	// 50% of 100000 equity = 50000 cap. 48000 held + 5000 candidate breaches.
	dec := m.Authorize(context.Background(), signal(domain.OrderSideBuy),
		decimal.NewFromInt(5000), decimal.NewFromInt(48000))
	require.False(t, dec.Authorized)
	assert.Equal(t, domain.DenialExposureLimit, dec.Reason)
	assert.Equal(t, StateActive, m.State())
}

func TestCheckOrderKillSwitchWinsFirst(t *testing.T) {
	m := NewManager(testConfig(), &captureSink{}, testLogger())
	m.RecordPnL(decimal.RequireFromString("-600"), time.Now().UTC())

	// First call trips the daily loss halt.
	dec := m.Authorize(context.Background(), signal(domain.OrderSideBuy),
		decimal.NewFromInt(999999), decimal.Zero)
	assert.Equal(t, domain.DenialDailyLoss, dec.Reason)

	// Second call reports the kill switch, not the oversized notional.
	dec = m.Authorize(context.Background(), signal(domain.OrderSideBuy),
		decimal.NewFromInt(999999), decimal.Zero)
	assert.Equal(t, domain.DenialKillSwitch, dec.Reason)
}

func TestTimeStops(t *testing.T) {
	sink := &captureSink{}
	m := NewManager(testConfig(), sink, testLogger())

	now := time.Now().UTC()
	positions := []domain.Position{
		{ID: "fresh", Symbol: "BTC-USD", Status: domain.PositionStatusOpen, OpenedAt: now.Add(-30 * time.Minute)},
		{ID: "old", Symbol: "BTC-USD", Status: domain.PositionStatusOpen, OpenedAt: now.Add(-2 * time.Hour)},
		{ID: "closed", Symbol: "BTC-USD", Status: domain.PositionStatusClosed, OpenedAt: now.Add(-3 * time.Hour)},
	}

	expired := m.TimeStops(context.Background(), positions, now)
	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].ID)
	assert.Contains(t, sink.kinds(), "time_stop")
}

func TestConcurrentAuthorizeDoesNotRacePeak(t *testing.T) {
	cfg := testConfig()
	cfg.DailyLossLimit = decimal.NewFromInt(1000000)
	cfg.MaxDrawdown = decimal.NewFromInt(1000000)
	m := NewManager(cfg, &captureSink{}, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.RecordPnL(decimal.NewFromInt(1), time.Now().UTC())
				m.Authorize(context.Background(), signal(domain.OrderSideBuy),
					decimal.NewFromInt(1), decimal.Zero)
			}
		}()
	}
	wg.Wait()

	equity, peak, _ := m.Snapshot()
	assert.True(t, equity.Equal(decimal.NewFromInt(100800)), "equity %s", equity)
	assert.True(t, peak.GreaterThan(decimal.NewFromInt(100000)), "peak %s", peak)
	assert.True(t, peak.LessThanOrEqual(equity), "peak %s above equity %s", peak, equity)
}
