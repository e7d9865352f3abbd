package engine

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

	"github.com/alanyoungcy/flowbot/internal/book"
	"github.com/alanyoungcy/flowbot/internal/broker/paper"
	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/risk"
	"github.com/alanyoungcy/flowbot/internal/strategy"
)

type captureSink struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (s *captureSink) Publish(_ context.Context, ev domain.AuditEvent) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *captureSink) byType(eventType string) []domain.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEvent
	for _, ev := range s.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testRiskConfig() risk.Config {
	return risk.Config{
		DailyLossLimit:  d("1000"),
		MaxDrawdown:     d("2000"),
		MaxPositionSize: d("100000"),
		MaxExposurePct:  d("100"),
		MaxHoldTime:     time.Hour,
		InitialEquity:   d("100000"),
	}
}

func newTestCoordinator(t *testing.T, cfg Config) (*Coordinator, *book.Book, *captureSink) {
	t.Helper()
	if cfg.Symbol == "" {
		cfg.Symbol = "BTC-USD"
	}
	if cfg.OrderSize.IsZero() {
		cfg.OrderSize = d("1")
	}

	b := book.New(cfg.Symbol)
	sink := &captureSink{}
	strat := strategy.NewImbalance(strategy.ImbalanceConfig{
		Depth:         5,
		BuyThreshold:  d("3.0"),
		SellThreshold: d("0.33"),
		Confidence:    d("1"),
	}, testLogger())
	riskMgr := risk.NewManager(testRiskConfig(), sink, testLogger())
	broker := paper.New(b, d("100000"), testLogger())

	return New(cfg, b, strat, riskMgr, broker, sink, testLogger()), b, sink
}

func snapshot(symbol string, seq uint64, bids, asks []domain.RawLevel) domain.BookSnapshot {
	return domain.BookSnapshot{
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Sequence:  seq,
		Timestamp: time.Now().UTC(),
	}
}

func lvl(price, qty string) domain.RawLevel {
	return domain.RawLevel{Price: price, Quantity: qty}
}

func TestSignalOpensPosition(t *testing.T) {
	c, _, sink := newTestCoordinator(t, Config{
		StopLossPct:   d("2"),
		TakeProfitPct: d("4"),
	})
	ctx := context.Background()

	// Bid volume 12 vs ask volume 3: ratio 4 crosses the buy threshold.
	c.OnSnapshot(ctx, snapshot("BTC-USD", 1,
		[]domain.RawLevel{lvl("100", "12")},
		[]domain.RawLevel{lvl("101", "3")},
	))

	pos := c.OpenPosition()
	require.NotNil(t, pos)
	assert.Equal(t, domain.OrderSideBuy, pos.Side)
	assert.Equal(t, "101", pos.EntryPrice.String())

	require.Len(t, sink.byType(domain.AuditSignal), 1)
	require.Len(t, sink.byType(domain.AuditRiskDecision), 1)
	require.Len(t, sink.byType(domain.AuditFill), 1)
}

func TestOnePositionPerSymbol(t *testing.T) {
	c, _, sink := newTestCoordinator(t, Config{
		StopLossPct:   d("50"),
		TakeProfitPct: d("100"),
	})
	ctx := context.Background()

	c.OnSnapshot(ctx, snapshot("BTC-USD", 1,
		[]domain.RawLevel{lvl("100", "12")},
		[]domain.RawLevel{lvl("101", "3")},
	))
	require.NotNil(t, c.OpenPosition())

	// A second strong-buy tick must not open a second position; wide exit
	// bands keep the first one open.
	c.OnDelta(ctx, domain.BookDelta{
		Symbol:    "BTC-USD",
		Bids:      []domain.RawLevel{lvl("100", "20")},
		Sequence:  2,
		Timestamp: time.Now().UTC(),
	})

	assert.Len(t, sink.byType(domain.AuditFill), 1)
}

func TestTakeProfitClosesLong(t *testing.T) {
	c, _, sink := newTestCoordinator(t, Config{
		StopLossPct:   d("2"),
		TakeProfitPct: d("4"),
	})
	ctx := context.Background()

	c.OnSnapshot(ctx, snapshot("BTC-USD", 1,
		[]domain.RawLevel{lvl("100", "12")},
		[]domain.RawLevel{lvl("101", "3")},
	))
	require.NotNil(t, c.OpenPosition())

	// Entry 101, take-profit at 105.04; best bid 106 fires it.
	c.OnDelta(ctx, domain.BookDelta{
		Symbol:    "BTC-USD",
		Bids:      []domain.RawLevel{lvl("100", "0"), lvl("106", "5")},
		Asks:      []domain.RawLevel{lvl("101", "0"), lvl("107", "5")},
		Sequence:  2,
		Timestamp: time.Now().UTC(),
	})

	assert.Nil(t, c.OpenPosition())
	exits := sink.byType(domain.AuditPositionExit)
	require.Len(t, exits, 1)
	assert.Equal(t, "take_profit", exits[0].Payload["reason"])
}

func TestStopLossClosesLong(t *testing.T) {
	c, _, sink := newTestCoordinator(t, Config{
		StopLossPct:   d("2"),
		TakeProfitPct: d("4"),
	})
	ctx := context.Background()

	c.OnSnapshot(ctx, snapshot("BTC-USD", 1,
		[]domain.RawLevel{lvl("100", "12")},
		[]domain.RawLevel{lvl("101", "3")},
	))
	require.NotNil(t, c.OpenPosition())

	// Entry 101, stop at 98.98; best bid 98 fires it.
	c.OnDelta(ctx, domain.BookDelta{
		Symbol:    "BTC-USD",
		Bids:      []domain.RawLevel{lvl("98", "5"), lvl("100", "0")},
		Asks:      []domain.RawLevel{lvl("99", "5"), lvl("101", "0")},
		Sequence:  2,
		Timestamp: time.Now().UTC(),
	})

	assert.Nil(t, c.OpenPosition())
	exits := sink.byType(domain.AuditPositionExit)
	require.Len(t, exits, 1)
	assert.Equal(t, "stop_loss", exits[0].Payload["reason"])
}

func TestCrossedBookSuppressesSignalsUntilSnapshot(t *testing.T) {
	c, _, sink := newTestCoordinator(t, Config{
		StopLossPct:   d("2"),
		TakeProfitPct: d("4"),
	})
	ctx := context.Background()

	// First tick is crossed: bid 102 >= ask 101.
	c.OnSnapshot(ctx, snapshot("BTC-USD", 1,
		[]domain.RawLevel{lvl("102", "12")},
		[]domain.RawLevel{lvl("101", "3")},
	))
	assert.Nil(t, c.OpenPosition())
	assert.Empty(t, sink.byType(domain.AuditSignal))

	// An uncrossing delta alone is not enough; signals stay suppressed.
	c.OnDelta(ctx, domain.BookDelta{
		Symbol:    "BTC-USD",
		Bids:      []domain.RawLevel{lvl("102", "0"), lvl("100", "12")},
		Sequence:  2,
		Timestamp: time.Now().UTC(),
	})
	assert.Empty(t, sink.byType(domain.AuditSignal))

	// A clean snapshot lifts the suppression.
	c.OnSnapshot(ctx, snapshot("BTC-USD", 3,
		[]domain.RawLevel{lvl("100", "12")},
		[]domain.RawLevel{lvl("101", "3")},
	))
	assert.Len(t, sink.byType(domain.AuditSignal), 1)
	assert.NotNil(t, c.OpenPosition())
}

func TestDeniedSignalDoesNotTrade(t *testing.T) {
	c, _, sink := newTestCoordinator(t, Config{
		Symbol:        "BTC-USD",
		OrderSize:     d("10000"), // notional 10000*101 blows past the size limit
		StopLossPct:   d("2"),
		TakeProfitPct: d("4"),
	})
	ctx := context.Background()

	c.OnSnapshot(ctx, snapshot("BTC-USD", 1,
		[]domain.RawLevel{lvl("100", "12")},
		[]domain.RawLevel{lvl("101", "3")},
	))

	assert.Nil(t, c.OpenPosition())
	decisions := sink.byType(domain.AuditRiskDecision)
	require.Len(t, decisions, 1)
	assert.Equal(t, false, decisions[0].Payload["authorized"])
	assert.Empty(t, sink.byType(domain.AuditFill))
}

func TestTimeStopSweepClosesAgedPosition(t *testing.T) {
	c, _, sink := newTestCoordinator(t, Config{
		StopLossPct:   d("50"),
		TakeProfitPct: d("100"),
	})
	ctx := context.Background()

	c.OnSnapshot(ctx, snapshot("BTC-USD", 1,
		[]domain.RawLevel{lvl("100", "12")},
		[]domain.RawLevel{lvl("101", "3")},
	))
	require.NotNil(t, c.OpenPosition())

	// Age the position past the one hour hold limit.
	c.mu.Lock()
	c.open.OpenedAt = time.Now().UTC().Add(-2 * time.Hour)
	c.mu.Unlock()

	c.sweep(ctx)

	assert.Nil(t, c.OpenPosition())
	exits := sink.byType(domain.AuditPositionExit)
	require.Len(t, exits, 1)
	assert.Equal(t, "time_stop", exits[0].Payload["reason"])
}

func TestStaleBookSuppressesSignals(t *testing.T) {
	c, b, sink := newTestCoordinator(t, Config{
		StopLossPct:   d("2"),
		TakeProfitPct: d("4"),
		StaleAfter:    time.Millisecond,
	})
	ctx := context.Background()

	// Neutral book so no position opens on arrival.
	err := b.ApplySnapshot(snapshot("BTC-USD", 1,
		[]domain.RawLevel{lvl("100", "5")},
		[]domain.RawLevel{lvl("101", "5")},
	))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	c.sweep(ctx)

	// Strong-buy delta arrives after staleness was flagged: no signal until a
	// fresh snapshot.
	c.OnDelta(ctx, domain.BookDelta{
		Symbol:    "BTC-USD",
		Bids:      []domain.RawLevel{lvl("100", "50")},
		Sequence:  2,
		Timestamp: time.Now().UTC(),
	})
	assert.Empty(t, sink.byType(domain.AuditSignal))

	c.OnSnapshot(ctx, snapshot("BTC-USD", 3,
		[]domain.RawLevel{lvl("100", "50")},
		[]domain.RawLevel{lvl("101", "3")},
	))
	assert.Len(t, sink.byType(domain.AuditSignal), 1)
}

func TestExitRealizesPnLIntoRiskState(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Config{
		StopLossPct:   d("2"),
		TakeProfitPct: d("4"),
	})
	ctx := context.Background()

	c.OnSnapshot(ctx, snapshot("BTC-USD", 1,
		[]domain.RawLevel{lvl("100", "12")},
		[]domain.RawLevel{lvl("101", "3")},
	))
	require.NotNil(t, c.OpenPosition())

	c.OnDelta(ctx, domain.BookDelta{
		Symbol:    "BTC-USD",
		Bids:      []domain.RawLevel{lvl("100", "0"), lvl("106", "5")},
		Asks:      []domain.RawLevel{lvl("101", "0"), lvl("107", "5")},
		Sequence:  2,
		Timestamp: time.Now().UTC(),
	})
	require.Nil(t, c.OpenPosition())

	// Long 1 @ 101 exited at bid 106: +5 realized.
	equity, _, dailyPnL := c.riskMgr.Snapshot()
	assert.True(t, equity.Equal(d("100005")), "equity %s", equity)
	assert.True(t, dailyPnL.Equal(d("5")), "daily pnl %s", dailyPnL)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Config{SweepInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("coordinator did not stop")
	}
}
