package strategy

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flowbot/internal/book"
	"github.com/alanyoungcy/flowbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaultConfig() ImbalanceConfig {
	return ImbalanceConfig{
		Depth:         5,
		BuyThreshold:  decimal.NewFromFloat(3.0),
		SellThreshold: decimal.NewFromFloat(0.33),
		Confidence:    decimal.NewFromFloat(0.8),
	}
}

func bookWith(t *testing.T, bids, asks []domain.RawLevel) *book.Book {
	t.Helper()
	b := book.New("BTC-USD")
	require.NoError(t, b.ApplySnapshot(domain.BookSnapshot{
		Symbol: "BTC-USD", Bids: bids, Asks: asks, Sequence: 1,
	}))
	return b
}

func TestRatioEdgeCases(t *testing.T) {
	tests := []struct {
		name string
		bid  string
		ask  string
		want string
	}{
		{"both empty is neutral", "0", "0", "1"},
		{"empty ask is sentinel", "10", "0", "999999"},
		{"empty bid is zero", "0", "10", "0"},
		{"plain division", "12", "3", "4"},
		{"rounded to three places", "10", "3", "3.333"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bid := decimal.RequireFromString(tt.bid)
			ask := decimal.RequireFromString(tt.ask)
			got := Ratio(bid, ask)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)),
				"got %s want %s", got, tt.want)
		})
	}
}

func TestEvaluateBuySignal(t *testing.T) {
	// Top-5 bid volume 12, ask volume 3 => ratio 4.000 => BUY with strength 4.
	b := bookWith(t,
		[]domain.RawLevel{{Price: "100", Quantity: "7"}, {Price: "99", Quantity: "5"}},
		[]domain.RawLevel{{Price: "101", Quantity: "3"}},
	)
	g := NewImbalance(defaultConfig(), testLogger())

	sig := g.Evaluate(context.Background(), b)
	require.NotNil(t, sig)
	assert.Equal(t, domain.OrderSideBuy, sig.Side)
	assert.Equal(t, "BTC-USD", sig.Symbol)
	assert.True(t, sig.Strength.Equal(decimal.RequireFromString("4")), "strength %s", sig.Strength)
	assert.NotEmpty(t, sig.ID)
}

func TestEvaluateSellSignal(t *testing.T) {
	b := bookWith(t,
		[]domain.RawLevel{{Price: "100", Quantity: "1"}},
		[]domain.RawLevel{{Price: "101", Quantity: "10"}},
	)
	g := NewImbalance(defaultConfig(), testLogger())

	sig := g.Evaluate(context.Background(), b)
	require.NotNil(t, sig)
	assert.Equal(t, domain.OrderSideSell, sig.Side)
}

func TestEvaluateEmptyBidSideIsSell(t *testing.T) {
	b := bookWith(t, nil, []domain.RawLevel{{Price: "101", Quantity: "10"}})
	g := NewImbalance(defaultConfig(), testLogger())

	sig := g.Evaluate(context.Background(), b)
	require.NotNil(t, sig)
	assert.Equal(t, domain.OrderSideSell, sig.Side)
	assert.True(t, sig.Strength.IsZero())
}

func TestEvaluateEmptyAskSideIsSentinelBuy(t *testing.T) {
	b := bookWith(t, []domain.RawLevel{{Price: "100", Quantity: "10"}}, nil)
	g := NewImbalance(defaultConfig(), testLogger())

	sig := g.Evaluate(context.Background(), b)
	require.NotNil(t, sig)
	assert.Equal(t, domain.OrderSideBuy, sig.Side)
	assert.True(t, sig.Strength.Equal(maxRatio))
}

func TestEvaluateEmptyBookIsNeutral(t *testing.T) {
	b := bookWith(t, nil, nil)
	g := NewImbalance(defaultConfig(), testLogger())

	assert.Nil(t, g.Evaluate(context.Background(), b))
}

func TestEvaluateBetweenThresholdsNoSignal(t *testing.T) {
	b := bookWith(t,
		[]domain.RawLevel{{Price: "100", Quantity: "5"}},
		[]domain.RawLevel{{Price: "101", Quantity: "5"}},
	)
	g := NewImbalance(defaultConfig(), testLogger())

	assert.Nil(t, g.Evaluate(context.Background(), b))
}

func TestEvaluateRespectsDepth(t *testing.T) {
	// With depth 1 only the best level of each side is summed: 10/3 = 3.333.
	// Summing the full book would give 110/103 and no signal.
	cfg := defaultConfig()
	cfg.Depth = 1
	b := bookWith(t,
		[]domain.RawLevel{{Price: "100", Quantity: "10"}, {Price: "99", Quantity: "100"}},
		[]domain.RawLevel{{Price: "101", Quantity: "3"}, {Price: "102", Quantity: "100"}},
	)
	g := NewImbalance(cfg, testLogger())

	sig := g.Evaluate(context.Background(), b)
	require.NotNil(t, sig)
	assert.Equal(t, domain.OrderSideBuy, sig.Side)
	assert.True(t, sig.Strength.Equal(decimal.RequireFromString("3.333")), "strength %s", sig.Strength)
}

func TestEvaluateThresholdsAreStrict(t *testing.T) {
	// A ratio exactly at either threshold stays neutral; only crossing it
	// emits a signal.
	g := NewImbalance(defaultConfig(), testLogger())

	// 9/3 = 3.000 == BuyThreshold.
	atBuy := bookWith(t,
		[]domain.RawLevel{{Price: "100", Quantity: "9"}},
		[]domain.RawLevel{{Price: "101", Quantity: "3"}},
	)
	assert.Nil(t, g.Evaluate(context.Background(), atBuy))

	// 33/100 = 0.330 == SellThreshold.
	atSell := bookWith(t,
		[]domain.RawLevel{{Price: "100", Quantity: "33"}},
		[]domain.RawLevel{{Price: "101", Quantity: "100"}},
	)
	assert.Nil(t, g.Evaluate(context.Background(), atSell))
}

func TestSpotOnlyFiltersSell(t *testing.T) {
	cfg := defaultConfig()
	cfg.SpotOnly = true
	b := bookWith(t,
		[]domain.RawLevel{{Price: "100", Quantity: "1"}},
		[]domain.RawLevel{{Price: "101", Quantity: "10"}},
	)
	g := NewImbalance(cfg, testLogger())

	assert.Nil(t, g.Evaluate(context.Background(), b))

	// BUY passes through untouched.
	buyBook := bookWith(t,
		[]domain.RawLevel{{Price: "100", Quantity: "12"}},
		[]domain.RawLevel{{Price: "101", Quantity: "3"}},
	)
	assert.NotNil(t, g.Evaluate(context.Background(), buyBook))
}
