package book

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

func lvl(price, qty string) domain.RawLevel {
	return domain.RawLevel{Price: price, Quantity: qty}
}

func snapshot(bids, asks []domain.RawLevel) domain.BookSnapshot {
	return domain.BookSnapshot{
		Symbol:    "BTC-USD",
		Bids:      bids,
		Asks:      asks,
		Sequence:  1,
		Timestamp: time.Now().UTC(),
	}
}

func TestApplySnapshotOrdersSides(t *testing.T) {
	b := New("BTC-USD")
	err := b.ApplySnapshot(snapshot(
		[]domain.RawLevel{lvl("99", "3"), lvl("100", "2"), lvl("98.5", "1")},
		[]domain.RawLevel{lvl("102", "4"), lvl("101", "1")},
	))
	require.NoError(t, err)

	bids, asks := b.TopLevels(10)
	require.Len(t, bids, 3)
	require.Len(t, asks, 2)

	// Bids best-first (descending), asks best-first (ascending).
	assert.Equal(t, "100", bids[0].Price.String())
	assert.Equal(t, "99", bids[1].Price.String())
	assert.Equal(t, "98.5", bids[2].Price.String())
	assert.Equal(t, "101", asks[0].Price.String())
	assert.Equal(t, "102", asks[1].Price.String())
}

func TestApplySnapshotIgnoresZeroQuantity(t *testing.T) {
	b := New("BTC-USD")
	err := b.ApplySnapshot(snapshot(
		[]domain.RawLevel{lvl("100", "0"), lvl("99", "5")},
		[]domain.RawLevel{lvl("101", "0")},
	))
	require.NoError(t, err)

	bids, asks := b.TopLevels(10)
	require.Len(t, bids, 1)
	assert.Empty(t, asks)
	assert.Equal(t, "99", bids[0].Price.String())
}

func TestApplySnapshotIdempotent(t *testing.T) {
	snap := snapshot(
		[]domain.RawLevel{lvl("100", "2"), lvl("99", "3")},
		[]domain.RawLevel{lvl("101", "1")},
	)
	b := New("BTC-USD")
	require.NoError(t, b.ApplySnapshot(snap))
	first, _ := b.TopLevels(10)
	require.NoError(t, b.ApplySnapshot(snap))
	second, _ := b.TopLevels(10)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.True(t, first[i].Price.Equal(second[i].Price))
		assert.True(t, first[i].Quantity.Equal(second[i].Quantity))
	}
}

func TestApplyDeltaRemoveAndInsert(t *testing.T) {
	b := New("BTC-USD")
	require.NoError(t, b.ApplySnapshot(snapshot(
		[]domain.RawLevel{lvl("100", "2"), lvl("99", "3")},
		[]domain.RawLevel{lvl("101", "1")},
	)))

	err := b.ApplyDelta(domain.BookDelta{
		Symbol:   "BTC-USD",
		Asks:     []domain.RawLevel{lvl("101", "0"), lvl("102", "5")},
		Sequence: 2,
	})
	require.NoError(t, err)

	_, asks := b.TopLevels(2)
	require.Len(t, asks, 1)
	assert.Equal(t, "102", asks[0].Price.String())
	assert.Equal(t, "5", asks[0].Quantity.String())
}

func TestApplyDeltaRemoveAbsentLevelIsNoop(t *testing.T) {
	b := New("BTC-USD")
	require.NoError(t, b.ApplySnapshot(snapshot(
		[]domain.RawLevel{lvl("100", "2")}, nil,
	)))

	err := b.ApplyDelta(domain.BookDelta{Bids: []domain.RawLevel{lvl("95", "0")}, Sequence: 2})
	require.NoError(t, err)

	bids, _ := b.TopLevels(10)
	require.Len(t, bids, 1)
	assert.Equal(t, "100", bids[0].Price.String())
}

func TestApplyDeltaReplacesQuantity(t *testing.T) {
	b := New("BTC-USD")
	require.NoError(t, b.ApplySnapshot(snapshot(
		[]domain.RawLevel{lvl("100", "2")}, nil,
	)))

	require.NoError(t, b.ApplyDelta(domain.BookDelta{
		Bids:     []domain.RawLevel{lvl("100", "7")},
		Sequence: 2,
	}))

	bids, _ := b.TopLevels(1)
	require.Len(t, bids, 1)
	assert.Equal(t, "7", bids[0].Quantity.String())
}

func TestApplyDeltaPartialFailureKeepsPrefix(t *testing.T) {
	b := New("BTC-USD")
	require.NoError(t, b.ApplySnapshot(snapshot(
		[]domain.RawLevel{lvl("100", "2")}, []domain.RawLevel{lvl("101", "1")},
	)))

	seqBefore := b.Sequence()
	updBefore := b.LastUpdate()

	err := b.ApplyDelta(domain.BookDelta{
		Bids:     []domain.RawLevel{lvl("99", "4"), lvl("not-a-price", "1"), lvl("98", "9")},
		Sequence: 2,
	})
	require.ErrorIs(t, err, domain.ErrDataFormat)

	// The well-formed prefix was applied; everything after the fault was not.
	bids, _ := b.TopLevels(10)
	require.Len(t, bids, 2)
	assert.Equal(t, "100", bids[0].Price.String())
	assert.Equal(t, "99", bids[1].Price.String())

	// A partial delta is not a completed update: sequence and timestamp hold.
	assert.Equal(t, seqBefore, b.Sequence())
	assert.True(t, b.LastUpdate().Equal(updBefore))
}

func TestApplySnapshotMalformedSurfacesFault(t *testing.T) {
	b := New("BTC-USD")
	require.NoError(t, b.ApplySnapshot(snapshot(
		[]domain.RawLevel{lvl("100", "2")}, nil,
	)))

	err := b.ApplySnapshot(snapshot(
		[]domain.RawLevel{lvl("abc", "1")}, nil,
	))
	require.ErrorIs(t, err, domain.ErrDataFormat)

	// Prior state survives a rejected snapshot.
	bids, _ := b.TopLevels(1)
	require.Len(t, bids, 1)
	assert.Equal(t, "100", bids[0].Price.String())
}

func TestNoZeroQuantityLevelsEverPersist(t *testing.T) {
	b := New("BTC-USD")
	require.NoError(t, b.ApplySnapshot(snapshot(
		[]domain.RawLevel{lvl("100", "1"), lvl("99", "2"), lvl("98", "3")},
		[]domain.RawLevel{lvl("101", "1"), lvl("102", "2")},
	)))

	deltas := []domain.BookDelta{
		{Bids: []domain.RawLevel{lvl("99", "0")}, Sequence: 2},
		{Asks: []domain.RawLevel{lvl("101", "0"), lvl("103", "4")}, Sequence: 3},
		{Bids: []domain.RawLevel{lvl("97", "5"), lvl("97", "0")}, Sequence: 4},
	}
	for _, d := range deltas {
		require.NoError(t, b.ApplyDelta(d))
	}

	bids, asks := b.TopLevels(100)
	for _, l := range append(bids, asks...) {
		assert.True(t, l.Quantity.Sign() > 0, "level %s has non-positive quantity", l.Price)
	}
}

func TestTopLevelsMonotonicPrices(t *testing.T) {
	b := New("BTC-USD")
	require.NoError(t, b.ApplySnapshot(snapshot(
		[]domain.RawLevel{lvl("100.5", "1"), lvl("100.1", "1"), lvl("100.9", "1"), lvl("99", "1")},
		[]domain.RawLevel{lvl("101.2", "1"), lvl("101.1", "1"), lvl("105", "1")},
	)))

	bids, asks := b.TopLevels(10)
	for i := 1; i < len(bids); i++ {
		assert.True(t, bids[i].Price.Cmp(bids[i-1].Price) <= 0, "bid prices must be non-increasing")
	}
	for i := 1; i < len(asks); i++ {
		assert.True(t, asks[i].Price.Cmp(asks[i-1].Price) >= 0, "ask prices must be non-decreasing")
	}
}

func TestTopLevelsShortSide(t *testing.T) {
	b := New("BTC-USD")
	require.NoError(t, b.ApplySnapshot(snapshot(
		[]domain.RawLevel{lvl("100", "1")}, nil,
	)))

	bids, asks := b.TopLevels(5)
	assert.Len(t, bids, 1)
	assert.Empty(t, asks)
}

func TestCrossedBookDetection(t *testing.T) {
	b := New("BTC-USD")
	require.NoError(t, b.ApplySnapshot(snapshot(
		[]domain.RawLevel{lvl("100", "1")},
		[]domain.RawLevel{lvl("101", "1")},
	)))
	assert.False(t, b.Crossed())

	require.NoError(t, b.ApplyDelta(domain.BookDelta{
		Bids:     []domain.RawLevel{lvl("101.5", "2")},
		Sequence: 2,
	}))
	assert.True(t, b.Crossed())

	// One-sided books are never crossed.
	empty := New("BTC-USD")
	require.NoError(t, empty.ApplySnapshot(snapshot([]domain.RawLevel{lvl("100", "1")}, nil)))
	assert.False(t, empty.Crossed())
}

func TestEndToEndSnapshotThenDelta(t *testing.T) {
	b := New("BTC-USD")
	require.NoError(t, b.ApplySnapshot(snapshot(
		[]domain.RawLevel{lvl("100", "2"), lvl("99", "3")},
		[]domain.RawLevel{lvl("101", "1")},
	)))
	require.NoError(t, b.ApplyDelta(domain.BookDelta{
		Asks:     []domain.RawLevel{lvl("101", "0"), lvl("102", "5")},
		Sequence: 2,
	}))

	_, asks := b.TopLevels(2)
	require.Len(t, asks, 1)
	assert.True(t, asks[0].Price.Equal(decimal.NewFromInt(102)))
	assert.True(t, asks[0].Quantity.Equal(decimal.NewFromInt(5)))
}
