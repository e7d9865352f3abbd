// Package book maintains the L2 orderbook for a single symbol. A Book is
// exclusively owned by its feed pipeline: snapshots and deltas are applied
// from one goroutine in arrival order, so the structure carries no locking.
package book

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// side is an ordered set of price levels. Bids are kept best-first
// (descending price), asks best-first (ascending price), so top-N retrieval
// is a prefix copy and insert/remove is a binary search plus shift.
type side struct {
	levels     []domain.PriceLevel
	descending bool
}

// find returns the index where price belongs and whether a level with that
// exact price already exists.
func (s *side) find(price decimal.Decimal) (int, bool) {
	i := sort.Search(len(s.levels), func(i int) bool {
		cmp := s.levels[i].Price.Cmp(price)
		if s.descending {
			return cmp <= 0
		}
		return cmp >= 0
	})
	if i < len(s.levels) && s.levels[i].Price.Equal(price) {
		return i, true
	}
	return i, false
}

// set inserts or replaces the level at price. A zero quantity removes it.
func (s *side) set(price, qty decimal.Decimal) {
	i, exists := s.find(price)
	switch {
	case qty.Sign() <= 0 && exists:
		s.levels = append(s.levels[:i], s.levels[i+1:]...)
	case qty.Sign() <= 0:
		// Removal of an absent level is a no-op.
	case exists:
		s.levels[i].Quantity = qty
	default:
		s.levels = append(s.levels, domain.PriceLevel{})
		copy(s.levels[i+1:], s.levels[i:])
		s.levels[i] = domain.PriceLevel{Price: price, Quantity: qty}
	}
}

func (s *side) top(depth int) []domain.PriceLevel {
	if depth > len(s.levels) {
		depth = len(s.levels)
	}
	out := make([]domain.PriceLevel, depth)
	copy(out, s.levels[:depth])
	return out
}

func (s *side) best() (domain.PriceLevel, bool) {
	if len(s.levels) == 0 {
		return domain.PriceLevel{}, false
	}
	return s.levels[0], true
}

// Book is the L2 orderbook for one symbol. Zero-quantity levels are never
// stored; best bid < best ask holds whenever both sides are non-empty, and a
// violation is reported by Crossed rather than hidden.
type Book struct {
	symbol     string
	bids       side
	asks       side
	lastUpdate time.Time
	sequence   uint64
}

// New creates an empty Book for symbol.
func New(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids:   side{descending: true},
		asks:   side{descending: false},
	}
}

// Symbol returns the instrument this book tracks.
func (b *Book) Symbol() string { return b.symbol }

// LastUpdate returns when the book last accepted a snapshot or delta.
// Staleness thresholds are the caller's concern.
func (b *Book) LastUpdate() time.Time { return b.lastUpdate }

// Sequence returns the sequence number of the last applied message.
func (b *Book) Sequence() uint64 { return b.sequence }

// parseLevel converts a wire-format level through exact decimal parsing.
func parseLevel(raw domain.RawLevel) (price, qty decimal.Decimal, err error) {
	price, err = decimal.NewFromString(raw.Price)
	if err != nil {
		return price, qty, fmt.Errorf("price %q: %w", raw.Price, domain.ErrDataFormat)
	}
	qty, err = decimal.NewFromString(raw.Quantity)
	if err != nil {
		return price, qty, fmt.Errorf("quantity %q: %w", raw.Quantity, domain.ErrDataFormat)
	}
	return price, qty, nil
}

// ApplySnapshot clears both sides and inserts every supplied level with a
// positive quantity. Levels with quantity <= 0 are ignored. The book's
// timestamp and sequence are reset from the snapshot.
func (b *Book) ApplySnapshot(snap domain.BookSnapshot) error {
	bids := side{descending: true, levels: make([]domain.PriceLevel, 0, len(snap.Bids))}
	asks := side{descending: false, levels: make([]domain.PriceLevel, 0, len(snap.Asks))}

	for _, raw := range snap.Bids {
		price, qty, err := parseLevel(raw)
		if err != nil {
			return fmt.Errorf("book %s: snapshot bid: %w", b.symbol, err)
		}
		bids.set(price, qty)
	}
	for _, raw := range snap.Asks {
		price, qty, err := parseLevel(raw)
		if err != nil {
			return fmt.Errorf("book %s: snapshot ask: %w", b.symbol, err)
		}
		asks.set(price, qty)
	}

	b.bids = bids
	b.asks = asks
	b.sequence = snap.Sequence
	b.lastUpdate = snapTime(snap.Timestamp)
	return nil
}

// ApplyDelta applies each change in order: quantity 0 removes the level
// (no-op if absent), a positive quantity inserts or replaces it. On a
// malformed entry the well-formed prefix stays applied and the fault is
// returned; the book is never rolled back mid-call. Sequence and timestamp
// advance only when every change applied, so a partial delta leaves the book
// looking exactly as old as its last complete update.
func (b *Book) ApplyDelta(delta domain.BookDelta) error {
	var fault error

	for _, raw := range delta.Bids {
		price, qty, err := parseLevel(raw)
		if err != nil {
			fault = fmt.Errorf("book %s: delta bid: %w", b.symbol, err)
			break
		}
		b.bids.set(price, qty)
	}
	if fault == nil {
		for _, raw := range delta.Asks {
			price, qty, err := parseLevel(raw)
			if err != nil {
				fault = fmt.Errorf("book %s: delta ask: %w", b.symbol, err)
				break
			}
			b.asks.set(price, qty)
		}
	}
	if fault != nil {
		return fault
	}

	b.sequence = delta.Sequence
	b.lastUpdate = snapTime(delta.Timestamp)
	return nil
}

func snapTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// TopLevels returns up to depth levels from each side, best-first. Fewer
// levels than requested means reduced liquidity, not an error.
func (b *Book) TopLevels(depth int) (bids, asks []domain.PriceLevel) {
	return b.bids.top(depth), b.asks.top(depth)
}

// BestBid returns the highest bid, if any.
func (b *Book) BestBid() (domain.PriceLevel, bool) { return b.bids.best() }

// BestAsk returns the lowest ask, if any.
func (b *Book) BestAsk() (domain.PriceLevel, bool) { return b.asks.best() }

// Crossed reports whether best bid >= best ask. A crossed book is a
// data-quality fault: the view is untrustworthy until the next snapshot.
func (b *Book) Crossed() bool {
	bid, okB := b.bids.best()
	ask, okA := b.asks.best()
	return okB && okA && bid.Price.Cmp(ask.Price) >= 0
}

// Depth returns the number of levels on each side.
func (b *Book) Depth() (bids, asks int) {
	return len(b.bids.levels), len(b.asks.levels)
}

// Top returns a TopOfBook snapshot suitable for caching.
func (b *Book) Top(depth int) domain.TopOfBook {
	bids, asks := b.TopLevels(depth)
	return domain.TopOfBook{
		Symbol:    b.symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: b.lastUpdate,
	}
}
