package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// topOfBookTTL bounds how long a cached view outlives the feed. Stale entries
// expire rather than serving a dead book to dashboards.
const topOfBookTTL = 30 * time.Second

// BookCache implements domain.BookCache, storing each symbol's top-of-book
// view as a JSON value under top:{symbol}.
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func topKey(symbol string) string { return "top:" + symbol }

type cachedLevel struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

type cachedTop struct {
	Symbol    string        `json:"symbol"`
	Bids      []cachedLevel `json:"bids"`
	Asks      []cachedLevel `json:"asks"`
	Timestamp time.Time     `json:"ts"`
}

func encodeLevels(levels []domain.PriceLevel) []cachedLevel {
	out := make([]cachedLevel, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, cachedLevel{
			Price:    lvl.Price.String(),
			Quantity: lvl.Quantity.String(),
		})
	}
	return out
}

func decodeLevels(levels []cachedLevel) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		price, err := decimal.NewFromString(lvl.Price)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", lvl.Price, domain.ErrDataFormat)
		}
		qty, err := decimal.NewFromString(lvl.Quantity)
		if err != nil {
			return nil, fmt.Errorf("quantity %q: %w", lvl.Quantity, domain.ErrDataFormat)
		}
		out = append(out, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return out, nil
}

// SetTop replaces the cached view for top.Symbol.
func (bc *BookCache) SetTop(ctx context.Context, top domain.TopOfBook) error {
	data, err := json.Marshal(cachedTop{
		Symbol:    top.Symbol,
		Bids:      encodeLevels(top.Bids),
		Asks:      encodeLevels(top.Asks),
		Timestamp: top.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("redis: marshal top of book %s: %w", top.Symbol, err)
	}
	if err := bc.rdb.Set(ctx, topKey(top.Symbol), data, topOfBookTTL).Err(); err != nil {
		return fmt.Errorf("redis: set top of book %s: %w", top.Symbol, err)
	}
	return nil
}

// GetTop returns the cached view for symbol, or domain.ErrNotFound when the
// entry is absent or expired.
func (bc *BookCache) GetTop(ctx context.Context, symbol string) (domain.TopOfBook, error) {
	data, err := bc.rdb.Get(ctx, topKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.TopOfBook{}, domain.ErrNotFound
		}
		return domain.TopOfBook{}, fmt.Errorf("redis: get top of book %s: %w", symbol, err)
	}

	var cached cachedTop
	if err := json.Unmarshal(data, &cached); err != nil {
		return domain.TopOfBook{}, fmt.Errorf("redis: unmarshal top of book %s: %w", symbol, err)
	}

	top := domain.TopOfBook{Symbol: cached.Symbol, Timestamp: cached.Timestamp}
	if top.Bids, err = decodeLevels(cached.Bids); err != nil {
		return domain.TopOfBook{}, fmt.Errorf("redis: decode bids %s: %w", symbol, err)
	}
	if top.Asks, err = decodeLevels(cached.Asks); err != nil {
		return domain.TopOfBook{}, fmt.Errorf("redis: decode asks %s: %w", symbol, err)
	}
	return top, nil
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
