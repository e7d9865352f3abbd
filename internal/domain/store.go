package domain

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Close(ctx context.Context, id string, exitPrice decimal.Decimal, pnl decimal.Decimal) error
	GetOpen(ctx context.Context) ([]Position, error)
	GetByID(ctx context.Context, id string) (Position, error)
	ListHistory(ctx context.Context, opts ListOpts) ([]Position, error)
}

// TradeStore persists completed trades.
type TradeStore interface {
	Insert(ctx context.Context, trade Trade) error
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]Trade, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RiskEventStore persists an append-only log of risk events.
type RiskEventStore interface {
	Insert(ctx context.Context, ev RiskEvent) error
	ListRecent(ctx context.Context, limit int) ([]RiskEvent, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]RiskEvent, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// BookCache stores the latest top-of-book view per symbol for dashboards and
// out-of-process consumers.
type BookCache interface {
	SetTop(ctx context.Context, top TopOfBook) error
	GetTop(ctx context.Context, symbol string) (TopOfBook, error)
}

// SignalBus broadcasts emitted signals to out-of-process subscribers and
// appends them to a capped stream for replay.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream, lastID string, count int) ([]StreamMessage, error)
}

// StreamMessage is one entry read back from a signal stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// BlobWriter uploads a named object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
}
