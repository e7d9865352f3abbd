package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// Archiver exports aged trades and risk events to blob storage as JSONL,
// then deletes the exported rows from the primary store. The upload completes
// before anything is deleted; a failed upload leaves the store untouched.
type Archiver struct {
	writer domain.BlobWriter
	trades domain.TradeStore
	events domain.RiskEventStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver over the given stores.
func NewArchiver(writer domain.BlobWriter, trades domain.TradeStore, events domain.RiskEventStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		trades: trades,
		events: events,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTrades exports trades closed before the cutoff and removes them from
// the store. Returns the number of records archived.
func (a *Archiver) ArchiveTrades(ctx context.Context, cutoff time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, cutoff, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	key := archiveKey("trades", cutoff)
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	deleted, err := a.trades.DeleteBefore(ctx, cutoff)
	if err != nil {
		return int64(len(trades)), fmt.Errorf("s3blob: archive trades delete: %w", err)
	}

	a.logger.InfoContext(ctx, "trades archived",
		slog.String("key", key),
		slog.Int("exported", len(trades)),
		slog.Int64("deleted", deleted),
	)
	return int64(len(trades)), nil
}

// ArchiveRiskEvents exports risk events created before the cutoff and removes
// them from the store. Returns the number of records archived.
func (a *Archiver) ArchiveRiskEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	events, err := a.events.ListBefore(ctx, cutoff, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive risk events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive risk events marshal: %w", err)
	}

	key := archiveKey("risk_events", cutoff)
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive risk events upload: %w", err)
	}

	deleted, err := a.events.DeleteBefore(ctx, cutoff)
	if err != nil {
		return int64(len(events)), fmt.Errorf("s3blob: archive risk events delete: %w", err)
	}

	a.logger.InfoContext(ctx, "risk events archived",
		slog.String("key", key),
		slog.Int("exported", len(events)),
		slog.Int64("deleted", deleted),
	)
	return int64(len(events)), nil
}

// Run archives on the given interval until ctx is cancelled. Records older
// than retain are exported on each cycle.
func (a *Archiver) Run(ctx context.Context, interval, retain time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retain)
			if _, err := a.ArchiveTrades(ctx, cutoff); err != nil {
				a.logger.WarnContext(ctx, "trade archive cycle failed", slog.String("error", err.Error()))
			}
			if _, err := a.ArchiveRiskEvents(ctx, cutoff); err != nil {
				a.logger.WarnContext(ctx, "risk event archive cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// archiveKey partitions archive objects by the year-month of the cutoff and
// names each object after the full cutoff instant, so successive cycles in
// the same month never overwrite an earlier export:
//
//	archive/trades/2026-08/20260824T093000Z.jsonl
//	archive/risk_events/2026-08/20260824T093000Z.jsonl
func archiveKey(kind string, cutoff time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl",
		kind, cutoff.Format("2006-01"), cutoff.UTC().Format("20060102T150405Z"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
