// Package strategy derives trading signals from orderbook state.
package strategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flowbot/internal/book"
	"github.com/alanyoungcy/flowbot/internal/domain"
)

// maxRatio is the sentinel for "all the liquidity is on the bid side".
// A finite sentinel keeps threshold comparisons well-defined; it is far above
// any sane buy threshold.
var maxRatio = decimal.NewFromInt(999999)

// ratioScale is the fixed precision of the imbalance ratio.
const ratioScale = 3

// ImbalanceConfig configures the orderbook imbalance signal generator.
type ImbalanceConfig struct {
	Depth         int             // number of levels summed per side
	BuyThreshold  decimal.Decimal // ratio above this emits BUY
	SellThreshold decimal.Decimal // ratio below this emits SELL
	Confidence    decimal.Decimal // [0,1], scales downstream sizing only
	SpotOnly      bool            // filter SELL signals before risk
}

// Imbalance computes the bid/ask volume ratio over the top N levels and maps
// it to a directional signal. All arithmetic is exact decimal so live and
// replayed evaluations agree bit-for-bit.
type Imbalance struct {
	cfg    ImbalanceConfig
	logger *slog.Logger
}

// NewImbalance creates an imbalance signal generator.
func NewImbalance(cfg ImbalanceConfig, logger *slog.Logger) *Imbalance {
	return &Imbalance{cfg: cfg, logger: logger.With(slog.String("strategy", "imbalance"))}
}

// Name returns the strategy identifier.
func (g *Imbalance) Name() string { return "imbalance" }

// Ratio returns the imbalance ratio for the given side volumes, rounded to
// three decimal places.
//
// Edge cases: both sides empty is neutral (exactly 1.000, no signal); an
// empty ask side with bid volume is maximal buy pressure (sentinel); an empty
// bid side with ask volume is maximal sell pressure (zero).
func Ratio(bidVolume, askVolume decimal.Decimal) decimal.Decimal {
	switch {
	case askVolume.IsZero() && bidVolume.IsZero():
		return decimal.NewFromInt(1)
	case askVolume.IsZero():
		return maxRatio
	case bidVolume.IsZero():
		return decimal.Zero
	default:
		return bidVolume.DivRound(askVolume, ratioScale)
	}
}

// Evaluate inspects the top levels of b and returns a signal, or nil when the
// ratio sits between the thresholds ("no trade" is an explicit outcome, not
// an error).
func (g *Imbalance) Evaluate(ctx context.Context, b *book.Book) *domain.Signal {
	bids, asks := b.TopLevels(g.cfg.Depth)

	var bidVolume, askVolume decimal.Decimal
	for _, l := range bids {
		bidVolume = bidVolume.Add(l.Quantity)
	}
	for _, l := range asks {
		askVolume = askVolume.Add(l.Quantity)
	}

	ratio := Ratio(bidVolume, askVolume)

	var side domain.OrderSide
	switch {
	case ratio.GreaterThan(g.cfg.BuyThreshold):
		side = domain.OrderSideBuy
	case ratio.LessThan(g.cfg.SellThreshold):
		side = domain.OrderSideSell
	default:
		return nil
	}

	sig := &domain.Signal{
		ID:         uuid.New().String(),
		Symbol:     b.Symbol(),
		Side:       side,
		Strength:   ratio,
		Confidence: g.cfg.Confidence,
		CreatedAt:  time.Now().UTC(),
	}
	if g.cfg.SpotOnly {
		sig = domain.SpotOnly(sig)
		if sig == nil {
			g.logger.DebugContext(ctx, "sell signal filtered in spot-only mode",
				slog.String("symbol", b.Symbol()),
				slog.String("ratio", ratio.String()),
			)
			return nil
		}
	}

	g.logger.DebugContext(ctx, "signal generated",
		slog.String("signal_id", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("side", string(sig.Side)),
		slog.String("ratio", ratio.String()),
	)
	return sig
}
