package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// Wire message types sent by the depth feed.
const (
	msgTypeSnapshot = "snapshot"
	msgTypeDelta    = "delta"
)

// wireMessage is the envelope for both feed message shapes. Snapshots carry
// full sides under bids/asks; deltas carry changes under b/a where a zero
// quantity removes the level. Prices and quantities stay strings end to end;
// exact decimal parsing happens in the book, never here.
type wireMessage struct {
	Type   string      `json:"type"`
	Symbol string      `json:"symbol"`
	Seq    uint64      `json:"seq"`
	Bids   [][2]string `json:"bids,omitempty"`
	Asks   [][2]string `json:"asks,omitempty"`
	B      [][2]string `json:"b,omitempty"`
	A      [][2]string `json:"a,omitempty"`
	TsMs   int64       `json:"ts"`
}

// subscribeCommand is sent after connecting to request the depth stream.
type subscribeCommand struct {
	Op     string `json:"op"`
	Symbol string `json:"symbol"`
}

func rawLevels(pairs [][2]string) []domain.RawLevel {
	if len(pairs) == 0 {
		return nil
	}
	out := make([]domain.RawLevel, len(pairs))
	for i, p := range pairs {
		out[i] = domain.RawLevel{Price: p[0], Quantity: p[1]}
	}
	return out
}

func (m *wireMessage) timestamp() time.Time {
	if m.TsMs == 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(m.TsMs).UTC()
}

// decodeMessage parses a raw frame into either a snapshot or a delta.
func decodeMessage(raw []byte) (*domain.BookSnapshot, *domain.BookDelta, error) {
	var m wireMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("feed: decode message: %w", err)
	}

	switch m.Type {
	case msgTypeSnapshot:
		return &domain.BookSnapshot{
			Symbol:    m.Symbol,
			Bids:      rawLevels(m.Bids),
			Asks:      rawLevels(m.Asks),
			Sequence:  m.Seq,
			Timestamp: m.timestamp(),
		}, nil, nil
	case msgTypeDelta:
		return nil, &domain.BookDelta{
			Symbol:    m.Symbol,
			Bids:      rawLevels(m.B),
			Asks:      rawLevels(m.A),
			Sequence:  m.Seq,
			Timestamp: m.timestamp(),
		}, nil
	default:
		return nil, nil, fmt.Errorf("feed: unknown message type %q", m.Type)
	}
}
