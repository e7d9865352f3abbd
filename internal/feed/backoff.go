package feed

import "time"

// backoff produces the reconnect delay sequence: the floor value, doubling on
// every consecutive failure, capped at the ceiling. Reset returns it to the
// floor after a successful connection.
type backoff struct {
	floor   time.Duration
	ceiling time.Duration
	current time.Duration
}

func newBackoff(floor, ceiling time.Duration) *backoff {
	return &backoff{floor: floor, ceiling: ceiling}
}

// Next returns the delay to wait before the upcoming attempt and advances the
// sequence.
func (b *backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.floor
	}
	d := b.current
	b.current *= 2
	if b.current > b.ceiling {
		b.current = b.ceiling
	}
	return d
}

// Reset returns the sequence to its floor value.
func (b *backoff) Reset() {
	b.current = 0
}
