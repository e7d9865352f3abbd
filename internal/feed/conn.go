// Package feed maintains a reconnecting websocket session that delivers
// orderbook snapshots and deltas in arrival order.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// State is the connection's lifecycle state.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateSubscribed   State = "SUBSCRIBED"
	StateStreaming    State = "STREAMING"
	StateReconnecting State = "RECONNECTING"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 15 * time.Second

	// Default reconnect backoff bounds; doubling between them.
	defaultRetryFloor   = 5 * time.Second
	defaultRetryCeiling = 60 * time.Second
)

// SnapshotHandler receives every full book snapshot.
type SnapshotHandler func(ctx context.Context, snap domain.BookSnapshot)

// DeltaHandler receives every incremental update.
type DeltaHandler func(ctx context.Context, delta domain.BookDelta)

// Config holds feed connection parameters.
type Config struct {
	URL          string
	Symbol       string
	RetryFloor   time.Duration
	RetryCeiling time.Duration
}

// Connection is a reconnecting feed session for one symbol. Messages are
// delivered to the handlers strictly in arrival order from a single
// goroutine. Sequence gaps force a resubscription rather than applying a
// possibly corrupt delta.
type Connection struct {
	cfg        Config
	onSnapshot SnapshotHandler
	onDelta    DeltaHandler
	logger     *slog.Logger

	retry *backoff

	mu      sync.Mutex
	state   State
	lastSeq uint64

	stopOnce sync.Once
	done     chan struct{}
}

// NewConnection creates a feed connection that will subscribe to cfg.Symbol
// and invoke the handlers for each inbound message.
func NewConnection(cfg Config, onSnapshot SnapshotHandler, onDelta DeltaHandler, logger *slog.Logger) *Connection {
	if cfg.RetryFloor <= 0 {
		cfg.RetryFloor = defaultRetryFloor
	}
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = defaultRetryCeiling
	}
	return &Connection{
		cfg:        cfg,
		onSnapshot: onSnapshot,
		onDelta:    onDelta,
		logger:     logger.With(slog.String("component", "feed"), slog.String("symbol", cfg.Symbol)),
		retry:      newBackoff(cfg.RetryFloor, cfg.RetryCeiling),
		state:      StateDisconnected,
		done:       make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run connects, subscribes, and streams until ctx is cancelled or Stop is
// called. Transport failures and sequence gaps trigger reconnection with
// bounded exponential backoff; the delay resets to its floor after every
// successful subscription.
func (c *Connection) Run(ctx context.Context) error {
	defer c.setState(StateDisconnected)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		err := c.runSession(ctx)
		if err == nil {
			// Clean stop.
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.setState(StateReconnecting)
		delay := c.retry.Next()
		c.logger.Warn("feed session ended, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-time.After(delay):
		}
	}
}

// runSession performs one connect/subscribe/stream cycle. It returns nil only
// on a deliberate stop.
func (c *Connection) runSession(ctx context.Context) error {
	c.setState(StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	// Abort blocked reads promptly on cancellation or stop.
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-ctx.Done():
		case <-c.done:
		case <-sessionDone:
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}()

	if err := c.subscribe(conn); err != nil {
		return err
	}
	c.setState(StateSubscribed)
	c.retry.Reset()

	c.mu.Lock()
	c.lastSeq = 0
	c.mu.Unlock()

	sawSnapshot := false
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return fmt.Errorf("feed: read: %w", domain.ErrWSDisconnect)
		}

		snap, delta, err := decodeMessage(raw)
		if err != nil {
			// Recoverable parse fault: skip the frame, keep the session.
			c.logger.Warn("dropping unparseable frame", slog.String("error", err.Error()))
			continue
		}

		switch {
		case snap != nil:
			sawSnapshot = true
			c.setState(StateStreaming)
			c.setLastSeq(snap.Sequence)
			c.onSnapshot(ctx, *snap)

		case delta != nil:
			if !sawSnapshot {
				// Deltas before the first snapshot apply to unknown state.
				return fmt.Errorf("feed: delta before snapshot: %w", domain.ErrSequenceGap)
			}
			if gapped(c.getLastSeq(), delta.Sequence) {
				return fmt.Errorf("feed: expected seq %d, got %d: %w",
					c.getLastSeq()+1, delta.Sequence, domain.ErrSequenceGap)
			}
			c.setLastSeq(delta.Sequence)
			c.onDelta(ctx, *delta)
		}
	}
}

func (c *Connection) subscribe(conn *websocket.Conn) error {
	cmd := subscribeCommand{Op: "subscribe", Symbol: c.cfg.Symbol}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("feed: marshal subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	return nil
}

func (c *Connection) setLastSeq(seq uint64) {
	c.mu.Lock()
	c.lastSeq = seq
	c.mu.Unlock()
}

func (c *Connection) getLastSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}

// gapped reports whether next does not directly follow last. Feeds without
// sequence numbers send zero, which disables the check.
func gapped(last, next uint64) bool {
	if last == 0 || next == 0 {
		return false
	}
	return next != last+1
}

// Stop shuts the connection down. It is idempotent and safe to call from any
// state; the transport is released unconditionally.
func (c *Connection) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}
