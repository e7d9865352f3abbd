package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrDataFormat    = errors.New("malformed price or quantity")
	ErrCrossedBook   = errors.New("crossed book")
	ErrDataStale     = errors.New("book data stale")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrSequenceGap   = errors.New("sequence gap in feed")
	ErrKillSwitch    = errors.New("kill switch engaged")
	ErrPositionOpen  = errors.New("position already open")
	ErrOrderRejected = errors.New("order rejected")
)
