package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidStatus    = errors.New("invalid order status")
	ErrNotConnected     = errors.New("ledger not connected")
	ErrClosed           = errors.New("connection closed")
	ErrRetriesExhausted = errors.New("reconnect retries exhausted")
	ErrUnknownEvent     = errors.New("unknown ledger event")
	ErrSuperseded       = errors.New("bootstrap superseded by newer generation")
)
