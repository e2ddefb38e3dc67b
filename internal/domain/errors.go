package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrWSDisconnect     = errors.New("websocket disconnected")
	ErrStaleSequence    = errors.New("stale sequence number")
	ErrUnknownFee       = errors.New("unknown fee schedule")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrSessionRunning   = errors.New("session already running")
	ErrSessionStopped   = errors.New("session not running")
	ErrSessionFaulted   = errors.New("session in error state, stop it first")
	ErrNoVenueReachable = errors.New("no enabled venue reachable")
	ErrNotConnected     = errors.New("not connected")
)
