package storage

import "errors"

var (
	// ErrNotFound is returned by services when a requested record does not exist.
	// DB getters themselves return (nil, nil) on a miss; callers decide whether that's an error.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateTrade is returned when a second candidate is created for the same trade.
	ErrDuplicateTrade = errors.New("duplicate candidate for trade")
)
