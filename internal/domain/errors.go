package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrLockHeld       = errors.New("lock already held")
	ErrUnknownMode    = errors.New("unknown trading mode")
	ErrNoExchange     = errors.New("no exchange client for trading mode")
	ErrCacheMiss      = errors.New("cache miss")
	ErrInvalidAccount = errors.New("invalid wallet or trading mode")
)
