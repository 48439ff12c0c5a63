package game

import "errors"

// Sentinel errors for the game domain. Callers test with errors.Is; the
// HTTP layer maps each to a status code in one place.
var (
	// ErrNotFound is returned when a company or upgrade does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for requests that fail domain validation,
	// such as an empty company name.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientFunds is returned when a company cannot afford the
	// upgrade it is trying to buy.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrTickInProgress is returned when RunTick is called while a tick is
	// already running.
	ErrTickInProgress = errors.New("tick already in progress")
)
