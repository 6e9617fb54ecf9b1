package model

import (
	"errors"
	"fmt"
)

// Common errors used across the application
var (
	// Synchronizer preconditions
	ErrNoSession       = errors.New("no active session")
	ErrSessionTerminal = errors.New("session is already over")

	// Operation failure categories; the transport cause is wrapped
	ErrCreateSession = errors.New("failed to create session")
	ErrFetchSession  = errors.New("failed to fetch session")
	ErrSubmitGuess   = errors.New("failed to submit guess")
	ErrOpponentPoll  = errors.New("failed to fetch opponent move")

	// Auth errors
	ErrAuthExpired = errors.New("credentials expired or rejected")
	ErrNoToken     = errors.New("no credentials available")

	// Server responses that violate the wire contract are discarded
	ErrMalformedSnapshot = errors.New("malformed session snapshot")
)

// InvalidGuessError is a client-side precondition violation on guess
// submission. It never reaches the network and should not be rendered as
// a transport failure.
type InvalidGuessError struct {
	Reason string
}

// Error implements error interface
func (e *InvalidGuessError) Error() string {
	return fmt.Sprintf("invalid guess: %s", e.Reason)
}

// NewInvalidGuessError creates an InvalidGuessError naming the violated
// precondition
func NewInvalidGuessError(reason string) error {
	return &InvalidGuessError{Reason: reason}
}

// IsInvalidGuess reports whether err is a guess precondition violation
func IsInvalidGuess(err error) bool {
	var ige *InvalidGuessError
	return errors.As(err, &ige)
}
