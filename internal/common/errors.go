// Package common defines shared constants and sentinel errors used across
// the server layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Credential errors. ErrInvalidToken covers every signature, claim and
	// key-id failure so callers cannot tell which check rejected a token.
	ErrInvalidToken        = errors.New("invalid token")
	ErrRefreshReused       = errors.New("refresh token reused")
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// Transfer errors.
	ErrIdempotencyConflict    = errors.New("idempotency key already used with different payload")
	ErrWalletNotFound         = errors.New("wallet not found for user")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientBalance    = errors.New("insufficient token balance")
	ErrInvalidReceiver        = errors.New("destination address is invalid")
	ErrInsufficientAllowance  = errors.New("insufficient allowance")
	ErrNonceTooLow            = errors.New("nonce too low")
	ErrReplacementUnderpriced = errors.New("replacement transaction underpriced")

	// ErrLeaseLost means another caller took over a pending reservation.
	ErrLeaseLost = errors.New("reservation lease lost")

	// ErrTransportRetryable marks a downstream failure the caller may retry later.
	ErrTransportRetryable = errors.New("upstream temporarily unavailable")
)
