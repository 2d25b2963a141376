package models

import (
	"strings"
	"time"
)

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
)

// TransferRequest is the reservation row that makes a transfer idempotent
// per (UserID, IdempotencyKeyHash).
//
// LeaseOwner identifies the caller currently allowed to execute a pending
// reservation, until LeaseExpiresAt. TransactionHash and RawTransaction are
// recorded on a pending row before the signed transaction is sent, so a
// later lease holder re-sends the same transaction instead of signing a new one.
type TransferRequest struct {
	ID                 string
	UserID             string
	IdempotencyKeyHash string
	Amount             string
	DestinationAddress string
	TransactionHash    string
	RawTransaction     string
	Status             TransferStatus
	LeaseOwner         string
	LeaseExpiresAt     time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SamePayload reports whether amount and destination match this request.
// Addresses compare case-insensitively since checksummed and lowercase hex
// denote the same account.
func (r TransferRequest) SamePayload(amount, destination string) bool {
	return r.Amount == amount && strings.EqualFold(r.DestinationAddress, destination)
}

// LeaseExpired reports whether the execution lease has lapsed at now.
func (r TransferRequest) LeaseExpired(now time.Time) bool {
	return !now.Before(r.LeaseExpiresAt)
}

// Broadcast reports whether a signed transaction was recorded for this row.
func (r TransferRequest) Broadcast() bool {
	return r.RawTransaction != ""
}
