// Package models defines server-side data models persisted in the database.
package models

import "time"

// User is an account. Salt and Verifier come from the client-side key
// derivation; the server only compares verifiers.
type User struct {
	ID        string
	UserName  string
	Salt      []byte
	Verifier  []byte
	CreatedAt time.Time
}

// Wallet is the custodial wallet owned by a user. EncryptedPrivateKey is a
// cryptox envelope and is never logged.
type Wallet struct {
	ID                  string
	UserID              string
	Address             string
	EncryptedPrivateKey string
	CreatedAt           time.Time
}
