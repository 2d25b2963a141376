package models

import "time"

// RefreshToken is a ledger row for one issued refresh token. Only the
// SHA-256 hex of the raw token is stored.
//
// A row with RotatedAt == nil is active. RotatedAt set means the token was
// exchanged or revoked; ReusedAt set means it was presented again after that.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	JwtID     string
	ExpiresAt time.Time
	RotatedAt *time.Time
	ReusedAt  *time.Time
	CreatedAt time.Time
}

// Active reports whether the record has not been rotated.
func (t *RefreshToken) Active() bool { return t.RotatedAt == nil }
