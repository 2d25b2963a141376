// Package refreshtokens declares the server-side repository contract for
// the refresh-token ledger.
package refreshtokens

import (
	"context"
	"time"

	"github.com/slkzgm/beezie-backend/internal/server/models"
)

// Repository stores refresh-token records. Methods that change state are
// meant to run inside the caller's transaction.
type Repository interface {
	// Create inserts an active record. An empty ID is filled with a new UUID.
	Create(ctx context.Context, token *models.RefreshToken) error

	// FindByHashForUpdate loads the record for tokenHash and locks the row
	// until the surrounding transaction ends. Absent rows yield
	// common.ErrorNotFound.
	FindByHashForUpdate(ctx context.Context, tokenHash string) (*models.RefreshToken, error)

	// RotateActiveForUser stamps rotated_at on every active record of userID
	// and returns how many were rotated.
	RotateActiveForUser(ctx context.Context, userID string, at time.Time) (int64, error)

	// MarkRotated stamps rotated_at on one record if it is still active.
	MarkRotated(ctx context.Context, id string, at time.Time) error

	// MarkReused stamps reused_at on one record.
	MarkReused(ctx context.Context, id string, at time.Time) error

	// DeleteByUserID removes every record of userID.
	DeleteByUserID(ctx context.Context, userID string) error
}
