// Package transfers declares the repository contract for idempotent
// transfer reservations.
package transfers

import (
	"context"
	"time"

	"github.com/slkzgm/beezie-backend/internal/server/models"
)

type Repository interface {
	// Create inserts a pending reservation. When (user_id,
	// idempotency_key_hash) already exists nothing is written and
	// common.ErrorAlreadyExists is returned; the surrounding transaction
	// stays usable.
	Create(ctx context.Context, r *models.TransferRequest) error

	// FindForUpdate loads and locks the reservation for (userID, keyHash).
	// Absent rows yield common.ErrorNotFound.
	FindForUpdate(ctx context.Context, userID, keyHash string) (*models.TransferRequest, error)

	// TakeOver moves the lease of a pending reservation from oldOwner to
	// newOwner. It returns false when the lease changed hands in between.
	TakeOver(ctx context.Context, id, oldOwner, newOwner string, expiresAt, now time.Time) (bool, error)

	// Complete marks a pending reservation completed with txHash. It returns
	// common.ErrLeaseLost if owner no longer holds the lease.
	Complete(ctx context.Context, id, owner, txHash string, now time.Time) error

	// RecordBroadcast stores the signed transaction of a pending reservation
	// before it is sent. It returns false, writing nothing, unless owner
	// holds a lease that is still valid at now.
	RecordBroadcast(ctx context.Context, id, owner, txHash, rawTx string, now time.Time) (bool, error)

	// DiscardBroadcast forgets the recorded transaction after the node
	// rejected it for good and expires owner's lease.
	DiscardBroadcast(ctx context.Context, id, owner string, now time.Time) error

	// ReleaseLease expires owner's lease at now so the next caller may
	// execute immediately.
	ReleaseLease(ctx context.Context, id, owner string, now time.Time) error
}
