// Package wallets declares the repository contract for custodial wallets.
package wallets

import (
	"context"

	"github.com/slkzgm/beezie-backend/internal/server/models"
)

type Repository interface {
	// Create inserts w and fills its ID and CreatedAt.
	Create(ctx context.Context, w *models.Wallet) (*models.Wallet, error)

	// FindByUserID returns the user's wallet or common.ErrorNotFound.
	FindByUserID(ctx context.Context, userID string) (*models.Wallet, error)
}
