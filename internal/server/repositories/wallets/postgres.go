package wallets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/slkzgm/beezie-backend/internal/common"
	"github.com/slkzgm/beezie-backend/internal/dbx"
	"github.com/slkzgm/beezie-backend/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, w *models.Wallet) (*models.Wallet, error) {
	query := `
		INSERT INTO wallets (user_id, address, encrypted_private_key)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query, w.UserID, w.Address, w.EncryptedPrivateKey).
		Scan(&w.ID, &w.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return w, nil
}

func (r *PostgresRepository) FindByUserID(ctx context.Context, userID string) (*models.Wallet, error) {
	query := `
		SELECT id, user_id, address, encrypted_private_key, created_at
		FROM wallets
		WHERE user_id = $1
	`
	w := &models.Wallet{}
	err := r.db.QueryRowContext(ctx, query, userID).
		Scan(&w.ID, &w.UserID, &w.Address, &w.EncryptedPrivateKey, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return w, nil
}
