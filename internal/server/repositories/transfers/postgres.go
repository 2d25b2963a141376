package transfers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
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

// Create must not raise on a lost race: a failed statement aborts the
// PostgreSQL transaction the caller re-reads the winning row in.
func (r *PostgresRepository) Create(ctx context.Context, t *models.TransferRequest) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.TransferPending
	}
	query := `
		INSERT INTO transfer_requests
			(id, user_id, idempotency_key_hash, amount, destination_address, status, lease_owner, lease_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, idempotency_key_hash) DO NOTHING
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		t.ID, t.UserID, t.IdempotencyKeyHash, t.Amount, t.DestinationAddress,
		string(t.Status), t.LeaseOwner, t.LeaseExpiresAt,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || dbx.IsUniqueViolation(err) {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindForUpdate(ctx context.Context, userID, keyHash string) (*models.TransferRequest, error) {
	query := `
		SELECT id, user_id, idempotency_key_hash, amount, destination_address,
			transaction_hash, raw_transaction, status, lease_owner, lease_expires_at, created_at, updated_at
		FROM transfer_requests
		WHERE user_id = $1 AND idempotency_key_hash = $2
		FOR UPDATE
	`
	var (
		t      models.TransferRequest
		txHash sql.NullString
		rawTx  sql.NullString
		status string
	)
	err := r.db.QueryRowContext(ctx, query, userID, keyHash).Scan(
		&t.ID, &t.UserID, &t.IdempotencyKeyHash, &t.Amount, &t.DestinationAddress,
		&txHash, &rawTx, &status, &t.LeaseOwner, &t.LeaseExpiresAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	t.TransactionHash = txHash.String
	t.RawTransaction = rawTx.String
	t.Status = models.TransferStatus(status)
	return &t, nil
}

func (r *PostgresRepository) TakeOver(ctx context.Context, id, oldOwner, newOwner string, expiresAt, now time.Time) (bool, error) {
	query := `
		UPDATE transfer_requests
		SET lease_owner = $3, lease_expires_at = $4, updated_at = $5
		WHERE id = $1 AND lease_owner = $2 AND status = 'pending'
	`
	res, err := r.db.ExecContext(ctx, query, id, oldOwner, newOwner, expiresAt, now)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) Complete(ctx context.Context, id, owner, txHash string, now time.Time) error {
	query := `
		UPDATE transfer_requests
		SET status = 'completed', transaction_hash = $3, updated_at = $4
		WHERE id = $1 AND lease_owner = $2 AND status = 'pending'
	`
	res, err := r.db.ExecContext(ctx, query, id, owner, txHash, now)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrLeaseLost
	}
	return nil
}

func (r *PostgresRepository) RecordBroadcast(ctx context.Context, id, owner, txHash, rawTx string, now time.Time) (bool, error) {
	query := `
		UPDATE transfer_requests
		SET transaction_hash = $3, raw_transaction = $4, updated_at = $5
		WHERE id = $1 AND lease_owner = $2 AND status = 'pending' AND lease_expires_at > $5
	`
	res, err := r.db.ExecContext(ctx, query, id, owner, txHash, rawTx, now)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) DiscardBroadcast(ctx context.Context, id, owner string, now time.Time) error {
	query := `
		UPDATE transfer_requests
		SET transaction_hash = NULL, raw_transaction = NULL, lease_expires_at = $3, updated_at = $3
		WHERE id = $1 AND lease_owner = $2 AND status = 'pending'
	`
	if _, err := r.db.ExecContext(ctx, query, id, owner, now); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ReleaseLease(ctx context.Context, id, owner string, now time.Time) error {
	query := `
		UPDATE transfer_requests
		SET lease_expires_at = $3, updated_at = $3
		WHERE id = $1 AND lease_owner = $2 AND status = 'pending'
	`
	if _, err := r.db.ExecContext(ctx, query, id, owner, now); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
