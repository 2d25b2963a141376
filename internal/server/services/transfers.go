package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/oklog/ulid/v2"
	"github.com/slkzgm/beezie-backend/internal/common"
	"github.com/slkzgm/beezie-backend/internal/dbx"
	"github.com/slkzgm/beezie-backend/internal/logging"
	"github.com/slkzgm/beezie-backend/internal/server/chain"
	"github.com/slkzgm/beezie-backend/internal/server/metrics"
	"github.com/slkzgm/beezie-backend/internal/server/models"
	"github.com/slkzgm/beezie-backend/internal/server/repositories/repomanager"
)

const DefaultLeaseTTL = 2 * time.Minute

// Token is the on-chain capability a transfer needs.
type Token interface {
	Decimals(ctx context.Context) (uint8, error)
	BalanceOf(ctx context.Context, owner chain.Address) (*big.Int, error)
	SignTransfer(ctx context.Context, signer *chain.Signer, to chain.Address, amount *big.Int) (*chain.SignedTransfer, error)
	Send(ctx context.Context, raw []byte) error
	Mined(ctx context.Context, hash string) (bool, error)
}

type TransferInput struct {
	Amount             string
	DestinationAddress string
	// IdempotencyKey is optional. Requests with the same key and payload
	// execute at most once.
	IdempotencyKey string
}

type TransferResult struct {
	Status          models.TransferStatus
	TransactionHash string
}

// TransferService moves tokens out of a user's custodial wallet.
//
// With an idempotency key, a reservation row is taken before anything is
// sent. Only the caller holding the row's lease broadcasts; everyone else
// gets the stored outcome or "pending". A lease that runs out without
// completion can be taken over by the next caller.
//
// The signed transaction is written to the row, under a still valid lease,
// before it is sent. A caller taking over such a row re-sends those exact
// bytes, so one key never yields two different transactions.
type TransferService struct {
	store    dbx.Store
	repos    repomanager.RepositoryManager
	token    Token
	keybox   KeyBox
	leaseTTL time.Duration
	logger   logging.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewTransferService(store dbx.Store, m repomanager.RepositoryManager, token Token, keybox KeyBox, leaseTTL time.Duration, logger logging.Logger, mt *metrics.Metrics) *TransferService {
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &TransferService{
		store:    store,
		repos:    m,
		token:    token,
		keybox:   keybox,
		leaseTTL: leaseTTL,
		logger:   logger.With("module", "transfers"),
		metrics:  mt,
		now:      time.Now,
	}
}

type reservation struct {
	record *models.TransferRequest
	owned  bool
}

func (s *TransferService) Transfer(ctx context.Context, userID string, in TransferInput) (*TransferResult, error) {
	if userID == "" {
		return nil, common.ErrorUnauthorized
	}
	to, err := chain.ParseAddress(in.DestinationAddress)
	if err != nil {
		return nil, err
	}
	// syntax only; precision is checked against the token's decimals later
	if _, err := chain.ParseUnits(in.Amount, math.MaxUint8); err != nil {
		return nil, err
	}

	wallet, err := s.repos.Wallets(s.store.Conn()).FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrWalletNotFound
		}
		return nil, fmt.Errorf("load wallet: %w", err)
	}

	if in.IdempotencyKey == "" {
		hash, err := s.executeDirect(ctx, wallet, to, in.Amount)
		if err != nil {
			s.metrics.ObserveTransfer(metrics.TransferFailed)
			return nil, err
		}
		s.metrics.ObserveTransfer(metrics.TransferCompleted)
		return &TransferResult{Status: models.TransferCompleted, TransactionHash: hash}, nil
	}

	owner := ulid.Make().String()
	res, err := s.reserve(ctx, userID, common.SHA256Hex(in.IdempotencyKey), in, owner)
	if err != nil {
		if errors.Is(err, common.ErrIdempotencyConflict) {
			s.metrics.ObserveTransfer(metrics.TransferConflict)
			return nil, err
		}
		return nil, fmt.Errorf("reserve transfer: %w", err)
	}

	rec := res.record
	if !res.owned {
		if rec.Status == models.TransferCompleted {
			s.metrics.ObserveTransfer(metrics.TransferReplayed)
			s.logger.Info(ctx, "returning stored transfer result", "user_id", userID, "tx_hash", rec.TransactionHash)
			return &TransferResult{Status: models.TransferCompleted, TransactionHash: rec.TransactionHash}, nil
		}
		return s.pending(ctx, userID, rec.ID), nil
	}

	// nothing may be sent once the lease is gone
	leaseCtx, cancel := context.WithTimeout(ctx, rec.LeaseExpiresAt.Sub(s.now()))
	defer cancel()

	hash, err := s.executeReserved(leaseCtx, rec, owner, wallet, to, in.Amount)
	if errors.Is(err, common.ErrLeaseLost) {
		return s.pending(ctx, userID, rec.ID), nil
	}
	if err != nil {
		s.metrics.ObserveTransfer(metrics.TransferFailed)
		return nil, err
	}

	bg := context.WithoutCancel(ctx)
	if err := s.repos.Transfers(s.store.Conn()).Complete(bg, rec.ID, owner, hash, s.now()); err != nil {
		// the signed transaction is on the row; the next lease holder
		// re-sends it and completes with the same hash
		s.logger.Error(ctx, "transfer broadcast but not recorded",
			"reservation_id", rec.ID, "tx_hash", hash, "error", err)
	}

	s.metrics.ObserveTransfer(metrics.TransferCompleted)
	return &TransferResult{Status: models.TransferCompleted, TransactionHash: hash}, nil
}

func (s *TransferService) pending(ctx context.Context, userID, id string) *TransferResult {
	s.metrics.ObserveTransfer(metrics.TransferPending)
	s.logger.Info(ctx, "transfer already in progress", "user_id", userID, "reservation_id", id)
	return &TransferResult{Status: models.TransferPending}
}

// reserve finds or creates the reservation for keyHash in one transaction
// and reports whether owner now holds its lease.
func (s *TransferService) reserve(ctx context.Context, userID, keyHash string, in TransferInput, owner string) (reservation, error) {
	var res reservation
	err := s.store.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.Transfers(tx)
		now := s.now()

		existing, err := repo.FindForUpdate(ctx, userID, keyHash)
		if errors.Is(err, common.ErrorNotFound) {
			rec := &models.TransferRequest{
				UserID:             userID,
				IdempotencyKeyHash: keyHash,
				Amount:             in.Amount,
				DestinationAddress: in.DestinationAddress,
				Status:             models.TransferPending,
				LeaseOwner:         owner,
				LeaseExpiresAt:     now.Add(s.leaseTTL),
			}
			err = repo.Create(ctx, rec)
			if err == nil {
				res = reservation{record: rec, owned: true}
				return nil
			}
			if !errors.Is(err, common.ErrorAlreadyExists) {
				return err
			}
			existing, err = repo.FindForUpdate(ctx, userID, keyHash)
		}
		if err != nil {
			return err
		}

		if !existing.SamePayload(in.Amount, in.DestinationAddress) {
			return common.ErrIdempotencyConflict
		}
		if existing.Status == models.TransferCompleted || !existing.LeaseExpired(now) {
			res = reservation{record: existing}
			return nil
		}

		took, err := repo.TakeOver(ctx, existing.ID, existing.LeaseOwner, owner, now.Add(s.leaseTTL), now)
		if err != nil {
			return err
		}
		if took {
			s.logger.Warn(ctx, "taking over expired transfer lease",
				"reservation_id", existing.ID, "previous_owner", existing.LeaseOwner)
			existing.LeaseOwner = owner
			existing.LeaseExpiresAt = now.Add(s.leaseTTL)
		}
		res = reservation{record: existing, owned: took}
		return nil
	})
	return res, err
}

// executeDirect signs and sends without a reservation.
func (s *TransferService) executeDirect(ctx context.Context, wallet *models.Wallet, to chain.Address, amount string) (string, error) {
	signed, err := s.prepare(ctx, wallet, to, amount)
	if err != nil {
		return "", err
	}
	if err := s.token.Send(ctx, signed.Raw); err != nil {
		s.logger.Error(ctx, "token transfer failed", "wallet_id", wallet.ID, "error", err)
		return "", chain.Classify(err)
	}
	s.logger.Info(ctx, "token transfer broadcast", "wallet_id", wallet.ID, "to", to.Hex(), "tx_hash", signed.Hash)
	return signed.Hash, nil
}

// executeReserved runs the transfer for a reservation owner holds. A row
// that already carries a signed transaction is resumed by re-sending it.
// Failures before anything was recorded release the lease.
func (s *TransferService) executeReserved(ctx context.Context, rec *models.TransferRequest, owner string, wallet *models.Wallet, to chain.Address, amount string) (string, error) {
	if rec.Broadcast() {
		raw, err := hexutil.Decode(rec.RawTransaction)
		if err != nil {
			return "", fmt.Errorf("%w: stored transaction: %w", common.ErrorInternal, err)
		}
		s.logger.Warn(ctx, "re-sending recorded transfer", "reservation_id", rec.ID, "tx_hash", rec.TransactionHash)
		return s.send(ctx, rec.ID, owner, rec.TransactionHash, raw)
	}

	signed, err := s.prepare(ctx, wallet, to, amount)
	if err != nil {
		s.releaseLease(ctx, rec.ID, owner)
		return "", err
	}

	ok, err := s.repos.Transfers(s.store.Conn()).RecordBroadcast(ctx, rec.ID, owner, signed.Hash, hexutil.Encode(signed.Raw), s.now())
	if err != nil {
		s.releaseLease(ctx, rec.ID, owner)
		return "", fmt.Errorf("record transfer: %w", err)
	}
	if !ok {
		s.logger.Warn(ctx, "transfer lease lost before send", "reservation_id", rec.ID)
		return "", common.ErrLeaseLost
	}

	return s.send(ctx, rec.ID, owner, signed.Hash, signed.Raw)
}

// prepare validates the amount against the token, checks the balance and
// signs the transfer. Nothing is sent.
func (s *TransferService) prepare(ctx context.Context, wallet *models.Wallet, to chain.Address, amount string) (*chain.SignedTransfer, error) {
	decimals, err := s.token.Decimals(ctx)
	if err != nil {
		return nil, chain.Classify(err)
	}
	units, err := chain.ParseUnits(amount, decimals)
	if err != nil {
		return nil, err
	}

	plain, err := s.keybox.DecryptPrivateKey(wallet.EncryptedPrivateKey)
	if err != nil {
		s.logger.Error(ctx, "wallet key decryption failed", "wallet_id", wallet.ID, "error", err)
		return nil, fmt.Errorf("%w: open wallet key: %w", common.ErrorInternal, err)
	}
	signer, err := chain.NewSigner(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorInternal, err)
	}

	from, err := chain.ParseAddress(wallet.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: wallet address %q", common.ErrorInternal, wallet.Address)
	}
	balance, err := s.token.BalanceOf(ctx, from)
	if err != nil {
		return nil, chain.Classify(err)
	}
	if balance.Cmp(units) < 0 {
		return nil, common.ErrInsufficientBalance
	}

	signed, err := s.token.SignTransfer(ctx, signer, to, units)
	if err != nil {
		return nil, chain.Classify(err)
	}
	return signed, nil
}

// send broadcasts the recorded transaction. A "nonce too low" answer means
// the nonce is spent; a receipt for hash shows it was spent by this very
// transaction. Terminal rejections drop the recorded transaction so the next
// attempt signs afresh; ambiguous ones keep row and lease as they are.
func (s *TransferService) send(ctx context.Context, id, owner, hash string, raw []byte) (string, error) {
	err := s.token.Send(ctx, raw)
	if err == nil {
		s.logger.Info(ctx, "token transfer broadcast", "reservation_id", id, "tx_hash", hash)
		return hash, nil
	}

	classified := chain.Classify(err)
	if errors.Is(classified, common.ErrNonceTooLow) {
		mined, merr := s.token.Mined(ctx, hash)
		if merr != nil {
			s.logger.Error(ctx, "transfer receipt lookup failed", "reservation_id", id, "tx_hash", hash, "error", merr)
			return "", chain.Classify(merr)
		}
		if mined {
			s.logger.Info(ctx, "recorded transfer already mined", "reservation_id", id, "tx_hash", hash)
			return hash, nil
		}
	}

	s.logger.Error(ctx, "token transfer failed", "reservation_id", id, "tx_hash", hash, "error", err)
	if !isAmbiguous(classified) {
		s.discardBroadcast(ctx, id, owner)
	}
	return "", classified
}

// isAmbiguous reports whether a send failure leaves open whether the node
// accepted the transaction.
func isAmbiguous(err error) bool {
	for _, terminal := range []error{
		common.ErrInvalidReceiver,
		common.ErrInsufficientAllowance,
		common.ErrInsufficientBalance,
		common.ErrNonceTooLow,
		common.ErrReplacementUnderpriced,
	} {
		if errors.Is(err, terminal) {
			return false
		}
	}
	return true
}

func (s *TransferService) discardBroadcast(ctx context.Context, id, owner string) {
	bg := context.WithoutCancel(ctx)
	if err := s.repos.Transfers(s.store.Conn()).DiscardBroadcast(bg, id, owner, s.now()); err != nil {
		s.logger.Warn(ctx, "could not discard rejected transfer", "reservation_id", id, "error", err)
	}
}

func (s *TransferService) releaseLease(ctx context.Context, id, owner string) {
	bg := context.WithoutCancel(ctx)
	if err := s.repos.Transfers(s.store.Conn()).ReleaseLease(bg, id, owner, s.now()); err != nil {
		s.logger.Warn(ctx, "could not release transfer lease", "reservation_id", id, "error", err)
	}
}
