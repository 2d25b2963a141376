package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/slkzgm/beezie-backend/internal/common"
	"github.com/slkzgm/beezie-backend/internal/dbx"
	"github.com/slkzgm/beezie-backend/internal/logging"
	"github.com/slkzgm/beezie-backend/internal/server/auth"
	"github.com/slkzgm/beezie-backend/internal/server/chain"
	"github.com/slkzgm/beezie-backend/internal/server/models"
	"github.com/slkzgm/beezie-backend/internal/server/repositories/repomanager"
)

// KeyBox seals and opens wallet private keys at rest.
type KeyBox interface {
	EncryptPrivateKey(plain string) (string, error)
	DecryptPrivateKey(envelope string) (string, error)
}

// Registration is what a successful Register returns.
type Registration struct {
	User   *models.User
	Wallet *models.Wallet
	Tokens *auth.TokenPair
}

// UserService handles accounts: registration with a custodial wallet, salt
// lookup and verifier-based login.
type UserService struct {
	store     dbx.Store
	repos     repomanager.RepositoryManager
	sessions  *SessionService
	keybox    KeyBox
	newWallet func() (*chain.Wallet, error)
	decoyKey  []byte
	logger    logging.Logger
}

// NewUserService builds the service. decoyKey is a server secret that keys
// the salts handed out for unknown usernames.
func NewUserService(store dbx.Store, m repomanager.RepositoryManager, sessions *SessionService, keybox KeyBox, decoyKey []byte, logger logging.Logger) *UserService {
	if logger == nil {
		logger = logging.Nop()
	}
	return &UserService{
		store:     store,
		repos:     m,
		sessions:  sessions,
		keybox:    keybox,
		newWallet: chain.GenerateWallet,
		decoyKey:  decoyKey,
		logger:    logger.With("module", "users"),
	}
}

// Register creates the user, its wallet and a first session atomically.
// A taken username yields common.ErrorAlreadyExists.
func (s *UserService) Register(ctx context.Context, username string, salt, verifier []byte) (*Registration, error) {
	if username == "" || len(salt) == 0 || len(verifier) == 0 {
		return nil, common.ErrorUnauthorized
	}

	w, err := s.newWallet()
	if err != nil {
		return nil, fmt.Errorf("generate wallet: %w", err)
	}
	sealed, err := s.keybox.EncryptPrivateKey(w.PrivateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("seal wallet key: %w", err)
	}

	out := &Registration{}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		user, err := s.repos.Users(tx).Create(ctx, &models.User{UserName: username, Salt: salt, Verifier: verifier})
		if err != nil {
			return err
		}
		wallet, err := s.repos.Wallets(tx).Create(ctx, &models.Wallet{
			UserID:              user.ID,
			Address:             w.Address,
			EncryptedPrivateKey: sealed,
		})
		if err != nil {
			return err
		}
		pair, err := s.sessions.IssueSessionTx(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		out.User, out.Wallet, out.Tokens = user, wallet, pair
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("register %q: %w", username, err)
	}

	s.logger.Info(ctx, "user registered", "user_id", out.User.ID, "wallet", out.Wallet.Address)
	return out, nil
}

// GetSalt returns the user's stored salt. Unknown users get a decoy that is
// stable per username, so repeated lookups look the same as for a real
// account.
func (s *UserService) GetSalt(ctx context.Context, username string) ([]byte, error) {
	user, err := s.repos.Users(s.store.Conn()).GetUserByLogin(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return s.decoySalt(username), nil
		}
		return nil, common.ErrorInternal
	}
	return user.Salt, nil
}

func (s *UserService) decoySalt(username string) []byte {
	mac := hmac.New(sha256.New, s.decoyKey)
	mac.Write([]byte("decoy-salt:" + username))
	return mac.Sum(nil)
}

// Login checks verifierCandidate against the stored verifier and starts a
// new session.
func (s *UserService) Login(ctx context.Context, username string, verifierCandidate []byte) (*auth.TokenPair, error) {
	user, err := s.repos.Users(s.store.Conn()).GetUserByLogin(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}
	if subtle.ConstantTimeCompare(user.Verifier, verifierCandidate) != 1 {
		return nil, common.ErrorUnauthorized
	}
	return s.sessions.IssueSession(ctx, user.ID)
}
