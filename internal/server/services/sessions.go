// Package services contains server-side business logic: session issuance and
// refresh rotation, account registration and login, and idempotent token
// transfers.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slkzgm/beezie-backend/internal/common"
	"github.com/slkzgm/beezie-backend/internal/dbx"
	"github.com/slkzgm/beezie-backend/internal/logging"
	"github.com/slkzgm/beezie-backend/internal/server/auth"
	"github.com/slkzgm/beezie-backend/internal/server/metrics"
	"github.com/slkzgm/beezie-backend/internal/server/models"
	"github.com/slkzgm/beezie-backend/internal/server/repositories/repomanager"
)

// TokenIssuer is the part of auth.TokenManager the session ledger needs.
type TokenIssuer interface {
	IssueTokens(userID string) (*auth.TokenPair, error)
	VerifyRefreshToken(token string) (*auth.Claims, error)
}

// SessionService keeps the refresh-token ledger. Every refresh token maps
// to one record; a record is active until rotated, and presenting a rotated
// token again revokes the user's whole session family.
type SessionService struct {
	store   dbx.Store
	repos   repomanager.RepositoryManager
	tokens  TokenIssuer
	logger  logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewSessionService(store dbx.Store, m repomanager.RepositoryManager, tokens TokenIssuer, logger logging.Logger, mt *metrics.Metrics) *SessionService {
	if logger == nil {
		logger = logging.Nop()
	}
	return &SessionService{
		store:   store,
		repos:   m,
		tokens:  tokens,
		logger:  logger.With("module", "sessions"),
		metrics: mt,
		now:     time.Now,
	}
}

// IssueSession starts a new session for userID, rotating any session that
// is still active.
func (s *SessionService) IssueSession(ctx context.Context, userID string) (*auth.TokenPair, error) {
	var pair *auth.TokenPair
	err := s.store.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		pair, err = s.IssueSessionTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// IssueSessionTx is IssueSession inside the caller's transaction.
func (s *SessionService) IssueSessionTx(ctx context.Context, tx dbx.DBTX, userID string) (*auth.TokenPair, error) {
	if userID == "" {
		return nil, common.ErrorUnauthorized
	}
	repo := s.repos.RefreshTokens(tx)

	now := s.now()
	if _, err := repo.RotateActiveForUser(ctx, userID, now); err != nil {
		return nil, fmt.Errorf("rotate active sessions: %w", err)
	}

	pair, err := s.tokens.IssueTokens(userID)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}

	rec := &models.RefreshToken{
		UserID:    userID,
		TokenHash: common.SHA256Hex(pair.RefreshToken),
		JwtID:     pair.RefreshClaims.ID,
		ExpiresAt: pair.RefreshClaims.ExpiresAt.Time,
	}
	if err := repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return pair, nil
}

// RefreshSession exchanges a refresh token for a new pair.
//
// The lookup and every state change happen in one transaction holding the
// record's row lock. Rejections that revoke state (tampering, reuse, expiry)
// commit that revocation and then return the rejection.
func (s *SessionService) RefreshSession(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		s.metrics.ObserveRefresh(metrics.RefreshInvalid)
		return nil, common.ErrInvalidToken
	}
	tokenHash := common.SHA256Hex(refreshToken)

	var (
		pair    *auth.TokenPair
		verdict error
		outcome string
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.RefreshTokens(tx)
		now := s.now()

		rec, err := repo.FindByHashForUpdate(ctx, tokenHash)
		if errors.Is(err, common.ErrorNotFound) {
			verdict, outcome = common.ErrInvalidToken, metrics.RefreshInvalid
			return nil
		}
		if err != nil {
			return err
		}

		switch {
		case rec.JwtID != claims.ID || rec.UserID != claims.Subject:
			if _, err := repo.RotateActiveForUser(ctx, rec.UserID, now); err != nil {
				return err
			}
			verdict, outcome = common.ErrInvalidToken, metrics.RefreshTampered
			return nil

		case rec.ReusedAt != nil:
			verdict, outcome = common.ErrRefreshReused, metrics.RefreshReused
			return nil

		case rec.RotatedAt != nil:
			if err := repo.MarkReused(ctx, rec.ID, now); err != nil {
				return err
			}
			if _, err := repo.RotateActiveForUser(ctx, rec.UserID, now); err != nil {
				return err
			}
			verdict, outcome = common.ErrRefreshReused, metrics.RefreshReused
			return nil

		case !now.Before(rec.ExpiresAt):
			if err := repo.MarkRotated(ctx, rec.ID, now); err != nil {
				return err
			}
			verdict, outcome = common.ErrRefreshTokenExpired, metrics.RefreshExpired
			return nil
		}

		pair, err = s.IssueSessionTx(ctx, tx, rec.UserID)
		outcome = metrics.RefreshRotated
		return err
	})
	if err != nil {
		s.logger.Error(ctx, "refresh failed", "error", err)
		return nil, fmt.Errorf("refresh session: %w", err)
	}

	s.metrics.ObserveRefresh(outcome)
	if verdict != nil {
		if errors.Is(verdict, common.ErrRefreshReused) || outcome == metrics.RefreshTampered {
			s.logger.Warn(ctx, "refresh token replay, sessions revoked", "user_id", claims.Subject, "outcome", outcome)
		}
		return nil, verdict
	}
	return pair, nil
}

// Logout removes every refresh record of userID.
func (s *SessionService) Logout(ctx context.Context, userID string) error {
	if userID == "" {
		return common.ErrorUnauthorized
	}
	if err := s.repos.RefreshTokens(s.store.Conn()).DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}
