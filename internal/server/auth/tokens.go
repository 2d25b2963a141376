// Package auth mints and verifies EdDSA session tokens.
//
// Every token carries a kid header naming the key that signed it. Tokens are
// signed with the registry's active key and verified against any trusted
// key, which is what makes key rotation seamless.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/slkzgm/beezie-backend/internal/common"
	"github.com/slkzgm/beezie-backend/internal/server/keys"
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// jwtIDBytes is the size of the random refresh-token id (128 bits).
const jwtIDBytes = 16

// Claims is the payload of both token kinds. KeyID is filled from the
// header on verification and is never serialised into the body.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	KeyID     string    `json:"-"`
}

// TokenPair is the result of IssueTokens. RefreshClaims is what the ledger
// stores alongside the hash of RefreshToken.
type TokenPair struct {
	AccessToken   string
	RefreshToken  string
	RefreshClaims *Claims
}

type Options struct {
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Leeway tolerates clock skew on exp/nbf/iat.
	Leeway time.Duration
	// MaxFutureIAT rejects tokens issued too far ahead of now. Zero disables it.
	MaxFutureIAT time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type TokenManager struct {
	keys *keys.Registry
	opts Options
}

func NewTokenManager(reg *keys.Registry, opts Options) (*TokenManager, error) {
	if reg == nil {
		return nil, errors.New("key registry is required")
	}
	if opts.Issuer == "" || opts.Audience == "" {
		return nil, errors.New("issuer and audience are required")
	}
	if opts.AccessTTL <= 0 || opts.RefreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &TokenManager{keys: reg, opts: opts}, nil
}

// IssueTokens mints an access token and a refresh token for userID. The
// refresh token always carries a fresh random jti.
func (m *TokenManager) IssueTokens(userID string) (*TokenPair, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	now := m.opts.Now()

	access := m.newClaims(userID, TokenTypeAccess, now, m.opts.AccessTTL)
	accessToken, err := m.sign(access)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	jti, err := common.MakeRandHexString(jwtIDBytes)
	if err != nil {
		return nil, fmt.Errorf("generate jti: %w", err)
	}
	refresh := m.newClaims(userID, TokenTypeRefresh, now, m.opts.RefreshTTL)
	refresh.ID = jti
	refreshToken, err := m.sign(refresh)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken, RefreshClaims: refresh}, nil
}

// VerifyAccessToken returns the claims of a valid access token, or
// common.ErrInvalidToken whatever the reason for rejection.
func (m *TokenManager) VerifyAccessToken(token string) (*Claims, error) {
	return m.verify(token, TokenTypeAccess)
}

// VerifyRefreshToken is VerifyAccessToken for refresh tokens; it also
// requires jti and exp.
func (m *TokenManager) VerifyRefreshToken(token string) (*Claims, error) {
	c, err := m.verify(token, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	if c.ID == "" || c.ExpiresAt == nil {
		return nil, common.ErrInvalidToken
	}
	return c, nil
}

func (m *TokenManager) newClaims(userID string, typ TokenType, now time.Time, ttl time.Duration) *Claims {
	active := m.keys.Active()
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.opts.Issuer,
			Audience:  jwt.ClaimStrings{m.opts.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType: typ,
		KeyID:     active.KeyID,
	}
}

func (m *TokenManager) sign(c *Claims) (string, error) {
	active := m.keys.Active()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, c)
	token.Header["kid"] = active.KeyID
	return token.SignedString(active.Private)
}

func (m *TokenManager) parser() *jwt.Parser {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(m.opts.Issuer),
		jwt.WithAudience(m.opts.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.opts.Now),
	}
	if m.opts.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.opts.Leeway))
	}
	return jwt.NewParser(options...)
}

func (m *TokenManager) verify(tokenStr string, want TokenType) (*Claims, error) {
	claims := &Claims{}
	token, err := m.parser().ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := m.keys.VerificationKey(kid)
		if !ok {
			return nil, errors.New("unknown kid")
		}
		claims.KeyID = kid
		return key, nil
	})
	if err != nil || !token.Valid {
		return nil, common.ErrInvalidToken
	}
	if claims.TokenType != want || claims.Subject == "" {
		return nil, common.ErrInvalidToken
	}
	if m.opts.MaxFutureIAT > 0 && claims.IssuedAt != nil &&
		claims.IssuedAt.After(m.opts.Now().Add(m.opts.MaxFutureIAT)) {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}
