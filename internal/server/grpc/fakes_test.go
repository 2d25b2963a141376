package grpc

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/slkzgm/beezie-backend/internal/logging"
	"github.com/slkzgm/beezie-backend/internal/server/auth"
	"github.com/slkzgm/beezie-backend/internal/server/keys"
	"github.com/slkzgm/beezie-backend/internal/server/models"
	"github.com/slkzgm/beezie-backend/internal/server/services"
	"github.com/stretchr/testify/require"
)

type fakeUsers struct {
	regResp   *services.Registration
	regErr    error
	saltResp  []byte
	saltErr   error
	loginResp *auth.TokenPair
	loginErr  error
}

func (f *fakeUsers) Register(context.Context, string, []byte, []byte) (*services.Registration, error) {
	return f.regResp, f.regErr
}

func (f *fakeUsers) GetSalt(context.Context, string) ([]byte, error) { return f.saltResp, f.saltErr }

func (f *fakeUsers) Login(context.Context, string, []byte) (*auth.TokenPair, error) {
	return f.loginResp, f.loginErr
}

type fakeSessions struct {
	mu          sync.Mutex
	refreshResp *auth.TokenPair
	refreshErr  error
	logoutErr   error
	loggedOut   []string
}

func (f *fakeSessions) RefreshSession(context.Context, string) (*auth.TokenPair, error) {
	return f.refreshResp, f.refreshErr
}

func (f *fakeSessions) Logout(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = append(f.loggedOut, userID)
	return f.logoutErr
}

type fakeTransfers struct {
	mu     sync.Mutex
	resp   *services.TransferResult
	err    error
	userID string
	input  services.TransferInput
}

func (f *fakeTransfers) Transfer(_ context.Context, userID string, in services.TransferInput) (*services.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userID, f.input = userID, in
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &services.TransferResult{Status: models.TransferCompleted, TransactionHash: "0xabc"}, nil
}

func newTestTokens(t *testing.T) *auth.TokenManager {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	reg, err := keys.NewRegistry(keys.SigningKey{KeyID: "k1", Private: priv}, nil)
	require.NoError(t, err)
	m, err := auth.NewTokenManager(reg, auth.Options{
		Issuer:     "wallet-api",
		Audience:   "wallet-clients",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	})
	require.NoError(t, err)
	return m
}

type testServer struct {
	*GRPCServer
	users     *fakeUsers
	sessions  *fakeSessions
	transfers *fakeTransfers
	tokens    *auth.TokenManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		users:     &fakeUsers{},
		sessions:  &fakeSessions{},
		transfers: &fakeTransfers{},
		tokens:    newTestTokens(t),
	}
	ts.GRPCServer = NewGRPCServer("127.0.0.1:0", logging.Nop(), ts.users, ts.sessions, ts.transfers, ts.tokens)
	return ts
}

func (ts *testServer) accessToken(t *testing.T, userID string) string {
	t.Helper()
	pair, err := ts.tokens.IssueTokens(userID)
	require.NoError(t, err)
	return pair.AccessToken
}

func (ts *testServer) issuePair(t *testing.T, userID string) *auth.TokenPair {
	t.Helper()
	pair, err := ts.tokens.IssueTokens(userID)
	require.NoError(t, err)
	return pair
}
