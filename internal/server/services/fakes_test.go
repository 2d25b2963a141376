package services

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"math/big"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/slkzgm/beezie-backend/internal/common"
	"github.com/slkzgm/beezie-backend/internal/dbx"
	"github.com/slkzgm/beezie-backend/internal/server/auth"
	"github.com/slkzgm/beezie-backend/internal/server/chain"
	"github.com/slkzgm/beezie-backend/internal/server/keys"
	"github.com/slkzgm/beezie-backend/internal/server/models"
	"github.com/slkzgm/beezie-backend/internal/server/repositories/refreshtokens"
	"github.com/slkzgm/beezie-backend/internal/server/repositories/transfers"
	"github.com/slkzgm/beezie-backend/internal/server/repositories/users"
	"github.com/slkzgm/beezie-backend/internal/server/repositories/wallets"
	"github.com/stretchr/testify/require"
)

// --- in-memory storage ---

type memTables struct {
	users     map[string]models.User
	wallets   map[string]models.Wallet
	refresh   map[string]models.RefreshToken
	transfers map[string]models.TransferRequest
}

func (t memTables) clone() memTables {
	return memTables{
		users:     maps.Clone(t.users),
		wallets:   maps.Clone(t.wallets),
		refresh:   maps.Clone(t.refresh),
		transfers: maps.Clone(t.transfers),
	}
}

// memDB is a fake database. Transactions are serialized and rolled back on
// error, mirroring row locks plus atomic commit closely enough for the
// services under test.
type memDB struct {
	txMu sync.Mutex
	mu   sync.Mutex
	t    memTables

	txCount      int
	hideOnce     bool // next FindForUpdate misses, as if a concurrent insert was not yet visible
	failComplete bool
}

func newMemDB() *memDB {
	return &memDB{t: memTables{
		users:     map[string]models.User{},
		wallets:   map[string]models.Wallet{},
		refresh:   map[string]models.RefreshToken{},
		transfers: map[string]models.TransferRequest{},
	}}
}

func (db *memDB) Conn() dbx.DBTX { return nil }

func (db *memDB) WithTx(ctx context.Context, fn dbx.TxFunc) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.Lock()
	db.txCount++
	snap := db.t.clone()
	db.mu.Unlock()

	if err := fn(ctx, nil); err != nil {
		db.mu.Lock()
		db.t = snap
		db.mu.Unlock()
		return err
	}
	return nil
}

type memRepos struct{ db *memDB }

func (m memRepos) RunMigrations(context.Context, *sql.DB) error    { return nil }
func (m memRepos) Users(dbx.DBTX) users.Repository                 { return memUsers{m.db} }
func (m memRepos) Wallets(dbx.DBTX) wallets.Repository             { return memWallets{m.db} }
func (m memRepos) RefreshTokens(dbx.DBTX) refreshtokens.Repository { return memRefresh{m.db} }
func (m memRepos) Transfers(dbx.DBTX) transfers.Repository         { return memTransfers{m.db} }

type memUsers struct{ db *memDB }

func (r memUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.t.users {
		if existing.UserName == u.UserName {
			return nil, common.ErrorAlreadyExists
		}
	}
	u.ID = uuid.NewString()
	u.CreatedAt = time.Now()
	r.db.t.users[u.ID] = *u
	return u, nil
}

func (r memUsers) GetUserByLogin(_ context.Context, login string) (*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.t.users {
		if u.UserName == login {
			return &u, nil
		}
	}
	return nil, common.ErrorNotFound
}

type memWallets struct{ db *memDB }

func (r memWallets) Create(_ context.Context, w *models.Wallet) (*models.Wallet, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.t.wallets[w.UserID]; ok {
		return nil, common.ErrorAlreadyExists
	}
	w.ID = uuid.NewString()
	w.CreatedAt = time.Now()
	r.db.t.wallets[w.UserID] = *w
	return w, nil
}

func (r memWallets) FindByUserID(_ context.Context, userID string) (*models.Wallet, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	w, ok := r.db.t.wallets[userID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &w, nil
}

type memRefresh struct{ db *memDB }

func (r memRefresh) Create(_ context.Context, t *models.RefreshToken) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.t.refresh {
		if existing.TokenHash == t.TokenHash {
			return common.ErrorAlreadyExists
		}
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now()
	r.db.t.refresh[t.ID] = *t
	return nil
}

func (r memRefresh) FindByHashForUpdate(_ context.Context, hash string) (*models.RefreshToken, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, t := range r.db.t.refresh {
		if t.TokenHash == hash {
			return &t, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r memRefresh) RotateActiveForUser(_ context.Context, userID string, at time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for id, t := range r.db.t.refresh {
		if t.UserID == userID && t.RotatedAt == nil {
			t.RotatedAt = &at
			r.db.t.refresh[id] = t
			n++
		}
	}
	return n, nil
}

func (r memRefresh) MarkRotated(_ context.Context, id string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if t, ok := r.db.t.refresh[id]; ok && t.RotatedAt == nil {
		t.RotatedAt = &at
		r.db.t.refresh[id] = t
	}
	return nil
}

func (r memRefresh) MarkReused(_ context.Context, id string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if t, ok := r.db.t.refresh[id]; ok {
		t.ReusedAt = &at
		if t.RotatedAt == nil {
			t.RotatedAt = &at
		}
		r.db.t.refresh[id] = t
	}
	return nil
}

func (r memRefresh) DeleteByUserID(_ context.Context, userID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, t := range r.db.t.refresh {
		if t.UserID == userID {
			delete(r.db.t.refresh, id)
		}
	}
	return nil
}

type memTransfers struct{ db *memDB }

func (r memTransfers) Create(_ context.Context, t *models.TransferRequest) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.t.transfers {
		if existing.UserID == t.UserID && existing.IdempotencyKeyHash == t.IdempotencyKeyHash {
			return common.ErrorAlreadyExists
		}
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	r.db.t.transfers[t.ID] = *t
	return nil
}

func (r memTransfers) FindForUpdate(_ context.Context, userID, keyHash string) (*models.TransferRequest, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.hideOnce {
		r.db.hideOnce = false
		return nil, common.ErrorNotFound
	}
	for _, t := range r.db.t.transfers {
		if t.UserID == userID && t.IdempotencyKeyHash == keyHash {
			return &t, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r memTransfers) TakeOver(_ context.Context, id, oldOwner, newOwner string, expiresAt, now time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.t.transfers[id]
	if !ok || t.LeaseOwner != oldOwner || t.Status != models.TransferPending {
		return false, nil
	}
	t.LeaseOwner, t.LeaseExpiresAt, t.UpdatedAt = newOwner, expiresAt, now
	r.db.t.transfers[id] = t
	return true, nil
}

func (r memTransfers) Complete(_ context.Context, id, owner, txHash string, now time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.failComplete {
		return errors.New("db error: connection reset")
	}
	t, ok := r.db.t.transfers[id]
	if !ok || t.LeaseOwner != owner || t.Status != models.TransferPending {
		return common.ErrLeaseLost
	}
	t.Status, t.TransactionHash, t.UpdatedAt = models.TransferCompleted, txHash, now
	r.db.t.transfers[id] = t
	return nil
}

func (r memTransfers) RecordBroadcast(_ context.Context, id, owner, txHash, rawTx string, now time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.t.transfers[id]
	if !ok || t.LeaseOwner != owner || t.Status != models.TransferPending || !t.LeaseExpiresAt.After(now) {
		return false, nil
	}
	t.TransactionHash, t.RawTransaction, t.UpdatedAt = txHash, rawTx, now
	r.db.t.transfers[id] = t
	return true, nil
}

func (r memTransfers) DiscardBroadcast(_ context.Context, id, owner string, now time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.t.transfers[id]
	if ok && t.LeaseOwner == owner && t.Status == models.TransferPending {
		t.TransactionHash, t.RawTransaction = "", ""
		t.LeaseExpiresAt, t.UpdatedAt = now, now
		r.db.t.transfers[id] = t
	}
	return nil
}

func (r memTransfers) ReleaseLease(_ context.Context, id, owner string, now time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.t.transfers[id]
	if ok && t.LeaseOwner == owner && t.Status == models.TransferPending {
		t.LeaseExpiresAt, t.UpdatedAt = now, now
		r.db.t.transfers[id] = t
	}
	return nil
}

func (db *memDB) transfersFor(userID string) []models.TransferRequest {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.TransferRequest
	for _, t := range db.t.transfers {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

func (db *memDB) refreshFor(userID string) []models.RefreshToken {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.RefreshToken
	for _, t := range db.t.refresh {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

func activeCount(recs []models.RefreshToken) int {
	n := 0
	for _, r := range recs {
		if r.Active() {
			n++
		}
	}
	return n
}

// --- collaborators ---

type fakeKeyBox struct{}

const sealedPrefix = "sealed:"

func (fakeKeyBox) EncryptPrivateKey(plain string) (string, error) { return sealedPrefix + plain, nil }

func (fakeKeyBox) DecryptPrivateKey(envelope string) (string, error) {
	plain, ok := strings.CutPrefix(envelope, sealedPrefix)
	if !ok {
		return "", errors.New("unable to decrypt private key")
	}
	return plain, nil
}

// fakeToken is an ERC-20 with 6 decimals. Signed transactions are opaque
// "raw-N" blobs; sending the same blob twice is accepted once, like a node
// answering "already known".
type fakeToken struct {
	mu       sync.Mutex
	balances map[chain.Address]*big.Int
	delay    time.Duration
	// beforeSign runs at the start of every SignTransfer.
	beforeSign func()
	signErr    error
	sendErr    error
	minedErr   error

	signed    int
	hashes    map[string]string // raw -> hash
	sent      []string
	sendCalls int
	mined     map[string]bool
}

func newFakeToken() *fakeToken {
	return &fakeToken{
		balances: map[chain.Address]*big.Int{},
		hashes:   map[string]string{},
		mined:    map[string]bool{},
	}
}

func (f *fakeToken) fund(addr string, units int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[mustAddress(addr)] = big.NewInt(units)
}

func (f *fakeToken) Decimals(context.Context) (uint8, error) { return 6, nil }

func (f *fakeToken) BalanceOf(_ context.Context, owner chain.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balances[owner]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (f *fakeToken) SignTransfer(ctx context.Context, _ *chain.Signer, _ chain.Address, _ *big.Int) (*chain.SignedTransfer, error) {
	f.mu.Lock()
	hook := f.beforeSign
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signErr != nil {
		return nil, f.signErr
	}
	f.signed++
	raw := fmt.Sprintf("raw-%d", f.signed)
	hash := fmt.Sprintf("0x%064x", f.signed)
	f.hashes[raw] = hash
	return &chain.SignedTransfer{Hash: hash, Raw: []byte(raw)}, nil
}

func (f *fakeToken) Send(_ context.Context, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.sendErr != nil {
		return f.sendErr
	}
	hash, ok := f.hashes[string(raw)]
	if !ok {
		return errors.New("unknown transaction")
	}
	if !slices.Contains(f.sent, hash) {
		f.sent = append(f.sent, hash)
	}
	return nil
}

func (f *fakeToken) Mined(_ context.Context, hash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mined[hash], f.minedErr
}

// broadcasts counts distinct transactions the node accepted.
func (f *fakeToken) broadcasts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func mustAddress(s string) chain.Address {
	a, err := chain.ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func newTokenManager(t *testing.T) *auth.TokenManager {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	reg, err := keys.NewRegistry(keys.SigningKey{KeyID: "k1", Private: priv}, nil)
	require.NoError(t, err)
	m, err := auth.NewTokenManager(reg, auth.Options{
		Issuer:     "wallet-api",
		Audience:   "wallet-clients",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	})
	require.NoError(t, err)
	return m
}
