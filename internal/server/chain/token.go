package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/slkzgm/beezie-backend/internal/logging"
)

const erc20ABI = `[
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var parsedERC20 = mustParseABI(erc20ABI)

func mustParseABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return a
}

// Token talks to one ERC-20 contract. Decimals and the chain id are fetched
// once and kept for the lifetime of the Token.
type Token struct {
	backend  Backend
	contract Address
	logger   logging.Logger

	mu       sync.Mutex
	decimals *uint8
	chainID  *big.Int
}

func NewToken(backend Backend, contract string, logger logging.Logger) (*Token, error) {
	if backend == nil {
		return nil, errors.New("chain backend is nil")
	}
	addr, err := ParseAddress(contract)
	if err != nil {
		return nil, fmt.Errorf("token contract address %q must be a 20-byte hex string", contract)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Token{
		backend:  backend,
		contract: addr,
		logger:   logger.With("module", "chain", "contract", addr.Hex()),
	}, nil
}

func (t *Token) Contract() Address { return t.contract }

func (t *Token) Decimals(ctx context.Context) (uint8, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.decimals != nil {
		return *t.decimals, nil
	}

	t.logger.Debug(ctx, "fetching token decimals")
	out, err := t.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected type %T", out[0])
	}
	t.decimals = &d
	return d, nil
}

func (t *Token) BalanceOf(ctx context.Context, owner Address) (*big.Int, error) {
	out, err := t.call(ctx, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	b, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf: unexpected type %T", out[0])
	}
	return b, nil
}

// SignedTransfer is a signed transfer(to, amount) call that has not been
// sent yet. Raw is the canonical encoding accepted by Send.
type SignedTransfer struct {
	Hash string
	Raw  []byte
}

// SignTransfer builds and signs transfer(to, amount) from the signer's
// account. It talks to the node (nonce, gas) but sends nothing, so any
// error it returns leaves no transaction behind.
func (t *Token) SignTransfer(ctx context.Context, signer *Signer, to Address, amount *big.Int) (*SignedTransfer, error) {
	data, err := parsedERC20.Pack("transfer", to, amount)
	if err != nil {
		return nil, fmt.Errorf("pack transfer: %w", err)
	}

	from := signer.Address()
	nonce, err := t.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	gas, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &t.contract, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	chainID, err := t.chainIDOnce(ctx)
	if err != nil {
		return nil, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &t.contract,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := signer.SignTx(tx, chainID)
	if err != nil {
		return nil, fmt.Errorf("sign transfer: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode transfer: %w", err)
	}
	return &SignedTransfer{Hash: signed.Hash().Hex(), Raw: raw}, nil
}

// Send broadcasts a transaction produced by SignTransfer. Sending the same
// bytes again is safe: the node answering "already known" counts as success.
func (t *Token) Send(ctx context.Context, raw []byte) error {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return fmt.Errorf("decode transaction: %w", err)
	}
	if err := t.backend.SendTransaction(ctx, tx); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already known") {
			t.logger.Warn(ctx, "transaction already in pool", "tx_hash", tx.Hash().Hex())
			return nil
		}
		return fmt.Errorf("send transaction: %w", err)
	}
	return nil
}

// Mined reports whether the node has a receipt for hash.
func (t *Token) Mined(ctx context.Context, hash string) (bool, error) {
	_, err := t.backend.TransactionReceipt(ctx, gethcommon.HexToHash(hash))
	if errors.Is(err, ethereum.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("transaction receipt: %w", err)
	}
	return true, nil
}

func (t *Token) chainIDOnce(ctx context.Context) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.chainID != nil {
		return t.chainID, nil
	}
	id, err := t.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	t.chainID = id
	return id, nil
}

func (t *Token) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := parsedERC20.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	res, err := t.backend.CallContract(ctx, ethereum.CallMsg{To: &t.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := parsedERC20.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out, nil
}
