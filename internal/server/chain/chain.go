// Package chain is the on-chain side of transfers: an ERC-20 client bound to
// one token contract, transaction signing from a decrypted private key and
// the mapping of node failures onto the service error kinds.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Backend is the part of ethclient.Client the token client calls.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash gethcommon.Hash) (*types.Receipt, error)
}

// Dial connects to a JSON-RPC endpoint using hc for every request, so the
// caller decides timeouts and retries through hc's transport.
func Dial(ctx context.Context, url string, hc *http.Client) (*ethclient.Client, error) {
	rc, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(hc))
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", url, err)
	}
	return ethclient.NewClient(rc), nil
}
