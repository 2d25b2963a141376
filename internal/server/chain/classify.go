package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/slkzgm/beezie-backend/internal/common"
	"github.com/slkzgm/beezie-backend/internal/server/transport"
)

// JSON-RPC codes providers use for throttling.
const (
	rpcCodeLimitExceeded = -32005
	rpcCodeRateLimited   = 429
)

// Custom-error selectors from the OpenZeppelin ERC-20 implementation.
var (
	selInvalidReceiver     = selector("ERC20InvalidReceiver(address)")
	selInsufficientAllow   = selector("ERC20InsufficientAllowance(address,uint256,uint256)")
	selInsufficientBalance = selector("ERC20InsufficientBalance(address,uint256,uint256)")
)

func selector(sig string) []byte { return crypto.Keccak256([]byte(sig))[:4] }

// Classify maps a failure from the node onto a service error kind. Typed
// errors are checked first: transport failures, HTTP errors from the RPC
// client, JSON-RPC error codes and revert data. Message matching runs last
// and only for messages the typed checks could not place. The result wraps
// both the kind and the original error.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if kind := classifyTyped(err); kind != nil {
		return wrapKind(kind, err)
	}
	return wrapKind(classifyMessage(err.Error()), err)
}

func wrapKind(kind, err error) error {
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

func classifyTyped(err error) error {
	for _, k := range []error{
		common.ErrInvalidReceiver,
		common.ErrInsufficientAllowance,
		common.ErrInsufficientBalance,
		common.ErrNonceTooLow,
		common.ErrReplacementUnderpriced,
		common.ErrInvalidAmount,
		common.ErrTransportRetryable,
	} {
		if errors.Is(err, k) {
			return k
		}
	}

	var terr *transport.Error
	if errors.As(err, &terr) {
		if terr.Retryable || retryableHTTP(terr.StatusCode) {
			return common.ErrTransportRetryable
		}
	}

	var herr rpc.HTTPError
	if errors.As(err, &herr) && retryableHTTP(herr.StatusCode) {
		return common.ErrTransportRetryable
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return common.ErrTransportRetryable
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return common.ErrTransportRetryable
	}

	var derr rpc.DataError
	if errors.As(err, &derr) {
		if kind := classifyRevert(derr.ErrorData()); kind != nil {
			return kind
		}
	}

	var rerr rpc.Error
	if errors.As(err, &rerr) {
		switch rerr.ErrorCode() {
		case rpcCodeLimitExceeded, rpcCodeRateLimited:
			return common.ErrTransportRetryable
		}
	}
	return nil
}

func retryableHTTP(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func classifyRevert(data any) error {
	s, ok := data.(string)
	if !ok {
		return nil
	}
	raw, err := hexutil.Decode(s)
	if err != nil || len(raw) < 4 {
		return nil
	}
	switch {
	case bytes.Equal(raw[:4], selInvalidReceiver):
		return common.ErrInvalidReceiver
	case bytes.Equal(raw[:4], selInsufficientAllow):
		return common.ErrInsufficientAllowance
	case bytes.Equal(raw[:4], selInsufficientBalance):
		return common.ErrInsufficientBalance
	}
	return nil
}

// messageRules is advisory: node and provider wording is not a stable
// contract, so these rules only catch what the typed checks missed.
var messageRules = []struct {
	needles []string
	kind    error
}{
	{[]string{"erc20invalidreceiver", "invalid receiver", "transfer to the zero address"}, common.ErrInvalidReceiver},
	{[]string{"insufficientallowance", "insufficient allowance", "caller is not the spender"}, common.ErrInsufficientAllowance},
	{[]string{"erc20insufficientbalance", "transfer amount exceeds balance"}, common.ErrInsufficientBalance},
	{[]string{"nonce too low"}, common.ErrNonceTooLow},
	{[]string{"replacement transaction underpriced", "replacement fee too low"}, common.ErrReplacementUnderpriced},
	{[]string{"rate limit", "too many requests", "timeout", "timed out", "network error",
		"connection refused", "connection reset", "bad gateway", "service unavailable", "gateway timeout"}, common.ErrTransportRetryable},
}

func classifyMessage(msg string) error {
	lower := strings.ToLower(msg)
	for _, r := range messageRules {
		for _, n := range r.needles {
			if strings.Contains(lower, n) {
				return r.kind
			}
		}
	}
	return common.ErrorInternal
}
