package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/slkzgm/beezie-backend/internal/common"
	"github.com/slkzgm/beezie-backend/internal/server/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jsonRPCError struct {
	code int
	msg  string
	data any
}

func (e *jsonRPCError) Error() string  { return e.msg }
func (e *jsonRPCError) ErrorCode() int { return e.code }
func (e *jsonRPCError) ErrorData() any { return e.data }

func revertData(sel []byte) string {
	return hexutil.Encode(append(append([]byte{}, sel...), make([]byte, 32)...))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "exhausted transport",
			err:  fmt.Errorf("estimate gas: %w", &transport.Error{StatusCode: 503, Attempts: 4, Retryable: true, Exhausted: true}),
			want: common.ErrTransportRetryable,
		},
		{
			name: "rpc http 429",
			err:  rpc.HTTPError{StatusCode: 429, Status: "429 Too Many Requests"},
			want: common.ErrTransportRetryable,
		},
		{
			name: "rpc http 400 falls through",
			err:  rpc.HTTPError{StatusCode: 400, Status: "400 Bad Request"},
			want: common.ErrorInternal,
		},
		{
			name: "deadline",
			err:  fmt.Errorf("call: %w", context.DeadlineExceeded),
			want: common.ErrTransportRetryable,
		},
		{
			name: "revert invalid receiver",
			err:  &jsonRPCError{code: 3, msg: "execution reverted", data: revertData(selInvalidReceiver)},
			want: common.ErrInvalidReceiver,
		},
		{
			name: "revert insufficient allowance",
			err:  &jsonRPCError{code: 3, msg: "execution reverted", data: revertData(selInsufficientAllow)},
			want: common.ErrInsufficientAllowance,
		},
		{
			name: "revert insufficient balance",
			err:  &jsonRPCError{code: 3, msg: "execution reverted", data: revertData(selInsufficientBalance)},
			want: common.ErrInsufficientBalance,
		},
		{
			name: "provider limit code",
			err:  &jsonRPCError{code: -32005, msg: "request limit reached"},
			want: common.ErrTransportRetryable,
		},
		{
			name: "nonce too low message",
			err:  &jsonRPCError{code: -32000, msg: "nonce too low: next nonce 5, tx nonce 4"},
			want: common.ErrNonceTooLow,
		},
		{
			name: "replacement underpriced message",
			err:  errors.New("replacement transaction underpriced"),
			want: common.ErrReplacementUnderpriced,
		},
		{
			name: "legacy revert string",
			err:  errors.New("execution reverted: ERC20InvalidReceiver(0x0000000000000000000000000000000000000000)"),
			want: common.ErrInvalidReceiver,
		},
		{
			name: "allowance message",
			err:  errors.New("caller is not the spender"),
			want: common.ErrInsufficientAllowance,
		},
		{
			name: "network message",
			err:  errors.New("Post \"https://rpc\": network error"),
			want: common.ErrTransportRetryable,
		},
		{
			name: "unknown",
			err:  errors.New("something odd happened"),
			want: common.ErrorInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			require.ErrorIs(t, got, tt.want)
			assert.Contains(t, got.Error(), tt.err.Error())
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	assert.NoError(t, Classify(nil))
}

func TestClassify_KeepsExistingKind(t *testing.T) {
	err := fmt.Errorf("check: %w", common.ErrInsufficientBalance)
	assert.Same(t, err, Classify(err))
}

func TestClassify_TypedBeatsMessage(t *testing.T) {
	// a rate-limit code wins even when the message mentions a revert reason
	err := &jsonRPCError{code: -32005, msg: "nonce too low"}
	assert.ErrorIs(t, Classify(err), common.ErrTransportRetryable)
}
