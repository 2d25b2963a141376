package grpc

import (
	"context"
	"errors"

	"github.com/slkzgm/beezie-backend/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errorCodes = []struct {
	err  error
	code codes.Code
}{
	{common.ErrInvalidToken, codes.Unauthenticated},
	{common.ErrRefreshReused, codes.Unauthenticated},
	{common.ErrRefreshTokenExpired, codes.Unauthenticated},
	{common.ErrorUnauthorized, codes.Unauthenticated},
	{common.ErrIdempotencyConflict, codes.AlreadyExists},
	{common.ErrorAlreadyExists, codes.AlreadyExists},
	{common.ErrInvalidReceiver, codes.InvalidArgument},
	{common.ErrInvalidAmount, codes.InvalidArgument},
	{common.ErrInsufficientBalance, codes.FailedPrecondition},
	{common.ErrInsufficientAllowance, codes.FailedPrecondition},
	{common.ErrNonceTooLow, codes.FailedPrecondition},
	{common.ErrReplacementUnderpriced, codes.FailedPrecondition},
	{common.ErrWalletNotFound, codes.NotFound},
	{common.ErrorNotFound, codes.NotFound},
	{common.ErrTransportRetryable, codes.Unavailable},
}

// toStatus maps a service error onto a gRPC status. Only the sentinel's
// text reaches the client; anything unrecognized becomes Internal.
func toStatus(err error) error {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return status.Error(e.code, e.err.Error())
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}
	return status.Error(codes.Internal, "internal error")
}
