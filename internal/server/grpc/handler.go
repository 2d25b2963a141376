package grpc

import (
	"context"

	"github.com/slkzgm/beezie-backend/internal/common"
	"github.com/slkzgm/beezie-backend/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (s *GRPCServer) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	s.logger.Info(ctx, "Registration request", "username", req.Username)

	reg, err := s.users.Register(ctx, req.Username, req.Salt, req.Verifier)
	if err != nil {
		s.logger.Error(ctx, "registration failed", "username", req.Username, "error", err)
		return nil, toStatus(err)
	}

	return &RegisterResponse{
		UserID:        reg.User.ID,
		WalletAddress: reg.Wallet.Address,
		AccessToken:   reg.Tokens.AccessToken,
		RefreshToken:  reg.Tokens.RefreshToken,
	}, nil
}

func (s *GRPCServer) GetSalt(ctx context.Context, req *GetSaltRequest) (*GetSaltResponse, error) {
	salt, err := s.users.GetSalt(ctx, req.Username)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetSaltResponse{Salt: salt}, nil
}

func (s *GRPCServer) Login(ctx context.Context, req *LoginRequest) (*TokenResponse, error) {
	tokens, err := s.users.Login(ctx, req.Username, req.VerifierCandidate)
	if err != nil {
		return nil, toStatus(err)
	}
	return &TokenResponse{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}, nil
}

func (s *GRPCServer) Refresh(ctx context.Context, req *RefreshRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, status.Error(codes.Unauthenticated, common.ErrInvalidToken.Error())
	}
	tokens, err := s.sessions.RefreshSession(ctx, req.RefreshToken)
	if err != nil {
		return nil, toStatus(err)
	}
	return &TokenResponse{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}, nil
}

func (s *GRPCServer) Logout(ctx context.Context, _ *LogoutRequest) (*LogoutResponse, error) {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}
	if err := s.sessions.Logout(ctx, userID); err != nil {
		return nil, toStatus(err)
	}
	return &LogoutResponse{}, nil
}

func (s *GRPCServer) Transfer(ctx context.Context, req *TransferRequest) (*TransferResponse, error) {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	res, err := s.transfers.Transfer(ctx, userID, services.TransferInput{
		Amount:             req.Amount,
		DestinationAddress: req.DestinationAddress,
		IdempotencyKey:     firstMetadata(ctx, common.IdempotencyKeyHeaderName),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &TransferResponse{Status: string(res.Status), TransactionHash: res.TransactionHash}, nil
}

func (s *GRPCServer) Ping(context.Context, *PingRequest) (*PingResponse, error) {
	return &PingResponse{Status: "OK"}, nil
}
