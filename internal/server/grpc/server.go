// Package grpc exposes the session and transfer services over gRPC.
package grpc

import (
	"context"
	"net"

	"github.com/slkzgm/beezie-backend/internal/logging"
	"github.com/slkzgm/beezie-backend/internal/server/auth"
	"github.com/slkzgm/beezie-backend/internal/server/services"
	"google.golang.org/grpc"
)

type Users interface {
	Register(ctx context.Context, username string, salt, verifier []byte) (*services.Registration, error)
	GetSalt(ctx context.Context, username string) ([]byte, error)
	Login(ctx context.Context, username string, verifierCandidate []byte) (*auth.TokenPair, error)
}

type Sessions interface {
	RefreshSession(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
	Logout(ctx context.Context, userID string) error
}

type Transfers interface {
	Transfer(ctx context.Context, userID string, in services.TransferInput) (*services.TransferResult, error)
}

type AccessVerifier interface {
	VerifyAccessToken(token string) (*auth.Claims, error)
}

type GRPCServer struct {
	address   string
	users     Users
	sessions  Sessions
	transfers Transfers
	verifier  AccessVerifier
	logger    logging.Logger
}

func NewGRPCServer(a string, l logging.Logger, us Users, ss Sessions, ts Transfers, v AccessVerifier) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		users:     us,
		sessions:  ss,
		transfers: ts,
		verifier:  v,
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))
	srv.RegisterService(&WalletServiceDesc, s)
	return srv
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}
