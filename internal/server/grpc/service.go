package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "wallet.v1.WalletService"

const (
	methodRegister = "/" + serviceName + "/Register"
	methodGetSalt  = "/" + serviceName + "/GetSalt"
	methodLogin    = "/" + serviceName + "/Login"
	methodRefresh  = "/" + serviceName + "/Refresh"
	methodLogout   = "/" + serviceName + "/Logout"
	methodTransfer = "/" + serviceName + "/Transfer"
	methodPing     = "/" + serviceName + "/Ping"
)

type RegisterRequest struct {
	Username string `json:"username"`
	Salt     []byte `json:"salt"`
	Verifier []byte `json:"verifier"`
}

type RegisterResponse struct {
	UserID        string `json:"user_id"`
	WalletAddress string `json:"wallet_address"`
	AccessToken   string `json:"access_token"`
	RefreshToken  string `json:"refresh_token"`
}

type GetSaltRequest struct {
	Username string `json:"username"`
}

type GetSaltResponse struct {
	Salt []byte `json:"salt"`
}

type LoginRequest struct {
	Username          string `json:"username"`
	VerifierCandidate []byte `json:"verifier_candidate"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type LogoutRequest struct{}

type LogoutResponse struct{}

// TransferRequest carries the payload; the idempotency key travels in the
// idempotency-key metadata entry.
type TransferRequest struct {
	Amount             string `json:"amount"`
	DestinationAddress string `json:"destination_address"`
}

type TransferResponse struct {
	Status          string `json:"status"`
	TransactionHash string `json:"transaction_hash,omitempty"`
}

type PingRequest struct{}

type PingResponse struct {
	Status string `json:"status"`
}

// WalletServiceServer is implemented by GRPCServer.
type WalletServiceServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	GetSalt(context.Context, *GetSaltRequest) (*GetSaltResponse, error)
	Login(context.Context, *LoginRequest) (*TokenResponse, error)
	Refresh(context.Context, *RefreshRequest) (*TokenResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	Transfer(context.Context, *TransferRequest) (*TransferResponse, error)
	Ping(context.Context, *PingRequest) (*PingResponse, error)
}

// unary builds a MethodDesc the way protoc-gen-go-grpc would for one
// request/response pair.
func unary[Req, Resp any](name, fullMethod string, call func(WalletServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(WalletServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(WalletServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var WalletServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*WalletServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Register", methodRegister, WalletServiceServer.Register),
		unary("GetSalt", methodGetSalt, WalletServiceServer.GetSalt),
		unary("Login", methodLogin, WalletServiceServer.Login),
		unary("Refresh", methodRefresh, WalletServiceServer.Refresh),
		unary("Logout", methodLogout, WalletServiceServer.Logout),
		unary("Transfer", methodTransfer, WalletServiceServer.Transfer),
		unary("Ping", methodPing, WalletServiceServer.Ping),
	},
	Streams: []grpc.StreamDesc{},
}

// WalletClient calls the wallet service over a connection using the JSON
// codec.
type WalletClient struct {
	cc grpc.ClientConnInterface
}

func NewWalletClient(cc grpc.ClientConnInterface) *WalletClient {
	return &WalletClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *WalletClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c.cc, methodRegister, in, opts)
}

func (c *WalletClient) GetSalt(ctx context.Context, in *GetSaltRequest, opts ...grpc.CallOption) (*GetSaltResponse, error) {
	return invoke[GetSaltResponse](ctx, c.cc, methodGetSalt, in, opts)
}

func (c *WalletClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*TokenResponse, error) {
	return invoke[TokenResponse](ctx, c.cc, methodLogin, in, opts)
}

func (c *WalletClient) Refresh(ctx context.Context, in *RefreshRequest, opts ...grpc.CallOption) (*TokenResponse, error) {
	return invoke[TokenResponse](ctx, c.cc, methodRefresh, in, opts)
}

func (c *WalletClient) Logout(ctx context.Context, in *LogoutRequest, opts ...grpc.CallOption) (*LogoutResponse, error) {
	return invoke[LogoutResponse](ctx, c.cc, methodLogout, in, opts)
}

func (c *WalletClient) Transfer(ctx context.Context, in *TransferRequest, opts ...grpc.CallOption) (*TransferResponse, error) {
	return invoke[TransferResponse](ctx, c.cc, methodTransfer, in, opts)
}

func (c *WalletClient) Ping(ctx context.Context, in *PingRequest, opts ...grpc.CallOption) (*PingResponse, error) {
	return invoke[PingResponse](ctx, c.cc, methodPing, in, opts)
}
