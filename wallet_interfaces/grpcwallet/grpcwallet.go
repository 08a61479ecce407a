// Package grpcwallet speaks the wallet backend protocol over gRPC. Payloads
// are google.protobuf.Struct messages so no generated stubs are required.
package grpcwallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	walletinterfaces "github.com/kaigoh/pointwallet/wallet_interfaces"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "pointwallet.backend.v1.WalletBackend"

const (
	methodGenerate  = "Generate"
	methodPublicKey = "PublicKey"
	methodHash      = "Hash"
	methodBalance   = "Balance"
	methodRequestTx = "RequestTx"
)

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// Client implements walletinterfaces.Backend on top of a gRPC connection.
type Client struct {
	mu   sync.Mutex
	addr string
	opts []grpc.DialOption
	conn *grpc.ClientConn
}

// NewClient dials lazily on first use.
func NewClient(addr string, opts ...grpc.DialOption) *Client {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &Client{addr: addr, opts: opts}
}

// NewClientConn wraps an already established connection.
func NewClientConn(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) connFor() (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := grpc.DialContext(context.Background(), c.addr, c.opts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) GenerateCredentials(ctx context.Context) (walletinterfaces.Credentials, error) {
	out, err := c.call(ctx, methodGenerate, "", nil)
	if err != nil {
		return walletinterfaces.Credentials{}, err
	}
	creds := walletinterfaces.Credentials{
		WalletID: stringField(out, "walletId"),
		Passcode: stringField(out, "passcode"),
	}
	if creds.Empty() {
		return walletinterfaces.Credentials{}, &walletinterfaces.BackendError{Op: methodGenerate, Payload: "empty credentials"}
	}
	return creds, nil
}

func (c *Client) FetchAddress(ctx context.Context, token string) (string, error) {
	return c.fetchString(ctx, methodPublicKey, token, "publicKey")
}

func (c *Client) FetchAccountHash(ctx context.Context, token string) (string, error) {
	return c.fetchString(ctx, methodHash, token, "hash")
}

func (c *Client) FetchBalance(ctx context.Context, token string) (string, error) {
	return c.fetchString(ctx, methodBalance, token, "balance")
}

func (c *Client) SubmitTransfer(ctx context.Context, token, destination, amount string) (string, error) {
	out, err := c.call(ctx, methodRequestTx, token, map[string]any{
		"to":    destination,
		"value": amount,
	})
	if err != nil {
		return "", err
	}
	hash := stringField(out, "transactionHash")
	if hash == "" {
		return "", &walletinterfaces.BackendError{Op: methodRequestTx, Payload: "empty transaction hash"}
	}
	return hash, nil
}

func (c *Client) fetchString(ctx context.Context, method, token, field string) (string, error) {
	out, err := c.call(ctx, method, token, nil)
	if err != nil {
		return "", err
	}
	v := stringField(out, field)
	if v == "" {
		return "", &walletinterfaces.BackendError{Op: method, Payload: fmt.Sprintf("missing %s", field)}
	}
	return v, nil
}

func (c *Client) call(ctx context.Context, method, token string, body map[string]any) (*structpb.Struct, error) {
	conn, err := c.connFor()
	if err != nil {
		return nil, &walletinterfaces.BackendError{Op: method, Err: err}
	}
	in, err := structpb.NewStruct(body)
	if err != nil {
		return nil, &walletinterfaces.BackendError{Op: method, Err: err}
	}
	if token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, walletinterfaces.TokenKey, token)
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, backendErrorFromStatus(method, err)
	}
	return out, nil
}

func backendErrorFromStatus(method string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return &walletinterfaces.BackendError{Op: method, Err: err}
	}
	be := &walletinterfaces.BackendError{Op: method, Status: int(st.Code()), Payload: st.Message(), Err: err}
	if st.Code() == codes.Unauthenticated {
		be.Err = walletinterfaces.ErrUnauthenticated
	}
	return be
}

func stringField(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	return s.GetFields()[key].GetStringValue()
}

// Register serves impl as the wallet backend service on s.
func Register(s *grpc.Server, impl walletinterfaces.Backend) {
	s.RegisterService(&serviceDesc, impl)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*walletinterfaces.Backend)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodGenerate, Handler: unary(methodGenerate, handleGenerate)},
		{MethodName: methodPublicKey, Handler: unary(methodPublicKey, stringHandler("publicKey", walletinterfaces.Backend.FetchAddress))},
		{MethodName: methodHash, Handler: unary(methodHash, stringHandler("hash", walletinterfaces.Backend.FetchAccountHash))},
		{MethodName: methodBalance, Handler: unary(methodBalance, stringHandler("balance", walletinterfaces.Backend.FetchBalance))},
		{MethodName: methodRequestTx, Handler: unary(methodRequestTx, handleRequestTx)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pointwallet/backend/v1/backend.proto",
}

type backendFunc func(ctx context.Context, impl walletinterfaces.Backend, token string, in *structpb.Struct) (map[string]any, error)

func unary(method string, fn backendFunc) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			impl := srv.(walletinterfaces.Backend)
			out, err := fn(ctx, impl, tokenFromIncoming(ctx), req.(*structpb.Struct))
			if err != nil {
				return nil, statusFromError(err)
			}
			return structpb.NewStruct(out)
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		return interceptor(ctx, in, info, handler)
	}
}

func handleGenerate(ctx context.Context, impl walletinterfaces.Backend, _ string, _ *structpb.Struct) (map[string]any, error) {
	creds, err := impl.GenerateCredentials(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"walletId": creds.WalletID, "passcode": creds.Passcode}, nil
}

func stringHandler(field string, fn func(walletinterfaces.Backend, context.Context, string) (string, error)) backendFunc {
	return func(ctx context.Context, impl walletinterfaces.Backend, token string, _ *structpb.Struct) (map[string]any, error) {
		v, err := fn(impl, ctx, token)
		if err != nil {
			return nil, err
		}
		return map[string]any{field: v}, nil
	}
}

func handleRequestTx(ctx context.Context, impl walletinterfaces.Backend, token string, in *structpb.Struct) (map[string]any, error) {
	hash, err := impl.SubmitTransfer(ctx, token, stringField(in, "to"), stringField(in, "value"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"transactionHash": hash}, nil
}

func tokenFromIncoming(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(walletinterfaces.TokenKey); len(v) > 0 {
		return v[0]
	}
	return ""
}

func statusFromError(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, walletinterfaces.ErrUnauthenticated) {
		return status.Error(codes.Unauthenticated, err.Error())
	}
	var be *walletinterfaces.BackendError
	if errors.As(err, &be) && be.Status > 0 && be.Status <= int(codes.Unauthenticated) {
		return status.Error(codes.Code(be.Status), be.Error())
	}
	return status.Error(codes.FailedPrecondition, err.Error())
}
