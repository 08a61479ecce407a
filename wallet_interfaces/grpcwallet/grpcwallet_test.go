package grpcwallet

import (
	"context"
	"errors"
	"net"
	"testing"

	walletinterfaces "github.com/kaigoh/pointwallet/wallet_interfaces"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

type fakeBackend struct {
	token     string
	lastTo    string
	lastValue string
}

func (f *fakeBackend) GenerateCredentials(context.Context) (walletinterfaces.Credentials, error) {
	return walletinterfaces.Credentials{WalletID: "w1", Passcode: "secret"}, nil
}

func (f *fakeBackend) FetchAddress(_ context.Context, token string) (string, error) {
	if token != f.token {
		return "", walletinterfaces.ErrUnauthenticated
	}
	return "0xaddr", nil
}

func (f *fakeBackend) FetchAccountHash(_ context.Context, token string) (string, error) {
	if token != f.token {
		return "", walletinterfaces.ErrUnauthenticated
	}
	return "0xhash", nil
}

func (f *fakeBackend) FetchBalance(_ context.Context, token string) (string, error) {
	if token != f.token {
		return "", walletinterfaces.ErrUnauthenticated
	}
	return "12.50", nil
}

func (f *fakeBackend) SubmitTransfer(_ context.Context, token, to, value string) (string, error) {
	if token != f.token {
		return "", walletinterfaces.ErrUnauthenticated
	}
	if value == "999" {
		return "", errors.New("insufficient balance")
	}
	f.lastTo, f.lastValue = to, value
	return "0xabc", nil
}

func newTestClient(t *testing.T, impl walletinterfaces.Backend) *Client {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	s := grpc.NewServer()
	Register(s, impl)
	go func() {
		_ = s.Serve(lis)
	}()
	t.Cleanup(s.Stop)

	client := NewClient("bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClientRoundTrip(t *testing.T) {
	backend := &fakeBackend{token: "w1-secret"}
	client := newTestClient(t, backend)
	ctx := context.Background()

	creds, err := client.GenerateCredentials(ctx)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if creds.Token() != backend.token {
		t.Fatalf("expected token %q, got %q", backend.token, creds.Token())
	}

	addr, err := client.FetchAddress(ctx, creds.Token())
	if err != nil || addr != "0xaddr" {
		t.Fatalf("fetch address: %q %v", addr, err)
	}
	hash, err := client.FetchAccountHash(ctx, creds.Token())
	if err != nil || hash != "0xhash" {
		t.Fatalf("fetch hash: %q %v", hash, err)
	}
	balance, err := client.FetchBalance(ctx, creds.Token())
	if err != nil || balance != "12.50" {
		t.Fatalf("fetch balance: %q %v", balance, err)
	}

	tx, err := client.SubmitTransfer(ctx, creds.Token(), "0xdest", "1.5")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if tx != "0xabc" {
		t.Fatalf("expected tx 0xabc, got %q", tx)
	}
	if backend.lastTo != "0xdest" || backend.lastValue != "1.5" {
		t.Fatalf("unexpected transfer args: %q %q", backend.lastTo, backend.lastValue)
	}
}

func TestClientSurfacesBackendErrors(t *testing.T) {
	client := newTestClient(t, &fakeBackend{token: "w1-secret"})
	ctx := context.Background()

	_, err := client.FetchBalance(ctx, "w1-wrong")
	if !errors.Is(err, walletinterfaces.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}

	_, err = client.SubmitTransfer(ctx, "w1-secret", "0xdest", "999")
	var be *walletinterfaces.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected backend error, got %T %v", err, err)
	}
	if be.Payload != "insufficient balance" {
		t.Fatalf("expected payload to carry backend message, got %q", be.Payload)
	}
}
