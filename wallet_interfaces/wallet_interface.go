package walletinterfaces

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// TokenKey is the header / metadata key that carries the wallet token.
const TokenKey = "wallet-token"

// ErrUnauthenticated is returned by backends when a token is missing or unknown.
var ErrUnauthenticated = errors.New("wallet token rejected")

// Credentials identify a wallet at the remote backend.
type Credentials struct {
	WalletID string `json:"walletId" yaml:"wallet_id"`
	Passcode string `json:"passcode" yaml:"passcode"`
}

func (c Credentials) Empty() bool {
	return c.WalletID == "" || c.Passcode == ""
}

// Token derives the authentication token attached to every remote call.
func (c Credentials) Token() string {
	return c.WalletID + "-" + c.Passcode
}

// ParseToken splits a token back into credentials. Wallet ids never contain
// a dash; passcodes may.
func ParseToken(token string) (Credentials, bool) {
	id, pass, ok := strings.Cut(token, "-")
	if !ok || id == "" || pass == "" {
		return Credentials{}, false
	}
	return Credentials{WalletID: id, Passcode: pass}, true
}

// Backend is the remote wallet service: key custody, signing and submission
// live behind it. Every call is a single request/response, no retries.
type Backend interface {
	GenerateCredentials(ctx context.Context) (Credentials, error)
	FetchAddress(ctx context.Context, token string) (string, error)
	FetchAccountHash(ctx context.Context, token string) (string, error)
	FetchBalance(ctx context.Context, token string) (string, error)
	SubmitTransfer(ctx context.Context, token, destination, amount string) (string, error)
}

// BackendError reports a non-success response or a transport failure.
// Status is transport specific: an HTTP status for REST backends, a gRPC
// code for gRPC backends, zero when the request never completed.
type BackendError struct {
	Op      string
	Status  int
	Payload string
	Err     error
}

func (e *BackendError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "wallet backend %s failed", e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Payload != "" {
		b.WriteString(": ")
		b.WriteString(e.Payload)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsBackendError reports whether err came from a remote wallet call.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}
