package pointwallet

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"
	walletinterfaces "github.com/kaigoh/pointwallet/wallet_interfaces"
	"github.com/kaigoh/pointwallet/wallet_interfaces/grpcwallet"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

const internalBufSize = 1024 * 1024

// internalLedgerGRPC runs the development ledger in-process and talks to it
// through the same gRPC client a remote backend would use.
type internalLedgerGRPC struct {
	client *grpcwallet.Client
	server *grpc.Server
	ledger *devLedger
}

func newInternalLedgerGRPC(initialBalance decimal.Decimal) (*internalLedgerGRPC, error) {
	lis := bufconn.Listen(internalBufSize)
	ledger := newDevLedger(initialBalance)

	s := grpc.NewServer()
	grpcwallet.Register(s, ledger)
	go func() {
		_ = s.Serve(lis)
	}()

	dialer := func(context.Context, string) (net.Conn, error) {
		return lis.Dial()
	}
	conn, err := grpc.DialContext(context.Background(), "bufnet-ledger",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		s.Stop()
		return nil, err
	}
	return &internalLedgerGRPC{client: grpcwallet.NewClientConn(conn), server: s, ledger: ledger}, nil
}

func (i *internalLedgerGRPC) Backend() walletinterfaces.Backend {
	return i.client
}

func (i *internalLedgerGRPC) Close() error {
	err := i.client.Close()
	i.server.Stop()
	return err
}

type ledgerAccount struct {
	passcode string
	address  string
	balance  decimal.Decimal
}

// devLedger is a toy settlement backend: accounts live in memory, every new
// wallet starts with the configured balance, and transfers between two
// ledger addresses move funds.
type devLedger struct {
	mu       sync.Mutex
	initial  decimal.Decimal
	accounts map[string]*ledgerAccount
	byAddr   map[string]string
	nonce    uint64
}

func newDevLedger(initial decimal.Decimal) *devLedger {
	return &devLedger{
		initial:  initial,
		accounts: map[string]*ledgerAccount{},
		byAddr:   map[string]string{},
	}
}

func keccakHex(parts ...string) string {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Wallet ids must not contain "-", the token separator.
func dashlessID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (l *devLedger) GenerateCredentials(context.Context) (walletinterfaces.Credentials, error) {
	creds := walletinterfaces.Credentials{WalletID: dashlessID(), Passcode: dashlessID()}
	// Address in the 20-byte hex form of the keccak digest.
	addr := "0x" + keccakHex("address", creds.WalletID)[24:]

	l.mu.Lock()
	l.accounts[creds.WalletID] = &ledgerAccount{passcode: creds.Passcode, address: addr, balance: l.initial}
	l.byAddr[strings.ToLower(addr)] = creds.WalletID
	l.mu.Unlock()

	slog.Debug("dev ledger wallet created", "wallet_id", creds.WalletID, "address", addr)
	return creds, nil
}

// account must be called with l.mu held.
func (l *devLedger) account(token string) (*ledgerAccount, string, error) {
	creds, ok := walletinterfaces.ParseToken(token)
	if !ok {
		return nil, "", walletinterfaces.ErrUnauthenticated
	}
	acct, ok := l.accounts[creds.WalletID]
	if !ok || acct.passcode != creds.Passcode {
		return nil, "", walletinterfaces.ErrUnauthenticated
	}
	return acct, creds.WalletID, nil
}

func (l *devLedger) FetchAddress(_ context.Context, token string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, _, err := l.account(token)
	if err != nil {
		return "", err
	}
	return acct.address, nil
}

func (l *devLedger) FetchAccountHash(_ context.Context, token string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, id, err := l.account(token)
	if err != nil {
		return "", err
	}
	return "0x" + keccakHex("account", id, acct.address), nil
}

func (l *devLedger) FetchBalance(_ context.Context, token string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, _, err := l.account(token)
	if err != nil {
		return "", err
	}
	return acct.balance.String(), nil
}

func (l *devLedger) SubmitTransfer(_ context.Context, token, destination, amount string) (string, error) {
	value, err := decimal.NewFromString(amount)
	if err != nil || !value.IsPositive() {
		return "", fmt.Errorf("invalid transfer value %q", amount)
	}
	if destination == "" {
		return "", fmt.Errorf("missing transfer destination")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	acct, id, err := l.account(token)
	if err != nil {
		return "", err
	}
	if value.GreaterThan(acct.balance) {
		return "", fmt.Errorf("insufficient ledger balance: have %s, need %s", acct.balance, value)
	}

	acct.balance = acct.balance.Sub(value)
	if toID, ok := l.byAddr[strings.ToLower(destination)]; ok {
		to := l.accounts[toID]
		to.balance = to.balance.Add(value)
	}
	l.nonce++
	hash := "0x" + keccakHex("tx", id, destination, value.String(), fmt.Sprint(l.nonce))
	slog.Debug("dev ledger transfer", "from", acct.address, "to", destination, "value", value.String(), "hash", hash)
	return hash, nil
}
