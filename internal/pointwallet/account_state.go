package pointwallet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	walletinterfaces "github.com/kaigoh/pointwallet/wallet_interfaces"
	"github.com/shopspring/decimal"
	"github.com/zyedidia/generic/mapset"
	"golang.org/x/sync/singleflight"
)

type TransactionKind string

const (
	TransactionSent     TransactionKind = "sent"
	TransactionReceived TransactionKind = "received"
)

// TransactionRecord is an entry in the append-only transaction log.
type TransactionRecord struct {
	Hash         string          `json:"hash"`
	Kind         TransactionKind `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	Counterparty string          `json:"counterparty,omitempty"`
	RequestID    string          `json:"request_id,omitempty"`
	At           time.Time       `json:"at"`
}

// future is resolved exactly once and releases every waiter.
type future struct {
	done chan struct{}
	once sync.Once
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

func (f *future) resolve() {
	f.once.Do(func() { close(f.done) })
}

func (f *future) wait(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AccountState caches what the backend reports about the wallet. It never
// derives values itself: balance is replaced by remote reads and only ever
// incremented by observed incoming transfers.
type AccountState struct {
	backend  walletinterfaces.Backend
	notifier Notifier

	mu       sync.RWMutex
	token    string
	address  string
	hash     string
	balance  decimal.Decimal
	txHashes []string
	history  []TransactionRecord
	seen     mapset.Set[string]
	loaded   *future

	loads singleflight.Group
}

func NewAccountState(backend walletinterfaces.Backend, notifier Notifier) *AccountState {
	if notifier == nil {
		notifier = NotifierFunc(func(Event) {})
	}
	return &AccountState{
		backend:  backend,
		notifier: notifier,
		seen:     mapset.New[string](),
	}
}

// SetToken makes the account usable once credentials are known.
func (s *AccountState) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *AccountState) tokenOrErr() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", ErrNotReady
	}
	return s.token, nil
}

func (s *AccountState) addressFuture() *future {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded == nil {
		s.loaded = newFuture()
	}
	return s.loaded
}

// LoadAddress fetches the public address. Any failure means "not yet
// available": waiters stay blocked until a later load succeeds.
func (s *AccountState) LoadAddress(ctx context.Context) error {
	token, err := s.tokenOrErr()
	if err != nil {
		return err
	}
	_, err, _ = s.loads.Do("address", func() (any, error) {
		addr, err := s.backend.FetchAddress(ctx, token)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		if s.address == "" {
			s.address = addr
		}
		addr = s.address
		s.mu.Unlock()

		s.addressFuture().resolve()
		slog.Info("wallet address loaded", "address", addr)
		s.notifier.Publish(Event{Type: EventAddressLoaded, Data: addr})
		return addr, nil
	})
	if err != nil {
		slog.Warn("wallet address not yet available", "error", err)
	}
	return err
}

// EnsureAddressLoaded returns the cached address, loading it if needed and
// otherwise waiting for the one pending load to complete.
func (s *AccountState) EnsureAddressLoaded(ctx context.Context) (string, error) {
	if addr := s.Address(); addr != "" {
		return addr, nil
	}
	f := s.addressFuture()
	if _, err := s.tokenOrErr(); err == nil {
		_ = s.LoadAddress(ctx)
	}
	if err := f.wait(ctx); err != nil {
		return "", fmt.Errorf("%w: address not loaded: %v", ErrNotReady, err)
	}
	return s.Address(), nil
}

// RefreshBalance replaces the cached balance with the backend's.
func (s *AccountState) RefreshBalance(ctx context.Context) error {
	if _, err := s.EnsureAddressLoaded(ctx); err != nil {
		return err
	}
	token, err := s.tokenOrErr()
	if err != nil {
		return err
	}
	raw, err := s.backend.FetchBalance(ctx, token)
	if err != nil {
		return err
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return &walletinterfaces.BackendError{Op: "balance", Payload: raw, Err: err}
	}

	s.mu.Lock()
	s.balance = balance
	s.mu.Unlock()

	slog.Debug("wallet balance refreshed", "balance", balance.String())
	s.notifier.Publish(Event{Type: EventFundsUpdated, Data: balance.String()})
	return nil
}

// RefreshAccountHash is a no-op until the address is known. Concurrent
// calls share one remote fetch.
func (s *AccountState) RefreshAccountHash(ctx context.Context) error {
	if s.Address() == "" {
		return nil
	}
	token, err := s.tokenOrErr()
	if err != nil {
		return err
	}
	_, err, _ = s.loads.Do("hash", func() (any, error) {
		hash, err := s.backend.FetchAccountHash(ctx, token)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.hash = hash
		s.mu.Unlock()
		slog.Debug("wallet account hash loaded", "hash", hash)
		return hash, nil
	})
	return err
}

// CreditIncomingFunds applies an observed incoming transfer. Repeated
// notifications for the same hash are ignored and report false.
func (s *AccountState) CreditIncomingFunds(rec TransactionRecord) bool {
	rec.Kind = TransactionReceived
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}

	s.mu.Lock()
	if rec.Hash != "" && s.seen.Has(rec.Hash) {
		s.mu.Unlock()
		return false
	}
	if rec.Hash != "" {
		s.seen.Put(rec.Hash)
	}
	s.balance = s.balance.Add(rec.Amount)
	s.history = append(s.history, rec)
	balance := s.balance
	s.mu.Unlock()

	s.notifier.Publish(Event{Type: EventFundsReceived, Data: rec})
	s.notifier.Publish(Event{Type: EventFundsUpdated, Data: balance.String()})
	return true
}

// RecordSent appends a submitted transfer to the log.
func (s *AccountState) RecordSent(rec TransactionRecord) {
	rec.Kind = TransactionSent
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	s.mu.Lock()
	s.txHashes = append(s.txHashes, rec.Hash)
	s.history = append(s.history, rec)
	s.seen.Put(rec.Hash)
	s.mu.Unlock()

	s.notifier.Publish(Event{Type: EventTxHashAdded, Data: rec.Hash})
}

// Restore seeds the log from persisted history without notifying.
func (s *AccountState) Restore(records []TransactionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if rec.Hash != "" {
			if s.seen.Has(rec.Hash) {
				continue
			}
			s.seen.Put(rec.Hash)
		}
		if rec.Kind == TransactionSent {
			s.txHashes = append(s.txHashes, rec.Hash)
		}
		s.history = append(s.history, rec)
	}
}

func (s *AccountState) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.address
}

func (s *AccountState) AccountHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hash
}

func (s *AccountState) Balance() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance
}

func (s *AccountState) TxHashes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.txHashes...)
}

func (s *AccountState) History() []TransactionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]TransactionRecord{}, s.history...)
}
