package pointwallet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	walletinterfaces "github.com/kaigoh/pointwallet/wallet_interfaces"
	"github.com/shopspring/decimal"
)

// refreshTimeout bounds the balance refresh that follows a submission.
const refreshTimeout = 30 * time.Second

type CoordinatorDeps struct {
	Backend  walletinterfaces.Backend
	Settings SettingsStore
	// History is optional; without it the log lives in memory only.
	History     HistoryStore
	Dialog      DialogPresenter
	Notifier    Notifier
	Destination string
}

// Snapshot is the cached view returned by wallet-get-data.
type Snapshot struct {
	Funds     string   `json:"funds"`
	Address   string   `json:"address"`
	TxHashArr []string `json:"txHashArr"`
}

// Coordinator is the single owner of the account cache and transfer queue.
type Coordinator struct {
	backend     walletinterfaces.Backend
	settings    SettingsStore
	history     HistoryStore
	notifier    Notifier
	destination string

	state *AccountState
	queue *TransferQueue
	gate  *ConfirmationGate

	bootMu sync.Mutex
	ready  bool
}

func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NotifierFunc(func(Event) {})
	}
	return &Coordinator{
		backend:     deps.Backend,
		settings:    deps.Settings,
		history:     deps.History,
		notifier:    notifier,
		destination: deps.Destination,
		state:       NewAccountState(deps.Backend, notifier),
		queue:       NewTransferQueue(),
		gate:        NewConfirmationGate(deps.Dialog, notifier),
	}
}

// Bootstrap loads credentials, generating and persisting them first when
// absent, then loads the address, account hash and balance. Address and
// balance failures are logged, not returned: the backend may simply not
// have them yet.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	c.bootMu.Lock()
	defer c.bootMu.Unlock()
	if c.ready {
		return nil
	}

	settings, err := c.settings.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	creds := settings.Wallet
	if creds.Empty() {
		creds, err = c.backend.GenerateCredentials(ctx)
		if err != nil {
			return fmt.Errorf("generate wallet credentials: %w", err)
		}
		if err := c.settings.UpdateSettings(ctx, SettingsPatch{Wallet: &creds}); err != nil {
			return fmt.Errorf("persist wallet credentials: %w", err)
		}
		slog.Info("new wallet generated", "wallet_id", creds.WalletID)
	} else {
		slog.Info("wallet loaded", "wallet_id", creds.WalletID)
	}

	if c.history != nil {
		records, err := c.history.ListTransactions(ctx)
		if err != nil {
			return fmt.Errorf("load transaction history: %w", err)
		}
		c.state.Restore(records)
	}

	c.state.SetToken(creds.Token())
	c.ready = true

	_ = c.LoadAccount(ctx)
	return nil
}

// LoadAccount loads the address and, once it is known, the account hash and
// balance. Only the address failure is returned.
func (c *Coordinator) LoadAccount(ctx context.Context) error {
	if err := c.state.LoadAddress(ctx); err != nil {
		return err
	}
	if err := c.state.RefreshAccountHash(ctx); err != nil {
		slog.Warn("account hash load failed", "error", err)
	}
	if err := c.state.RefreshBalance(ctx); err != nil {
		slog.Warn("balance load failed", "error", err)
	}
	return nil
}

func (c *Coordinator) Ready() bool {
	c.bootMu.Lock()
	defer c.bootMu.Unlock()
	return c.ready
}

func (c *Coordinator) GetFunds() string {
	return c.state.Balance().String()
}

func (c *Coordinator) GetAddress() string {
	return c.state.Address()
}

func (c *Coordinator) GetSnapshot() Snapshot {
	return Snapshot{
		Funds:     c.GetFunds(),
		Address:   c.GetAddress(),
		TxHashArr: c.state.TxHashes(),
	}
}

func (c *Coordinator) History() []TransactionRecord {
	return c.state.History()
}

// GetConfirmationHash waits for the address, then answers from cache or
// with a single fetch.
func (c *Coordinator) GetConfirmationHash(ctx context.Context) (string, error) {
	if _, err := c.state.EnsureAddressLoaded(ctx); err != nil {
		return "", err
	}
	if hash := c.state.AccountHash(); hash != "" {
		return hash, nil
	}
	if err := c.state.RefreshAccountHash(ctx); err != nil {
		return "", err
	}
	return c.state.AccountHash(), nil
}

// RequestSend validates amount against the cached balance, queues it and
// asks the approver. Nothing reaches the backend here.
func (c *Coordinator) RequestSend(ctx context.Context, meta ConfirmationMeta, amount decimal.Decimal) (*PendingRequest, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if balance := c.state.Balance(); amount.GreaterThan(balance) {
		slog.Info("send rejected", "amount", amount.String(), "balance", balance.String())
		return nil, ErrInsufficientFunds
	}

	req := c.queue.Enqueue(amount, meta)
	if err := c.gate.Present(ctx, req); err != nil {
		c.queue.Withdraw(req, err)
		slog.Error("confirmation dialog failed", "request_id", req.ID, "error", err)
		return nil, err
	}
	return req, nil
}

// ConfirmSend submits the head of the queue. An empty queue is a no-op and
// returns (nil, nil). A failed submission is reported and not retried.
func (c *Coordinator) ConfirmSend(ctx context.Context, requestID string) (*TransactionRecord, error) {
	req, err := c.queue.Begin(requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		slog.Debug("confirm on empty queue ignored")
		return nil, nil
	}
	token, err := c.state.tokenOrErr()
	if err != nil {
		o := Outcome{State: RequestFailed, Err: err}
		c.queue.Finish(req, o)
		c.gate.Resolved(req, o)
		slog.Error("transfer dropped, wallet not ready", "request_id", req.ID)
		return nil, err
	}

	dest := req.Meta.Destination
	if dest == "" {
		dest = c.destination
	}
	slog.Info("submitting transfer", "request_id", req.ID, "amount", req.Amount.String(), "to", dest)

	// A submission in progress is not cancellable.
	submitCtx := context.WithoutCancel(ctx)
	hash, err := c.backend.SubmitTransfer(submitCtx, token, dest, req.Amount.String())
	if err != nil {
		o := Outcome{State: RequestFailed, Err: err}
		c.queue.Finish(req, o)
		c.gate.Resolved(req, o)
		slog.Error("transfer submission failed", "request_id", req.ID, "error", err)
		c.refreshAfterSubmit(submitCtx)
		return nil, fmt.Errorf("submit transfer %s: %w", req.ID, err)
	}

	rec := TransactionRecord{
		Hash:         hash,
		Kind:         TransactionSent,
		Amount:       req.Amount,
		Counterparty: dest,
		RequestID:    req.ID,
		At:           time.Now().UTC(),
	}
	c.state.RecordSent(rec)
	if c.history != nil {
		if err := c.history.AppendTransaction(submitCtx, rec); err != nil {
			slog.Error("persist transaction failed", "hash", hash, "error", err)
		}
	}
	o := Outcome{State: RequestCompleted, TxHash: hash}
	c.queue.Finish(req, o)
	c.gate.Resolved(req, o)
	slog.Info("transfer submitted", "request_id", req.ID, "hash", hash)

	c.refreshAfterSubmit(submitCtx)
	return &rec, nil
}

func (c *Coordinator) refreshAfterSubmit(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	if err := c.state.RefreshBalance(ctx); err != nil {
		slog.Warn("balance refresh after submit failed", "error", err)
	}
}

// RejectSend drops the head of the queue. An empty queue is a no-op.
func (c *Coordinator) RejectSend(_ context.Context, requestID string) (*PendingRequest, error) {
	req, err := c.queue.RejectHead(requestID)
	if err != nil || req == nil {
		return nil, err
	}
	c.gate.Resolved(req, Outcome{State: RequestRejected})
	slog.Info("transfer rejected", "request_id", req.ID, "amount", req.Amount.String())
	return req, nil
}

// CreditIncomingFunds applies an externally observed incoming transfer.
func (c *Coordinator) CreditIncomingFunds(ctx context.Context, rec TransactionRecord) (bool, error) {
	if !rec.Amount.IsPositive() {
		return false, ErrInvalidAmount
	}
	if !c.state.CreditIncomingFunds(rec) {
		slog.Debug("duplicate incoming funds notification ignored", "hash", rec.Hash)
		return false, nil
	}
	slog.Info("funds received", "hash", rec.Hash, "amount", rec.Amount.String())
	if c.history != nil {
		rec.Kind = TransactionReceived
		if rec.At.IsZero() {
			rec.At = time.Now().UTC()
		}
		if err := c.history.AppendTransaction(ctx, rec); err != nil {
			return true, fmt.Errorf("persist incoming transfer: %w", err)
		}
	}
	return true, nil
}

func (c *Coordinator) QueueLen() int {
	return c.queue.Len()
}

func (c *Coordinator) Pending() []*PendingRequest {
	return c.queue.Pending()
}

func (c *Coordinator) Submitting() bool {
	return c.queue.Submitting()
}
