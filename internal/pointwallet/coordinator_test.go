package pointwallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	walletinterfaces "github.com/kaigoh/pointwallet/wallet_interfaces"
	"github.com/shopspring/decimal"
)

type fakeBackend struct {
	mu sync.Mutex

	balance string
	address string
	hash    string

	generateCalls int
	addressCalls  int
	hashCalls     int
	balanceCalls  int
	submits       []string

	addressErr error
	submitFn   func(ctx context.Context, destination, amount string) (string, error)
}

func newFakeBackend(balance string) *fakeBackend {
	return &fakeBackend{balance: balance, address: "0xaddr", hash: "0xhash"}
}

func (b *fakeBackend) GenerateCredentials(context.Context) (walletinterfaces.Credentials, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generateCalls++
	return walletinterfaces.Credentials{WalletID: "w1", Passcode: "secret"}, nil
}

func (b *fakeBackend) FetchAddress(context.Context, string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addressCalls++
	if b.addressErr != nil {
		return "", b.addressErr
	}
	return b.address, nil
}

func (b *fakeBackend) FetchAccountHash(context.Context, string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hashCalls++
	return b.hash, nil
}

func (b *fakeBackend) FetchBalance(context.Context, string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balanceCalls++
	return b.balance, nil
}

func (b *fakeBackend) SubmitTransfer(ctx context.Context, token, destination, amount string) (string, error) {
	b.mu.Lock()
	fn := b.submitFn
	b.submits = append(b.submits, amount)
	b.mu.Unlock()
	if fn != nil {
		return fn(ctx, destination, amount)
	}
	return "0xabc", nil
}

func (b *fakeBackend) counts() (generate, address, hash, balance, submits int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generateCalls, b.addressCalls, b.hashCalls, b.balanceCalls, len(b.submits)
}

type memorySettings struct {
	mu       sync.Mutex
	settings Settings
	updates  int
}

func (s *memorySettings) GetSettings(context.Context) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

func (s *memorySettings) UpdateSettings(_ context.Context, patch SettingsPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	if patch.Wallet != nil {
		s.settings.Wallet = *patch.Wallet
	}
	return nil
}

type recordingDialog struct {
	mu   sync.Mutex
	ids  []string
	fail error
}

func (d *recordingDialog) Send(_ context.Context, requestID string, _ ConfirmationMeta, _ decimal.Decimal) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.ids = append(d.ids, requestID)
	return nil
}

func newTestCoordinator(t *testing.T, backend *fakeBackend) (*Coordinator, *memorySettings, *recordingDialog) {
	t.Helper()
	settings := &memorySettings{}
	dialog := &recordingDialog{}
	c := NewCoordinator(CoordinatorDeps{
		Backend:     backend,
		Settings:    settings,
		Dialog:      dialog,
		Destination: "0xdest",
	})
	if err := c.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return c, settings, dialog
}

func TestRequestSendInsufficientFunds(t *testing.T) {
	backend := newFakeBackend("100")
	c, _, _ := newTestCoordinator(t, backend)

	_, err := c.RequestSend(context.Background(), ConfirmationMeta{}, decimal.NewFromInt(150))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if c.QueueLen() != 0 {
		t.Fatalf("expected empty queue, got %d", c.QueueLen())
	}
	if _, _, _, _, submits := backend.counts(); submits != 0 {
		t.Fatalf("expected no submissions, got %d", submits)
	}
}

func TestRequestSendRejectsNonPositiveAmount(t *testing.T) {
	c, _, _ := newTestCoordinator(t, newFakeBackend("100"))

	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-1)} {
		if _, err := c.RequestSend(context.Background(), ConfirmationMeta{}, amount); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %s: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestConfirmSendRecordsHashAndRefreshesBalance(t *testing.T) {
	backend := newFakeBackend("100")
	c, _, dialog := newTestCoordinator(t, backend)
	ctx := context.Background()

	req, err := c.RequestSend(ctx, ConfirmationMeta{Title: "pay"}, decimal.NewFromInt(40))
	if err != nil {
		t.Fatalf("request send: %v", err)
	}
	if c.QueueLen() != 1 {
		t.Fatalf("expected queue length 1, got %d", c.QueueLen())
	}
	if req.State() != RequestConfirmationPending {
		t.Fatalf("expected confirmation pending, got %s", req.State())
	}
	if len(dialog.ids) != 1 || dialog.ids[0] != req.ID {
		t.Fatalf("expected dialog to see %s, got %v", req.ID, dialog.ids)
	}

	_, _, _, balanceBefore, _ := backend.counts()
	backend.mu.Lock()
	backend.balance = "60"
	backend.mu.Unlock()

	rec, err := c.ConfirmSend(ctx, "")
	if err != nil {
		t.Fatalf("confirm send: %v", err)
	}
	if rec == nil || rec.Hash != "0xabc" {
		t.Fatalf("expected record with hash 0xabc, got %+v", rec)
	}
	if rec.Counterparty != "0xdest" {
		t.Fatalf("expected configured destination, got %q", rec.Counterparty)
	}

	snap := c.GetSnapshot()
	if len(snap.TxHashArr) != 1 || snap.TxHashArr[0] != "0xabc" {
		t.Fatalf("expected tx log [0xabc], got %v", snap.TxHashArr)
	}
	if c.QueueLen() != 0 {
		t.Fatalf("expected empty queue, got %d", c.QueueLen())
	}
	if _, _, _, balanceAfter, _ := backend.counts(); balanceAfter != balanceBefore+1 {
		t.Fatalf("expected one balance refresh, got %d", balanceAfter-balanceBefore)
	}
	if snap.Funds != "60" {
		t.Fatalf("expected refreshed funds 60, got %s", snap.Funds)
	}

	outcome, err := req.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if outcome.State != RequestCompleted || outcome.TxHash != "0xabc" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestRejectThenConfirmIsNoop(t *testing.T) {
	backend := newFakeBackend("100")
	c, _, _ := newTestCoordinator(t, backend)
	ctx := context.Background()

	req, err := c.RequestSend(ctx, ConfirmationMeta{}, decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("request send: %v", err)
	}
	rejected, err := c.RejectSend(ctx, "")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected != req || req.State() != RequestRejected {
		t.Fatalf("expected request to be rejected, got %v", req.State())
	}
	if c.QueueLen() != 0 {
		t.Fatalf("expected empty queue, got %d", c.QueueLen())
	}

	rec, err := c.ConfirmSend(ctx, "")
	if err != nil || rec != nil {
		t.Fatalf("expected no-op confirm, got %+v, %v", rec, err)
	}
	if _, _, _, _, submits := backend.counts(); submits != 0 {
		t.Fatalf("expected no submissions, got %d", submits)
	}
}

func TestRejectOnEmptyQueueIsNoop(t *testing.T) {
	c, _, _ := newTestCoordinator(t, newFakeBackend("100"))

	req, err := c.RejectSend(context.Background(), "")
	if err != nil || req != nil {
		t.Fatalf("expected no-op reject, got %+v, %v", req, err)
	}
}

func TestConfirmOnEmptyQueueBeforeBootstrapIsNoop(t *testing.T) {
	backend := newFakeBackend("100")
	c := NewCoordinator(CoordinatorDeps{Backend: backend, Settings: &memorySettings{}, Dialog: &recordingDialog{}})

	rec, err := c.ConfirmSend(context.Background(), "")
	if err != nil || rec != nil {
		t.Fatalf("expected no-op confirm, got %+v, %v", rec, err)
	}
	if _, _, _, _, submits := backend.counts(); submits != 0 {
		t.Fatalf("expected no submissions, got %d", submits)
	}
}

func TestBootstrapGeneratesCredentialsOnce(t *testing.T) {
	backend := newFakeBackend("5")
	c, settings, _ := newTestCoordinator(t, backend)

	if generate, _, _, _, _ := backend.counts(); generate != 1 {
		t.Fatalf("expected one generate call, got %d", generate)
	}
	if settings.updates != 1 {
		t.Fatalf("expected one settings update, got %d", settings.updates)
	}
	if c.GetAddress() != "0xaddr" || c.GetFunds() != "5" {
		t.Fatalf("unexpected bootstrap state %+v", c.GetSnapshot())
	}

	// A second instance over the same settings reuses the stored credentials.
	again := NewCoordinator(CoordinatorDeps{Backend: backend, Settings: settings, Dialog: &recordingDialog{}})
	if err := again.Bootstrap(context.Background()); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if generate, _, _, _, _ := backend.counts(); generate != 1 {
		t.Fatalf("expected generation to be skipped, got %d calls", generate)
	}
	if settings.updates != 1 {
		t.Fatalf("expected no further settings updates, got %d", settings.updates)
	}
}

func TestConfirmationHashFetchedOnce(t *testing.T) {
	backend := newFakeBackend("1")
	backend.hash = ""
	c, _, _ := newTestCoordinator(t, backend)
	backend.mu.Lock()
	backend.hash = "0xfeed"
	backend.mu.Unlock()
	_, _, before, _, _ := backend.counts()

	ctx := context.Background()
	first, err := c.GetConfirmationHash(ctx)
	if err != nil {
		t.Fatalf("first hash: %v", err)
	}
	second, err := c.GetConfirmationHash(ctx)
	if err != nil {
		t.Fatalf("second hash: %v", err)
	}
	if first != "0xfeed" || second != first {
		t.Fatalf("unexpected hashes %q, %q", first, second)
	}
	if _, _, after, _, _ := backend.counts(); after != before+1 {
		t.Fatalf("expected a single fetch, got %d", after-before)
	}
}

func TestConfirmationHashWaitsForAddress(t *testing.T) {
	backend := newFakeBackend("1")
	backend.addressErr = errors.New("wallet syncing")
	c, _, _ := newTestCoordinator(t, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.GetConfirmationHash(ctx); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestQueueActsInRequestOrder(t *testing.T) {
	backend := newFakeBackend("100")
	c, _, _ := newTestCoordinator(t, backend)
	ctx := context.Background()

	var reqs []*PendingRequest
	for _, n := range []int64{1, 2, 3} {
		req, err := c.RequestSend(ctx, ConfirmationMeta{}, decimal.NewFromInt(n))
		if err != nil {
			t.Fatalf("request %d: %v", n, err)
		}
		reqs = append(reqs, req)
	}

	if _, err := c.ConfirmSend(ctx, ""); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := c.RejectSend(ctx, ""); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := c.ConfirmSend(ctx, ""); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	want := []RequestState{RequestCompleted, RequestRejected, RequestCompleted}
	for i, req := range reqs {
		if req.State() != want[i] {
			t.Fatalf("request %d: expected %s, got %s", i, want[i], req.State())
		}
	}
	backend.mu.Lock()
	submits := append([]string{}, backend.submits...)
	backend.mu.Unlock()
	if len(submits) != 2 || submits[0] != "1" || submits[1] != "3" {
		t.Fatalf("expected submissions [1 3], got %v", submits)
	}
}

func TestConcurrentConfirmSubmitsOnce(t *testing.T) {
	backend := newFakeBackend("100")
	release := make(chan struct{})
	backend.submitFn = func(context.Context, string, string) (string, error) {
		<-release
		return "0xabc", nil
	}
	c, _, _ := newTestCoordinator(t, backend)
	ctx := context.Background()

	if _, err := c.RequestSend(ctx, ConfirmationMeta{}, decimal.NewFromInt(10)); err != nil {
		t.Fatalf("request send: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.ConfirmSend(ctx, "")
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for !c.Submitting() {
		if time.Now().After(deadline) {
			t.Fatalf("submission never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := c.ConfirmSend(ctx, ""); !errors.Is(err, ErrSubmissionInFlight) {
		t.Fatalf("expected ErrSubmissionInFlight, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if _, _, _, _, submits := backend.counts(); submits != 1 {
		t.Fatalf("expected one submission, got %d", submits)
	}
	if got := c.GetSnapshot().TxHashArr; len(got) != 1 {
		t.Fatalf("expected one tx hash, got %v", got)
	}
}

func TestConfirmSendSurfacesBackendError(t *testing.T) {
	backend := newFakeBackend("100")
	backend.submitFn = func(context.Context, string, string) (string, error) {
		return "", &walletinterfaces.BackendError{Op: "tx", Status: 500, Payload: `{"status":500}`}
	}
	c, _, _ := newTestCoordinator(t, backend)
	ctx := context.Background()

	req, err := c.RequestSend(ctx, ConfirmationMeta{}, decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("request send: %v", err)
	}
	_, err = c.ConfirmSend(ctx, "")
	var be *walletinterfaces.BackendError
	if !errors.As(err, &be) || be.Payload != `{"status":500}` {
		t.Fatalf("expected backend error with payload, got %v", err)
	}
	if req.State() != RequestFailed {
		t.Fatalf("expected failed request, got %s", req.State())
	}
	if c.QueueLen() != 0 || len(c.GetSnapshot().TxHashArr) != 0 {
		t.Fatalf("expected no re-enqueue and no tx hash")
	}
	if c.GetFunds() != "100" {
		t.Fatalf("expected funds unchanged locally, got %s", c.GetFunds())
	}
}

func TestStaleConfirmationLeavesQueueAlone(t *testing.T) {
	c, _, _ := newTestCoordinator(t, newFakeBackend("100"))
	ctx := context.Background()

	if _, err := c.RequestSend(ctx, ConfirmationMeta{}, decimal.NewFromInt(1)); err != nil {
		t.Fatalf("request send: %v", err)
	}
	if _, err := c.ConfirmSend(ctx, "not-the-head"); !errors.Is(err, ErrStaleConfirmation) {
		t.Fatalf("expected ErrStaleConfirmation, got %v", err)
	}
	if _, err := c.RejectSend(ctx, "not-the-head"); !errors.Is(err, ErrStaleConfirmation) {
		t.Fatalf("expected ErrStaleConfirmation, got %v", err)
	}
	if c.QueueLen() != 1 {
		t.Fatalf("expected queue untouched, got %d", c.QueueLen())
	}
}

func TestDialogFailureWithdrawsRequest(t *testing.T) {
	backend := newFakeBackend("100")
	settings := &memorySettings{}
	c := NewCoordinator(CoordinatorDeps{
		Backend:  backend,
		Settings: settings,
		Dialog:   &recordingDialog{fail: errors.New("window closed")},
	})
	if err := c.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	_, err := c.RequestSend(context.Background(), ConfirmationMeta{}, decimal.NewFromInt(1))
	if !errors.Is(err, ErrConfirmationFailed) {
		t.Fatalf("expected ErrConfirmationFailed, got %v", err)
	}
	if c.QueueLen() != 0 {
		t.Fatalf("expected withdrawn request, got queue %d", c.QueueLen())
	}
}

func TestCreditIncomingFundsIgnoresDuplicates(t *testing.T) {
	store := newTestStore(t)
	backend := newFakeBackend("10")
	c := NewCoordinator(CoordinatorDeps{
		Backend:  backend,
		Settings: store,
		History:  store,
		Dialog:   &recordingDialog{},
	})
	ctx := context.Background()
	if err := c.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	rec := TransactionRecord{Hash: "0xin", Amount: decimal.RequireFromString("2.5"), Counterparty: "0xfrom"}
	applied, err := c.CreditIncomingFunds(ctx, rec)
	if err != nil || !applied {
		t.Fatalf("expected credit, got %v, %v", applied, err)
	}
	applied, err = c.CreditIncomingFunds(ctx, rec)
	if err != nil || applied {
		t.Fatalf("expected duplicate to be ignored, got %v, %v", applied, err)
	}
	if c.GetFunds() != "12.5" {
		t.Fatalf("expected funds 12.5, got %s", c.GetFunds())
	}

	history, err := store.ListTransactions(ctx)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 1 || history[0].Kind != TransactionReceived {
		t.Fatalf("expected one received record, got %+v", history)
	}
}
