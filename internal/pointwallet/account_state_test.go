package pointwallet

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestEnsureAddressLoadedReleasesAllWaiters(t *testing.T) {
	backend := newFakeBackend("1")
	state := NewAccountState(backend, nil)

	// No token yet: waiters block until a load succeeds.
	const waiters = 5
	var wg sync.WaitGroup
	results := make(chan string, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			addr, err := state.EnsureAddressLoaded(ctx)
			if err != nil {
				results <- "error: " + err.Error()
				return
			}
			results <- addr
		}()
	}

	time.Sleep(20 * time.Millisecond)
	state.SetToken("w1-secret")
	if err := state.LoadAddress(context.Background()); err != nil {
		t.Fatalf("load address: %v", err)
	}
	wg.Wait()
	close(results)

	for addr := range results {
		if addr != "0xaddr" {
			t.Fatalf("expected 0xaddr, got %s", addr)
		}
	}
}

func TestRefreshAccountHashNoopWithoutAddress(t *testing.T) {
	backend := newFakeBackend("1")
	state := NewAccountState(backend, nil)
	state.SetToken("w1-secret")

	if err := state.RefreshAccountHash(context.Background()); err != nil {
		t.Fatalf("refresh hash: %v", err)
	}
	if _, _, hashCalls, _, _ := backend.counts(); hashCalls != 0 {
		t.Fatalf("expected no hash fetch before address, got %d", hashCalls)
	}
}

func TestRefreshBalancePublishesUpdate(t *testing.T) {
	backend := newFakeBackend("42.50")
	var mu sync.Mutex
	var events []Event
	state := NewAccountState(backend, NotifierFunc(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}))
	state.SetToken("w1-secret")

	if err := state.RefreshBalance(context.Background()); err != nil {
		t.Fatalf("refresh balance: %v", err)
	}
	if got := state.Balance().String(); got != "42.5" {
		t.Fatalf("expected canonical balance 42.5, got %s", got)
	}

	mu.Lock()
	defer mu.Unlock()
	var sawAddress, sawFunds bool
	for _, e := range events {
		switch e.Type {
		case EventAddressLoaded:
			sawAddress = true
		case EventFundsUpdated:
			sawFunds = e.Data == "42.5"
		}
	}
	if !sawAddress || !sawFunds {
		t.Fatalf("expected address and funds events, got %+v", events)
	}
}

func TestRestoreSeedsHistoryWithoutDuplicates(t *testing.T) {
	state := NewAccountState(newFakeBackend("0"), nil)
	state.Restore([]TransactionRecord{
		{Hash: "0x1", Kind: TransactionSent},
		{Hash: "0x2", Kind: TransactionReceived},
		{Hash: "0x1", Kind: TransactionSent},
	})

	if got := state.TxHashes(); len(got) != 1 || got[0] != "0x1" {
		t.Fatalf("expected sent hashes [0x1], got %v", got)
	}
	if got := state.History(); len(got) != 2 {
		t.Fatalf("expected 2 history records, got %d", len(got))
	}
	// A replayed incoming notification is already known.
	if state.CreditIncomingFunds(TransactionRecord{Hash: "0x2"}) {
		t.Fatalf("expected restored hash to be treated as seen")
	}
}

func TestHubDeliversToSubscribers(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe()
	defer sub.Close()

	hub.Publish(Event{Type: EventTxHashAdded, Data: "0xabc"})
	select {
	case e := <-sub.C:
		if e.Type != EventTxHashAdded || e.At.IsZero() {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("event not delivered")
	}

	sub.Close()
	if hub.Subscribers() != 0 {
		t.Fatalf("expected no subscribers after close")
	}
}
