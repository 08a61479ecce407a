package pointwallet

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RequestState string

const (
	RequestRequested           RequestState = "requested"
	RequestConfirmationPending RequestState = "confirmation_pending"
	RequestSubmitting          RequestState = "submitting"
	RequestCompleted           RequestState = "completed"
	RequestRejected            RequestState = "rejected"
	RequestFailed              RequestState = "failed"
)

func (s RequestState) terminal() bool {
	return s == RequestCompleted || s == RequestRejected || s == RequestFailed
}

// ConfirmationMeta is what the host passes along for the approver to see.
type ConfirmationMeta struct {
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Origin      string         `json:"origin,omitempty"`
	WindowID    int            `json:"windowId,omitempty"`
	Destination string         `json:"destination,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Outcome is the terminal result of a request.
type Outcome struct {
	State  RequestState `json:"state"`
	TxHash string       `json:"transaction_hash,omitempty"`
	Err    error        `json:"-"`
}

// PendingRequest lives in the TransferQueue until confirmed or rejected.
type PendingRequest struct {
	ID          string           `json:"id"`
	Amount      decimal.Decimal  `json:"amount"`
	RequestedAt uint64           `json:"requested_at"`
	CreatedAt   time.Time        `json:"created_at"`
	Meta        ConfirmationMeta `json:"meta"`

	mu      sync.Mutex
	state   RequestState
	outcome Outcome
	done    chan struct{}
}

func (r *PendingRequest) State() RequestState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *PendingRequest) setState(s RequestState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *PendingRequest) advance(from, to RequestState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != from {
		return false
	}
	r.state = to
	return true
}

func (r *PendingRequest) finish(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.terminal() {
		return
	}
	r.state = o.State
	r.outcome = o
	close(r.done)
}

// Wait blocks until the request reaches a terminal state. There is no
// deadline on the approver; callers bound the wait with ctx.
func (r *PendingRequest) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// TransferQueue is a strict FIFO of requests awaiting confirmation. At most
// one request is in submission; the head is removed before the remote call
// so a repeated confirm can never submit it twice.
type TransferQueue struct {
	mu         sync.Mutex
	pending    []*PendingRequest
	submitting *PendingRequest
	seq        uint64
}

func NewTransferQueue() *TransferQueue {
	return &TransferQueue{}
}

func (q *TransferQueue) Enqueue(amount decimal.Decimal, meta ConfirmationMeta) *PendingRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	req := &PendingRequest{
		ID:          uuid.NewString(),
		Amount:      amount,
		RequestedAt: q.seq,
		CreatedAt:   time.Now().UTC(),
		Meta:        meta,
		state:       RequestRequested,
		done:        make(chan struct{}),
	}
	q.pending = append(q.pending, req)
	return req
}

// Begin takes the head for submission. It returns (nil, nil) on an empty
// queue, ErrSubmissionInFlight while another submission is outstanding and
// ErrStaleConfirmation when id is set and does not name the head.
func (q *TransferQueue) Begin(id string) (*PendingRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.submitting != nil {
		return nil, ErrSubmissionInFlight
	}
	if len(q.pending) == 0 {
		return nil, nil
	}
	head := q.pending[0]
	if id != "" && head.ID != id {
		return nil, ErrStaleConfirmation
	}
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.submitting = head
	head.setState(RequestSubmitting)
	return head, nil
}

// Finish closes out the in-flight submission.
func (q *TransferQueue) Finish(req *PendingRequest, o Outcome) {
	q.mu.Lock()
	if q.submitting == req {
		q.submitting = nil
	}
	q.mu.Unlock()
	req.finish(o)
}

// RejectHead drops the head without submitting it.
func (q *TransferQueue) RejectHead(id string) (*PendingRequest, error) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return nil, nil
	}
	head := q.pending[0]
	if id != "" && head.ID != id {
		q.mu.Unlock()
		return nil, ErrStaleConfirmation
	}
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.mu.Unlock()

	head.finish(Outcome{State: RequestRejected})
	return head, nil
}

// Withdraw removes a request that never reached the approver.
func (q *TransferQueue) Withdraw(req *PendingRequest, err error) bool {
	q.mu.Lock()
	removed := false
	for i, r := range q.pending {
		if r == req {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			removed = true
			break
		}
	}
	q.mu.Unlock()
	if removed {
		req.finish(Outcome{State: RequestFailed, Err: err})
	}
	return removed
}

func (q *TransferQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending returns the queued requests in FIFO order.
func (q *TransferQueue) Pending() []*PendingRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*PendingRequest{}, q.pending...)
}

func (q *TransferQueue) Submitting() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submitting != nil
}
