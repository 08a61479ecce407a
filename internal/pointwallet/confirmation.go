package pointwallet

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// DialogPresenter shows a pending transfer to the human approver. The
// approver answers later through the confirm/reject commands.
type DialogPresenter interface {
	Send(ctx context.Context, requestID string, meta ConfirmationMeta, amount decimal.Decimal) error
}

type confirmationRequest struct {
	RequestID string           `json:"request_id"`
	Meta      ConfirmationMeta `json:"meta"`
	Amount    string           `json:"amount"`
}

type confirmationResolved struct {
	RequestID string       `json:"request_id"`
	State     RequestState `json:"state"`
	TxHash    string       `json:"transaction_hash,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// HubPresenter publishes confirmation requests on the event hub, where the
// dialog window listens over the websocket.
type HubPresenter struct {
	hub *Hub
}

func NewHubPresenter(hub *Hub) *HubPresenter {
	return &HubPresenter{hub: hub}
}

func (p *HubPresenter) Send(_ context.Context, requestID string, meta ConfirmationMeta, amount decimal.Decimal) error {
	if p.hub.Subscribers() == 0 {
		slog.Warn("confirmation requested with no dialog connected", "request_id", requestID)
	}
	p.hub.Publish(Event{Type: EventConfirmationRequest, Data: confirmationRequest{
		RequestID: requestID,
		Meta:      meta,
		Amount:    amount.String(),
	}})
	return nil
}

// ConfirmationGate moves requests into ConfirmationPending by presenting
// them, and tells the dialog when a request is settled.
type ConfirmationGate struct {
	presenter DialogPresenter
	notifier  Notifier
}

func NewConfirmationGate(presenter DialogPresenter, notifier Notifier) *ConfirmationGate {
	if notifier == nil {
		notifier = NotifierFunc(func(Event) {})
	}
	return &ConfirmationGate{presenter: presenter, notifier: notifier}
}

func (g *ConfirmationGate) Present(ctx context.Context, req *PendingRequest) error {
	// Pending before the dialog can answer.
	req.advance(RequestRequested, RequestConfirmationPending)
	if err := g.presenter.Send(ctx, req.ID, req.Meta, req.Amount); err != nil {
		return fmt.Errorf("%w: %v", ErrConfirmationFailed, err)
	}
	slog.Info("confirmation requested", "request_id", req.ID, "amount", req.Amount.String())
	return nil
}

func (g *ConfirmationGate) Resolved(req *PendingRequest, o Outcome) {
	ev := confirmationResolved{RequestID: req.ID, State: o.State, TxHash: o.TxHash}
	if o.Err != nil {
		ev.Error = o.Err.Error()
	}
	g.notifier.Publish(Event{Type: EventConfirmationResolved, Data: ev})
}
