package pointwallet

import (
	"errors"
	"fmt"
)

type WalletErrorType string

const (
	WalletErrorNotEnoughFunds      WalletErrorType = "NOT_ENOUGH_FUNDS"
	WalletErrorInvalidAmount       WalletErrorType = "INVALID_AMOUNT"
	WalletErrorNotReady            WalletErrorType = "NOT_READY"
	WalletErrorSubmissionInFlight  WalletErrorType = "SUBMISSION_IN_FLIGHT"
	WalletErrorStaleConfirmation   WalletErrorType = "STALE_CONFIRMATION"
	WalletErrorBackend             WalletErrorType = "BACKEND_ERROR"
	WalletErrorConfirmationPresent WalletErrorType = "CONFIRMATION_UNAVAILABLE"
)

// WalletError is the error shape surfaced to the host application.
type WalletError struct {
	Type    WalletErrorType `json:"type"`
	Message string          `json:"message"`
}

func (e *WalletError) Error() string {
	return e.Message
}

// Is matches on type so wrapped copies with other messages still compare equal.
func (e *WalletError) Is(target error) bool {
	t, ok := target.(*WalletError)
	return ok && t.Type == e.Type
}

func newWalletError(t WalletErrorType, format string, args ...any) *WalletError {
	return &WalletError{Type: t, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrInsufficientFunds  = &WalletError{Type: WalletErrorNotEnoughFunds, Message: "not enough funds"}
	ErrInvalidAmount      = &WalletError{Type: WalletErrorInvalidAmount, Message: "invalid amount"}
	ErrNotReady           = &WalletError{Type: WalletErrorNotReady, Message: "wallet not ready"}
	ErrSubmissionInFlight = &WalletError{Type: WalletErrorSubmissionInFlight, Message: "a transfer is already being submitted"}
	ErrStaleConfirmation  = &WalletError{Type: WalletErrorStaleConfirmation, Message: "confirmation does not match the pending request"}
	ErrConfirmationFailed = &WalletError{Type: WalletErrorConfirmationPresent, Message: "confirmation dialog unavailable"}
)

// ErrUnknownCommand is returned by the command surface for unrecognised names.
var ErrUnknownCommand = errors.New("unknown command")

// walletErrorType maps any error to the type reported to the host.
func walletErrorType(err error) WalletErrorType {
	var we *WalletError
	if errors.As(err, &we) {
		return we.Type
	}
	return WalletErrorBackend
}
