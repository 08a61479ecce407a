package pointwallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

type Command string

const (
	CommandSendFunds           Command = "wallet-send-funds"
	CommandConfirmedSendFunds  Command = "wallet-confirmed-send-funds"
	CommandRejectedSendFunds   Command = "wallet-rejected-send-funds"
	CommandGetFunds            Command = "wallet-get-funds"
	CommandGetAddress          Command = "wallet-get-address"
	CommandGetData             Command = "wallet-get-data"
	CommandGetConfirmationHash Command = "wallet-get-confirmation-hash"
	CommandReceivedFunds       Command = "wallet-received-funds"
)

// ErrInvalidArguments is returned when a command's arguments do not decode.
var ErrInvalidArguments = errors.New("invalid command arguments")

type sendFundsArgs struct {
	Meta   ConfirmationMeta `json:"meta"`
	Amount any              `json:"amount"`
}

type requestIDArgs struct {
	RequestID string `json:"request_id"`
}

type receivedFundsArgs struct {
	Hash   string `json:"hash"`
	Amount any    `json:"amount"`
	From   string `json:"from"`
}

type SendFundsResult struct {
	RequestID string `json:"request_id"`
}

type ConfirmedSendResult struct {
	TransactionHash string `json:"transaction_hash,omitempty"`
}

type ConfirmationHashResult struct {
	Hash string `json:"hash"`
}

type ReceivedFundsResult struct {
	Applied bool `json:"applied"`
}

// CommandSurface maps named commands onto coordinator operations. It is
// transport agnostic: HTTP and websocket both dispatch through it.
type CommandSurface struct {
	coord *Coordinator
}

func NewCommandSurface(coord *Coordinator) *CommandSurface {
	return &CommandSurface{coord: coord}
}

func (s *CommandSurface) Dispatch(ctx context.Context, cmd Command, args json.RawMessage) (any, error) {
	switch cmd {
	case CommandSendFunds:
		var in sendFundsArgs
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		amount, err := parseAmount(in.Amount)
		if err != nil {
			return nil, err
		}
		req, err := s.coord.RequestSend(ctx, in.Meta, amount)
		if err != nil {
			return nil, err
		}
		return SendFundsResult{RequestID: req.ID}, nil

	case CommandConfirmedSendFunds:
		var in requestIDArgs
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		rec, err := s.coord.ConfirmSend(ctx, in.RequestID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return ConfirmedSendResult{}, nil
		}
		return ConfirmedSendResult{TransactionHash: rec.Hash}, nil

	case CommandRejectedSendFunds:
		var in requestIDArgs
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		if _, err := s.coord.RejectSend(ctx, in.RequestID); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case CommandGetFunds:
		return s.coord.GetFunds(), nil

	case CommandGetAddress:
		return s.coord.GetAddress(), nil

	case CommandGetData:
		return s.coord.GetSnapshot(), nil

	case CommandGetConfirmationHash:
		hash, err := s.coord.GetConfirmationHash(ctx)
		if err != nil {
			return nil, err
		}
		return ConfirmationHashResult{Hash: hash}, nil

	case CommandReceivedFunds:
		var in receivedFundsArgs
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		if strings.TrimSpace(in.Hash) == "" {
			return nil, fmt.Errorf("%w: hash is required", ErrInvalidArguments)
		}
		amount, err := parseAmount(in.Amount)
		if err != nil {
			return nil, err
		}
		applied, err := s.coord.CreditIncomingFunds(ctx, TransactionRecord{
			Hash:         strings.TrimSpace(in.Hash),
			Amount:       amount,
			Counterparty: in.From,
		})
		if err != nil {
			return nil, err
		}
		return ReceivedFundsResult{Applied: applied}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
}

// decodeArgs accepts an empty body for commands whose arguments are optional.
func decodeArgs(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

// parseAmount accepts numbers or numeric strings. Hosts send either.
func parseAmount(v any) (decimal.Decimal, error) {
	raw, err := cast.ToStringE(v)
	if err != nil {
		return decimal.Zero, newWalletError(WalletErrorInvalidAmount, "invalid amount: %v", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, newWalletError(WalletErrorInvalidAmount, "amount is required")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, newWalletError(WalletErrorInvalidAmount, "invalid amount %q", raw)
	}
	return amount, nil
}
