// Package pointwalletclient is a dependency-free client for the pointwallet
// command surface, meant to be vendored into host applications.
package pointwalletclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Error is a failed command as reported by the server.
type Error struct {
	Status int               `json:"-"`
	Code   string            `json:"code"`
	Msg    string            `json:"msg"`
	Meta   map[string]string `json:"meta"`
}

func (e *Error) Error() string {
	if t := e.Type(); t != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, t, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Type is the wallet error type, e.g. NOT_ENOUGH_FUNDS or BACKEND_ERROR.
func (e *Error) Type() string {
	return e.Meta["type"]
}

type Client struct {
	BaseURL string
	// Token is sent as a bearer token when set. See SignToken.
	Token string
	HTTP  *http.Client
}

func New(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: http.DefaultClient}
}

type SendFundsMeta struct {
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Origin      string         `json:"origin,omitempty"`
	WindowID    int            `json:"windowId,omitempty"`
	Destination string         `json:"destination,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

type Snapshot struct {
	Funds     string   `json:"funds"`
	Address   string   `json:"address"`
	TxHashArr []string `json:"txHashArr"`
}

// SendFunds queues a transfer and returns the request id shown to the approver.
func (c *Client) SendFunds(ctx context.Context, meta SendFundsMeta, amount string) (string, error) {
	var out struct {
		RequestID string `json:"request_id"`
	}
	err := c.Do(ctx, "wallet-send-funds", map[string]any{"meta": meta, "amount": amount}, &out)
	return out.RequestID, err
}

// ConfirmSend submits the head of the queue. requestID may be empty; the
// returned hash is empty when nothing was queued.
func (c *Client) ConfirmSend(ctx context.Context, requestID string) (string, error) {
	var out struct {
		TransactionHash string `json:"transaction_hash"`
	}
	err := c.Do(ctx, "wallet-confirmed-send-funds", map[string]string{"request_id": requestID}, &out)
	return out.TransactionHash, err
}

func (c *Client) RejectSend(ctx context.Context, requestID string) error {
	return c.Do(ctx, "wallet-rejected-send-funds", map[string]string{"request_id": requestID}, nil)
}

func (c *Client) GetFunds(ctx context.Context) (string, error) {
	var out string
	err := c.Do(ctx, "wallet-get-funds", nil, &out)
	return out, err
}

func (c *Client) GetAddress(ctx context.Context) (string, error) {
	var out string
	err := c.Do(ctx, "wallet-get-address", nil, &out)
	return out, err
}

func (c *Client) GetData(ctx context.Context) (Snapshot, error) {
	var out Snapshot
	err := c.Do(ctx, "wallet-get-data", nil, &out)
	return out, err
}

func (c *Client) GetConfirmationHash(ctx context.Context) (string, error) {
	var out struct {
		Hash string `json:"hash"`
	}
	err := c.Do(ctx, "wallet-get-confirmation-hash", nil, &out)
	return out.Hash, err
}

// ReceivedFunds reports an incoming transfer. It returns false when the
// server had already seen hash.
func (c *Client) ReceivedFunds(ctx context.Context, hash, amount, from string) (bool, error) {
	var out struct {
		Applied bool `json:"applied"`
	}
	err := c.Do(ctx, "wallet-received-funds", map[string]string{"hash": hash, "amount": amount, "from": from}, &out)
	return out.Applied, err
}

// Do posts a command with JSON args and decodes the result into out.
func (c *Client) Do(ctx context.Context, command string, args, out any) error {
	var body []byte
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return err
		}
		body = b
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/commands/"+command, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}

	if res.StatusCode != http.StatusOK {
		cmdErr := &Error{Status: res.StatusCode}
		if err := json.Unmarshal(raw, cmdErr); err != nil || cmdErr.Code == "" {
			return fmt.Errorf("request failed %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
		}
		return cmdErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// SignToken mints the HS256 compact JWS the server accepts as a bearer token.
func SignToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("secret is required")
	}
	now := time.Now().UTC()
	header, err := json.Marshal(map[string]string{"alg": "HS256"})
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(map[string]any{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})
	if err != nil {
		return "", err
	}
	signingInput := base64.RawURLEncoding.EncodeToString(header) + "." + base64.RawURLEncoding.EncodeToString(payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}
