// Package httpwallet talks to wallet backends exposing the REST envelope
// {"status": 200, "data": {...}}.
package httpwallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	walletinterfaces "github.com/kaigoh/pointwallet/wallet_interfaces"
)

const (
	pathGenerate  = "/v1/api/wallet/generate"
	pathPublicKey = "/v1/api/wallet/publicKey"
	pathHash      = "/v1/api/wallet/hash"
	pathBalance   = "/v1/api/wallet/balance"
	pathRequestTx = "/v1/api/wallet/tx"
)

// maxBody caps how much of a response is read; payloads are tiny.
const maxBody = 1 << 20

type envelope struct {
	Status int                        `json:"status"`
	Data   map[string]json.RawMessage `json:"data"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) GenerateCredentials(ctx context.Context) (walletinterfaces.Credentials, error) {
	data, err := c.do(ctx, http.MethodGet, pathGenerate, "", nil)
	if err != nil {
		return walletinterfaces.Credentials{}, err
	}
	creds := walletinterfaces.Credentials{
		WalletID: field(data, "walletId"),
		Passcode: field(data, "passcode"),
	}
	if creds.Empty() {
		return walletinterfaces.Credentials{}, &walletinterfaces.BackendError{Op: "generate", Payload: "empty credentials"}
	}
	return creds, nil
}

func (c *Client) FetchAddress(ctx context.Context, token string) (string, error) {
	return c.fetch(ctx, "publicKey", pathPublicKey, token, "publicKey")
}

func (c *Client) FetchAccountHash(ctx context.Context, token string) (string, error) {
	return c.fetch(ctx, "hash", pathHash, token, "hash")
}

func (c *Client) FetchBalance(ctx context.Context, token string) (string, error) {
	return c.fetch(ctx, "balance", pathBalance, token, "balance")
}

func (c *Client) SubmitTransfer(ctx context.Context, token, destination, amount string) (string, error) {
	body, err := json.Marshal(map[string]string{"to": destination, "value": amount})
	if err != nil {
		return "", err
	}
	data, err := c.do(ctx, http.MethodPost, pathRequestTx, token, body)
	if err != nil {
		return "", err
	}
	hash := field(data, "transactionHash")
	if hash == "" {
		return "", &walletinterfaces.BackendError{Op: "tx", Payload: "empty transaction hash"}
	}
	return hash, nil
}

func (c *Client) fetch(ctx context.Context, op, path, token, key string) (string, error) {
	data, err := c.do(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return "", err
	}
	v := field(data, key)
	if v == "" {
		return "", &walletinterfaces.BackendError{Op: op, Payload: fmt.Sprintf("missing %s", key)}
	}
	return v, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body []byte) (map[string]json.RawMessage, error) {
	op := strings.TrimPrefix(path, "/v1/api/wallet/")
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &walletinterfaces.BackendError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(walletinterfaces.TokenKey, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &walletinterfaces.BackendError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &walletinterfaces.BackendError{Op: op, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &walletinterfaces.BackendError{Op: op, Status: resp.StatusCode, Payload: string(raw), Err: walletinterfaces.ErrUnauthenticated}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &walletinterfaces.BackendError{Op: op, Status: resp.StatusCode, Payload: string(raw)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &walletinterfaces.BackendError{Op: op, Status: resp.StatusCode, Payload: string(raw), Err: err}
	}
	// The envelope status is authoritative; some backends answer 200 with an
	// error status inside.
	if env.Status != http.StatusOK {
		return nil, &walletinterfaces.BackendError{Op: op, Status: env.Status, Payload: string(raw)}
	}
	return env.Data, nil
}

// field reads a string or numeric value; balances are sometimes sent as numbers.
func field(data map[string]json.RawMessage, key string) string {
	raw, ok := data[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
