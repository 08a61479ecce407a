package pointwallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/twitchtv/twirp"
)

// CallCommand posts one command to a running server and returns the raw
// JSON result. Failures come back as twirp.Error with the server's meta.
func CallCommand(ctx context.Context, baseURL, token string, cmd Command, args json.RawMessage) (json.RawMessage, error) {
	url := strings.TrimSuffix(baseURL, "/") + "/commands/" + string(cmd)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(args))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, maxCommandBody))
	if err != nil {
		return nil, err
	}
	if res.StatusCode == http.StatusOK {
		return body, nil
	}

	var wire struct {
		Code string            `json:"code"`
		Msg  string            `json:"msg"`
		Meta map[string]string `json:"meta"`
	}
	if err := json.Unmarshal(body, &wire); err != nil || wire.Code == "" {
		return nil, fmt.Errorf("command %s failed %d: %s", cmd, res.StatusCode, strings.TrimSpace(string(body)))
	}
	out := twirp.NewError(twirp.ErrorCode(wire.Code), wire.Msg)
	for k, v := range wire.Meta {
		out = out.WithMeta(k, v)
	}
	return nil, out
}
