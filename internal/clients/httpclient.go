// Package clients holds thin typed HTTP wrappers for cross-service calls,
// grounded on services/escrow-gateway/node_client.go's and
// services/otc-gateway/swaprpc/client.go's shape: a struct wrapping
// *http.Client and a base URL, one method per remote operation.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type base struct {
	baseURL string
	http    *http.Client
}

func newBase(baseURL string) base {
	return base{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

// RemoteError carries the uniform {error, message} envelope a sibling
// service returned, so callers can branch on Kind the same way they would
// branch on a local *httpx.Error.
type RemoteError struct {
	Status  int
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Message, e.Status)
}

func (b base) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var envelope struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(raw, &envelope)
		return &RemoteError{Status: resp.StatusCode, Kind: envelope.Error, Message: envelope.Message}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// doIdempotent retries transient failures with exponential backoff. Used
// only for calls the spec names as idempotent (`credit`, `open_account`);
// every other call surfaces its error immediately so the caller's composite
// operation can roll back its own partial effect per §5's compensation rule.
func (b base) doIdempotent(ctx context.Context, method, path string, body any, out any) error {
	backoff := 100 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < 4; attempt++ {
		lastErr = b.do(ctx, method, path, body, out)
		if lastErr == nil {
			return nil
		}
		var remoteErr *RemoteError
		if ok := asRemoteError(lastErr, &remoteErr); ok && remoteErr.Status < 500 {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}

func asRemoteError(err error, target **RemoteError) bool {
	re, ok := err.(*RemoteError)
	if ok {
		*target = re
	}
	return ok
}
