// Package transport issues authenticated calls against the messaging API and
// opens server-push event streams.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetmsg/fleetmsg/internal/logging"
)

const (
	defaultRequestTimeout = 15 * time.Second
	maxResponseBody       = 4 << 20
)

// ForcedLogoutFunc is invoked when the server signals that the session was
// revoked or the account deleted. The surrounding application decides what to
// do; the messaging core never swallows this.
type ForcedLogoutFunc func(reason string)

// Options configures an Adapter.
type Options struct {
	BaseURL   string
	Token     string
	SessionID string

	// RequestTimeout bounds request/response calls with no caller deadline.
	// Streams are never subject to it.
	RequestTimeout time.Duration

	// OnForcedLogout receives the side-channel logout signal. Optional.
	OnForcedLogout ForcedLogoutFunc

	// HTTPClient overrides the underlying client, mainly for tests.
	HTTPClient *http.Client
}

// Adapter is the single network surface of the sync core. It performs no
// retries itself; retry policy belongs to callers.
type Adapter struct {
	baseURL        string
	token          string
	sessionID      string
	timeout        time.Duration
	httpClient     *http.Client
	onForcedLogout ForcedLogoutFunc
	logger         zerolog.Logger
}

// New creates an Adapter.
func New(opts Options) (*Adapter, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("base URL required")
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// No client-level Timeout: it would also bound stream body reads.
		// Deadlines are applied per request via context.
		httpClient = &http.Client{}
	}
	return &Adapter{
		baseURL:        base,
		token:          strings.TrimSpace(opts.Token),
		sessionID:      strings.TrimSpace(opts.SessionID),
		timeout:        timeout,
		httpClient:     httpClient,
		onForcedLogout: opts.OnForcedLogout,
		logger:         logging.Component("transport"),
	}, nil
}

// Do performs a request/response call. body (if non-nil) is sent as JSON and
// out (if non-nil) is filled from the response body. Calls without a caller
// deadline self-cancel after the configured timeout.
func (a *Adapter) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.endpoint(path, query), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	a.setHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return a.classify(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return a.classify(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return a.httpError(resp.StatusCode, raw)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (a *Adapter) endpoint(path string, query url.Values) string {
	target := a.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return target
}

func (a *Adapter) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	if a.sessionID != "" {
		req.Header.Set("X-Session-Id", a.sessionID)
	}
}

// classify maps transport failures onto the error taxonomy. A deadline we set
// ourselves becomes ErrTimeout; everything else is a NetworkError.
func (a *Adapter) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return &NetworkError{Err: err}
}

func (a *Adapter) httpError(status int, body []byte) error {
	text := string(body)
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		if reason, ok := forcedLogoutReason(text); ok {
			a.logger.Warn().Int("status", status).Str("reason", reason).Msg("forced logout signalled by server")
			if a.onForcedLogout != nil {
				a.onForcedLogout(reason)
			}
		}
	}
	return &HTTPError{Status: status, Body: text}
}

// forcedLogoutReason reports whether a 401/403 body carries a session-revoked
// or account-deleted marker.
func forcedLogoutReason(body string) (string, bool) {
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "revoked"):
		return "session revoked", true
	case strings.Contains(lower, "deleted"):
		return "account deleted", true
	}
	return "", false
}
