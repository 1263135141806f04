package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newAdapter(t *testing.T, url string, opts Options) *Adapter {
	opts.BaseURL = url
	a, err := New(opts)
	require.NoError(t, err)
	return a
}

func TestDoSendsAuthAndDecodesJSON(t *testing.T) {
	var gotAuth, gotSession, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotSession = r.Header.Get("X-Session-Id")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":"pong"}`))
	}))
	defer server.Close()

	a := newAdapter(t, server.URL, Options{Token: "tok-1", SessionID: "sess-9"})

	var out struct {
		Value string `json:"value"`
	}
	require.NoError(t, a.Do(context.Background(), http.MethodGet, "/ping", nil, nil, &out))
	require.Equal(t, "pong", out.Value)
	require.Equal(t, "Bearer tok-1", gotAuth)
	require.Equal(t, "sess-9", gotSession)
	require.Equal(t, "application/json", gotAccept)
}

func TestDoPostsJSONBody(t *testing.T) {
	var gotContentType, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		buf := make([]byte, 256)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	a := newAdapter(t, server.URL, Options{})
	err := a.Do(context.Background(), http.MethodPost, "/x", nil, map[string]string{"text": "hi"}, nil)
	require.NoError(t, err)
	require.Equal(t, "application/json", gotContentType)
	require.JSONEq(t, `{"text":"hi"}`, gotBody)
}

func TestDoNon2xxBecomesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	}))
	defer server.Close()

	a := newAdapter(t, server.URL, Options{})
	err := a.Do(context.Background(), http.MethodGet, "/missing", nil, nil, nil)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusNotFound, httpErr.Status)
	require.Contains(t, httpErr.Body, "not here")
}

func TestDoTimesOutWithoutCallerDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	a := newAdapter(t, server.URL, Options{RequestTimeout: 50 * time.Millisecond})
	start := time.Now()
	err := a.Do(context.Background(), http.MethodGet, "/slow", nil, nil, nil)
	require.ErrorIs(t, err, ErrTimeout)
	require.Less(t, time.Since(start), time.Second)
}

func TestDoConnectionFailureIsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	a := newAdapter(t, server.URL, Options{})
	err := a.Do(context.Background(), http.MethodGet, "/x", nil, nil, nil)

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
}

func TestForcedLogoutMarkers(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantReason string
	}{
		{"revoked session", http.StatusUnauthorized, `{"error":"session was revoked by an administrator"}`, "session revoked"},
		{"deleted account", http.StatusForbidden, `{"error":"account deleted"}`, "account deleted"},
		{"plain auth failure", http.StatusUnauthorized, `{"error":"bad token"}`, ""},
		{"marker on other status", http.StatusConflict, `{"error":"revoked"}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, tt.body, tt.status)
			}))
			defer server.Close()

			var gotReason string
			a := newAdapter(t, server.URL, Options{
				OnForcedLogout: func(reason string) { gotReason = reason },
			})

			err := a.Do(context.Background(), http.MethodGet, "/anything", nil, nil, nil)
			var httpErr *HTTPError
			require.ErrorAs(t, err, &httpErr)
			require.Equal(t, tt.status, httpErr.Status)
			require.Equal(t, tt.wantReason, gotReason)
		})
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestHumanize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"timeout", ErrTimeout, "The server took too long to respond."},
		{"server error", &HTTPError{Status: 503}, "The messaging service is having trouble. Try again shortly."},
		{"client error", &HTTPError{Status: 404}, "The request was rejected by the messaging service."},
		{"network", &NetworkError{Err: errors.New("refused")}, "Could not reach the messaging service. Check your connection."},
		{"stream", &StreamError{Err: errors.New("eof")}, "Could not reach the messaging service. Check your connection."},
		{"unknown", errors.New("weird"), "Something went wrong talking to the messaging service."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Humanize(tt.err))
		})
	}
}
