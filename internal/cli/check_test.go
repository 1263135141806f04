package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetmsg/fleetmsg/internal/models"
)

func TestCheckCommandReportsHealth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /conversations", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"threads": []models.Conversation{
			{ID: "t1"}, {ID: "t2"},
		}})
	})
	mux.HandleFunc("GET /channels", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"channels": []models.Conversation{{ID: "c1"}}})
	})
	mux.HandleFunc("GET /unread/summary", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.UnreadSummary{
			TotalUnread: 3,
			PerConversation: map[string]models.UnreadStatus{
				"thread:t1": {HasUnread: true},
				"thread:t2": {HasUnread: true},
			},
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	t.Setenv("HOME", t.TempDir())

	root := newRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"check", "--api-url", server.URL, "--token", "tok"})

	require.NoError(t, root.Execute())
	require.Contains(t, out.String(), "threads:   2")
	require.Contains(t, out.String(), "channels:  1")
	require.Contains(t, out.String(), "unread:    3 across 2 conversations")
	require.Contains(t, out.String(), "ok")
}

func TestCheckCommandSurfacesFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	t.Setenv("HOME", t.TempDir())

	root := newRootCmd("test")
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"check", "--api-url", server.URL, "--token", "tok"})

	err := root.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "list threads")
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd("1.2.3")
	require.Equal(t, "fleetmsg", root.Use)
	require.Equal(t, "1.2.3", root.Version)

	names := make([]string, 0)
	for _, sub := range root.Commands() {
		names = append(names, sub.Name())
	}
	require.Contains(t, names, "check")

	for _, flag := range []string{"config", "api-url", "token", "log-level"} {
		require.NotNil(t, root.PersistentFlags().Lookup(flag), "missing flag %s", flag)
	}
}
