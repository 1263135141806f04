package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetmsg/fleetmsg/internal/models"
	"github.com/fleetmsg/fleetmsg/internal/transport"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter, err := transport.New(transport.Options{
		BaseURL:        server.URL,
		RequestTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	c, err := New(Config{Adapter: adapter, RetryDelay: 10 * time.Millisecond})
	require.NoError(t, err)
	return c
}

func TestListThreadsStampsKind(t *testing.T) {
	var gotPath, gotLimit string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotLimit = r.URL.Query().Get("limit")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"threads": []models.Conversation{{ID: "t1", Title: "Carrier A"}},
		})
	}))

	threads, err := c.ListThreads(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, "/conversations", gotPath)
	require.Equal(t, "100", gotLimit)
	require.Len(t, threads, 1)
	require.Equal(t, models.KindThread, threads[0].Kind)
	require.Equal(t, "thread:t1", threads[0].Key())
}

func TestListChannelsStampsKind(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/channels", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"channels": []models.Conversation{{ID: "c1", Title: "Announcements"}},
		})
	}))

	channels, err := c.ListChannels(context.Background())
	require.NoError(t, err)
	require.Len(t, channels, 1)
	require.Equal(t, "channel:c1", channels[0].Key())
}

func TestListRetriesOnceOnTransientFailure(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"threads": []models.Conversation{}})
	}))

	_, err := c.ListThreads(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestListRetriesExactlyOnce(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))

	_, err := c.ListThreads(context.Background(), 10)
	require.Error(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestListDoesNotRetryRejections(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))

	_, err := c.ListThreads(context.Background(), 10)
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestMessagesRoutesByKind(t *testing.T) {
	var paths []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []models.Message{{ID: "m1", CreatedAt: 10}},
		})
	}))

	msgs, err := c.Messages(context.Background(), models.Conversation{ID: "t1", Kind: models.KindThread}, 30)
	require.NoError(t, err)
	require.Equal(t, "t1", msgs[0].ConversationID)

	_, err = c.Messages(context.Background(), models.Conversation{ID: "c1", Kind: models.KindChannel}, 30)
	require.NoError(t, err)

	require.Equal(t, []string{"/conversations/t1/messages", "/channels/c1/messages"}, paths)
}

func TestSendMessagePostsText(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/conversations/t1/messages", r.URL.Path)
		var body struct {
			Text string `json:"text"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(models.Message{ID: "srv-1", Text: body.Text, CreatedAt: 99})
	}))

	created, err := c.SendMessage(context.Background(), "t1", "ready for pickup")
	require.NoError(t, err)
	require.Equal(t, "srv-1", created.ID)
	require.Equal(t, "ready for pickup", created.Text)
	require.Equal(t, "t1", created.ConversationID)
}

func TestUnreadSummaryFloorsNegativeTotal(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/unread/summary", r.URL.Path)
		_ = json.NewEncoder(w).Encode(models.UnreadSummary{TotalUnread: -2})
	}))

	summary, err := c.UnreadSummary(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.TotalUnread)
}

func TestMarkReadRoutesByKind(t *testing.T) {
	var paths []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, c.MarkRead(context.Background(), models.Conversation{ID: "t1", Kind: models.KindThread}))
	require.NoError(t, c.MarkRead(context.Background(), models.Conversation{ID: "c1", Kind: models.KindChannel}))
	require.Equal(t, []string{"/conversations/t1/read", "/channels/c1/read"}, paths)
}
