package sync

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetmsg/fleetmsg/internal/client"
	"github.com/fleetmsg/fleetmsg/internal/models"
	"github.com/fleetmsg/fleetmsg/internal/transport"
)

// fakeAPI is an in-process messaging server covering every endpoint the sync
// core talks to, including the push streams.
type fakeAPI struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	threads  []models.Conversation
	channels []models.Conversation
	messages map[string][]models.Message
	summary  models.UnreadSummary

	// Failure injection. Counters burn down by one per failed request.
	threadFailures  int
	threadDelay     time.Duration
	channelFailures int
	summaryFailures int
	messageFailures map[string]int
	messageDelay    map[string]time.Duration
	sendDelay       time.Duration
	markReadFail    bool

	markReads    []string
	summaryCalls atomic.Int32

	detailPushers map[string]chan models.Message
	dirPusher     chan []models.Conversation
	activeStreams atomic.Int32
}

func newFakeAPI(t *testing.T) *fakeAPI {
	f := &fakeAPI{
		t:               t,
		messages:        map[string][]models.Message{},
		summary:         models.UnreadSummary{PerConversation: map[string]models.UnreadStatus{}},
		messageFailures: map[string]int{},
		messageDelay:    map[string]time.Duration{},
		detailPushers:   map[string]chan models.Message{},
		dirPusher:       make(chan []models.Conversation, 16),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /conversations", f.handleThreads)
	mux.HandleFunc("GET /channels", f.handleChannels)
	mux.HandleFunc("GET /conversations/stream", f.handleDirectoryStream)
	mux.HandleFunc("GET /conversations/{id}/messages", f.handleMessages)
	mux.HandleFunc("GET /channels/{id}/messages", f.handleMessages)
	mux.HandleFunc("POST /conversations/{id}/messages", f.handleSend)
	mux.HandleFunc("POST /conversations/{id}/read", f.handleMarkRead(models.KindThread))
	mux.HandleFunc("POST /channels/{id}/read", f.handleMarkRead(models.KindChannel))
	mux.HandleFunc("GET /unread/summary", f.handleSummary)
	mux.HandleFunc("GET /conversations/{id}/stream", f.handleDetailStream)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAPI) client(t *testing.T) *client.Client {
	adapter, err := transport.New(transport.Options{
		BaseURL:        f.server.URL,
		Token:          "test-token",
		RequestTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	c, err := client.New(client.Config{
		Adapter:    adapter,
		RetryDelay: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func (f *fakeAPI) setThreads(threads ...models.Conversation) {
	f.mu.Lock()
	f.threads = threads
	f.mu.Unlock()
}

func (f *fakeAPI) setChannels(channels ...models.Conversation) {
	f.mu.Lock()
	f.channels = channels
	f.mu.Unlock()
}

func (f *fakeAPI) setMessages(convID string, messages ...models.Message) {
	f.mu.Lock()
	f.messages[convID] = messages
	f.mu.Unlock()
}

func (f *fakeAPI) setSummary(summary models.UnreadSummary) {
	f.mu.Lock()
	f.summary = summary
	f.mu.Unlock()
}

func (f *fakeAPI) markReadKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.markReads...)
}

// pushMessage delivers a message on the open detail stream for convID.
func (f *fakeAPI) pushMessage(convID string, msg models.Message) {
	f.mu.Lock()
	ch := f.detailPushers[convID]
	f.mu.Unlock()
	require.NotNil(f.t, ch, "no open detail stream for %s", convID)
	ch <- msg
}

// pushThreads delivers a directory delta on the open directory stream.
func (f *fakeAPI) pushThreads(deltas ...models.Conversation) {
	f.dirPusher <- deltas
}

func (f *fakeAPI) handleThreads(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	if f.threadFailures > 0 {
		f.threadFailures--
		f.mu.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	delay := f.threadDelay
	threads := append([]models.Conversation(nil), f.threads...)
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(delay):
		}
	}
	writeJSON(w, map[string]any{"threads": threads})
}

func (f *fakeAPI) handleChannels(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	if f.channelFailures > 0 {
		f.channelFailures--
		f.mu.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	channels := append([]models.Conversation(nil), f.channels...)
	f.mu.Unlock()
	writeJSON(w, map[string]any{"channels": channels})
}

func (f *fakeAPI) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	f.mu.Lock()
	if f.messageFailures[id] > 0 {
		f.messageFailures[id]--
		f.mu.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	delay := f.messageDelay[id]
	messages := append([]models.Message(nil), f.messages[id]...)
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(delay):
		}
	}
	writeJSON(w, map[string]any{"messages": messages})
}

func (f *fakeAPI) handleSend(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Text string `json:"text"`
	}
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))

	f.mu.Lock()
	delay := f.sendDelay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(delay):
		}
	}

	f.mu.Lock()
	created := models.Message{
		ID:             fmt.Sprintf("srv-%d", len(f.messages[id])+1),
		ConversationID: id,
		Text:           body.Text,
		SenderRole:     "driver",
		CreatedAt:      time.Now().Unix(),
	}
	f.messages[id] = append(f.messages[id], created)
	f.mu.Unlock()
	writeJSON(w, created)
}

func (f *fakeAPI) handleMarkRead(kind models.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		fail := f.markReadFail
		if !fail {
			f.markReads = append(f.markReads, string(kind)+":"+r.PathValue("id"))
		}
		f.mu.Unlock()
		if fail {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (f *fakeAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	f.summaryCalls.Add(1)
	f.mu.Lock()
	if f.summaryFailures > 0 {
		f.summaryFailures--
		f.mu.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	summary := f.summary.Clone()
	f.mu.Unlock()
	writeJSON(w, summary)
}

func (f *fakeAPI) handleDetailStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ch := make(chan models.Message, 16)

	f.mu.Lock()
	f.detailPushers[id] = ch
	f.mu.Unlock()
	f.activeStreams.Add(1)
	defer f.activeStreams.Add(-1)

	flusher := sseHeaders(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-ch:
			payload, _ := json.Marshal(map[string]models.Message{"message": msg})
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (f *fakeAPI) handleDirectoryStream(w http.ResponseWriter, r *http.Request) {
	f.activeStreams.Add(1)
	defer f.activeStreams.Add(-1)

	flusher := sseHeaders(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case deltas := <-f.dirPusher:
			payload, _ := json.Marshal(map[string]any{"threads": deltas})
			fmt.Fprintf(w, "event: threads\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func sseHeaders(w http.ResponseWriter) http.Flusher {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher := w.(http.Flusher)
	flusher.Flush()
	return flusher
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func thread(id, title string, updatedAt int64) models.Conversation {
	return models.Conversation{ID: id, Kind: models.KindThread, Title: title, UpdatedAt: updatedAt}
}

func channel(id, title string, updatedAt int64) models.Conversation {
	return models.Conversation{ID: id, Kind: models.KindChannel, Title: title, Audience: "all", UpdatedAt: updatedAt}
}
