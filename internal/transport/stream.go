package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

const defaultStreamBuffer = 256

// Event is a single push-stream event as delivered by the server.
type Event struct {
	Type    string
	Payload json.RawMessage
}

// Stream is a one-way server-push event stream. It stays open until Close is
// called or the connection drops; there is no adapter-imposed timeout.
type Stream struct {
	events chan Event
	cancel context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}

	mu  sync.Mutex
	err error
}

// Events returns the event channel. It is closed when the stream ends.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Close terminates the stream. Safe to call more than once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
	})
}

// Err returns the terminal error once Events is closed. It is nil after an
// explicit Close and a *StreamError after a dropped connection.
func (s *Stream) Err() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.events)
	close(s.done)
}

// OpenStream opens a server-push event stream on path. The returned stream is
// unbounded in time and must be explicitly closed by the caller.
func (a *Adapter) OpenStream(ctx context.Context, path string, query url.Values, buffer int) (*Stream, error) {
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}

	sctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(sctx, http.MethodGet, a.endpoint(path, query), nil)
	if err != nil {
		cancel()
		return nil, &StreamError{Err: err}
	}
	a.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		cancel()
		if errors.Is(err, context.Canceled) {
			return nil, context.Canceled
		}
		return nil, &StreamError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		_ = resp.Body.Close()
		cancel()
		return nil, a.httpError(resp.StatusCode, raw)
	}

	stream := &Stream{
		events: make(chan Event, buffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go a.readStream(sctx, resp.Body, stream)
	return stream, nil
}

// readStream parses the text/event-stream wire format: "event:" names the
// type, "data:" lines accumulate the payload, a blank line dispatches.
func (a *Adapter) readStream(ctx context.Context, body io.ReadCloser, stream *Stream) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxResponseBody)

	eventType := ""
	var data []string

	dispatch := func() {
		if len(data) == 0 {
			eventType = ""
			return
		}
		evt := Event{
			Type:    eventType,
			Payload: json.RawMessage(strings.Join(data, "\n")),
		}
		if evt.Type == "" {
			evt.Type = "message"
		}
		eventType = ""
		data = nil

		select {
		case <-ctx.Done():
		case stream.events <- evt:
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			dispatch()
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	err := scanner.Err()
	if ctx.Err() != nil {
		// Explicit close, not a failure.
		stream.finish(nil)
		return
	}
	if err == nil {
		err = io.EOF
	}
	a.logger.Warn().Err(err).Msg("push stream dropped")
	stream.finish(&StreamError{Err: err})
}
