// Package client wraps the transport adapter with typed calls against the
// messaging endpoints.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetmsg/fleetmsg/internal/logging"
	"github.com/fleetmsg/fleetmsg/internal/models"
	"github.com/fleetmsg/fleetmsg/internal/transport"
)

const defaultRetryDelay = 800 * time.Millisecond

// Config configures a Client.
type Config struct {
	Adapter *transport.Adapter

	// RetryDelay is the fixed wait before the single retry on transient
	// list-fetch failures.
	RetryDelay time.Duration

	// StreamBuffer sizes push-stream event channels.
	StreamBuffer int
}

// Client issues the messaging API calls the sync core needs. List fetches get
// one retry after a short fixed delay; everything else fails fast and leaves
// retry policy to the caller.
type Client struct {
	adapter      *transport.Adapter
	retryDelay   time.Duration
	streamBuffer int
	logger       zerolog.Logger
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Adapter == nil {
		return nil, errors.New("adapter required")
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	return &Client{
		adapter:      cfg.Adapter,
		retryDelay:   retryDelay,
		streamBuffer: cfg.StreamBuffer,
		logger:       logging.Component("client"),
	}, nil
}

type threadListResponse struct {
	Threads []models.Conversation `json:"threads"`
}

type channelListResponse struct {
	Channels []models.Conversation `json:"channels"`
}

type messageListResponse struct {
	Messages []models.Message `json:"messages"`
}

// ListThreads fetches direct threads, newest activity first. The kind is
// stamped at the wire boundary so thread and channel ids can never collide
// downstream.
func (c *Client) ListThreads(ctx context.Context, limit int) ([]models.Conversation, error) {
	var resp threadListResponse
	err := c.withRetry(ctx, func(ctx context.Context) error {
		return c.adapter.Do(ctx, http.MethodGet, "/conversations", limitQuery(limit), nil, &resp)
	})
	if err != nil {
		return nil, err
	}
	return stampKind(resp.Threads, models.KindThread), nil
}

// ListChannels fetches broadcast channels.
func (c *Client) ListChannels(ctx context.Context) ([]models.Conversation, error) {
	var resp channelListResponse
	err := c.withRetry(ctx, func(ctx context.Context) error {
		return c.adapter.Do(ctx, http.MethodGet, "/channels", nil, nil, &resp)
	})
	if err != nil {
		return nil, err
	}
	return stampKind(resp.Channels, models.KindChannel), nil
}

// Messages fetches the latest messages of a conversation. The server may
// return either sort order; callers must sort, never assume.
func (c *Client) Messages(ctx context.Context, conv models.Conversation, limit int) ([]models.Message, error) {
	var resp messageListResponse
	path := fmt.Sprintf("%s/%s/messages", kindBase(conv.Kind), url.PathEscape(conv.ID))
	if err := c.adapter.Do(ctx, http.MethodGet, path, limitQuery(limit), nil, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Messages {
		if resp.Messages[i].ConversationID == "" {
			resp.Messages[i].ConversationID = conv.ID
		}
	}
	return resp.Messages, nil
}

// SendMessage posts a new message to a direct thread and returns the server's
// echo.
func (c *Client) SendMessage(ctx context.Context, conversationID, text string) (models.Message, error) {
	var created models.Message
	path := fmt.Sprintf("/conversations/%s/messages", url.PathEscape(conversationID))
	body := map[string]string{"text": text}
	if err := c.adapter.Do(ctx, http.MethodPost, path, nil, body, &created); err != nil {
		return models.Message{}, err
	}
	if created.ConversationID == "" {
		created.ConversationID = conversationID
	}
	return created, nil
}

// MarkRead acknowledges a conversation as read. Fire-and-forget from the
// caller's perspective; the optimistic decrement never waits on it.
func (c *Client) MarkRead(ctx context.Context, conv models.Conversation) error {
	path := fmt.Sprintf("%s/%s/read", kindBase(conv.Kind), url.PathEscape(conv.ID))
	return c.adapter.Do(ctx, http.MethodPost, path, nil, nil, nil)
}

// UnreadSummary fetches the authoritative unread state.
func (c *Client) UnreadSummary(ctx context.Context) (models.UnreadSummary, error) {
	var summary models.UnreadSummary
	err := c.withRetry(ctx, func(ctx context.Context) error {
		return c.adapter.Do(ctx, http.MethodGet, "/unread/summary", nil, nil, &summary)
	})
	if err != nil {
		return models.UnreadSummary{}, err
	}
	if summary.TotalUnread < 0 {
		summary.TotalUnread = 0
	}
	return summary, nil
}

// StreamDirectory opens the directory-level push stream emitting thread
// deltas newer than since.
func (c *Client) StreamDirectory(ctx context.Context, since int64, limit int) (*transport.Stream, error) {
	query := limitQuery(limit)
	if query == nil {
		query = url.Values{}
	}
	query.Set("since", strconv.FormatInt(since, 10))
	return c.adapter.OpenStream(ctx, "/conversations/stream", query, c.streamBuffer)
}

// StreamConversation opens the detail-level push stream for one thread.
// Broadcast channels have no detail stream.
func (c *Client) StreamConversation(ctx context.Context, conversationID string, since int64) (*transport.Stream, error) {
	query := url.Values{}
	query.Set("since", strconv.FormatInt(since, 10))
	path := fmt.Sprintf("/conversations/%s/stream", url.PathEscape(conversationID))
	return c.adapter.OpenStream(ctx, path, query, c.streamBuffer)
}

// withRetry runs fn, retrying exactly once after the fixed delay when the
// failure looks transient.
func (c *Client) withRetry(ctx context.Context, fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil || !transient(err) || ctx.Err() != nil {
		return err
	}

	c.logger.Debug().Err(err).Dur("delay", c.retryDelay).Msg("transient fetch failure, retrying once")
	timer := time.NewTimer(c.retryDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
	}
	return fn(ctx)
}

func transient(err error) bool {
	if errors.Is(err, transport.ErrTimeout) {
		return true
	}
	var netErr *transport.NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var httpErr *transport.HTTPError
	return errors.As(err, &httpErr) && httpErr.Status >= 500
}

func kindBase(kind models.Kind) string {
	if kind == models.KindChannel {
		return "/channels"
	}
	return "/conversations"
}

func limitQuery(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	return query
}

func stampKind(conversations []models.Conversation, kind models.Kind) []models.Conversation {
	for i := range conversations {
		conversations[i].Kind = kind
	}
	return conversations
}
