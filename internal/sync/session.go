package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fleetmsg/fleetmsg/internal/client"
	"github.com/fleetmsg/fleetmsg/internal/logging"
	"github.com/fleetmsg/fleetmsg/internal/models"
	"github.com/fleetmsg/fleetmsg/internal/transport"
)

// Phase is the session state machine position.
type Phase string

// Session phases.
const (
	PhaseIdle            Phase = "idle"
	PhaseFastLoading     Phase = "fast_loading"
	PhaseFastLoaded      Phase = "fast_loaded"
	PhaseStreamAttaching Phase = "stream_attaching"
	PhaseLive            Phase = "live"
	PhaseErrored         Phase = "errored"
)

// ErrNoSession is returned by Send when no thread is open.
var ErrNoSession = errors.New("no open conversation")

// ErrChannelReadOnly is returned by Send on a broadcast channel.
var ErrChannelReadOnly = errors.New("broadcast channels are read-only")

// SessionConfig configures a session Controller.
type SessionConfig struct {
	Client *client.Client
	Unread *Tracker
	Bus    *Bus

	// SelfRole is the sender role stamped on optimistic local messages.
	SelfRole string

	// FastPageSize is the first-paint page; FillPageSize the background cap.
	FastPageSize int
	FillPageSize int
}

// Snapshot is an immutable view of the open session for rendering.
type Snapshot struct {
	Conversation models.Conversation
	Phase        Phase
	Messages     []models.Message

	// AtBottom mirrors the viewport position, updated on scroll events. A
	// merge that appends newer messages sticks to the bottom only when this
	// was already true.
	AtBottom bool

	// Err is a short human-readable message, empty unless Phase is errored
	// or a background step failed.
	Err string
}

// Controller governs which conversation is open. It owns at most one live
// detail stream and one fast+fill fetch sequence at a time. Every state
// mutation is guarded by a monotonic load sequence checked when a result is
// applied, so a stale fetch can never paint into a newer selection.
type Controller struct {
	client   *client.Client
	unread   *Tracker
	bus      *Bus
	logger   zerolog.Logger
	selfRole string

	fastLimit int
	fillLimit int

	mu       sync.Mutex
	seq      uint64
	active   bool
	conv     models.Conversation
	phase    Phase
	messages []models.Message
	atBottom bool
	loadErr  error
	stream   *transport.Stream

	wg sync.WaitGroup
}

// NewController creates an idle Controller.
func NewController(cfg SessionConfig) *Controller {
	fastLimit := cfg.FastPageSize
	if fastLimit <= 0 {
		fastLimit = 30
	}
	fillLimit := cfg.FillPageSize
	if fillLimit < fastLimit {
		fillLimit = 200
	}
	return &Controller{
		client:    cfg.Client,
		unread:    cfg.Unread,
		bus:       cfg.Bus,
		logger:    logging.Component("session"),
		selfRole:  cfg.SelfRole,
		fastLimit: fastLimit,
		fillLimit: fillLimit,
		phase:     PhaseIdle,
		atBottom:  true,
	}
}

// Select opens a conversation. Any previous session's stream is closed first
// and its in-flight fetches are invalidated by the sequence bump; they may
// still complete and will self-discard. Selecting the conversation that is
// already open re-runs the full sequence.
func (c *Controller) Select(ctx context.Context, conv models.Conversation) {
	c.mu.Lock()
	c.seq++
	mySeq := c.seq
	prev := c.stream
	c.stream = nil
	c.active = true
	c.conv = conv
	c.phase = PhaseFastLoading
	c.messages = nil
	c.atBottom = true
	c.loadErr = nil
	c.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	c.publish(conv.Key())

	// One-way channels are read the moment they are opened, not after the
	// fetch; a failed load must not leave them flagged unread.
	if conv.IsChannel() && c.unread != nil {
		c.unread.MarkRead(ctx, conv)
	}

	c.wg.Add(1)
	go c.load(ctx, conv, mySeq)
}

func (c *Controller) load(ctx context.Context, conv models.Conversation, mySeq uint64) {
	defer c.wg.Done()

	fast, err := c.client.Messages(ctx, conv, c.fastLimit)
	if err != nil {
		c.logger.Warn().Err(err).Str("conversation", conv.Key()).Msg("fast load failed")
		c.apply(mySeq, conv.Key(), func() {
			c.phase = PhaseErrored
			c.loadErr = err
		})
		return
	}

	if !c.apply(mySeq, conv.Key(), func() {
		c.messages = Merge(nil, fast)
		c.phase = PhaseFastLoaded
	}) {
		return
	}

	if c.unread != nil && !conv.IsChannel() {
		c.unread.MarkRead(ctx, conv)
	}

	// Background fill is non-blocking; it merges into whatever is displayed
	// and self-discards if the selection moved on.
	c.wg.Add(1)
	go c.fill(ctx, conv, mySeq)

	if conv.IsChannel() {
		// One-way: no detail stream to attach.
		return
	}
	c.attach(ctx, conv, mySeq)
}

func (c *Controller) fill(ctx context.Context, conv models.Conversation, mySeq uint64) {
	defer c.wg.Done()

	full, err := c.client.Messages(ctx, conv, c.fillLimit)
	if err != nil {
		c.logger.Warn().Err(err).Str("conversation", conv.Key()).Msg("background fill failed")
		return
	}
	c.apply(mySeq, conv.Key(), func() {
		c.messages = Merge(c.messages, full)
	})
}

func (c *Controller) attach(ctx context.Context, conv models.Conversation, mySeq uint64) {
	if !c.apply(mySeq, conv.Key(), func() {
		c.phase = PhaseStreamAttaching
	}) {
		return
	}

	c.mu.Lock()
	since := lastTimestamp(c.messages)
	c.mu.Unlock()

	stream, err := c.client.StreamConversation(ctx, conv.ID, since)
	if err != nil {
		c.logger.Warn().Err(err).Str("conversation", conv.Key()).Msg("detail stream unavailable")
		c.apply(mySeq, conv.Key(), func() {
			c.phase = PhaseFastLoaded
			c.loadErr = err
		})
		return
	}

	c.mu.Lock()
	if mySeq != c.seq {
		c.mu.Unlock()
		stream.Close()
		return
	}
	c.stream = stream
	c.phase = PhaseLive
	c.mu.Unlock()
	c.publish(conv.Key())

	c.wg.Add(1)
	go c.consume(ctx, stream, conv, mySeq)
}

func (c *Controller) consume(ctx context.Context, stream *transport.Stream, conv models.Conversation, mySeq uint64) {
	defer c.wg.Done()

	for evt := range stream.Events() {
		if evt.Type != client.EventTypeMessage {
			continue
		}
		msg, err := client.DecodeMessageEvent(evt)
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed message event")
			continue
		}
		if !c.apply(mySeq, conv.Key(), func() {
			c.messages = Merge(c.messages, []models.Message{msg})
		}) {
			return
		}
		if c.bus != nil {
			c.bus.Publish(Event{Type: EventMessageReceived, ConversationKey: conv.Key()})
		}
		if c.unread != nil {
			c.unread.MarkRead(ctx, conv)
		}
	}

	if err := stream.Err(); err != nil {
		// Dropped detail streams are not reconnected; mark-read and the
		// directory refresh paths do not depend on this stream.
		c.logger.Warn().Err(err).Str("conversation", conv.Key()).Msg("detail stream ended")
	}
}

// Send posts a message on the open thread. The optimistic local echo is
// appended immediately and the call never blocks on the server; the echo is
// reconciled through the merge path when the server responds.
func (c *Controller) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return ErrNoSession
	}
	if c.conv.IsChannel() {
		c.mu.Unlock()
		return ErrChannelReadOnly
	}
	conv := c.conv
	mySeq := c.seq

	local := models.Message{
		ID:             "local-" + uuid.NewString(),
		ConversationID: conv.ID,
		Text:           text,
		SenderRole:     c.selfRole,
		CreatedAt:      time.Now().Unix(),
		Pending:        true,
	}
	c.messages = Merge(c.messages, []models.Message{local})
	c.mu.Unlock()
	c.publish(conv.Key())

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		created, err := c.client.SendMessage(ctx, conv.ID, text)
		if err != nil {
			c.logger.Warn().Err(err).Str("conversation", conv.Key()).Msg("send failed, keeping pending echo")
			return
		}
		c.apply(mySeq, conv.Key(), func() {
			c.messages = dropPending(c.messages, local.ID)
			c.messages = Merge(c.messages, []models.Message{created})
		})
		if c.bus != nil {
			c.bus.Publish(Event{Type: EventMessageReceived, ConversationKey: conv.Key()})
		}
	}()
	return nil
}

// SetAtBottom records whether the viewport sits at the newest message. The
// view calls this on scroll events, not on renders.
func (c *Controller) SetAtBottom(atBottom bool) {
	c.mu.Lock()
	c.atBottom = atBottom
	c.mu.Unlock()
}

// Snapshot returns the current session view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		Conversation: c.conv,
		Phase:        c.phase,
		Messages:     append([]models.Message(nil), c.messages...),
		AtBottom:     c.atBottom,
	}
	if c.loadErr != nil {
		snap.Err = transport.Humanize(c.loadErr)
	}
	return snap
}

// Close tears the session down: the stream is closed, in-flight fetches are
// invalidated, and their goroutines are awaited.
func (c *Controller) Close() {
	c.mu.Lock()
	c.seq++
	stream := c.stream
	c.stream = nil
	c.active = false
	c.phase = PhaseIdle
	c.messages = nil
	c.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	c.wg.Wait()
}

// apply runs fn under the lock only if mySeq is still the current load
// sequence. This is the guard that keeps a slow fetch for one conversation
// from painting into another's view.
func (c *Controller) apply(mySeq uint64, key string, fn func()) bool {
	c.mu.Lock()
	if mySeq != c.seq {
		c.mu.Unlock()
		return false
	}
	fn()
	c.mu.Unlock()
	c.publish(key)
	return true
}

func (c *Controller) publish(key string) {
	if c.bus != nil {
		c.bus.Publish(Event{Type: EventSessionUpdated, ConversationKey: key})
	}
}
