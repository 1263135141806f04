package sync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fleetmsg/fleetmsg/internal/client"
	"github.com/fleetmsg/fleetmsg/internal/logging"
	"github.com/fleetmsg/fleetmsg/internal/models"
	"github.com/fleetmsg/fleetmsg/internal/store"
)

// TrackerConfig configures an unread Tracker.
type TrackerConfig struct {
	Client *client.Client

	// Store journals mark-reads that failed to reach the server. Optional.
	Store *store.Store

	Bus *Bus

	// Debounce coalesces refresh requests during incoming-message bursts.
	Debounce time.Duration
}

// Tracker owns the unread summary cache. The summary endpoint is the single
// source of truth: counts are only ever replaced wholesale by Refresh or
// optimistically decremented by MarkRead, never incremented from push or poll
// signals, so concurrent events cannot double-count.
type Tracker struct {
	client *client.Client
	store  *store.Store
	bus    *Bus
	logger zerolog.Logger

	mu      sync.Mutex
	summary models.UnreadSummary
	lastErr error

	debouncer *Debouncer
	busSubID  string
	wg        sync.WaitGroup
}

// NewTracker creates a Tracker and subscribes it to directory-change and
// incoming-message events, both of which only request a debounced refresh.
func NewTracker(cfg TrackerConfig) *Tracker {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 350 * time.Millisecond
	}

	t := &Tracker{
		client:  cfg.Client,
		store:   cfg.Store,
		bus:     cfg.Bus,
		logger:  logging.Component("unread"),
		summary: models.UnreadSummary{PerConversation: map[string]models.UnreadStatus{}},
	}
	t.debouncer = NewDebouncer(debounce, func() {
		if err := t.Refresh(context.Background()); err != nil {
			t.logger.Warn().Err(err).Msg("debounced unread refresh failed")
		}
	})

	if t.bus != nil {
		t.busSubID = "unread:" + uuid.NewString()
		_ = t.bus.Subscribe(t.busSubID, Filter{
			Types: []EventType{EventDirectoryUpdated, EventMessageReceived},
		}, func(Event) {
			t.RequestRefresh()
		})
	}
	return t
}

// Refresh replaces the summary with the server's authoritative state, then
// replays any journalled offline mark-reads.
func (t *Tracker) Refresh(ctx context.Context) error {
	summary, err := t.client.UnreadSummary(ctx)
	if err != nil {
		t.mu.Lock()
		t.lastErr = err
		t.mu.Unlock()
		return err
	}
	if summary.PerConversation == nil {
		summary.PerConversation = map[string]models.UnreadStatus{}
	}

	t.mu.Lock()
	t.summary = summary
	t.lastErr = nil
	t.mu.Unlock()

	t.publishChanged()
	t.flushPending(ctx)
	return nil
}

// RequestRefresh schedules a debounced refresh. Bursts collapse into one
// summary fetch.
func (t *Tracker) RequestRefresh() {
	t.debouncer.Trigger()
}

// MarkRead optimistically clears a conversation's unread flag and decrements
// the total (floored at zero), then acknowledges to the server without
// blocking. A failed acknowledgment is journalled and replayed once on the
// next refresh, with no second decrement.
func (t *Tracker) MarkRead(ctx context.Context, conv models.Conversation) {
	key := conv.Key()

	t.mu.Lock()
	status, ok := t.summary.PerConversation[key]
	if ok && status.HasUnread {
		status.HasUnread = false
		t.summary.PerConversation[key] = status
		if t.summary.TotalUnread > 0 {
			t.summary.TotalUnread--
		}
	}
	t.mu.Unlock()
	t.publishChanged()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.client.MarkRead(ctx, conv); err != nil {
			t.logger.Warn().Err(err).Str("conversation", key).Msg("mark-read failed, journalling for replay")
			if t.store != nil {
				if err := t.store.EnqueueRead(context.Background(), conv); err != nil {
					t.logger.Error().Err(err).Str("conversation", key).Msg("failed to journal mark-read")
				}
			}
		}
	}()
}

// flushPending replays journalled mark-reads. The optimistic decrement was
// applied at journal time, so replay only acknowledges.
func (t *Tracker) flushPending(ctx context.Context) {
	if t.store == nil {
		return
	}
	pending, err := t.store.PendingReads(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("failed to read mark-read journal")
		return
	}
	for _, conv := range pending {
		if err := t.client.MarkRead(ctx, conv); err != nil {
			// Still offline; keep the entry for the next refresh.
			continue
		}
		if err := t.store.ClearPendingRead(ctx, conv.Key()); err != nil {
			t.logger.Warn().Err(err).Str("conversation", conv.Key()).Msg("failed to clear mark-read journal entry")
		}
	}
}

// Summary returns a snapshot of the unread summary.
func (t *Tracker) Summary() models.UnreadSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary.Clone()
}

// TotalUnread returns the aggregate badge count.
func (t *Tracker) TotalUnread() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary.TotalUnread
}

// LastError returns the most recent refresh failure, nil after a success.
func (t *Tracker) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Close stops the debouncer, detaches from the bus, and waits for in-flight
// acknowledgments.
func (t *Tracker) Close() {
	t.debouncer.Stop()
	if t.bus != nil && t.busSubID != "" {
		_ = t.bus.Unsubscribe(t.busSubID)
	}
	t.wg.Wait()
}

func (t *Tracker) publishChanged() {
	if t.bus != nil {
		t.bus.Publish(Event{Type: EventUnreadChanged})
	}
}
