package sync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fleetmsg/fleetmsg/internal/client"
	"github.com/fleetmsg/fleetmsg/internal/logging"
	"github.com/fleetmsg/fleetmsg/internal/models"
	"github.com/fleetmsg/fleetmsg/internal/store"
	"github.com/fleetmsg/fleetmsg/internal/transport"
)

// DirectoryConfig configures a Directory.
type DirectoryConfig struct {
	Client *client.Client

	// Store is the optional local cache for instant paint. Without it the
	// first paint waits on the network.
	Store *store.Store

	Bus *Bus

	// ThreadLimit caps the direct-thread listing.
	ThreadLimit int

	// ChannelPollInterval refreshes broadcast channels, which have no delta
	// stream. Staleness window equals the interval.
	ChannelPollInterval time.Duration
}

// Directory owns the authoritative list of conversations: direct threads kept
// live by the directory push stream, broadcast channels refreshed by interval
// polling. A failed refresh never clears an already-populated list.
type Directory struct {
	client      *client.Client
	store       *store.Store
	bus         *Bus
	logger      zerolog.Logger
	threadLimit int

	mu            sync.Mutex
	conversations []models.Conversation
	stale         bool
	lastErr       error

	stream *transport.Stream
	poller *Poller
	wg     sync.WaitGroup
}

// NewDirectory creates a Directory.
func NewDirectory(cfg DirectoryConfig) *Directory {
	threadLimit := cfg.ThreadLimit
	if threadLimit <= 0 {
		threadLimit = 100
	}
	pollInterval := cfg.ChannelPollInterval
	if pollInterval <= 0 {
		pollInterval = 45 * time.Second
	}
	d := &Directory{
		client:      cfg.Client,
		store:       cfg.Store,
		bus:         cfg.Bus,
		logger:      logging.Component("directory"),
		threadLimit: threadLimit,
	}
	d.poller = NewPoller(pollInterval, d.pollChannels)
	return d
}

// Load paints the cached directory and then refreshes it from the network.
func (d *Directory) Load(ctx context.Context) error {
	d.PaintCache(ctx)
	return d.Refresh(ctx)
}

// PaintCache populates the list from the local cache and marks it stale. It
// never touches the network; it reports whether anything was painted.
func (d *Directory) PaintCache(ctx context.Context) bool {
	if d.store == nil {
		return false
	}
	cached, err := d.store.Conversations(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Msg("cache paint failed")
		return false
	}
	if len(cached) == 0 {
		return false
	}
	d.mu.Lock()
	d.conversations = cached
	d.stale = true
	d.mu.Unlock()
	d.publishUpdated()
	return true
}

// Refresh replaces the list with the network result. A failure keeps the last
// known list and records the error.
func (d *Directory) Refresh(ctx context.Context) error {
	var threads, channels []models.Conversation
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		threads, err = d.client.ListThreads(gctx, d.threadLimit)
		return err
	})
	g.Go(func() error {
		var err error
		channels, err = d.client.ListChannels(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		d.mu.Lock()
		d.lastErr = err
		d.mu.Unlock()
		d.logger.Warn().Err(err).Msg("directory refresh failed, keeping last known list")
		d.publishUpdated()
		return err
	}

	full := append(append([]models.Conversation(nil), threads...), channels...)
	sortByActivity(full)

	d.mu.Lock()
	d.conversations = full
	d.stale = false
	d.lastErr = nil
	d.mu.Unlock()

	d.persist(ctx)
	d.publishUpdated()
	return nil
}

// Start opens the directory push stream and begins channel polling. The
// directory-level stream persists across conversation selections; polling
// starts even when the stream is unavailable.
func (d *Directory) Start(ctx context.Context) error {
	d.poller.Start(ctx)

	since := d.latestUpdatedAt()
	stream, err := d.client.StreamDirectory(ctx, since, d.threadLimit)
	if err != nil {
		d.logger.Warn().Err(err).Msg("directory stream unavailable")
		return err
	}

	d.mu.Lock()
	d.stream = stream
	d.mu.Unlock()

	d.wg.Add(1)
	go d.consume(stream)
	return nil
}

func (d *Directory) consume(stream *transport.Stream) {
	defer d.wg.Done()
	for evt := range stream.Events() {
		if evt.Type != client.EventTypeThreads {
			continue
		}
		deltas, err := client.DecodeThreadsEvent(evt)
		if err != nil {
			d.logger.Warn().Err(err).Msg("dropping malformed directory delta")
			continue
		}
		d.Upsert(deltas)
	}
	if err := stream.Err(); err != nil {
		// Dropped directory streams are not reconnected; channel polling and
		// manual refresh still converge the list.
		d.logger.Warn().Err(err).Msg("directory stream ended")
	}
}

// Upsert merges partial conversation deltas into the list by namespaced key
// and re-sorts by updated_at descending. A delta never replaces the whole
// collection.
func (d *Directory) Upsert(deltas []models.Conversation) {
	if len(deltas) == 0 {
		return
	}

	d.mu.Lock()
	for _, delta := range deltas {
		if delta.ID == "" {
			continue
		}
		found := false
		for i := range d.conversations {
			if d.conversations[i].Key() == delta.Key() {
				d.conversations[i] = d.conversations[i].Merge(delta)
				found = true
				break
			}
		}
		if !found {
			d.conversations = append(d.conversations, delta)
		}
	}
	sortByActivity(d.conversations)
	d.mu.Unlock()

	d.persist(context.Background())
	d.publishUpdated()
}

// pollChannels refreshes the broadcast-channel entries on the poll tick.
func (d *Directory) pollChannels(ctx context.Context) {
	channels, err := d.client.ListChannels(ctx)
	if err != nil {
		d.mu.Lock()
		d.lastErr = err
		d.mu.Unlock()
		d.logger.Warn().Err(err).Msg("channel poll failed, keeping last known channels")
		return
	}

	d.mu.Lock()
	kept := d.conversations[:0]
	for _, conv := range d.conversations {
		if !conv.IsChannel() {
			kept = append(kept, conv)
		}
	}
	d.conversations = append(kept, channels...)
	sortByActivity(d.conversations)
	d.lastErr = nil
	d.mu.Unlock()

	d.persist(ctx)
	d.publishUpdated()
}

// Conversations returns a snapshot of the directory, newest activity first.
func (d *Directory) Conversations() []models.Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.Conversation(nil), d.conversations...)
}

// Lookup finds a conversation by namespaced key.
func (d *Directory) Lookup(key string) (models.Conversation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, conv := range d.conversations {
		if conv.Key() == key {
			return conv, true
		}
	}
	return models.Conversation{}, false
}

// Stale reports whether the current list came from cache only.
func (d *Directory) Stale() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stale
}

// LastError returns the most recent refresh failure, nil after a success.
func (d *Directory) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// Close tears down the stream and the channel poller.
func (d *Directory) Close() {
	d.mu.Lock()
	stream := d.stream
	d.stream = nil
	d.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	d.poller.Stop()
	d.wg.Wait()
}

func (d *Directory) latestUpdatedAt() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var latest int64
	for _, conv := range d.conversations {
		if conv.UpdatedAt > latest {
			latest = conv.UpdatedAt
		}
	}
	return latest
}

func (d *Directory) persist(ctx context.Context) {
	if d.store == nil {
		return
	}
	d.mu.Lock()
	snapshot := append([]models.Conversation(nil), d.conversations...)
	d.mu.Unlock()
	if err := d.store.SaveConversations(ctx, snapshot); err != nil {
		d.logger.Warn().Err(err).Msg("failed to persist directory cache")
	}
}

func (d *Directory) publishUpdated() {
	if d.bus != nil {
		d.bus.Publish(Event{Type: EventDirectoryUpdated})
	}
}

func sortByActivity(conversations []models.Conversation) {
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt > conversations[j].UpdatedAt
	})
}
