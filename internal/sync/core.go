package sync

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fleetmsg/fleetmsg/internal/client"
	"github.com/fleetmsg/fleetmsg/internal/config"
	"github.com/fleetmsg/fleetmsg/internal/logging"
	"github.com/fleetmsg/fleetmsg/internal/store"
	"github.com/fleetmsg/fleetmsg/internal/transport"
)

// Core assembles the synchronization subsystems over one transport adapter
// and one event bus. The embedding surface (TUI, CLI) consumes Core and
// subscribes to the bus; nothing inside reaches for globals.
type Core struct {
	Bus       *Bus
	Directory *Directory
	Unread    *Tracker
	Session   *Controller

	logger zerolog.Logger
	store  *store.Store
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCore builds a Core from configuration. The forced-logout side channel is
// surfaced as an EventForcedLogout bus event.
func NewCore(cfg *config.Config) (*Core, error) {
	bus := NewBus()
	logger := logging.Component("core")

	adapter, err := transport.New(transport.Options{
		BaseURL:        cfg.API.BaseURL,
		Token:          cfg.API.Token,
		SessionID:      cfg.API.SessionID,
		RequestTimeout: cfg.API.RequestTimeout,
		OnForcedLogout: func(reason string) {
			bus.Publish(Event{Type: EventForcedLogout, Reason: reason})
		},
	})
	if err != nil {
		return nil, err
	}

	apiClient, err := client.New(client.Config{
		Adapter:      adapter,
		RetryDelay:   cfg.API.RetryDelay,
		StreamBuffer: cfg.Sync.StreamBuffer,
	})
	if err != nil {
		return nil, err
	}

	// A broken cache degrades to network-only paint, it never blocks startup.
	cache, err := store.Open(cfg.CachePath())
	if err != nil {
		logger.Warn().Err(err).Msg("local cache unavailable, instant paint disabled")
		cache = nil
	}

	directory := NewDirectory(DirectoryConfig{
		Client:              apiClient,
		Store:               cache,
		Bus:                 bus,
		ThreadLimit:         cfg.Sync.DirectoryLimit,
		ChannelPollInterval: cfg.Sync.ChannelPollInterval,
	})
	unread := NewTracker(TrackerConfig{
		Client:   apiClient,
		Store:    cache,
		Bus:      bus,
		Debounce: cfg.Sync.UnreadDebounce,
	})
	session := NewController(SessionConfig{
		Client:       apiClient,
		Unread:       unread,
		Bus:          bus,
		SelfRole:     cfg.API.Role,
		FastPageSize: cfg.Sync.FastPageSize,
		FillPageSize: cfg.Sync.FillPageSize,
	})

	return &Core{
		Bus:       bus,
		Directory: directory,
		Unread:    unread,
		Session:   session,
		logger:    logger,
		store:     cache,
	}, nil
}

// Start paints the cached directory and returns; the network load (directory
// and unread summary in parallel) and the directory push stream run in the
// background. The first paint never waits on the network. Load failures
// surface through the directory's stale and error state, not as a return
// value.
func (c *Core) Start(ctx context.Context) {
	c.Directory.PaintCache(ctx)

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return c.Directory.Refresh(gctx) })
		g.Go(func() error { return c.Unread.Refresh(gctx) })
		if err := g.Wait(); err != nil {
			c.logger.Warn().Err(err).Msg("initial load incomplete, serving last known state")
		}

		// Failure is logged by the directory; channel polling still runs.
		_ = c.Directory.Start(ctx)
	}()
}

// Close tears everything down in dependency order.
func (c *Core) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.Session.Close()
	c.Directory.Close()
	c.Unread.Close()
	c.Bus.Close()
	if c.store != nil {
		_ = c.store.Close()
	}
}
