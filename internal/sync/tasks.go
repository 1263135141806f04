package sync

import (
	"context"
	"sync"
	"time"
)

// Debouncer coalesces bursts of triggers into a single invocation after a
// quiet window. Stop cancels any armed timer so no callback can outlive its
// owner's teardown.
type Debouncer struct {
	window time.Duration
	fn     func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	wg      sync.WaitGroup
}

// NewDebouncer creates a Debouncer invoking fn after each quiet window.
func NewDebouncer(window time.Duration, fn func()) *Debouncer {
	return &Debouncer{window: window, fn: fn}
}

// Trigger arms or re-arms the timer. Calls during the window collapse into
// one invocation.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer == nil {
		d.timer = time.AfterFunc(d.window, d.fire)
		return
	}
	d.timer.Reset(d.window)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	// Registered under the lock so Stop either sees stopped before the
	// callback starts or waits for it to finish.
	d.wg.Add(1)
	d.mu.Unlock()
	defer d.wg.Done()
	d.fn()
}

// Stop disarms the debouncer permanently. It does not return until any
// callback already running has finished.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Poller invokes fn on a fixed interval until its context ends or Stop is
// called.
type Poller struct {
	interval time.Duration
	fn       func(context.Context)

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewPoller creates a Poller. It does not start until Start is called.
func NewPoller(interval time.Duration, fn func(context.Context)) *Poller {
	return &Poller{interval: interval, fn: fn}
}

// Start begins the polling loop. Starting a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.fn(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight tick, if any.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()
	p.wg.Wait()
}
