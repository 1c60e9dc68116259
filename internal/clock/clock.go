// Package clock drives periodic ticks for tracked entities, keeping at most
// one live timer per key.
package clock

import (
	"log/slog"
	"sync"
	"time"
)

// TickFunc runs once per interval. Ticks for one handle never overlap.
type TickFunc func(now time.Time)

type Handle struct {
	key      string
	interval time.Duration
	ticker   *time.Ticker
	done     chan struct{}
	once     sync.Once
}

func (h *Handle) Interval() time.Duration { return h.interval }

// Done is closed once the handle is stopped.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *Handle) stop() {
	h.once.Do(func() {
		h.ticker.Stop()
		close(h.done)
	})
}

type Clock struct {
	mu     sync.Mutex
	active map[string]*Handle
	logger *slog.Logger

	// OnRestart, when set, is called whenever Start replaces a live handle.
	OnRestart func(key string)
	// OnPanic, when set, is called after a tick panic has been recovered.
	OnPanic func(key string)
}

func New(logger *slog.Logger) *Clock {
	if logger == nil {
		logger = slog.Default()
	}
	return &Clock{active: make(map[string]*Handle), logger: logger}
}

// Start begins ticking fn every interval under key. A live handle for the
// same key is stopped first; that is a caller lifecycle bug, so it is logged.
func (c *Clock) Start(key string, interval time.Duration, fn TickFunc) *Handle {
	if interval <= 0 {
		interval = time.Second
	}
	h := &Handle{
		key:      key,
		interval: interval,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
	}

	c.mu.Lock()
	prev, restarted := c.active[key]
	if restarted {
		prev.stop()
	}
	c.active[key] = h
	c.mu.Unlock()

	if restarted {
		c.logger.Warn("tracking timer already active; stopping previous timer", "key", key)
		if c.OnRestart != nil {
			c.OnRestart(key)
		}
	}

	go c.run(h, fn)
	return h
}

// Stop is idempotent and accepts nil.
func (c *Clock) Stop(h *Handle) {
	if h == nil {
		return
	}
	c.mu.Lock()
	if c.active[h.key] == h {
		delete(c.active, h.key)
	}
	c.mu.Unlock()
	h.stop()
}

// Active reports whether key currently has a live handle.
func (c *Clock) Active(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[key]
	return ok
}

func (c *Clock) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// StopAll stops every live handle, used on shutdown.
func (c *Clock) StopAll() {
	c.mu.Lock()
	handles := make([]*Handle, 0, len(c.active))
	for _, h := range c.active {
		handles = append(handles, h)
	}
	c.active = make(map[string]*Handle)
	c.mu.Unlock()
	for _, h := range handles {
		h.stop()
	}
}

func (c *Clock) run(h *Handle, fn TickFunc) {
	for {
		select {
		case <-h.done:
			return
		case now := <-h.ticker.C:
			// select picks randomly when both are ready
			if h.Stopped() {
				return
			}
			c.safeTick(h, fn, now)
		}
	}
}

func (c *Clock) safeTick(h *Handle, fn TickFunc, now time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("tick panic recovered", "key", h.key, "error", rec)
			if c.OnPanic != nil {
				c.OnPanic(h.key)
			}
		}
	}()
	fn(now)
}
