package db

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultKeepaliveInterval is how often the background loop probes the
// connection when no config overrides it.
const DefaultKeepaliveInterval = 30 * time.Second

// Keepalive periodically probes the managed connection so silent disconnects
// are detected and repaired during idle periods. Probes go through the
// manager's lock, so a tick never overlaps a foreground query.
type Keepalive struct {
	manager  *Manager
	interval time.Duration
	log      *slog.Logger

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewKeepalive(m *Manager, interval time.Duration, logger *slog.Logger) *Keepalive {
	if interval <= 0 {
		interval = DefaultKeepaliveInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Keepalive{
		manager:  m,
		interval: interval,
		log:      logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the loop in the background.
func (k *Keepalive) Start() {
	go k.run()
}

// Stop signals the loop to exit and waits for the in-flight tick, if any, to
// finish. Safe to call more than once.
func (k *Keepalive) Stop() {
	k.once.Do(func() {
		close(k.stop)
	})
	<-k.done
}

func (k *Keepalive) run() {
	defer close(k.done)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-k.stop:
			return
		case <-ticker.C:
			k.tick()
		}
	}
}

// tick probes the connection when connected. A failure that survives the
// manager's own single reconnect is logged and swallowed: the loop keeps
// ticking, and the next foreground query re-attempts the connection itself.
func (k *Keepalive) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), k.interval)
	defer cancel()

	if err := k.manager.Probe(ctx); err != nil {
		k.log.Warn("keepalive probe failed", "error", err)
	}
}
