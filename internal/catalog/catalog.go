package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/speak4all/coursefeed/internal/api"
	"github.com/speak4all/coursefeed/internal/auth"
	"github.com/speak4all/coursefeed/internal/bus"
	"github.com/speak4all/coursefeed/internal/dedup"
	"github.com/speak4all/coursefeed/internal/metrics"
	"github.com/speak4all/coursefeed/internal/model"
)

// Config holds subscription catalog configuration.
type Config struct {
	// RefreshInterval is how often the channel list is re-fetched while
	// a credential is present. Default: 5m.
	RefreshInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RefreshInterval: 5 * time.Minute,
	}
}

// Catalog maintains the set of subscribable channels for the session.
type Catalog interface {
	// Start begins watching the session bus and refreshing on a timer.
	Start(ctx context.Context) error

	// Stop gracefully shuts down.
	Stop(ctx context.Context) error

	// Channels returns the current snapshot.
	Channels() model.ChannelSet

	// Snapshots returns the stream of catalog snapshots. Only the latest
	// snapshot is retained when the consumer lags.
	Snapshots() <-chan model.ChannelSet

	// Refresh forces a fetch with the current credential.
	Refresh(ctx context.Context) error
}

// catalogImpl implements the Catalog interface.
type catalogImpl struct {
	cfg      Config
	rest     *api.Client
	sessions *bus.Bus
	window   *dedup.Window
	logger   *slog.Logger

	snapshots chan model.ChannelSet

	mu       sync.RWMutex
	creds    *auth.Credentials
	channels model.ChannelSet

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a subscription catalog. creds may be nil when the process
// boots without a session; a later login on the bus supplies one. window
// may be nil if no dedup state needs clearing on logout.
func New(cfg Config, rest *api.Client, sessions *bus.Bus, creds *auth.Credentials, window *dedup.Window, logger *slog.Logger) Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultConfig().RefreshInterval
	}

	return &catalogImpl{
		cfg:       cfg,
		rest:      rest,
		sessions:  sessions,
		window:    window,
		logger:    logger,
		snapshots: make(chan model.ChannelSet, 1),
		creds:     creds,
	}
}

// Start performs the initial fetch and begins the watch loop. A failed
// initial fetch is not fatal: the timer retries it.
func (c *catalogImpl) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.Refresh(c.ctx); err != nil {
		c.logger.Warn("initial catalog fetch failed, will retry", "error", err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.watchLoop()
	}()

	c.logger.Info("subscription catalog started",
		"channels", len(c.Channels()),
		"refresh_interval", c.cfg.RefreshInterval,
	)
	return nil
}

// Stop gracefully shuts down.
func (c *catalogImpl) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("subscription catalog stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Channels returns the current snapshot.
func (c *catalogImpl) Channels() model.ChannelSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels
}

// Snapshots returns the snapshot stream.
func (c *catalogImpl) Snapshots() <-chan model.ChannelSet {
	return c.snapshots
}

// Refresh fetches the channel list with the current credential. Without a
// credential it publishes the empty set. A fetch error keeps the previous
// snapshot so established connections are not torn down by a flaky
// backend.
func (c *catalogImpl) Refresh(ctx context.Context) error {
	c.mu.RLock()
	creds := c.creds
	c.mu.RUnlock()

	if creds == nil {
		c.setChannels(nil)
		return nil
	}

	channels, err := c.rest.GetMyChannels(ctx, creds.Token)
	if err != nil {
		metrics.CatalogRefreshes.WithLabelValues("error").Inc()
		c.logger.Warn("catalog fetch failed, keeping previous set",
			"channels", len(c.Channels()),
			"error", err,
		)
		return err
	}
	metrics.CatalogRefreshes.WithLabelValues("success").Inc()

	c.setChannels(channels)
	return nil
}

// watchLoop reacts to session bus messages and the refresh timer.
func (c *catalogImpl) watchLoop() {
	messages := c.sessions.Subscribe()

	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return

		case msg, ok := <-messages:
			if !ok {
				c.logger.Info("session bus closed")
				return
			}
			c.handleSession(msg)

		case <-ticker.C:
			c.mu.RLock()
			loggedIn := c.creds != nil
			c.mu.RUnlock()
			if loggedIn {
				c.Refresh(c.ctx)
			}
		}
	}
}

// handleSession applies a single bus message.
func (c *catalogImpl) handleSession(msg bus.Message) {
	switch msg.Kind {
	case bus.KindLogin, bus.KindTokenChanged:
		c.mu.Lock()
		c.creds = msg.Creds
		c.mu.Unlock()
		c.logger.Info("session credential updated", "kind", msg.Kind)
		c.Refresh(c.ctx)

	case bus.KindLogout:
		c.mu.Lock()
		c.creds = nil
		c.mu.Unlock()
		if c.window != nil {
			c.window.Clear()
		}
		c.logger.Info("session ended, clearing catalog")
		c.setChannels(nil)
	}
}

// setChannels stores a snapshot and publishes it, keeping only the latest
// when the consumer lags.
func (c *catalogImpl) setChannels(channels model.ChannelSet) {
	c.mu.Lock()
	c.channels = channels
	c.mu.Unlock()

	for {
		select {
		case c.snapshots <- channels:
			return
		default:
			select {
			case <-c.snapshots:
			default:
			}
		}
	}
}
