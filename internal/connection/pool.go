package connection

import (
	"context"
	"log/slog"
	"sync"

	"github.com/speak4all/coursefeed/internal/auth"
	"github.com/speak4all/coursefeed/internal/model"
)

// Pool maintains one Client per channel in the active subscription set,
// driven by catalog snapshots and a credential. Without a credential the
// pool holds zero connections.
type Pool struct {
	cfg    PoolConfig
	logger *slog.Logger

	out chan Inbound

	mu     sync.Mutex
	ctx    context.Context
	creds  *auth.Credentials
	active model.ChannelSet
	conns  map[int64]*Client
	closed bool
}

// NewPool creates a pool. creds may be nil; the pool then stays empty until
// SetCredentials provides one.
func NewPool(cfg PoolConfig, creds *auth.Credentials, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		cfg:    cfg,
		logger: logger,
		out:    make(chan Inbound, cfg.BufferSize),
		creds:  creds,
		conns:  make(map[int64]*Client),
	}
}

// Envelopes returns the shared channel all connections decode into.
func (p *Pool) Envelopes() <-chan Inbound {
	return p.out
}

// Run consumes catalog snapshots until ctx is cancelled or the snapshot
// channel closes, reconciling connections on each.
func (p *Pool) Run(ctx context.Context, snapshots <-chan model.ChannelSet) {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case set, ok := <-snapshots:
			if !ok {
				return
			}
			p.Reconcile(ctx, set)
		}
	}
}

// Reconcile computes the symmetric difference between the wanted channel
// set and current connections: new channels get a connection opened,
// removed channels get theirs closed, unchanged channels are left alone.
func (p *Pool) Reconcile(ctx context.Context, set model.ChannelSet) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.active = set
	if p.creds == nil {
		// No credential: the wanted set is empty regardless of the catalog.
		set = nil
	}

	var toClose []*Client
	for id, client := range p.conns {
		if !set.Contains(id) {
			toClose = append(toClose, client)
			delete(p.conns, id)
		}
	}

	var toOpen []*Client
	for _, ch := range set {
		if _, ok := p.conns[ch.ID]; ok {
			continue
		}
		client := NewClient(ClientConfig{
			BaseURL:          p.cfg.BaseURL,
			ChannelID:        ch.ID,
			Token:            p.creds.Token,
			PingInterval:     p.cfg.PingInterval,
			ReconnectDelay:   p.cfg.ReconnectDelay,
			HandshakeTimeout: p.cfg.HandshakeTimeout,
		}, p.out, p.logger.With("channel", ch.Slug))
		p.conns[ch.ID] = client
		toOpen = append(toOpen, client)
	}
	p.mu.Unlock()

	for _, client := range toClose {
		client.Close()
	}
	for _, client := range toOpen {
		// Dial failures are not fatal: the client retries on its own.
		if err := client.Open(ctx); err != nil && err != ErrClosed {
			p.logger.Warn("initial dial failed, will retry",
				"channel_id", client.ChannelID(),
				"error", err,
			)
		}
	}

	if len(toOpen) > 0 || len(toClose) > 0 {
		p.logger.Info("reconciled connections",
			"opened", len(toOpen),
			"closed", len(toClose),
			"total", len(set),
		)
	}
}

// SetCredentials swaps the credential used for connections. A nil
// credential closes every connection immediately. A rotated token closes
// and redials every connection so no transport keeps presenting the old
// token on reconnect.
func (p *Pool) SetCredentials(creds *auth.Credentials) {
	p.mu.Lock()
	prev := p.creds
	p.creds = creds

	if creds != nil && prev != nil && prev.Token == creds.Token {
		p.mu.Unlock()
		return
	}

	var toClose []*Client
	for id, client := range p.conns {
		toClose = append(toClose, client)
		delete(p.conns, id)
	}
	ctx := p.ctx
	set := p.active
	p.mu.Unlock()

	for _, client := range toClose {
		client.Close()
	}

	if creds == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.Reconcile(ctx, set)
}

// ChannelIDs returns the ids of channels with a live Client.
func (p *Pool) ChannelIDs() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]int64, 0, len(p.conns))
	for id := range p.conns {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns current statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	clients := make([]*Client, 0, len(p.conns))
	for _, c := range p.conns {
		clients = append(clients, c)
	}
	p.mu.Unlock()

	stats := PoolStats{Channels: len(clients)}
	for _, c := range clients {
		if c.State() == StateConnected {
			stats.Connected++
		}
	}
	return stats
}

// Close shuts every connection down and closes the shared envelope channel.
// Safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	conns := p.conns
	p.conns = make(map[int64]*Client)
	p.mu.Unlock()

	for _, client := range conns {
		client.Close()
	}
	close(p.out)

	p.logger.Info("connection pool closed", "connections", len(conns))
}
