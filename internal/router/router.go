package router

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/speak4all/coursefeed/internal/connection"
	"github.com/speak4all/coursefeed/internal/dedup"
	"github.com/speak4all/coursefeed/internal/event"
	"github.com/speak4all/coursefeed/internal/metrics"
)

// Router distributes incoming envelopes to registered sinks.
type Router interface {
	// Start begins routing envelopes from the input channel.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the router.
	Stop(ctx context.Context) error

	// Register subscribes a sink to the given event types on one channel
	// (or AnyChannel). The returned id cancels the subscription.
	Register(channelID int64, types []event.Type, sink Sink) uuid.UUID

	// Unregister removes a subscription. Unknown ids are a no-op.
	Unregister(id uuid.UUID)

	// Stats returns current router statistics.
	Stats() Stats
}

// router is the internal implementation.
type router struct {
	cfg    Config
	logger *slog.Logger

	input  <-chan connection.Inbound
	window *dedup.Window

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.RWMutex
	sinks        []*registration
	received     int64
	delivered    int64
	duplicates   int64
	crossChannel int64
	filtered     int64
	unknown      int64
}

// New creates a Router reading from input. The window carries dedup state
// across reconnects and may be shared with the catalog, which clears it on
// logout.
func New(cfg Config, input <-chan connection.Inbound, window *dedup.Window, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	if window == nil {
		window = dedup.NewWindow()
	}

	return &router{
		cfg:    cfg,
		logger: logger,
		input:  input,
		window: window,
	}
}

// Start begins routing envelopes.
func (r *router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(2)
	go r.routeLoop()
	go func() {
		defer r.wg.Done()
		r.window.Run(r.ctx, r.cfg.SweepInterval)
	}()

	r.logger.Info("event router started", "user_id", r.cfg.UserID)
	return nil
}

// Stop gracefully shuts down the router.
func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping event router")

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("event router stopped")
	case <-ctx.Done():
		r.logger.Warn("event router stop timed out")
	}

	return nil
}

// Register subscribes a sink.
func (r *router) Register(channelID int64, types []event.Type, sink Sink) uuid.UUID {
	id := uuid.New()

	typeSet := make(map[event.Type]struct{}, len(types))
	for _, t := range types {
		typeSet[t] = struct{}{}
	}

	r.mu.Lock()
	r.sinks = append(r.sinks, &registration{
		id:        id.String(),
		channelID: channelID,
		types:     typeSet,
		sink:      sink,
	})
	r.mu.Unlock()

	return id
}

// Unregister removes a subscription.
func (r *router) Unregister(id uuid.UUID) {
	key := id.String()

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, reg := range r.sinks {
		if reg.id == key {
			r.sinks = append(r.sinks[:i], r.sinks[i+1:]...)
			return
		}
	}
}

// Stats returns current statistics.
func (r *router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		Received:     r.received,
		Delivered:    r.delivered,
		Duplicates:   r.duplicates,
		CrossChannel: r.crossChannel,
		Filtered:     r.filtered,
		Unknown:      r.unknown,
		Sinks:        len(r.sinks),
		WindowSize:   r.window.Len(),
	}
}

// routeLoop is the main routing goroutine.
func (r *router) routeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case in, ok := <-r.input:
			if !ok {
				r.logger.Info("input channel closed")
				return
			}
			r.route(in)
		}
	}
}

// route runs a single envelope through the pipeline.
func (r *router) route(in connection.Inbound) {
	env := in.Envelope

	r.mu.Lock()
	r.received++
	r.mu.Unlock()

	if env.Type.Control() {
		// Ack and keepalive replies are consumed here; the server sends
		// "connected" on handshake and "pong" for each ping.
		r.logger.Debug("control message", "type", env.Type, "channel_id", in.ChannelID)
		return
	}

	if !env.Type.Domain() {
		r.mu.Lock()
		r.unknown++
		r.mu.Unlock()
		metrics.EnvelopesDropped.WithLabelValues(metrics.ReasonUnknownType).Inc()
		r.logger.Debug("ignoring unknown event type", "type", env.Type)
		return
	}

	// An envelope naming a course other than the channel it arrived on is
	// either a server bug or stale routing state upstream.
	if target, ok := env.TargetChannel(); ok && target != in.ChannelID {
		r.mu.Lock()
		r.crossChannel++
		r.mu.Unlock()
		metrics.EnvelopesDropped.WithLabelValues(metrics.ReasonCrossChannel).Inc()
		r.logger.Warn("dropping cross-channel event",
			"type", env.Type,
			"channel_id", in.ChannelID,
			"claimed_channel", target,
		)
		return
	}

	if !r.window.Insert(fingerprint(in), env.Type.TTL()) {
		r.mu.Lock()
		r.duplicates++
		r.mu.Unlock()
		metrics.EnvelopesDropped.WithLabelValues(metrics.ReasonDuplicate).Inc()
		r.logger.Debug("dropping duplicate event",
			"type", env.Type,
			"entity_id", env.EntityID(),
			"channel_id", in.ChannelID,
		)
		return
	}

	if addressee, ok := env.Addressee(); ok && r.cfg.UserID != 0 && addressee != r.cfg.UserID {
		r.mu.Lock()
		r.filtered++
		r.mu.Unlock()
		metrics.EnvelopesDropped.WithLabelValues(metrics.ReasonAddressee).Inc()
		r.logger.Debug("event addressed to another user",
			"type", env.Type,
			"addressee", addressee,
		)
		return
	}

	r.dispatch(in)
}

// dispatch hands the envelope to every matching sink in registration order.
func (r *router) dispatch(in connection.Inbound) {
	r.mu.RLock()
	matched := make([]*registration, 0, len(r.sinks))
	for _, reg := range r.sinks {
		if reg.matches(in.ChannelID, in.Envelope.Type) {
			matched = append(matched, reg)
		}
	}
	r.mu.RUnlock()

	if len(matched) == 0 {
		return
	}

	for _, reg := range matched {
		r.invoke(reg, in)
	}

	r.mu.Lock()
	r.delivered++
	r.mu.Unlock()
	metrics.EnvelopesDelivered.WithLabelValues(string(in.Envelope.Type)).Inc()
}

// invoke calls one sink, isolating panics so one bad handler cannot stop
// delivery to the rest.
func (r *router) invoke(reg *registration, in connection.Inbound) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("sink panicked",
				"sink_id", reg.id,
				"type", in.Envelope.Type,
				"panic", p,
			)
		}
	}()
	reg.sink(in)
}

// fingerprint builds the dedup key for an envelope. The window token is
// the server timestamp when present, so retransmissions without one
// collapse onto a single key.
func fingerprint(in connection.Inbound) dedup.Key {
	var window int64
	if ts, ok := in.Envelope.ServerTimestamp(); ok {
		window = ts.Unix()
	}
	return dedup.Key{
		Type:    string(in.Envelope.Type),
		Entity:  in.Envelope.EntityID(),
		Channel: in.ChannelID,
		Window:  window,
	}
}
