package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/speak4all/coursefeed/internal/event"
	"github.com/speak4all/coursefeed/internal/metrics"
)

// Client is a single websocket connection to one channel.
type Client struct {
	cfg    ClientConfig
	logger *slog.Logger
	out    chan<- Inbound

	mu           sync.Mutex
	state        State
	conn         *websocket.Conn
	sessionQuit  chan struct{} // stops the keepalive loop of the current transport
	retryTimer   *time.Timer
	retries      int
	lastActivity time.Time
	closed       bool
	ctx          context.Context // dial context, held for retries

	wg sync.WaitGroup
}

// NewClient creates a Client for one channel. Decoded envelopes are sent on
// out; the channel is shared with the rest of the pool and never closed by
// the Client.
func NewClient(cfg ClientConfig, out chan<- Inbound, logger *slog.Logger) *Client {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
		out:    out,
		state:  StateDisconnected,
		ctx:    context.Background(),
	}
}

// endpoint builds the channel URL: {base}/channels/{id}?token={credential}.
func (c *Client) endpoint() string {
	return fmt.Sprintf("%s/channels/%d?token=%s",
		c.cfg.BaseURL, c.cfg.ChannelID, url.QueryEscape(c.cfg.Token))
}

// Open dials the channel endpoint. It is idempotent: any prior transport for
// this channel is dropped first. On dial failure the client transitions to
// StateReconnecting and retries after the fixed delay; the returned error
// reports the first attempt only.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.ctx = ctx
	c.dropTransportLocked()
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint(), nil)
	if err != nil {
		c.logger.Warn("dial failed", "error", err)
		c.scheduleRetry()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.retries = 0
	c.lastActivity = time.Now()
	c.setStateLocked(StateConnected)
	quit := make(chan struct{})
	c.sessionQuit = quit
	// Register the session goroutines before releasing the lock so a
	// concurrent Close cannot pass wg.Wait ahead of them.
	c.wg.Add(2)
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.keepaliveLoop(conn, quit)

	c.logger.Debug("connected", "channel_id", c.cfg.ChannelID)
	return nil
}

// Close tears the connection down for good: the retry timer is cancelled
// before this returns, so no delayed reconnect can fire afterwards. Safe to
// call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	conn := c.conn
	c.conn = nil
	if c.sessionQuit != nil {
		close(c.sessionQuit)
		c.sessionQuit = nil
	}
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}

	c.wg.Wait()
	return nil
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Retries returns the number of retries scheduled since the last
// successful open.
func (c *Client) Retries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

// LastActivity returns when the transport last produced a frame.
func (c *Client) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ChannelID returns the channel this client is bound to.
func (c *Client) ChannelID() int64 {
	return c.cfg.ChannelID
}

// readLoop decodes inbound frames until the transport fails or closes.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			c.handleTransportLoss(conn, err)
			return
		}

		c.mu.Lock()
		c.lastActivity = receivedAt
		c.mu.Unlock()

		env, derr := event.Decode(data)
		if derr != nil {
			// Malformed frames are never fatal to the connection.
			c.logger.Warn("dropping malformed frame",
				"channel_id", c.cfg.ChannelID,
				"error", derr,
			)
			metrics.DecodeErrors.Inc()
			continue
		}

		metrics.EnvelopesReceived.WithLabelValues(string(env.Type)).Inc()

		select {
		case c.out <- Inbound{ChannelID: c.cfg.ChannelID, Envelope: env, ReceivedAt: receivedAt}:
		default:
			c.logger.Warn("envelope buffer full, dropping message",
				"channel_id", c.cfg.ChannelID,
				"type", env.Type,
			)
		}
	}
}

// keepaliveLoop sends a plain text "ping" frame on a fixed cadence. No pong
// is expected; a silently dead link is only detected through the
// transport's own close signaling.
func (c *Client) keepaliveLoop(conn *websocket.Conn, quit <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				c.logger.Debug("keepalive write failed", "error", err)
			}
		}
	}
}

// handleTransportLoss decides between Reconnecting and Closed after a read
// error on the given transport.
func (c *Client) handleTransportLoss(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		// Deliberate shutdown, or this transport was already superseded.
		c.mu.Unlock()
		return
	}
	c.dropTransportLocked()
	c.mu.Unlock()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		// Code 1000: the peer ended the session on purpose.
		c.logger.Info("connection closed by peer", "channel_id", c.cfg.ChannelID)
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return
	}

	c.logger.Warn("abnormal closure",
		"channel_id", c.cfg.ChannelID,
		"error", err,
	)
	c.scheduleRetry()
}

// scheduleRetry arms the fixed-delay retry timer. Exactly one retry is
// pending at a time; Close cancels it synchronously.
func (c *Client) scheduleRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.setStateLocked(StateReconnecting)
	c.retries++
	metrics.Reconnects.Inc()

	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	ctx := c.ctx
	c.retryTimer = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		c.logger.Info("reconnecting", "channel_id", c.cfg.ChannelID, "attempt", c.Retries())
		// Open schedules the next retry itself if the dial fails again.
		_ = c.Open(ctx)
	})
}

// dropTransportLocked discards the current transport and stops its
// keepalive loop. Caller holds c.mu.
func (c *Client) dropTransportLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.sessionQuit != nil {
		close(c.sessionQuit)
		c.sessionQuit = nil
	}
}

// setStateLocked transitions the state and keeps the connection gauge in
// step. Caller holds c.mu.
func (c *Client) setStateLocked(next State) {
	if c.state == StateConnected && next != StateConnected {
		metrics.ConnectionsActive.Dec()
	}
	if c.state != StateConnected && next == StateConnected {
		metrics.ConnectionsActive.Inc()
	}
	c.state = next
}
