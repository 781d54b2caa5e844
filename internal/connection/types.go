package connection

import (
	"errors"
	"time"

	"github.com/speak4all/coursefeed/internal/event"
)

// ErrClosed is returned by Open after a deliberate Close.
var ErrClosed = errors.New("connection closed")

// State is the lifecycle state of a Client.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// Inbound is a decoded envelope tagged with the channel it arrived on, as
// handed to the router.
type Inbound struct {
	ChannelID  int64
	Envelope   event.Envelope
	ReceivedAt time.Time
}

// ClientConfig configures a single channel connection.
type ClientConfig struct {
	BaseURL          string        // websocket base URL, e.g. ws://localhost:8000
	ChannelID        int64         // channel this connection is bound to
	Token            string        // credential, passed as a query parameter
	PingInterval     time.Duration // keepalive cadence while connected
	ReconnectDelay   time.Duration // fixed delay before each retry
	HandshakeTimeout time.Duration // dial deadline
	WriteTimeout     time.Duration // write deadline for keepalive frames
}

func (c *ClientConfig) applyDefaults() {
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

// PoolConfig configures the connection pool.
type PoolConfig struct {
	BaseURL          string
	PingInterval     time.Duration
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	BufferSize       int // capacity of the shared envelope channel
}

// DefaultPoolConfig returns sensible defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		PingInterval:     30 * time.Second,
		ReconnectDelay:   3 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		BufferSize:       256,
	}
}

// PoolStats provides statistics about the pool.
type PoolStats struct {
	Channels  int // channels in the active set
	Connected int // connections currently in StateConnected
}
