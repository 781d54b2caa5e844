package router

import (
	"time"

	"github.com/speak4all/coursefeed/internal/connection"
	"github.com/speak4all/coursefeed/internal/event"
)

// AnyChannel registers a sink for every channel.
const AnyChannel int64 = 0

// Sink receives envelopes that passed the routing pipeline. Sinks run on
// the routing goroutine, so a slow sink delays delivery to the ones
// registered after it.
type Sink func(connection.Inbound)

// Config holds router configuration.
type Config struct {
	// UserID is the authenticated user; envelopes explicitly addressed
	// to someone else are dropped. Zero disables the addressee filter.
	UserID int64

	// SweepInterval is how often expired dedup entries are evicted.
	// Default: 10s.
	SweepInterval time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		SweepInterval: 10 * time.Second,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Received     int64
	Delivered    int64
	Duplicates   int64
	CrossChannel int64
	Filtered     int64
	Unknown      int64
	Sinks        int
	WindowSize   int
}

// registration is one sink subscription.
type registration struct {
	id        string
	channelID int64
	types     map[event.Type]struct{}
	sink      Sink
}

func (r *registration) matches(channelID int64, t event.Type) bool {
	if r.channelID != AnyChannel && r.channelID != channelID {
		return false
	}
	_, ok := r.types[t]
	return ok
}
