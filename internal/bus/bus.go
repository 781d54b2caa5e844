// Package bus carries session control messages: login, logout and token
// changes. The catalog reacts to these instead of watching ambient shared
// state, so its refresh is always a response to an explicit input.
package bus

import (
	"sync"

	"github.com/speak4all/coursefeed/internal/auth"
)

// Kind discriminates session messages.
type Kind int

const (
	// KindLogin carries fresh credentials after a successful login.
	KindLogin Kind = iota

	// KindLogout carries no payload; every subscription must wind down.
	KindLogout

	// KindTokenChanged carries credentials refreshed out-of-band, e.g.
	// another client tab rotating the stored token.
	KindTokenChanged
)

func (k Kind) String() string {
	switch k {
	case KindLogin:
		return "login"
	case KindLogout:
		return "logout"
	case KindTokenChanged:
		return "token_changed"
	default:
		return "unknown"
	}
}

// Message is one session transition.
type Message struct {
	Kind  Kind
	Creds *auth.Credentials // nil for KindLogout
}

// subscriberBuffer bounds each subscriber channel. Session transitions are
// rare; a slow subscriber loses the oldest transition rather than blocking
// the publisher.
const subscriberBuffer = 16

// Bus fans session messages out to subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   []chan Message
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscriber. The returned channel is closed when
// the bus shuts down.
func (b *Bus) Subscribe() <-chan Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Message, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers the message to every subscriber without blocking.
func (b *Bus) Publish(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Login publishes a KindLogin message.
func (b *Bus) Login(creds *auth.Credentials) {
	b.Publish(Message{Kind: KindLogin, Creds: creds})
}

// Logout publishes a KindLogout message.
func (b *Bus) Logout() {
	b.Publish(Message{Kind: KindLogout})
}

// TokenChanged publishes a KindTokenChanged message.
func (b *Bus) TokenChanged(creds *auth.Credentials) {
	b.Publish(Message{Kind: KindTokenChanged, Creds: creds})
}

// Close shuts the bus down and closes all subscriber channels. Safe to call
// more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
