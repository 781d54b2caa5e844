package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/speak4all/coursefeed/internal/api"
	"github.com/speak4all/coursefeed/internal/auth"
	"github.com/speak4all/coursefeed/internal/bus"
	"github.com/speak4all/coursefeed/internal/dedup"
	"github.com/speak4all/coursefeed/internal/model"
)

// catalogServer serves /courses/my with a swappable channel list.
type catalogServer struct {
	mu       sync.Mutex
	channels []model.Channel
	fail     bool
	tokens   []string
}

func (s *catalogServer) set(channels []model.Channel, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = channels
	s.fail = fail
}

func (s *catalogServer) seenTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

func (s *catalogServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.tokens = append(s.tokens, r.Header.Get("Authorization"))
		if s.fail {
			http.Error(w, `{"message":"backend down"}`, http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"items": s.channels})
	})
}

func testCreds(token string) *auth.Credentials {
	return &auth.Credentials{
		Token:   token,
		Profile: auth.Profile{ID: 5, Role: auth.RoleStudent},
	}
}

func newTestCatalog(t *testing.T, backend *catalogServer, creds *auth.Credentials, window *dedup.Window) (Catalog, *bus.Bus) {
	t.Helper()

	server := httptest.NewServer(backend.handler())
	t.Cleanup(server.Close)

	rest := api.NewClient(server.URL, api.WithRetries(0, 0))

	sessions := bus.New()
	t.Cleanup(sessions.Close)

	c := New(DefaultConfig(), rest, sessions, creds, window, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		c.Stop(ctx)
	})

	return c, sessions
}

func awaitSnapshot(t *testing.T, c Catalog, want int) model.ChannelSet {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		set := c.Channels()
		if len(set) == want {
			return set
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Channels() = %v, want %d entries", c.Channels(), want)
	return nil
}

func TestCatalog_InitialFetch(t *testing.T) {
	backend := &catalogServer{}
	backend.set([]model.Channel{
		{ID: 1, Name: "Articulation", Slug: "articulation"},
		{ID: 2, Name: "Fluency", Slug: "fluency"},
	}, false)

	c, _ := newTestCatalog(t, backend, testCreds("tok-a"), nil)

	set := awaitSnapshot(t, c, 2)
	if !set.Contains(1) || !set.Contains(2) {
		t.Errorf("Channels = %v, want ids 1 and 2", set)
	}

	select {
	case snap := <-c.Snapshots():
		if len(snap) != 2 {
			t.Errorf("snapshot = %v, want 2 entries", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot published")
	}
}

func TestCatalog_NoCredentialMeansEmptySet(t *testing.T) {
	backend := &catalogServer{}
	backend.set([]model.Channel{{ID: 1}}, false)

	c, _ := newTestCatalog(t, backend, nil, nil)

	awaitSnapshot(t, c, 0)
	if tokens := backend.seenTokens(); len(tokens) != 0 {
		t.Errorf("backend called %d times without a credential", len(tokens))
	}
}

func TestCatalog_FetchErrorKeepsPreviousSet(t *testing.T) {
	backend := &catalogServer{}
	backend.set([]model.Channel{{ID: 1}, {ID: 2}}, false)

	c, _ := newTestCatalog(t, backend, testCreds("tok-a"), nil)
	awaitSnapshot(t, c, 2)

	backend.set(nil, true)
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}

	if set := c.Channels(); len(set) != 2 {
		t.Errorf("Channels = %v, want previous 2 entries after failed fetch", set)
	}
}

func TestCatalog_LoginTriggersRefetch(t *testing.T) {
	backend := &catalogServer{}
	backend.set([]model.Channel{{ID: 3}}, false)

	c, sessions := newTestCatalog(t, backend, nil, nil)
	awaitSnapshot(t, c, 0)

	sessions.Login(testCreds("tok-fresh"))

	awaitSnapshot(t, c, 1)
	tokens := backend.seenTokens()
	if len(tokens) == 0 || tokens[len(tokens)-1] != "Bearer tok-fresh" {
		t.Errorf("tokens = %v, want last fetch with Bearer tok-fresh", tokens)
	}
}

func TestCatalog_LogoutClearsSetAndWindow(t *testing.T) {
	backend := &catalogServer{}
	backend.set([]model.Channel{{ID: 1}}, false)

	window := dedup.NewWindow()
	window.Insert(dedup.Key{Type: "submission_created", Entity: 9, Channel: 1}, time.Minute)

	c, sessions := newTestCatalog(t, backend, testCreds("tok-a"), window)
	awaitSnapshot(t, c, 1)

	sessions.Logout()

	awaitSnapshot(t, c, 0)
	deadline := time.Now().Add(time.Second)
	for window.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if window.Len() != 0 {
		t.Errorf("window.Len() = %d, want 0 after logout", window.Len())
	}
}

func TestCatalog_TokenChangeUsesNewToken(t *testing.T) {
	backend := &catalogServer{}
	backend.set([]model.Channel{{ID: 1}}, false)

	c, sessions := newTestCatalog(t, backend, testCreds("tok-old"), nil)
	awaitSnapshot(t, c, 1)

	sessions.TokenChanged(testCreds("tok-new"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tokens := backend.seenTokens()
		if len(tokens) > 0 && tokens[len(tokens)-1] == "Bearer tok-new" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("tokens = %v, want a fetch with Bearer tok-new", backend.seenTokens())
}
