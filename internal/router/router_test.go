package router

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/speak4all/coursefeed/internal/connection"
	"github.com/speak4all/coursefeed/internal/dedup"
	"github.com/speak4all/coursefeed/internal/event"
)

func mustEnvelope(t *testing.T, raw string) event.Envelope {
	t.Helper()
	env, err := event.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode(%q) failed: %v", raw, err)
	}
	return env
}

func inbound(t *testing.T, channelID int64, raw string) connection.Inbound {
	t.Helper()
	return connection.Inbound{
		ChannelID:  channelID,
		Envelope:   mustEnvelope(t, raw),
		ReceivedAt: time.Now(),
	}
}

// startRouter wires a router to an input channel and returns both plus a
// cleanup-registered stop.
func startRouter(t *testing.T, cfg Config) (Router, chan connection.Inbound) {
	t.Helper()

	input := make(chan connection.Inbound, 32)
	r := New(cfg, input, dedup.NewWindow(), nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		r.Stop(ctx)
	})
	return r, input
}

func collectSink(out chan<- connection.Inbound) Sink {
	return func(in connection.Inbound) {
		out <- in
	}
}

func expectDelivery(t *testing.T, out <-chan connection.Inbound, want event.Type) connection.Inbound {
	t.Helper()
	select {
	case in := <-out:
		if in.Envelope.Type != want {
			t.Fatalf("delivered type = %v, want %v", in.Envelope.Type, want)
		}
		return in
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %v delivery", want)
		return connection.Inbound{}
	}
}

func expectNoDelivery(t *testing.T, out <-chan connection.Inbound) {
	t.Helper()
	select {
	case in := <-out:
		t.Fatalf("unexpected delivery: %v", in.Envelope.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRouter_DeliversToMatchingSink(t *testing.T) {
	r, input := startRouter(t, DefaultConfig())

	out := make(chan connection.Inbound, 8)
	r.Register(AnyChannel, event.SubmissionTypes, collectSink(out))

	input <- inbound(t, 3, `{"type":"submission_created","data":{"submission_id":11,"course_id":3}}`)

	in := expectDelivery(t, out, event.TypeSubmissionCreated)
	if in.ChannelID != 3 {
		t.Errorf("ChannelID = %d, want 3", in.ChannelID)
	}

	// An exercise event does not reach a submission sink.
	input <- inbound(t, 3, `{"type":"exercise_published","data":{"exercise_id":5,"course_id":3}}`)
	expectNoDelivery(t, out)
}

func TestRouter_ChannelScopedRegistration(t *testing.T) {
	r, input := startRouter(t, DefaultConfig())

	out := make(chan connection.Inbound, 8)
	r.Register(7, event.ExerciseTypes, collectSink(out))

	// Same type on a different channel: not delivered to this sink.
	input <- inbound(t, 4, `{"type":"exercise_published","data":{"exercise_id":1,"course_id":4}}`)
	expectNoDelivery(t, out)

	input <- inbound(t, 7, `{"type":"exercise_published","data":{"exercise_id":2,"course_id":7}}`)
	expectDelivery(t, out, event.TypeExercisePublished)
}

func TestRouter_RegistrationOrderPreserved(t *testing.T) {
	r, input := startRouter(t, DefaultConfig())

	order := make(chan string, 8)
	r.Register(AnyChannel, event.SubmissionTypes, func(connection.Inbound) { order <- "first" })
	r.Register(AnyChannel, event.SubmissionTypes, func(connection.Inbound) { order <- "second" })
	r.Register(AnyChannel, event.SubmissionTypes, func(connection.Inbound) { order <- "third" })

	input <- inbound(t, 1, `{"type":"submission_created","data":{"submission_id":1,"course_id":1}}`)

	for _, want := range []string{"first", "second", "third"} {
		select {
		case got := <-order:
			if got != want {
				t.Fatalf("delivery order: got %q, want %q", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestRouter_CrossChannelEventDropped(t *testing.T) {
	r, input := startRouter(t, DefaultConfig())

	out := make(chan connection.Inbound, 8)
	r.Register(AnyChannel, event.SubmissionTypes, collectSink(out))

	// course_id 9 arriving on channel 3: rejected.
	input <- inbound(t, 3, `{"type":"submission_created","data":{"submission_id":1,"course_id":9}}`)
	expectNoDelivery(t, out)

	stats := r.Stats()
	if stats.CrossChannel != 1 {
		t.Errorf("CrossChannel = %d, want 1", stats.CrossChannel)
	}
	if stats.Delivered != 0 {
		t.Errorf("Delivered = %d, want 0", stats.Delivered)
	}
}

func TestRouter_DuplicatesCollapse(t *testing.T) {
	r, input := startRouter(t, DefaultConfig())

	out := make(chan connection.Inbound, 8)
	r.Register(AnyChannel, event.SubmissionTypes, collectSink(out))

	raw := `{"type":"submission_created","data":{"submission_id":44,"course_id":2}}`
	input <- inbound(t, 2, raw)
	input <- inbound(t, 2, raw)
	input <- inbound(t, 2, raw)

	expectDelivery(t, out, event.TypeSubmissionCreated)
	expectNoDelivery(t, out)

	if got := r.Stats().Duplicates; got != 2 {
		t.Errorf("Duplicates = %d, want 2", got)
	}
}

func TestRouter_DistinctTimestampsAreDistinctEvents(t *testing.T) {
	r, input := startRouter(t, DefaultConfig())

	out := make(chan connection.Inbound, 8)
	r.Register(AnyChannel, event.SubmissionTypes, collectSink(out))

	base := time.Now().Unix()
	for i := int64(0); i < 2; i++ {
		raw := fmt.Sprintf(
			`{"type":"submission_updated","data":{"submission_id":44,"course_id":2,"timestamp":%d}}`,
			base+i,
		)
		input <- inbound(t, 2, raw)
	}

	expectDelivery(t, out, event.TypeSubmissionUpdated)
	expectDelivery(t, out, event.TypeSubmissionUpdated)
}

func TestRouter_SameEntityDifferentTypesBothDeliver(t *testing.T) {
	r, input := startRouter(t, DefaultConfig())

	out := make(chan connection.Inbound, 8)
	r.Register(AnyChannel, event.DomainTypes, collectSink(out))

	input <- inbound(t, 2, `{"type":"submission_created","data":{"submission_id":5,"course_id":2}}`)
	input <- inbound(t, 2, `{"type":"submission_updated","data":{"submission_id":5,"course_id":2}}`)

	expectDelivery(t, out, event.TypeSubmissionCreated)
	expectDelivery(t, out, event.TypeSubmissionUpdated)
}

func TestRouter_AddresseeFilter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UserID = 42
	r, input := startRouter(t, cfg)

	out := make(chan connection.Inbound, 8)
	r.Register(AnyChannel, event.SubmissionTypes, collectSink(out))

	// Addressed to another therapist: dropped.
	input <- inbound(t, 1, `{"type":"submission_created","data":{"submission_id":1,"course_id":1,"therapist_id":99}}`)
	expectNoDelivery(t, out)

	// Addressed to us: delivered.
	input <- inbound(t, 1, `{"type":"submission_created","data":{"submission_id":2,"course_id":1,"therapist_id":42}}`)
	expectDelivery(t, out, event.TypeSubmissionCreated)

	// No addressee at all: delivered.
	input <- inbound(t, 1, `{"type":"submission_created","data":{"submission_id":3,"course_id":1}}`)
	expectDelivery(t, out, event.TypeSubmissionCreated)

	if got := r.Stats().Filtered; got != 1 {
		t.Errorf("Filtered = %d, want 1", got)
	}
}

func TestRouter_PanickingSinkIsIsolated(t *testing.T) {
	r, input := startRouter(t, DefaultConfig())

	out := make(chan connection.Inbound, 8)
	r.Register(AnyChannel, event.SubmissionTypes, func(connection.Inbound) {
		panic("handler bug")
	})
	r.Register(AnyChannel, event.SubmissionTypes, collectSink(out))

	input <- inbound(t, 1, `{"type":"submission_created","data":{"submission_id":1,"course_id":1}}`)
	expectDelivery(t, out, event.TypeSubmissionCreated)

	// The loop survives for the next envelope too.
	input <- inbound(t, 1, `{"type":"submission_created","data":{"submission_id":2,"course_id":1}}`)
	expectDelivery(t, out, event.TypeSubmissionCreated)
}

func TestRouter_Unregister(t *testing.T) {
	r, input := startRouter(t, DefaultConfig())

	out := make(chan connection.Inbound, 8)
	id := r.Register(AnyChannel, event.SubmissionTypes, collectSink(out))

	input <- inbound(t, 1, `{"type":"submission_created","data":{"submission_id":1,"course_id":1}}`)
	expectDelivery(t, out, event.TypeSubmissionCreated)

	r.Unregister(id)

	input <- inbound(t, 1, `{"type":"submission_created","data":{"submission_id":2,"course_id":1}}`)
	expectNoDelivery(t, out)

	if got := r.Stats().Sinks; got != 0 {
		t.Errorf("Sinks = %d, want 0", got)
	}
}

func TestRouter_NoMatchingSinkNotCountedDelivered(t *testing.T) {
	r, input := startRouter(t, DefaultConfig())

	out := make(chan connection.Inbound, 8)
	r.Register(AnyChannel, event.ExerciseTypes, collectSink(out))

	// Passes every filter but matches no sink: not a delivery.
	input <- inbound(t, 1, `{"type":"submission_created","data":{"submission_id":3,"course_id":1}}`)
	expectNoDelivery(t, out)

	stats := r.Stats()
	if stats.Received != 1 {
		t.Errorf("Received = %d, want 1", stats.Received)
	}
	if stats.Delivered != 0 {
		t.Errorf("Delivered = %d, want 0 when no sink matched", stats.Delivered)
	}
}

func TestRouter_ControlAndUnknownConsumed(t *testing.T) {
	r, input := startRouter(t, DefaultConfig())

	out := make(chan connection.Inbound, 8)
	r.Register(AnyChannel, event.DomainTypes, collectSink(out))

	input <- inbound(t, 1, `{"type":"connected","message":"ok"}`)
	input <- inbound(t, 1, `{"type":"pong"}`)
	input <- inbound(t, 1, `{"type":"server_maintenance","data":{}}`)
	expectNoDelivery(t, out)

	stats := r.Stats()
	if stats.Received != 3 {
		t.Errorf("Received = %d, want 3", stats.Received)
	}
	if stats.Unknown != 1 {
		t.Errorf("Unknown = %d, want 1", stats.Unknown)
	}
	if stats.Delivered != 0 {
		t.Errorf("Delivered = %d, want 0", stats.Delivered)
	}
}
