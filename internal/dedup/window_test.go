package dedup

import (
	"testing"
	"time"
)

func TestWindow_InsertSuppressesDuplicates(t *testing.T) {
	w := NewWindow()
	k := Key{Type: "submission_created", Entity: 42, Channel: 1}

	if !w.Insert(k, 3*time.Second) {
		t.Fatal("first Insert should report fresh")
	}
	if w.Insert(k, 3*time.Second) {
		t.Error("second Insert inside TTL should report duplicate")
	}
	if !w.Seen(k) {
		t.Error("Seen should report live entry")
	}
}

func TestWindow_ExpiryAllowsRedelivery(t *testing.T) {
	w := NewWindow()
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	k := Key{Type: "submission_created", Entity: 42, Channel: 1}

	if !w.Insert(k, 3*time.Second) {
		t.Fatal("first Insert should report fresh")
	}

	// 1s later: still suppressed.
	now = now.Add(time.Second)
	if w.Insert(k, 3*time.Second) {
		t.Error("Insert at +1s should report duplicate")
	}

	// 4s after the first insert: TTL elapsed, delivered again.
	now = now.Add(3 * time.Second)
	if !w.Insert(k, 3*time.Second) {
		t.Error("Insert after TTL should report fresh")
	}
}

func TestWindow_DistinctKeysIndependent(t *testing.T) {
	w := NewWindow()

	a := Key{Type: "submission_created", Entity: 42, Channel: 1}
	b := Key{Type: "submission_updated", Entity: 42, Channel: 1}
	c := Key{Type: "submission_created", Entity: 42, Channel: 2}

	for _, k := range []Key{a, b, c} {
		if !w.Insert(k, 3*time.Second) {
			t.Errorf("Insert(%v) should report fresh", k)
		}
	}
	if w.Len() != 3 {
		t.Errorf("Len = %d, want 3", w.Len())
	}
}

func TestWindow_Clear(t *testing.T) {
	w := NewWindow()
	k := Key{Type: "exercise_published", Entity: 7, Channel: 3}

	w.Insert(k, 5*time.Second)
	w.Clear()

	if w.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", w.Len())
	}
	if !w.Insert(k, 5*time.Second) {
		t.Error("Insert after Clear should report fresh")
	}
}

func TestWindow_Sweep(t *testing.T) {
	w := NewWindow()
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	w.Insert(Key{Type: "a", Entity: 1}, time.Second)
	w.Insert(Key{Type: "b", Entity: 2}, 10*time.Second)

	now = now.Add(2 * time.Second)
	w.sweep()

	if w.Len() != 1 {
		t.Errorf("Len after sweep = %d, want 1", w.Len())
	}
}
