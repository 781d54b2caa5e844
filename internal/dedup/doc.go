// Package dedup implements the deduplication window.
//
// The transport does not guarantee idempotent delivery: the backend can emit
// the same logical event twice in a short burst (websocket fan-out plus a
// reconciliation pass). The window remembers recently seen fingerprints for
// a per-type TTL and suppresses re-delivery inside that window only, so a
// genuinely new event on the same entity later still goes through.
//
// The window is shared by every connection and is the only structure mutated
// from multiple connection goroutines; all access goes through one mutex.
package dedup
