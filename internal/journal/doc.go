// Package journal records delivered notifications in PostgreSQL.
//
// The journal is an audit trail, not a replay source: it answers "what did
// this client show the user and when", it never feeds events back into the
// router. Rows are batched and inserted append-only; a fingerprint unique
// constraint makes re-inserts after a crash harmless.
package journal
