// Package catalog tracks which channels the current credential may
// subscribe to.
//
// The catalog fetches the user's course list over REST and re-fetches it
// on a timer and whenever the session bus announces a login or token
// change. Each successful fetch is published as a snapshot for the
// connection pool to reconcile against. A failed fetch keeps the previous
// snapshot; a logout publishes the empty set and clears the deduplication
// window so a later login starts clean.
package catalog
