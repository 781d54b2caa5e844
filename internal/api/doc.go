// Package api provides the REST client for the backend catalog source.
//
// The feed uses a single endpoint: the list of courses the authenticated
// user belongs to, which the catalog translates into channel subscriptions.
// Transient server errors are retried with exponential backoff and jitter.
package api
