// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connection count and reconnect attempts
//   - Envelope throughput: received, delivered, dropped (by reason)
//   - Decode errors and catalog refresh outcomes
package metrics
