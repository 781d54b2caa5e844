// Package router fans course events out to registered sinks.
//
// The router consumes the connection pool's envelope stream and runs each
// envelope through a fixed pipeline: control acks are consumed internally,
// unknown types are ignored, envelopes claiming a different course than the
// channel they arrived on are rejected, duplicates inside the
// deduplication window are dropped, and envelopes addressed to another
// user are filtered out. Whatever survives is handed to every matching
// sink, synchronously and in registration order. A panicking sink never
// takes down its neighbours or the routing loop.
package router
