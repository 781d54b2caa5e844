// Package connection owns the websocket transport layer.
//
// A Client is one connection to one channel's endpoint and runs the
// reconnect/keepalive state machine:
//
//	Disconnected -> Connecting -> Connected -> (Reconnecting | Closed)
//
// Abnormal closures schedule a single retry after a fixed delay; close code
// 1000 and local Close are terminal. The Pool keeps exactly one live Client
// per channel in the active subscription set and reconciles that set against
// catalog snapshots.
package connection
