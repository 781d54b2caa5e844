// Package event defines the wire envelope received over a channel's
// websocket and the typed payload variants behind it.
//
// The wire format is a JSON object {type, message?, data?}. The type set is
// closed on our side but the decoder accepts unknown types so newer backends
// keep working; the router simply ignores what it does not know.
package event
