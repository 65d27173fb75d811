// Package base implements the framed, stream based RPC transport shared by the tcp and
// unix packages. Protocol specific behaviour (dialing, listening, socket options) is
// injected through IClientConnector and IServerConnector.
//
// Frame format (all integers big endian):
//
//	[8 byte database id][8 byte request id][4 byte payload length][payload]
//
// Responses carry the request id of their request, so a connection can have many
// requests in flight.
//
// Client:
//
//   - Multiple connections per endpoint, selected round-robin.
//   - Every connection has a reader goroutine that hands responses to the waiting
//     requests. When the connection breaks, all pending requests fail and the reader
//     reconnects with exponential backoff.
//   - A request is only retried (on another connection) when it could not be written.
//     Once written it is never sent again, since most operations are not idempotent.
//
// Server:
//
//   - One goroutine per connection reads frames. Requests are processed by up to
//     WorkersPerConn workers per connection, reading blocks while all are busy.
//   - Request buffers are pooled. Idle connections are kept open, only writing a
//     response is bounded by the server timeout.
//   - Close stops the listener, closes all connections and waits for their handlers.
//
// Thread Safety:
//
//	Send is safe for concurrent use. Connect, Listen and Close must not be called
//	concurrently with each other.
package base
