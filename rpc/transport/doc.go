// Package transport defines the interfaces for RPC communication between tKV clients and
// servers. The transports move opaque byte messages, serialization happens in the layer above.
//
// Every request addresses one database of the server by its id. Implementations:
//
//   - tcp: framed requests over TCP connections
//   - unix: framed requests over Unix domain sockets
//   - http: one HTTP POST per request
//
// Key Components:
//
//   - IRPCClientTransport: sends requests and waits for the matching response
//
//   - IRPCServerTransport: receives requests and passes them to a ServerHandleFunc
//
//   - ServerHandleFunc: function type for request handling callbacks
package transport
