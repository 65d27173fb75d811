package transport

import (
	"github.com/ValentinKolb/tKV/rpc/common"
	"net"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes the id of the addressed database and a request and returns a response.
// The request buffer is only valid for the duration of the call.
type ServerHandleFunc func(dbID uint64, req []byte) (resp []byte)

// IRPCServerTransport is the interface for the RPC transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler is called for every received request
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport layer and serves incoming requests.
	// It blocks until Close is called (returning nil) or the listener fails.
	Listen(config common.ServerConfig) error
	// Addr blocks until Listen has created its listener and returns its address,
	// nil if the listener could not be created
	Addr() net.Addr
	// Close stops the listener and closes all open connections
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to the database dbID and returns the response
	Send(dbID uint64, req []byte) (resp []byte, err error)
	// Close closes the transport connection
	Close() error
}
