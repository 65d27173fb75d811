package base

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/tKV/rpc/common"
	"github.com/ValentinKolb/tKV/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("transport")

const (
	initialBackoff = 50 * time.Millisecond
	maxBackoff     = 2 * time.Second
)

var errTransportClosed = errors.New("transport is closed")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientTransportConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// responseResult contains the result of a request
type responseResult struct {
	data []byte
	err  error
}

// clientConnection represents a single net connection and its response reader
type clientConnection struct {
	endpoint string
	parent   *clientTransport
	stopCh   chan struct{}
	done     chan struct{}
	pending  *xsync.MapOf[uint64, chan responseResult]

	connMu sync.Mutex // guards conn and serializes writes
	conn   net.Conn
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector     IClientConnector
	config        common.ClientConfig
	connections   []*clientConnection
	connectionsMu sync.RWMutex
	nextConnIndex atomic.Uint64
	nextRequestID atomic.Uint64
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{
		connector: connector,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if len(config.Transport.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}

	// Close all existing connections
	t.closeConnections()
	t.config = config

	connectionsPerEP := max(1, config.Transport.ConnectionsPerEndpoint)
	connections := make([]*clientConnection, 0, len(config.Transport.Endpoints)*connectionsPerEP)
	connected := 0

	for _, endpoint := range config.Transport.Endpoints {
		for i := 0; i < connectionsPerEP; i++ {
			c := &clientConnection{
				endpoint: endpoint,
				parent:   t,
				stopCh:   make(chan struct{}),
				done:     make(chan struct{}),
				pending:  xsync.NewMapOf[uint64, chan responseResult](),
			}

			// A connection that cannot be established now is retried by its reader
			if err := c.dial(); err != nil {
				Logger.Warningf("Failed to connect to %s (connection %d/%d): %v", endpoint, i+1, connectionsPerEP, err)
			} else {
				connected++
			}
			connections = append(connections, c)
		}
	}

	if connected == 0 {
		for _, c := range connections {
			close(c.done)
		}
		return fmt.Errorf("failed to connect to any endpoint")
	}

	for _, c := range connections {
		go c.readResponses()
	}

	t.connectionsMu.Lock()
	t.connections = connections
	t.connectionsMu.Unlock()

	Logger.Infof("Connected %d out of %d connections to %d endpoints using %s transport",
		connected, len(connections), len(config.Transport.Endpoints), t.connector.GetName())
	return nil
}

func (t *clientTransport) Send(dbID uint64, req []byte) (resp []byte, err error) {
	requestID := t.nextRequestID.Add(1)

	attempts := max(1, t.config.Transport.RetryCount)
	backoff := initialBackoff
	var lastErr error

	for i := 0; i < attempts; i++ {
		c := t.getNextConnection()
		if c == nil {
			return nil, errTransportClosed
		}

		respCh, err := c.write(dbID, requestID, req)
		if err == nil {
			// The request reached the server, it is never sent twice
			return c.await(requestID, respCh)
		}

		lastErr = err
		Logger.Debugf("Request attempt %d/%d failed: %v", i+1, attempts, err)

		if i+1 < attempts {
			// Exponential backoff with a small random jitter (+-10%)
			jitter := float64(backoff) * (0.9 + 0.2*rand.Float64())
			time.Sleep(time.Duration(jitter))
			backoff = min(2*backoff, maxBackoff)
		}
	}

	return nil, fmt.Errorf("failed to send request after %d attempts: %v", attempts, lastErr)
}

func (t *clientTransport) Close() error {
	t.closeConnections()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// getNextConnection selects the next connection via Round Robin
func (t *clientTransport) getNextConnection() *clientConnection {
	t.connectionsMu.RLock()
	defer t.connectionsMu.RUnlock()

	switch len(t.connections) {
	case 0:
		return nil
	case 1:
		return t.connections[0]
	default:
		return t.connections[t.nextConnIndex.Add(1)%uint64(len(t.connections))]
	}
}

// closeConnections closes all active connections and waits for their readers
func (t *clientTransport) closeConnections() {
	t.connectionsMu.Lock()
	connections := t.connections
	t.connections = nil
	t.connectionsMu.Unlock()

	for _, c := range connections {
		close(c.stopCh)
		c.connMu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.connMu.Unlock()
	}
	for _, c := range connections {
		<-c.done
	}
}

// timeout returns the configured request timeout, 0 if disabled
func (c *clientConnection) timeout() time.Duration {
	return time.Duration(c.parent.config.TimeoutSecond) * time.Second
}

// write registers a request and writes its frame. On error the request is not pending.
// Requests are registered under connMu so that dial can fail them when the connection is replaced.
func (c *clientConnection) write(dbID, requestID uint64, req []byte) (chan responseResult, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("not connected to %s", c.endpoint)
	}

	respCh := make(chan responseResult, 1)
	c.pending.Store(requestID, respCh)

	if timeout := c.timeout(); timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if err := writeFrame(c.conn, dbID, requestID, req); err != nil {
		c.pending.Delete(requestID)
		// The reader notices the closed connection and reconnects
		_ = c.conn.Close()
		return nil, err
	}
	return respCh, nil
}

// await waits for the response of a written request
func (c *clientConnection) await(requestID uint64, respCh chan responseResult) ([]byte, error) {
	var timeoutCh <-chan time.Time
	if timeout := c.timeout(); timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case result := <-respCh:
		return result.data, result.err
	case <-timeoutCh:
		c.pending.Delete(requestID)
		return nil, fmt.Errorf("request %d to %s timed out", requestID, c.endpoint)
	}
}

// failPending completes all pending requests with err
func (c *clientConnection) failPending(err error) {
	c.pending.Range(func(requestID uint64, _ chan responseResult) bool {
		if respCh, ok := c.pending.LoadAndDelete(requestID); ok {
			respCh <- responseResult{err: err}
		}
		return true
	})
}

// stopped reports whether the connection was closed by the transport
func (c *clientConnection) stopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// readResponses reads responses in a loop and distributes them to waiting requests
func (c *clientConnection) readResponses() {
	defer close(c.done)

	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if !c.reconnect() {
				c.failPending(errTransportClosed)
				return
			}
			continue
		}

		dbID, requestID, data, err := readFrame(conn, nil)
		if err != nil {
			if c.stopped() {
				c.failPending(errTransportClosed)
				return
			}
			Logger.Warningf("Connection to %s lost: %v", c.endpoint, err)
			c.failPending(fmt.Errorf("connection to %s lost: %v", c.endpoint, err))
			if !c.reconnect() {
				c.failPending(errTransportClosed)
				return
			}
			continue
		}

		if respCh, found := c.pending.LoadAndDelete(requestID); found {
			respCh <- responseResult{data: data}
		} else {
			Logger.Warningf("Received response for unknown request ID %d from database %d", requestID, dbID)
		}
	}
}

// reconnect replaces the connection, retrying with backoff until it succeeds or the
// transport is closed. It returns false if the transport was closed.
func (c *clientConnection) reconnect() bool {
	backoff := initialBackoff
	for {
		if c.stopped() {
			return false
		}
		err := c.dial()
		if err == nil {
			Logger.Infof("Reconnected to %s", c.endpoint)
			return true
		}
		Logger.Debugf("Reconnect to %s failed: %v", c.endpoint, err)

		select {
		case <-c.stopCh:
			return false
		case <-time.After(backoff):
		}
		backoff = min(2*backoff, maxBackoff)
	}
}

// dial establishes a new connection to the endpoint, closing the previous one
func (c *clientConnection) dial() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	// Requests are only registered while holding connMu, all pending ones belong to the old connection
	c.failPending(fmt.Errorf("connection to %s was reset", c.endpoint))

	conn, err := c.parent.connector.Connect(c.endpoint)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %v", c.endpoint, err)
	}

	if err := c.parent.connector.UpgradeConnection(conn, c.parent.config.Transport); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to upgrade connection to %s: %v", c.endpoint, err)
	}

	if c.stopped() {
		_ = conn.Close()
		return errTransportClosed
	}
	c.conn = conn
	return nil
}
