package gateway

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// State tracks a client connection's position in its lifecycle.
type State string

const (
	// StateConnecting means the socket is open but no hello has arrived.
	StateConnecting State = "CONNECTING"
	// StateAuthenticated means a valid hello bound the connection to a user.
	StateAuthenticated State = "AUTHENTICATED"
	// StateActive means the connection is registered for presence and pushes.
	StateActive State = "ACTIVE"
	// StateClosed means the socket is gone; all pushes fail.
	StateClosed State = "CLOSED"
)

// ClientConn wraps one accepted socket. Push is safe for concurrent use:
// writes are serialized under a mutex so frames from the dispatch loop and
// from presence broadcasts never interleave on the wire.
type ClientConn struct {
	conn net.Conn

	sendMu sync.Mutex

	stateMu sync.RWMutex
	state   State
	userID  int64

	closeOnce sync.Once
	closeErr  error
}

func newClientConn(conn net.Conn) *ClientConn {
	return &ClientConn{
		conn:  conn,
		state: StateConnecting,
	}
}

// Push serializes event and writes it as one frame. Pushing to a closed
// connection returns net.ErrClosed from the underlying write.
func (c *ClientConn) Push(event any) error {
	payload, err := EncodeJSON(event)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return WriteFrame(c.conn, payload)
}

// ReadFrame blocks until the next inbound frame arrives. There is no idle
// deadline: a silent but healthy connection stays up indefinitely.
func (c *ClientConn) ReadFrame() ([]byte, error) {
	return ReadFrame(c.conn)
}

// State returns the connection's current lifecycle state.
func (c *ClientConn) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// UserID returns the user bound by hello, or 0 for a degraded connection.
func (c *ClientConn) UserID() int64 {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.userID
}

func (c *ClientConn) setAuthenticated(userID int64) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state = StateAuthenticated
	c.userID = userID
}

func (c *ClientConn) setActive() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state = StateActive
}

// RemoteAddr reports the peer address for logging.
func (c *ClientConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Close shuts the socket down exactly once.
func (c *ClientConn) Close() error {
	c.closeOnce.Do(func() {
		c.stateMu.Lock()
		c.state = StateClosed
		c.stateMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
