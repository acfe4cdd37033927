package server

import (
	"bufio"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/synqronlabs/wren"
)

// conn owns the socket of one session. Writes are serialized so Shutdown
// can send its 421 while the session goroutine is active.
type conn struct {
	netConn net.Conn
	writer  *bufio.Writer
	buf     []byte
	started time.Time

	mu     sync.Mutex
	closed bool
}

func newConn(nc net.Conn) *conn {
	return &conn{
		netConn: nc,
		writer:  bufio.NewWriter(nc),
		buf:     make([]byte, 4096),
		started: time.Now(),
	}
}

// write sends responses in one flush so pipelined replies share a packet.
func (c *conn) write(timeout time.Duration, rs ...wren.Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	if err := c.netConn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	for _, r := range rs {
		if _, err := c.writer.Write(r.Bytes()); err != nil {
			return err
		}
	}
	return c.writer.Flush()
}

// upgrade replaces the socket with the server side of a TLS connection.
func (c *conn) upgrade(tc *tls.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.netConn = tc
	c.writer.Reset(tc)
}

func (c *conn) isTLS() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.netConn.(*tls.Conn)
	return ok
}

func (c *conn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.netConn.Close()
}
