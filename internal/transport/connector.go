// Package transport owns the single outbound socket each push client uses.
//
// A Connector lazily dials its configured remote endpoint and hands the same
// connection back until the caller reports it broken with Drop. It never
// pools connections and never retries internally; retry happens at the
// flush granularity in the push client.
package transport

import (
	"fmt"
	"net"
	"time"
)

// Connector manages at most one live outbound connection to a fixed
// host:port. It is owned by exactly one client goroutine and is not safe
// for concurrent use.
type Connector struct {
	addr           string
	connectTimeout time.Duration
	sendTimeout    time.Duration
	conn           net.Conn
}

// NewConnector creates a Connector for the given remote address.
func NewConnector(addr string, connectTimeout, sendTimeout time.Duration) *Connector {
	return &Connector{
		addr:           addr,
		connectTimeout: connectTimeout,
		sendTimeout:    sendTimeout,
	}
}

// Addr returns the configured remote endpoint.
func (c *Connector) Addr() string { return c.addr }

// Socket returns the existing connection if present, otherwise dials a new
// one with the configured connect timeout. The connection is assumed live
// until a send fails; the caller must Drop it on any send/receive error so
// the next Socket call reconnects.
func (c *Connector) Socket() (net.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	dialer := net.Dialer{Timeout: c.connectTimeout}
	conn, err := dialer.Dial("tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", c.addr, err)
	}
	c.conn = conn
	return conn, nil
}

// Write sends the payload on the connection, applying the configured send
// timeout as a write deadline. The connection is dialed first if needed.
// On any error the connection is dropped so the next attempt reconnects.
func (c *Connector) Write(payload []byte) error {
	conn, err := c.Socket()
	if err != nil {
		return err
	}
	if c.sendTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.sendTimeout)); err != nil {
			c.Drop()
			return fmt.Errorf("send %s: %w", c.addr, err)
		}
	}
	if _, err := conn.Write(payload); err != nil {
		c.Drop()
		return fmt.Errorf("send %s: %w", c.addr, err)
	}
	return nil
}

// Drop closes and forgets the current connection, if any.
func (c *Connector) Drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
