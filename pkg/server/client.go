package server

import (
	"net"
)

// Client is an accepted connection in transit between the accept and
// dispatch stages. The stage currently holding it owns the socket and is
// responsible for closing it on every exit path.
type Client struct {
	conn   net.Conn
	isIPv6 bool
	addr   net.IP
}

// NewClient wraps an accepted connection, capturing the remote address
// family and bytes.
func NewClient(conn net.Conn) *Client {
	c := &Client{conn: conn}
	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		c.addr = tcp.IP
		c.isIPv6 = tcp.IP.To4() == nil
	}
	return c
}

// IP renders the remote address literal
func (c *Client) IP() string {
	if c.addr == nil {
		return "unknown"
	}
	return c.addr.String()
}

// Close releases the socket
func (c *Client) Close() {
	c.conn.Close()
}
