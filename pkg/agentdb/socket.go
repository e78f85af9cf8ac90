package agentdb

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cuemby/warden/pkg/types"
)

const socketTimeout = 10 * time.Second

// SocketClient talks to an external agents database daemon over a local
// stream socket. Requests are newline-terminated ASCII commands; responses
// carry a status prefix ("ok" or "err <reason>").
type SocketClient struct {
	path string
	conn net.Conn
	r    *bufio.Reader
}

// NewSocketClient creates a client for the database socket at path. The
// connection is established lazily on first use and re-dialed after any
// transport error.
func NewSocketClient(path string) *SocketClient {
	return &SocketClient{path: path}
}

func (c *SocketClient) dial() error {
	if c.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("unix", c.path, socketTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to agents database: %w", err)
	}
	c.conn = conn
	c.r = bufio.NewReader(conn)
	return nil
}

func (c *SocketClient) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.r = nil
	}
}

// query sends one command line and reads one status line
func (c *SocketClient) query(command string) (string, error) {
	if err := c.dial(); err != nil {
		return "", err
	}

	deadline := time.Now().Add(socketTimeout)
	c.conn.SetDeadline(deadline)

	if _, err := fmt.Fprintf(c.conn, "%s\n", command); err != nil {
		c.drop()
		return "", fmt.Errorf("failed to send database command: %w", err)
	}

	line, err := c.r.ReadString('\n')
	if err != nil {
		c.drop()
		return "", fmt.Errorf("failed to read database response: %w", err)
	}

	line = strings.TrimRight(line, "\r\n")
	status, rest, _ := strings.Cut(line, " ")
	if status != "ok" {
		return "", fmt.Errorf("database error: %s", rest)
	}
	return rest, nil
}

// InsertAgent registers the agent row
func (c *SocketClient) InsertAgent(agent *types.Agent) error {
	_, err := c.query(fmt.Sprintf("agent insert %s %s %s %s %d",
		agent.ID, agent.Name, agent.IP, agent.RawKey, agent.Registered.Unix()))
	return err
}

// SetAgentGroups records the centralized group assignment
func (c *SocketClient) SetAgentGroups(id, groups string, mode GroupMode, syncLabel string) error {
	_, err := c.query(fmt.Sprintf("agent set-groups %s %s %s %s", id, string(mode), syncLabel, groups))
	return err
}

// RemoveAgent deletes the agent row
func (c *SocketClient) RemoveAgent(id string) error {
	_, err := c.query(fmt.Sprintf("agent remove %s", id))
	return err
}

// Remove issues the generic administrative remove query for the id
func (c *SocketClient) Remove(id string) error {
	_, err := c.query(fmt.Sprintf("remove %s", id))
	return err
}

// Close drops the socket
func (c *SocketClient) Close() error {
	c.drop()
	return nil
}
