package server

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// startFakeMaster runs a minimal cluster daemon that grants every
// enrollment the same canned identity.
func startFakeMaster(t *testing.T) string {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "cluster.sock")
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				if _, err := bufio.NewReader(conn).ReadBytes('\n'); err != nil {
					return
				}
				data, _ := json.Marshal(map[string]interface{}{
					"error": 0,
					"id":    "042",
					"key":   "feedface",
				})
				conn.Write(append(data, '\n'))
			}(conn)
		}
	}()

	return socketPath
}
