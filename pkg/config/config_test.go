package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	assert.True(t, cfg.RemoteEnrollment)
	assert.True(t, cfg.UseSourceIP)
	assert.True(t, cfg.SingleNode)
	assert.False(t, cfg.WorkerNode)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.yaml")
	content := `
port: 2515
recv_timeout: 30s
use_password: true
force_insert: true
worker_node: true
cluster_socket: /run/cluster.sock
data_dir: /tmp/warden
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2515, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.RecvTimeout.Std())
	assert.True(t, cfg.UsePassword)
	assert.True(t, cfg.ForceInsert)
	assert.True(t, cfg.WorkerNode)
	assert.Equal(t, "/run/cluster.sock", cfg.ClusterSocket)

	// Untouched keys keep their defaults
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	assert.True(t, cfg.RemoteEnrollment)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [nope"), 0600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.ServerCert = "/etc/warden/server.crt"
	cfg.ServerKey = "/etc/warden/server.key"
	assert.NoError(t, cfg.Validate())

	bad := Default()
	bad.Port = 0
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.ServerCert = ""
	assert.Error(t, bad.Validate(), "remote enrollment requires cert material")

	bad = Default()
	bad.ServerCert = "c"
	bad.ServerKey = "k"
	bad.WorkerNode = true
	assert.Error(t, bad.Validate(), "worker requires cluster socket")

	ok := Default()
	ok.RemoteEnrollment = false
	assert.NoError(t, ok.Validate())
}

func TestPathHelpers(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/var/lib/warden"

	assert.Equal(t, "/var/lib/warden/client.keys", cfg.KeysPath())
	assert.Equal(t, "/var/lib/warden/agents.timestamp", cfg.TimestampPath())
	assert.Equal(t, "/var/lib/warden/authd.pass", cfg.PasswordPath())

	cfg.KeysFile = "/etc/keys"
	assert.Equal(t, "/etc/keys", cfg.KeysPath())
}
