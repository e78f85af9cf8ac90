package keystore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/warden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTouchCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "client.keys")
	require.NoError(t, Touch(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	// Touching an existing file is harmless
	require.NoError(t, Touch(path))
}

func TestWriteLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.keys")
	snapshot := []*types.Agent{
		{ID: "001", Name: "web01", IP: "192.0.2.7", RawKey: "aabbcc"},
		{ID: "002", Name: "db01", IP: "any", RawKey: "ddeeff"},
	}

	require.NoError(t, WriteFile(path, snapshot))

	k := New()
	require.NoError(t, k.Load(path, false))

	err := k.Update(func(tx *Tx) error {
		require.NotNil(t, tx.ByID("001"))
		assert.Equal(t, "web01", tx.ByID("001").Name)
		assert.Equal(t, "192.0.2.7", tx.ByID("001").IP)
		assert.Equal(t, "aabbcc", tx.ByID("001").RawKey)
		require.NotNil(t, tx.ByName("db01"))
		assert.Equal(t, "any", tx.ByName("db01").IP)
		return nil
	})
	require.NoError(t, err)
}

func TestWriteLoadRevokedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.keys")
	snapshot := []*types.Agent{
		{ID: "001", Name: "web01", IP: "192.0.2.7", Flags: types.AgentFlags{Revoked: true}},
		{ID: "002", Name: "db01", IP: "any", RawKey: "ddeeff"},
	}

	require.NoError(t, WriteFile(path, snapshot))

	k := New()
	require.NoError(t, k.Load(path, false))

	k.Update(func(tx *Tx) error {
		assert.Nil(t, tx.ByName("web01"), "revoked entry must not be live")
		require.NotNil(t, tx.ByID("001"))
		assert.True(t, tx.ByID("001").Flags.Revoked)
		return nil
	})

	// The revoked id still blocks reissue after a cold start
	st := stage(t, k, "web02", "any", "")
	assert.Equal(t, "003", st.Agent().ID)
}

func TestLoadClearRemovedDropsRevoked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.keys")
	snapshot := []*types.Agent{
		{ID: "001", Name: "web01", IP: "192.0.2.7", Flags: types.AgentFlags{Revoked: true}},
	}
	require.NoError(t, WriteFile(path, snapshot))

	k := New()
	require.NoError(t, k.Load(path, true))
	k.Update(func(tx *Tx) error {
		assert.Nil(t, tx.ByID("001"))
		return nil
	})
}

func TestLoadSkipsCommentsAndBlanks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.keys")
	content := "# managed file\n\n001 web01 any aabbcc\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0640))

	k := New()
	require.NoError(t, k.Load(path, false))
	assert.Equal(t, 1, k.LiveCount())
}

func TestLoadRejectsMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.keys")
	require.NoError(t, os.WriteFile(path, []byte("001 web01 any\n"), 0640))

	k := New()
	assert.Error(t, k.Load(path, false))
}

func TestLoadRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()

	dupID := filepath.Join(dir, "dup_id.keys")
	require.NoError(t, os.WriteFile(dupID, []byte("001 a any k1\n001 b any k2\n"), 0640))
	assert.Error(t, New().Load(dupID, false))

	dupName := filepath.Join(dir, "dup_name.keys")
	require.NoError(t, os.WriteFile(dupName, []byte("001 a any k1\n002 a any k2\n"), 0640))
	assert.Error(t, New().Load(dupName, false))
}

func TestTimestampsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	keysPath := filepath.Join(dir, "client.keys")
	tsPath := filepath.Join(dir, "agents.timestamp")

	registered := time.Date(2025, 6, 1, 12, 30, 0, 0, time.Local)
	snapshot := []*types.Agent{
		{ID: "001", Name: "web01", IP: "any", RawKey: "k", Registered: registered},
	}

	require.NoError(t, WriteFile(keysPath, snapshot))
	require.NoError(t, WriteTimestamps(tsPath, snapshot))

	k := New()
	require.NoError(t, k.Load(keysPath, false))
	require.NoError(t, k.LoadTimestamps(tsPath))

	k.Update(func(tx *Tx) error {
		assert.True(t, registered.Equal(tx.ByID("001").Registered))
		return nil
	})
}

func TestLoadTimestampsMissingFile(t *testing.T) {
	k := New()
	assert.NoError(t, k.LoadTimestamps(filepath.Join(t.TempDir(), "missing")))
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.keys")

	require.NoError(t, WriteFile(path, []*types.Agent{{ID: "001", Name: "a", IP: "any", RawKey: "k"}}))
	require.NoError(t, WriteFile(path, []*types.Agent{{ID: "002", Name: "b", IP: "any", RawKey: "k"}}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "rename must leave only the target file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "002 b any k\n", string(data))
}
