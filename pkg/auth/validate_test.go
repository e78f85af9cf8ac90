package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/warden/pkg/keystore"
	"github.com/cuemby/warden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seed stages one agent (without committing it) and returns a copy of it
func seed(t *testing.T, k *keystore.Keystore, name, ip string) *types.Agent {
	t.Helper()
	var agent *types.Agent
	err := k.Update(func(tx *keystore.Tx) error {
		st, err := tx.Stage(name, ip, "")
		if err != nil {
			return err
		}
		agent = st.Agent().Clone()
		return nil
	})
	require.NoError(t, err)
	return agent
}

func validate(t *testing.T, k *keystore.Keystore, req *types.EnrollmentRequest, ip string, policy Policy) (*Result, error) {
	t.Helper()
	var res *Result
	err := k.Update(func(tx *keystore.Tx) error {
		r, err := Validate(tx, req, ip, policy)
		res = r
		return err
	})
	return res, err
}

func TestValidateFreshName(t *testing.T) {
	k := keystore.New()
	res, err := validate(t, k, &types.EnrollmentRequest{Name: "web01"}, "192.0.2.1", Policy{})
	require.NoError(t, err)
	assert.Nil(t, res.Existing)
	assert.Empty(t, res.Displace)
}

func TestValidatePasswordMismatch(t *testing.T) {
	k := keystore.New()
	_, err := validate(t, k, &types.EnrollmentRequest{Name: "x", Password: "wrong"}, "192.0.2.1",
		Policy{Password: "hunter2"})
	assert.ErrorIs(t, err, ErrPasswordMismatch)
}

func TestValidateDuplicateNameRejected(t *testing.T) {
	k := keystore.New()
	seed(t, k, "web01", "192.0.2.1")

	_, err := validate(t, k, &types.EnrollmentRequest{Name: "web01"}, "192.0.2.2", Policy{})
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestValidateIdempotentReEnrollment(t *testing.T) {
	k := keystore.New()
	agent := seed(t, k, "web01", "192.0.2.1")

	req := &types.EnrollmentRequest{Name: "web01", KeyHash: keystore.KeyHash(agent.RawKey)}
	res, err := validate(t, k, req, "192.0.2.1", Policy{})
	require.NoError(t, err)
	require.NotNil(t, res.Existing)
	assert.Equal(t, agent.ID, res.Existing.ID)
	assert.Equal(t, agent.RawKey, res.Existing.RawKey)
}

func TestValidateIdempotencyWinsOverForce(t *testing.T) {
	k := keystore.New()
	agent := seed(t, k, "web01", "192.0.2.1")

	req := &types.EnrollmentRequest{Name: "web01", KeyHash: keystore.KeyHash(agent.RawKey)}
	res, err := validate(t, k, req, "192.0.2.1", Policy{ForceInsert: true})
	require.NoError(t, err)
	require.NotNil(t, res.Existing)
	assert.Empty(t, res.Displace)
}

func TestValidateStaleKeyHashRejectedWithoutForce(t *testing.T) {
	k := keystore.New()
	seed(t, k, "web01", "192.0.2.1")

	req := &types.EnrollmentRequest{Name: "web01", KeyHash: keystore.KeyHash("stale")}
	_, err := validate(t, k, req, "192.0.2.1", Policy{})
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestValidateForceDisplacesNameCollision(t *testing.T) {
	k := keystore.New()
	agent := seed(t, k, "web01", "192.0.2.1")

	res, err := validate(t, k, &types.EnrollmentRequest{Name: "web01"}, "192.0.2.1", Policy{ForceInsert: true})
	require.NoError(t, err)
	assert.Nil(t, res.Existing)
	assert.Equal(t, []string{agent.ID}, res.Displace)
}

func TestValidateDuplicateIP(t *testing.T) {
	k := keystore.New()
	agent := seed(t, k, "web01", "192.0.2.1")

	// Different name from the same source address
	_, err := validate(t, k, &types.EnrollmentRequest{Name: "web02"}, "192.0.2.1", Policy{})
	assert.ErrorIs(t, err, ErrDuplicateIP)

	res, err := validate(t, k, &types.EnrollmentRequest{Name: "web02"}, "192.0.2.1", Policy{ForceInsert: true})
	require.NoError(t, err)
	assert.Equal(t, []string{agent.ID}, res.Displace)
}

func TestValidateWildcardIPNeverCollides(t *testing.T) {
	k := keystore.New()
	seed(t, k, "web01", "any")

	res, err := validate(t, k, &types.EnrollmentRequest{Name: "web02"}, "any", Policy{})
	require.NoError(t, err)
	assert.Nil(t, res.Existing)
	assert.Empty(t, res.Displace)
}

func TestLoadPassword(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "authd.pass")
	require.NoError(t, os.WriteFile(path, []byte("hunter2\n"), 0600))

	pass, err := LoadPassword(path)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pass)

	// Missing file falls back to empty without error
	pass, err = LoadPassword(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, pass)

	// Too-short passwords are ignored
	short := filepath.Join(dir, "short.pass")
	require.NoError(t, os.WriteFile(short, []byte("ab\n"), 0600))
	pass, err = LoadPassword(short)
	require.NoError(t, err)
	assert.Empty(t, pass)
}
