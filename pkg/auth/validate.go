package auth

import (
	"errors"
	"fmt"

	"github.com/cuemby/warden/pkg/keystore"
	"github.com/cuemby/warden/pkg/types"
)

var (
	// ErrDuplicateName rejects a colliding live name without force
	ErrDuplicateName = errors.New("duplicate agent name")

	// ErrDuplicateIP rejects a second live agent on the same source IP
	// without force
	ErrDuplicateIP = errors.New("duplicate agent IP")
)

// View is the read-only slice of the keystore validation needs. It is
// satisfied by *keystore.Tx, so validation runs inside the same critical
// section as the insert.
type View interface {
	ByName(name string) *types.Agent
	ByIP(ip string) *types.Agent
}

// Result is the validation verdict for an enrollment request.
type Result struct {
	// Existing is set for idempotent re-enrollment: the request's key
	// hash matched the stored key, so the caller answers with the
	// existing identity and stages nothing.
	Existing *types.Agent

	// Displace lists ids that force replacement moves to the remove
	// journal before the new entry is staged.
	Displace []string
}

// Policy carries the enrollment decisions that are configuration, not
// protocol: the shared password and the force-replacement switch.
type Policy struct {
	Password    string
	ForceInsert bool
}

// Validate applies the enrollment policy to a parsed request against the
// current keystore view. The caller must hold the keystore mutex for the
// whole validate-and-stage sequence.
func Validate(v View, req *types.EnrollmentRequest, ip string, policy Policy) (*Result, error) {
	if err := CheckPassword(policy.Password, req.Password); err != nil {
		return nil, err
	}

	res := &Result{}

	if existing := v.ByName(req.Name); existing != nil {
		// Idempotency wins over force: an agent re-sending the hash of
		// the key it already holds gets its current identity back.
		if req.KeyHash != "" && req.KeyHash == keystore.KeyHash(existing.RawKey) {
			res.Existing = existing
			return res, nil
		}
		if !policy.ForceInsert {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, req.Name)
		}
		res.Displace = append(res.Displace, existing.ID)
	}

	if ip != "any" {
		if existing := v.ByIP(ip); existing != nil && existing.Name != req.Name {
			if !policy.ForceInsert {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateIP, ip)
			}
			res.Displace = append(res.Displace, existing.ID)
		}
	}

	return res, nil
}
