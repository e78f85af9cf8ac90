package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cuemby/warden/pkg/types"
)

// Request size cap on the wire. Larger reads are truncated by the caller.
const MaxRequestSize = 69632

var (
	// ErrInvalidRequest is returned for anything that is not a
	// well-formed enrollment record
	ErrInvalidRequest = errors.New("invalid request for new agent")

	// ErrPasswordMismatch is returned when the P: token does not match
	// the server's enrollment password
	ErrPasswordMismatch = errors.New("invalid password")
)

// ParseRequest parses an enrollment record of the form
//
//	OSSEC A:'<name>' [G:'<group>'] [K:'<key_hash>'] [P:'<password>']
//
// A: is required; the other tokens are optional. Tokens may appear in any
// order, A: included, and each at most once.
func ParseRequest(line string) (*types.EnrollmentRequest, error) {
	line = strings.TrimRight(line, "\r\n")

	rest, ok := strings.CutPrefix(line, "OSSEC ")
	if !ok {
		return nil, ErrInvalidRequest
	}

	req := &types.EnrollmentRequest{}
	seen := map[byte]bool{}

	for rest != "" {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			break
		}
		if len(rest) < 2 || rest[1] != ':' {
			return nil, ErrInvalidRequest
		}

		tag := rest[0]
		value, remainder, err := cutQuoted(rest[2:])
		if err != nil {
			return nil, err
		}
		if seen[tag] {
			return nil, ErrInvalidRequest
		}
		seen[tag] = true

		switch tag {
		case 'A':
			req.Name = value
		case 'G':
			req.Group = value
		case 'K':
			req.KeyHash = value
		case 'P':
			req.Password = value
		default:
			return nil, ErrInvalidRequest
		}
		rest = remainder
	}

	if req.Name == "" {
		return nil, ErrInvalidRequest
	}
	return req, nil
}

// cutQuoted consumes a single-quoted value and returns it with the
// remainder of the line.
func cutQuoted(s string) (value, rest string, err error) {
	if !strings.HasPrefix(s, "'") {
		return "", "", ErrInvalidRequest
	}
	end := strings.IndexByte(s[1:], '\'')
	if end < 0 {
		return "", "", ErrInvalidRequest
	}
	return s[1 : 1+end], s[2+end:], nil
}

// FormatRequest renders an enrollment request back to its wire form
func FormatRequest(req *types.EnrollmentRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "OSSEC A:'%s'", req.Name)
	if req.Group != "" {
		fmt.Fprintf(&b, " G:'%s'", req.Group)
	}
	if req.KeyHash != "" {
		fmt.Fprintf(&b, " K:'%s'", req.KeyHash)
	}
	if req.Password != "" {
		fmt.Fprintf(&b, " P:'%s'", req.Password)
	}
	return b.String()
}

// FormatKeyResponse renders the success response carrying the minted key
func FormatKeyResponse(id, name, ip, rawKey string) string {
	return fmt.Sprintf("OSSEC K:'%s %s %s %s'", id, name, ip, rawKey)
}
