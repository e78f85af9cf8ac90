package types

import (
	"time"
)

// Agent is a single entry in the keystore: a remote process that enrolled
// (or is enrolling) to obtain an identifier and shared secret.
type Agent struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	IP         string     `json:"ip"` // address literal or "any"
	RawKey     string     `json:"raw_key"`
	Group      string     `json:"group,omitempty"`
	Registered time.Time  `json:"registered"`
	Flags      AgentFlags `json:"flags"`
}

// AgentFlags carries the lifecycle flags of a keystore entry
type AgentFlags struct {
	Revoked bool `json:"revoked"`
	Hidden  bool `json:"hidden"`
}

// Clone returns a deep copy of the agent
func (a *Agent) Clone() *Agent {
	c := *a
	return &c
}

// EnrollmentRequest is a parsed enrollment record from the wire
type EnrollmentRequest struct {
	Name     string
	Group    string
	KeyHash  string
	Password string
}

// ChangeOp distinguishes journal record kinds
type ChangeOp string

const (
	ChangeInsert ChangeOp = "insert"
	ChangeRemove ChangeOp = "remove"
)

// KeyChange is a pending-change journal record. It carries a full copy of
// the agent fields the writer needs, so the writer never reads back into
// the live keystore.
type KeyChange struct {
	Op    ChangeOp
	Agent *Agent
}
