package agentdb

import (
	"github.com/cuemby/warden/pkg/types"
)

// GroupMode selects how a group assignment combines with existing groups
type GroupMode string

const (
	// GroupModeOverride replaces any existing group assignment
	GroupModeOverride GroupMode = "override"

	// GroupModeAppend adds to the existing assignment
	GroupModeAppend GroupMode = "append"
)

// Sync labels recorded with a group assignment. Single-node deployments
// are synced by definition; clustered ones mark the row for propagation.
const (
	SyncLabelSynced  = "synced"
	SyncLabelSyncReq = "syncreq"
)

// Client is the writer's view of the agents database. Insert, group
// assignment, delete and the generic remove query are the only operations
// the writer uses.
type Client interface {
	InsertAgent(agent *types.Agent) error
	SetAgentGroups(id, groups string, mode GroupMode, syncLabel string) error
	RemoveAgent(id string) error
	Remove(id string) error
	Close() error
}
