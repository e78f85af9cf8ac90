package agentdb

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/warden/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketAgents = []byte("agents")
	bucketGroups = []byte("groups")
)

// agentRow is the stored shape of an agent database row
type agentRow struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	IP         string    `json:"ip"`
	RawKey     string    `json:"raw_key"`
	Registered time.Time `json:"registered"`
}

// groupRow records a centralized group assignment with its sync label
type groupRow struct {
	Groups    string    `json:"groups"`
	Mode      GroupMode `json:"mode"`
	SyncLabel string    `json:"sync_label"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BoltClient implements Client using an embedded BoltDB database. Used
// when no external database socket is configured, so a single binary
// still keeps the relational sidecar in lockstep with the key file.
type BoltClient struct {
	db *bolt.DB
}

// NewBoltClient opens (or creates) the embedded agents database
func NewBoltClient(dataDir string) (*BoltClient, error) {
	dbPath := filepath.Join(dataDir, "agents.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open agents database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketAgents, bucketGroups} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltClient{db: db}, nil
}

// InsertAgent registers the agent row (upsert)
func (c *BoltClient) InsertAgent(agent *types.Agent) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgents)
		data, err := json.Marshal(agentRow{
			ID:         agent.ID,
			Name:       agent.Name,
			IP:         agent.IP,
			RawKey:     agent.RawKey,
			Registered: agent.Registered,
		})
		if err != nil {
			return err
		}
		return b.Put([]byte(agent.ID), data)
	})
}

// GetAgent retrieves an agent row by id
func (c *BoltClient) GetAgent(id string) (*types.Agent, error) {
	var row agentRow
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgents)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("agent not found: %s", id)
		}
		return json.Unmarshal(data, &row)
	})
	if err != nil {
		return nil, err
	}
	return &types.Agent{
		ID:         row.ID,
		Name:       row.Name,
		IP:         row.IP,
		RawKey:     row.RawKey,
		Registered: row.Registered,
	}, nil
}

// SetAgentGroups records the centralized group assignment
func (c *BoltClient) SetAgentGroups(id, groups string, mode GroupMode, syncLabel string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		if mode == GroupModeAppend {
			if data := b.Get([]byte(id)); data != nil {
				var existing groupRow
				if err := json.Unmarshal(data, &existing); err == nil && existing.Groups != "" {
					groups = existing.Groups + "," + groups
				}
			}
		}
		data, err := json.Marshal(groupRow{
			Groups:    groups,
			Mode:      mode,
			SyncLabel: syncLabel,
			UpdatedAt: time.Now(),
		})
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

// GetAgentGroups retrieves the group assignment for an id
func (c *BoltClient) GetAgentGroups(id string) (string, error) {
	var row groupRow
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("no groups for agent: %s", id)
		}
		return json.Unmarshal(data, &row)
	})
	return row.Groups, err
}

// RemoveAgent deletes the agent row
func (c *BoltClient) RemoveAgent(id string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).Delete([]byte(id))
	})
}

// Remove is the generic administrative remove: it clears every trace of
// the id across buckets.
func (c *BoltClient) Remove(id string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketAgents).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketGroups).Delete([]byte(id))
	})
}

// Close closes the database
func (c *BoltClient) Close() error {
	return c.db.Close()
}
