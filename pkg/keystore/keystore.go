package keystore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/warden/pkg/types"
	"github.com/google/uuid"
)

// Keystore is the authoritative in-memory registry of agents. One mutex
// guards the entries, both pending-change journals and the write-pending
// flag; the condition variable wakes the writer when a flush is due.
type Keystore struct {
	mu   sync.Mutex
	cond *sync.Cond

	entries []*types.Agent
	byID    map[string]*types.Agent
	byName  map[string]*types.Agent // non-revoked entries only

	inserts      []types.KeyChange
	removes      []types.KeyChange
	writePending bool
}

// New creates an empty keystore
func New() *Keystore {
	k := &Keystore{
		byID:   make(map[string]*types.Agent),
		byName: make(map[string]*types.Agent),
	}
	k.cond = sync.NewCond(&k.mu)
	return k
}

// Tx is a view of the keystore held under its mutex. It is only valid
// inside the Update callback that produced it.
type Tx struct {
	k *Keystore
}

// Staged is a back-reference to an entry added by Stage but not yet
// committed. Commit publishes it to the insert journal; Rollback removes
// it as if the enrollment never happened.
type Staged struct {
	agent *types.Agent
	done  bool
}

// Agent returns the staged entry
func (s *Staged) Agent() *types.Agent {
	return s.agent
}

// Update runs fn with the keystore mutex held. fn must not perform I/O.
func (k *Keystore) Update(fn func(tx *Tx) error) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return fn(&Tx{k: k})
}

// ByName returns the live (non-revoked) entry with the given name, or nil
func (tx *Tx) ByName(name string) *types.Agent {
	return tx.k.byName[name]
}

// ByID returns the entry with the given id, or nil
func (tx *Tx) ByID(id string) *types.Agent {
	return tx.k.byID[id]
}

// ByIP returns the first live entry bound to the given source IP, or nil
func (tx *Tx) ByIP(ip string) *types.Agent {
	for _, a := range tx.k.entries {
		if !a.Flags.Revoked && a.IP == ip && a.IP != "any" {
			return a
		}
	}
	return nil
}

// Stage allocates an identifier, derives a fresh key and inserts the new
// entry. The entry is live immediately (its name and id are reserved) but
// reaches the insert journal only on Commit.
func (tx *Tx) Stage(name, ip, group string) (*Staged, error) {
	if err := sanitizeName(name); err != nil {
		return nil, err
	}
	if _, ok := tx.k.byName[name]; ok {
		return nil, fmt.Errorf("duplicate agent name: %s", name)
	}

	agent := &types.Agent{
		ID:         tx.k.nextID(),
		Name:       name,
		IP:         ip,
		RawKey:     deriveKey(name, ip),
		Group:      group,
		Registered: time.Now(),
	}

	tx.k.entries = append(tx.k.entries, agent)
	tx.k.byID[agent.ID] = agent
	tx.k.byName[agent.Name] = agent

	return &Staged{agent: agent}, nil
}

// Remove appends a remove-journal record for the entry with the given id.
// When revoke is set the entry stays in the keystore flagged revoked so
// its id is never reissued; otherwise it is dropped entirely.
func (tx *Tx) Remove(id string, revoke bool) error {
	agent, ok := tx.k.byID[id]
	if !ok {
		return fmt.Errorf("agent not found: %s", id)
	}

	delete(tx.k.byName, agent.Name)
	if revoke {
		agent.Flags.Revoked = true
		agent.RawKey = ""
	} else {
		delete(tx.k.byID, id)
		for i, a := range tx.k.entries {
			if a.ID == id {
				tx.k.entries = append(tx.k.entries[:i], tx.k.entries[i+1:]...)
				break
			}
		}
	}

	tx.k.removes = append(tx.k.removes, types.KeyChange{Op: types.ChangeRemove, Agent: agent.Clone()})
	tx.k.writePending = true
	tx.k.cond.Signal()
	return nil
}

// Commit publishes a staged entry to the insert journal and wakes the
// writer. The journal record carries a full copy of the agent fields.
func (k *Keystore) Commit(s *Staged) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if s.done {
		return
	}
	s.done = true

	k.inserts = append(k.inserts, types.KeyChange{Op: types.ChangeInsert, Agent: s.agent.Clone()})
	k.writePending = true
	k.cond.Signal()
}

// Rollback removes a staged entry. Used when the success response could
// not be delivered: the client never learned the key, so the entry must
// not survive the dispatch call.
func (k *Keystore) Rollback(s *Staged) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if s.done {
		return
	}
	s.done = true

	delete(k.byID, s.agent.ID)
	delete(k.byName, s.agent.Name)
	for i, a := range k.entries {
		if a.ID == s.agent.ID {
			k.entries = append(k.entries[:i], k.entries[i+1:]...)
			break
		}
	}
}

// SwapForFlush detaches both journals and deep-clones the keystore, all in
// one critical section. The caller (the writer) becomes the sole owner of
// the returned records.
func (k *Keystore) SwapForFlush() (inserts, removes []types.KeyChange, snapshot []*types.Agent) {
	k.mu.Lock()
	defer k.mu.Unlock()

	inserts = k.inserts
	removes = k.removes
	k.inserts = nil
	k.removes = nil
	k.writePending = false

	snapshot = make([]*types.Agent, len(k.entries))
	for i, a := range k.entries {
		snapshot[i] = a.Clone()
	}
	return inserts, removes, snapshot
}

// WaitPending blocks until a flush is pending or running turns false.
// It returns true if there is work to flush.
func (k *Keystore) WaitPending(running func() bool) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	for !k.writePending && running() {
		k.cond.Wait()
	}
	return k.writePending
}

// LiveCount returns the number of non-revoked entries
func (k *Keystore) LiveCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.byName)
}

// Kick wakes the writer regardless of pending state. Called once on
// shutdown so the condition wait observes the cleared running flag.
func (k *Keystore) Kick() {
	k.mu.Lock()
	k.cond.Broadcast()
	k.mu.Unlock()
}

// nextID allocates the next identifier: one past the highest id held in
// the keystore (live or revoked), zero-padded to at least three digits.
// Ids of rolled-back or dropped entries can be reissued. Caller holds the
// mutex.
func (k *Keystore) nextID() string {
	max := 0
	for _, a := range k.entries {
		if n, err := strconv.Atoi(a.ID); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%03d", max+1)
}

// deriveKey mints a fresh shared secret: 64 hex characters from a digest
// over the agent identity and two independent entropy sources.
func deriveKey(name, ip string) string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)

	h := sha256.New()
	h.Write([]byte(uuid.New().String()))
	h.Write([]byte(name))
	h.Write([]byte(ip))
	h.Write([]byte(strconv.FormatInt(time.Now().UnixNano(), 10)))
	h.Write(buf)
	return hex.EncodeToString(h.Sum(nil))
}

// KeyHash returns the digest agents present in K: tokens for idempotent
// re-enrollment: hex sha256 over the raw key.
func KeyHash(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// restore inserts a loaded entry without touching the journals. Used by
// Load only, before any stage runs.
func (k *Keystore) restore(agent *types.Agent) {
	k.entries = append(k.entries, agent)
	k.byID[agent.ID] = agent
	if !agent.Flags.Revoked {
		k.byName[agent.Name] = agent
	}
}

// sanitizeName rejects names that would corrupt the line-oriented key file
func sanitizeName(name string) error {
	if name == "" {
		return fmt.Errorf("empty agent name")
	}
	if strings.ContainsAny(name, " \t\n'") || strings.HasPrefix(name, "!") || strings.HasPrefix(name, "#") {
		return fmt.Errorf("invalid agent name: %s", name)
	}
	return nil
}
