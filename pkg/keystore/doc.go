/*
Package keystore holds the authoritative registry of enrolled agents.

The keystore lives in memory for the lifetime of the process and is
mirrored to a line-oriented key file on disk. One mutex guards the whole
mutable compound: the entries, the two pending-change journals and the
write-pending flag. A condition variable wakes the writer whenever a
flush is due.

# Architecture

	┌──────────────────── KEYSTORE ────────────────────┐
	│                                                   │
	│  entries   []*Agent      (dispatch order)         │
	│  byID      map[id]*Agent                          │
	│  byName    map[name]*Agent  (live entries only)   │
	│                                                   │
	│  inserts   []KeyChange   (pending journal)        │
	│  removes   []KeyChange   (pending journal)        │
	│  writePending bool  +  sync.Cond                  │
	└───────────────────────────────────────────────────┘

# Two-phase insert

Enrollment inserts are two-phase. Stage reserves the id and name and
derives the key inside the caller's Update critical section; the success
response then travels over TLS without the mutex held. Only Commit
publishes the entry to the insert journal and signals the writer. If the
response write fails, Rollback erases the entry as if the enrollment
never happened — the agent never learned its key.

# Flush hand-off

SwapForFlush transfers ownership of both journals to the writer and
returns a deep clone of the entries, all in one critical section. The
writer serializes the clone without blocking new enrollments.

# File format

One agent per line, four whitespace-separated fields:

	<id> <name> <ip> <rawkey>

A "!" prefix on the name marks a revoked entry; revoked ids are loaded
(unless clear_removed is set) so they are never reissued. Writes are
atomic: temp file, fsync, rename.

# Usage

	k := keystore.New()
	if err := k.Load(path, false); err != nil { ... }

	var staged *keystore.Staged
	err := k.Update(func(tx *keystore.Tx) error {
		st, err := tx.Stage("web01", "192.0.2.7", "dmz")
		staged = st
		return err
	})
	// ... deliver the key over TLS ...
	k.Commit(staged) // or k.Rollback(staged)
*/
package keystore
