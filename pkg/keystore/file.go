package keystore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/warden/pkg/types"
)

const timestampLayout = "2006-01-02 15:04:05"

// Touch creates the key file if it does not exist, so a fresh install
// starts from an empty keystore instead of a load error.
func Touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("failed to open key file: %w", err)
	}
	return f.Close()
}

// Load reads the key file into the keystore. Lines are
// "<id> <name> <ip> <rawkey>"; a "!" name prefix marks a revoked entry,
// kept (unless clearRemoved) so its id is never reissued.
func (k *Keystore) Load(path string, clearRemoved bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open key file: %w", err)
	}
	defer f.Close()

	k.mu.Lock()
	defer k.mu.Unlock()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		if len(fields) != 4 {
			return fmt.Errorf("malformed key file %s:%d", path, line)
		}

		agent := &types.Agent{
			ID:     fields[0],
			Name:   fields[1],
			IP:     fields[2],
			RawKey: fields[3],
		}

		if strings.HasPrefix(agent.Name, "!") {
			if clearRemoved {
				continue
			}
			agent.Name = strings.TrimPrefix(agent.Name, "!")
			agent.Flags.Revoked = true
			agent.RawKey = ""
		}

		if _, ok := k.byID[agent.ID]; ok {
			return fmt.Errorf("duplicate agent id %s in %s:%d", agent.ID, path, line)
		}
		if !agent.Flags.Revoked {
			if _, ok := k.byName[agent.Name]; ok {
				return fmt.Errorf("duplicate agent name %s in %s:%d", agent.Name, path, line)
			}
		}

		k.restore(agent)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read key file: %w", err)
	}
	return nil
}

// WriteFile serializes a keystore snapshot to the key file atomically:
// temp file in the same directory, fsync, rename.
func WriteFile(path string, snapshot []*types.Agent) error {
	var b strings.Builder
	for _, a := range snapshot {
		if a.Flags.Revoked {
			fmt.Fprintf(&b, "%s !%s %s %s\n", a.ID, a.Name, a.IP, "removed")
			continue
		}
		fmt.Fprintf(&b, "%s %s %s %s\n", a.ID, a.Name, a.IP, a.RawKey)
	}
	return atomicWrite(path, []byte(b.String()))
}

// LoadTimestamps merges registration times from the timestamp file into
// already-loaded entries. Unknown ids are ignored.
func (k *Keystore) LoadTimestamps(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open timestamp file: %w", err)
	}
	defer f.Close()

	k.mu.Lock()
	defer k.mu.Unlock()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.SplitN(strings.TrimSpace(scanner.Text()), " ", 4)
		if len(fields) != 4 {
			continue
		}
		agent, ok := k.byID[fields[0]]
		if !ok {
			continue
		}
		if ts, err := time.ParseInLocation(timestampLayout, fields[3], time.Local); err == nil {
			agent.Registered = ts
		}
	}
	return scanner.Err()
}

// WriteTimestamps serializes registration times with the same atomic
// pattern as the key file.
func WriteTimestamps(path string, snapshot []*types.Agent) error {
	var b strings.Builder
	for _, a := range snapshot {
		if a.Flags.Revoked || a.Registered.IsZero() {
			continue
		}
		fmt.Fprintf(&b, "%s %s %s %s\n", a.ID, a.Name, a.IP, a.Registered.Format(timestampLayout))
	}
	return atomicWrite(path, []byte(b.String()))
}

// atomicWrite writes data through a temp file and renames it over path.
// The file is fsynced before the rename so a crash never exposes a
// partial keystore.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0640); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
