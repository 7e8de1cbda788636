// Package store implements the Lifecycle State Store (spec §4.3): a
// durable key→value of MachineRecord, one JSON file per key under a
// configured data directory.
package store

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Key is the identity of a workspace: the (session, user, repo) triple from
// spec §3 ("WorkspaceKey"). It must be hostname- and filesystem-safe.
type Key struct {
	SessionID string
	User      string
	Repo      string
}

// Validate rejects key components that would escape the data directory or
// otherwise aren't filesystem-safe, per spec §3 ("reject keys containing
// path separators").
func (k Key) Validate() error {
	for name, v := range map[string]string{"session_id": k.SessionID, "user": k.User, "repo": k.Repo} {
		if v == "" {
			return fmt.Errorf("workspace key: %s is empty", name)
		}
		if strings.ContainsAny(v, "/\\") || v == "." || v == ".." {
			return fmt.Errorf("workspace key: %s is not filesystem-safe: %q", name, v)
		}
	}
	return nil
}

// Path returns the on-disk location for this key under dataDir, per spec §6:
// <data_dir>/<session_id>/<user>/<repo>.json
func (k Key) Path(dataDir string) string {
	return filepath.Join(dataDir, k.SessionID, k.User, k.Repo+".json")
}

// String renders the key for logging/metrics labels. Callers that must not
// leak the raw session id (e.g. logs) should hash it first; this is the
// plain, non-hashed form used only for internal map keys.
func (k Key) String() string {
	return k.SessionID + "/" + k.User + "/" + k.Repo
}

// Record is the persisted state for one workspace (spec §3). machine_id is
// the only mutable field the spec requires; implementations may add more,
// but this one intentionally stays minimal — see SPEC_FULL.md §9 on the
// richer-record open question.
type Record struct {
	MachineID string `json:"machine_id"`
}

// Store is the interface the Workspace Actor depends on.
type Store interface {
	// Load returns the record for key, or a *apierr.StoreError with Kind
	// NotFound/Corrupt/IOError. Callers treat NotFound and Corrupt
	// identically: proceed as if nothing were stored (spec §4.3).
	Load(key Key) (Record, error)
	// Save persists rec for key. Write failures are non-fatal for callers
	// (log + continue with the in-memory id) because the provider, not the
	// store, is ground truth (spec §4.3).
	Save(key Key, rec Record) error
}
