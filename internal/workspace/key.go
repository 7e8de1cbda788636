// Package workspace implements the Workspace Actor and its process-wide
// Registry (spec §4.4): one long-lived, serialized actor per
// (session, user, repo) key, owning a single machine id, an inactivity
// timer, and all in-flight lifecycle operations for that workspace.
package workspace

import "github.com/workspacehq/gateway/internal/store"

// Key is the WorkspaceKey from spec §3 — re-exported from internal/store,
// which owns on-disk layout concerns for the same identity.
type Key = store.Key
