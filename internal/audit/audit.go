// Package audit is a best-effort, derived lifecycle log (SPEC_FULL.md
// §3.1): one row per actor transition, written to Postgres via sqlx. It is
// never consulted by the Workspace Actor — EnsureMachine/Suspend decisions
// depend only on the State Store and the provider, exactly as spec.md §3
// requires. A write failure here is logged and otherwise ignored.
package audit

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/workspacehq/gateway/internal/platform/logging"
)

// Event is one audit row.
type Event struct {
	WorkspaceKey string    `db:"workspace_key"`
	Kind         string    `db:"kind"`
	MachineID    string    `db:"machine_id"`
	Detail       string    `db:"detail"`
	At           time.Time `db:"at"`
}

const insertEventSQL = `
INSERT INTO workspace_audit_events (workspace_key, kind, machine_id, detail, at)
VALUES ($1, $2, $3, $4, $5)
`

// Log writes audit events to Postgres through sqlx, best-effort.
type Log struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// NewLog builds a Log over an already-opened sqlx.DB.
func NewLog(db *sqlx.DB, logger *logging.Logger) *Log {
	return &Log{db: db, logger: logger}
}

// Record inserts ev, logging (never returning) any failure — callers must
// not let an audit failure affect the actor operation that produced ev.
func (l *Log) Record(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if _, err := l.db.ExecContext(writeCtx, insertEventSQL, ev.WorkspaceKey, ev.Kind, ev.MachineID, ev.Detail, ev.At); err != nil {
		l.logger.WithError(err).Warn("audit event write failed")
	}
}
