package workspace

import (
	"context"
	"encoding/hex"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"

	"github.com/workspacehq/gateway/internal/audit"
	"github.com/workspacehq/gateway/internal/platform/metrics"
)

// AuditRecorder is the subset of audit.Log the event logger depends on,
// kept as an interface so a nil *audit.Log (no Postgres configured) just
// disables the audit side channel rather than requiring a fake.
type AuditRecorder interface {
	Record(ctx context.Context, ev audit.Event)
}

// EventLogger emits one structured line per actor state transition, kept
// deliberately separate from the request logger (internal/platform/logging,
// built on logrus) — see SPEC_FULL.md §1.1 for why two logging libraries
// coexist in this repo. It optionally mirrors each transition into the
// audit log (SPEC_FULL.md §3.1); the audit write is dispatched on its own
// goroutine so a slow or unreachable Postgres never blocks the actor's
// serialized inbox loop.
type EventLogger struct {
	logger zerolog.Logger
	audit  AuditRecorder
}

// NewEventLogger builds the actor lifecycle event logger with no audit
// sink — transitions are logged but not recorded to Postgres.
func NewEventLogger() *EventLogger {
	return &EventLogger{logger: zerolog.New(os.Stdout).With().Timestamp().Logger()}
}

// NewEventLoggerWithAudit builds an EventLogger that also mirrors every
// transition to rec.
func NewEventLoggerWithAudit(rec AuditRecorder) *EventLogger {
	return &EventLogger{logger: zerolog.New(os.Stdout).With().Timestamp().Logger(), audit: rec}
}

// hashKey derives a non-reversible label for a workspace key so raw
// session cookies never reach a log line or metric label.
func hashKey(key Key) string {
	sum := blake2b.Sum256([]byte(key.String()))
	return hex.EncodeToString(sum[:8])
}

func (l *EventLogger) transition(key Key, event, machineID string) {
	l.logger.Info().
		Str("workspace_key_hash", hashKey(key)).
		Str("event", event).
		Str("machine_id", machineID).
		Msg("workspace actor transition")

	metrics.Global().RecordActorTransition(event)

	if l.audit != nil {
		ev := audit.Event{
			WorkspaceKey: key.String(),
			Kind:         event,
			MachineID:    machineID,
		}
		go l.audit.Record(context.Background(), ev)
	}
}

func (l *EventLogger) errorEvent(key Key, event string, err error) {
	l.logger.Warn().
		Str("workspace_key_hash", hashKey(key)).
		Str("event", event).
		Err(err).
		Msg("workspace actor error")

	if l.audit != nil {
		detail := ""
		if err != nil {
			detail = err.Error()
		}
		ev := audit.Event{
			WorkspaceKey: key.String(),
			Kind:         event,
			Detail:       detail,
		}
		go l.audit.Record(context.Background(), ev)
	}
}
