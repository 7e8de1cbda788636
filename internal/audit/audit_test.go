package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/workspacehq/gateway/internal/platform/logging"
)

func newMockLog(t *testing.T) (*Log, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	sqlxDB := sqlx.NewDb(db, "postgres")
	return NewLog(sqlxDB, logging.New("test", "error", "text")), mock, func() { db.Close() }
}

func TestRecord_InsertsEvent(t *testing.T) {
	log, mock, closeDB := newMockLog(t)
	defer closeDB()

	mock.ExpectExec("INSERT INTO workspace_audit_events").
		WithArgs("s1/alice/demo", "created", "m_1", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	log.Record(context.Background(), Event{
		WorkspaceKey: "s1/alice/demo",
		Kind:         "created",
		MachineID:    "m_1",
		At:           time.Now(),
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecord_WriteFailureDoesNotPanic(t *testing.T) {
	log, mock, closeDB := newMockLog(t)
	defer closeDB()

	mock.ExpectExec("INSERT INTO workspace_audit_events").
		WillReturnError(context.DeadlineExceeded)

	log.Record(context.Background(), Event{WorkspaceKey: "s1/alice/demo", Kind: "created"})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
