package audit

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLogWritesBatchOnShutdown(t *testing.T) {
	db := openTestDB(t)
	logger, err := New(db, DriverSQLite)
	require.NoError(t, err)

	logger.Log(Event{Type: EventHandshakeAccepted, PartyID: "abc123"})
	require.NoError(t, logger.Shutdown(time.Second))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM audit_log").Scan(&count))
	require.Equal(t, 1, count)
}

func TestLogBatchesMultipleEvents(t *testing.T) {
	db := openTestDB(t)
	logger, err := New(db, DriverSQLite)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		logger.Log(Event{Type: EventSessionClosed, PartyID: "peer"})
	}
	require.NoError(t, logger.Shutdown(time.Second))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM audit_log").Scan(&count))
	require.Equal(t, 5, count)
}
