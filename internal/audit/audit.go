// Package audit records the handshake and session lifecycle trail — accepted,
// rejected-with-kind, rate-limited, closed-with-code — to a SQL-backed audit
// log, batching writes to Postgres or SQLite on a background goroutine.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the lifecycle events this package records.
type EventType string

const (
	EventHandshakeAccepted EventType = "handshake_accepted"
	EventHandshakeRejected EventType = "handshake_rejected"
	EventRateLimited       EventType = "rate_limited"
	EventSessionClosed     EventType = "session_closed"
)

// Event is one audit record.
type Event struct {
	ID         uuid.UUID
	Type       EventType
	PartyID    string
	Detail     string
	OccurredAt time.Time
}

// Driver distinguishes the two supported SQL backends: Postgres uses
// numbered placeholders, SQLite uses "?".
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite3"
)

const defaultQueueSize = 10_000
const defaultBatchSize = 100
const defaultFlushInterval = 2 * time.Second

// Logger batches Events into a SQL table on a background goroutine.
type Logger struct {
	db     *sql.DB
	driver Driver

	queue         chan Event
	batchSize     int
	flushInterval time.Duration

	stop chan struct{}
	done chan struct{}
}

// New creates a Logger over db, ensuring the audit_log table exists.
func New(db *sql.DB, driver Driver) (*Logger, error) {
	if err := ensureSchema(db, driver); err != nil {
		return nil, err
	}
	l := &Logger{
		db:            db,
		driver:        driver,
		queue:         make(chan Event, defaultQueueSize),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go l.run()
	return l, nil
}

func ensureSchema(db *sql.DB, driver Driver) error {
	autoIncrement := "BIGSERIAL"
	if driver == DriverSQLite {
		autoIncrement = "INTEGER"
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS audit_log (
		seq %s PRIMARY KEY %s,
		id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		party_id TEXT NOT NULL,
		detail TEXT NOT NULL,
		occurred_at TIMESTAMP NOT NULL
	)`, autoIncrement, autoIncrementSuffix(driver))
	_, err := db.Exec(ddl)
	return err
}

func autoIncrementSuffix(driver Driver) string {
	if driver == DriverSQLite {
		return "AUTOINCREMENT"
	}
	return ""
}

// Log enqueues event for asynchronous write. If the queue is full the event
// is dropped rather than blocking the caller; audit logging must never
// stall the relay's hot path.
func (l *Logger) Log(event Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	select {
	case l.queue <- event:
	default:
		log.Printf("audit: queue full, dropping event %s", event.Type)
	}
}

func (l *Logger) run() {
	defer close(l.done)
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, l.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := l.writeBatch(batch); err != nil {
			log.Printf("audit: batch write failed: %v", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-l.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= l.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.stop:
			for {
				select {
				case e := <-l.queue:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (l *Logger) writeBatch(events []Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("audit: begin tx: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertStatement(l.driver))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("audit: prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, e.ID.String(), string(e.Type), e.PartyID, e.Detail, e.OccurredAt); err != nil {
			tx.Rollback()
			return fmt.Errorf("audit: exec: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("audit: commit: %w", err)
	}
	return nil
}

func insertStatement(driver Driver) string {
	cols := "id, event_type, party_id, detail, occurred_at"
	if driver == DriverSQLite {
		return fmt.Sprintf("INSERT INTO audit_log (%s) VALUES (?, ?, ?, ?, ?)", cols)
	}
	placeholders := make([]string, 5)
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO audit_log (%s) VALUES (%s)", cols, strings.Join(placeholders, ", "))
}

// Shutdown flushes any queued events and stops the background writer,
// waiting up to timeout for it to finish.
func (l *Logger) Shutdown(timeout time.Duration) error {
	close(l.stop)
	select {
	case <-l.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit: shutdown timed out after %s", timeout)
	}
}
