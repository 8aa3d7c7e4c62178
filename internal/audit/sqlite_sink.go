package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink is the optional durable audit tail (spec §7's ambient
// durability addition — the in-memory Ring stays the kernel's
// authoritative state per the non-goal on persistent storage; this
// sink is a write-behind mirror an operator can opt into for
// post-mortem queries after a restart).
type SQLiteSink struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS audit_log (
	id         INTEGER PRIMARY KEY,
	ts         TEXT NOT NULL,
	category   TEXT NOT NULL,
	event_type TEXT NOT NULL,
	agent_id   INTEGER NOT NULL,
	details    TEXT
)`

const maxRetries = 3

// OpenSQLiteSink opens (creating if needed) a WAL-mode SQLite database
// at path and ensures its schema exists.
func OpenSQLiteSink(path string) (*SQLiteSink, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite sink: %w", err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: init sqlite schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Append writes e to the durable log, retrying on SQLITE_BUSY/locked
// with a short exponential backoff (contention is expected from the
// ring's concurrent Append callers plus any operator query).
func (s *SQLiteSink) Append(e Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("audit: marshal details: %w", err)
	}

	baseDelay := 20 * time.Millisecond
	var execErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, execErr = s.db.Exec(
			`INSERT INTO audit_log (id, ts, category, event_type, agent_id, details) VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.Ts.Format(time.RFC3339Nano), string(e.Category), e.EventType, e.AgentID, string(details),
		)
		if execErr == nil {
			return nil
		}
		if !isSQLiteConflictError(execErr) {
			return fmt.Errorf("audit: insert entry %d: %w", e.ID, execErr)
		}
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return fmt.Errorf("audit: insert entry %d after %d retries: %w", e.ID, maxRetries, execErr)
}

// Close releases the underlying database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
