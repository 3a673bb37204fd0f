package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/clinicdesk/internal/events"
)

// CurrentSchemaVersion is the journal schema version.
const CurrentSchemaVersion = 1

// SQLiteJournal persists store writes in SQLite.
type SQLiteJournal struct {
	db     *sql.DB
	logger *events.Logger

	mu sync.Mutex
}

// NewSQLiteJournal opens or creates a journal database.
func NewSQLiteJournal(dbPath string, logger *events.Logger) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	j := &SQLiteJournal{
		db:     db,
		logger: logger.WithField("component", "sqlite_journal"),
	}

	if err := j.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return j, nil
}

// initialize creates tables and indexes.
func (j *SQLiteJournal) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS writes (
        seq INTEGER PRIMARY KEY,
        op TEXT NOT NULL,
        path TEXT NOT NULL,
        value TEXT,
        written_at TIMESTAMP NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_writes_path ON writes(path);

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );

    INSERT OR IGNORE INTO schema_info (version) VALUES (?);
    `

	if _, err := j.db.Exec(schema, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// Append stores one write.
func (j *SQLiteJournal) Append(w Write) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var value sql.NullString
	if len(w.Value) > 0 {
		value = sql.NullString{String: string(w.Value), Valid: true}
	}

	_, err := j.db.Exec(`
        INSERT INTO writes (seq, op, path, value, written_at)
        VALUES (?, ?, ?, ?, ?)
    `, w.Seq, string(w.Op), w.Path, value, w.At)
	if err != nil {
		return fmt.Errorf("insert write %d: %w", w.Seq, err)
	}

	return nil
}

// Replay calls fn for every stored write in sequence order.
func (j *SQLiteJournal) Replay(fn func(Write) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(`
        SELECT seq, op, path, value, written_at
        FROM writes
        ORDER BY seq
    `)
	if err != nil {
		return fmt.Errorf("query writes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			w     Write
			op    string
			value sql.NullString
			at    time.Time
		)
		if err := rows.Scan(&w.Seq, &op, &w.Path, &value, &at); err != nil {
			return fmt.Errorf("scan write row: %w", err)
		}
		w.Op = WriteOp(op)
		w.At = at
		if value.Valid {
			w.Value = []byte(value.String)
		}
		if err := fn(w); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate writes: %w", err)
	}

	return nil
}

// Count returns the number of stored writes.
func (j *SQLiteJournal) Count() (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var n int
	if err := j.db.QueryRow("SELECT COUNT(*) FROM writes").Scan(&n); err != nil {
		return 0, fmt.Errorf("count writes: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

var _ Journal = (*SQLiteJournal)(nil)
