package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tripsync/internal/database/migrations"
	"tripsync/internal/model"
	"tripsync/internal/tripsync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements tripsync.Database using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens the database at path and applies pending
// migrations. path can be a file path or ":memory:".
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing, already migrated connection.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite connection.
// path can be a file path or ":memory:" for an in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// Each connection to ":memory:" is its own database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = FULL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}
	return db, nil
}

// Snapshot operations

func (s *SQLiteDatabase) LoadSnapshot(kind model.Kind) ([]byte, string, bool, error) {
	var data []byte
	var checksum string
	err := s.db.QueryRow("SELECT data, checksum FROM kind_snapshots WHERE kind = ?", string(kind)).Scan(&data, &checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("loading snapshot: %w", err)
	}
	return data, checksum, true, nil
}

func (s *SQLiteDatabase) SaveSnapshot(kind model.Kind, data []byte, checksum string, throughSeq int64) error {
	return s.inTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO kind_snapshots (kind, data, checksum, through_seq, saved_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (kind) DO UPDATE SET
				data = excluded.data,
				checksum = excluded.checksum,
				through_seq = excluded.through_seq,
				saved_at = excluded.saved_at`,
			string(kind), data, checksum, throughSeq, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("saving snapshot: %w", err)
		}
		if _, err := tx.Exec("DELETE FROM journal WHERE kind = ? AND seq <= ?", string(kind), throughSeq); err != nil {
			return fmt.Errorf("compacting journal: %w", err)
		}
		return nil
	})
}

func (s *SQLiteDatabase) ResetKind(kind model.Kind) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM kind_snapshots WHERE kind = ?", string(kind)); err != nil {
			return fmt.Errorf("deleting snapshot: %w", err)
		}
		if _, err := tx.Exec("DELETE FROM cursors WHERE kind = ?", string(kind)); err != nil {
			return fmt.Errorf("deleting cursor: %w", err)
		}
		return nil
	})
}

// Journal operations

func (s *SQLiteDatabase) AppendJournal(kind model.Kind, recordID string, data []byte, enqueue bool, at time.Time) (int64, error) {
	var seq int64
	err := s.inTx(func(tx *sql.Tx) error {
		res, err := tx.Exec("INSERT INTO journal (kind, record_id, data, appended_at) VALUES (?, ?, ?, ?)",
			string(kind), recordID, data, at.UTC())
		if err != nil {
			return fmt.Errorf("appending journal: %w", err)
		}
		if seq, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("reading journal seq: %w", err)
		}
		if !enqueue {
			return nil
		}
		// A record already queued is rescheduled for now: the newest version
		// is what gets pushed.
		_, err = tx.Exec(`
			INSERT INTO outbox (record_id, kind, attempts, next_attempt_at, last_error, enqueued_at, journal_seq)
			VALUES (?, ?, 0, ?, '', ?, ?)
			ON CONFLICT (record_id) DO UPDATE SET
				attempts = 0,
				next_attempt_at = excluded.next_attempt_at,
				journal_seq = excluded.journal_seq`,
			recordID, string(kind), at.UnixNano(), at.UnixNano(), seq)
		if err != nil {
			return fmt.Errorf("enqueueing push: %w", err)
		}
		return nil
	})
	return seq, err
}

func (s *SQLiteDatabase) LoadJournal() ([]tripsync.JournalEntry, error) {
	rows, err := s.db.Query("SELECT seq, kind, data FROM journal ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("loading journal: %w", err)
	}
	defer rows.Close()

	var entries []tripsync.JournalEntry
	for rows.Next() {
		var e tripsync.JournalEntry
		var kind string
		if err := rows.Scan(&e.Seq, &kind, &e.Data); err != nil {
			return nil, fmt.Errorf("scanning journal: %w", err)
		}
		e.Kind = model.Kind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Cursor operations

func (s *SQLiteDatabase) GetCursor(kind model.Kind) (tripsync.Cursor, error) {
	var cursor string
	err := s.db.QueryRow("SELECT cursor FROM cursors WHERE kind = ?", string(kind)).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading cursor: %w", err)
	}
	return tripsync.Cursor(cursor), nil
}

func (s *SQLiteDatabase) SetCursor(kind model.Kind, cursor tripsync.Cursor) error {
	_, err := s.db.Exec(`
		INSERT INTO cursors (kind, cursor, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (kind) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at`,
		string(kind), string(cursor), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving cursor: %w", err)
	}
	return nil
}

// Outbox operations

func (s *SQLiteDatabase) DuePushes(now time.Time, limit int) ([]tripsync.PendingPush, error) {
	rows, err := s.db.Query(`
		SELECT record_id, kind, attempts, next_attempt_at, last_error, enqueued_at, journal_seq
		FROM outbox
		WHERE next_attempt_at <= ?
		ORDER BY next_attempt_at, enqueued_at, record_id
		LIMIT ?`, now.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("listing due pushes: %w", err)
	}
	defer rows.Close()

	var out []tripsync.PendingPush
	for rows.Next() {
		var p tripsync.PendingPush
		var kind string
		var next, enqueued int64
		if err := rows.Scan(&p.RecordID, &kind, &p.Attempts, &next, &p.LastError, &enqueued, &p.Seq); err != nil {
			return nil, fmt.Errorf("scanning push: %w", err)
		}
		p.Kind = model.Kind(kind)
		p.NextAttemptAt = time.Unix(0, next).UTC()
		p.EnqueuedAt = time.Unix(0, enqueued).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteDatabase) NextPushAt() (time.Time, bool, error) {
	var next sql.NullInt64
	if err := s.db.QueryRow("SELECT MIN(next_attempt_at) FROM outbox").Scan(&next); err != nil {
		return time.Time{}, false, fmt.Errorf("reading next push: %w", err)
	}
	if !next.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(0, next.Int64).UTC(), true, nil
}

func (s *SQLiteDatabase) EnsurePush(kind model.Kind, recordID string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO outbox (record_id, kind, attempts, next_attempt_at, last_error, enqueued_at, journal_seq)
		VALUES (?, ?, 0, ?, '', ?, 0)
		ON CONFLICT (record_id) DO NOTHING`,
		recordID, string(kind), at.UnixNano(), at.UnixNano())
	if err != nil {
		return fmt.Errorf("ensuring push: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ReschedulePush(recordID string, seq int64, attempts int, next time.Time, lastErr string) error {
	_, err := s.db.Exec("UPDATE outbox SET attempts = ?, next_attempt_at = ?, last_error = ? WHERE record_id = ? AND journal_seq = ?",
		attempts, next.UnixNano(), lastErr, recordID, seq)
	if err != nil {
		return fmt.Errorf("rescheduling push: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) CompletePush(recordID string, seq int64) error {
	if _, err := s.db.Exec("DELETE FROM outbox WHERE record_id = ? AND journal_seq = ?", recordID, seq); err != nil {
		return fmt.Errorf("completing push: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) CountPushes() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM outbox").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting pushes: %w", err)
	}
	return n, nil
}

func (s *SQLiteDatabase) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Path returns the file the database was opened from.
func (s *SQLiteDatabase) Path() string { return s.path }

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ tripsync.Database = (*SQLiteDatabase)(nil)
