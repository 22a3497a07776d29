package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Journal is the SQLite session history.
type Journal struct {
	db        *sql.DB
	storeText bool
}

// Options configures Open.
type Options struct {
	// StoreText keeps the transcribed text; otherwise only its length is
	// recorded.
	StoreText bool
}

// Open opens or creates the journal at path and runs migrations.
func Open(path string, opts Options) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// The daemon writes from one goroutine; a single connection avoids
	// SQLITE_BUSY between the writer and history readers.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{db: db, storeText: opts.StoreText}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Record stores a finished session and its injection attempts.
func (j *Journal) Record(ctx context.Context, s Session, attempts []Attempt) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var text sql.NullString
	if j.storeText && s.Text != "" {
		text = sql.NullString{String: s.Text, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, started_at, mode, duration_ms, outcome, reason, error, method, transcription_ms, text_len, text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.StartedAt.UnixNano(), s.Mode, s.Duration.Milliseconds(), string(s.Outcome),
		nullable(s.Reason), nullable(s.Error), nullable(s.Method), s.TranscriptionTime.Milliseconds(),
		s.TextLen, text,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO injection_attempts (session_id, ordinal, method, outcome, reason, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, a := range attempts {
		outcome := "failure"
		if a.Success {
			outcome = "success"
		}
		if _, err := stmt.ExecContext(ctx, s.ID, i+1, a.Method, outcome, nullable(a.Reason), a.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("insert injection attempt: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Recent returns the newest n sessions, newest first, with their attempts.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}

	var entries []Entry
	for rows.Next() {
		e, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	rows.Close()

	for i := range entries {
		attempts, err := j.Attempts(ctx, entries[i].ID)
		if err != nil {
			return nil, err
		}
		entries[i].Attempts = attempts
	}
	return entries, nil
}

// Attempts returns the injection attempts of one session in order.
func (j *Journal) Attempts(ctx context.Context, sessionID string) ([]Attempt, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT ordinal, method, outcome, reason, duration_ms
		FROM injection_attempts WHERE session_id = ? ORDER BY ordinal`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		a := Attempt{SessionID: sessionID}
		var (
			outcome string
			reason  sql.NullString
			durMs   int64
		)
		if err := rows.Scan(&a.Ordinal, &a.Method, &outcome, &reason, &durMs); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Success = outcome == "success"
		a.Reason = reason.String
		a.Duration = time.Duration(durMs) * time.Millisecond
		out = append(out, a)
	}
	return out, rows.Err()
}

// Get returns one session, or nil if it is not recorded.
func (j *Journal) Get(ctx context.Context, id string) (*Entry, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions WHERE id = ?`, id)
	e, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	e.Attempts, err = j.Attempts(ctx, id)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

const sessionColumns = "id, started_at, mode, duration_ms, outcome, reason, error, method, transcription_ms, text_len, text"

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Entry, error) {
	var (
		e                             Entry
		startedNs, durMs, transMs     int64
		outcome                       string
		reason, errText, method, text sql.NullString
	)
	err := row.Scan(&e.ID, &startedNs, &e.Mode, &durMs, &outcome, &reason, &errText, &method, &transMs, &e.TextLen, &text)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("scan session: %w", err)
	}
	e.StartedAt = time.Unix(0, startedNs)
	e.Duration = time.Duration(durMs) * time.Millisecond
	e.TranscriptionTime = time.Duration(transMs) * time.Millisecond
	e.Outcome = Outcome(outcome)
	e.Reason, e.Error, e.Method, e.Text = reason.String, errText.String, method.String, text.String
	return e, nil
}

// Prune deletes sessions started before cutoff and returns how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, "DELETE FROM sessions WHERE started_at < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return res.RowsAffected()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
