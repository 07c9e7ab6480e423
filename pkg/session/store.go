package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sw33tLie/wascope/pkg/phone"
	"github.com/sw33tLie/wascope/pkg/wadata"
)

// Store persists sessions in SQLite, one row per session plus child
// rows for the input snapshot and the results. Update is a full
// overwrite keyed by id with last-write-wins semantics; the engine
// guarantees single-writer access per session while it runs.
type Store struct {
	sql *sql.DB
}

// Open opens (and if needed creates) the session database.
func Open(path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS sessions (
  id                 TEXT PRIMARY KEY,
  file_name          TEXT,
  status             TEXT NOT NULL,
  total_numbers      INTEGER NOT NULL DEFAULT 0,
  completed_numbers  INTEGER NOT NULL DEFAULT 0,
  successful_checks  INTEGER NOT NULL DEFAULT 0,
  failed_checks      INTEGER NOT NULL DEFAULT 0,
  starred            INTEGER NOT NULL DEFAULT 0 CHECK (starred IN (0,1)),
  start_time         TEXT NOT NULL,
  end_time           TEXT,
  paused_at          TEXT,
  last_resumed_at    TEXT,
  settings           TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS session_numbers (
  session_id       TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
  position         INTEGER NOT NULL,
  original         TEXT NOT NULL,
  canonical        TEXT NOT NULL,
  region           TEXT,
  country_code     TEXT,
  valid            INTEGER NOT NULL CHECK (valid IN (0,1)),
  validation_error TEXT,
  PRIMARY KEY(session_id, position)
);
CREATE TABLE IF NOT EXISTS session_results (
  session_id     TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
  position       INTEGER NOT NULL,
  number         TEXT NOT NULL,
  profile        TEXT,
  error          TEXT,
  checked_at     TEXT,
  rate_remaining INTEGER,
  rate_limit     INTEGER,
  rate_reset     INTEGER,
  rate_used      INTEGER,
  UNIQUE(session_id, number)
);
CREATE INDEX IF NOT EXISTS idx_results_session ON session_results(session_id, position);
    `); err != nil {
		return nil, err
	}
	return &Store{sql: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sql == nil {
		return nil
	}
	return s.sql.Close()
}

// Create persists a new session. Fails if the id already exists.
func (s *Store) Create(ctx context.Context, sess *Session) error {
	sess.Recount()
	tx, err := s.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = insertSessionRow(ctx, tx, sess, false); err != nil {
		return err
	}
	if err = writeChildren(ctx, tx, sess); err != nil {
		return err
	}
	return tx.Commit()
}

// Update overwrites the stored session. Derived counters are recomputed
// from the results list before persisting.
func (s *Store) Update(ctx context.Context, sess *Session) error {
	sess.Recount()
	tx, err := s.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = insertSessionRow(ctx, tx, sess, true); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM session_numbers WHERE session_id = ?`, sess.ID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM session_results WHERE session_id = ?`, sess.ID); err != nil {
		return err
	}
	if err = writeChildren(ctx, tx, sess); err != nil {
		return err
	}
	return tx.Commit()
}

func insertSessionRow(ctx context.Context, tx *sql.Tx, sess *Session, replace bool) error {
	settingsJSON, err := json.Marshal(sess.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	verb := "INSERT"
	if replace {
		verb = "INSERT OR REPLACE"
	}
	_, err = tx.ExecContext(ctx, verb+` INTO sessions
(id, file_name, status, total_numbers, completed_numbers, successful_checks, failed_checks, starred, start_time, end_time, paused_at, last_resumed_at, settings)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sess.ID, nullIfEmpty(sess.FileName), string(sess.Status),
		sess.TotalNumbers, sess.CompletedNumbers, sess.SuccessfulChecks, sess.FailedChecks,
		boolToInt(sess.Starred),
		sess.StartTime.UTC().Format(time.RFC3339Nano),
		nullableTime(sess.EndTime), nullableTime(sess.PausedAt), nullableTime(sess.LastResumedAt),
		string(settingsJSON))
	return err
}

func writeChildren(ctx context.Context, tx *sql.Tx, sess *Session) error {
	for i, n := range sess.Numbers {
		if _, err := tx.ExecContext(ctx, `INSERT INTO session_numbers
(session_id, position, original, canonical, region, country_code, valid, validation_error)
VALUES(?,?,?,?,?,?,?,?)`,
			sess.ID, i, n.Original, n.Canonical, nullIfEmpty(n.Region), nullIfEmpty(n.CountryCode),
			boolToInt(n.Valid), nullIfEmpty(n.ValidationError)); err != nil {
			return err
		}
	}

	for i, r := range sess.Results {
		var profileJSON interface{}
		if r.Profile != nil {
			b, err := json.Marshal(r.Profile)
			if err != nil {
				return fmt.Errorf("marshal profile: %w", err)
			}
			profileJSON = string(b)
		}
		var checkedAt interface{}
		if !r.CheckedAt.IsZero() {
			checkedAt = r.CheckedAt.UTC().Format(time.RFC3339Nano)
		}
		var remaining, limit, reset, used interface{}
		if r.RateLimit != nil {
			remaining, limit, reset, used = r.RateLimit.Remaining, r.RateLimit.Limit, r.RateLimit.Reset, r.RateLimit.Used
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO session_results
(session_id, position, number, profile, error, checked_at, rate_remaining, rate_limit, rate_reset, rate_used)
VALUES(?,?,?,?,?,?,?,?,?,?)`,
			sess.ID, i, r.Number, profileJSON, nullIfEmpty(r.Err), checkedAt,
			remaining, limit, reset, used); err != nil {
			return err
		}
	}
	return nil
}

// Get loads a session by id; returns nil when it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	row := s.sql.QueryRowContext(ctx, `SELECT id, file_name, status, total_numbers, completed_numbers, successful_checks, failed_checks, starred, start_time, end_time, paused_at, last_resumed_at, settings FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if sess.Numbers, err = s.loadNumbers(ctx, id); err != nil {
		return nil, err
	}
	if sess.Results, err = s.loadResults(ctx, id); err != nil {
		return nil, err
	}
	return sess, nil
}

// List returns all sessions, most recent first, without their child
// rows (numbers/results stay on disk until Get).
func (s *Store) List(ctx context.Context) ([]*Session, error) {
	rows, err := s.sql.QueryContext(ctx, `SELECT id, file_name, status, total_numbers, completed_numbers, successful_checks, failed_checks, starred, start_time, end_time, paused_at, last_resumed_at, settings FROM sessions ORDER BY start_time DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Delete removes a session and its children. Reports whether a row
// actually existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.sql.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	if _, err := s.sql.ExecContext(ctx, `DELETE FROM session_numbers WHERE session_id = ?`, id); err != nil {
		return false, err
	}
	if _, err := s.sql.ExecContext(ctx, `DELETE FROM session_results WHERE session_id = ?`, id); err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Clear removes every stored session.
func (s *Store) Clear(ctx context.Context) error {
	for _, q := range []string{
		`DELETE FROM session_results`,
		`DELETE FROM session_numbers`,
		`DELETE FROM sessions`,
	} {
		if _, err := s.sql.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// SetStarred toggles the user bookmark on a session.
func (s *Store) SetStarred(ctx context.Context, id string, starred bool) error {
	res, err := s.sql.ExecContext(ctx, `UPDATE sessions SET starred = ? WHERE id = ?`, boolToInt(starred), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

// Stats is an aggregate view over every stored session.
type Stats struct {
	TotalSessions   int
	TotalNumbers    int
	TotalSuccessful int
	TotalFailed     int
	LastCheck       time.Time
}

// GetStats aggregates counters across all sessions.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	var lastCheck sql.NullString
	err := s.sql.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(total_numbers), 0),
			COALESCE(SUM(successful_checks), 0),
			COALESCE(SUM(failed_checks), 0),
			MAX(start_time)
		FROM sessions`).Scan(&st.TotalSessions, &st.TotalNumbers, &st.TotalSuccessful, &st.TotalFailed, &lastCheck)
	if err != nil {
		return st, err
	}
	if lastCheck.Valid {
		if t, perr := time.Parse(time.RFC3339Nano, lastCheck.String); perr == nil {
			st.LastCheck = t
		}
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess                             Session
		fileName                         sql.NullString
		status                           string
		starred                          int
		startTime                        string
		endTime, pausedAt, lastResumedAt sql.NullString
		settingsJSON                     string
	)
	if err := row.Scan(&sess.ID, &fileName, &status, &sess.TotalNumbers, &sess.CompletedNumbers, &sess.SuccessfulChecks, &sess.FailedChecks, &starred, &startTime, &endTime, &pausedAt, &lastResumedAt, &settingsJSON); err != nil {
		return nil, err
	}
	sess.FileName = fileName.String
	sess.Status = Status(status)
	sess.Starred = starred == 1
	t, err := time.Parse(time.RFC3339Nano, startTime)
	if err != nil {
		return nil, fmt.Errorf("parse start time for session %s: %w", sess.ID, err)
	}
	sess.StartTime = t
	sess.EndTime = parseNullableTime(endTime)
	sess.PausedAt = parseNullableTime(pausedAt)
	sess.LastResumedAt = parseNullableTime(lastResumedAt)
	if err := json.Unmarshal([]byte(settingsJSON), &sess.Settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings for session %s: %w", sess.ID, err)
	}
	return &sess, nil
}

func (s *Store) loadNumbers(ctx context.Context, id string) ([]phone.Record, error) {
	rows, err := s.sql.QueryContext(ctx, `SELECT original, canonical, region, country_code, valid, validation_error FROM session_numbers WHERE session_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []phone.Record
	for rows.Next() {
		var (
			rec              phone.Record
			region, cc, verr sql.NullString
			valid            int
		)
		if err := rows.Scan(&rec.Original, &rec.Canonical, &region, &cc, &valid, &verr); err != nil {
			return nil, err
		}
		rec.Region = region.String
		rec.CountryCode = cc.String
		rec.Valid = valid == 1
		rec.ValidationError = verr.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) loadResults(ctx context.Context, id string) ([]wadata.Result, error) {
	rows, err := s.sql.QueryContext(ctx, `SELECT number, profile, error, checked_at, rate_remaining, rate_limit, rate_reset, rate_used FROM session_results WHERE session_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []wadata.Result
	for rows.Next() {
		var (
			res                    wadata.Result
			profileJSON, errStr    sql.NullString
			checkedAt              sql.NullString
			remaining, limit, used sql.NullInt64
			reset                  sql.NullInt64
		)
		if err := rows.Scan(&res.Number, &profileJSON, &errStr, &checkedAt, &remaining, &limit, &reset, &used); err != nil {
			return nil, err
		}
		if profileJSON.Valid {
			var p wadata.Profile
			if err := json.Unmarshal([]byte(profileJSON.String), &p); err != nil {
				return nil, fmt.Errorf("unmarshal profile for %s: %w", res.Number, err)
			}
			res.Profile = &p
		}
		res.Err = errStr.String
		if checkedAt.Valid {
			if t, perr := time.Parse(time.RFC3339Nano, checkedAt.String); perr == nil {
				res.CheckedAt = t
			}
		}
		if remaining.Valid || limit.Valid {
			res.RateLimit = &wadata.RateLimitInfo{
				Remaining: int(remaining.Int64),
				Limit:     int(limit.Int64),
				Reset:     reset.Int64,
				Used:      int(used.Int64),
			}
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
