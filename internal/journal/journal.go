// Package journal keeps a SQLite history of invocations.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mattjoyce/intertalk/internal/dispatch"
)

// Status of a journaled invocation.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

const (
	// maxErrorBytes caps the error text stored per row.
	maxErrorBytes = 4 * 1024

	// timeLayout is fixed-width so started_at sorts correctly as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Entry is one row of the journal.
type Entry struct {
	ID         string        `json:"id"`
	Depth      int           `json:"depth"`
	Condition  string        `json:"condition"`
	Mode       string        `json:"mode"`
	Dispatched int           `json:"dispatched"`
	Status     Status        `json:"status"`
	Error      *string       `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
}

// ErrEntryNotFound is returned by Get for an unknown invocation id.
var ErrEntryNotFound = errors.New("invocation not found")

// Journal records dispatcher invocations into the invocation_log table.
type Journal struct {
	db *sql.DB
}

var _ dispatch.Recorder = (*Journal)(nil)

// New returns a Journal over db. The schema must already be bootstrapped by
// storage.OpenSQLite.
func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// truncateError caps s at maxErrorBytes without splitting a rune.
func truncateError(s string) string {
	if len(s) <= maxErrorBytes {
		return s
	}
	cut := maxErrorBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// RecordInvocation appends inv to the journal.
func (j *Journal) RecordInvocation(ctx context.Context, inv dispatch.Invocation) error {
	id := inv.ID
	if id == "" {
		id = uuid.NewString()
	}

	status := StatusSucceeded
	var errText any
	if inv.Err != nil {
		status = StatusFailed
		errText = truncateError(inv.Err.Error())
	}

	startedAt := inv.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	_, err := j.db.ExecContext(ctx, `
INSERT INTO invocation_log(id, depth, condition, mode, dispatched, status, error, started_at, duration_us)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, inv.Depth, inv.Condition, inv.Mode.String(), inv.Dispatched, status, errText,
		startedAt.UTC().Format(timeLayout), inv.Duration.Microseconds())
	if err != nil {
		return fmt.Errorf("insert invocation_log: %w", err)
	}
	return nil
}

// List returns the newest entries first. limit <= 0 means 50.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, depth, condition, mode, dispatched, status, error, started_at, duration_us
FROM invocation_log
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invocations: %w", err)
	}
	return out, nil
}

// Get returns one entry by invocation id.
func (j *Journal) Get(ctx context.Context, id string) (*Entry, error) {
	row := j.db.QueryRowContext(ctx, `
SELECT id, depth, condition, mode, dispatched, status, error, started_at, duration_us
FROM invocation_log
WHERE id = ?;
`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Count returns the number of journaled invocations.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invocation_log;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count invocations: %w", err)
	}
	return n, nil
}

// Prune deletes entries older than retention and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-retention).Format(timeLayout)
	res, err := j.db.ExecContext(ctx, `DELETE FROM invocation_log WHERE started_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune invocations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune invocations: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e          Entry
		status     string
		errText    sql.NullString
		startedAtS string
		durationUS int64
	)
	if err := s.Scan(&e.ID, &e.Depth, &e.Condition, &e.Mode, &e.Dispatched, &status, &errText, &startedAtS, &durationUS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan invocation: %w", err)
	}
	e.Status = Status(status)
	if errText.Valid {
		e.Error = &errText.String
	}
	if t, err := time.Parse(timeLayout, startedAtS); err == nil {
		e.StartedAt = t
	}
	e.Duration = time.Duration(durationUS) * time.Microsecond
	return e, nil
}
