// Package journal records every request astrorpc issues on behalf of an
// outside caller (HTTP API, MQTT bridge) in the rpc_journal table, for
// diagnosing what was asked of the device server and how it answered.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/astrorpc/internal/rpc"
)

// Outcome classifies how a request ended.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeError    Outcome = "error"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeRejected Outcome = "rejected"
)

// Sources of journaled requests.
const (
	SourceAPI  = "api"
	SourceMQTT = "mqtt"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	// timeLayout is fixed width so created_at sorts as text.
	timeLayout = "2006-01-02T15:04:05.000000Z"
)

// Entry is one journaled request.
type Entry struct {
	ID         string         `json:"id"`
	RequestID  int64          `json:"request_id,omitempty"`
	Method     string         `json:"method"`
	Params     map[string]any `json:"params,omitempty"`
	Outcome    Outcome        `json:"outcome"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Source     string         `json:"source"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter selects entries for List.
type Filter struct {
	Method  string
	Outcome Outcome
	Source  string
	Limit   int // default 50, max 200
	Offset  int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores journal entries.
type Repository interface {
	Record(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter) (*ListResult, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// OutcomeOf classifies the error returned by an rpc call.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, rpc.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, rpc.ErrInvalidMethod), errors.Is(err, rpc.ErrQueueFull), errors.Is(err, rpc.ErrNotConnected):
		return OutcomeRejected
	default:
		return OutcomeError
	}
}

// NewEntry builds an entry for a finished call.
func NewEntry(source, method string, params map[string]any, requestID int64, started time.Time, err error) *Entry {
	e := &Entry{
		RequestID:  requestID,
		Method:     method,
		Params:     params,
		Outcome:    OutcomeOf(err),
		DurationMS: time.Since(started).Milliseconds(),
		Source:     source,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// SQLiteRepository keeps the journal in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts e, filling in ID and CreatedAt when empty.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "rpc-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var params *string
	if e.Params != nil {
		b, err := json.Marshal(e.Params)
		if err != nil {
			return fmt.Errorf("marshalling journal params: %w", err)
		}
		s := string(b)
		params = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rpc_journal (id, request_id, method, params, outcome, error, duration_ms, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullableInt(e.RequestID), e.Method, params, string(e.Outcome),
		nullableString(e.Error), e.DurationMS, e.Source,
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

// List returns entries matching f, newest first.
func (r *SQLiteRepository) List(ctx context.Context, f Filter) (*ListResult, error) {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	var (
		conditions []string
		args       []any
	)
	if f.Method != "" {
		conditions = append(conditions, "method = ?")
		args = append(args, f.Method)
	}
	if f.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, string(f.Outcome))
	}
	if f.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, f.Source)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM rpc_journal " + where //nolint:gosec // WHERE built from parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal entries: %w", err)
	}

	query := "SELECT id, request_id, method, params, outcome, error, duration_ms, source, created_at FROM rpc_journal " + //nolint:gosec // as above
		where + " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}

	return &ListResult{Entries: entries, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e         Entry
		requestID sql.NullInt64
		params    sql.NullString
		errText   sql.NullString
		outcome   string
		createdAt string
	)
	if err := rows.Scan(&e.ID, &requestID, &e.Method, &params, &outcome,
		&errText, &e.DurationMS, &e.Source, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning journal entry: %w", err)
	}
	e.RequestID = requestID.Int64
	e.Outcome = Outcome(outcome)
	e.Error = errText.String
	if params.Valid && params.String != "" {
		var p map[string]any
		if json.Unmarshal([]byte(params.String), &p) == nil {
			e.Params = p
		}
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing journal timestamp %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return e, nil
}

// Prune deletes entries created before olderThan and returns how many.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM rpc_journal WHERE created_at < ?",
		olderThan.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	return res.RowsAffected()
}
