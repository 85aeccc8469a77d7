package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/roach88/uowflush/internal/flush"
)

// JournalEntry is one recorded unit flush.
type JournalEntry struct {
	OperationID string        `json:"operation_id"`
	Seq         int64         `json:"seq"`
	Entry       int           `json:"entry"`
	Mode        flush.Mode    `json:"mode"`
	Lane        flush.Lane    `json:"lane"`
	Unit        string        `json:"unit"`
	Group       string        `json:"group,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
	Error       string        `json:"error,omitempty"`
}

// Failed reports whether the unit's flush returned an error.
func (e JournalEntry) Failed() bool {
	return e.Error != ""
}

// OperationSummary aggregates the journal rows of one operation.
type OperationSummary struct {
	OperationID string `json:"operation_id"`
	Units       int    `json:"units"`
	Failures    int    `json:"failures"`
}

// WriteJournalEntry inserts a journal row.
// Uses ON CONFLICT DO NOTHING: rewriting the same (operation_id, seq) is a no-op.
func (s *Store) WriteJournalEntry(ctx context.Context, e JournalEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flush_journal
		(operation_id, seq, entry, mode, lane, unit, flush_group, duration_ns, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		e.OperationID,
		e.Seq,
		e.Entry,
		string(e.Mode),
		int(e.Lane),
		e.Unit,
		e.Group,
		e.Duration.Nanoseconds(),
		e.Error,
	)
	if err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	return nil
}

// ReadJournal returns the journal rows of an operation ordered by seq.
//
// Returns an empty slice (not nil) if the operation has no rows.
func (s *Store) ReadJournal(ctx context.Context, operationID string) ([]JournalEntry, error) {
	return s.queryJournal(ctx, readJournalSQL, operationID)
}

// ReadUnitJournal returns the rows of one unit within an operation ordered
// by seq. The query is pinned to idx_flush_journal_unit and fails if the
// v1 migration has not run.
func (s *Store) ReadUnitJournal(ctx context.Context, operationID, unit string) ([]JournalEntry, error) {
	return s.queryJournal(ctx, readUnitJournalSQL, unit, operationID)
}

const journalColumns = `operation_id, seq, entry, mode, lane, unit, flush_group, duration_ns, error`

const readJournalSQL = `
	SELECT ` + journalColumns + `
	FROM flush_journal
	WHERE operation_id = ?
	ORDER BY seq ASC`

const readUnitJournalSQL = `
	SELECT ` + journalColumns + `
	FROM flush_journal INDEXED BY idx_flush_journal_unit
	WHERE unit = ? AND operation_id = ?
	ORDER BY seq ASC`

func (s *Store) queryJournal(ctx context.Context, query string, args ...any) ([]JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	entries := []JournalEntry{}
	for rows.Next() {
		e, err := scanJournalEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}

// ListOperations summarises every journaled operation, ordered by id.
// UUIDv7 ids sort by creation time.
func (s *Store) ListOperations(ctx context.Context) ([]OperationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT operation_id, COUNT(*), SUM(CASE WHEN error != '' THEN 1 ELSE 0 END)
		FROM flush_journal
		GROUP BY operation_id
		ORDER BY operation_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	ops := []OperationSummary{}
	for rows.Next() {
		var op OperationSummary
		if err := rows.Scan(&op.OperationID, &op.Units, &op.Failures); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return ops, nil
}

func scanJournalEntry(rows *sql.Rows) (JournalEntry, error) {
	var (
		e          JournalEntry
		mode       string
		lane       int
		durationNS int64
	)
	if err := rows.Scan(&e.OperationID, &e.Seq, &e.Entry, &mode, &lane, &e.Unit, &e.Group, &durationNS, &e.Error); err != nil {
		return JournalEntry{}, fmt.Errorf("scan journal entry: %w", err)
	}
	e.Mode = flush.Mode(mode)
	e.Lane = flush.Lane(lane)
	e.Duration = time.Duration(durationNS)
	return e, nil
}

// Journal is a flush.Observer that records every unit flush in the store.
//
// Observer callbacks cannot fail, so write errors are logged and collected;
// Err returns them combined.
//
// Thread-safety: safe for concurrent use by worker lanes.
type Journal struct {
	store  *Store
	logger *slog.Logger

	mu   sync.Mutex
	errs error
}

// NewJournal creates a journal writing to s. A nil logger uses slog.Default().
func NewJournal(s *Store, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{store: s, logger: logger}
}

func (j *Journal) EntryScheduled(flush.EntryEvent) {}

func (j *Journal) UnitFlushed(e flush.UnitEvent) {
	entry := JournalEntry{
		OperationID: e.OperationID,
		Seq:         e.Seq,
		Entry:       e.Entry,
		Mode:        e.Mode,
		Lane:        e.Lane,
		Unit:        e.Unit,
		Group:       e.Group,
		Duration:    e.Duration,
	}
	if e.Err != nil {
		entry.Error = e.Err.Error()
	}

	if err := j.store.WriteJournalEntry(context.Background(), entry); err != nil {
		j.logger.Error("journal write failed",
			"operation", e.OperationID,
			"unit", e.Unit,
			"error", err,
		)
		j.mu.Lock()
		j.errs = multierr.Append(j.errs, err)
		j.mu.Unlock()
	}
}

func (j *Journal) FlushCompleted(flush.FlushEvent) {}

// Err returns every write error seen so far, or nil.
func (j *Journal) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.errs
}
