package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/uowflush/internal/canonical"
	"github.com/roach88/uowflush/internal/unitofwork"
)

type opKind int

const (
	opPut opKind = iota
	opDelete
)

type pendingOp struct {
	kind  opKind
	key   string
	value string // canonical JSON, puts only
}

// Batch is a unit of work staging writes to the kv table.
//
// Put and Delete only stage; Flush applies every staged write in one
// transaction and clears the batch on success. A failed Flush keeps the
// staged writes so the batch still requires a flush.
//
// Thread-safety: safe for concurrent use.
type Batch struct {
	store *Store
	name  string
	cfg   unitofwork.Config

	mu      sync.Mutex
	pending []pendingOp
}

// NewBatch creates an empty batch named name with flush configuration cfg.
func NewBatch(s *Store, name string, cfg unitofwork.Config) *Batch {
	return &Batch{store: s, name: name, cfg: cfg}
}

// Put stages key=value. value is stored as canonical JSON.
func (b *Batch) Put(key string, value any) error {
	if key == "" {
		return errors.New("put: empty key")
	}
	data, err := canonical.Marshal(value)
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, pendingOp{kind: opPut, key: key, value: string(data)})
	return nil
}

// Delete stages removal of key.
func (b *Batch) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, pendingOp{kind: opDelete, key: key})
}

// Pending returns the number of staged writes.
func (b *Batch) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Batch) UnitName() string { return b.name }

func (b *Batch) FlushConfig() unitofwork.Config { return b.cfg }

func (b *Batch) RequiresFlush() bool {
	return b.Pending() > 0
}

// Flush applies the staged writes in order inside one transaction.
func (b *Batch) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return nil
	}

	tx, err := b.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() // No-op after commit

	for _, op := range b.pending {
		if err := applyOp(ctx, tx, op); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch %s: %w", b.name, err)
	}
	b.pending = nil
	return nil
}

func applyOp(ctx context.Context, tx *sql.Tx, op pendingOp) error {
	switch op.kind {
	case opPut:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO kv (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, op.key, op.value); err != nil {
			return fmt.Errorf("put %q: %w", op.key, err)
		}
	case opDelete:
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, op.key); err != nil {
			return fmt.Errorf("delete %q: %w", op.key, err)
		}
	}
	return nil
}

// Get returns the stored canonical JSON for key. ok is false if absent.
func (s *Store) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

// Keys returns every stored key in binary order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv ORDER BY key COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}
