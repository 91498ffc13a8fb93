// Package syncengine implements the divide-and-conquer range-hash sync
// state machine: it drives a cursor (prev_key, last_key) and an
// adaptive row-count target r across one table, comparing hashes against a
// Remote abstraction and reconciling rows through the local adapter when a
// disputed range narrows to where rows must be exchanged directly. The
// state machine itself is backend-agnostic; it is exercised either
// same-process (Remote backed by a second adapter.Adapter, used in tests)
// or over the wire through pkg/peer's Remote implementation.
package syncengine

import (
	"context"

	"go.uber.org/zap"

	"github.com/koba/rangesync/pkg/adapter"
	"github.com/koba/rangesync/pkg/apperr"
	"github.com/koba/rangesync/pkg/codec"
	"github.com/koba/rangesync/pkg/rangehash"
	"github.com/koba/rangesync/pkg/sqlgen"
)

// DefaultMaxRowCount is the policy cap on the adaptive row-count target r.
const DefaultMaxRowCount = 10000

// HashResult is what a Remote reports back for a hash request: the key
// range it actually covered and the digest over that range.
type HashResult struct {
	LastKey  codec.ColumnValues
	RowCount int
	Digest   string
}

// Remote is the sync engine's view of the other side of the wire (the
// "from" side). Each method corresponds 1:1 to a protocol verb, so
// pkg/peer's client implementation is a thin wrapper that sends the
// command and parses the response; a same-process Remote (used by tests
// and by the local-replay tool in pkg/snapshot) computes rangehash
// digests and retrieves rows directly.
type Remote interface {
	// HashNext asks for a hash over up to rowsToHash rows starting after
	// prevKey, opening a new range.
	HashNext(ctx context.Context, table string, prevKey codec.ColumnValues, rowsToHash int) (HashResult, error)
	// HashCurr re-hashes the same starting point at a reduced row target
	// after a mismatch.
	HashCurr(ctx context.Context, table string, prevKey codec.ColumnValues, rowsToHash int) (HashResult, error)
	// RowsCurr streams the rows in (prevKey, lastKey].
	RowsCurr(ctx context.Context, table string, prevKey, lastKey codec.ColumnValues) ([]codec.Row, error)
	// RowsNext streams the rows in (prevKey, lastKey] after the "from" side
	// has already reached end-of-table for the hash phase.
	RowsNext(ctx context.Context, table string, prevKey, lastKey codec.ColumnValues) ([]codec.Row, error)
}

// Engine runs the divide-and-conquer state machine against one
// adapter.Adapter (the destination, "to" side) and one Remote (the
// source, "from" side).
type Engine struct {
	Local       adapter.Adapter
	Remote      Remote
	MaxRowCount int
	Logger      *zap.Logger
}

// New creates an Engine with the default row-count cap. A nil Logger
// disables logging.
func New(local adapter.Adapter, remote Remote, logger *zap.Logger) *Engine {
	return &Engine{Local: local, Remote: remote, MaxRowCount: DefaultMaxRowCount, Logger: logger}
}

func (e *Engine) log() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// SyncTable reconciles one table end to end: OPEN, then iterate
// HASH_NEXT/HASH_CURR/ROWS_CURR/ROWS_NEXT until prev_key reaches the end of
// the table on both sides. t carries the table name, column list, and PK
// column names (positions into ColumnNames); pkIdx gives the same PK
// columns as offsets for codec.Row indexing.
func (e *Engine) SyncTable(ctx context.Context, t sqlgen.Table, pkIdx []int) error {
	var prevKey codec.ColumnValues
	r := 1

	e.log().Info("sync table open", zap.String("table", t.Name))

	useNext := true // OPEN's first request behaves like a HASH_NEXT: a fresh range from an empty cursor.
	for {
		var hr HashResult
		var err error
		if useNext {
			hr, err = e.Remote.HashNext(ctx, t.Name, prevKey, r)
		} else {
			hr, err = e.Remote.HashCurr(ctx, t.Name, prevKey, r)
		}
		if err != nil {
			return err
		}

		match, err := e.rangeMatches(ctx, t, pkIdx, prevKey, hr.LastKey, hr.Digest)
		if err != nil {
			return err
		}

		if match {
			prevKey = hr.LastKey
			if len(prevKey) == 0 {
				e.log().Info("sync table converged", zap.String("table", t.Name))
				return nil
			}
			r = doubled(r, e.cap())
			useNext = true
			continue
		}

		if r == 1 {
			if err := e.reconcileRows(ctx, t, pkIdx, prevKey, hr.LastKey, hr.RowCount == 0); err != nil {
				return err
			}
			prevKey = hr.LastKey
			r = halved(r)
			if len(prevKey) == 0 {
				return nil
			}
			useNext = true
			continue
		}

		// Mismatch with r > 1: halve the disputed range by re-requesting a
		// smaller hash target at the same prevKey.
		r = r / 2
		useNext = false
	}
}

// rangeMatches computes the local digest over the exact range the remote
// reported (prevKey, lastKey], where an empty lastKey means "to the end of
// the table" (sqlgen.RetrieveRows' own convention), and compares it against
// the remote's digest.
func (e *Engine) rangeMatches(ctx context.Context, t sqlgen.Table, pkIdx []int, prevKey, lastKey codec.ColumnValues, remoteDigest string) (bool, error) {
	local, err := rangehash.HashRange(ctx, e.Local, t, pkIdx, prevKey, lastKey, sqlgen.Unlimited())
	if err != nil {
		return false, err
	}
	return local.Digest == remoteDigest, nil
}

// reconcileRows fetches the authoritative rows for (prevKey, lastKey] from
// the remote and applies them locally: every provided row replaces any
// existing row with the same PK (DELETE-then-INSERT), and any local row in
// the range not present in the response is deleted (the range-coverage
// deletion rule, and the only place row deletion occurs).
//
// emptyRemoteRange is true when the remote's hash covered zero rows (the
// end-of-table edge case): ROWS_NEXT is used instead of ROWS_CURR there.
func (e *Engine) reconcileRows(ctx context.Context, t sqlgen.Table, pkIdx []int, prevKey, lastKey codec.ColumnValues, emptyRemoteRange bool) error {
	var rows []codec.Row
	var err error
	if emptyRemoteRange {
		rows, err = e.Remote.RowsNext(ctx, t.Name, prevKey, lastKey)
	} else {
		rows, err = e.Remote.RowsCurr(ctx, t.Name, prevKey, lastKey)
	}
	if err != nil {
		return err
	}

	if err := e.Local.StartWriteTransaction(ctx); err != nil {
		return err
	}
	if err := e.applyRows(ctx, t, pkIdx, prevKey, lastKey, rows); err != nil {
		_ = e.Local.Rollback(ctx)
		return err
	}
	return e.Local.Commit(ctx)
}

func (e *Engine) applyRows(ctx context.Context, t sqlgen.Table, pkIdx []int, prevKey, lastKey codec.ColumnValues, rows []codec.Row) error {
	keep := make([]codec.ColumnValues, 0, len(rows))
	for _, row := range rows {
		key := keyOf(row, pkIdx)
		keep = append(keep, key)
		if err := e.Local.Execute(ctx, sqlgen.DeleteRowByKey(e.Local, t, key)); err != nil {
			return &apperr.SyncError{Reason: "delete-before-insert on " + t.Name + ": " + err.Error()}
		}
		if err := e.Local.Execute(ctx, sqlgen.InsertRow(e.Local, t, row)); err != nil {
			return &apperr.SyncError{Reason: "insert into " + t.Name + ": " + err.Error()}
		}
	}
	if err := e.Local.Execute(ctx, sqlgen.DeleteRangeExcept(e.Local, t, prevKey, lastKey, keep)); err != nil {
		return &apperr.SyncError{Reason: "range-coverage delete on " + t.Name + ": " + err.Error()}
	}
	return nil
}

func keyOf(row codec.Row, pkIdx []int) codec.ColumnValues {
	key := make(codec.ColumnValues, len(pkIdx))
	for i, idx := range pkIdx {
		key[i] = row[idx]
	}
	return key
}

func (e *Engine) cap() int {
	if e.MaxRowCount <= 0 {
		return DefaultMaxRowCount
	}
	return e.MaxRowCount
}

func doubled(r, cap int) int {
	r *= 2
	if r > cap {
		return cap
	}
	return r
}

func halved(r int) int {
	r = r / 2
	if r < 1 {
		return 1
	}
	return r
}
