// Package snapshot is a SQLite-backed capture/replay store for the sync
// engine: it captures one side's model.Database plus a full row dump of
// every table (driven through the same adapter.Adapter contract live
// sessions use) into a local SQLite file, and can later serve that
// frozen dataset back out as a syncengine.Remote for replay against a
// destination without a live source connection. Schemas and rows are
// stored in the wire codec's own msgpack encoding, so a capture
// round-trips through the exact bytes the live protocol would have sent.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"

	"github.com/koba/rangesync/pkg/adapter"
	"github.com/koba/rangesync/pkg/codec"
	"github.com/koba/rangesync/pkg/model"
	"github.com/koba/rangesync/pkg/rangehash"
	"github.com/koba/rangesync/pkg/sqlgen"
	"github.com/koba/rangesync/pkg/syncengine"
)

// Store is an opened snapshot file: a SQLite database holding one
// captured model.Database and, per table, every row observed at capture
// time in PK order.
type Store struct {
	db *sql.DB
}

// Create makes a fresh snapshot file at path, replacing any existing
// file there, and initializes its schema.
func Create(path string) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("snapshot: remove existing file: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open: %w", err)
	}
	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Open loads an existing snapshot file for replay.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying SQLite handle.
func (s *Store) Close() error { return s.db.Close() }

// Capture introspects src and dumps every named table's rows (all tables
// when names is empty) into the snapshot file, in PK order, through a and
// the same sqlgen range query a live session would use. Capture is the
// store's only write path; it runs outside any live two-peer session,
// which itself persists nothing.
func (s *Store) Capture(ctx context.Context, a adapter.Adapter, names ...string) error {
	db, err := a.PopulateDatabaseSchema(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: introspect: %w", err)
	}
	model.SortTables(db.Tables)

	wanted := toSet(names)
	if _, err := s.db.ExecContext(ctx, "INSERT INTO metadata (key, value) VALUES ('captured_at', ?)", time.Now().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("snapshot: record metadata: %w", err)
	}

	for _, t := range db.Tables {
		if len(wanted) > 0 && !wanted[t.Name] {
			continue
		}
		if err := s.captureTable(ctx, a, t); err != nil {
			return fmt.Errorf("snapshot: table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (s *Store) captureTable(ctx context.Context, a adapter.Adapter, t model.Table) error {
	schemaBytes, err := msgpack.Marshal(t)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "INSERT INTO table_schemas (table_name, schema_blob) VALUES (?, ?)", t.Name, schemaBytes); err != nil {
		return err
	}

	gt := toSqlgenTable(t)
	query := sqlgen.RetrieveRows(a, gt, nil, nil, sqlgen.Unlimited())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO table_data (table_name, seq, row_blob) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	seq := 0
	err = a.Query(ctx, query, func(row adapter.RowAccessor) error {
		cells := adapter.RowToCells(row, len(gt.ColumnNames))
		rowBytes, err := msgpack.Marshal(cells)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, t.Name, seq, rowBytes); err != nil {
			return err
		}
		seq++
		return nil
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Database reconstructs the captured model.Database from table_schemas.
func (s *Store) Database(ctx context.Context) (model.Database, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT schema_blob FROM table_schemas ORDER BY table_name")
	if err != nil {
		return model.Database{}, err
	}
	defer rows.Close()

	var db model.Database
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return model.Database{}, err
		}
		var t model.Table
		if err := msgpack.Unmarshal(blob, &t); err != nil {
			return model.Database{}, err
		}
		db.Tables = append(db.Tables, t)
	}
	model.SortTables(db.Tables)
	return db, rows.Err()
}

// Rows returns every captured row for table, in capture (PK) order.
func (s *Store) Rows(ctx context.Context, table string) ([]codec.Row, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT row_blob FROM table_data WHERE table_name = ? ORDER BY seq", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []codec.Row
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var row codec.Row
		if err := msgpack.Unmarshal(blob, &row); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Remote returns a syncengine.Remote that serves this capture's rows for
// table, so a captured dataset can drive syncengine.Engine directly (a
// same-process replay of a "from" side's role without a live
// connection, used for replay diagnostics and tests against a frozen
// fixture).
func (s *Store) Remote(ctx context.Context, table string) (syncengine.Remote, error) {
	db, err := s.Database(ctx)
	if err != nil {
		return nil, err
	}
	t, ok := db.TableByName(table)
	if !ok {
		return nil, fmt.Errorf("snapshot: no captured schema for table %s", table)
	}
	rows, err := s.Rows(ctx, table)
	if err != nil {
		return nil, err
	}
	return &replayRemote{pkIdx: t.PrimaryKeyColumns, rows: rows}, nil
}

func toSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func toSqlgenTable(t model.Table) sqlgen.Table {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	pkNames := make([]string, len(t.PrimaryKeyColumns))
	for i, idx := range t.PrimaryKeyColumns {
		if idx >= 0 && idx < len(t.Columns) {
			pkNames[i] = t.Columns[idx].Name
		}
	}
	return sqlgen.Table{Name: t.Name, ColumnNames: names, PKColumnNames: pkNames, WhereConditions: t.WhereConditions}
}

// replayRemote implements syncengine.Remote directly over an in-memory,
// PK-ordered row slice: no SQL, no adapter, just the same range-slicing
// and digesting rangehash.HashRange does over a live query result.
type replayRemote struct {
	pkIdx []int
	rows  []codec.Row
}

var _ syncengine.Remote = (*replayRemote)(nil)

func (r *replayRemote) HashNext(_ context.Context, _ string, prevKey codec.ColumnValues, rowsToHash int) (syncengine.HashResult, error) {
	return r.hash(prevKey, rowsToHash), nil
}

func (r *replayRemote) HashCurr(_ context.Context, _ string, prevKey codec.ColumnValues, rowsToHash int) (syncengine.HashResult, error) {
	return r.hash(prevKey, rowsToHash), nil
}

func (r *replayRemote) hash(prevKey codec.ColumnValues, rowsToHash int) syncengine.HashResult {
	window := r.after(prevKey)
	if rowsToHash > 0 && rowsToHash < len(window) {
		window = window[:rowsToHash]
	}
	if len(window) == 0 {
		return syncengine.HashResult{}
	}
	return syncengine.HashResult{
		LastKey:  r.keyOf(window[len(window)-1]),
		RowCount: len(window),
		Digest:   rangehash.DigestRows(window),
	}
}

func (r *replayRemote) RowsCurr(_ context.Context, _ string, prevKey, lastKey codec.ColumnValues) ([]codec.Row, error) {
	return r.between(prevKey, lastKey), nil
}

func (r *replayRemote) RowsNext(_ context.Context, _ string, prevKey, lastKey codec.ColumnValues) ([]codec.Row, error) {
	return r.between(prevKey, lastKey), nil
}

func (r *replayRemote) after(prevKey codec.ColumnValues) []codec.Row {
	start := sort.Search(len(r.rows), func(i int) bool {
		return r.keyOf(r.rows[i]).Compare(prevKey) > 0
	})
	return r.rows[start:]
}

func (r *replayRemote) between(prevKey, lastKey codec.ColumnValues) []codec.Row {
	window := r.after(prevKey)
	if len(lastKey) == 0 {
		return window
	}
	end := sort.Search(len(window), func(i int) bool {
		return r.keyOf(window[i]).Compare(lastKey) > 0
	})
	return window[:end]
}

func (r *replayRemote) keyOf(row codec.Row) codec.ColumnValues {
	key := make(codec.ColumnValues, len(r.pkIdx))
	for i, idx := range r.pkIdx {
		key[i] = row[idx]
	}
	return key
}
