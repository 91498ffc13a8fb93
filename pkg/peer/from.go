package peer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/koba/rangesync/pkg/adapter"
	"github.com/koba/rangesync/pkg/apperr"
	"github.com/koba/rangesync/pkg/codec"
	"github.com/koba/rangesync/pkg/model"
	"github.com/koba/rangesync/pkg/rangehash"
	"github.com/koba/rangesync/pkg/sqlgen"
)

// FromWorker serves the source side of a session: it answers SCHEMA,
// snapshot, and per-table hash/row requests against a single
// adapter.Adapter, strictly read-only.
type FromWorker struct {
	Adapter adapter.Adapter
	Logger  *zap.Logger

	// tables caches the source schema (refilled on every SCHEMA request)
	// so HASH_*/ROWS_* requests don't re-introspect.
	tables map[string]sqlgen.Table
	pkIdx  map[string][]int
}

func (w *FromWorker) log() *zap.Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger
}

// Serve runs the from-side command loop until QUIT or EOF; closing
// either end of the pipe is the sole cancellation mechanism.
func (w *FromWorker) Serve(ctx context.Context, pipe Pipe) error {
	c := newConn(pipe)
	if _, err := handshakeServer(c); err != nil {
		return w.fatal(err)
	}

	for {
		verb, _, err := c.dec.ReadCommandHeader()
		if err != nil {
			if errors.Is(err, io.EOF) {
				_ = w.Adapter.Rollback(ctx)
				return nil
			}
			return w.fatal(err)
		}
		w.log().Debug("from: dispatch", zap.Uint8("verb", uint8(verb)))

		if err := w.dispatch(ctx, c, verb); err != nil {
			if verb == VerbQuit {
				return nil
			}
			return w.fatal(err)
		}
		if verb == VerbQuit {
			_ = w.Adapter.Rollback(ctx)
			return nil
		}
	}
}

func (w *FromWorker) fatal(err error) error {
	fmt.Fprintln(os.Stderr, err)
	return err
}

func (w *FromWorker) dispatch(ctx context.Context, c *conn, verb codec.Verb) error {
	switch verb {
	case VerbSchema:
		return w.handleSchema(ctx, c)
	case VerbExportSnapshot:
		id, err := w.Adapter.ExportSnapshot(ctx)
		if err != nil {
			return err
		}
		return c.respond(VerbExportSnapshot, id)
	case VerbImportSnapshot:
		id, err := c.dec.ReadString()
		if err != nil {
			return err
		}
		if err := w.Adapter.ImportSnapshot(ctx, id); err != nil {
			return err
		}
		return c.respond(VerbImportSnapshot)
	case VerbUnholdSnapshot:
		if err := w.Adapter.UnholdSnapshot(ctx); err != nil {
			return err
		}
		return c.respond(VerbUnholdSnapshot)
	case VerbWithoutSnapshot:
		if err := w.Adapter.StartReadTransaction(ctx); err != nil {
			return err
		}
		return c.respond(VerbWithoutSnapshot)
	case VerbOpen:
		if _, err := c.dec.ReadString(); err != nil {
			return err
		}
		return c.respond(VerbOpen)
	case VerbHashNext, VerbHashCurr:
		return w.handleHash(ctx, c, verb)
	case VerbRowsCurr, VerbRowsNext:
		return w.handleRows(ctx, c)
	case VerbQuit:
		return nil
	default:
		return &apperr.ProtocolError{Reason: fmt.Sprintf("unknown verb %d", verb)}
	}
}

// handleSchema introspects, refreshes the table cache, and replies with the deterministic
// serialization of the Database.
func (w *FromWorker) handleSchema(ctx context.Context, c *conn) error {
	db, err := w.Adapter.PopulateDatabaseSchema(ctx)
	if err != nil {
		return err
	}
	w.cacheTables(db)
	if err := c.enc.WriteCommand(VerbSchema, db); err != nil {
		return err
	}
	return c.enc.Flush()
}

func (w *FromWorker) cacheTables(db model.Database) {
	w.tables = make(map[string]sqlgen.Table, len(db.Tables))
	w.pkIdx = make(map[string][]int, len(db.Tables))
	for _, t := range db.Tables {
		w.tables[t.Name] = toSqlgenTable(t)
		w.pkIdx[t.Name] = t.PrimaryKeyColumns
	}
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

// handleHash reads (table, prevKey, rowsToHash) and replies on the same
// verb with (lastKey, digest, rowCount): the range actually covered and
// its canonical hash.
func (w *FromWorker) handleHash(ctx context.Context, c *conn, verb codec.Verb) error {
	name, err := c.dec.ReadString()
	if err != nil {
		return err
	}
	prevKey, err := c.dec.ReadKey()
	if err != nil {
		return err
	}
	rowsToHash, err := c.dec.ReadUint()
	if err != nil {
		return err
	}

	t, ok := w.tables[name]
	if !ok {
		return &apperr.ProtocolError{Reason: "hash request for unknown table " + name}
	}

	result, err := rangehash.HashRange(ctx, w.Adapter, t, w.pkIdx[name], prevKey, nil, sqlgen.Limit(int(rowsToHash)))
	if err != nil {
		return err
	}

	digest, err := hexToBytes(result.Digest)
	if err != nil {
		return err
	}
	if err := c.enc.WriteCommand(verb, result.LastKey, digest, uint64(result.RowCount)); err != nil {
		return err
	}
	return c.enc.Flush()
}

// handleRows reads (table, prevKey, lastKey) and streams the rows in
// (prevKey, lastKey] terminated by the end-of-stream sentinel.
func (w *FromWorker) handleRows(ctx context.Context, c *conn) error {
	name, err := c.dec.ReadString()
	if err != nil {
		return err
	}
	prevKey, err := c.dec.ReadKey()
	if err != nil {
		return err
	}
	lastKey, err := c.dec.ReadKey()
	if err != nil {
		return err
	}

	t, ok := w.tables[name]
	if !ok {
		return &apperr.ProtocolError{Reason: "rows request for unknown table " + name}
	}

	query := sqlgen.RetrieveRows(w.Adapter, t, prevKey, lastKey, sqlgen.Unlimited())
	var rows []codec.Row
	err = w.Adapter.Query(ctx, query, func(row adapter.RowAccessor) error {
		rows = append(rows, adapter.RowToCells(row, len(t.ColumnNames)))
		return nil
	})
	if err != nil {
		return err
	}

	if err := c.enc.WriteRows(rows); err != nil {
		return err
	}
	return c.enc.Flush()
}

func hexToBytes(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
