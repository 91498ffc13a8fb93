package peer

import (
	"context"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"github.com/koba/rangesync/pkg/adapter"
	"github.com/koba/rangesync/pkg/apperr"
	"github.com/koba/rangesync/pkg/codec"
	"github.com/koba/rangesync/pkg/model"
	"github.com/koba/rangesync/pkg/schemamatch"
	"github.com/koba/rangesync/pkg/syncengine"
)

// ToWorker drives the destination side of a session: handshake, fetch
// the source schema, align the destination via pkg/schemamatch, then run
// pkg/syncengine.Engine per table against a Remote backed by this pipe.
type ToWorker struct {
	Adapter     adapter.Adapter
	Logger      *zap.Logger
	MaxRowCount int // 0 uses syncengine.DefaultMaxRowCount

	// SnapshotID, when set, joins a snapshot another worker's from side
	// exported (IMPORT_SNAPSHOT); when empty the from side is told to start
	// a plain read transaction (WITHOUT_SNAPSHOT). Parallel workers against
	// the same source set this to the id the first worker's EXPORT_SNAPSHOT
	// returned.
	SnapshotID string

	// DisableTriggers requests the adapter's opt-in trigger toggle before
	// row sync; the adapter must implement adapter.TriggerDisabler or Run
	// fails. Backends whose constraints defer per transaction don't need
	// this.
	DisableTriggers bool
}

func (w *ToWorker) log() *zap.Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger
}

// Run executes one full session: handshake, SCHEMA, schema-align, then
// SyncTable for every table in the source schema (using the aligned
// destination's shape of that table), followed by QUIT.
func (w *ToWorker) Run(ctx context.Context, pipe Pipe) error {
	c := newConn(pipe)
	if _, err := handshakeClient(c); err != nil {
		return err
	}

	if err := w.beginSourceRead(c); err != nil {
		return err
	}

	srcDB, err := w.requestSchema(c)
	if err != nil {
		return err
	}

	if err := w.Adapter.StartWriteTransaction(ctx); err != nil {
		return err
	}
	destDB, err := w.Adapter.PopulateDatabaseSchema(ctx)
	if err != nil {
		return err
	}

	if err := schemamatch.Match(ctx, w.Adapter, srcDB, destDB); err != nil {
		_ = w.Adapter.Rollback(ctx)
		return err
	}

	// The aligned schema commits before row sync begins; the engine opens
	// its own write transaction per applied row batch, keeping any one
	// transaction's lock footprint bounded.
	if err := w.Adapter.Commit(ctx); err != nil {
		return err
	}

	// Re-introspect after DDL so table/PK shapes reflect what schemamatch
	// just applied.
	destDB, err = w.Adapter.PopulateDatabaseSchema(ctx)
	if err != nil {
		return err
	}

	if w.DisableTriggers {
		td, ok := w.Adapter.(adapter.TriggerDisabler)
		if !ok {
			return &apperr.SyncError{Reason: "adapter does not support disabling triggers"}
		}
		if err := td.DisableTriggers(ctx); err != nil {
			return err
		}
	}

	remote := &remoteClient{conn: c}
	engine := &syncengine.Engine{Local: w.Adapter, Remote: remote, Logger: w.Logger}
	if w.MaxRowCount > 0 {
		engine.MaxRowCount = w.MaxRowCount
	} else {
		engine.MaxRowCount = syncengine.DefaultMaxRowCount
	}

	for _, t := range srcDB.Tables {
		if err := c.send(VerbOpen, t.Name); err != nil {
			return err
		}
		if verb, _, err := c.dec.ReadCommandHeader(); err != nil {
			return err
		} else if verb != VerbOpen {
			return &apperr.ProtocolError{Reason: "expected OPEN ack"}
		}
		w.log().Info("to: sync table", zap.String("table", t.Name))
		destTbl := matchedDestTable(destDB, t)
		if err := engine.SyncTable(ctx, toSqlgenTable(destTbl), destTbl.PrimaryKeyColumns); err != nil {
			return err
		}
	}

	return c.send(VerbQuit)
}

// beginSourceRead tells the from side to pin its read view: join an
// already-exported snapshot when SnapshotID is set (IMPORT_SNAPSHOT),
// otherwise start a plain repeatable-read transaction
// (WITHOUT_SNAPSHOT).
func (w *ToWorker) beginSourceRead(c *conn) error {
	verb := VerbWithoutSnapshot
	var args []interface{}
	if w.SnapshotID != "" {
		verb = VerbImportSnapshot
		args = append(args, w.SnapshotID)
	}
	if err := c.send(verb, args...); err != nil {
		return err
	}
	gotVerb, _, err := c.dec.ReadCommandHeader()
	if err != nil {
		return err
	}
	if gotVerb != verb {
		return &apperr.ProtocolError{Reason: "expected snapshot ack"}
	}
	return nil
}

func matchedDestTable(destDB model.Database, src model.Table) model.Table {
	if t, ok := destDB.TableByName(src.Name); ok {
		return t
	}
	return src
}

func (w *ToWorker) requestSchema(c *conn) (model.Database, error) {
	if err := c.send(VerbSchema); err != nil {
		return model.Database{}, err
	}
	verb, argc, err := c.dec.ReadCommandHeader()
	if err != nil {
		return model.Database{}, err
	}
	if verb != VerbSchema || argc != 1 {
		return model.Database{}, &apperr.ProtocolError{Reason: "expected SCHEMA reply"}
	}
	var db model.Database
	if err := c.dec.DecodeValue(&db); err != nil {
		return model.Database{}, err
	}
	return db, nil
}

// remoteClient implements syncengine.Remote by sending HASH_*/ROWS_*
// commands over the pipe and parsing the from side's replies.
type remoteClient struct {
	conn *conn
}

var _ syncengine.Remote = (*remoteClient)(nil)

func (r *remoteClient) HashNext(ctx context.Context, table string, prevKey codec.ColumnValues, rowsToHash int) (syncengine.HashResult, error) {
	return r.hash(VerbHashNext, table, prevKey, rowsToHash)
}

func (r *remoteClient) HashCurr(ctx context.Context, table string, prevKey codec.ColumnValues, rowsToHash int) (syncengine.HashResult, error) {
	return r.hash(VerbHashCurr, table, prevKey, rowsToHash)
}

func (r *remoteClient) hash(verb codec.Verb, table string, prevKey codec.ColumnValues, rowsToHash int) (syncengine.HashResult, error) {
	if err := r.conn.send(verb, table, prevKey, uint64(rowsToHash)); err != nil {
		return syncengine.HashResult{}, err
	}
	gotVerb, argc, err := r.conn.dec.ReadCommandHeader()
	if err != nil {
		return syncengine.HashResult{}, err
	}
	if gotVerb != verb || argc != 3 {
		return syncengine.HashResult{}, &apperr.ProtocolError{Reason: fmt.Sprintf("expected hash reply for verb %d", verb)}
	}
	lastKey, err := r.conn.dec.ReadKey()
	if err != nil {
		return syncengine.HashResult{}, err
	}
	digestBytes, err := r.conn.dec.ReadBytes()
	if err != nil {
		return syncengine.HashResult{}, err
	}
	rowCount, err := r.conn.dec.ReadUint()
	if err != nil {
		return syncengine.HashResult{}, err
	}
	return syncengine.HashResult{
		LastKey:  lastKey,
		RowCount: int(rowCount),
		Digest:   hex.EncodeToString(digestBytes),
	}, nil
}

func (r *remoteClient) RowsCurr(ctx context.Context, table string, prevKey, lastKey codec.ColumnValues) ([]codec.Row, error) {
	return r.rows(VerbRowsCurr, table, prevKey, lastKey)
}

func (r *remoteClient) RowsNext(ctx context.Context, table string, prevKey, lastKey codec.ColumnValues) ([]codec.Row, error) {
	return r.rows(VerbRowsNext, table, prevKey, lastKey)
}

func (r *remoteClient) rows(verb codec.Verb, table string, prevKey, lastKey codec.ColumnValues) ([]codec.Row, error) {
	if err := r.conn.send(verb, table, prevKey, lastKey); err != nil {
		return nil, err
	}
	var out []codec.Row
	for {
		row, ok, err := r.conn.dec.ReadRow()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, row)
	}
}
