// Package adapter defines the per-backend contract every database
// driver must satisfy: connect/close, transaction control, snapshot
// export/import, row retrieval with a streaming callback, schema
// introspection, identifier quoting, and DDL type mapping. Concrete
// implementations live in the mysqladapter and pgadapter subpackages.
package adapter

import (
	"context"

	"github.com/koba/rangesync/pkg/codec"
	"github.com/koba/rangesync/pkg/model"
	"github.com/koba/rangesync/pkg/sqlgen"
)

// RowAccessor exposes one result row, column by column, without
// materializing the full result set.
type RowAccessor interface {
	IsNull(col int) bool
	Bytes(col int) []byte
	Length(col int) int
	AsBool(col int) bool
	AsInt(col int) int64
	AsDecodedBytes(col int) []byte
	SQLTypeTag(col int) model.ColumnType
}

// RowHandler is invoked once per row streamed back by Query; returning an
// error aborts the stream.
type RowHandler func(row RowAccessor) error

// Adapter is the full per-backend contract. Each connection-scoped value
// carries its own transaction/snapshot membership and identifier policy;
// there is no process-global state.
type Adapter interface {
	sqlgen.Dialect

	// Lifecycle.
	Connect(ctx context.Context, host, port, db, user, pass string) error
	Close() error

	// Transactions.
	StartReadTransaction(ctx context.Context) error
	StartWriteTransaction(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// Snapshots.
	ExportSnapshot(ctx context.Context) (string, error)
	ImportSnapshot(ctx context.Context, id string) error
	UnholdSnapshot(ctx context.Context) error

	// Execution.
	Execute(ctx context.Context, sql string) error
	Query(ctx context.Context, sql string, handler RowHandler) error
	SelectOne(ctx context.Context, sql string) (codec.PackedValue, error)

	// Introspection.
	PopulateDatabaseSchema(ctx context.Context) (model.Database, error)

	// Type mapping for DDL emission.
	ColumnDefinitionFor(col model.Column) string
}

// TriggerDisabler is an adapter-specific, opt-in capability. Adapters
// that cannot or do not support disabling triggers simply don't
// implement it; callers type-assert for it.
type TriggerDisabler interface {
	DisableTriggers(ctx context.Context) error
}

// RowToCells packs a RowAccessor's columns into a codec.Row, using each
// column's reported SQLTypeTag to choose the PackedValue variant.
func RowToCells(acc RowAccessor, columnCount int) codec.Row {
	row := make(codec.Row, columnCount)
	for i := 0; i < columnCount; i++ {
		if acc.IsNull(i) {
			row[i] = codec.Nil()
			continue
		}
		switch acc.SQLTypeTag(i) {
		case model.BOOL:
			row[i] = codec.Bool(acc.AsBool(i))
		case model.SINT:
			row[i] = codec.Int(acc.AsInt(i))
		case model.UINT:
			row[i] = codec.Uint(uint64(acc.AsInt(i)))
		case model.BLOB:
			row[i] = codec.Bytes(acc.AsDecodedBytes(i))
		default: // TEXT, VCHR, FCHR, REAL, DECI, DATE, TIME, DTTM: carried as the
			// database's text representation.
			row[i] = codec.String(string(acc.Bytes(i)))
		}
	}
	return row
}
