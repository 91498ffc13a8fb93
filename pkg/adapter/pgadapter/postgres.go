// Package pgadapter implements the adapter.Adapter contract against
// PostgreSQL: pg_catalog/information_schema introspection, double-quote identifier
// policy, and a global index namespace (so DropKey never needs the table
// name). Unlike MySQL, Postgres has a real pg_export_snapshot()/SET
// TRANSACTION SNAPSHOT pair, so ExportSnapshot/ImportSnapshot here are not
// the degenerate single-connection stand-ins mysqladapter uses.
package pgadapter

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"

	"github.com/koba/rangesync/pkg/adapter"
	"github.com/koba/rangesync/pkg/apperr"
	"github.com/koba/rangesync/pkg/codec"
	"github.com/koba/rangesync/pkg/model"
	"github.com/koba/rangesync/pkg/sqlgen"
)

// Adapter is the PostgreSQL implementation of adapter.Adapter.
type Adapter struct {
	db *sql.DB
	tx *sql.Tx
}

// New creates an unconnected Postgres adapter.
func New() *Adapter { return &Adapter{} }

func (a *Adapter) Connect(ctx context.Context, host, port, db, user, pass string) error {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", host, port, user, pass, db)
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return &apperr.ConnectError{Backend: "postgres", Err: err}
	}
	if err := conn.PingContext(ctx); err != nil {
		return &apperr.ConnectError{Backend: "postgres", Err: err}
	}
	a.db = conn
	return nil
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *Adapter) StartReadTransaction(ctx context.Context) error {
	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return &apperr.DriverError{SQL: "BEGIN (repeatable read)", Err: err}
	}
	a.tx = tx
	return nil
}

func (a *Adapter) StartWriteTransaction(ctx context.Context) error {
	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return &apperr.DriverError{SQL: "BEGIN (read committed)", Err: err}
	}
	a.tx = tx
	if _, err := tx.ExecContext(ctx, "SET CONSTRAINTS ALL DEFERRED"); err != nil {
		return &apperr.DriverError{SQL: "SET CONSTRAINTS ALL DEFERRED", Err: err}
	}
	return nil
}

func (a *Adapter) Commit(ctx context.Context) error {
	if a.tx == nil {
		return nil
	}
	err := a.tx.Commit()
	a.tx = nil
	if err != nil {
		return &apperr.DriverError{SQL: "COMMIT", Err: err}
	}
	return nil
}

func (a *Adapter) Rollback(ctx context.Context) error {
	if a.tx == nil {
		return nil
	}
	err := a.tx.Rollback()
	a.tx = nil
	if err != nil {
		return &apperr.DriverError{SQL: "ROLLBACK", Err: err}
	}
	return nil
}

// ExportSnapshot begins the read transaction (if not already begun) and
// calls pg_export_snapshot(), whose return value another connection can
// join with SET TRANSACTION SNAPSHOT.
func (a *Adapter) ExportSnapshot(ctx context.Context) (string, error) {
	if a.tx == nil {
		if err := a.StartReadTransaction(ctx); err != nil {
			return "", err
		}
	}
	id, err := a.SelectOne(ctx, "SELECT pg_export_snapshot()")
	if err != nil {
		return "", err
	}
	return id.Str, nil
}

func (a *Adapter) ImportSnapshot(ctx context.Context, id string) error {
	if err := a.StartReadTransaction(ctx); err != nil {
		return err
	}
	query := fmt.Sprintf("SET TRANSACTION SNAPSHOT %s", a.EscapeString(id))
	return a.Execute(ctx, query)
}

// UnholdSnapshot is a no-op: Postgres's MVCC snapshots hold no extra locks
// that need releasing beyond the transaction's own lifetime.
func (a *Adapter) UnholdSnapshot(ctx context.Context) error { return nil }

func (a *Adapter) runner() interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
} {
	if a.tx != nil {
		return a.tx
	}
	return a.db
}

func (a *Adapter) Execute(ctx context.Context, query string) error {
	if _, err := a.runner().ExecContext(ctx, query); err != nil {
		return &apperr.DriverError{SQL: query, Err: err}
	}
	return nil
}

func (a *Adapter) Query(ctx context.Context, query string, handler adapter.RowHandler) error {
	rows, err := a.runner().QueryContext(ctx, query)
	if err != nil {
		return &apperr.DriverError{SQL: query, Err: err}
	}
	defer rows.Close()

	cols, err := rows.ColumnTypes()
	if err != nil {
		return &apperr.DriverError{SQL: query, Err: err}
	}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return &apperr.DriverError{SQL: query, Err: err}
		}
		acc := &rowAccessor{values: values, cols: cols}
		if err := handler(acc); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return &apperr.DriverError{SQL: query, Err: err}
	}
	return nil
}

func (a *Adapter) SelectOne(ctx context.Context, query string) (codec.PackedValue, error) {
	var raw interface{}
	if err := a.runner().QueryRowContext(ctx, query).Scan(&raw); err != nil {
		return codec.PackedValue{}, &apperr.DriverError{SQL: query, Err: err}
	}
	switch v := raw.(type) {
	case nil:
		return codec.Nil(), nil
	case int64:
		return codec.Int(v), nil
	case []byte:
		return codec.String(string(v)), nil
	case string:
		return codec.String(v), nil
	default:
		return codec.String(fmt.Sprintf("%v", v)), nil
	}
}

func (a *Adapter) QuoteIdentifier(name string) string { return `"` + name + `"` }

// IndexNamesAreGlobal is true on Postgres: DROP INDEX never names the
// table.
func (a *Adapter) IndexNamesAreGlobal() bool { return true }

func (a *Adapter) EscapeBytes(b []byte) string {
	var sb strings.Builder
	sb.WriteString(`E'\\x`)
	for _, c := range b {
		fmt.Fprintf(&sb, "%02x", c)
	}
	sb.WriteString("'")
	return sb.String()
}

func (a *Adapter) EscapeString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (a *Adapter) BoolLiteral(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func (a *Adapter) ColumnDefinition(col sqlgen.ColumnDef) string {
	def := a.QuoteIdentifier(col.Name) + " " + pgTypeTag(col.TypeTag, col.Size, col.Scale)
	if !col.Nullable {
		def += " NOT NULL"
	}
	if col.DefaultPresent {
		def += " DEFAULT " + col.DefaultValue
	}
	return def
}

func (a *Adapter) ColumnDefinitionFor(col model.Column) string {
	def := a.QuoteIdentifier(col.Name) + " " + pgType(col)
	if !col.Nullable {
		def += " NOT NULL"
	}
	if col.DefaultPresent {
		def += " DEFAULT " + col.DefaultValue
	}
	return def
}

func pgTypeTag(tag string, size, scale int) string {
	return pgType(model.Column{Type: model.ColumnType(tag), Size: size, Scale: scale})
}

// pgType maps a column's type tag onto Postgres DDL. Postgres has no
// native unsigned integer type, so UINT is downgraded to the signed
// equivalent, noted as lossy and accepted.
func pgType(col model.Column) string {
	switch col.Type {
	case model.BLOB:
		return "BYTEA"
	case model.TEXT:
		return "TEXT"
	case model.VCHR:
		return "VARCHAR(" + strconv.Itoa(col.Size) + ")"
	case model.FCHR:
		return "CHAR(" + strconv.Itoa(col.Size) + ")"
	case model.BOOL:
		return "BOOLEAN"
	case model.SINT, model.UINT: // UINT downgraded: no native unsigned type
		return "BIGINT"
	case model.REAL:
		return "DOUBLE PRECISION"
	case model.DECI:
		return "NUMERIC(" + strconv.Itoa(col.Size) + "," + strconv.Itoa(col.Scale) + ")"
	case model.DATE:
		return "DATE"
	case model.TIME:
		return "TIME"
	case model.DTTM:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

type rowAccessor struct {
	values []interface{}
	cols   []*sql.ColumnType
}

func (r *rowAccessor) IsNull(col int) bool { return r.values[col] == nil }

func (r *rowAccessor) Bytes(col int) []byte {
	switch v := r.values[col].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	case nil:
		return nil
	default:
		return []byte(fmt.Sprintf("%v", v))
	}
}

func (r *rowAccessor) Length(col int) int { return len(r.Bytes(col)) }

func (r *rowAccessor) AsBool(col int) bool {
	switch v := r.values[col].(type) {
	case bool:
		return v
	case []byte:
		return string(v) == "t" || string(v) == "true"
	}
	return false
}

func (r *rowAccessor) AsInt(col int) int64 {
	switch v := r.values[col].(type) {
	case int64:
		return v
	case []byte:
		n, _ := strconv.ParseInt(string(v), 10, 64)
		return n
	}
	return 0
}

func (r *rowAccessor) AsDecodedBytes(col int) []byte { return r.Bytes(col) }

func (r *rowAccessor) SQLTypeTag(col int) model.ColumnType {
	dbType := strings.ToUpper(r.cols[col].DatabaseTypeName())
	switch {
	case strings.Contains(dbType, "BYTEA"):
		return model.BLOB
	case strings.Contains(dbType, "TEXT"):
		return model.TEXT
	case strings.Contains(dbType, "VARCHAR"):
		return model.VCHR
	case strings.Contains(dbType, "BPCHAR"), dbType == "CHAR":
		return model.FCHR
	case strings.Contains(dbType, "BOOL"):
		return model.BOOL
	case strings.Contains(dbType, "INT"):
		return model.SINT
	case strings.Contains(dbType, "NUMERIC"), strings.Contains(dbType, "DECIMAL"):
		return model.DECI
	case strings.Contains(dbType, "FLOAT"), strings.Contains(dbType, "DOUBLE"):
		return model.REAL
	case dbType == "DATE":
		return model.DATE
	case dbType == "TIME":
		return model.TIME
	case strings.Contains(dbType, "TIMESTAMP"):
		return model.DTTM
	default:
		return model.TEXT
	}
}
