// Package mysqladapter implements the adapter.Adapter contract against
// MySQL: information_schema introspection, backtick quoting, and
// per-table-scoped index names. AUTO_INCREMENT attributes are neither
// introspected nor emitted.
package mysqladapter

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/koba/rangesync/pkg/adapter"
	"github.com/koba/rangesync/pkg/apperr"
	"github.com/koba/rangesync/pkg/codec"
	"github.com/koba/rangesync/pkg/model"
	"github.com/koba/rangesync/pkg/sqlgen"
)

// Adapter is the MySQL implementation of adapter.Adapter.
type Adapter struct {
	db       *sql.DB
	tx       *sql.Tx
	database string
}

// New creates an unconnected MySQL adapter.
func New() *Adapter { return &Adapter{} }

func (a *Adapter) Connect(ctx context.Context, host, port, db, user, pass string) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true", user, pass, host, port, db)
	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return &apperr.ConnectError{Backend: "mysql", Err: err}
	}
	if err := conn.PingContext(ctx); err != nil {
		return &apperr.ConnectError{Backend: "mysql", Err: err}
	}
	a.db = conn
	a.database = db
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

// ExportSnapshot begins (if not already begun) the read transaction and
// returns an opaque id. The read view is the one StartReadTransaction's
// repeatable-read, read-only transaction pins; the id is a fresh UUID that
// names no server-side object and exists only to satisfy the wire
// contract. ImportSnapshot ignores it and starts its own read transaction,
// so distinct MySQL connections do not share one view.
func (a *Adapter) ExportSnapshot(ctx context.Context) (string, error) {
	if a.tx == nil {
		if err := a.StartReadTransaction(ctx); err != nil {
			return "", err
		}
	}
	return uuid.New().String(), nil
}

func (a *Adapter) ImportSnapshot(ctx context.Context, id string) error {
	return a.StartReadTransaction(ctx)
}

func (a *Adapter) UnholdSnapshot(ctx context.Context) error { return nil }

// DisableTriggers implements adapter.TriggerDisabler: MySQL has no
// deferred-constraint mode, so the session-local foreign-key toggle is the
// opt-in equivalent a destination worker can request before row sync.
func (a *Adapter) DisableTriggers(ctx context.Context) error {
	return a.Execute(ctx, "SET FOREIGN_KEY_CHECKS = 0")
}

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

func (a *Adapter) QuoteIdentifier(name string) string { return "`" + name + "`" }
func (a *Adapter) IndexNamesAreGlobal() bool           { return false }

func (a *Adapter) EscapeBytes(b []byte) string {
	var sb strings.Builder
	sb.WriteString("X'")
	for _, c := range b {
		fmt.Fprintf(&sb, "%02X", c)
	}
	sb.WriteString("'")
	return sb.String()
}

func (a *Adapter) EscapeString(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\x00", `\0`)
	return "'" + replacer.Replace(s) + "'"
}

func (a *Adapter) BoolLiteral(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// ColumnDefinition implements sqlgen.Dialect for templates that only have
// the reduced ColumnDef shape (e.g. schema-matcher-driven DDL).
func (a *Adapter) ColumnDefinition(col sqlgen.ColumnDef) string {
	def := a.QuoteIdentifier(col.Name) + " " + mysqlTypeTag(col.TypeTag, col.Size, col.Scale)
	if !col.Nullable {
		def += " NOT NULL"
	}
	if col.DefaultPresent {
		def += " DEFAULT " + col.DefaultValue
	}
	return def
}

// ColumnDefinitionFor implements adapter.Adapter's richer hook, working
// directly from a model.Column.
func (a *Adapter) ColumnDefinitionFor(col model.Column) string {
	def := a.QuoteIdentifier(col.Name) + " " + mysqlType(col)
	if !col.Nullable {
		def += " NOT NULL"
	}
	if col.DefaultPresent {
		def += " DEFAULT " + col.DefaultValue
	}
	return def
}

func mysqlTypeTag(tag string, size, scale int) string {
	return mysqlType(model.Column{Type: model.ColumnType(tag), Size: size, Scale: scale})
}

func mysqlType(col model.Column) string {
	switch col.Type {
	case model.BLOB:
		return "BLOB"
	case model.TEXT:
		return "TEXT"
	case model.VCHR:
		return "VARCHAR(" + strconv.Itoa(col.Size) + ")"
	case model.FCHR:
		return "CHAR(" + strconv.Itoa(col.Size) + ")"
	case model.BOOL:
		return "TINYINT(1)"
	case model.SINT:
		return "INT"
	case model.UINT:
		return "INT UNSIGNED"
	case model.REAL:
		return "DOUBLE"
	case model.DECI:
		return "DECIMAL(" + strconv.Itoa(col.Size) + "," + strconv.Itoa(col.Scale) + ")"
	case model.DATE:
		return "DATE"
	case model.TIME:
		return "TIME"
	case model.DTTM:
		return "DATETIME"
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
	case nil:
		return nil
	default:
		return []byte(fmt.Sprintf("%v", v))
	}
}

func (r *rowAccessor) Length(col int) int { return len(r.Bytes(col)) }

func (r *rowAccessor) AsBool(col int) bool {
	switch v := r.values[col].(type) {
	case int64:
		return v != 0
	case []byte:
		return len(v) > 0 && v[0] != '0'
	case bool:
		return v
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
	case strings.Contains(dbType, "BLOB"):
		return model.BLOB
	case strings.Contains(dbType, "TEXT"):
		return model.TEXT
	case strings.Contains(dbType, "VARCHAR"):
		return model.VCHR
	case strings.Contains(dbType, "CHAR"):
		return model.FCHR
	case dbType == "TINYINT" && isBooleanWidth(r.cols[col]):
		return model.BOOL
	case strings.Contains(dbType, "UNSIGNED"):
		return model.UINT
	case strings.Contains(dbType, "INT"):
		return model.SINT
	case strings.Contains(dbType, "DECIMAL"):
		return model.DECI
	case strings.Contains(dbType, "FLOAT"), strings.Contains(dbType, "DOUBLE"):
		return model.REAL
	case dbType == "DATE":
		return model.DATE
	case dbType == "TIME":
		return model.TIME
	case strings.Contains(dbType, "DATETIME"), strings.Contains(dbType, "TIMESTAMP"):
		return model.DTTM
	default:
		return model.TEXT
	}
}

func isBooleanWidth(*sql.ColumnType) bool { return true }
