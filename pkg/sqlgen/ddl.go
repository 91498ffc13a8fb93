package sqlgen

import (
	"fmt"
	"strings"
)

// KeyDef is the minimal shape sqlgen needs to emit key DDL.
type KeyDef struct {
	Name    string
	Unique  bool
	Columns []string
}

// CreateTable emits a full CREATE TABLE for a new table: every column,
// then its primary key constraint.
func CreateTable(d Dialect, name string, columns []ColumnDef, pkColumns []string) string {
	var parts []string
	for _, col := range columns {
		parts = append(parts, d.ColumnDefinition(col))
	}
	if len(pkColumns) > 0 {
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoteAll(d, pkColumns), ", ")))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", d.QuoteIdentifier(name), strings.Join(parts, ",\n  "))
}

// DropTable emits DROP TABLE for a table absent on the source side.
func DropTable(d Dialect, name string) string {
	return fmt.Sprintf("DROP TABLE %s", d.QuoteIdentifier(name))
}

// AddColumn emits ALTER TABLE ... ADD COLUMN for a column present on the
// source but missing on the destination. The schema matcher does not call
// it: new tables are emitted whole by CreateTable, and a column missing
// from an existing destination table is fatal, not auto-added.
func AddColumn(d Dialect, table string, col ColumnDef) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.QuoteIdentifier(table), d.ColumnDefinition(col))
}

// DropColumns emits one ALTER TABLE ... DROP COLUMN per extra destination
// column.
func DropColumns(d Dialect, table string, columnNames []string) []string {
	stmts := make([]string, len(columnNames))
	for i, name := range columnNames {
		stmts[i] = fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.QuoteIdentifier(table), d.QuoteIdentifier(name))
	}
	return stmts
}

// AddKey emits CREATE [UNIQUE] INDEX for a key present on the source but
// missing (or changed) on the destination.
func AddKey(d Dialect, table string, key KeyDef) string {
	unique := ""
	if key.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique, d.QuoteIdentifier(key.Name), d.QuoteIdentifier(table), strings.Join(quoteAll(d, key.Columns), ", "))
}

// DropKey emits DROP INDEX, in the form the backend's index-naming policy
// requires: a global DROP INDEX name, or a table-scoped
// ALTER TABLE ... DROP INDEX name.
func DropKey(d Dialect, table, keyName string) string {
	if d.IndexNamesAreGlobal() {
		return fmt.Sprintf("DROP INDEX %s", d.QuoteIdentifier(keyName))
	}
	return fmt.Sprintf("ALTER TABLE %s DROP INDEX %s", d.QuoteIdentifier(table), d.QuoteIdentifier(keyName))
}
