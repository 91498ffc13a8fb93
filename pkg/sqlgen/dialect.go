// Package sqlgen renders backend-neutral SQL templates (retrieve rows,
// count rows, DDL for table/column/key changes) against a Dialect
// supplied by a backend adapter, so the same templates emit quoted
// identifiers and value literals appropriate to each backend.
package sqlgen

import "github.com/koba/rangesync/pkg/codec"

// Dialect captures the per-backend quoting and naming policy a SQL
// template needs, plus the codec's literal Escaper.
type Dialect interface {
	codec.Escaper
	QuoteIdentifier(name string) string
	IndexNamesAreGlobal() bool
	ColumnDefinition(col ColumnDef) string
}

// ColumnDef is the subset of model.Column a Dialect needs to emit a
// CREATE TABLE / ADD COLUMN fragment, kept separate from model.Column so
// sqlgen has no import-cycle dependency on the model package's full type.
type ColumnDef struct {
	Name           string
	TypeTag        string
	Size           int
	Scale          int
	Nullable       bool
	DefaultPresent bool
	DefaultValue   string
}

// RowLimit is an explicit option type for a range query's result cap,
// in place of a "-1 means unlimited" sentinel.
type RowLimit struct {
	unlimited bool
	n         int
}

// Unlimited requests every matching row.
func Unlimited() RowLimit { return RowLimit{unlimited: true} }

// Limit caps the result at n rows.
func Limit(n int) RowLimit { return RowLimit{n: n} }

func (l RowLimit) IsUnlimited() bool { return l.unlimited }
func (l RowLimit) N() int            { return l.n }
