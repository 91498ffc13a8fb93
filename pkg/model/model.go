// Package model holds the in-memory representation of a replicated
// database: tables, columns, and keys, plus the equality and ordering
// semantics the sync engine relies on.
package model

import (
	"sort"
	"strconv"
)

// ColumnType is one of the type tags carried over the wire.
type ColumnType string

const (
	BLOB ColumnType = "BLOB"
	TEXT ColumnType = "TEXT"
	VCHR ColumnType = "VCHR"
	FCHR ColumnType = "FCHR"
	BOOL ColumnType = "BOOL"
	SINT ColumnType = "SINT"
	UINT ColumnType = "UINT"
	REAL ColumnType = "REAL"
	DECI ColumnType = "DECI"
	DATE ColumnType = "DATE"
	TIME ColumnType = "TIME"
	DTTM ColumnType = "DTTM"
)

// Column describes one column of a Table. Equality ignores FilterExpression.
type Column struct {
	Name            string
	Nullable        bool
	Type            ColumnType
	Size            int
	Scale           int
	DefaultPresent  bool
	DefaultValue    string
	FilterExpression string
}

// Equal compares two columns for schema-matching purposes: the filter
// expression decoration is not part of identity.
func (c Column) Equal(other Column) bool {
	return c.Name == other.Name &&
		c.Nullable == other.Nullable &&
		c.Type == other.Type &&
		c.Size == other.Size &&
		c.Scale == other.Scale &&
		c.DefaultPresent == other.DefaultPresent &&
		c.DefaultValue == other.DefaultValue
}

// Key is a named, possibly-unique, ordered set of column offsets.
type Key struct {
	Name    string
	Unique  bool
	Columns []int
}

// keysLess implements the canonical key order: unique keys first,
// then lexicographic by name within a group.
func keysLess(a, b Key) bool {
	if a.Unique != b.Unique {
		return a.Unique
	}
	return a.Name < b.Name
}

// SortKeys orders keys in place: unique keys first, then lexicographic by
// name within each group.
func SortKeys(keys []Key) {
	sort.SliceStable(keys, func(i, j int) bool { return keysLess(keys[i], keys[j]) })
}

// Table is a named relation: its columns (order is schema-significant),
// its primary key column offsets, its secondary keys, and an optional
// where-condition applied uniformly at both ends of a sync.
type Table struct {
	Name              string
	Columns           []Column
	PrimaryKeyColumns []int
	Keys              []Key
	WhereConditions   string
}

// IndexOfColumn returns the offset of the named column, or false if absent.
func (t Table) IndexOfColumn(name string) (int, bool) {
	for i, c := range t.Columns {
		if c.Name == name {
			return i, true
		}
	}
	return 0, false
}

// ValidateIndices checks the invariant that every index referenced by a
// Key or by PrimaryKeyColumns is a valid offset into Columns.
func (t Table) ValidateIndices() error {
	n := len(t.Columns)
	check := func(idx int) error {
		if idx < 0 || idx >= n {
			return &InvalidIndexError{Table: t.Name, Index: idx, ColumnCount: n}
		}
		return nil
	}
	for _, idx := range t.PrimaryKeyColumns {
		if err := check(idx); err != nil {
			return err
		}
	}
	for _, k := range t.Keys {
		for _, idx := range k.Columns {
			if err := check(idx); err != nil {
				return err
			}
		}
	}
	return nil
}

// InvalidIndexError reports a Key or PrimaryKeyColumns entry that does not
// address a real column.
type InvalidIndexError struct {
	Table       string
	Index       int
	ColumnCount int
}

func (e *InvalidIndexError) Error() string {
	return "invalid column index " + strconv.Itoa(e.Index) + " for table " + e.Table +
		" (has " + strconv.Itoa(e.ColumnCount) + " columns)"
}

// tablesLess sorts tables by name ascending (introspection
// may discover them in a different order; the consumer re-sorts).
func tablesLess(a, b Table) bool { return a.Name < b.Name }

// SortTables orders tables in place per the canonical Database ordering.
func SortTables(tables []Table) {
	sort.SliceStable(tables, func(i, j int) bool { return tablesLess(tables[i], tables[j]) })
}

// Database is an ordered list of Tables; table order is always name
// ascending after SortTables.
type Database struct {
	Tables []Table
}

// TableByName returns the table with the given name, or false if absent.
func (d Database) TableByName(name string) (Table, bool) {
	for _, t := range d.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}
