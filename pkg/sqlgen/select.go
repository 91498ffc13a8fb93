package sqlgen

import (
	"fmt"
	"strings"

	"github.com/koba/rangesync/pkg/codec"
)

// Table is the minimal shape sqlgen needs to build a range query: a name,
// the ordered column names to select, the PK column names (in declaration
// order, for the row-constructor comparison and ORDER BY), and an
// optional where-condition applied uniformly at both ends.
type Table struct {
	Name            string
	ColumnNames     []string
	PKColumnNames   []string
	WhereConditions string
}

// RetrieveRows builds: SELECT <cols> FROM <table> WHERE <pk> > <prev_key>
// AND <pk> <= <last_key> [AND <where_conditions>] ORDER BY <pk> [LIMIT n].
// prevKey empty omits the lower bound; lastKey empty omits the upper
// bound. The PK comparison uses row-constructor syntax so the tuple
// compare is lexicographic across PK columns in declaration order, the
// same semantics the ORDER BY clause reproduces.
func RetrieveRows(d Dialect, t Table, prevKey, lastKey codec.ColumnValues, limit RowLimit) string {
	cols := quoteAll(d, t.ColumnNames)
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(cols, ", "), d.QuoteIdentifier(t.Name))

	where := rangePredicate(d, t.PKColumnNames, prevKey, lastKey)
	if t.WhereConditions != "" {
		where = appendCondition(where, t.WhereConditions)
	}
	if where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}

	b.WriteString(" ORDER BY ")
	b.WriteString(strings.Join(quoteAll(d, t.PKColumnNames), ", "))

	if !limit.IsUnlimited() {
		fmt.Fprintf(&b, " LIMIT %d", limit.N())
	}
	return b.String()
}

// CountRows builds the same predicate shape with COUNT(*) in place of the
// column list, and no ORDER BY/LIMIT.
func CountRows(d Dialect, t Table, prevKey, lastKey codec.ColumnValues) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT COUNT(*) FROM %s", d.QuoteIdentifier(t.Name))

	where := rangePredicate(d, t.PKColumnNames, prevKey, lastKey)
	if t.WhereConditions != "" {
		where = appendCondition(where, t.WhereConditions)
	}
	if where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	return b.String()
}

func rangePredicate(d Dialect, pkCols []string, prevKey, lastKey codec.ColumnValues) string {
	var parts []string
	if len(prevKey) > 0 {
		parts = append(parts, fmt.Sprintf("%s > %s", tuple(d, pkCols), literalTuple(d, prevKey)))
	}
	if len(lastKey) > 0 {
		parts = append(parts, fmt.Sprintf("%s <= %s", tuple(d, pkCols), literalTuple(d, lastKey)))
	}
	return strings.Join(parts, " AND ")
}

func tuple(d Dialect, cols []string) string {
	return "(" + strings.Join(quoteAll(d, cols), ", ") + ")"
}

func literalTuple(d Dialect, key codec.ColumnValues) string {
	lits := make([]string, len(key))
	for i, v := range key {
		lits[i] = codec.SQLLiteral(v, d)
	}
	return "(" + strings.Join(lits, ", ") + ")"
}

func appendCondition(where, extra string) string {
	if where == "" {
		return extra
	}
	return where + " AND " + extra
}

func quoteAll(d Dialect, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = d.QuoteIdentifier(n)
	}
	return out
}
