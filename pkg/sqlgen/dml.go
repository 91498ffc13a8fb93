package sqlgen

import (
	"fmt"
	"strings"

	"github.com/koba/rangesync/pkg/codec"
)

// InsertRow builds INSERT INTO <table> (<cols>) VALUES (<literals>).
func InsertRow(d Dialect, t Table, row codec.Row) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.QuoteIdentifier(t.Name),
		strings.Join(quoteAll(d, t.ColumnNames), ", "),
		strings.Join(literals(d, row), ", "),
	)
}

// DeleteRowByKey builds DELETE FROM <table> WHERE (<pk>) = (<key>), used to
// clear the old row ahead of an INSERT when replacing by primary key.
func DeleteRowByKey(d Dialect, t Table, key codec.ColumnValues) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		d.QuoteIdentifier(t.Name), tuple(d, t.PKColumnNames), literalTuple(d, key))
}

// DeleteRangeExcept builds the range-coverage deletion statement: remove
// every row in (prevKey, lastKey] whose PK is not in keep, the only
// place the sync path deletes rows. When keep is empty the whole range
// is cleared.
func DeleteRangeExcept(d Dialect, t Table, prevKey, lastKey codec.ColumnValues, keep []codec.ColumnValues) string {
	where := rangePredicate(d, t.PKColumnNames, prevKey, lastKey)
	if len(keep) > 0 {
		var kept []string
		for _, k := range keep {
			if len(k) == 1 {
				// Single-column keys are listed as bare scalars.
				kept = append(kept, codec.SQLLiteral(k[0], d))
			} else {
				kept = append(kept, literalTuple(d, k))
			}
		}
		where = appendCondition(where, tuple(d, t.PKColumnNames)+" NOT IN ("+strings.Join(kept, ", ")+")")
	}
	if where == "" {
		// Both ends of the range are open and nothing is kept: the whole
		// table is being cleared.
		return fmt.Sprintf("DELETE FROM %s", d.QuoteIdentifier(t.Name))
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", d.QuoteIdentifier(t.Name), where)
}

func literals(d Dialect, row codec.Row) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = codec.SQLLiteral(v, d)
	}
	return out
}
