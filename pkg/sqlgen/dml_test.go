package sqlgen

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/koba/rangesync/pkg/codec"
)

func TestInsertRowListsColumnsAndLiterals(t *testing.T) {
	d := fakeDialect{}
	tbl := Table{Name: "t", ColumnNames: []string{"id", "v"}}
	sql := InsertRow(d, tbl, codec.Row{codec.Int(3), codec.String("x")})
	assert.Equal(t, "INSERT INTO `t` (`id`, `v`) VALUES (3, 'x')", sql)
}

func TestDeleteRowByKey(t *testing.T) {
	d := fakeDialect{}
	tbl := Table{Name: "t", PKColumnNames: []string{"id"}}
	sql := DeleteRowByKey(d, tbl, codec.ColumnValues{codec.Int(3)})
	assert.Equal(t, "DELETE FROM `t` WHERE (`id`) = (3)", sql)
}

func TestDeleteRangeExceptWithKeepList(t *testing.T) {
	d := fakeDialect{}
	tbl := Table{Name: "t", PKColumnNames: []string{"id"}}
	sql := DeleteRangeExcept(d, tbl, codec.ColumnValues{codec.Int(2)}, codec.ColumnValues{codec.Int(5)},
		[]codec.ColumnValues{{codec.Int(3)}, {codec.Int(4)}})
	assert.Equal(t, "DELETE FROM `t` WHERE (`id`) > (2) AND (`id`) <= (5) AND (`id`) NOT IN (3, 4)", sql)
}

func TestDeleteRangeExceptUnboundedClearsWholeTable(t *testing.T) {
	d := fakeDialect{}
	tbl := Table{Name: "t", PKColumnNames: []string{"id"}}
	sql := DeleteRangeExcept(d, tbl, nil, nil, nil)
	assert.Equal(t, "DELETE FROM `t`", sql)
}
