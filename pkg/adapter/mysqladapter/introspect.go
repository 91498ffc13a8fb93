package mysqladapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/koba/rangesync/pkg/adapter"
	"github.com/koba/rangesync/pkg/apperr"
	"github.com/koba/rangesync/pkg/model"
)

// PopulateDatabaseSchema lists user tables and, for each, its columns (in
// declaration order), primary key, and other keys, applying the
// surrogate-PK rule and the integer-width-widening/unsigned-downgrade
// policy.
func (a *Adapter) PopulateDatabaseSchema(ctx context.Context) (model.Database, error) {
	names, err := a.tableNames(ctx)
	if err != nil {
		return model.Database{}, err
	}

	var db model.Database
	for _, name := range names {
		tbl, err := a.introspectTable(ctx, name)
		if err != nil {
			return model.Database{}, err
		}
		db.Tables = append(db.Tables, tbl)
	}
	model.SortTables(db.Tables)
	return db, nil
}

func (a *Adapter) tableNames(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf("SELECT TABLE_NAME FROM information_schema.TABLES WHERE TABLE_SCHEMA = %s ORDER BY TABLE_NAME", a.EscapeString(a.database))
	var names []string
	err := a.Query(ctx, query, func(row adapter.RowAccessor) error {
		names = append(names, string(row.Bytes(0)))
		return nil
	})
	return names, err
}

func (a *Adapter) introspectTable(ctx context.Context, name string) (model.Table, error) {
	tbl := model.Table{Name: name}

	columns, err := a.introspectColumns(ctx, name)
	if err != nil {
		return model.Table{}, err
	}
	tbl.Columns = columns

	keys, primary, err := a.introspectKeys(ctx, name)
	if err != nil {
		return model.Table{}, err
	}
	tbl.Keys = keys

	if len(primary) > 0 {
		tbl.PrimaryKeyColumns = primary
	} else {
		nullable := func(idx int) bool { return columns[idx].Nullable }
		chosen, ok := model.ElectSurrogatePrimaryKey(keys, nullable)
		if !ok {
			return model.Table{}, &apperr.SchemaMismatch{Table: name, Message: "no primary key and no eligible non-nullable unique key for surrogate election"}
		}
		tbl.PrimaryKeyColumns = chosen.Columns
		var remaining []model.Key
		for _, k := range keys {
			if k.Name != chosen.Name {
				remaining = append(remaining, k)
			}
		}
		tbl.Keys = remaining
	}

	model.SortKeys(tbl.Keys)
	return tbl, nil
}

func (a *Adapter) introspectColumns(ctx context.Context, table string) ([]model.Column, error) {
	query := fmt.Sprintf(`
		SELECT COLUMN_NAME, DATA_TYPE, COLUMN_TYPE, CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION, NUMERIC_SCALE, IS_NULLABLE, COLUMN_DEFAULT
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = %s AND TABLE_NAME = %s
		ORDER BY ORDINAL_POSITION`, a.EscapeString(a.database), a.EscapeString(table))

	var columns []model.Column
	err := a.Query(ctx, query, func(row adapter.RowAccessor) error {
		dataType := string(row.Bytes(1))
		columnType := string(row.Bytes(2))
		col := model.Column{
			Name:     string(row.Bytes(0)),
			Nullable: string(row.Bytes(6)) == "YES",
		}
		col.Type = mapMySQLType(dataType, columnType)
		switch {
		case mysqlIntByteWidth(dataType) > 0:
			col.Size = widenSize(col.Type, mysqlIntByteWidth(dataType))
		case !row.IsNull(3):
			if n, err := strconv.Atoi(string(row.Bytes(3))); err == nil {
				col.Size = n
			}
		case !row.IsNull(4):
			if n, err := strconv.Atoi(string(row.Bytes(4))); err == nil {
				col.Size = n
			}
		}
		if !row.IsNull(5) {
			if n, err := strconv.Atoi(string(row.Bytes(5))); err == nil {
				col.Scale = n
			}
		}
		if !row.IsNull(7) {
			col.DefaultPresent = true
			col.DefaultValue = stripOuterQuotes(string(row.Bytes(7)))
		}
		columns = append(columns, col)
		return nil
	})
	return columns, err
}

// mysqlIntByteWidth returns the storage byte-width MySQL uses for an
// integer DATA_TYPE (tinyint=1, smallint=2, mediumint=3, int=4, bigint=8),
// or 0 if dataType isn't an integer type. NUMERIC_PRECISION reports decimal
// digit counts (e.g. int=10), not byte-width, so the size widenSize
// operates on must come from the type name directly.
func mysqlIntByteWidth(dataType string) int {
	switch strings.ToLower(dataType) {
	case "tinyint":
		return 1
	case "smallint":
		return 2
	case "mediumint":
		return 3
	case "int", "integer":
		return 4
	case "bigint":
		return 8
	default:
		return 0
	}
}

// introspectKeys returns all non-primary keys plus, separately, the
// declared primary key's column offsets (empty if none declared).
func (a *Adapter) introspectKeys(ctx context.Context, table string) (keys []model.Key, primary []int, err error) {
	colIndex := map[string]int{}
	cols, err := a.introspectColumns(ctx, table)
	if err != nil {
		return nil, nil, err
	}
	for i, c := range cols {
		colIndex[c.Name] = i
	}

	query := fmt.Sprintf(`
		SELECT INDEX_NAME, COLUMN_NAME, NON_UNIQUE
		FROM information_schema.STATISTICS
		WHERE TABLE_SCHEMA = %s AND TABLE_NAME = %s
		ORDER BY INDEX_NAME, SEQ_IN_INDEX`, a.EscapeString(a.database), a.EscapeString(table))

	order := []string{}
	byName := map[string]*model.Key{}
	var primaryCols []int

	err = a.Query(ctx, query, func(row adapter.RowAccessor) error {
		indexName := string(row.Bytes(0))
		colName := string(row.Bytes(1))
		nonUnique := string(row.Bytes(2)) != "0"
		idx := colIndex[colName]

		if indexName == "PRIMARY" {
			primaryCols = append(primaryCols, idx)
			return nil
		}
		k, ok := byName[indexName]
		if !ok {
			k = &model.Key{Name: indexName, Unique: !nonUnique}
			byName[indexName] = k
			order = append(order, indexName)
		}
		k.Columns = append(k.Columns, idx)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	for _, name := range order {
		keys = append(keys, *byName[name])
	}
	return keys, primaryCols, nil
}

// mapMySQLType maps a DATA_TYPE/COLUMN_TYPE pair onto the wire type
// tags. columnType carries the only place MySQL records the "unsigned"
// qualifier (DATA_TYPE never does), so integer columns map to model.UINT
// when it's present.
func mapMySQLType(dataType, columnType string) model.ColumnType {
	switch strings.ToLower(dataType) {
	case "tinyblob", "blob", "mediumblob", "longblob", "binary", "varbinary":
		return model.BLOB
	case "text", "tinytext", "mediumtext", "longtext":
		return model.TEXT
	case "varchar":
		return model.VCHR
	case "char":
		return model.FCHR
	case "tinyint", "bool", "boolean":
		return model.BOOL
	case "smallint", "mediumint", "int", "integer", "bigint":
		if strings.Contains(strings.ToLower(columnType), "unsigned") {
			return model.UINT
		}
		return model.SINT
	case "decimal", "numeric":
		return model.DECI
	case "float", "double":
		return model.REAL
	case "date":
		return model.DATE
	case "time":
		return model.TIME
	case "datetime", "timestamp":
		return model.DTTM
	default:
		return model.TEXT
	}
}

// widenSize implements "integer widths 1 and 3 not supported natively
// should be widened to 2 and 4 respectively".
func widenSize(t model.ColumnType, size int) int {
	if t != model.SINT && t != model.UINT {
		return size
	}
	switch size {
	case 1:
		return 2
	case 3:
		return 4
	default:
		return size
	}
}

// stripOuterQuotes strips one outer layer of single quotes from a
// default-value string. Known lossy for defaults whose textual form is
// not a simple quoted literal.
func stripOuterQuotes(s string) string {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1]
	}
	return s
}
