// Package schemamatch implements the schema matcher: it aligns the
// destination's DDL to the source's before row sync begins, emitting
// CREATE/DROP TABLE, DROP COLUMN, and CREATE/DROP INDEX statements
// through the SQL builder and executing them through the destination
// adapter. It never adds a column to an existing table. Anything it
// cannot reconcile by drop/add alone is a fatal SchemaMismatch; the
// caller aborts the session.
package schemamatch

import (
	"context"
	"fmt"
	"sort"

	"github.com/koba/rangesync/pkg/adapter"
	"github.com/koba/rangesync/pkg/apperr"
	"github.com/koba/rangesync/pkg/model"
	"github.com/koba/rangesync/pkg/sqlgen"
)

// Match reconciles dest's schema against src by executing DDL on dest.
// Both src and destDB are already-introspected Databases.
func Match(ctx context.Context, dest adapter.Adapter, src, destDB model.Database) error {
	srcTables := append([]model.Table(nil), src.Tables...)
	destTables := append([]model.Table(nil), destDB.Tables...)
	model.SortTables(srcTables)
	model.SortTables(destTables)

	for _, name := range unionNames(srcTables, destTables) {
		srcTbl, inSrc := tableByName(srcTables, name)
		destTbl, inDest := tableByName(destTables, name)

		switch {
		case inSrc && !inDest:
			if err := createTable(ctx, dest, srcTbl); err != nil {
				return err
			}
		case !inSrc && inDest:
			if err := dest.Execute(ctx, sqlgen.DropTable(dest, name)); err != nil {
				return err
			}
		default:
			if err := matchTable(ctx, dest, srcTbl, destTbl); err != nil {
				return err
			}
		}
	}
	return nil
}

// matchTable applies rules 4-6 to a table present on both sides.
func matchTable(ctx context.Context, dest adapter.Adapter, src, destTbl model.Table) error {
	if !sameOrderedNames(pkNames(src), pkNames(destTbl)) {
		// Rule 4: primary-key columns differ. No in-place PK change;
		// drop and re-create wholesale (portability across backends).
		if err := dest.Execute(ctx, sqlgen.DropTable(dest, destTbl.Name)); err != nil {
			return err
		}
		return createTable(ctx, dest, src)
	}

	if err := matchColumns(ctx, dest, src, destTbl); err != nil {
		return err
	}
	return matchKeys(ctx, dest, src, destTbl)
}

// matchColumns implements rule 5: position-by-position comparison. A
// mismatched name/position, a mismatched type/size/nullable/default, or a
// column present on source but absent on destination is fatal; extra
// trailing destination columns are dropped.
func matchColumns(ctx context.Context, dest adapter.Adapter, src, destTbl model.Table) error {
	for i, sc := range src.Columns {
		if i >= len(destTbl.Columns) {
			return &apperr.SchemaMismatch{Table: src.Name, Message: fmt.Sprintf("missing column %s on table %s", sc.Name, src.Name)}
		}
		dc := destTbl.Columns[i]
		if dc.Name != sc.Name {
			return &apperr.SchemaMismatch{Table: src.Name, Message: fmt.Sprintf("column order mismatch at position %d: source has %s, destination has %s", i, sc.Name, dc.Name)}
		}
		if !dc.Equal(sc) {
			return &apperr.SchemaMismatch{Table: src.Name, Message: fmt.Sprintf("column %s differs between source and destination", sc.Name)}
		}
	}
	if len(destTbl.Columns) > len(src.Columns) {
		extra := destTbl.Columns[len(src.Columns):]
		names := make([]string, len(extra))
		for i, c := range extra {
			names[i] = c.Name
		}
		for _, stmt := range sqlgen.DropColumns(dest, destTbl.Name, names) {
			if err := dest.Execute(ctx, stmt); err != nil {
				return err
			}
		}
	}
	return nil
}

// matchKeys implements rule 6: match by name; extra destination keys are
// dropped, missing ones added, and keys with the same name but different
// columns or uniqueness are dropped then re-added.
func matchKeys(ctx context.Context, dest adapter.Adapter, src, destTbl model.Table) error {
	srcByName := keysByName(src.Keys)
	destByName := keysByName(destTbl.Keys)

	for name, dk := range destByName {
		if _, ok := srcByName[name]; !ok {
			if err := dest.Execute(ctx, sqlgen.DropKey(dest, destTbl.Name, dk.Name)); err != nil {
				return err
			}
		}
	}
	for name, sk := range srcByName {
		dk, ok := destByName[name]
		if !ok {
			if err := dest.Execute(ctx, sqlgen.AddKey(dest, destTbl.Name, keyDef(src, sk))); err != nil {
				return err
			}
			continue
		}
		if sk.Unique != dk.Unique || !sameOrderedNames(columnNames(src, sk.Columns), columnNames(destTbl, dk.Columns)) {
			if err := dest.Execute(ctx, sqlgen.DropKey(dest, destTbl.Name, dk.Name)); err != nil {
				return err
			}
			if err := dest.Execute(ctx, sqlgen.AddKey(dest, destTbl.Name, keyDef(src, sk))); err != nil {
				return err
			}
		}
	}
	return nil
}

// createTable emits CREATE TABLE with every source column and its primary
// key, then CREATE INDEX for each of its keys (rule 2).
func createTable(ctx context.Context, dest adapter.Adapter, t model.Table) error {
	cols := make([]sqlgen.ColumnDef, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = columnDef(c)
	}
	if err := dest.Execute(ctx, sqlgen.CreateTable(dest, t.Name, cols, pkNames(t))); err != nil {
		return err
	}
	for _, k := range t.Keys {
		if err := dest.Execute(ctx, sqlgen.AddKey(dest, t.Name, keyDef(t, k))); err != nil {
			return err
		}
	}
	return nil
}

func columnDef(c model.Column) sqlgen.ColumnDef {
	return sqlgen.ColumnDef{
		Name:           c.Name,
		TypeTag:        string(c.Type),
		Size:           c.Size,
		Scale:          c.Scale,
		Nullable:       c.Nullable,
		DefaultPresent: c.DefaultPresent,
		DefaultValue:   c.DefaultValue,
	}
}

func keyDef(t model.Table, k model.Key) sqlgen.KeyDef {
	return sqlgen.KeyDef{Name: k.Name, Unique: k.Unique, Columns: columnNames(t, k.Columns)}
}

func pkNames(t model.Table) []string { return columnNames(t, t.PrimaryKeyColumns) }

func columnNames(t model.Table, idx []int) []string {
	names := make([]string, len(idx))
	for i, ix := range idx {
		if ix >= 0 && ix < len(t.Columns) {
			names[i] = t.Columns[ix].Name
		}
	}
	return names
}

func sameOrderedNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func keysByName(keys []model.Key) map[string]model.Key {
	m := make(map[string]model.Key, len(keys))
	for _, k := range keys {
		m[k.Name] = k
	}
	return m
}

func tableByName(tables []model.Table, name string) (model.Table, bool) {
	for _, t := range tables {
		if t.Name == name {
			return t, true
		}
	}
	return model.Table{}, false
}

func unionNames(a, b []model.Table) []string {
	seen := map[string]bool{}
	var names []string
	for _, t := range a {
		if !seen[t.Name] {
			seen[t.Name] = true
			names = append(names, t.Name)
		}
	}
	for _, t := range b {
		if !seen[t.Name] {
			seen[t.Name] = true
			names = append(names, t.Name)
		}
	}
	sort.Strings(names)
	return names
}
