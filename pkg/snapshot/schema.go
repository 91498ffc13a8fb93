package snapshot

import "database/sql"

const (
	createMetadataTable = `
		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	createTableSchemasTable = `
		CREATE TABLE IF NOT EXISTS table_schemas (
			table_name TEXT PRIMARY KEY,
			schema_blob BLOB NOT NULL
		);
	`
	createTableDataTable = `
		CREATE TABLE IF NOT EXISTS table_data (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			table_name TEXT NOT NULL,
			seq INTEGER NOT NULL,
			row_blob BLOB NOT NULL
		);
	`
	createTableDataIndex = `
		CREATE INDEX IF NOT EXISTS idx_table_data_table_name
		ON table_data(table_name, seq);
	`
)

func initializeSchema(db *sql.DB) error {
	stmts := []string{createMetadataTable, createTableSchemasTable, createTableDataTable, createTableDataIndex}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
