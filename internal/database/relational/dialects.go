package relational

import (
	"fmt"
	"strings"

	"relgraph/internal/typemap"
)

// dialect holds the metadata queries of one database family. Every query
// returns the same column shape regardless of family:
//
//	tables      -> schema, name
//	columns     -> name, ordinal, declared type, 'YES'|'NO'
//	primaryKey  -> column
//	foreignKeys -> constraint, column, ref schema, ref table, ref column (nullable)
//
// Queries take (schema, table) arguments unless tableOnly is set.
type dialect struct {
	defaultSchema string
	tableOnly     bool
	quoteChar     byte

	tables      string
	columns     string
	primaryKey  string
	foreignKeys string
}

func (d dialect) quote(ident string) string {
	q := string(d.quoteChar)
	return q + strings.ReplaceAll(ident, q, q+q) + q
}

var postgresDialect = dialect{
	defaultSchema: "public",
	quoteChar:     '"',
	tables: `SELECT table_schema, table_name FROM information_schema.tables
WHERE table_type = 'BASE TABLE' AND table_schema = $1
ORDER BY table_name`,
	columns: `SELECT column_name, ordinal_position, data_type, is_nullable FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`,
	primaryKey: `SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_schema = tc.constraint_schema AND kcu.constraint_name = tc.constraint_name
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = $1 AND tc.table_name = $2
ORDER BY kcu.ordinal_position`,
	foreignKeys: `SELECT kcu.constraint_name, kcu.column_name, ref.table_schema, ref.table_name, ref.column_name
FROM information_schema.referential_constraints rc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_schema = rc.constraint_schema AND kcu.constraint_name = rc.constraint_name
JOIN information_schema.key_column_usage ref
  ON ref.constraint_schema = rc.unique_constraint_schema AND ref.constraint_name = rc.unique_constraint_name
 AND ref.ordinal_position = kcu.position_in_unique_constraint
WHERE kcu.table_schema = $1 AND kcu.table_name = $2
ORDER BY kcu.constraint_name, kcu.ordinal_position`,
}

var mysqlDialect = dialect{
	quoteChar: '`',
	tables: `SELECT TABLE_SCHEMA, TABLE_NAME FROM information_schema.TABLES
WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE())
ORDER BY TABLE_NAME`,
	columns: `SELECT COLUMN_NAME, ORDINAL_POSITION, COLUMN_TYPE, IS_NULLABLE FROM information_schema.COLUMNS
WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`,
	primaryKey: `SELECT COLUMN_NAME FROM information_schema.KEY_COLUMN_USAGE
WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY'
ORDER BY ORDINAL_POSITION`,
	foreignKeys: `SELECT CONSTRAINT_NAME, COLUMN_NAME, REFERENCED_TABLE_SCHEMA, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
FROM information_schema.KEY_COLUMN_USAGE
WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_NAME = ? AND REFERENCED_TABLE_NAME IS NOT NULL
ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION`,
}

var sqliteDialect = dialect{
	tableOnly: true,
	quoteChar: '"',
	tables: `SELECT '', name FROM sqlite_master
WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
ORDER BY name`,
	columns: `SELECT name, cid + 1, type, CASE WHEN "notnull" = 1 OR pk > 0 THEN 'NO' ELSE 'YES' END
FROM pragma_table_info(?)
ORDER BY cid`,
	primaryKey: `SELECT name FROM pragma_table_info(?) WHERE pk > 0 ORDER BY pk`,
	foreignKeys: `SELECT CAST(id AS TEXT), "from", '', "table", "to"
FROM pragma_foreign_key_list(?)
ORDER BY id, seq`,
}

var duckdbDialect = dialect{
	defaultSchema: "main",
	quoteChar:     '"',
	tables: `SELECT schema_name, table_name FROM duckdb_tables()
WHERE schema_name = ?
ORDER BY table_name`,
	columns: `SELECT column_name, column_index, data_type, CASE WHEN is_nullable THEN 'YES' ELSE 'NO' END
FROM duckdb_columns()
WHERE schema_name = ? AND table_name = ?
ORDER BY column_index`,
	primaryKey: `SELECT unnest(constraint_column_names)
FROM duckdb_constraints()
WHERE schema_name = ? AND table_name = ? AND constraint_type = 'PRIMARY KEY'`,
	foreignKeys: `SELECT CAST(constraint_index AS VARCHAR), unnest(constraint_column_names), schema_name,
       referenced_table, unnest(referenced_column_names)
FROM duckdb_constraints()
WHERE schema_name = ? AND table_name = ? AND constraint_type = 'FOREIGN KEY'`,
}

func dialectFor(driver typemap.Driver) (dialect, error) {
	switch driver {
	case typemap.Postgres:
		return postgresDialect, nil
	case typemap.MySQL:
		return mysqlDialect, nil
	case typemap.SQLite:
		return sqliteDialect, nil
	case typemap.DuckDB:
		return duckdbDialect, nil
	}
	return dialect{}, fmt.Errorf("relational: no dialect for driver %q", driver)
}
