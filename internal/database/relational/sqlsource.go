package relational

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // Register MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib" // Register PostgreSQL driver as "pgx"
	_ "modernc.org/sqlite"             // Register SQLite driver

	"relgraph/internal/typemap"
)

// =============================================================================
// SQL SOURCE
// =============================================================================

// SQLSource implements Source over database/sql.
type SQLSource struct {
	db      *sql.DB
	driver  typemap.Driver
	dialect dialect
	schema  string
	closer  func() error
}

var _ Source = (*SQLSource)(nil)

// NewSQLSource wraps an open database. An empty schema selects the
// driver's default schema. Close does not close db.
func NewSQLSource(db *sql.DB, driver typemap.Driver, schema string) (*SQLSource, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	if schema == "" {
		schema = d.defaultSchema
	}
	return &SQLSource{db: db, driver: driver, dialect: d, schema: schema}, nil
}

const duckDBConnectTimeout = 30 * time.Second

// Open connects to a source database and verifies connectivity.
func Open(ctx context.Context, driverName, dsn, schema string) (*SQLSource, error) {
	driver, err := typemap.ParseDriver(driverName)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	var closer func() error
	switch driver {
	case typemap.DuckDB:
		client, err := NewDuckDBClient(dsn, WithAccessMode(AccessReadOnly), WithTimeout(duckDBConnectTimeout))
		if err != nil {
			return nil, err
		}
		db, closer = client.DB(), client.Close
	default:
		name := map[typemap.Driver]string{
			typemap.Postgres: "pgx",
			typemap.MySQL:    "mysql",
			typemap.SQLite:   "sqlite",
		}[driver]
		db, err = sql.Open(name, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", driver, err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
		}
		closer = db.Close
	}

	src, err := NewSQLSource(db, driver, schema)
	if err != nil {
		_ = closer()
		return nil, err
	}
	src.closer = closer
	return src, nil
}

// Driver returns the source database family.
func (s *SQLSource) Driver() typemap.Driver { return s.driver }

// DB returns the underlying sql.DB instance.
func (s *SQLSource) DB() *sql.DB { return s.db }

// Close releases the connection if Open created it.
func (s *SQLSource) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

// =============================================================================
// METADATA
// =============================================================================

// ListEntities returns the base tables of the configured schema.
func (s *SQLSource) ListEntities(ctx context.Context) ([]TableRef, error) {
	var args []any
	if !s.dialect.tableOnly {
		args = append(args, s.schema)
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.tables, args...)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var out []TableRef
	for rows.Next() {
		var t TableRef
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListAttributes returns the columns of table in ordinal order.
func (s *SQLSource) ListAttributes(ctx context.Context, table TableRef) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.columns, s.args(table)...)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	defer rows.Close()

	var out []Column
	for rows.Next() {
		var c Column
		var nullable string
		if err := rows.Scan(&c.Name, &c.Ordinal, &c.Type, &nullable); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		c.Nullable = strings.EqualFold(nullable, "YES")
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListPrimaryKey returns the primary key columns of table in key order.
func (s *SQLSource) ListPrimaryKey(ctx context.Context, table TableRef) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.primaryKey, s.args(table)...)
	if err != nil {
		return nil, fmt.Errorf("list primary key of %s: %w", table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, fmt.Errorf("scan primary key of %s: %w", table, err)
		}
		out = append(out, col)
	}
	return out, rows.Err()
}

// ListForeignKeys returns the foreign keys declared on table. References
// that omit the target columns resolve to the target's primary key.
func (s *SQLSource) ListForeignKeys(ctx context.Context, table TableRef) ([]ForeignKey, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.foreignKeys, s.args(table)...)
	if err != nil {
		return nil, fmt.Errorf("list foreign keys of %s: %w", table, err)
	}

	var out []ForeignKey
	byName := make(map[string]int)
	implicit := make(map[int]bool)
	for rows.Next() {
		var name, col, refSchema, refTable string
		var refCol sql.NullString
		if err := rows.Scan(&name, &col, &refSchema, &refTable, &refCol); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan foreign key of %s: %w", table, err)
		}
		i, ok := byName[name]
		if !ok {
			if refSchema == "" {
				refSchema = table.Schema
			}
			out = append(out, ForeignKey{Name: name, RefSchema: refSchema, RefTable: refTable})
			i = len(out) - 1
			byName[name] = i
		}
		out[i].Columns = append(out[i].Columns, col)
		if refCol.Valid && refCol.String != "" {
			out[i].RefColumns = append(out[i].RefColumns, refCol.String)
		} else {
			implicit[i] = true
		}
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	for i := range implicit {
		ref := TableRef{Schema: out[i].RefSchema, Name: out[i].RefTable}
		pk, err := s.ListPrimaryKey(ctx, ref)
		if err != nil {
			return nil, err
		}
		out[i].RefColumns = pk
	}
	return out, nil
}

func (s *SQLSource) args(table TableRef) []any {
	if s.dialect.tableOnly {
		return []any{table.Name}
	}
	schema := table.Schema
	if schema == "" {
		schema = s.schema
	}
	return []any{schema, table.Name}
}

// =============================================================================
// ROWS
// =============================================================================

// StreamRows runs q and calls fn for every row.
func (s *SQLSource) StreamRows(ctx context.Context, q RowQuery, fn func(Row) error) error {
	query, keys := s.selectStatement(q)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("query %s: %w", q.Table, err)
	}
	defer rows.Close()

	values := make([]any, len(keys))
	ptrs := make([]any, len(keys))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scan %s: %w", q.Table, err)
		}
		row := make(Row, len(keys))
		for i, k := range keys {
			row[k] = values[i]
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

// selectStatement builds the SELECT for q and the row key of every
// selected column, in select order.
func (s *SQLSource) selectStatement(q RowQuery) (string, []string) {
	var cols, keys []string
	for _, c := range q.Columns {
		cols = append(cols, "t0."+s.dialect.quote(c))
		keys = append(keys, c)
	}
	for i, j := range q.Joins {
		alias := fmt.Sprintf("t%d", i+1)
		for _, c := range j.Columns {
			cols = append(cols, alias+"."+s.dialect.quote(c))
			keys = append(keys, JoinedColumn(j.Table.Name, c))
		}
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(" FROM ")
	b.WriteString(s.tableName(q.Table))
	b.WriteString(" t0")
	for i, j := range q.Joins {
		alias := fmt.Sprintf("t%d", i+1)
		b.WriteString(" JOIN ")
		b.WriteString(s.tableName(j.Table))
		b.WriteString(" ")
		b.WriteString(alias)
		b.WriteString(" ON ")
		for k, on := range j.On {
			if k > 0 {
				b.WriteString(" AND ")
			}
			b.WriteString("t0." + s.dialect.quote(on.Left) + " = " + alias + "." + s.dialect.quote(on.Right))
		}
	}
	return b.String(), keys
}

func (s *SQLSource) tableName(t TableRef) string {
	if t.Schema == "" || s.dialect.tableOnly {
		return s.dialect.quote(t.Name)
	}
	return s.dialect.quote(t.Schema) + "." + s.dialect.quote(t.Name)
}
