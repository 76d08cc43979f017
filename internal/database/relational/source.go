// Package relational reads schema metadata and row streams from relational
// databases reached through database/sql.
package relational

import (
	"context"
	"strings"
	"time"

	"relgraph/internal/typemap"
)

// TableRef identifies a table.
type TableRef struct {
	Schema string
	Name   string
}

func (t TableRef) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Column describes one column as declared in the source.
type Column struct {
	Name     string
	Ordinal  int
	Type     string
	Nullable bool
}

// ForeignKey is a (possibly composite) reference from Columns to RefColumns
// of RefTable. Column order on both sides is aligned.
type ForeignKey struct {
	Name       string
	Columns    []string
	RefSchema  string
	RefTable   string
	RefColumns []string
}

// Catalog exposes source metadata.
type Catalog interface {
	Driver() typemap.Driver
	ListEntities(ctx context.Context) ([]TableRef, error)
	ListAttributes(ctx context.Context, table TableRef) ([]Column, error)
	ListPrimaryKey(ctx context.Context, table TableRef) ([]string, error)
	ListForeignKeys(ctx context.Context, table TableRef) ([]ForeignKey, error)
}

// Source is a Catalog that can also stream rows.
type Source interface {
	Catalog
	// StreamRows runs q and calls fn once per row, in source order. Returning
	// an error from fn stops the stream and is returned as is.
	StreamRows(ctx context.Context, q RowQuery, fn func(Row) error) error
	Close() error
}

// RowQuery selects Columns from Table, inner-joined with Joins. Joined columns
// appear in the row as "TABLE.COLUMN"; base columns keep their plain name.
type RowQuery struct {
	Table   TableRef
	Columns []string
	Joins   []Join
}

// Join adds a table whose On columns match the base table's key columns.
type Join struct {
	Table   TableRef
	Columns []string
	On      []JoinOn
}

// JoinOn pairs a base-table column with a joined-table column.
type JoinOn struct {
	Left  string
	Right string
}

// JoinedColumn is the row key of a joined column.
func JoinedColumn(table, column string) string {
	return table + "." + column
}

// Row is one source record keyed by column name.
type Row map[string]any

// Value returns the raw value of column, matching names case-insensitively
// when there is no exact match.
func (r Row) Value(column string) (any, bool) {
	if v, ok := r[column]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return nil, false
}

// IsNull reports whether column is absent or NULL.
func (r Row) IsNull(column string) bool {
	v, ok := r.Value(column)
	return !ok || v == nil
}

// String returns column as a string.
func (r Row) String(column string) (string, error) {
	v, err := r.typed(typemap.String, column)
	if v == nil || err != nil {
		return "", err
	}
	return v.(string), nil
}

// Bool returns column as a boolean, accepting 't'/'f' encodings.
func (r Row) Bool(column string) (bool, error) {
	v, err := r.typed(typemap.Boolean, column)
	if v == nil || err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Time returns column as a timestamp.
func (r Row) Time(column string) (time.Time, error) {
	v, err := r.typed(typemap.DateTime, column)
	if v == nil || err != nil {
		return time.Time{}, err
	}
	return v.(time.Time), nil
}

// Bytes returns column as raw bytes.
func (r Row) Bytes(column string) ([]byte, error) {
	v, err := r.typed(typemap.Binary, column)
	if v == nil || err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (r Row) typed(t typemap.Type, column string) (any, error) {
	v, _ := r.Value(column)
	return typemap.Convert(t, v)
}
