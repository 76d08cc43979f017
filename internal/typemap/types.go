// Package typemap resolves source column types to graph property types and
// converts and compares values under those types. Everything here is pure.
package typemap

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Type is the destination property type.
type Type int

const (
	String Type = iota
	Integer
	Float
	Decimal
	Boolean
	Date
	DateTime
	Time
	Binary
	JSON
	Point
)

var typeNames = [...]string{
	String:   "STRING",
	Integer:  "INTEGER",
	Float:    "FLOAT",
	Decimal:  "DECIMAL",
	Boolean:  "BOOLEAN",
	Date:     "DATE",
	DateTime: "DATETIME",
	Time:     "TIME",
	Binary:   "BINARY",
	JSON:     "JSON",
	Point:    "POINT",
}

func (t Type) String() string {
	if int(t) >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, error) {
	for i, name := range typeNames {
		if strings.EqualFold(name, s) {
			return Type(i), nil
		}
	}
	return String, fmt.Errorf("typemap: unknown type %q", s)
}

// MarshalYAML and UnmarshalYAML let overlay documents name types directly.
func (t Type) MarshalYAML() (any, error) { return t.String(), nil }

func (t *Type) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Driver identifies the source database family.
type Driver string

const (
	Postgres Driver = "postgres"
	MySQL    Driver = "mysql"
	SQLite   Driver = "sqlite"
	DuckDB   Driver = "duckdb"
)

// ParseDriver normalizes common driver aliases.
func ParseDriver(name string) (Driver, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "duckdb":
		return DuckDB, nil
	default:
		return "", fmt.Errorf("typemap: unknown driver %q", name)
	}
}

type table map[string]Type

var postgresTypes = table{
	"character varying": String, "varchar": String, "character": String, "char": String,
	"bpchar": String, "text": String, "citext": String, "uuid": String, "name": String,
	"inet": String, "cidr": String, "macaddr": String, "xml": String, "interval": String,
	"smallint": Integer, "integer": Integer, "int": Integer, "int2": Integer, "int4": Integer,
	"int8": Integer, "bigint": Integer, "serial": Integer, "bigserial": Integer, "smallserial": Integer,
	"real": Float, "double precision": Float, "float4": Float, "float8": Float,
	"numeric": Decimal, "decimal": Decimal, "money": Decimal,
	"boolean": Boolean, "bool": Boolean,
	"date": Date,
	"timestamp": DateTime, "timestamp without time zone": DateTime,
	"timestamp with time zone": DateTime, "timestamptz": DateTime,
	"time": Time, "time without time zone": Time, "time with time zone": Time, "timetz": Time,
	"bytea": Binary,
	"json": JSON, "jsonb": JSON,
	"point": Point, "geometry": Point, "geography": Point,
}

var mysqlTypes = table{
	"varchar": String, "char": String, "text": String, "tinytext": String, "mediumtext": String,
	"longtext": String, "enum": String, "set": String,
	"tinyint": Integer, "smallint": Integer, "mediumint": Integer, "int": Integer,
	"integer": Integer, "bigint": Integer, "year": Integer,
	"float": Float, "double": Float, "real": Float, "double precision": Float,
	"decimal": Decimal, "numeric": Decimal, "dec": Decimal,
	"bool": Boolean, "boolean": Boolean, "bit": Boolean,
	"date": Date,
	"datetime": DateTime, "timestamp": DateTime,
	"time": Time,
	"binary": Binary, "varbinary": Binary, "blob": Binary, "tinyblob": Binary,
	"mediumblob": Binary, "longblob": Binary,
	"json": JSON,
	"geometry": Point, "point": Point, "linestring": Point, "polygon": Point,
}

var duckdbTypes = table{
	"varchar": String, "text": String, "string": String, "uuid": String, "char": String,
	"bpchar": String, "interval": String, "enum": String,
	"tinyint": Integer, "smallint": Integer, "integer": Integer, "int": Integer,
	"bigint": Integer, "hugeint": Integer, "utinyint": Integer, "usmallint": Integer,
	"uinteger": Integer, "ubigint": Integer,
	"float": Float, "real": Float, "double": Float,
	"decimal": Decimal, "numeric": Decimal,
	"boolean": Boolean, "bool": Boolean,
	"date": Date,
	"timestamp": DateTime, "timestamp with time zone": DateTime, "timestamptz": DateTime,
	"datetime": DateTime,
	"time": Time,
	"blob": Binary, "bytea": Binary,
	"json": JSON,
}

// Resolve maps a declared source type to a destination type. ok is false when
// the driver has no mapping; the returned type is then String.
func Resolve(driver Driver, sourceType string) (t Type, ok bool) {
	raw := strings.ToLower(strings.TrimSpace(sourceType))
	base := raw
	if i := strings.IndexByte(base, '('); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	base = strings.TrimSuffix(base, " unsigned")
	base = strings.TrimSuffix(base, "[]")

	switch driver {
	case Postgres:
		return lookup(postgresTypes, base)
	case MySQL:
		// MySQL spells booleans as tinyint(1) and bit(1).
		if raw == "tinyint(1)" || raw == "bit(1)" {
			return Boolean, true
		}
		if base == "bit" {
			return Binary, true
		}
		return lookup(mysqlTypes, base)
	case DuckDB:
		return lookup(duckdbTypes, base)
	case SQLite:
		return sqliteAffinity(base)
	}
	return String, false
}

func lookup(tbl table, base string) (Type, bool) {
	if t, ok := tbl[base]; ok {
		return t, true
	}
	return String, false
}

// sqliteAffinity follows SQLite's declared-type affinity rules, refined for
// the boolean and temporal names commonly used in DDL.
func sqliteAffinity(base string) (Type, bool) {
	switch {
	case base == "":
		return Binary, true
	case strings.Contains(base, "bool"):
		return Boolean, true
	case strings.Contains(base, "int"):
		return Integer, true
	case strings.Contains(base, "char"), strings.Contains(base, "clob"), strings.Contains(base, "text"):
		return String, true
	case strings.Contains(base, "blob"):
		return Binary, true
	case strings.Contains(base, "real"), strings.Contains(base, "floa"), strings.Contains(base, "doub"):
		return Float, true
	case base == "datetime", strings.Contains(base, "timestamp"):
		return DateTime, true
	case base == "date":
		return Date, true
	case base == "time":
		return Time, true
	case strings.Contains(base, "dec"), strings.Contains(base, "numeric"):
		return Decimal, true
	case base == "json":
		return JSON, true
	}
	return String, false
}
