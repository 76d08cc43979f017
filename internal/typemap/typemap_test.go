package typemap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		driver Driver
		source string
		want   Type
		ok     bool
	}{
		{Postgres, "character varying(255)", String, true},
		{Postgres, "numeric(10,2)", Decimal, true},
		{Postgres, "timestamp with time zone", DateTime, true},
		{Postgres, "bytea", Binary, true},
		{Postgres, "jsonb", JSON, true},
		{Postgres, "integer[]", Integer, true},
		{Postgres, "tsvector", String, false},
		{MySQL, "tinyint(1)", Boolean, true},
		{MySQL, "TINYINT(4)", Integer, true},
		{MySQL, "bit(1)", Boolean, true},
		{MySQL, "bit(8)", Binary, true},
		{MySQL, "int unsigned", Integer, true},
		{MySQL, "longblob", Binary, true},
		{SQLite, "VARCHAR(20)", String, true},
		{SQLite, "BIGINT", Integer, true},
		{SQLite, "BOOLEAN", Boolean, true},
		{SQLite, "DATE", Date, true},
		{SQLite, "", Binary, true},
		{SQLite, "whatever", String, false},
		{DuckDB, "HUGEINT", Integer, true},
		{DuckDB, "DECIMAL(18,3)", Decimal, true},
		{Driver("oracle"), "varchar2", String, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.driver)+"/"+tt.source, func(t *testing.T) {
			got, ok := Resolve(tt.driver, tt.source)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestParseDriver(t *testing.T) {
	d, err := ParseDriver("pgx")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)

	d, err = ParseDriver("sqlite3")
	require.NoError(t, err)
	assert.Equal(t, SQLite, d)

	_, err = ParseDriver("db2")
	assert.Error(t, err)
}

func TestTypeYAML(t *testing.T) {
	var doc struct {
		Type Type `yaml:"type"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("type: datetime\n"), &doc))
	assert.Equal(t, DateTime, doc.Type)

	out, err := yaml.Marshal(doc)
	require.NoError(t, err)
	assert.Equal(t, "type: DATETIME\n", string(out))

	assert.Error(t, yaml.Unmarshal([]byte("type: blob\n"), &doc))
}

func TestConvert(t *testing.T) {
	day := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		typ  Type
		in   any
		want any
	}{
		{"nil", String, nil, nil},
		{"bool t", Boolean, "t", true},
		{"bool f", Boolean, "f", false},
		{"bool int", Boolean, int64(1), true},
		{"bool bit", Boolean, []byte{0}, false},
		{"int from bytes", Integer, []byte("42"), int64(42)},
		{"int from int32", Integer, int32(7), int64(7)},
		{"float", Float, "1.5", 1.5},
		{"decimal canonical", Decimal, "12.50", "12.5"},
		{"decimal from float", Decimal, 3.25, "3.25"},
		{"date from string", Date, "2024-03-09", day},
		{"date truncates", Date, time.Date(2024, 3, 9, 17, 4, 0, 0, time.UTC), day},
		{"datetime", DateTime, "2024-03-09 10:11:12", time.Date(2024, 3, 9, 10, 11, 12, 0, time.UTC)},
		{"binary", Binary, "ab", []byte("ab")},
		{"json bytes", JSON, []byte(`{"a":1}`), `{"a":1}`},
		{"json map", JSON, map[string]int{"a": 1}, `{"a":1}`},
		{"string bytes", String, []byte("Pulp Fiction"), "Pulp Fiction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(tt.typ, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvertErrors(t *testing.T) {
	for _, tc := range []struct {
		typ Type
		in  any
	}{
		{Integer, "forty"},
		{Integer, 1.5},
		{Boolean, "maybe"},
		{Date, "yesterday"},
		{Decimal, "1,5"},
		{Binary, 12},
	} {
		_, err := Convert(tc.typ, tc.in)
		assert.Error(t, err, "%s %v", tc.typ, tc.in)
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		typ  Type
		a, b any
		want bool
	}{
		{"both nil", String, nil, nil, true},
		{"one nil", String, "x", nil, false},
		{"bool t vs true", Boolean, "t", true, true},
		{"bool f vs true", Boolean, "f", true, false},
		{"decimal scale", Decimal, "12.50", "12.5", true},
		{"decimal vs float", Decimal, 12.5, "12.50", true},
		{"integer kinds", Integer, int32(3), int64(3), true},
		{"integer differs", Integer, int64(3), int64(4), false},
		{"date vs string", Date, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), "2024-03-09", true},
		{"datetime zones", DateTime,
			time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC),
			time.Date(2024, 3, 9, 13, 0, 0, 0, time.FixedZone("CET", 3600)), true},
		{"binary", Binary, []byte{1, 2}, []byte{1, 2}, true},
		{"binary differs", Binary, []byte{1, 2}, []byte{1, 3}, false},
		{"string", String, "Pulp Fiction", []byte("Pulp Fiction"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.typ, tt.a, tt.b))
		})
	}
}
