package schema

import (
	"encoding/json"

	"github.com/jackc/pgx/v5"
)

// TableRef identifies a table within the active connection.
type TableRef struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

// FullName returns schema.name unquoted, for display and logs.
func (r TableRef) FullName() string {
	return r.Schema + "." + r.Name
}

// Sanitize returns the quoted, injection-safe form of the reference.
func (r TableRef) Sanitize() string {
	return pgx.Identifier{r.Schema, r.Name}.Sanitize()
}

func (r TableRef) String() string { return r.FullName() }

// MarshalJSON adds full_name alongside schema and name.
func (r TableRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Schema   string `json:"schema"`
		Name     string `json:"name"`
		FullName string `json:"full_name"`
	}{r.Schema, r.Name, r.FullName()})
}

// Family is the semantic type family of a column. Coercion rules are picked
// from the family alone.
type Family string

const (
	FamilyInteger  Family = "integer"
	FamilyNumeric  Family = "numeric"
	FamilyText     Family = "text"
	FamilyLongText Family = "long_text"
	FamilyBoolean  Family = "boolean"
	FamilyDatetime Family = "datetime"
	FamilyID       Family = "id"
	FamilyOther    Family = "other"
)

// ColumnMeta describes one column of a live table.
type ColumnMeta struct {
	Name         string  `json:"name"`
	DataType     Family  `json:"data_type"`
	NativeType   string  `json:"native_type"`
	IsNullable   bool    `json:"is_nullable"`
	HasDefault   bool    `json:"has_default"`
	Default      *string `json:"default"`
	IsAuto       bool    `json:"is_auto"`
	IsPrimaryKey bool    `json:"is_primary_key"`
	IsUnique     bool    `json:"is_unique"`
}

// Required reports whether an insert must supply a value for the column.
func (c ColumnMeta) Required() bool {
	return !c.IsNullable && !c.HasDefault && !c.IsAuto
}

// UniqueIndex is a unique index other than the primary key.
type UniqueIndex struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// TableMeta is the structural metadata of a table.
type TableMeta struct {
	Schema        string        `json:"schema"`
	Name          string        `json:"name"`
	PrimaryKey    []string      `json:"primary_key"`
	UniqueIndexes []UniqueIndex `json:"unique_indexes"`
	Columns       []ColumnMeta  `json:"columns"`
}

// Ref returns the table's reference.
func (m *TableMeta) Ref() TableRef {
	return TableRef{Schema: m.Schema, Name: m.Name}
}

// Column looks up a column by exact name.
func (m *TableMeta) Column(name string) (ColumnMeta, bool) {
	for _, c := range m.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnMeta{}, false
}

// ColumnNames returns the column names in table order.
func (m *TableMeta) ColumnNames() []string {
	names := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		names[i] = c.Name
	}
	return names
}

// HasPrimaryKey reports whether rows can be addressed by key.
func (m *TableMeta) HasPrimaryKey() bool {
	return len(m.PrimaryKey) > 0
}

// IsPrimaryKey reports whether name is one of the primary key columns.
func (m *TableMeta) IsPrimaryKey(name string) bool {
	for _, pk := range m.PrimaryKey {
		if pk == name {
			return true
		}
	}
	return false
}

// ColumnKind is the abstract column category used when creating tables.
type ColumnKind string

const (
	KindID       ColumnKind = "id"
	KindString   ColumnKind = "string"
	KindText     ColumnKind = "text"
	KindNumber   ColumnKind = "number"
	KindDatetime ColumnKind = "datetime"
	KindBoolean  ColumnKind = "boolean"
)

// NewTableColumnSpec describes a column of a table to be created.
type NewTableColumnSpec struct {
	Name       string     `json:"name"`
	Kind       ColumnKind `json:"kind"`
	Required   bool       `json:"required"`
	Unique     bool       `json:"unique"`
	PrimaryKey bool       `json:"primary_key"`
}
