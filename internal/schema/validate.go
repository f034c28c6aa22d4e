package schema

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/tablebrowser/internal/dberr"
)

// KindInfo describes a column kind and the type it is created as.
type KindInfo struct {
	Kind        ColumnKind `json:"kind"`
	SQLType     string     `json:"sql_type"`
	Family      Family     `json:"family"`
	Description string     `json:"description"`
}

// Kinds is the canonical list of column kinds accepted by CreateTable.
// Frontends fetch this via the API to stay in sync.
var Kinds = []KindInfo{
	{Kind: KindID, SQLType: "bigserial", Family: FamilyInteger, Description: "Auto-increment 64-bit primary key"},
	{Kind: KindString, SQLType: "varchar(255)", Family: FamilyText, Description: "Short text, up to 255 characters"},
	{Kind: KindText, SQLType: "text", Family: FamilyLongText, Description: "Unlimited text"},
	{Kind: KindNumber, SQLType: "numeric", Family: FamilyNumeric, Description: "Exact decimal number"},
	{Kind: KindDatetime, SQLType: "timestamptz", Family: FamilyDatetime, Description: "Timestamp with time zone"},
	{Kind: KindBoolean, SQLType: "boolean", Family: FamilyBoolean, Description: "true/false"},
}

var kindsMap = buildKindsMap()

func buildKindsMap() map[ColumnKind]KindInfo {
	m := make(map[ColumnKind]KindInfo, len(Kinds))
	for _, k := range Kinds {
		m[k.Kind] = k
	}
	return m
}

// MaxIdentifierLength is PostgreSQL's NAMEDATALEN - 1.
const MaxIdentifierLength = 63

// ValidIdentifier checks if a name is a valid SQL identifier: ASCII letters,
// digits and underscores, starting with a letter or underscore.
func ValidIdentifier(name string) bool {
	if name == "" || len(name) > MaxIdentifierLength {
		return false
	}
	for i, r := range name {
		letter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
		if i == 0 {
			if !letter {
				return false
			}
		} else if !letter && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// ValidRefName checks a schema or table name taken from a request for an
// existing table. Any name PostgreSQL could hold is accepted; quoting makes
// it safe.
func ValidRefName(name string) bool {
	return name != "" && len(name) <= MaxIdentifierLength && !strings.ContainsRune(name, 0)
}

// ParseRef parses "schema.table" or a bare table name in DefaultSchema.
func ParseRef(s string) (TableRef, error) {
	ref := TableRef{Schema: DefaultSchema, Name: s}
	if sch, name, ok := strings.Cut(s, "."); ok {
		ref = TableRef{Schema: sch, Name: name}
	}
	if !ValidRefName(ref.Schema) || !ValidRefName(ref.Name) {
		return TableRef{}, dberr.Validationf("invalid table reference %q", s)
	}
	return ref, nil
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// BuildCreateTableDDL constructs a CREATE TABLE statement safely.
// An id column becomes a bigserial primary key; without one, the columns
// flagged primary_key form the (possibly composite) key.
func BuildCreateTableDDL(ref TableRef, cols []NewTableColumnSpec) (string, error) {
	if !ValidIdentifier(ref.Schema) {
		return "", dberr.Validationf("invalid schema name %q", ref.Schema)
	}
	if !ValidIdentifier(ref.Name) {
		return "", dberr.Validationf("invalid table name %q: must be letters, numbers, underscores, and start with letter or underscore", ref.Name)
	}
	if len(cols) == 0 {
		return "", dberr.Validationf("a table needs at least one column")
	}

	seen := make(map[string]bool, len(cols))
	var idCol string
	var pkCols []string
	for _, c := range cols {
		if !ValidIdentifier(c.Name) {
			return "", dberr.Validationf("invalid column name %q: must be letters, numbers, underscores, and start with letter or underscore", c.Name)
		}
		if seen[c.Name] {
			return "", dberr.Validationf("duplicate column name %q", c.Name)
		}
		seen[c.Name] = true

		if _, ok := kindsMap[c.Kind]; !ok {
			return "", dberr.Validationf("unsupported column kind %q for column %q", c.Kind, c.Name)
		}
		if c.Kind == KindID {
			if idCol != "" {
				return "", dberr.Validationf("only one id column is allowed, got %q and %q", idCol, c.Name)
			}
			idCol = c.Name
			continue
		}
		if c.PrimaryKey {
			pkCols = append(pkCols, c.Name)
		}
	}
	if idCol != "" && len(pkCols) > 0 {
		return "", dberr.Validationf("id column %q is the primary key; %s cannot also be part of it", idCol, strings.Join(pkCols, ", "))
	}

	defs := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		defs = append(defs, columnDef(c, len(pkCols) == 1 && pkCols[0] == c.Name))
	}
	if len(pkCols) > 0 {
		quoted := make([]string, len(pkCols))
		for i, name := range pkCols {
			quoted[i] = quoteIdent(name)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(quoted, ", ")+")")
	}

	return fmt.Sprintf("CREATE TABLE %s (%s)", ref.Sanitize(), strings.Join(defs, ", ")), nil
}

func columnDef(c NewTableColumnSpec, solePK bool) string {
	parts := []string{quoteIdent(c.Name), kindsMap[c.Kind].SQLType}
	if c.Kind == KindID {
		return strings.Join(append(parts, "PRIMARY KEY"), " ")
	}
	if c.Required {
		parts = append(parts, "NOT NULL")
	}
	if c.Unique && !solePK { // PK is already unique
		parts = append(parts, "UNIQUE")
	}
	return strings.Join(parts, " ")
}

// BuildDropTableDDL constructs a DROP TABLE statement. Dependent objects
// make the statement fail rather than cascade.
func BuildDropTableDDL(ref TableRef) (string, error) {
	if !ValidRefName(ref.Schema) || !ValidRefName(ref.Name) {
		return "", dberr.Validationf("invalid table reference %q", ref.FullName())
	}
	return "DROP TABLE " + ref.Sanitize(), nil
}
