package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tablebrowser/internal/dberr"
)

func TestValidIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"simple", "users", true},
		{"underscore start", "_tmp", true},
		{"mixed case", "UserEvents", true},
		{"digits", "t2024", true},
		{"empty", "", false},
		{"leading digit", "1users", false},
		{"space", "user events", false},
		{"dash", "user-events", false},
		{"quote", `users"; drop table x; --`, false},
		{"unicode", "usérs", false},
		{"max length", string(make63()), true},
		{"too long", string(make63()) + "a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidIdentifier(tt.input))
		})
	}
}

func make63() []byte {
	b := make([]byte, MaxIdentifierLength)
	for i := range b {
		b[i] = 'a'
	}
	return b
}

func TestValidRefName(t *testing.T) {
	assert.True(t, ValidRefName("Weird Name"))
	assert.False(t, ValidRefName(""))
	assert.False(t, ValidRefName("a\x00b"))
}

func TestParseRef(t *testing.T) {
	ref, err := ParseRef("audit.log")
	require.NoError(t, err)
	assert.Equal(t, TableRef{Schema: "audit", Name: "log"}, ref)

	ref, err = ParseRef("users")
	require.NoError(t, err)
	assert.Equal(t, TableRef{Schema: DefaultSchema, Name: "users"}, ref)

	ref, err = ParseRef("public.with.dot")
	require.NoError(t, err)
	assert.Equal(t, "with.dot", ref.Name)

	for _, bad := range []string{"", ".users", "public.", "a\x00b"} {
		_, err := ParseRef(bad)
		assert.True(t, dberr.Is(err, dberr.Validation), bad)
	}
}

func TestBuildCreateTableDDL(t *testing.T) {
	ref := TableRef{Schema: "public", Name: "users"}

	tests := []struct {
		name string
		cols []NewTableColumnSpec
		want string
	}{
		{
			name: "id column becomes bigserial primary key",
			cols: []NewTableColumnSpec{
				{Name: "id", Kind: KindID},
				{Name: "email", Kind: KindString, Required: true, Unique: true},
				{Name: "bio", Kind: KindText},
			},
			want: `CREATE TABLE "public"."users" ("id" bigserial PRIMARY KEY, "email" varchar(255) NOT NULL UNIQUE, "bio" text)`,
		},
		{
			name: "composite primary key",
			cols: []NewTableColumnSpec{
				{Name: "tenant", Kind: KindString, PrimaryKey: true},
				{Name: "code", Kind: KindNumber, PrimaryKey: true},
				{Name: "active", Kind: KindBoolean},
			},
			want: `CREATE TABLE "public"."users" ("tenant" varchar(255), "code" numeric, "active" boolean, PRIMARY KEY ("tenant", "code"))`,
		},
		{
			name: "sole primary key drops redundant unique",
			cols: []NewTableColumnSpec{
				{Name: "code", Kind: KindString, PrimaryKey: true, Unique: true},
				{Name: "at", Kind: KindDatetime, Required: true},
			},
			want: `CREATE TABLE "public"."users" ("code" varchar(255), "at" timestamptz NOT NULL, PRIMARY KEY ("code"))`,
		},
		{
			name: "no primary key",
			cols: []NewTableColumnSpec{{Name: "note", Kind: KindText}},
			want: `CREATE TABLE "public"."users" ("note" text)`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildCreateTableDDL(ref, tt.cols)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildCreateTableDDL_Rejects(t *testing.T) {
	tests := []struct {
		name string
		ref  TableRef
		cols []NewTableColumnSpec
		msg  string
	}{
		{"no columns", TableRef{"public", "t"}, nil, "at least one column"},
		{"bad table name", TableRef{"public", "my table"}, []NewTableColumnSpec{{Name: "a", Kind: KindText}}, "invalid table name"},
		{"bad schema name", TableRef{"pub lic", "t"}, []NewTableColumnSpec{{Name: "a", Kind: KindText}}, "invalid schema name"},
		{"bad column name", TableRef{"public", "t"}, []NewTableColumnSpec{{Name: "9a", Kind: KindText}}, "invalid column name"},
		{"duplicate column", TableRef{"public", "t"}, []NewTableColumnSpec{{Name: "a", Kind: KindText}, {Name: "a", Kind: KindText}}, "duplicate column"},
		{"unknown kind", TableRef{"public", "t"}, []NewTableColumnSpec{{Name: "a", Kind: "blob"}}, "unsupported column kind"},
		{"two id columns", TableRef{"public", "t"}, []NewTableColumnSpec{{Name: "a", Kind: KindID}, {Name: "b", Kind: KindID}}, "only one id column"},
		{"id plus pk flag", TableRef{"public", "t"}, []NewTableColumnSpec{{Name: "a", Kind: KindID}, {Name: "b", Kind: KindText, PrimaryKey: true}}, "cannot also be part"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildCreateTableDDL(tt.ref, tt.cols)
			require.Error(t, err)
			assert.True(t, dberr.Is(err, dberr.Validation))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestBuildDropTableDDL(t *testing.T) {
	got, err := BuildDropTableDDL(TableRef{Schema: "public", Name: `we"ird`})
	require.NoError(t, err)
	assert.Equal(t, `DROP TABLE "public"."we""ird"`, got)

	_, err = BuildDropTableDDL(TableRef{Schema: "", Name: "t"})
	assert.True(t, dberr.Is(err, dberr.Validation))
}

func TestKindsCoverEveryKind(t *testing.T) {
	for _, k := range []ColumnKind{KindID, KindString, KindText, KindNumber, KindDatetime, KindBoolean} {
		info, ok := kindsMap[k]
		require.True(t, ok, "kind %s missing", k)
		assert.NotEmpty(t, info.SQLType)
	}
	assert.Len(t, Kinds, 6)
}
