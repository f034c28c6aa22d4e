package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyType(t *testing.T) {
	tests := []struct {
		dataType string
		udtName  string
		want     Family
	}{
		{"smallint", "int2", FamilyInteger},
		{"integer", "int4", FamilyInteger},
		{"bigint", "int8", FamilyInteger},
		{"numeric", "numeric", FamilyNumeric},
		{"real", "float4", FamilyNumeric},
		{"double precision", "float8", FamilyNumeric},
		{"character varying", "varchar", FamilyText},
		{"character", "bpchar", FamilyText},
		{"USER-DEFINED", "citext", FamilyText},
		{"text", "text", FamilyLongText},
		{"jsonb", "jsonb", FamilyLongText},
		{"json", "json", FamilyLongText},
		{"xml", "xml", FamilyLongText},
		{"boolean", "bool", FamilyBoolean},
		{"date", "date", FamilyDatetime},
		{"timestamp without time zone", "timestamp", FamilyDatetime},
		{"timestamp with time zone", "timestamptz", FamilyDatetime},
		{"time without time zone", "time", FamilyDatetime},
		{"uuid", "uuid", FamilyID},
		{"ARRAY", "_int4", FamilyOther},
		{"bytea", "bytea", FamilyOther},
		{"interval", "interval", FamilyOther},
		{"USER-DEFINED", "mood", FamilyOther},
	}
	for _, tt := range tests {
		t.Run(tt.dataType+"/"+tt.udtName, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyType(tt.dataType, tt.udtName))
		})
	}
}

func TestNativeType(t *testing.T) {
	assert.Equal(t, "_int4", nativeType("ARRAY", "_int4"))
	assert.Equal(t, "citext", nativeType("USER-DEFINED", "citext"))
	assert.Equal(t, "integer", nativeType("integer", "int4"))
}
