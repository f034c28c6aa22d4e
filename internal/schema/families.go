package schema

import "strings"

// ClassifyType derives the column family from the data_type and udt_name
// reported by information_schema.columns.
func ClassifyType(dataType, udtName string) Family {
	dt := strings.ToLower(strings.TrimSpace(dataType))
	switch dt {
	case "smallint", "integer", "bigint", "int2", "int4", "int8":
		return FamilyInteger
	case "numeric", "decimal", "real", "double precision", "float4", "float8":
		return FamilyNumeric
	case "character varying", "varchar", "character", "char", "bpchar":
		return FamilyText
	case "text", "json", "jsonb", "xml":
		return FamilyLongText
	case "boolean", "bool":
		return FamilyBoolean
	case "date", "time", "timetz", "timestamp", "timestamptz":
		return FamilyDatetime
	case "uuid":
		return FamilyID
	case "user-defined":
		if strings.EqualFold(udtName, "citext") {
			return FamilyText
		}
		return FamilyOther
	}
	if strings.HasPrefix(dt, "timestamp ") || strings.HasPrefix(dt, "time ") {
		return FamilyDatetime
	}
	return FamilyOther
}

// nativeType is the type name shown to operators. Arrays and user-defined
// types report a generic data_type, so their udt_name is used instead.
func nativeType(dataType, udtName string) string {
	switch strings.ToUpper(dataType) {
	case "ARRAY", "USER-DEFINED":
		if udtName != "" {
			return udtName
		}
	}
	return dataType
}
