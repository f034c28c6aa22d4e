// Package coerce turns free-form request values into typed query parameters
// according to the family of the target column.
package coerce

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/tablebrowser/internal/dberr"
	"github.com/JonMunkholm/tablebrowser/internal/schema"
)

// Mode tells Coerce which write the value is for.
type Mode int

const (
	Insert Mode = iota
	Update
)

// Policy holds the configurable coercion choices.
type Policy struct {
	// LenientBooleans accepts any unrecognized boolean input as false
	// instead of rejecting it.
	LenientBooleans bool
}

var (
	trueWords  = []string{"true", "1", "yes"}
	falseWords = []string{"false", "0", "no"}

	plainDecimal = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)$`)
)

// Coerce converts raw into the parameter sent for col. omit reports that the
// field should be left out of the statement entirely. Values that do not
// parse for numeric families are returned unchanged so the store rejects
// them instead of them turning into zero.
func Coerce(col schema.ColumnMeta, raw any, mode Mode, policy Policy) (value any, omit bool, err error) {
	if raw == nil {
		return nil, false, nil
	}

	if s, ok := raw.(string); ok && s == "" {
		switch mode {
		case Insert:
			if col.IsAuto || (col.IsNullable && !col.HasDefault) {
				return nil, true, nil
			}
			if col.HasDefault && !isTextual(col.DataType) {
				return nil, true, nil
			}
		case Update:
			if col.IsNullable && !isTextual(col.DataType) {
				return nil, false, nil
			}
		}
	}

	switch col.DataType {
	case schema.FamilyInteger:
		return coerceInteger(raw), false, nil
	case schema.FamilyNumeric:
		return coerceNumeric(raw), false, nil
	case schema.FamilyBoolean:
		v, err := coerceBoolean(col, raw, policy)
		return v, false, err
	case schema.FamilyText, schema.FamilyLongText:
		return coerceText(col, raw), false, nil
	default:
		return passThrough(raw), false, nil
	}
}

func isTextual(f schema.Family) bool {
	return f == schema.FamilyText || f == schema.FamilyLongText
}

func coerceInteger(raw any) any {
	switch v := raw.(type) {
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		return v.String()
	case float64:
		if v == math.Trunc(v) && v >= math.MinInt64 && v < math.MaxInt64 {
			return int64(v)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return int64(v)
	case int64:
		return v
	}
	return passThrough(raw)
}

func coerceNumeric(raw any) any {
	var s string
	switch v := raw.(type) {
	case string:
		s = strings.TrimSpace(v)
	case json.Number:
		s = v.String()
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return passThrough(raw)
	}
	if !plainDecimal.MatchString(s) {
		// Exponents, NaN and Infinity are left to the server's numeric input.
		return passThrough(raw)
	}
	var n pgtype.Numeric
	if err := n.Scan(strings.TrimPrefix(s, "+")); err != nil {
		return passThrough(raw)
	}
	return n
}

func coerceBoolean(col schema.ColumnMeta, raw any, policy Policy) (any, error) {
	var s string
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		s = v
	case json.Number:
		s = v.String()
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		s = ""
	}
	word := strings.ToLower(strings.TrimSpace(s))
	for _, w := range trueWords {
		if word == w {
			return true, nil
		}
	}
	if policy.LenientBooleans {
		return false, nil
	}
	for _, w := range falseWords {
		if word == w {
			return false, nil
		}
	}
	return nil, dberr.Validationf("column %q expects a boolean (true/false, 1/0, yes/no), got %q", col.Name, s)
}

func coerceText(col schema.ColumnMeta, raw any) any {
	switch v := raw.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case map[string]any, []any:
		// Structured input is only meaningful for json columns; pgx encodes it.
		if col.NativeType == "json" || col.NativeType == "jsonb" {
			return v
		}
		b, err := json.Marshal(v)
		if err != nil {
			return raw
		}
		return string(b)
	}
	return raw
}

// passThrough leaves validation to the store. JSON numbers travel as their
// literal text.
func passThrough(raw any) any {
	if n, ok := raw.(json.Number); ok {
		return n.String()
	}
	return raw
}

// Values coerces a column-to-value mapping against meta. Unknown columns are
// rejected; omitted fields are left out of the result.
func Values(meta *schema.TableMeta, in map[string]any, mode Mode, policy Policy) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for name, raw := range in {
		col, ok := meta.Column(name)
		if !ok {
			return nil, dberr.Validationf("unknown column %q in %s", name, meta.Ref().FullName())
		}
		v, omit, err := Coerce(col, raw, mode, policy)
		if err != nil {
			return nil, err
		}
		if omit {
			continue
		}
		out[name] = v
	}
	return out, nil
}
