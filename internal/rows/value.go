// Package rows serves paginated reads and primary-key addressed writes for
// tables described by schema.TableMeta.
package rows

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindText
	KindTimestamp
)

// Value is one cell of a row. Only the field matching Kind is meaningful.
type Value struct {
	Kind  ValueKind
	Bool  bool
	Int   int64
	Float float64
	Text  string
	Time  time.Time

	// exact holds the decimal literal of a numeric column so it is
	// rendered without float rounding.
	exact string
	// dateOnly renders a timestamp as a calendar date.
	dateOnly bool
}

func Null() Value                 { return Value{Kind: KindNull} }
func Bool(b bool) Value           { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value           { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value       { return Value{Kind: KindFloat, Float: f} }
func Text(s string) Value         { return Value{Kind: KindText, Text: s} }
func Timestamp(t time.Time) Value { return Value{Kind: KindTimestamp, Time: t} }

// Interface returns the Go value held, nil for Null.
func (v Value) Interface() any {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindText:
		return v.Text
	case KindTimestamp:
		return v.Time
	}
	return nil
}

// MarshalJSON encodes the value as its natural JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindBool:
		return strconv.AppendBool(nil, v.Bool), nil
	case KindInt:
		return strconv.AppendInt(nil, v.Int, 10), nil
	case KindFloat:
		if v.exact != "" {
			return []byte(v.exact), nil
		}
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return json.Marshal(strconv.FormatFloat(v.Float, 'g', -1, 64))
		}
		return json.Marshal(v.Float)
	case KindText:
		return json.Marshal(v.Text)
	case KindTimestamp:
		if v.dateOnly {
			return json.Marshal(v.Time.Format(time.DateOnly))
		}
		return json.Marshal(v.Time.Format(time.RFC3339Nano))
	}
	return []byte("null"), nil
}

// Record maps column names to values.
type Record map[string]Value

// Page is one slice of a table's rows.
type Page struct {
	Total   int64    `json:"total"`
	Columns []string `json:"columns"`
	Rows    []Record `json:"rows"`
}

// FromPG converts a value decoded by pgx into a Value. oid is the type of
// the result column.
func FromPG(v any, oid uint32) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(x)
	case int16:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case int:
		return Int(int64(x))
	case float32:
		return Float(float64(x))
	case float64:
		return Float(x)
	case string:
		return Text(x)
	case time.Time:
		t := Timestamp(x)
		t.dateOnly = oid == pgtype.DateOID
		return t
	case pgtype.Numeric:
		return fromNumeric(x)
	case [16]byte:
		return Text(formatUUID(x))
	case []byte:
		return Text(`\x` + hex.EncodeToString(x))
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return Text(fmt.Sprint(x))
		}
		return Text(string(b))
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil || dv == nil {
			return Null()
		}
		if s, ok := dv.(string); ok {
			return Text(s)
		}
		return FromPG(dv, oid)
	case fmt.Stringer:
		return Text(x.String())
	}
	return Text(fmt.Sprint(v))
}

func fromNumeric(n pgtype.Numeric) Value {
	switch {
	case !n.Valid:
		return Null()
	case n.NaN:
		return Text("NaN")
	case n.InfinityModifier == pgtype.Infinity:
		return Text("Infinity")
	case n.InfinityModifier == pgtype.NegativeInfinity:
		return Text("-Infinity")
	}
	lit := numericLiteral(n.Int, n.Exp)
	f, _ := strconv.ParseFloat(lit, 64)
	return Value{Kind: KindFloat, Float: f, exact: lit}
}

// numericLiteral renders i * 10^exp in plain decimal notation.
func numericLiteral(i *big.Int, exp int32) string {
	if i == nil {
		return "0"
	}
	digits := i.String()
	neg := strings.HasPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "-")

	switch {
	case exp > 0:
		digits += strings.Repeat("0", int(exp))
	case exp < 0:
		scale := int(-exp)
		if len(digits) <= scale {
			digits = strings.Repeat("0", scale-len(digits)+1) + digits
		}
		digits = digits[:len(digits)-scale] + "." + digits[len(digits)-scale:]
	}
	if neg {
		return "-" + digits
	}
	return digits
}

func formatUUID(u [16]byte) string {
	var buf [36]byte
	hex.Encode(buf[0:8], u[0:4])
	buf[8] = '-'
	hex.Encode(buf[9:13], u[4:6])
	buf[13] = '-'
	hex.Encode(buf[14:18], u[6:8])
	buf[18] = '-'
	hex.Encode(buf[19:23], u[8:10])
	buf[23] = '-'
	hex.Encode(buf[24:], u[10:])
	return string(buf[:])
}
