package rows

import (
	"encoding/json"
	"math/big"
	"net/netip"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromPG(t *testing.T) {
	ts := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		oid  uint32
		want string
	}{
		{"null", nil, 0, `null`},
		{"bool", true, pgtype.BoolOID, `true`},
		{"int2", int16(7), pgtype.Int2OID, `7`},
		{"int4", int32(-3), pgtype.Int4OID, `-3`},
		{"int8", int64(9007199254740993), pgtype.Int8OID, `9007199254740993`},
		{"float8", 1.5, pgtype.Float8OID, `1.5`},
		{"text", "a@x.com", pgtype.TextOID, `"a@x.com"`},
		{"timestamptz", ts, pgtype.TimestamptzOID, `"2025-03-04T05:06:07Z"`},
		{"date", ts.Truncate(24 * time.Hour), pgtype.DateOID, `"2025-03-04"`},
		{"uuid", [16]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0}, pgtype.UUIDOID, `"12345678-9abc-def0-1234-56789abcdef0"`},
		{"bytea", []byte{0xde, 0xad}, pgtype.ByteaOID, `"\\xdead"`},
		{"jsonb", map[string]any{"a": float64(1)}, pgtype.JSONBOID, `"{\"a\":1}"`},
		{"inet", netip.MustParsePrefix("10.0.0.0/8"), pgtype.InetOID, `"10.0.0.0/8"`},
		{"numeric", pgtype.Numeric{Int: big.NewInt(1250), Exp: -2, Valid: true}, pgtype.NumericOID, `12.50`},
		{"numeric nan", pgtype.Numeric{NaN: true, Valid: true}, pgtype.NumericOID, `"NaN"`},
		{"numeric null", pgtype.Numeric{}, pgtype.NumericOID, `null`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(FromPG(tt.in, tt.oid))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(b))
		})
	}
}

func TestFromPG_Kinds(t *testing.T) {
	assert.Equal(t, KindInt, FromPG(int32(1), pgtype.Int4OID).Kind)
	assert.Equal(t, KindFloat, FromPG(pgtype.Numeric{Int: big.NewInt(5), Valid: true}, pgtype.NumericOID).Kind)
	assert.Equal(t, KindTimestamp, FromPG(time.Now(), pgtype.TimestampOID).Kind)
	assert.Equal(t, int64(30), FromPG(int64(30), pgtype.Int8OID).Interface())
	assert.Nil(t, Null().Interface())
}

func TestNumericLiteral(t *testing.T) {
	tests := []struct {
		i    int64
		exp  int32
		want string
	}{
		{1250, -2, "12.50"},
		{5, -3, "0.005"},
		{-5, -1, "-0.5"},
		{12, 2, "1200"},
		{0, 0, "0"},
		{123, 0, "123"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, numericLiteral(big.NewInt(tt.i), tt.exp))
	}
}

func TestRecord_JSON(t *testing.T) {
	rec := Record{"id": Int(1), "email": Text("a@x.com"), "age": Null()}
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"email":"a@x.com","age":null}`, string(b))
}
