package copyin

import (
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// Encoder is a bound, type-specific value encoder. Length validates the
// value and computes its encoded size, recording sub-lengths into the length
// cache as needed; Write emits the payload (without the length prefix,
// which the importer writes) consuming the cache in the same order.
type Encoder interface {
	Length(value any, lc *LengthCache) (int, error)
	Write(value any, wb *WriteBuffer, lc *LengthCache) error
}

// postgresEpoch is the zero point of binary timestamp and date encodings.
var postgresEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func toInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	}
	return 0, false
}

type int2Encoder struct{}

func (int2Encoder) Length(v any, _ *LengthCache) (int, error) {
	n, ok := toInt64(v)
	if !ok {
		return 0, fmt.Errorf("cannot encode %T as int2", v)
	}
	if n < math.MinInt16 || n > math.MaxInt16 {
		return 0, fmt.Errorf("%d overflows int2", n)
	}
	return 2, nil
}

func (int2Encoder) Write(v any, wb *WriteBuffer, _ *LengthCache) error {
	n, _ := toInt64(v)
	if err := wb.EnsureSpace(2); err != nil {
		return err
	}
	wb.WriteInt16(int16(n))
	return nil
}

type int4Encoder struct{}

func (int4Encoder) Length(v any, _ *LengthCache) (int, error) {
	n, ok := toInt64(v)
	if !ok {
		return 0, fmt.Errorf("cannot encode %T as int4", v)
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, fmt.Errorf("%d overflows int4", n)
	}
	return 4, nil
}

func (int4Encoder) Write(v any, wb *WriteBuffer, _ *LengthCache) error {
	n, _ := toInt64(v)
	if err := wb.EnsureSpace(4); err != nil {
		return err
	}
	wb.WriteInt32(int32(n))
	return nil
}

type int8Encoder struct{}

func (int8Encoder) Length(v any, _ *LengthCache) (int, error) {
	if _, ok := toInt64(v); !ok {
		return 0, fmt.Errorf("cannot encode %T as int8", v)
	}
	return 8, nil
}

func (int8Encoder) Write(v any, wb *WriteBuffer, _ *LengthCache) error {
	n, _ := toInt64(v)
	if err := wb.EnsureSpace(8); err != nil {
		return err
	}
	wb.WriteInt64(n)
	return nil
}

type float4Encoder struct{}

func (float4Encoder) Length(v any, _ *LengthCache) (int, error) {
	switch v.(type) {
	case float32:
		return 4, nil
	}
	return 0, fmt.Errorf("cannot encode %T as float4", v)
}

func (float4Encoder) Write(v any, wb *WriteBuffer, _ *LengthCache) error {
	if err := wb.EnsureSpace(4); err != nil {
		return err
	}
	wb.WriteInt32(int32(math.Float32bits(v.(float32))))
	return nil
}

type float8Encoder struct{}

func (float8Encoder) Length(v any, _ *LengthCache) (int, error) {
	switch v.(type) {
	case float64, float32:
		return 8, nil
	}
	return 0, fmt.Errorf("cannot encode %T as float8", v)
}

func (float8Encoder) Write(v any, wb *WriteBuffer, _ *LengthCache) error {
	var f float64
	switch v := v.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	}
	if err := wb.EnsureSpace(8); err != nil {
		return err
	}
	wb.WriteInt64(int64(math.Float64bits(f)))
	return nil
}

type boolEncoder struct{}

func (boolEncoder) Length(v any, _ *LengthCache) (int, error) {
	if _, ok := v.(bool); !ok {
		return 0, fmt.Errorf("cannot encode %T as bool", v)
	}
	return 1, nil
}

func (boolEncoder) Write(v any, wb *WriteBuffer, _ *LengthCache) error {
	if err := wb.EnsureSpace(1); err != nil {
		return err
	}
	if v.(bool) {
		wb.WriteByte(1)
	} else {
		wb.WriteByte(0)
	}
	return nil
}

// textEncoder covers text, varchar and bytea: the binary encoding of all
// three is the raw byte content.
type textEncoder struct{}

func (textEncoder) Length(v any, _ *LengthCache) (int, error) {
	switch v := v.(type) {
	case string:
		return len(v), nil
	case []byte:
		return len(v), nil
	}
	return 0, fmt.Errorf("cannot encode %T as text", v)
}

func (textEncoder) Write(v any, wb *WriteBuffer, _ *LengthCache) error {
	switch v := v.(type) {
	case string:
		return wb.WriteBytes([]byte(v))
	case []byte:
		return wb.WriteBytes(v)
	}
	return nil
}

func writeTimestampMicros(wb *WriteBuffer, t time.Time) error {
	micros := t.Unix()*1_000_000 + int64(t.Nanosecond())/1000
	micros -= postgresEpoch.Unix() * 1_000_000
	if err := wb.EnsureSpace(8); err != nil {
		return err
	}
	wb.WriteInt64(micros)
	return nil
}

// timestamptzEncoder encodes the absolute instant of a time.Time as
// microseconds since 2000-01-01 UTC.
type timestamptzEncoder struct{}

func (timestamptzEncoder) Length(v any, _ *LengthCache) (int, error) {
	if _, ok := v.(time.Time); !ok {
		return 0, fmt.Errorf("cannot encode %T as timestamptz", v)
	}
	return 8, nil
}

func (timestamptzEncoder) Write(v any, wb *WriteBuffer, _ *LengthCache) error {
	return writeTimestampMicros(wb, v.(time.Time))
}

// timestampEncoder encodes time.Time for timestamp without time zone: the
// value's wall-clock reading with the zone discarded, as microseconds since
// 2000-01-01.
type timestampEncoder struct{}

func (timestampEncoder) Length(v any, _ *LengthCache) (int, error) {
	if _, ok := v.(time.Time); !ok {
		return 0, fmt.Errorf("cannot encode %T as timestamp", v)
	}
	return 8, nil
}

func (timestampEncoder) Write(v any, wb *WriteBuffer, _ *LengthCache) error {
	t := v.(time.Time)
	wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	return writeTimestampMicros(wb, wall)
}

// dateEncoder encodes time.Time as days since 2000-01-01, using the value's
// wall-clock date with the zone discarded.
type dateEncoder struct{}

func (dateEncoder) Length(v any, _ *LengthCache) (int, error) {
	if _, ok := v.(time.Time); !ok {
		return 0, fmt.Errorf("cannot encode %T as date", v)
	}
	return 4, nil
}

func (dateEncoder) Write(v any, wb *WriteBuffer, _ *LengthCache) error {
	t := v.(time.Time)
	wall := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	days := int32(wall.Sub(postgresEpoch) / (24 * time.Hour))
	if err := wb.EnsureSpace(4); err != nil {
		return err
	}
	wb.WriteInt32(days)
	return nil
}

// mapEncoder is the fallback for any type without a native encoder: it
// renders the value through the pgtype registry during the length phase and
// replays the rendered bytes during the write phase.
type mapEncoder struct {
	m       *pgtype.Map
	oid     uint32
	scratch []byte
}

func (e *mapEncoder) Length(v any, lc *LengthCache) (int, error) {
	out, err := e.m.Encode(e.oid, pgtype.BinaryFormatCode, v, e.scratch[:0])
	if err != nil {
		return 0, err
	}
	if out == nil {
		return 0, fmt.Errorf("%T encodes to NULL, use WriteNull", v)
	}
	e.scratch = out
	return lc.Add(len(out)), nil
}

func (e *mapEncoder) Write(v any, wb *WriteBuffer, lc *LengthCache) error {
	n := lc.Get()
	return wb.WriteBytes(e.scratch[:n])
}

// encoderForOID picks the native encoder for well-known scalar OIDs and
// falls back to the pgtype registry for everything else.
func encoderForOID(oid uint32, m *pgtype.Map) Encoder {
	switch oid {
	case pgtype.Int2OID:
		return int2Encoder{}
	case pgtype.Int4OID:
		return int4Encoder{}
	case pgtype.Int8OID:
		return int8Encoder{}
	case pgtype.Float4OID:
		return float4Encoder{}
	case pgtype.Float8OID:
		return float8Encoder{}
	case pgtype.BoolOID:
		return boolEncoder{}
	case pgtype.TextOID, pgtype.VarcharOID, pgtype.ByteaOID:
		return textEncoder{}
	case pgtype.TimestampOID:
		return timestampEncoder{}
	case pgtype.TimestamptzOID:
		return timestamptzEncoder{}
	case pgtype.DateOID:
		return dateEncoder{}
	}
	return &mapEncoder{m: m, oid: oid}
}
