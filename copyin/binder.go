package copyin

import (
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// TypeHint is an explicit per-write type override, by OID or by name.
type TypeHint struct {
	oid  uint32
	name string
}

// WithOID pins a column to the type with the given OID.
func WithOID(oid uint32) TypeHint {
	return TypeHint{oid: oid}
}

// WithTypeName pins a column to the named type, e.g. "int8" or "timestamptz".
func WithTypeName(name string) TypeHint {
	return TypeHint{name: name}
}

// columnSlot is the per-column binding state, created on first write to the
// column and reused across rows.
type columnSlot struct {
	enc    Encoder
	oid    uint32
	pinned bool // bound through an explicit override
	lc     LengthCache
}

// binder resolves a value plus an optional type hint into a bound encoder,
// memoized in the column slot. Resolution order: explicit OID hint, the
// slot's existing binding, explicit named-type hint, inference from the
// value's runtime type.
type binder struct {
	m *pgtype.Map
}

func newBinder() *binder {
	return &binder{m: pgtype.NewMap()}
}

func (b *binder) resolve(slot *columnSlot, col int, v any, hint TypeHint) (Encoder, error) {
	hintOID := hint.oid
	if hintOID == 0 && hint.name != "" {
		t, ok := b.m.TypeForName(strings.ToLower(hint.name))
		if !ok {
			return nil, fmt.Errorf("copyin: unknown type name %q for column %d", hint.name, col)
		}
		hintOID = t.OID
	}

	if hintOID != 0 {
		if slot.enc != nil {
			if slot.oid == hintOID {
				slot.pinned = true
				return slot.enc, nil
			}
			if slot.pinned {
				return nil, &TypeConflictError{Column: col, Bound: slot.oid, Given: hintOID}
			}
			// The earlier binding was inferred; an explicit hint tightens it.
		}
		b.bind(slot, hintOID, true)
		return slot.enc, nil
	}

	if slot.enc != nil {
		return slot.enc, nil
	}

	oid, err := b.inferOID(v)
	if err != nil {
		return nil, fmt.Errorf("copyin: column %d: %w", col, err)
	}
	b.bind(slot, oid, false)
	return slot.enc, nil
}

// rebind re-infers an unpinned column whose bound encoder rejected the
// current value. Reports whether the binding changed.
func (b *binder) rebind(slot *columnSlot, v any) bool {
	if slot.pinned {
		return false
	}
	oid, err := b.inferOID(v)
	if err != nil || oid == slot.oid {
		return false
	}
	b.bind(slot, oid, false)
	return true
}

func (b *binder) bind(slot *columnSlot, oid uint32, pinned bool) {
	slot.oid = oid
	slot.pinned = pinned
	slot.enc = encoderForOID(oid, b.m)
}

func (b *binder) inferOID(v any) (uint32, error) {
	switch v.(type) {
	case int8, int16, uint8:
		return pgtype.Int2OID, nil
	case int32, uint16:
		return pgtype.Int4OID, nil
	case int, int64, uint, uint32, uint64:
		return pgtype.Int8OID, nil
	case float32:
		return pgtype.Float4OID, nil
	case float64:
		return pgtype.Float8OID, nil
	case bool:
		return pgtype.BoolOID, nil
	case string:
		return pgtype.TextOID, nil
	case []byte:
		return pgtype.ByteaOID, nil
	case time.Time:
		return pgtype.TimestamptzOID, nil
	}
	if t, ok := b.m.TypeForValue(v); ok {
		return t.OID, nil
	}
	return 0, fmt.Errorf("cannot infer a type for %T, supply a type hint", v)
}
