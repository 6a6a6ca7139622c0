package schema

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// ArrowType is the column type a field's canonical values are stored as.
func ArrowType(t FieldType) arrow.DataType {
	switch t {
	case Integer, ObjectID:
		return arrow.PrimitiveTypes.Int64
	case Float:
		return arrow.PrimitiveTypes.Float64
	case Date:
		return arrow.FixedWidthTypes.Timestamp_ms
	case Geometry:
		return arrow.BinaryTypes.Binary
	}
	return arrow.BinaryTypes.String
}

// ArrowFields maps every schema field, in order, to a nullable arrow field.
func (s *Schema) ArrowFields() []arrow.Field {
	out := make([]arrow.Field, 0, len(s.fields))
	for _, f := range s.fields {
		out = append(out, arrow.Field{Name: f.Name, Type: ArrowType(f.Type), Nullable: true})
	}
	return out
}

// AppendValue appends a canonical value (see Coerce) to b. nil appends null.
func AppendValue(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch bb := b.(type) {
	case *array.StringBuilder:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: %T in string column", ErrTypeMismatch, v)
		}
		bb.Append(s)
	case *array.Int64Builder:
		i, ok := v.(int64)
		if !ok {
			return fmt.Errorf("%w: %T in integer column", ErrTypeMismatch, v)
		}
		bb.Append(i)
	case *array.Float64Builder:
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("%w: %T in float column", ErrTypeMismatch, v)
		}
		bb.Append(f)
	case *array.TimestampBuilder:
		t, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("%w: %T in date column", ErrTypeMismatch, v)
		}
		bb.Append(arrow.Timestamp(t.UnixMilli()))
	case *array.BinaryBuilder:
		raw, ok := v.([]byte)
		if !ok {
			return fmt.Errorf("%w: %T in binary column", ErrTypeMismatch, v)
		}
		bb.Append(raw)
	default:
		return fmt.Errorf("unsupported builder %T", b)
	}
	return nil
}

// ValueAt reads row i of arr back into its canonical Go value.
func ValueAt(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}
	switch a := arr.(type) {
	case *array.String:
		return a.Value(i)
	case *array.Int64:
		return a.Value(i)
	case *array.Float64:
		return a.Value(i)
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit).UTC()
	case *array.Binary:
		raw := a.Value(i)
		out := make([]byte, len(raw))
		copy(out, raw)
		return out
	}
	return nil
}
