package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

var ErrTypeMismatch = errors.New("schema: value does not fit field type")

type Attribute struct {
	Name  string
	Value any
}

// Attributes keeps the producer's order, which becomes the field order of an
// inferred schema.
type Attributes []Attribute

// Attrs builds attributes from alternating names and values.
func Attrs(kv ...any) Attributes {
	out := make(Attributes, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		name, _ := kv[i].(string)
		out = append(out, Attribute{Name: name, Value: kv[i+1]})
	}
	return out
}

func (a Attributes) Get(name string) (any, bool) {
	for _, attr := range a {
		if attr.Name == name {
			return attr.Value, true
		}
	}
	return nil, false
}

// Infer derives a schema from attribute names and value types. Every inferred
// field is nullable.
func Infer(attrs Attributes) (*Schema, error) {
	fields := make([]Field, 0, len(attrs))
	for _, a := range attrs {
		fields = append(fields, Field{
			Name:     a.Name,
			Type:     InferType(a.Value),
			Nullable: true,
		})
	}
	return New("", fields...)
}

// InferType maps a Go value to the logical field type that stores it.
func InferType(v any) FieldType {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, bool:
		return Integer
	case float32, float64:
		return Float
	case json.Number:
		if _, err := v.(json.Number).Int64(); err == nil {
			return Integer
		}
		return Float
	case time.Time, *time.Time:
		return Date
	}
	return String
}

// Coerce normalizes v to the canonical Go type of t: string, int64, float64
// or time.Time. nil is returned unchanged.
func Coerce(t FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case String:
		return toString(v), nil
	case Integer, ObjectID:
		if i, ok := toInt64(v); ok {
			return i, nil
		}
	case Float:
		if f, ok := toFloat64(v); ok {
			return f, nil
		}
	case Date:
		switch d := v.(type) {
		case time.Time:
			return d, nil
		case *time.Time:
			if d == nil {
				return nil, nil
			}
			return *d, nil
		case string:
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
				if parsed, err := time.Parse(layout, d); err == nil {
					return parsed, nil
				}
			}
		}
	case Geometry:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %v (%T) as %s", ErrTypeMismatch, v, v, t)
}

func toString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format("2006-01-02T15:04:05")
	case fmt.Stringer:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	}
	if i, ok := toInt64(v); ok {
		return strconv.FormatInt(i, 10)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func toInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case uint:
		return int64(val), true
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint64:
		if val <= math.MaxInt64 {
			return int64(val), true
		}
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case float64:
		if val == math.Trunc(val) {
			return int64(val), true
		}
	case float32:
		if float64(val) == math.Trunc(float64(val)) {
			return int64(val), true
		}
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, true
		}
	case string:
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f, true
		}
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f, true
		}
	case bool:
		return 0, false
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}
