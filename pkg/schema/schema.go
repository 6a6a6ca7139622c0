// Package schema describes the ordered field lists that records are written
// with, and infers one when a producer sends attributes without declaring it.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

type FieldType string

const (
	String   FieldType = "string"
	Integer  FieldType = "integer"
	Float    FieldType = "float"
	Date     FieldType = "date"
	Geometry FieldType = "geometry"
	ObjectID FieldType = "object-id"
)

var (
	ErrEmptyFieldName = errors.New("schema: field name is empty")
	ErrUnknownType    = errors.New("schema: unknown field type")
)

// ParseFieldType accepts the logical type names used in declarations.
func ParseFieldType(s string) (FieldType, error) {
	switch t := FieldType(strings.ToLower(strings.TrimSpace(s))); t {
	case String, Integer, Float, Date, Geometry, ObjectID:
		return t, nil
	case "oid", "objectid":
		return ObjectID, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
}

type Field struct {
	Name      string
	Type      FieldType
	Length    int
	Precision int
	Scale     int
	Nullable  bool
	Alias     string
	ModelName string
}

// Schema is an ordered, de-duplicated field list. It must not be modified
// once a record refers to it.
type Schema struct {
	name        string
	fields      []Field
	index       map[string]int
	geometryIdx int
	oidIdx      int
	fingerprint string
	ref         bool
}

// New builds a schema from fields in order. A repeated name keeps its first
// declaration. The first geometry field is the primary geometry field and the
// first object-id field is the object-id field.
func New(name string, fields ...Field) (*Schema, error) {
	s := &Schema{
		name:        name,
		index:       make(map[string]int, len(fields)),
		geometryIdx: -1,
		oidIdx:      -1,
	}
	for _, f := range fields {
		if strings.TrimSpace(f.Name) == "" {
			return nil, ErrEmptyFieldName
		}
		if _, err := ParseFieldType(string(f.Type)); err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		if _, dup := s.index[f.Name]; dup {
			continue
		}
		i := len(s.fields)
		switch {
		case f.Type == Geometry && s.geometryIdx < 0:
			s.geometryIdx = i
		case f.Type == ObjectID && s.oidIdx < 0:
			s.oidIdx = i
			f.Nullable = false
		}
		s.index[f.Name] = i
		s.fields = append(s.fields, f)
	}

	var sb strings.Builder
	for i, f := range s.fields {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(f.Name)
		sb.WriteByte(':')
		sb.WriteString(string(f.Type))
	}
	s.fingerprint = sb.String()
	return s, nil
}

// Ref names a schema declared earlier in the stream without repeating its
// fields. Writers resolve it against their declarations.
func Ref(name string) *Schema {
	return &Schema{name: name, index: map[string]int{}, geometryIdx: -1, oidIdx: -1, ref: true}
}

// IsRef reports whether s only names a declared schema.
func (s *Schema) IsRef() bool { return s.ref }

// MustNew is New for statically known field lists.
func MustNew(name string, fields ...Field) *Schema {
	s, err := New(name, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Name() string { return s.name }
func (s *Schema) Len() int     { return len(s.fields) }

func (s *Schema) Field(i int) Field { return s.fields[i] }

// Fields returns a copy of the field list.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// GeometryIndex is the position of the primary geometry field, or -1.
func (s *Schema) GeometryIndex() int { return s.geometryIdx }

// ObjectIDIndex is the position of the object-id field, or -1.
func (s *Schema) ObjectIDIndex() int { return s.oidIdx }

// Fingerprint identifies the schema structurally: two schemas with the same
// ordered names and types share a fingerprint.
func (s *Schema) Fingerprint() string { return s.fingerprint }

func (s *Schema) String() string {
	if s.name != "" {
		return s.name + "(" + s.fingerprint + ")"
	}
	return "(" + s.fingerprint + ")"
}
