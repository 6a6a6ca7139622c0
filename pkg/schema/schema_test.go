package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("keeps order and drops duplicates", func(t *testing.T) {
		s, err := New("roads",
			Field{Name: "NAME", Type: String},
			Field{Name: "SHAPE", Type: Geometry},
			Field{Name: "LANES", Type: Integer},
			Field{Name: "NAME", Type: Float},
		)
		require.NoError(t, err)

		assert.Equal(t, 3, s.Len())
		assert.Equal(t, "NAME", s.Field(0).Name)
		assert.Equal(t, String, s.Field(0).Type)
		assert.Equal(t, 1, s.GeometryIndex())
		assert.Equal(t, -1, s.ObjectIDIndex())

		i, ok := s.Index("LANES")
		assert.True(t, ok)
		assert.Equal(t, 2, i)
	})

	t.Run("object id is never nullable", func(t *testing.T) {
		s := MustNew("", Field{Name: "FID", Type: ObjectID, Nullable: true})
		assert.Equal(t, 0, s.ObjectIDIndex())
		assert.False(t, s.Field(0).Nullable)
	})

	t.Run("rejects empty names and unknown types", func(t *testing.T) {
		_, err := New("", Field{Name: " ", Type: String})
		assert.ErrorIs(t, err, ErrEmptyFieldName)

		_, err = New("", Field{Name: "A", Type: "blob"})
		assert.ErrorIs(t, err, ErrUnknownType)
	})

	t.Run("fingerprint is structural", func(t *testing.T) {
		a := MustNew("a", Field{Name: "X", Type: String}, Field{Name: "Y", Type: Integer})
		b := MustNew("b", Field{Name: "X", Type: String, Alias: "x"}, Field{Name: "Y", Type: Integer})
		c := MustNew("a", Field{Name: "Y", Type: Integer}, Field{Name: "X", Type: String})

		assert.Equal(t, a.Fingerprint(), b.Fingerprint())
		assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	})
}

func TestInfer(t *testing.T) {
	attrs := Attrs(
		"name", "Main St",
		"lanes", 2,
		"width", 7.5,
		"paved", true,
		"opened", time.Date(2001, 2, 3, 0, 0, 0, 0, time.UTC),
		"note", nil,
		"count", json.Number("12"),
	)
	s, err := Infer(attrs)
	require.NoError(t, err)

	types := []FieldType{}
	for _, f := range s.Fields() {
		types = append(types, f.Type)
		assert.True(t, f.Nullable)
	}
	assert.Equal(t, []FieldType{String, Integer, Float, Integer, Date, String, Integer}, types)

	v, ok := attrs.Get("width")
	assert.True(t, ok)
	assert.Equal(t, 7.5, v)
	_, ok = attrs.Get("missing")
	assert.False(t, ok)
}

func TestCoerce(t *testing.T) {
	cases := []struct {
		name string
		t    FieldType
		in   any
		want any
	}{
		{"int to int64", Integer, 3, int64(3)},
		{"bool to int64", Integer, true, int64(1)},
		{"whole float to int64", Integer, 4.0, int64(4)},
		{"numeric string to int64", Integer, "42", int64(42)},
		{"int to float", Float, int32(2), float64(2)},
		{"float string", Float, "1.25", 1.25},
		{"int to string", String, 7, "7"},
		{"float to string", String, 0.5, "0.5"},
		{"date string", Date, "2020-05-06T07:08:09", time.Date(2020, 5, 6, 7, 8, 9, 0, time.UTC)},
		{"nil stays nil", Float, nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Coerce(tc.t, tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("mismatch", func(t *testing.T) {
		_, err := Coerce(Integer, "abc")
		assert.ErrorIs(t, err, ErrTypeMismatch)

		_, err = Coerce(Integer, 1.5)
		assert.ErrorIs(t, err, ErrTypeMismatch)
	})
}

func TestArrowRoundTrip(t *testing.T) {
	s := MustNew("",
		Field{Name: "S", Type: String},
		Field{Name: "I", Type: Integer},
		Field{Name: "F", Type: Float},
		Field{Name: "D", Type: Date},
	)
	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := [][]any{
		{"a", int64(1), 1.5, when},
		{nil, nil, nil, nil},
	}

	b := array.NewRecordBuilder(memory.DefaultAllocator, arrow.NewSchema(s.ArrowFields(), nil))
	defer b.Release()
	for _, row := range rows {
		for i, v := range row {
			require.NoError(t, AppendValue(b.Field(i), v))
		}
	}
	rec := b.NewRecordBatch()
	defer rec.Release()

	for r, row := range rows {
		for c := range row {
			got := ValueAt(rec.Column(c), r)
			if tv, ok := got.(time.Time); ok {
				assert.True(t, when.Equal(tv))
				continue
			}
			assert.Equal(t, row[c], got)
		}
	}

	assert.ErrorIs(t, AppendValue(b.Field(1), "x"), ErrTypeMismatch)
}
