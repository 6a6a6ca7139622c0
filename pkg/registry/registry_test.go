package registry

import (
	"os"
	"testing"
	"time"

	"gdb-export/pkg/geom"
	"gdb-export/pkg/naming"
	"gdb-export/pkg/schema"
	"gdb-export/pkg/shape"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var roads = schema.MustNew("roads",
	schema.Field{Name: "OBJECTID", Type: schema.ObjectID},
	schema.Field{Name: "NAME", Type: schema.String, Nullable: true},
	schema.Field{Name: "LANES", Type: schema.Integer, Nullable: true},
	schema.Field{Name: "OPENED", Type: schema.Date, Nullable: true},
)

func TestGrouping(t *testing.T) {
	reg := New(Options{})
	defer reg.Close()

	line := geom.Line{geom.XY(0, 0), geom.XY(3, 4)}

	k1, err := reg.Add(roads, schema.Attrs("NAME", "a"), line, []string{"A"})
	require.NoError(t, err)
	k2, err := reg.Add(roads, schema.Attrs("NAME", "b", "LANES", 2), line, []string{"A"})
	require.NoError(t, err)

	t.Run("identical key identical dataset", func(t *testing.T) {
		assert.Equal(t, k1, k2)
		ds, ok := reg.Dataset(k1)
		require.True(t, ok)
		assert.Equal(t, "A_Line", ds.Name)
		assert.Equal(t, 2, ds.Count)
		assert.Equal(t, shape.Polyline, ds.ShapeType())
	})

	t.Run("any differing component differs", func(t *testing.T) {
		byPath, err := reg.Add(roads, nil, line, []string{"B"})
		require.NoError(t, err)
		byKind, err := reg.Add(roads, nil, geom.XY(1, 1), []string{"A"})
		require.NoError(t, err)
		bySchema, err := reg.Add(nil, schema.Attrs("NAME", "x"), line, []string{"A"})
		require.NoError(t, err)

		for _, k := range []GroupKey{byPath, byKind, bySchema} {
			assert.NotEqual(t, k1, k)
		}
		ds, _ := reg.Dataset(bySchema)
		assert.Equal(t, "A_Line_1", ds.Name)

		assert.Equal(t, []GroupKey{k1, byPath, byKind, bySchema}, reg.Keys())
	})

	t.Run("bounds fold", func(t *testing.T) {
		b, err := reg.Bounds(k1)
		require.NoError(t, err)
		assert.Equal(t, 0.0, b.MinX())
		assert.Equal(t, 4.0, b.MaxY())
	})

	t.Run("row without geometry", func(t *testing.T) {
		k, err := reg.Add(roads, schema.Attrs("NAME", "r"), nil, []string{"A"})
		require.NoError(t, err)
		ds, _ := reg.Dataset(k)
		assert.False(t, ds.HasGeometry())
		assert.Equal(t, "A", ds.Name)
	})
}

func TestAddRejects(t *testing.T) {
	reg := New(Options{})
	defer reg.Close()

	_, err := reg.Add(roads, schema.Attrs("COLOR", "red"), geom.XY(1, 2), nil)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	assert.True(t, IsRecordFault(err))

	_, err = reg.Add(roads, schema.Attrs("LANES", "many"), geom.XY(1, 2), nil)
	assert.ErrorIs(t, err, schema.ErrTypeMismatch)

	_, err = reg.Add(roads, nil, geom.Line{}, nil)
	assert.ErrorIs(t, err, shape.ErrEmptyGeometry)
	assert.False(t, IsRecordFault(err))

	_, err = reg.Add(roads, nil, geom.Collection{geom.XY(1, 1), geom.Line{geom.XY(0, 0), geom.XY(1, 1)}}, nil)
	assert.ErrorIs(t, err, geom.ErrMixedCollection)

	assert.Equal(t, 0, reg.Len())
}

func TestContainerPaths(t *testing.T) {
	reg := New(Options{})
	defer reg.Close()

	add := func(path ...string) GroupKey {
		k, err := reg.Add(nil, schema.Attrs("NAME", "x"), geom.XY(1, 1), path)
		require.NoError(t, err)
		return k
	}

	t.Run("root and empty name differ", func(t *testing.T) {
		root := add()
		empty := add("")
		assert.NotEqual(t, root, empty)
		assert.NotEqual(t, add("", ""), empty)
	})

	t.Run("nesting and separator characters differ", func(t *testing.T) {
		nested := add("A", "B")
		joined := add("A\x1fB")
		assert.NotEqual(t, nested, joined)

		n1, _ := reg.Dataset(nested)
		n2, _ := reg.Dataset(joined)
		assert.NotEqual(t, n1.Name, n2.Name)
		assert.Equal(t, 1, n1.Count)
		assert.Equal(t, 1, n2.Count)
	})

	t.Run("unsafe names are sanitized and stay unique", func(t *testing.T) {
		slash, _ := reg.Dataset(add("roads/2024"))
		escape, _ := reg.Dataset(add("../../escaped"))
		spaced, _ := reg.Dataset(add("roads 2024"))

		assert.Equal(t, "roads_2024_Point", slash.Name)
		assert.Equal(t, "escaped_Point", escape.Name)
		assert.Equal(t, "roads_2024_Point_1", spaced.Name)
		assert.Equal(t, []string{"roads/2024"}, slash.Path)
	})
}

func TestSchemaReference(t *testing.T) {
	reg := New(Options{})
	defer reg.Close()

	_, err := reg.Add(schema.Ref("roads"), schema.Attrs("NAME", "a"), geom.XY(1, 1), nil)
	assert.ErrorIs(t, err, ErrUndeclared)
	assert.True(t, IsRecordFault(err))
	assert.Equal(t, 0, reg.Len())

	assert.Error(t, reg.Declare(schema.Ref("roads")))
	require.NoError(t, reg.Declare(roads))

	byRef, err := reg.Add(schema.Ref("roads"), schema.Attrs("NAME", "a"), geom.XY(1, 1), nil)
	require.NoError(t, err)
	direct, err := reg.Add(roads, schema.Attrs("NAME", "b"), geom.XY(2, 2), nil)
	require.NoError(t, err)
	assert.Equal(t, direct, byRef)

	s, err := reg.Schema(byRef)
	require.NoError(t, err)
	assert.Same(t, roads, s)
}

func TestNamingExhaustion(t *testing.T) {
	reg := New(Options{})
	defer reg.Close()

	// every distinct schema shares the derived name "A_Point"
	for i := range naming.MaxCandidates {
		s := schema.MustNew("", schema.Field{Name: string(rune('a'+i%26)) + string(rune('a'+i/26)), Type: schema.String})
		_, err := reg.Add(s, nil, geom.XY(0, 0), []string{"A"})
		require.NoError(t, err)
	}
	s := schema.MustNew("", schema.Field{Name: "last", Type: schema.String})
	_, err := reg.Add(s, nil, geom.XY(0, 0), []string{"A"})
	assert.ErrorIs(t, err, naming.ErrNamingExhausted)
}

func TestBuffer(t *testing.T) {
	opened := time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC)

	for _, threshold := range []int{DefaultSpillThreshold, 2} {
		t.Run("threshold", func(t *testing.T) {
			temp := t.TempDir()
			reg := New(Options{SpillThreshold: threshold, TempDir: temp})

			poly := geom.Polygon{
				{geom.XY(0, 0), geom.XY(4, 0), geom.XY(4, 4), geom.XY(0, 4), geom.XY(0, 0)},
				{geom.XY(1, 1), geom.XY(2, 1), geom.XY(2, 2), geom.XY(1, 1)},
			}
			var key GroupKey
			for i := range 5 {
				k, err := reg.Add(roads, schema.Attrs("NAME", "p", "LANES", i, "OPENED", opened), poly, nil)
				require.NoError(t, err)
				key = k
			}
			ds, _ := reg.Dataset(key)
			assert.Equal(t, threshold == 2, ds.store.Spilled())

			// readers are restartable
			for range 2 {
				rd, err := reg.Buffer(key)
				require.NoError(t, err)

				n := 0
				for rd.Next() {
					rec := rd.Record()
					assert.Equal(t, int64(n), rec.Values[2])
					assert.Equal(t, "p", rec.Values[1])
					assert.Nil(t, rec.Values[0])
					assert.True(t, opened.Equal(rec.Values[3].(time.Time)))
					require.NotNil(t, rec.Shape)
					assert.Equal(t, []int{0, 5}, rec.Shape.Offsets)
					assert.InDelta(t, 15.5, rec.Area, 1e-9)
					n++
				}
				require.NoError(t, rd.Err())
				require.NoError(t, rd.Close())
				assert.Equal(t, 5, n)
			}

			far := geom.Polygon{{geom.XY(50, 50), geom.XY(60, 50), geom.XY(60, 60), geom.XY(50, 50)}}
			_, err := reg.Add(roads, nil, far, nil)
			assert.ErrorIs(t, err, ErrStoreSealed)
			assert.Equal(t, 5, ds.Count, "refused record is not counted")
			assert.Equal(t, 4.0, ds.Bounds.MaxX(), "refused record does not grow the extent")

			require.NoError(t, reg.Close())
			require.NoError(t, reg.Close())

			entries, err := os.ReadDir(temp)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}
