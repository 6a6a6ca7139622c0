package gdbtable

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gdb-export/pkg/esri"
	"gdb-export/pkg/event"
	"gdb-export/pkg/geom"
	"gdb-export/pkg/schema"
	"gdb-export/pkg/shape"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var parcels = schema.MustNew("parcels",
	schema.Field{Name: "owner", Type: schema.String, Nullable: true},
	schema.Field{Name: "value", Type: schema.Float, Nullable: true},
	schema.Field{Name: "surveyed", Type: schema.Date, Nullable: true},
)

func TestPackageName(t *testing.T) {
	assert.Equal(t, "roads", PackageName("/tmp/roads.gdb.zip"))
	assert.Equal(t, "roads", PackageName("roads.zip"))
	assert.Equal(t, "roads", PackageName("out/roads.gdb"))
}

func TestNewConfigErrors(t *testing.T) {
	var cfg *event.ConfigError

	_, err := New("", Options{})
	assert.ErrorAs(t, err, &cfg)

	_, err = New(filepath.Join(t.TempDir(), "missing", "x.gdb.zip"), Options{})
	assert.ErrorAs(t, err, &cfg)
}

func TestWritePackage(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	target := filepath.Join(dir, "city.gdb.zip")
	scratch := filepath.Join(dir, "scratch")

	w, err := New(target, Options{ScratchDir: scratch})
	require.NoError(t, err)

	surveyed := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	poly := geom.Polygon{{geom.XY(0, 0), geom.XY(2, 0), geom.XY(2, 2), geom.XY(0, 2), geom.XY(0, 0)}}

	require.NoError(t, w.DocumentStart())
	require.NoError(t, w.Schema(parcels))
	require.NoError(t, w.ContainerStart("Zone 1"))
	require.NoError(t, w.Feature(parcels, schema.Attrs("owner", "ana", "value", 10.5, "surveyed", surveyed), poly))
	require.NoError(t, w.Feature(parcels, schema.Attrs("owner", "ben"), poly))
	require.NoError(t, w.Feature(parcels, schema.Attrs("owner", "empty"), geom.Polygon{}))
	require.NoError(t, w.Row(nil, schema.Attrs("code", "Z1")))
	require.NoError(t, w.ContainerEnd())
	require.NoError(t, w.Close())
	assert.Equal(t, Closed, w.State())
	assert.Equal(t, 1, w.Skipped())

	_, err = os.Stat(target)
	require.NoError(t, err)

	t.Run("inspect", func(t *testing.T) {
		summary, err := Inspect(ctx, target)
		require.NoError(t, err)

		assert.Equal(t, "city.gdb", summary.Name)
		require.Len(t, summary.Tables, 2)
		assert.Equal(t, "Zone_1", summary.Tables[0].Name)
		assert.Equal(t, int64(1), summary.Tables[0].Rows)
		assert.Equal(t, "Zone_1_Polygon", summary.Tables[1].Name)
		assert.Equal(t, int64(2), summary.Tables[1].Rows)
		assert.Equal(t,
			[]string{"OBJECTID", "SHAPE", "owner", "value", "surveyed", "Shape_Length", "Shape_Area"},
			summary.Tables[1].Columns)

		require.Len(t, summary.Items, 2)
		assert.Equal(t, "Zone_1_Polygon", summary.Items[0].Name)
		assert.Equal(t, ItemTypeFeatureClass, summary.Items[0].Type)
		assert.Contains(t, summary.Items[0].Definition, "<ShapeType>"+esri.GeometryPolygon+"</ShapeType>")
		assert.Equal(t, ItemTypeTable, summary.Items[1].Type)
		assert.Len(t, summary.Items[0].UUID, 38)
	})

	t.Run("rows", func(t *testing.T) {
		p, err := OpenPackage(target)
		require.NoError(t, err)
		defer p.Close()

		rows, err := p.Rows(ctx, "Zone_1_Polygon")
		require.NoError(t, err)
		require.Len(t, rows, 2)

		assert.EqualValues(t, 1, rows[0]["OBJECTID"])
		assert.EqualValues(t, 2, rows[1]["OBJECTID"])
		assert.Equal(t, "ana", rows[0]["owner"])
		assert.Equal(t, 10.5, rows[0]["value"])
		assert.Nil(t, rows[1]["value"])
		assert.True(t, surveyed.Equal(rows[0]["surveyed"].(time.Time)))
		assert.InDelta(t, 8.0, rows[0]["Shape_Length"], 1e-9)
		assert.InDelta(t, 4.0, rows[0]["Shape_Area"], 1e-9)

		raw, ok := rows[0]["SHAPE"].([]byte)
		require.True(t, ok)
		s, err := shape.Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, shape.Polygon, s.Type)
		assert.Equal(t, []int{0}, s.Offsets)
		assert.Len(t, s.Points, 5)
	})

	t.Run("scratch kept when caller owns it", func(t *testing.T) {
		_, err := os.Stat(filepath.Join(scratch, "city.gdb", ItemsTable+".parquet"))
		assert.NoError(t, err)
	})
}

func TestOwnScratchRemoved(t *testing.T) {
	target := filepath.Join(t.TempDir(), "pts.zip")
	w, err := New(target, Options{})
	require.NoError(t, err)
	scratch := w.Scratch()

	require.NoError(t, w.DocumentStart())
	require.NoError(t, w.Feature(nil, schema.Attrs("n", 1), geom.XYZ(1, 2, 3)))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = os.Stat(scratch)
	assert.True(t, os.IsNotExist(err))

	summary, err := Inspect(context.Background(), target)
	require.NoError(t, err)
	require.Len(t, summary.Items, 1)
	assert.Contains(t, summary.Items[0].Definition, "<HasZ>true</HasZ>")
}

func TestFailedWriterReleases(t *testing.T) {
	target := filepath.Join(t.TempDir(), "bad.gdb.zip")
	w, err := New(target, Options{})
	require.NoError(t, err)
	scratch := w.Scratch()

	require.NoError(t, w.DocumentStart())
	assert.ErrorIs(t, w.ContainerEnd(), event.ErrUnbalancedContainer)
	assert.ErrorIs(t, w.Close(), event.ErrUnbalancedContainer)

	_, err = os.Stat(scratch)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(target)
	assert.True(t, os.IsNotExist(err))
}

func TestOpenContainerAtClose(t *testing.T) {
	target := filepath.Join(t.TempDir(), "open.gdb.zip")
	w, err := New(target, Options{})
	require.NoError(t, err)
	scratch := w.Scratch()

	require.NoError(t, w.DocumentStart())
	require.NoError(t, w.ContainerStart("A"))
	require.NoError(t, w.Feature(nil, schema.Attrs("n", 1), geom.XY(1, 1)))
	assert.ErrorIs(t, w.Close(), event.ErrUnbalancedContainer)

	_, err = os.Stat(scratch)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(target)
	assert.True(t, os.IsNotExist(err))
}

func TestUnsafeContainerNames(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	target := filepath.Join(dir, "out", "names.gdb.zip")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0755))
	scratch := filepath.Join(dir, "out", "scratch")

	w, err := New(target, Options{ScratchDir: scratch})
	require.NoError(t, err)
	require.NoError(t, w.DocumentStart())
	for _, name := range []string{"roads/2024", "../../escaped", "", "A\x1fB"} {
		require.NoError(t, w.ContainerStart(name))
		require.NoError(t, w.Feature(nil, schema.Attrs("n", 1), geom.XY(1, 1)))
		require.NoError(t, w.ContainerEnd())
	}
	require.NoError(t, w.Feature(nil, schema.Attrs("n", 2), geom.XY(2, 2)))
	require.NoError(t, w.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	require.NoError(t, err)
	assert.Empty(t, matches, "nothing is written outside the package directory")
	matches, err = filepath.Glob(filepath.Join(dir, "out", "*.parquet"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	summary, err := Inspect(ctx, target)
	require.NoError(t, err)

	var tables []string
	for _, table := range summary.Tables {
		tables = append(tables, table.Name)
		assert.Equal(t, int64(1), table.Rows, table.Name)
	}
	assert.ElementsMatch(t, []string{"roads_2024_Point", "escaped_Point", "Point", "A_B_Point", "Point_1"}, tables)

	var items []string
	for _, it := range summary.Items {
		items = append(items, it.Name)
	}
	assert.ElementsMatch(t, tables, items, "every catalog item has its table")
}

func TestRecordErrorsCollected(t *testing.T) {
	strict := schema.MustNew("", schema.Field{Name: "rank", Type: schema.Integer})
	target := filepath.Join(t.TempDir(), "strict.gdb.zip")

	w, err := New(target, Options{ErrorPolicy: event.CollectErrors})
	require.NoError(t, err)
	require.NoError(t, w.DocumentStart())
	require.NoError(t, w.Feature(strict, nil, geom.XY(1, 1)))
	require.NoError(t, w.Feature(strict, schema.Attrs("rank", "high"), geom.XY(1, 1)))
	require.NoError(t, w.Feature(strict, schema.Attrs("rank", 1), geom.XY(1, 1)))
	require.NoError(t, w.Close())

	errs := w.RecordErrors()
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], esri.ErrMissingValue)
	assert.ErrorIs(t, errs[1], schema.ErrTypeMismatch)

	summary, err := Inspect(context.Background(), target)
	require.NoError(t, err)
	require.Len(t, summary.Tables, 1)
	assert.Equal(t, int64(1), summary.Tables[0].Rows)
}
