package esri

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"testing"

	"gdb-export/pkg/geom"
	"gdb-export/pkg/registry"
	"gdb-export/pkg/schema"
	"gdb-export/pkg/shape"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dataset(t *testing.T, s *schema.Schema, attrs schema.Attributes, g geom.Geometry) (*registry.Dataset, registry.Record) {
	t.Helper()
	reg := registry.New(registry.Options{})
	t.Cleanup(func() { reg.Close() })
	ds, rec, err := reg.Resolve(s, attrs, g, []string{"A"})
	require.NoError(t, err)
	return ds, rec
}

func names(d *Definition) []string {
	out := []string{}
	for _, f := range d.Fields {
		out = append(out, f.Name)
	}
	return out
}

func wellFormed(t *testing.T, doc string) {
	t.Helper()
	dec := xml.NewDecoder(strings.NewReader(doc))
	for {
		_, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return
		}
		require.NoError(t, err)
	}
}

var square = geom.Polygon{{geom.XY(0, 0), geom.XY(3, 0), geom.XY(3, 5), geom.XY(0, 5), geom.XY(0, 0)}}

func TestNewDefinition(t *testing.T) {
	t.Run("polygon gets synthesized fields", func(t *testing.T) {
		ds, _ := dataset(t, nil, schema.Attrs("name", "x"), square)
		d := NewDefinition(ds, 1)

		assert.Equal(t, []string{"OBJECTID", "SHAPE", "name", "Shape_Length", "Shape_Area"}, names(d))
		assert.Equal(t, DatasetTypeFeatureClass, d.DatasetType)
		assert.Equal(t, GeometryPolygon, d.ShapeType)
		assert.Equal(t, CLSIDFeatureClass, d.CLSID)
		assert.Equal(t, "/FC=A_Polygon", d.CatalogPath)
		require.Len(t, d.Indexes, 2)
		assert.Equal(t, "FDO_OBJECTID", d.Indexes[0].Name)
		assert.True(t, d.Indexes[0].Unique)
		assert.Equal(t, "FDO_SHAPE", d.Indexes[1].Name)
	})

	t.Run("declared fields keep their place", func(t *testing.T) {
		s := schema.MustNew("",
			schema.Field{Name: "name", Type: schema.String},
			schema.Field{Name: "geom", Type: schema.Geometry},
			schema.Field{Name: "fid", Type: schema.ObjectID},
		)
		ds, _ := dataset(t, s, nil, geom.Line{geom.XY(0, 0), geom.XY(1, 1)})
		d := NewDefinition(ds, 1)

		assert.Equal(t, []string{"name", "geom", "fid", "Shape_Length"}, names(d))
		assert.Equal(t, "fid", d.OIDFieldName)
		assert.Equal(t, "geom", d.ShapeFieldName)
		assert.Equal(t, "FDO_geom", d.Indexes[1].Name)
	})

	t.Run("table without geometry", func(t *testing.T) {
		s := schema.MustNew("", schema.Field{Name: "name", Type: schema.String}, schema.Field{Name: "SHAPE", Type: schema.Geometry})
		ds, _ := dataset(t, s, nil, nil)
		d := NewDefinition(ds, 2)

		assert.Equal(t, []string{"OBJECTID", "name"}, names(d))
		assert.Equal(t, DatasetTypeTable, d.DatasetType)
		assert.Equal(t, "/OC=A", d.CatalogPath)
		assert.Len(t, d.Indexes, 1)
	})

	t.Run("synthesized names avoid declared ones", func(t *testing.T) {
		ds, _ := dataset(t, nil, schema.Attrs("OBJECTID", 5), geom.XY(1, 1))
		d := NewDefinition(ds, 1)
		assert.Equal(t, []string{"OBJECTID_1", "SHAPE", "OBJECTID"}, names(d))
	})
}

func TestValues(t *testing.T) {
	s := schema.MustNew("",
		schema.Field{Name: "label", Type: schema.String},
		schema.Field{Name: "rank", Type: schema.Integer, Nullable: true},
	)
	ds, rec := dataset(t, s, schema.Attrs("rank", 3), square)
	d := NewDefinition(ds, 1)

	values, err := d.Values(rec, 7)
	require.NoError(t, err)
	require.Len(t, values, 6)
	assert.Equal(t, int64(7), values[0])
	assert.IsType(t, &shape.Shape{}, values[1])
	assert.Equal(t, "", values[2])
	assert.Equal(t, int64(3), values[3])
	assert.InDelta(t, 16.0, values[4], 1e-9)
	assert.InDelta(t, 15.0, values[5], 1e-9)

	strict := schema.MustNew("", schema.Field{Name: "rank", Type: schema.Integer})
	ds, rec = dataset(t, strict, nil, square)
	_, err = NewDefinition(ds, 1).Values(rec, 1)
	assert.ErrorIs(t, err, ErrMissingValue)
}

func TestShapeXML(t *testing.T) {
	encode := func(g geom.Geometry) string {
		s, err := shape.FromGeometry(g)
		require.NoError(t, err)
		var buf bytes.Buffer
		e := NewEncoder(&buf, "esri")
		e.Shape(s)
		require.NoError(t, e.Flush())
		return buf.String()
	}

	t.Run("point writes longitude first", func(t *testing.T) {
		out := encode(geom.XY(2, 1))
		assert.Contains(t, out, "PointN")
		assert.Contains(t, out, "<X>2</X><Y>1</Y>")
		assert.NotContains(t, out, "<Z>")
	})

	t.Run("point with elevation", func(t *testing.T) {
		assert.Contains(t, encode(geom.XYZ(2, 1, 30.5)), "<X>2</X><Y>1</Y><Z>30.5</Z>")
	})

	t.Run("polygon rings", func(t *testing.T) {
		poly := geom.Polygon{
			square[0],
			{geom.XY(1, 1), geom.XY(2, 1), geom.XY(2, 2), geom.XY(1, 1)},
		}
		out := encode(poly)
		assert.Equal(t, 2, strings.Count(out, "<Ring "))
		assert.Equal(t, 9, strings.Count(out, "<X>"))
		assert.Contains(t, out, "RingArray")
	})

	t.Run("lines become paths", func(t *testing.T) {
		out := encode(geom.MultiLine{
			{geom.XY(0, 0), geom.XY(1, 1)},
			{geom.XY(2, 2), geom.XY(3, 3)},
		})
		assert.Equal(t, 2, strings.Count(out, "<PointArray"))
		assert.Contains(t, out, "PolylineN")
	})
}

func TestDefinitionXML(t *testing.T) {
	ds, _ := dataset(t, nil, schema.Attrs("name", "x"), square)
	doc, err := DefinitionXML(NewDefinition(ds, 3))
	require.NoError(t, err)

	wellFormed(t, doc)
	assert.True(t, strings.HasPrefix(doc, "<DEFeatureClassInfo"))
	assert.Contains(t, doc, "<ShapeType>esriGeometryPolygon</ShapeType>")
	assert.Contains(t, doc, "<DSID>3</DSID>")
	assert.Contains(t, doc, "<WKID>4326</WKID>")
	assert.Contains(t, doc, "<XYTolerance>8.983152841195215E-09</XYTolerance>")
	assert.Contains(t, doc, "<XMax>3</XMax>")
	assert.Contains(t, doc, "<AreaFieldName>Shape_Area</AreaFieldName>")
}

func TestFormatDouble(t *testing.T) {
	assert.Equal(t, "0", FormatDouble(0))
	assert.Equal(t, "-400", FormatDouble(-400))
	assert.Equal(t, "1000000000", FormatDouble(1e9))
	assert.Equal(t, "0.001", FormatDouble(0.001))
	assert.Equal(t, "106.8271", FormatDouble(106.8271))
}
