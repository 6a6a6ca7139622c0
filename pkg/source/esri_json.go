package source

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"gdb-export/pkg/esri"
	"gdb-export/pkg/event"
	"gdb-export/pkg/geom"
	"gdb-export/pkg/schema"

	"github.com/paulmach/orb"
)

// EsriFeatureSet is the JSON feature set returned by ArcGIS REST queries.
type EsriFeatureSet struct {
	GeometryType     string        `json:"geometryType"`
	HasZ             bool          `json:"hasZ"`
	SpatialReference spatRef       `json:"spatialReference"`
	Fields           []esriField   `json:"fields"`
	Features         []esriFeature `json:"features"`
}

type spatRef struct {
	WKID       int    `json:"wkid"`
	LatestWKID int    `json:"latestWkid"`
	WKT        string `json:"wkt"`
}

type esriField struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Alias    string `json:"alias"`
	Length   int    `json:"length"`
	Nullable *bool  `json:"nullable"`
}

type esriFeature struct {
	Geometry   *esriGeometry  `json:"geometry"`
	Attributes map[string]any `json:"attributes"`
}

type esriGeometry struct {
	X      *float64      `json:"x"`
	Y      *float64      `json:"y"`
	Z      *float64      `json:"z"`
	HasZ   bool          `json:"hasZ"`
	Points [][]float64   `json:"points"`
	Paths  [][][]float64 `json:"paths"`
	Rings  [][][]float64 `json:"rings"`
}

// Feature count in the JSON
func (e *EsriFeatureSet) FeatureCount() int {
	return len(e.Features)
}

// Schema returns the declared field list, or nil when the feature set carries
// none and schemas are left to inference.
func (e *EsriFeatureSet) Schema(name string) (*schema.Schema, error) {
	if len(e.Fields) == 0 {
		return nil, nil
	}

	fields := make([]schema.Field, 0, len(e.Fields))
	for _, f := range e.Fields {
		t := esriFieldType(f.Type)
		nullable := t != schema.ObjectID
		if f.Nullable != nil {
			nullable = *f.Nullable
		}
		fields = append(fields, schema.Field{
			Name:     f.Name,
			Type:     t,
			Length:   f.Length,
			Nullable: nullable,
			Alias:    f.Alias,
		})
	}
	return schema.New(name, fields...)
}

func esriFieldType(t string) schema.FieldType {
	switch t {
	case esri.FieldTypeOID:
		return schema.ObjectID
	case esri.FieldTypeInteger, "esriFieldTypeSmallInteger", "esriFieldTypeBigInteger":
		return schema.Integer
	case esri.FieldTypeDouble, "esriFieldTypeSingle":
		return schema.Float
	case esri.FieldTypeDate:
		return schema.Date
	case esri.FieldTypeGeometry:
		return schema.Geometry
	}
	return schema.String
}

// ReplayEsriJSON drives v with an ESRI JSON feature set. Declared fields
// become a schema announced before the first record; without them every
// record's schema is inferred. Close is left to the caller.
func ReplayEsriJSON(data []byte, v event.Visitor, opts Options) error {
	var fs EsriFeatureSet
	if err := json.Unmarshal(data, &fs); err != nil {
		return fmt.Errorf("failed to unmarshal esri json: %w", err)
	}

	name := opts.Root
	if name == "" {
		name = "features"
	}
	s, err := fs.Schema(name)
	if err != nil {
		return fmt.Errorf("failed to read esri fields: %w", err)
	}

	groups := newGrouping()
	for _, f := range fs.Features {
		group := ""
		if opts.ContainerProperty != "" {
			if val, ok := f.Attributes[opts.ContainerProperty]; ok && val != nil {
				group = fmt.Sprint(val)
			}
		}

		var g geom.Geometry
		if f.Geometry != nil {
			g = f.Geometry.toGeom(fs.HasZ || f.Geometry.HasZ)
		}
		groups.add(group, pending{attrs: esriAttrs(s, f.Attributes), geom: g})
	}

	return replay(v, opts.Root, groups, s)
}

// esriAttrs orders attributes by the declared fields, or by key when there
// are none. Dates arrive as epoch milliseconds.
func esriAttrs(s *schema.Schema, values map[string]any) schema.Attributes {
	if s == nil {
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		attrs := make(schema.Attributes, 0, len(keys))
		for _, k := range keys {
			attrs = append(attrs, schema.Attribute{Name: k, Value: values[k]})
		}
		return attrs
	}

	attrs := make(schema.Attributes, 0, s.Len())
	for _, f := range s.Fields() {
		val, ok := values[f.Name]
		if !ok {
			continue
		}
		if ms, isNum := val.(float64); isNum && f.Type == schema.Date {
			val = time.UnixMilli(int64(ms)).UTC()
		}
		attrs = append(attrs, schema.Attribute{Name: f.Name, Value: val})
	}
	return attrs
}

// toGeom converts the geometry object. An object without coordinates is an
// empty collection rather than nil, so it is skipped as an empty geometry
// instead of becoming a row.
func (e *esriGeometry) toGeom(hasZ bool) geom.Geometry {
	switch {
	case e.X != nil && e.Y != nil:
		if hasZ && e.Z != nil {
			return geom.XYZ(*e.X, *e.Y, *e.Z)
		}
		return geom.XY(*e.X, *e.Y)
	case len(e.Points) > 0:
		return geom.MultiPoint(vertices(e.Points, hasZ))
	case len(e.Paths) == 1:
		return geom.Line(vertices(e.Paths[0], hasZ))
	case len(e.Paths) > 1:
		out := make(geom.MultiLine, 0, len(e.Paths))
		for _, p := range e.Paths {
			out = append(out, geom.Line(vertices(p, hasZ)))
		}
		return out
	case len(e.Rings) > 0:
		return ringsToPolygons(e.Rings, hasZ)
	}
	return geom.Collection{}
}

// vertices reads [x, y, z?, m?] arrays. The third ordinate is a measure when
// the geometry has no elevation.
func vertices(coords [][]float64, hasZ bool) []geom.Point {
	out := make([]geom.Point, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		if hasZ && len(c) >= 3 {
			out = append(out, geom.XYZ(c[0], c[1], c[2]))
		} else {
			out = append(out, geom.XY(c[0], c[1]))
		}
	}
	return out
}

// ringsToPolygons groups rings the ESRI way: a clockwise ring opens a new
// polygon and each counter-clockwise ring is a hole of the polygon before it.
func ringsToPolygons(rings [][][]float64, hasZ bool) geom.Geometry {
	var polys geom.MultiPolygon
	for _, coords := range rings {
		ring := geom.LinearRing(vertices(coords, hasZ))
		if len(ring) == 0 {
			continue
		}
		outer := len(polys) == 0 || ringOrientation(ring) == orb.CW
		if outer {
			polys = append(polys, geom.Polygon{ring})
			continue
		}
		last := len(polys) - 1
		polys[last] = append(polys[last], ring)
	}

	switch len(polys) {
	case 0:
		return geom.Collection{}
	case 1:
		return polys[0]
	}
	return polys
}

func ringOrientation(r geom.LinearRing) orb.Orientation {
	poly := geom.ToOrb(r).(orb.Polygon)
	return poly[0].Orientation()
}
