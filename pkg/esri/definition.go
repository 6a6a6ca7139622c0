// Package esri builds the dataset definitions and record values shared by the
// XML workspace and table package writers, and encodes them as ESRI XML.
package esri

import (
	"errors"
	"fmt"
	"strings"

	"gdb-export/pkg/geom"
	"gdb-export/pkg/registry"
	"gdb-export/pkg/schema"
	"gdb-export/pkg/shape"
)

const (
	FieldTypeOID      = "esriFieldTypeOID"
	FieldTypeString   = "esriFieldTypeString"
	FieldTypeInteger  = "esriFieldTypeInteger"
	FieldTypeDouble   = "esriFieldTypeDouble"
	FieldTypeDate     = "esriFieldTypeDate"
	FieldTypeGeometry = "esriFieldTypeGeometry"
)

const (
	GeometryPoint      = "esriGeometryPoint"
	GeometryMultipoint = "esriGeometryMultipoint"
	GeometryPolyline   = "esriGeometryPolyline"
	GeometryPolygon    = "esriGeometryPolygon"
)

const (
	DatasetTypeFeatureClass = "esriDTFeatureClass"
	DatasetTypeTable        = "esriDTTable"

	FeatureTypeSimple = "esriFTSimple"

	CLSIDFeatureClass = "{52353152-891A-11D0-BEC6-00805F7C4268}"
	CLSIDTable        = "{7A566981-C114-11D2-8A28-006097AFF44E}"
)

const (
	DefaultOIDFieldName    = "OBJECTID"
	DefaultShapeFieldName  = "SHAPE"
	DefaultLengthFieldName = "Shape_Length"
	DefaultAreaFieldName   = "Shape_Area"

	defaultStringLength = 255
)

// DateLayout is how dates are written in record values.
const DateLayout = "2006-01-02T15:04:05"

var ErrMissingValue = errors.New("esri: missing value for non-nullable field")

// Role tells where a field's value comes from.
type Role int

const (
	RoleAttribute Role = iota
	RoleOID
	RoleShape
	RoleLength
	RoleArea
)

type Field struct {
	Name      string
	Alias     string
	ModelName string
	Type      string
	Length    int
	Precision int
	Scale     int
	Nullable  bool
	Required  bool
	Editable  bool

	Role Role
	// Source is the schema position of an attribute field.
	Source int
	// Logical is the declared type an attribute value is converted from.
	Logical schema.FieldType
}

type Index struct {
	Name      string
	Fields    []string
	Unique    bool
	Ascending bool
}

type SpatialReference struct {
	WKT           string
	XOrigin       float64
	YOrigin       float64
	XYScale       float64
	ZOrigin       float64
	ZScale        float64
	MOrigin       float64
	MScale        float64
	XYTolerance   float64
	ZTolerance    float64
	MTolerance    float64
	HighPrecision bool
	WKID          int
	LatestWKID    int
}

// WGS84 is the only spatial reference datasets are written in.
var WGS84 = SpatialReference{
	WKT:           `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433],AUTHORITY["EPSG",4326]]`,
	XOrigin:       -400,
	YOrigin:       -400,
	XYScale:       1000000000,
	ZOrigin:       -100000,
	ZScale:        10000,
	MOrigin:       -100000,
	MScale:        10000,
	XYTolerance:   8.983152841195215e-09,
	ZTolerance:    0.001,
	MTolerance:    0.001,
	HighPrecision: true,
	WKID:          4326,
	LatestWKID:    4326,
}

// Definition is the output description of one dataset.
type Definition struct {
	Name            string
	CatalogPath     string
	DatasetType     string
	DSID            int
	CLSID           string
	ShapeType       string
	HasZ            bool
	OIDFieldName    string
	ShapeFieldName  string
	LengthFieldName string
	AreaFieldName   string
	Fields          []Field
	Indexes         []Index
	Extent          geom.Bounds
	SpatialRef      SpatialReference
}

func (d *Definition) IsFeatureClass() bool { return d.DatasetType == DatasetTypeFeatureClass }

// ShapeTypeOf names the ESRI geometry type of a shape code.
func ShapeTypeOf(t shape.Type) string {
	switch t.Base() {
	case shape.Point:
		return GeometryPoint
	case shape.MultiPoint:
		return GeometryMultipoint
	case shape.Polyline:
		return GeometryPolyline
	case shape.Polygon:
		return GeometryPolygon
	}
	return ""
}

func fieldType(t schema.FieldType) string {
	switch t {
	case schema.ObjectID:
		return FieldTypeOID
	case schema.Integer:
		return FieldTypeInteger
	case schema.Float:
		return FieldTypeDouble
	case schema.Date:
		return FieldTypeDate
	case schema.Geometry:
		return FieldTypeGeometry
	}
	return FieldTypeString
}

func fieldLength(f schema.Field) int {
	switch f.Type {
	case schema.String:
		if f.Length > 0 {
			return f.Length
		}
		return defaultStringLength
	case schema.Integer, schema.ObjectID:
		return 4
	case schema.Float, schema.Date:
		return 8
	}
	return 0
}

// NewDefinition lays out the output fields of ds: the object-id field first
// unless declared elsewhere, the shape field after it unless declared, the
// declared fields in order, then Shape_Length for lines and polygons and
// Shape_Area for polygons.
func NewDefinition(ds *registry.Dataset, dsid int) *Definition {
	d := &Definition{
		Name:        ds.Name,
		DatasetType: DatasetTypeTable,
		DSID:        dsid,
		CLSID:       CLSIDTable,
		Extent:      ds.Bounds,
		SpatialRef:  WGS84,
	}
	feature := ds.HasGeometry()
	if feature {
		d.DatasetType = DatasetTypeFeatureClass
		d.CLSID = CLSIDFeatureClass
		d.ShapeType = ShapeTypeOf(ds.ShapeType())
		d.HasZ = ds.HasZ
		d.CatalogPath = "/FC=" + ds.Name
	} else {
		d.CatalogPath = "/OC=" + ds.Name
	}

	s := ds.Schema
	used := make(map[string]bool, s.Len()+4)
	for _, f := range s.Fields() {
		if f.Type == schema.Geometry && !feature {
			continue
		}
		used[strings.ToLower(f.Name)] = true
	}
	unique := func(base string) string {
		name := base
		for i := 1; used[strings.ToLower(name)]; i++ {
			name = fmt.Sprintf("%s_%d", base, i)
		}
		used[strings.ToLower(name)] = true
		return name
	}

	if s.ObjectIDIndex() < 0 {
		d.OIDFieldName = unique(DefaultOIDFieldName)
		d.Fields = append(d.Fields, oidField(d.OIDFieldName))
	}
	if feature && s.GeometryIndex() < 0 {
		d.ShapeFieldName = unique(DefaultShapeFieldName)
		d.Fields = append(d.Fields, shapeField(d.ShapeFieldName))
	}

	for i, f := range s.Fields() {
		switch {
		case f.Type == schema.ObjectID && i == s.ObjectIDIndex():
			d.OIDFieldName = f.Name
			field := oidField(f.Name)
			field.Alias, field.ModelName = f.Alias, f.ModelName
			d.Fields = append(d.Fields, field)
			continue
		case f.Type == schema.Geometry && i == s.GeometryIndex():
			if !feature {
				continue
			}
			d.ShapeFieldName = f.Name
			field := shapeField(f.Name)
			field.Alias, field.ModelName = f.Alias, f.ModelName
			field.Nullable = f.Nullable
			d.Fields = append(d.Fields, field)
			continue
		case f.Type == schema.Geometry:
			// only the primary geometry field carries shapes
			f.Type = schema.String
		case f.Type == schema.ObjectID:
			f.Type = schema.Integer
		}
		d.Fields = append(d.Fields, Field{
			Name:      f.Name,
			Alias:     f.Alias,
			ModelName: f.ModelName,
			Type:      fieldType(f.Type),
			Length:    fieldLength(f),
			Precision: f.Precision,
			Scale:     f.Scale,
			Nullable:  f.Nullable,
			Editable:  true,
			Role:      RoleAttribute,
			Source:    i,
			Logical:   f.Type,
		})
	}

	if d.ShapeType == GeometryPolyline || d.ShapeType == GeometryPolygon {
		d.LengthFieldName = unique(DefaultLengthFieldName)
		d.Fields = append(d.Fields, measureField(d.LengthFieldName, RoleLength))
	}
	if d.ShapeType == GeometryPolygon {
		d.AreaFieldName = unique(DefaultAreaFieldName)
		d.Fields = append(d.Fields, measureField(d.AreaFieldName, RoleArea))
	}

	d.Indexes = append(d.Indexes, Index{Name: "FDO_" + d.OIDFieldName, Fields: []string{d.OIDFieldName}, Unique: true, Ascending: true})
	if feature {
		d.Indexes = append(d.Indexes, Index{Name: "FDO_" + d.ShapeFieldName, Fields: []string{d.ShapeFieldName}, Ascending: true})
	}
	return d
}

func oidField(name string) Field {
	return Field{Name: name, Alias: name, ModelName: name, Type: FieldTypeOID, Length: 4, Required: true, Role: RoleOID, Source: -1, Logical: schema.ObjectID}
}

func shapeField(name string) Field {
	return Field{Name: name, Alias: name, ModelName: name, Type: FieldTypeGeometry, Nullable: true, Required: true, Role: RoleShape, Source: -1, Logical: schema.Geometry}
}

func measureField(name string, role Role) Field {
	return Field{Name: name, Alias: name, ModelName: name, Type: FieldTypeDouble, Length: 8, Nullable: true, Required: true, Role: role, Source: -1, Logical: schema.Float}
}

// Field looks up a field by name.
func (d *Definition) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Values lays rec out in field order. The shape slot holds a *shape.Shape,
// or nil for a row without geometry.
func (d *Definition) Values(rec registry.Record, oid int64) ([]any, error) {
	out := make([]any, len(d.Fields))
	for i, f := range d.Fields {
		switch f.Role {
		case RoleOID:
			out[i] = oid
		case RoleShape:
			if rec.Shape != nil {
				out[i] = rec.Shape
			}
		case RoleLength:
			out[i] = rec.Length
		case RoleArea:
			out[i] = rec.Area
		default:
			var v any
			if f.Source < len(rec.Values) {
				v = rec.Values[f.Source]
			}
			if v == nil && !f.Nullable {
				if f.Logical != schema.String {
					return nil, fmt.Errorf("%w: %s", ErrMissingValue, f.Name)
				}
				v = ""
			}
			out[i] = v
		}
	}
	return out, nil
}
