package esri

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"gdb-export/pkg/geom"
	"gdb-export/pkg/shape"

	xw "github.com/shabbyrobe/xmlwriter"
)

const (
	NamespaceXSI = "http://www.w3.org/2001/XMLSchema-instance"
	NamespaceXS  = "http://www.w3.org/2001/XMLSchema"
	// NamespaceESRI is bound to the "esri" prefix in workspace documents and
	// to "typens" in standalone definitions.
	NamespaceESRI = "http://www.esri.com/schemas/ArcGIS/10.1"
)

// Encoder writes ESRI XML through a forward-only writer. The first error
// sticks; later calls do nothing and Err reports it.
type Encoder struct {
	w      *xw.Writer
	prefix string
	err    error
}

// NewEncoder writes to w, qualifying ESRI types with prefix.
func NewEncoder(w io.Writer, prefix string, opts ...xw.Option) *Encoder {
	return &Encoder{w: xw.Open(w, opts...), prefix: prefix}
}

func (e *Encoder) Err() error { return e.err }

func (e *Encoder) typ(local string) string { return e.prefix + ":" + local }

// StartDoc writes the XML declaration.
func (e *Encoder) StartDoc() {
	if e.err == nil {
		e.err = e.w.Start(xw.Doc{})
	}
}

func (e *Encoder) Start(name string, attrs ...xw.Attr) {
	if e.err == nil {
		e.err = e.w.Start(xw.Elem{Name: name, Attrs: attrs})
	}
}

// StartTyped opens name with an xsi:type in the ESRI namespace.
func (e *Encoder) StartTyped(name, local string) {
	e.Start(name, xw.Attr{Name: "xsi:type", Value: e.typ(local)})
}

func (e *Encoder) End() {
	if e.err == nil {
		e.err = e.w.EndElem()
	}
}

// Leaf writes <name>value</name>.
func (e *Encoder) Leaf(name, value string) {
	if e.err != nil {
		return
	}
	elem := xw.Elem{Name: name}
	if value != "" {
		elem.Content = []xw.Writable{xw.Text(value)}
	}
	e.err = e.w.Write(elem)
}

func (e *Encoder) typedLeaf(name, xsiType, value string) {
	if e.err != nil {
		return
	}
	elem := xw.Elem{Name: name, Attrs: []xw.Attr{{Name: "xsi:type", Value: xsiType}}}
	if value != "" {
		elem.Content = []xw.Writable{xw.Text(value)}
	}
	e.err = e.w.Write(elem)
}

func (e *Encoder) nilLeaf(name string) {
	if e.err == nil {
		e.err = e.w.Write(xw.Elem{Name: name, Attrs: []xw.Attr{{Name: "xsi:nil", Value: "true"}}})
	}
}

func (e *Encoder) emptyTyped(name, local string) {
	e.typedLeaf(name, e.typ(local), "")
}

func (e *Encoder) boolLeaf(name string, v bool) { e.Leaf(name, strconv.FormatBool(v)) }
func (e *Encoder) intLeaf(name string, v int)   { e.Leaf(name, strconv.Itoa(v)) }
func (e *Encoder) doubleLeaf(name string, v float64) {
	e.Leaf(name, FormatDouble(v))
}

// Flush closes every open element and flushes the underlying writer.
func (e *Encoder) Flush() error {
	if e.err != nil {
		return e.err
	}
	e.err = e.w.EndAllFlush()
	return e.err
}

// FormatDouble writes plain decimals for ordinary magnitudes and exponent
// form for very large or small ones.
func FormatDouble(v float64) string {
	abs := math.Abs(v)
	if v == 0 || (abs >= 1e-5 && abs < 1e15) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(v, 'E', -1, 64)
}

// DataElement writes d as a workspace DataElement.
func (e *Encoder) DataElement(d *Definition) {
	local := "DETable"
	if d.IsFeatureClass() {
		local = "DEFeatureClass"
	}
	e.StartTyped("DataElement", local)
	e.definitionBody(d)
	e.End()
}

func (e *Encoder) definitionBody(d *Definition) {
	e.Leaf("CatalogPath", d.CatalogPath)
	e.Leaf("Name", d.Name)
	e.boolLeaf("ChildrenExpanded", false)
	e.Leaf("DatasetType", d.DatasetType)
	e.intLeaf("DSID", d.DSID)
	e.boolLeaf("Versioned", false)
	e.boolLeaf("CanVersion", false)
	e.Leaf("ConfigurationKeyword", "")
	e.boolLeaf("HasOID", true)
	e.Leaf("OIDFieldName", d.OIDFieldName)
	e.Fields(d)
	e.indexes(d)
	e.Leaf("CLSID", d.CLSID)
	e.Leaf("EXTCLSID", "")
	e.emptyTyped("RelationshipClassNames", "Names")
	e.Leaf("AliasName", d.Name)
	e.Leaf("ModelName", "")
	e.boolLeaf("HasGlobalID", false)
	e.Leaf("GlobalIDFieldName", "")
	e.Leaf("RasterFieldName", "")
	e.StartTyped("ExtensionProperties", "PropertySet")
	e.emptyTyped("PropertyArray", "ArrayOfPropertySetProperty")
	e.End()
	e.emptyTyped("ControllerMemberships", "ArrayOfControllerMembership")
	e.boolLeaf("EditorTrackingEnabled", false)
	e.Leaf("CreatorFieldName", "")
	e.Leaf("CreatedAtFieldName", "")
	e.Leaf("EditorFieldName", "")
	e.Leaf("EditedAtFieldName", "")
	e.boolLeaf("IsTimeInUTC", true)
	if d.IsFeatureClass() {
		e.Leaf("FeatureType", FeatureTypeSimple)
		e.Leaf("ShapeType", d.ShapeType)
		e.Leaf("ShapeFieldName", d.ShapeFieldName)
		e.boolLeaf("HasM", false)
		e.boolLeaf("HasZ", d.HasZ)
		e.boolLeaf("HasSpatialIndex", true)
		e.Leaf("AreaFieldName", d.AreaFieldName)
		e.Leaf("LengthFieldName", d.LengthFieldName)
		e.extent(d)
		e.spatialReference(d.SpatialRef)
	}
	e.boolLeaf("ChangeTracked", false)
	e.boolLeaf("FieldFilteringEnabled", false)
	e.emptyTyped("FilteredFieldNames", "Names")
}

// Fields writes the field list shared by definitions and record sets.
func (e *Encoder) Fields(d *Definition) {
	e.StartTyped("Fields", "Fields")
	e.StartTyped("FieldArray", "ArrayOfField")
	for _, f := range d.Fields {
		e.field(d, f)
	}
	e.End()
	e.End()
}

func (e *Encoder) field(d *Definition, f Field) {
	e.StartTyped("Field", "Field")
	e.Leaf("Name", f.Name)
	e.Leaf("Type", f.Type)
	e.boolLeaf("IsNullable", f.Nullable)
	e.intLeaf("Length", f.Length)
	e.intLeaf("Precision", f.Precision)
	e.intLeaf("Scale", f.Scale)
	if f.Required {
		e.boolLeaf("Required", true)
	}
	if !f.Editable {
		e.boolLeaf("Editable", false)
	}
	alias := f.Alias
	if alias == "" {
		alias = f.Name
	}
	e.Leaf("AliasName", alias)
	model := f.ModelName
	if model == "" {
		model = f.Name
	}
	e.Leaf("ModelName", model)
	if f.Role == RoleShape {
		e.StartTyped("GeometryDef", "GeometryDef")
		e.intLeaf("AvgNumPoints", 0)
		e.Leaf("GeometryType", d.ShapeType)
		e.boolLeaf("HasM", false)
		e.boolLeaf("HasZ", d.HasZ)
		e.spatialReference(d.SpatialRef)
		e.intLeaf("GridSize0", 0)
		e.End()
	}
	e.End()
}

func (e *Encoder) indexes(d *Definition) {
	e.StartTyped("Indexes", "Indexes")
	e.StartTyped("IndexArray", "ArrayOfIndex")
	for _, idx := range d.Indexes {
		e.StartTyped("Index", "Index")
		e.Leaf("Name", idx.Name)
		e.boolLeaf("IsUnique", idx.Unique)
		e.boolLeaf("IsAscending", idx.Ascending)
		e.StartTyped("Fields", "Fields")
		e.StartTyped("FieldArray", "ArrayOfField")
		for _, name := range idx.Fields {
			if f, ok := d.Field(name); ok {
				e.field(d, f)
			}
		}
		e.End()
		e.End()
		e.End()
	}
	e.End()
	e.End()
}

func (e *Encoder) extent(d *Definition) {
	if d.Extent.IsEmpty() {
		e.nilLeaf("Extent")
		return
	}
	e.StartTyped("Extent", "EnvelopeN")
	e.doubleLeaf("XMin", d.Extent.MinX())
	e.doubleLeaf("YMin", d.Extent.MinY())
	e.doubleLeaf("XMax", d.Extent.MaxX())
	e.doubleLeaf("YMax", d.Extent.MaxY())
	if d.HasZ && d.Extent.HasZ {
		e.doubleLeaf("ZMin", d.Extent.MinZ)
		e.doubleLeaf("ZMax", d.Extent.MaxZ)
	}
	e.spatialReference(d.SpatialRef)
	e.End()
}

func (e *Encoder) spatialReference(sr SpatialReference) {
	e.StartTyped("SpatialReference", "GeographicCoordinateSystem")
	e.Leaf("WKT", sr.WKT)
	e.doubleLeaf("XOrigin", sr.XOrigin)
	e.doubleLeaf("YOrigin", sr.YOrigin)
	e.doubleLeaf("XYScale", sr.XYScale)
	e.doubleLeaf("ZOrigin", sr.ZOrigin)
	e.doubleLeaf("ZScale", sr.ZScale)
	e.doubleLeaf("MOrigin", sr.MOrigin)
	e.doubleLeaf("MScale", sr.MScale)
	e.doubleLeaf("XYTolerance", sr.XYTolerance)
	e.doubleLeaf("ZTolerance", sr.ZTolerance)
	e.doubleLeaf("MTolerance", sr.MTolerance)
	e.boolLeaf("HighPrecision", sr.HighPrecision)
	e.intLeaf("WKID", sr.WKID)
	e.intLeaf("LatestWKID", sr.LatestWKID)
	e.End()
}

// Record writes one record's values, as laid out by Definition.Values.
func (e *Encoder) Record(d *Definition, values []any) {
	e.StartTyped("Record", "Record")
	e.StartTyped("Values", "ArrayOfValue")
	for i, f := range d.Fields {
		e.value(f, values[i])
	}
	e.End()
	e.End()
}

func (e *Encoder) value(f Field, v any) {
	if v == nil {
		e.nilLeaf("Value")
		return
	}
	switch f.Role {
	case RoleShape:
		s, ok := v.(*shape.Shape)
		if !ok {
			e.fail(fmt.Errorf("esri: shape field %s holds %T", f.Name, v))
			return
		}
		e.Shape(*s)
		return
	case RoleLength, RoleArea:
		e.typedLeaf("Value", "xs:double", FormatDouble(v.(float64)))
		return
	}

	switch val := v.(type) {
	case string:
		e.typedLeaf("Value", "xs:string", val)
	case int64:
		e.typedLeaf("Value", "xs:int", strconv.FormatInt(val, 10))
	case float64:
		e.typedLeaf("Value", "xs:double", FormatDouble(val))
	case time.Time:
		e.typedLeaf("Value", "xs:dateTime", val.UTC().Format(DateLayout))
	default:
		e.fail(fmt.Errorf("esri: field %s holds unsupported %T", f.Name, v))
	}
}

func (e *Encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

// Shape writes s as a typed Value element.
func (e *Encoder) Shape(s shape.Shape) {
	switch s.Type.Base() {
	case shape.Point:
		e.StartTyped("Value", "PointN")
		e.coords(s.Points[0], s.HasZ)
		e.End()
	case shape.MultiPoint:
		e.StartTyped("Value", "MultipointN")
		e.shapeFlags(s)
		e.pointArray(s.Points, s.HasZ)
		e.End()
	case shape.Polyline:
		e.StartTyped("Value", "PolylineN")
		e.shapeFlags(s)
		e.StartTyped("PathArray", "ArrayOfPath")
		for _, part := range s.Parts() {
			e.StartTyped("Path", "Path")
			e.pointArray(part, s.HasZ)
			e.End()
		}
		e.End()
		e.End()
	case shape.Polygon:
		e.StartTyped("Value", "PolygonN")
		e.shapeFlags(s)
		e.StartTyped("RingArray", "ArrayOfRing")
		for _, part := range s.Parts() {
			e.StartTyped("Ring", "Ring")
			e.pointArray(part, s.HasZ)
			e.End()
		}
		e.End()
		e.End()
	default:
		e.fail(fmt.Errorf("esri: cannot write shape type %s", s.Type))
	}
}

func (e *Encoder) shapeFlags(s shape.Shape) {
	e.boolLeaf("HasID", false)
	e.boolLeaf("HasZ", s.HasZ)
	e.boolLeaf("HasM", false)
}

func (e *Encoder) pointArray(points []geom.Point, hasZ bool) {
	e.StartTyped("PointArray", "ArrayOfPoint")
	for _, p := range points {
		e.StartTyped("Point", "PointN")
		e.coords(p, hasZ)
		e.End()
	}
	e.End()
}

// coords writes longitude before latitude.
func (e *Encoder) coords(p geom.Point, hasZ bool) {
	e.doubleLeaf("X", p.X)
	e.doubleLeaf("Y", p.Y)
	if hasZ {
		e.doubleLeaf("Z", p.Z)
	}
}

// DefinitionXML renders d as a standalone definition document, as stored in
// a package's item catalog.
func DefinitionXML(d *Definition) (string, error) {
	var buf bytes.Buffer
	e := NewEncoder(&buf, "typens")

	root := "DETableInfo"
	if d.IsFeatureClass() {
		root = "DEFeatureClassInfo"
	}
	e.Start(root,
		xw.Attr{Name: "xsi:type", Value: e.typ(root)},
		xw.Attr{Name: "xmlns:xsi", Value: NamespaceXSI},
		xw.Attr{Name: "xmlns:xs", Value: NamespaceXS},
		xw.Attr{Name: "xmlns:typens", Value: NamespaceESRI},
	)
	e.definitionBody(d)
	e.End()
	if err := e.Flush(); err != nil {
		return "", fmt.Errorf("failed to encode definition of %s: %w", d.Name, err)
	}
	return buf.String(), nil
}
