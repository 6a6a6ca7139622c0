// Package registry sorts incoming records into datasets, one per distinct
// schema, geometry kind and container path, and buffers what the XML writer
// replays at close.
package registry

import (
	"context"
	"errors"
	"fmt"

	"gdb-export/pkg/event"
	"gdb-export/pkg/geom"
	"gdb-export/pkg/naming"
	"gdb-export/pkg/schema"
	"gdb-export/pkg/shape"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const DefaultSpillThreshold = 10000

var (
	ErrSchemaMismatch = errors.New("registry: attributes do not match schema")
	ErrUnknownKey     = errors.New("registry: unknown group key")
	ErrClosed         = errors.New("registry: closed")
	ErrUndeclared     = errors.New("registry: schema not declared")
)

// IsRecordFault reports whether err concerns only the record that caused it.
func IsRecordFault(err error) bool {
	return errors.Is(err, ErrSchemaMismatch) ||
		errors.Is(err, ErrUndeclared) ||
		errors.Is(err, schema.ErrTypeMismatch) ||
		errors.Is(err, geom.ErrMixedCollection)
}

// GroupKey identifies a dataset.
type GroupKey struct {
	Schema string
	Kind   geom.GeometryType
	Path   string
}

// Record is one row, its values in schema order. Geometry and object-id
// slots are always nil; the shape and its measures travel alongside.
type Record struct {
	Values []any
	Shape  *shape.Shape
	Length float64
	Area   float64
}

type Dataset struct {
	Name   string
	Key    GroupKey
	Schema *schema.Schema
	Path   []string
	Bounds geom.Bounds
	Count  int
	HasZ   bool

	store *store
}

// ShapeType is the shape code every record of the dataset is written with.
func (d *Dataset) ShapeType() shape.Type {
	t := shape.Family(d.Key.Kind)
	if d.HasZ {
		return t.WithZ()
	}
	return t
}

func (d *Dataset) HasGeometry() bool { return d.Key.Kind != geom.NONE }

type Options struct {
	Naming         naming.Strategy
	SpillThreshold int
	TempDir        string
	// Reserved names are never given to a dataset.
	Reserved []string
	Logger   *zap.Logger
	Context  context.Context
}

func (o Options) withDefaults() Options {
	if o.Naming == nil {
		o.Naming = naming.Basic{}
	}
	if o.SpillThreshold <= 0 {
		o.SpillThreshold = DefaultSpillThreshold
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Context == nil {
		o.Context = context.Background()
	}
	return o
}

type Registry struct {
	opts      Options
	allocator *naming.Allocator
	declared  map[string]*schema.Schema
	datasets  map[GroupKey]*Dataset
	order     []GroupKey
	closed    bool
}

func New(opts Options) *Registry {
	opts = opts.withDefaults()
	alloc := naming.NewAllocator()
	alloc.Reserve(opts.Reserved...)
	return &Registry{
		opts:      opts,
		allocator: alloc,
		declared:  make(map[string]*schema.Schema),
		datasets:  make(map[GroupKey]*Dataset),
	}
}

// Declare registers a schema so records can refer to it with schema.Ref.
// A later declaration of the same name replaces the earlier one.
func (r *Registry) Declare(s *schema.Schema) error {
	if r.closed {
		return ErrClosed
	}
	if s == nil || s.IsRef() {
		return fmt.Errorf("%w: a declaration needs fields", ErrSchemaMismatch)
	}
	if s.Name() != "" {
		r.declared[s.Name()] = s
	}
	return nil
}

// Lookup finds a declared schema by name.
func (r *Registry) Lookup(name string) (*schema.Schema, bool) {
	s, ok := r.declared[name]
	return s, ok
}

// declaration swaps a reference for the schema it names.
func (r *Registry) declaration(s *schema.Schema) (*schema.Schema, error) {
	if s == nil || !s.IsRef() {
		return s, nil
	}
	declared, ok := r.Lookup(s.Name())
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUndeclared, s.Name())
	}
	return declared, nil
}

// Add sorts a record into its dataset and buffers it. An empty geometry is
// refused with shape.ErrEmptyGeometry before anything is created.
func (r *Registry) Add(s *schema.Schema, attrs schema.Attributes, g geom.Geometry, path []string) (GroupKey, error) {
	ds, rec, err := r.Resolve(s, attrs, g, path)
	if err != nil {
		return GroupKey{}, err
	}
	if err := ds.store.append(rec); err != nil {
		return ds.Key, fmt.Errorf("failed to buffer record for %s: %w", ds.Name, err)
	}
	return ds.Key, nil
}

// Resolve does what Add does except buffering, returning the dataset and the
// prepared record for the caller to write.
func (r *Registry) Resolve(s *schema.Schema, attrs schema.Attributes, g geom.Geometry, path []string) (*Dataset, Record, error) {
	if r.closed {
		return nil, Record{}, ErrClosed
	}
	s, err := r.declaration(s)
	if err != nil {
		return nil, Record{}, err
	}

	var rec Record
	kind := geom.NONE
	if g != nil {
		if geom.IsEmpty(g) {
			return nil, rec, shape.ErrEmptyGeometry
		}
		normalized, err := geom.Normalize(g)
		if err != nil {
			return nil, rec, err
		}
		sh, err := shape.FromGeometry(normalized)
		if err != nil {
			return nil, rec, err
		}
		kind = normalized.GeometryType()
		rec.Shape = &sh
		rec.Length = geom.Length(normalized)
		rec.Area = geom.Area(normalized)
	}

	if s == nil {
		inferred, err := schema.Infer(attrs)
		if err != nil {
			return nil, rec, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
		}
		s = inferred
	}

	values, err := bind(s, attrs)
	if err != nil {
		return nil, rec, err
	}
	rec.Values = values

	path_key := event.Path{}
	for _, p := range path {
		path_key.Push(p)
	}
	key := GroupKey{Schema: s.Fingerprint(), Kind: kind, Path: path_key.Key()}

	ds, err := r.dataset(key, s, path)
	if err != nil {
		return nil, rec, err
	}
	if ds.store.sealed {
		return ds, rec, fmt.Errorf("failed to buffer record for %s: %w", ds.Name, ErrStoreSealed)
	}
	ds.Count++
	if rec.Shape != nil {
		ds.HasZ = ds.HasZ || rec.Shape.HasZ
		for _, p := range rec.Shape.Points {
			ds.Bounds.ExtendPoint(p)
		}
	}
	return ds, rec, nil
}

// bind orders attrs by the schema and coerces each to its field type.
func bind(s *schema.Schema, attrs schema.Attributes) ([]any, error) {
	values := make([]any, s.Len())
	for _, a := range attrs {
		i, ok := s.Index(a.Name)
		if !ok {
			return nil, fmt.Errorf("%w: no field %q in %s", ErrSchemaMismatch, a.Name, s)
		}
		f := s.Field(i)
		if f.Type == schema.Geometry || f.Type == schema.ObjectID {
			continue
		}
		v, err := schema.Coerce(f.Type, a.Value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		values[i] = v
	}
	return values, nil
}

func (r *Registry) dataset(key GroupKey, s *schema.Schema, path []string) (*Dataset, error) {
	if ds, ok := r.datasets[key]; ok {
		return ds, nil
	}

	comps := make([]string, len(path))
	copy(comps, path)
	base := r.opts.Naming.DeriveName(comps, naming.Key{Kind: key.Kind, Schema: s})
	name, err := r.allocator.Allocate(base, key)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{
		Name:   name,
		Key:    key,
		Schema: s,
		Path:   comps,
		store:  newStore(name, s, r.opts.SpillThreshold, r.opts.TempDir, r.opts.Logger),
	}
	r.datasets[key] = ds
	r.order = append(r.order, key)
	r.opts.Logger.Debug("dataset created",
		zap.String("dataset", name),
		zap.String("kind", string(key.Kind)),
		zap.Strings("path", comps))
	return ds, nil
}

func (r *Registry) Dataset(key GroupKey) (*Dataset, bool) {
	ds, ok := r.datasets[key]
	return ds, ok
}

func (r *Registry) Schema(key GroupKey) (*schema.Schema, error) {
	ds, ok := r.datasets[key]
	if !ok {
		return nil, ErrUnknownKey
	}
	return ds.Schema, nil
}

func (r *Registry) Bounds(key GroupKey) (geom.Bounds, error) {
	ds, ok := r.datasets[key]
	if !ok {
		return geom.Bounds{}, ErrUnknownKey
	}
	return ds.Bounds, nil
}

// Buffer opens a fresh reader over the records buffered for key. The first
// call seals the dataset against further Adds.
func (r *Registry) Buffer(key GroupKey) (*Reader, error) {
	if r.closed {
		return nil, ErrClosed
	}
	ds, ok := r.datasets[key]
	if !ok {
		return nil, ErrUnknownKey
	}
	return ds.store.reader(r.opts.Context)
}

// Keys lists group keys in the order they were first seen.
func (r *Registry) Keys() []GroupKey {
	out := make([]GroupKey, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Len() int { return len(r.order) }

// Close releases every dataset store. It is safe to call more than once.
func (r *Registry) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	for _, key := range r.order {
		if rerr := r.datasets[key].store.Release(); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to release %s: %w", r.datasets[key].Name, rerr))
		}
	}
	return err
}
