// Package source replays interchange documents as visitor events.
package source

import (
	"fmt"
	"sort"

	"gdb-export/pkg/event"
	"gdb-export/pkg/geom"
	"gdb-export/pkg/schema"

	"github.com/paulmach/orb/geojson"
)

type Options struct {
	// Root, when set, wraps every replayed record in a container of that name.
	Root string
	// ContainerProperty groups features into one container per distinct
	// value of this property, in first-seen order. Features without the
	// property stay at the enclosing level.
	ContainerProperty string
}

type pending struct {
	attrs schema.Attributes
	geom  geom.Geometry
}

// ReplayGeoJSON drives v with a GeoJSON FeatureCollection. It calls
// DocumentStart but leaves Close to the caller.
func ReplayGeoJSON(data []byte, v event.Visitor, opts Options) error {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return fmt.Errorf("failed to unmarshal geojson: %w", err)
	}

	groups := newGrouping()
	for _, f := range fc.Features {
		group := ""
		if opts.ContainerProperty != "" {
			if val, ok := f.Properties[opts.ContainerProperty]; ok && val != nil {
				group = fmt.Sprint(val)
			}
		}

		var g geom.Geometry
		if f.Geometry != nil {
			g = geom.FromOrb(f.Geometry)
		}
		groups.add(group, pending{attrs: propertyAttrs(f.Properties), geom: g})
	}

	return replay(v, opts.Root, groups, nil)
}

// propertyAttrs orders properties by key.
func propertyAttrs(props geojson.Properties) schema.Attributes {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make(schema.Attributes, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, schema.Attribute{Name: k, Value: props[k]})
	}
	return attrs
}

type grouping struct {
	order   []string
	members map[string][]pending
}

func newGrouping() *grouping {
	return &grouping{members: make(map[string][]pending)}
}

func (g *grouping) add(name string, p pending) {
	if _, ok := g.members[name]; !ok {
		g.order = append(g.order, name)
	}
	g.members[name] = append(g.members[name], p)
}

// replay emits the grouped records. A non-nil s is declared up front and used
// for every record, otherwise schemas are inferred per record.
func replay(v event.Visitor, root string, groups *grouping, s *schema.Schema) error {
	if err := v.DocumentStart(); err != nil {
		return err
	}
	if root != "" {
		if err := v.ContainerStart(root); err != nil {
			return err
		}
	}
	if s != nil {
		if err := v.Schema(s); err != nil {
			return err
		}
	}

	for _, name := range groups.order {
		if name != "" {
			if err := v.ContainerStart(name); err != nil {
				return err
			}
		}
		for _, p := range groups.members[name] {
			var err error
			if p.geom == nil {
				err = v.Row(s, p.attrs)
			} else {
				err = v.Feature(s, p.attrs, p.geom)
			}
			if err != nil {
				return err
			}
		}
		if name != "" {
			if err := v.ContainerEnd(); err != nil {
				return err
			}
		}
	}

	if root != "" {
		return v.ContainerEnd()
	}
	return nil
}
