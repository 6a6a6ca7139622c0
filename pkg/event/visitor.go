// Package event defines the stream of callbacks a producer drives a writer
// with, the container path that stream implies, and the errors writers report.
package event

import (
	"gdb-export/pkg/geom"
	"gdb-export/pkg/schema"
)

// Visitor receives one export in order: DocumentStart, any mix of container,
// schema, feature and row events, then Close. A writer is bound to a single
// output and is not safe for concurrent use.
type Visitor interface {
	DocumentStart() error
	ContainerStart(name string) error
	ContainerEnd() error
	// Schema declares a schema ahead of the records that reference it.
	Schema(s *schema.Schema) error
	// Feature records attributes with a geometry. A nil schema means the
	// schema is inferred from attrs.
	Feature(s *schema.Schema, attrs schema.Attributes, g geom.Geometry) error
	// Row records attributes without a geometry.
	Row(s *schema.Schema, attrs schema.Attributes) error
	Close() error
}
