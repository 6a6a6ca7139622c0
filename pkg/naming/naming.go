// Package naming derives dataset names from container paths and resolves
// collisions between them.
package naming

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"gdb-export/pkg/event"
	"gdb-export/pkg/geom"
	"gdb-export/pkg/schema"
)

// DefaultName is used when a path and kind produce nothing printable.
const DefaultName = "Table"

// Key is what a strategy may look at besides the path.
type Key struct {
	Kind   geom.GeometryType
	Schema *schema.Schema
}

type Strategy interface {
	DeriveName(path []string, key Key) string
}

// unsafe matches runs of characters that are not valid in a dataset name.
// Path separators and dots are among them, so a name is always a plain file
// name.
var unsafe = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

func clean(name string) string {
	return strings.Trim(unsafe.ReplaceAllString(name, "_"), "_")
}

// Basic joins the path with "_" and appends the geometry kind.
type Basic struct{}

func (Basic) DeriveName(path []string, key Key) string {
	parts := make([]string, 0, len(path)+1)
	for _, p := range path {
		if p = clean(p); p != "" {
			parts = append(parts, p)
		}
	}
	if key.Kind != geom.NONE {
		parts = append(parts, string(key.Kind))
	}
	name := clean(strings.Join(parts, "_"))
	if name == "" {
		return DefaultName
	}
	return name
}

// PatternData is the value templates of a Pattern are executed with.
type PatternData struct {
	Path   string
	Parts  []string
	Kind   string
	Schema string
}

// Pattern derives names from per-kind text/template strings such as
// "{{.Path}}_pts". Kinds without a template are named like Basic.
type Pattern struct {
	templates map[geom.GeometryType]*template.Template
	fallback  Basic
}

// NewPattern parses templates keyed by geometry kind name.
func NewPattern(templates map[string]string) (*Pattern, error) {
	p := &Pattern{templates: make(map[geom.GeometryType]*template.Template, len(templates))}
	for kind_name, text := range templates {
		kind, err := geom.ParseType(kind_name)
		if err != nil {
			return nil, &event.ConfigError{Option: "naming pattern", Reason: fmt.Sprintf("unknown geometry kind %q", kind_name), Err: err}
		}
		templ, err := template.New(string(kind)).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, &event.ConfigError{Option: "naming pattern", Reason: fmt.Sprintf("malformed template for %s", kind), Err: err}
		}
		p.templates[kind] = templ
	}
	return p, nil
}

func (p *Pattern) DeriveName(path []string, key Key) string {
	templ, ok := p.templates[key.Kind]
	if !ok {
		return p.fallback.DeriveName(path, key)
	}

	parts := make([]string, 0, len(path))
	for _, c := range path {
		if c = clean(c); c != "" {
			parts = append(parts, c)
		}
	}
	data := PatternData{
		Path:  strings.Join(parts, "_"),
		Parts: parts,
		Kind:  string(key.Kind),
	}
	if key.Schema != nil {
		data.Schema = key.Schema.Name()
	}

	var buf bytes.Buffer
	if err := templ.Execute(&buf, data); err != nil {
		return p.fallback.DeriveName(path, key)
	}
	name := clean(buf.String())
	if name == "" {
		return p.fallback.DeriveName(path, key)
	}
	return name
}
