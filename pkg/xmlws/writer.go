// Package xmlws writes an ESRI XML workspace document. Records are sorted
// and buffered as they arrive; the document is written in one pass on Close,
// definitions first and data after.
package xmlws

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gdb-export/pkg/esri"
	"gdb-export/pkg/event"
	"gdb-export/pkg/geom"
	"gdb-export/pkg/naming"
	"gdb-export/pkg/registry"
	"gdb-export/pkg/schema"
	"gdb-export/pkg/shape"

	xw "github.com/shabbyrobe/xmlwriter"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type State int

const (
	Init State = iota
	WritingDefinitions
	WritingData
	Closed
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case WritingDefinitions:
		return "writing definitions"
	case WritingData:
		return "writing data"
	}
	return "closed"
}

type Options struct {
	Naming         naming.Strategy
	SpillThreshold int
	TempDir        string
	Indent         bool
	ErrorPolicy    event.ErrorPolicy
	Logger         *zap.Logger
	Context        context.Context
}

type Writer struct {
	out    io.Writer
	opts   Options
	logger *zap.Logger

	state    State
	started  bool
	err      error
	path     event.Path
	registry *registry.Registry
	errors   event.Collector
	records  int
	skipped  int
}

var _ event.Visitor = (*Writer)(nil)

// New returns a writer that emits the document to out on Close.
func New(out io.Writer, opts Options) (*Writer, error) {
	if out == nil {
		return nil, &event.ConfigError{Option: "output", Reason: "no writer given"}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Writer{
		out:    out,
		opts:   opts,
		logger: opts.Logger,
		registry: registry.New(registry.Options{
			Naming:         opts.Naming,
			SpillThreshold: opts.SpillThreshold,
			TempDir:        opts.TempDir,
			Logger:         opts.Logger,
			Context:        opts.Context,
		}),
		errors: event.Collector{Policy: opts.ErrorPolicy, Logger: opts.Logger},
	}, nil
}

func (w *Writer) State() State { return w.state }

// RecordErrors lists the record errors collected under event.CollectErrors.
func (w *Writer) RecordErrors() []*event.RecordError { return w.errors.Errors() }

// Skipped counts records dropped for having an empty geometry.
func (w *Writer) Skipped() int { return w.skipped }

func (w *Writer) check() error {
	if w.state == Closed {
		return event.ErrClosed
	}
	return w.err
}

func (w *Writer) fail(err error) error {
	if w.err == nil {
		w.err = err
	}
	return err
}

func (w *Writer) DocumentStart() error {
	if err := w.check(); err != nil {
		return err
	}
	if w.started {
		return w.fail(event.ErrAlreadyStarted)
	}
	w.started = true
	return nil
}

func (w *Writer) ContainerStart(name string) error {
	if err := w.ready(); err != nil {
		return err
	}
	w.path.Push(name)
	return nil
}

func (w *Writer) ContainerEnd() error {
	if err := w.ready(); err != nil {
		return err
	}
	if err := w.path.Pop(); err != nil {
		return w.fail(err)
	}
	return nil
}

func (w *Writer) Schema(s *schema.Schema) error {
	if err := w.ready(); err != nil {
		return err
	}
	return w.registry.Declare(s)
}

func (w *Writer) Feature(s *schema.Schema, attrs schema.Attributes, g geom.Geometry) error {
	if err := w.ready(); err != nil {
		return err
	}
	index := w.records
	w.records++

	key, err := w.registry.Add(s, attrs, g, w.path.Components())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, shape.ErrEmptyGeometry):
		w.skipped++
		w.logger.Debug("empty geometry skipped", zap.Int("index", index), zap.Strings("path", w.path.Components()))
		return nil
	case registry.IsRecordFault(err):
		name := ""
		if ds, ok := w.registry.Dataset(key); ok {
			name = ds.Name
		}
		return w.errors.Handle(&event.RecordError{Dataset: name, Index: index, Err: err})
	}
	return w.fail(err)
}

func (w *Writer) Row(s *schema.Schema, attrs schema.Attributes) error {
	return w.Feature(s, attrs, nil)
}

func (w *Writer) ready() error {
	if err := w.check(); err != nil {
		return err
	}
	if !w.started {
		return event.ErrNotStarted
	}
	return nil
}

// Close writes the document and releases every buffer, whether or not the
// write succeeds.
func (w *Writer) Close() (err error) {
	if w.state == Closed {
		return w.err
	}
	defer func() {
		w.state = Closed
		err = multierr.Append(err, w.registry.Close())
	}()
	if w.err != nil {
		return w.err
	}
	if depth := w.path.Depth(); depth > 0 {
		return w.fail(fmt.Errorf("%w: %d container(s) still open at close", event.ErrUnbalancedContainer, depth))
	}

	var opts []xw.Option
	if w.opts.Indent {
		opts = append(opts, xw.WithIndent())
	}
	enc := esri.NewEncoder(w.out, "esri", opts...)

	w.state = WritingDefinitions
	defs := w.writeDefinitions(enc)
	if err := enc.Err(); err != nil {
		return w.fail(fmt.Errorf("failed to write dataset definitions: %w", err))
	}

	w.state = WritingData
	if err := w.writeData(enc, defs); err != nil {
		return w.fail(err)
	}
	if err := enc.Flush(); err != nil {
		return w.fail(fmt.Errorf("failed to write workspace: %w", err))
	}
	w.logger.Info("workspace written",
		zap.Int("datasets", len(defs)),
		zap.Int("records", w.records),
		zap.Int("skipped", w.skipped),
		zap.Int("record_errors", len(w.errors.Errors())))
	return nil
}

func (w *Writer) writeDefinitions(enc *esri.Encoder) []*esri.Definition {
	enc.StartDoc()
	enc.Start("esri:Workspace",
		xw.Attr{Name: "xmlns:esri", Value: esri.NamespaceESRI},
		xw.Attr{Name: "xmlns:xsi", Value: esri.NamespaceXSI},
		xw.Attr{Name: "xmlns:xs", Value: esri.NamespaceXS},
	)
	enc.StartTyped("WorkspaceDefinition", "WorkspaceDefinition")
	enc.Leaf("WorkspaceType", "esriLocalDatabaseWorkspace")
	enc.Leaf("Version", "")
	enc.StartTyped("Domains", "ArrayOfDomain")
	enc.End()
	enc.StartTyped("DatasetDefinitions", "ArrayOfDataElement")

	keys := w.registry.Keys()
	defs := make([]*esri.Definition, 0, len(keys))
	for i, key := range keys {
		ds, _ := w.registry.Dataset(key)
		def := esri.NewDefinition(ds, i+1)
		enc.DataElement(def)
		defs = append(defs, def)
	}
	enc.End()
	enc.StartTyped("Metadata", "XmlPropertySet")
	enc.Leaf("XmlDoc", "")
	enc.End()
	enc.End()
	return defs
}

func (w *Writer) writeData(enc *esri.Encoder, defs []*esri.Definition) error {
	enc.StartTyped("WorkspaceData", "WorkspaceData")
	for i, key := range w.registry.Keys() {
		ds, _ := w.registry.Dataset(key)
		if !ds.HasGeometry() {
			continue
		}
		if err := w.writeDataset(enc, key, defs[i]); err != nil {
			return err
		}
	}
	enc.End()
	enc.End()
	if err := enc.Err(); err != nil {
		return fmt.Errorf("failed to write workspace data: %w", err)
	}
	return nil
}

func (w *Writer) writeDataset(enc *esri.Encoder, key registry.GroupKey, def *esri.Definition) error {
	rd, err := w.registry.Buffer(key)
	if err != nil {
		return fmt.Errorf("failed to read buffered records of %s: %w", def.Name, err)
	}
	defer rd.Close()

	enc.StartTyped("DatasetData", "TableData")
	enc.Leaf("DatasetName", def.Name)
	enc.Leaf("DatasetType", def.DatasetType)
	enc.StartTyped("Data", "RecordSet")
	enc.Fields(def)
	enc.StartTyped("Records", "ArrayOfRecord")

	var oid int64
	for index := 0; rd.Next(); index++ {
		values, err := def.Values(rd.Record(), oid+1)
		if err != nil {
			if herr := w.errors.Handle(&event.RecordError{Dataset: def.Name, Index: index, Err: err}); herr != nil {
				return herr
			}
			continue
		}
		oid++
		enc.Record(def, values)
		if err := enc.Err(); err != nil {
			return fmt.Errorf("failed to write record of %s: %w", def.Name, err)
		}
	}
	if err := rd.Err(); err != nil {
		return fmt.Errorf("failed to read buffered records of %s: %w", def.Name, err)
	}

	enc.End()
	enc.End()
	enc.End()
	return enc.Err()
}
