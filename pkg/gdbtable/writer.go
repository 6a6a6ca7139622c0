// Package gdbtable writes a table-oriented geodatabase package. Each dataset
// becomes a DuckDB table that rows are appended to as they arrive; Close
// exports the tables and an item catalog as parquet into a .gdb directory and
// zips it into the target file.
package gdbtable

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gdb-export/pkg/esri"
	"gdb-export/pkg/event"
	"gdb-export/pkg/geom"
	"gdb-export/pkg/naming"
	"gdb-export/pkg/registry"
	"gdb-export/pkg/schema"
	"gdb-export/pkg/shape"

	"github.com/duckdb/duckdb-go/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type State int

const (
	Open State = iota
	Closed
)

type Options struct {
	Naming naming.Strategy
	// ScratchDir holds the working database and the .gdb directory. When
	// empty a temp dir is created and removed on Close.
	ScratchDir string
	// TempDir is the parent of a created scratch dir.
	TempDir     string
	KeepScratch bool
	ErrorPolicy event.ErrorPolicy
	Logger      *zap.Logger
	Context     context.Context
}

type table struct {
	ds       *registry.Dataset
	def      *esri.Definition
	appender *duckdb.Appender
	oid      int64
}

type Writer struct {
	target string
	base   string
	opts   Options
	ctx    context.Context
	logger *zap.Logger

	scratch     string
	own_scratch bool
	connector   *duckdb.Connector
	db          *sql.DB
	conn        driver.Conn

	state    State
	started  bool
	err      error
	path     event.Path
	registry *registry.Registry
	tables   map[registry.GroupKey]*table
	order    []registry.GroupKey
	errors   event.Collector
	records  int
	skipped  int
}

var _ event.Visitor = (*Writer)(nil)

// PackageName derives the .gdb directory name from a target path such as
// "out/roads.gdb.zip" or "out/roads.zip".
func PackageName(target string) string {
	base := filepath.Base(target)
	base = strings.TrimSuffix(base, ".zip")
	base = strings.TrimSuffix(base, ".gdb")
	if base == "" || base == "." {
		base = "export"
	}
	return base
}

// New prepares a package written to target on Close.
func New(target string, opts Options) (*Writer, error) {
	if strings.TrimSpace(target) == "" {
		return nil, &event.ConfigError{Option: "target", Reason: "no target path given"}
	}
	if info, err := os.Stat(filepath.Dir(target)); err != nil || !info.IsDir() {
		return nil, &event.ConfigError{Option: "target", Reason: fmt.Sprintf("directory of %s does not exist", target), Err: err}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}

	w := &Writer{
		target: target,
		base:   PackageName(target),
		opts:   opts,
		ctx:    opts.Context,
		logger: opts.Logger,
		tables: make(map[registry.GroupKey]*table),
		errors: event.Collector{Policy: opts.ErrorPolicy, Logger: opts.Logger},
	}

	w.scratch = opts.ScratchDir
	if w.scratch == "" {
		dir, err := os.MkdirTemp(opts.TempDir, "gdb_export_*")
		if err != nil {
			return nil, fmt.Errorf("failed to create scratch directory: %w", err)
		}
		w.scratch = dir
		w.own_scratch = true
	} else if err := os.MkdirAll(w.scratch, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	if err := w.openDatabase(); err != nil {
		return nil, multierr.Append(err, w.release())
	}

	w.registry = registry.New(registry.Options{
		Naming:   opts.Naming,
		Reserved: []string{ItemsTable},
		Logger:   opts.Logger,
		Context:  opts.Context,
	})
	return w, nil
}

func (w *Writer) openDatabase() error {
	connector, err := duckdb.NewConnector(filepath.Join(w.scratch, w.base+".duckdb"), nil)
	if err != nil {
		return fmt.Errorf("failed to create duckdb connector: %w", err)
	}
	w.connector = connector
	w.db = sql.OpenDB(connector)

	conn, err := connector.Connect(w.ctx)
	if err != nil {
		return fmt.Errorf("failed to get db connection: %w", err)
	}
	w.conn = conn
	return nil
}

func (w *Writer) State() State { return w.state }

func (w *Writer) RecordErrors() []*event.RecordError { return w.errors.Errors() }

func (w *Writer) Skipped() int { return w.skipped }

// Scratch is the directory the package is assembled in.
func (w *Writer) Scratch() string { return w.scratch }

func (w *Writer) check() error {
	if w.state == Closed {
		return event.ErrClosed
	}
	return w.err
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

// Feature appends the record to its dataset's table immediately.
func (w *Writer) Feature(s *schema.Schema, attrs schema.Attributes, g geom.Geometry) error {
	if err := w.ready(); err != nil {
		return err
	}
	index := w.records
	w.records++

	ds, rec, err := w.registry.Resolve(s, attrs, g, w.path.Components())
	switch {
	case err == nil:
	case errors.Is(err, shape.ErrEmptyGeometry):
		w.skipped++
		w.logger.Debug("empty geometry skipped", zap.Int("index", index), zap.Strings("path", w.path.Components()))
		return nil
	case registry.IsRecordFault(err):
		return w.errors.Handle(&event.RecordError{Index: index, Err: err})
	default:
		return w.fail(err)
	}

	t, err := w.table(ds)
	if err != nil {
		return w.fail(err)
	}
	values, err := t.def.Values(rec, t.oid+1)
	if err != nil {
		return w.errors.Handle(&event.RecordError{Dataset: ds.Name, Index: index, Err: err})
	}
	row := make([]driver.Value, len(values))
	for i, v := range values {
		if sh, ok := v.(*shape.Shape); ok {
			raw, err := sh.MarshalBinary()
			if err != nil {
				return w.fail(fmt.Errorf("failed to encode shape: %w", err))
			}
			v = raw
		}
		row[i] = v
	}
	if err := t.appender.AppendRow(row...); err != nil {
		return w.fail(fmt.Errorf("failed to append row to %s: %w", ds.Name, err))
	}
	t.oid++
	return nil
}

func (w *Writer) Row(s *schema.Schema, attrs schema.Attributes) error {
	return w.Feature(s, attrs, nil)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func columnType(f esri.Field) string {
	switch f.Type {
	case esri.FieldTypeOID:
		return "BIGINT NOT NULL"
	case esri.FieldTypeInteger:
		return "BIGINT"
	case esri.FieldTypeDouble:
		return "DOUBLE"
	case esri.FieldTypeDate:
		return "TIMESTAMP"
	case esri.FieldTypeGeometry:
		return "BLOB"
	}
	return "VARCHAR"
}

// table creates the dataset's table the first time it is seen.
func (w *Writer) table(ds *registry.Dataset) (*table, error) {
	if t, ok := w.tables[ds.Key]; ok {
		return t, nil
	}
	def := esri.NewDefinition(ds, len(w.order)+1)

	columns := make([]string, 0, len(def.Fields))
	for _, f := range def.Fields {
		columns = append(columns, quoteIdent(f.Name)+" "+columnType(f))
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(ds.Name), strings.Join(columns, ", "))
	if _, err := w.db.ExecContext(w.ctx, ddl); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", ds.Name, err)
	}

	appender, err := duckdb.NewAppenderFromConn(w.conn, "", ds.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create appender for %s: %w", ds.Name, err)
	}

	t := &table{ds: ds, def: def, appender: appender}
	w.tables[ds.Key] = t
	w.order = append(w.order, ds.Key)
	w.logger.Debug("table created", zap.String("table", ds.Name), zap.Int("fields", len(def.Fields)))
	return t, nil
}

// Close finishes the package. Scratch state is released on every path.
func (w *Writer) Close() (err error) {
	if w.state == Closed {
		return w.err
	}
	defer func() {
		w.state = Closed
		err = multierr.Append(err, w.release())
	}()
	if w.err != nil {
		return w.err
	}
	if depth := w.path.Depth(); depth > 0 {
		return w.fail(fmt.Errorf("%w: %d container(s) still open at close", event.ErrUnbalancedContainer, depth))
	}

	for _, key := range w.order {
		t := w.tables[key]
		aerr := t.appender.Close()
		t.appender = nil
		if aerr != nil {
			return w.fail(fmt.Errorf("failed to flush table %s: %w", t.ds.Name, aerr))
		}
	}

	gdb_dir := filepath.Join(w.scratch, w.base+".gdb")
	if err := os.RemoveAll(gdb_dir); err != nil {
		return w.fail(fmt.Errorf("failed to clear %s: %w", gdb_dir, err))
	}
	if err := os.MkdirAll(gdb_dir, 0755); err != nil {
		return w.fail(fmt.Errorf("failed to create %s: %w", gdb_dir, err))
	}

	items := make([]Item, 0, len(w.order))
	for i, key := range w.order {
		t := w.tables[key]
		if err := w.export(t.ds.Name, gdb_dir); err != nil {
			return w.fail(err)
		}
		item, err := newItem(esri.NewDefinition(t.ds, i+1))
		if err != nil {
			return w.fail(err)
		}
		items = append(items, item)
	}
	if err := w.writeCatalog(items, gdb_dir); err != nil {
		return w.fail(err)
	}
	if err := zipDir(gdb_dir, w.target); err != nil {
		return w.fail(err)
	}

	w.logger.Info("package written",
		zap.String("target", w.target),
		zap.Int("tables", len(w.order)),
		zap.Int("records", w.records),
		zap.Int("skipped", w.skipped),
		zap.Int("record_errors", len(w.errors.Errors())))
	return nil
}

func (w *Writer) export(name, dir string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return fmt.Errorf("table name %q is not a plain file name", name)
	}
	file := filepath.Join(dir, name+".parquet")
	copy_sql := fmt.Sprintf("COPY %s TO %s (FORMAT PARQUET)", quoteIdent(name), quoteLiteral(file))
	if _, err := w.db.ExecContext(w.ctx, copy_sql); err != nil {
		return fmt.Errorf("failed to export %s parquet: %w", name, err)
	}
	return nil
}

func (w *Writer) release() error {
	var err error
	for _, key := range w.order {
		if t := w.tables[key]; t.appender != nil {
			err = multierr.Append(err, t.appender.Close())
			t.appender = nil
		}
	}
	if w.registry != nil {
		err = multierr.Append(err, w.registry.Close())
	}
	if w.conn != nil {
		err = multierr.Append(err, w.conn.Close())
		w.conn = nil
	}
	if w.db != nil {
		// also closes the connector
		err = multierr.Append(err, w.db.Close())
		w.db = nil
	} else if w.connector != nil {
		err = multierr.Append(err, w.connector.Close())
	}
	w.connector = nil
	if w.own_scratch && !w.opts.KeepScratch {
		err = multierr.Append(err, os.RemoveAll(w.scratch))
	}
	return err
}
