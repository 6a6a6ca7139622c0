package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gdb-export/pkg/schema"
	"gdb-export/pkg/shape"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrStoreSealed = errors.New("registry: dataset store is sealed for reading")

const readBatchSize = 1024

// store buffers the records of one dataset. Records stay in memory until
// threshold is reached, then every full batch is sunk into a snappy parquet
// file in a private temp dir.
type store struct {
	name      string
	schema    *schema.Schema
	threshold int
	temp_root string
	logger    *zap.Logger

	arrow_schema *arrow.Schema
	records      []Record

	temp_dir  string
	file_path string
	file      *os.File
	writer    *pqarrow.FileWriter
	spilled   int

	sealed   bool
	released bool
}

func newStore(name string, s *schema.Schema, threshold int, temp_root string, logger *zap.Logger) *store {
	fields := s.ArrowFields()
	for i := range fields {
		fields[i].Name = fmt.Sprintf("c%d", i)
	}
	fields = append(fields,
		arrow.Field{Name: "shape", Type: arrow.BinaryTypes.Binary, Nullable: true},
		arrow.Field{Name: "shape_length", Type: arrow.PrimitiveTypes.Float64},
		arrow.Field{Name: "shape_area", Type: arrow.PrimitiveTypes.Float64},
	)
	return &store{
		name:         name,
		schema:       s,
		threshold:    threshold,
		temp_root:    temp_root,
		logger:       logger,
		arrow_schema: arrow.NewSchema(fields, nil),
	}
}

func (st *store) append(rec Record) error {
	if st.sealed {
		return ErrStoreSealed
	}
	st.records = append(st.records, rec)
	if len(st.records) >= st.threshold {
		return st.sink()
	}
	return nil
}

// Len counts buffered plus spilled records.
func (st *store) Len() int { return st.spilled + len(st.records) }

// Spilled reports whether any record has left memory.
func (st *store) Spilled() bool { return st.file_path != "" }

// sink writes the in-memory records to the parquet spill file.
func (st *store) sink() error {
	if len(st.records) == 0 {
		return nil
	}
	if st.writer == nil {
		temp_dir, err := os.MkdirTemp(st.temp_root, "gdb_export_*")
		if err != nil {
			return fmt.Errorf("failed to create temporary directory: %w", err)
		}
		st.temp_dir = temp_dir
		st.file_path = filepath.Join(temp_dir, "records.parquet")

		f, err := os.Create(st.file_path)
		if err != nil {
			return fmt.Errorf("failed to create spill file: %w", err)
		}
		st.file = f

		writer, err := pqarrow.NewFileWriter(
			st.arrow_schema,
			f,
			parquet.NewWriterProperties(
				parquet.WithCompression(compress.Codecs.Snappy)),
			pqarrow.DefaultWriterProps(),
		)
		if err != nil {
			return fmt.Errorf("failed to create parquet writer: %w", err)
		}
		st.writer = writer
	}

	rec, err := st.batch(st.records)
	if err != nil {
		return err
	}
	defer rec.Release()

	if err := st.writer.Write(rec); err != nil {
		return fmt.Errorf("failed to write record batch: %w", err)
	}
	st.logger.Info("dataset spilled to disk",
		zap.String("dataset", st.name),
		zap.Int("records", len(st.records)),
		zap.String("file", st.file_path))

	st.spilled += len(st.records)
	st.records = st.records[:0]
	return nil
}

func (st *store) batch(records []Record) (arrow.RecordBatch, error) {
	builder := array.NewRecordBuilder(memory.DefaultAllocator, st.arrow_schema)
	defer builder.Release()

	n := st.schema.Len()
	for _, rec := range records {
		for i := range n {
			if err := schema.AppendValue(builder.Field(i), rec.Values[i]); err != nil {
				return nil, fmt.Errorf("failed to buffer %s: %w", st.schema.Field(i).Name, err)
			}
		}
		shape_builder := builder.Field(n).(*array.BinaryBuilder)
		if rec.Shape == nil {
			shape_builder.AppendNull()
		} else {
			raw, err := rec.Shape.MarshalBinary()
			if err != nil {
				return nil, fmt.Errorf("failed to encode shape: %w", err)
			}
			shape_builder.Append(raw)
		}
		builder.Field(n + 1).(*array.Float64Builder).Append(rec.Length)
		builder.Field(n + 2).(*array.Float64Builder).Append(rec.Area)
	}
	return builder.NewRecordBatch(), nil
}

// seal stops appends. A spilled store moves its in-memory tail to disk so
// readers only need the file.
func (st *store) seal() error {
	if st.sealed {
		return nil
	}
	st.sealed = true
	if st.writer == nil {
		return nil
	}
	if err := st.sink(); err != nil {
		return err
	}
	err := st.writer.Close()
	st.writer = nil
	st.file = nil
	if err != nil {
		return fmt.Errorf("failed to close spill file: %w", err)
	}
	return nil
}

// Release drops the in-memory records and removes the spill directory.
func (st *store) Release() error {
	if st.released {
		return nil
	}
	st.released = true
	st.records = nil

	var err error
	if st.writer != nil {
		// closes the spill file too
		err = multierr.Append(err, st.writer.Close())
		st.writer = nil
	} else if st.file != nil {
		err = multierr.Append(err, st.file.Close())
	}
	st.file = nil
	if st.temp_dir != "" {
		err = multierr.Append(err, os.RemoveAll(st.temp_dir))
	}
	return err
}

// Reader iterates a dataset's records once, in insertion order.
type Reader struct {
	st   *store
	mem  []Record
	pos  int
	cur  Record
	err  error
	file *os.File
	rr   pqarrow.RecordReader
	rec  arrow.RecordBatch
	row  int
}

func (st *store) reader(ctx context.Context) (*Reader, error) {
	if st.released {
		return nil, fmt.Errorf("dataset %s: store released", st.name)
	}
	if err := st.seal(); err != nil {
		return nil, err
	}
	r := &Reader{st: st}
	if !st.Spilled() {
		r.mem = st.records
		return r, nil
	}

	f, err := os.Open(st.file_path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spill file: %w", err)
	}
	pf, err := file.NewParquetReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read spill file: %w", err)
	}
	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: readBatchSize}, memory.DefaultAllocator)
	if err != nil {
		pf.Close()
		return nil, fmt.Errorf("failed to read spill file: %w", err)
	}
	rr, err := fr.GetRecordReader(ctx, nil, nil)
	if err != nil {
		pf.Close()
		return nil, fmt.Errorf("failed to read spill file: %w", err)
	}
	r.file = f
	r.rr = rr
	return r, nil
}

// Next advances to the next record. It returns false at the end or on error.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}
	if r.rr == nil {
		if r.pos >= len(r.mem) {
			return false
		}
		r.cur = r.mem[r.pos]
		r.pos++
		return true
	}

	for r.rec == nil || r.row >= int(r.rec.NumRows()) {
		if !r.rr.Next() {
			r.err = r.rr.Err()
			return false
		}
		r.rec = r.rr.RecordBatch()
		r.row = 0
	}
	r.cur, r.err = r.decode(r.rec, r.row)
	r.row++
	return r.err == nil
}

func (r *Reader) decode(rec arrow.RecordBatch, row int) (Record, error) {
	n := r.st.schema.Len()
	out := Record{Values: make([]any, n)}
	for i := range n {
		out.Values[i] = schema.ValueAt(rec.Column(i), row)
	}
	if raw, ok := schema.ValueAt(rec.Column(n), row).([]byte); ok {
		s, err := shape.Decode(raw)
		if err != nil {
			return out, fmt.Errorf("failed to decode spilled shape: %w", err)
		}
		out.Shape = &s
	}
	out.Length = rec.Column(n + 1).(*array.Float64).Value(row)
	out.Area = rec.Column(n + 2).(*array.Float64).Value(row)
	return out, nil
}

func (r *Reader) Record() Record { return r.cur }

func (r *Reader) Err() error { return r.err }

func (r *Reader) Close() error {
	if r.rr != nil {
		r.rr.Release()
		r.rr = nil
	}
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}
