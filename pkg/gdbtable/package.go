package gdbtable

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/duckdb/duckdb-go/v2"
	"github.com/klauspost/compress/zip"
)

// zipDir packs dir into target, rooted at dir's base name.
func zipDir(dir, target string) (err error) {
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create package: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close package: %w", cerr)
		}
	}()

	zw := zip.NewWriter(f)
	root := filepath.Base(dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}
	if _, err := zw.Create(root + "/"); err != nil {
		return fmt.Errorf("failed to write package: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := addFile(zw, filepath.Join(dir, entry.Name()), root+"/"+entry.Name()); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish package: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to describe %s: %w", path, err)
	}
	header.Name = name
	header.Method = zip.Deflate

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to write package entry %s: %w", name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to write package entry %s: %w", name, err)
	}
	return nil
}

// extract unpacks a package into a new temp dir and returns the .gdb
// directory inside it.
func extract(path string) (root, gdb_dir string, err error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to open package: %w", err)
	}
	defer zr.Close()

	root, err = os.MkdirTemp("", "gdb_inspect_*")
	if err != nil {
		return "", "", fmt.Errorf("failed to create temporary directory: %w", err)
	}
	for _, f := range zr.File {
		name := filepath.Clean(filepath.FromSlash(f.Name))
		if strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
			os.RemoveAll(root)
			return "", "", fmt.Errorf("package entry %s escapes the package", f.Name)
		}
		dest := filepath.Join(root, name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0755); err != nil {
				os.RemoveAll(root)
				return "", "", err
			}
			gdb_dir = dest
			continue
		}
		if err := extractFile(f, dest); err != nil {
			os.RemoveAll(root)
			return "", "", err
		}
		gdb_dir = filepath.Dir(dest)
	}
	if gdb_dir == "" {
		os.RemoveAll(root)
		return "", "", fmt.Errorf("package %s is empty", path)
	}
	return root, gdb_dir, nil
}

func extractFile(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to read package entry %s: %w", f.Name, err)
	}
	defer src.Close()

	dst, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	return dst.Close()
}

type TableInfo struct {
	Name    string
	Rows    int64
	Columns []string
}

// Summary describes a written package.
type Summary struct {
	Name   string
	Tables []TableInfo
	Items  []Item
}

// Package opens a written package for reading. Close removes the extracted
// copy.
type Package struct {
	root      string
	dir       string
	connector *duckdb.Connector
	db        *sql.DB
}

func OpenPackage(path string) (*Package, error) {
	root, dir, err := extract(path)
	if err != nil {
		return nil, err
	}
	connector, err := duckdb.NewConnector("", nil)
	if err != nil {
		os.RemoveAll(root)
		return nil, fmt.Errorf("failed to create duckdb connector: %w", err)
	}
	return &Package{root: root, dir: dir, connector: connector, db: sql.OpenDB(connector)}, nil
}

func (p *Package) Close() error {
	err := p.db.Close()
	if rerr := os.RemoveAll(p.root); err == nil {
		err = rerr
	}
	return err
}

func (p *Package) file(table string) string {
	return filepath.Join(p.dir, table+".parquet")
}

// Tables lists the dataset tables, catalog excluded, by name.
func (p *Package) Tables() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".parquet")
		if ok && name != ItemsTable {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Rows reads every row of table as column name to value.
func (p *Package) Rows(ctx context.Context, table string) ([]map[string]any, error) {
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM read_parquet(%s)", quoteLiteral(p.file(table))))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		row := make(map[string]any, len(columns))
		for i, c := range columns {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (p *Package) info(ctx context.Context, table string) (TableInfo, error) {
	info := TableInfo{Name: table}
	src := fmt.Sprintf("read_parquet(%s)", quoteLiteral(p.file(table)))

	rows, err := p.db.QueryContext(ctx, "SELECT * FROM "+src+" LIMIT 0")
	if err != nil {
		return info, fmt.Errorf("failed to query %s: %w", table, err)
	}
	info.Columns, err = rows.Columns()
	rows.Close()
	if err != nil {
		return info, err
	}

	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM "+src).Scan(&info.Rows); err != nil {
		return info, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return info, nil
}

// Items reads the item catalog.
func (p *Package) Items(ctx context.Context) ([]Item, error) {
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT UUID, Type, Name, PhysicalName, Path, Definition FROM read_parquet(%s)",
		quoteLiteral(catalogFile(p.dir))))
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.UUID, &it.Type, &it.Name, &it.PhysicalName, &it.Path, &it.Definition); err != nil {
			return nil, fmt.Errorf("failed to scan catalog: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Inspect summarizes the package at path.
func Inspect(ctx context.Context, path string) (*Summary, error) {
	p, err := OpenPackage(path)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	summary := &Summary{Name: filepath.Base(p.dir)}
	tables, err := p.Tables()
	if err != nil {
		return nil, err
	}
	for _, name := range tables {
		info, err := p.info(ctx, name)
		if err != nil {
			return nil, err
		}
		summary.Tables = append(summary.Tables, info)
	}
	if summary.Items, err = p.Items(ctx); err != nil {
		return nil, err
	}
	return summary, nil
}
