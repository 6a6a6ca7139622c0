package gdbtable

import (
	"fmt"
	"path/filepath"
	"strings"

	"gdb-export/pkg/esri"

	"github.com/google/uuid"
)

// ItemsTable is the catalog table listing every dataset of a package.
const ItemsTable = "GDB_Items"

// Item type identifiers.
const (
	ItemTypeFeatureClass = "{70737809-852C-4A03-9E22-2CECEA5B9BFA}"
	ItemTypeTable        = "{CD06BC3B-789D-4C51-AAFA-A467912B8965}"
)

type Item struct {
	UUID         string
	Type         string
	Name         string
	PhysicalName string
	Path         string
	Definition   string
}

func newItem(def *esri.Definition) (Item, error) {
	xml, err := esri.DefinitionXML(def)
	if err != nil {
		return Item{}, err
	}
	item_type := ItemTypeTable
	if def.IsFeatureClass() {
		item_type = ItemTypeFeatureClass
	}
	return Item{
		UUID:         "{" + strings.ToUpper(uuid.NewString()) + "}",
		Type:         item_type,
		Name:         def.Name,
		PhysicalName: strings.ToUpper(def.Name),
		Path:         `\` + def.Name,
		Definition:   xml,
	}, nil
}

func (w *Writer) writeCatalog(items []Item, dir string) error {
	create := fmt.Sprintf(`CREATE TABLE %s (
		UUID VARCHAR,
		Type VARCHAR,
		Name VARCHAR,
		PhysicalName VARCHAR,
		Path VARCHAR,
		Definition VARCHAR
	)`, quoteIdent(ItemsTable))
	if _, err := w.db.ExecContext(w.ctx, create); err != nil {
		return fmt.Errorf("failed to create catalog table: %w", err)
	}

	tx, err := w.db.BeginTx(w.ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insert := fmt.Sprintf(`INSERT INTO %s (UUID, Type, Name, PhysicalName, Path, Definition) VALUES (?, ?, ?, ?, ?, ?)`, quoteIdent(ItemsTable))
	for _, item := range items {
		if _, err := tx.ExecContext(w.ctx, insert, item.UUID, item.Type, item.Name, item.PhysicalName, item.Path, item.Definition); err != nil {
			return fmt.Errorf("failed to insert catalog record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return w.export(ItemsTable, dir)
}

// catalogFile is where a package keeps its item catalog.
func catalogFile(dir string) string {
	return filepath.Join(dir, ItemsTable+".parquet")
}
