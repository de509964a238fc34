// Package geodiff turns the JSON output of the changeset codec into
// structured per-row records for inspection.
package geodiff

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Datatypes reported by the codec's schema introspection.
const (
	TypeInteger  = "integer"
	TypeText     = "text"
	TypeDouble   = "double"
	TypeDate     = "date"
	TypeDatetime = "datetime"
	TypeBoolean  = "boolean"
	TypeBlob     = "blob"
	TypeGeometry = "geometry"
)

// ErrUnknownDatatype is returned for a column whose datatype is not supported.
var ErrUnknownDatatype = errors.New("unknown column datatype")

// ColumnSchema describes one column of a versioned table.
type ColumnSchema struct {
	Name       string `json:"name"`
	Datatype   string `json:"type"`
	PrimaryKey bool   `json:"primary_key"`
}

// TableSchema describes a versioned table. Columns are in table order.
type TableSchema struct {
	Name    string         `json:"table"`
	Columns []ColumnSchema `json:"columns"`
}

// GeometryColumnIndex returns the index of the geometry column or -1.
func (t *TableSchema) GeometryColumnIndex() int {
	for i, c := range t.Columns {
		if c.Datatype == TypeGeometry {
			return i
		}
	}
	return -1
}

// PrimaryKeyIndices returns the indices of the primary key columns.
func (t *TableSchema) PrimaryKeyIndices() []int {
	var idx []int
	for i, c := range t.Columns {
		if c.PrimaryKey {
			idx = append(idx, i)
		}
	}
	return idx
}

// Validate checks every datatype and that at most one geometry column exists.
func (t *TableSchema) Validate() error {
	geometries := 0
	for _, c := range t.Columns {
		switch c.Datatype {
		case TypeInteger, TypeText, TypeDouble, TypeDate, TypeDatetime, TypeBoolean, TypeBlob:
		case TypeGeometry:
			geometries++
		default:
			return fmt.Errorf("%w %q for column %q of table %q", ErrUnknownDatatype, c.Datatype, c.Name, t.Name)
		}
	}
	if geometries > 1 {
		return fmt.Errorf("table %q has %d geometry columns", t.Name, geometries)
	}
	return nil
}

// Schema maps table names to their schema.
type Schema map[string]*TableSchema

// ParseSchema decodes the codec's schema JSON: {"geodiff_schema": [...]}.
// Every table is validated.
func ParseSchema(r io.Reader) (Schema, error) {
	var doc struct {
		Tables []*TableSchema `json:"geodiff_schema"`
	}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding schema: %w", err)
	}

	schema := make(Schema, len(doc.Tables))
	for _, t := range doc.Tables {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		schema[t.Name] = t
	}
	return schema, nil
}
