package geodiff

import (
	"errors"
	"fmt"
)

const (
	// OpKey holds the change type of a Record.
	OpKey = "_op"
	// OldPrefix prefixes the keys holding previous values.
	OldPrefix = "_old_"
)

var (
	// ErrMissingKey is returned when an update lacks the old value of a
	// primary key column and the row therefore cannot be looked up.
	ErrMissingKey = errors.New("primary key value missing from change")
	// ErrRowNotFound is returned when no reference row matches a key.
	ErrRowNotFound = errors.New("reference row not found")
	// ErrAmbiguousRow is returned when more than one reference row matches.
	ErrAmbiguousRow = errors.New("reference row is ambiguous")
)

// Record is one rendered row. It holds a key per column, a key per column
// with OldPrefix, and OpKey.
type Record map[string]any

// Op returns the change type of the record.
func (r Record) Op() Operation {
	op, _ := r[OpKey].(string)
	return Operation(op)
}

// Reference looks up rows of the base state of a versioned file. Row returns
// the column values in schema order, as scanned from the database.
type Reference interface {
	Row(table *TableSchema, keys []any) ([]any, error)
}

// Render turns the entries of one table into records. Every record has every
// column and every old column, nil when unknown. For updates with a
// reference, the current row seeds both the columns and the old columns, then
// the explicit changes are applied: new values where present, else old
// values. A change with neither is left out. Null geometries never overwrite.
// The schema is validated first, whether or not a change touches every column.
func Render(table *TableSchema, entries []DiffEntry, ref Reference) ([]Record, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	geomIdx := table.GeometryColumnIndex()
	records := make([]Record, 0, len(entries))

	for i, e := range entries {
		if e.Table != table.Name {
			return nil, fmt.Errorf("entry %d belongs to table %q, not %q", i, e.Table, table.Name)
		}

		rec := make(Record, 2*len(table.Columns)+1)
		for _, c := range table.Columns {
			rec[c.Name] = nil
			rec[OldPrefix+c.Name] = nil
		}
		rec[OpKey] = string(e.Type)

		for _, ch := range e.Changes {
			if ch.Column < 0 || ch.Column >= len(table.Columns) {
				return nil, fmt.Errorf("entry %d: column index %d out of range for table %q", i, ch.Column, table.Name)
			}
		}

		if e.Type == OpUpdate && ref != nil {
			if err := seedFromReference(rec, table, e, ref); err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			for _, ch := range e.Changes {
				if !ch.HasOld() {
					continue
				}
				col := table.Columns[ch.Column]
				v, err := decodeValue(col.Datatype, ch.Old)
				if err != nil {
					return nil, fmt.Errorf("entry %d column %q: %w", i, col.Name, err)
				}
				if ch.Column == geomIdx {
					if v == nil {
						continue
					}
					rec[col.Name] = v
				}
				rec[OldPrefix+col.Name] = v
			}
		}

		for _, ch := range e.Changes {
			raw := ch.New
			if !ch.HasNew() {
				raw = ch.Old
			}
			if raw == nil {
				continue
			}
			col := table.Columns[ch.Column]
			v, err := decodeValue(col.Datatype, raw)
			if err != nil {
				return nil, fmt.Errorf("entry %d column %q: %w", i, col.Name, err)
			}
			if ch.Column == geomIdx && v == nil {
				continue
			}
			rec[col.Name] = v
		}

		records = append(records, rec)
	}
	return records, nil
}

func seedFromReference(rec Record, table *TableSchema, e DiffEntry, ref Reference) error {
	keys, err := primaryKeyValues(table, e)
	if err != nil {
		return err
	}
	row, err := ref.Row(table, keys)
	if err != nil {
		return err
	}
	if len(row) != len(table.Columns) {
		return fmt.Errorf("reference row has %d values, table %q has %d columns", len(row), table.Name, len(table.Columns))
	}
	for i, c := range table.Columns {
		v, err := convertDBValue(c.Datatype, row[i])
		if err != nil {
			return fmt.Errorf("reference column %q: %w", c.Name, err)
		}
		rec[c.Name] = v
		rec[OldPrefix+c.Name] = v
	}
	return nil
}

// primaryKeyValues extracts the old value of every primary key column of an
// update, in schema order.
func primaryKeyValues(table *TableSchema, e DiffEntry) ([]any, error) {
	pk := table.PrimaryKeyIndices()
	if len(pk) == 0 {
		return nil, fmt.Errorf("%w: table %q has no primary key", ErrMissingKey, table.Name)
	}
	keys := make([]any, 0, len(pk))
	for _, idx := range pk {
		var found bool
		for _, ch := range e.Changes {
			if ch.Column != idx || !ch.HasOld() {
				continue
			}
			v, err := decodeValue(table.Columns[idx].Datatype, ch.Old)
			if err != nil {
				return nil, fmt.Errorf("primary key %q: %w", table.Columns[idx].Name, err)
			}
			keys = append(keys, v)
			found = true
			break
		}
		if !found {
			return nil, fmt.Errorf("%w: column %q", ErrMissingKey, table.Columns[idx].Name)
		}
	}
	return keys, nil
}
