package geodiff

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Operation is the kind of row change.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Change is one column of a row change. A nil Old or New means the key was
// absent, which for updates means "value not changed". A present JSON null is
// kept as the raw message "null".
type Change struct {
	Column int
	Old    json.RawMessage
	New    json.RawMessage
}

// HasOld reports whether the change carries an old value.
func (c Change) HasOld() bool { return c.Old != nil }

// HasNew reports whether the change carries a new value.
func (c Change) HasNew() bool { return c.New != nil }

func (c *Change) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	col, ok := raw["column"]
	if !ok {
		return fmt.Errorf("change without column index")
	}
	if err := json.Unmarshal(col, &c.Column); err != nil {
		return fmt.Errorf("column index: %w", err)
	}
	c.Old = raw["old"]
	c.New = raw["new"]
	return nil
}

func (c Change) MarshalJSON() ([]byte, error) {
	m := map[string]any{"column": c.Column}
	if c.HasOld() {
		m["old"] = c.Old
	}
	if c.HasNew() {
		m["new"] = c.New
	}
	return json.Marshal(m)
}

// DiffEntry is one row-level change as listed by the codec.
type DiffEntry struct {
	Table   string    `json:"table"`
	Type    Operation `json:"type"`
	Changes []Change  `json:"changes"`
}

// ParseChanges decodes the codec's change listing: {"geodiff": [...]}.
func ParseChanges(r io.Reader) ([]DiffEntry, error) {
	var doc struct {
		Entries []DiffEntry `json:"geodiff"`
	}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding changes: %w", err)
	}
	for i, e := range doc.Entries {
		switch e.Type {
		case OpInsert, OpUpdate, OpDelete:
		default:
			return nil, fmt.Errorf("entry %d: unknown change type %q", i, e.Type)
		}
	}
	return doc.Entries, nil
}

// IsMetadataTable reports whether a table holds GeoPackage bookkeeping rather
// than user data.
func IsMetadataTable(name string) bool {
	return strings.HasPrefix(name, "gpkg_")
}

// TableChanges is the list of entries for one table, in listing order.
type TableChanges struct {
	Table   string
	Entries []DiffEntry
}

// GroupByTable splits entries per table, keeping first-appearance order of
// tables and listing order of entries. Metadata tables are skipped.
func GroupByTable(entries []DiffEntry) []TableChanges {
	var groups []TableChanges
	index := make(map[string]int)
	for _, e := range entries {
		if IsMetadataTable(e.Table) {
			continue
		}
		i, ok := index[e.Table]
		if !ok {
			i = len(groups)
			index[e.Table] = i
			groups = append(groups, TableChanges{Table: e.Table})
		}
		groups[i].Entries = append(groups[i].Entries, e)
	}
	return groups
}
