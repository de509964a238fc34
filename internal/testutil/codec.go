package testutil

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/samber/lo"

	"geosync/internal/geodiff"
)

// FakeCodec is a changeset codec over key/value text files: one "key=value"
// line per record, sorted by key. A changeset lists the keys whose value
// changed with their old and new value; a nil value means the key is absent.
// Applying a changeset fails when the target does not hold the old value,
// as a real codec fails on a conflicting row.
type FakeCodec struct {
	// Applied counts successful ApplyChangeset calls.
	Applied atomic.Int64
}

type kvChange struct {
	Key string  `json:"key"`
	Old *string `json:"old"`
	New *string `json:"new"`
}

// KVTable is the single table a FakeCodec reports.
const KVTable = "kv"

// KVFile renders records in the format FakeCodec reads.
func KVFile(records map[string]string) []byte {
	keys := lo.Keys(records)
	slices.Sort(keys)
	var b bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, records[k])
	}
	return b.Bytes()
}

func readKV(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%s: malformed record %q", path, line)
		}
		out[k] = v
	}
	return out, sc.Err()
}

func readChanges(path string) ([]kvChange, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var changes []kvChange
	if err := json.Unmarshal(data, &changes); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return changes, nil
}

func (c *FakeCodec) ComputeChangeset(ctx context.Context, base, modified, changeset string) error {
	a, err := readKV(base)
	if err != nil {
		return err
	}
	b, err := readKV(modified)
	if err != nil {
		return err
	}
	return writeChangeset(a, b, changeset)
}

// writeChangeset records the keys whose value differs between a and b.
func writeChangeset(a, b map[string]string, changeset string) error {
	keys := lo.Uniq(append(lo.Keys(a), lo.Keys(b)...))
	slices.Sort(keys)

	changes := []kvChange{}
	for _, k := range keys {
		old, inA := a[k]
		nv, inB := b[k]
		if inA && inB && old == nv {
			continue
		}
		ch := kvChange{Key: k}
		if inA {
			ch.Old = &old
		}
		if inB {
			ch.New = &nv
		}
		changes = append(changes, ch)
	}
	data, err := json.Marshal(changes)
	if err != nil {
		return err
	}
	return os.WriteFile(changeset, data, 0644)
}

func (c *FakeCodec) ApplyChangeset(ctx context.Context, target, changeset string) error {
	records, err := readKV(target)
	if err != nil {
		return err
	}
	changes, err := readChanges(changeset)
	if err != nil {
		return err
	}
	for _, ch := range changes {
		cur, ok := records[ch.Key]
		if ok != (ch.Old != nil) || (ok && cur != *ch.Old) {
			return fmt.Errorf("conflict on key %q", ch.Key)
		}
		if ch.New == nil {
			delete(records, ch.Key)
		} else {
			records[ch.Key] = *ch.New
		}
	}
	if err := os.WriteFile(target, KVFile(records), 0644); err != nil {
		return err
	}
	c.Applied.Add(1)
	return nil
}

func rawString(s *string) json.RawMessage {
	if s == nil {
		return nil
	}
	data, _ := json.Marshal(*s)
	return data
}

func (c *FakeCodec) ListChanges(ctx context.Context, changeset string) ([]geodiff.DiffEntry, error) {
	changes, err := readChanges(changeset)
	if err != nil {
		return nil, err
	}
	var entries []geodiff.DiffEntry
	for _, ch := range changes {
		key := rawString(&ch.Key)
		e := geodiff.DiffEntry{Table: KVTable}
		switch {
		case ch.Old == nil:
			e.Type = geodiff.OpInsert
			e.Changes = []geodiff.Change{{Column: 0, New: key}, {Column: 1, New: rawString(ch.New)}}
		case ch.New == nil:
			e.Type = geodiff.OpDelete
			e.Changes = []geodiff.Change{{Column: 0, Old: key}, {Column: 1, Old: rawString(ch.Old)}}
		default:
			e.Type = geodiff.OpUpdate
			e.Changes = []geodiff.Change{{Column: 0, Old: key}, {Column: 1, Old: rawString(ch.Old), New: rawString(ch.New)}}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (c *FakeCodec) Schema(ctx context.Context, db string) (geodiff.Schema, error) {
	return geodiff.Schema{
		KVTable: {
			Name: KVTable,
			Columns: []geodiff.ColumnSchema{
				{Name: "key", Datatype: geodiff.TypeText, PrimaryKey: true},
				{Name: "value", Datatype: geodiff.TypeText},
			},
		},
	}, nil
}
