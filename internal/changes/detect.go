// Package changes classifies the difference between two file inventories.
package changes

import (
	"github.com/samber/lo"

	"geosync/internal/model"
)

// Detect compares an origin inventory with a current one and classifies every
// difference as added, removed, updated or renamed.
//
// A removed file is paired as a rename with the first file in current (in list
// order) that has the same checksum and size and has not already been claimed
// by an earlier rename. Removed files are considered in origin order, so the
// pairing is deterministic but purely positional when duplicates exist.
func Detect(origin, current []model.FileEntry) model.ChangeSet {
	originByPath := lo.KeyBy(origin, func(e model.FileEntry) string { return e.Path })
	currentByPath := lo.KeyBy(current, func(e model.FileEntry) string { return e.Path })

	var cs model.ChangeSet

	var removed []model.FileEntry
	for _, e := range origin {
		if _, ok := currentByPath[e.Path]; !ok {
			removed = append(removed, e)
		}
	}

	var added []model.FileEntry
	for _, e := range current {
		prev, ok := originByPath[e.Path]
		if !ok {
			added = append(added, e)
			continue
		}
		if prev.Checksum != e.Checksum {
			cs.Updated = append(cs.Updated, e)
		}
	}

	addedPaths := lo.SliceToMap(added, func(e model.FileEntry) (string, bool) { return e.Path, true })
	claimed := make(map[string]bool)
	pairedOrigin := make(map[string]bool)

	for _, r := range removed {
		for _, c := range current {
			if !addedPaths[c.Path] || claimed[c.Path] {
				continue
			}
			if c.Checksum != r.Checksum || c.Size != r.Size {
				continue
			}
			claimed[c.Path] = true
			pairedOrigin[r.Path] = true
			cs.Renamed = append(cs.Renamed, model.RenamedEntry{FileEntry: r, NewPath: c.Path})
			break
		}
	}

	cs.Removed = lo.Filter(removed, func(e model.FileEntry, _ int) bool { return !pairedOrigin[e.Path] })
	cs.Added = lo.Filter(added, func(e model.FileEntry, _ int) bool { return !claimed[e.Path] })
	return cs
}

// Paths returns every path touched by the change set. For renames both the
// origin and the new path are included.
func Paths(cs model.ChangeSet) []string {
	var paths []string
	for _, e := range cs.Added {
		paths = append(paths, e.Path)
	}
	for _, e := range cs.Removed {
		paths = append(paths, e.Path)
	}
	for _, e := range cs.Updated {
		paths = append(paths, e.Path)
	}
	for _, e := range cs.Renamed {
		paths = append(paths, e.Path, e.NewPath)
	}
	return paths
}
