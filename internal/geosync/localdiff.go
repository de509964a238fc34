package geosync

import (
	"context"
	"fmt"

	"geosync/internal/geodiff"
)

// TableDiff is the rendered change of one table of a versioned file.
type TableDiff struct {
	Table   string
	Summary geodiff.TableSummary
	Records []geodiff.Record
}

// localChanges lists the changes of a versioned file since its last sync.
func (s *Service) localChanges(ctx context.Context, rel string) ([]geodiff.DiffEntry, string, error) {
	if !IsVersionedFile(rel) {
		return nil, "", fmt.Errorf("%w: %s", ErrNotVersioned, rel)
	}
	abs, err := s.abs(rel)
	if err != nil {
		return nil, "", err
	}
	base := s.basePath(rel)
	if _, ok, err := s.localChecksum(base); err != nil || !ok {
		return nil, "", fmt.Errorf("no synced copy of %s to compare with", rel)
	}

	work, cleanup, err := s.newWorkDir()
	if err != nil {
		return nil, "", err
	}
	defer cleanup()

	diff, err := s.localChangeset(ctx, rel, abs, work)
	if err != nil {
		return nil, "", fmt.Errorf("computing changeset of %s: %w", rel, err)
	}
	entries, err := s.codec.ListChanges(ctx, diff.Path)
	if err != nil {
		return nil, "", fmt.Errorf("listing changes of %s: %w", rel, err)
	}
	return entries, abs, nil
}

// Report counts the local row changes of a versioned file per table.
func (s *Service) Report(ctx context.Context, rel string) ([]geodiff.TableSummary, error) {
	entries, _, err := s.localChanges(ctx, rel)
	if err != nil {
		return nil, err
	}
	return geodiff.Summarize(entries), nil
}

// Diff renders the local row changes of a versioned file. Updated rows are
// completed from the synced copy, which is opened read-only.
func (s *Service) Diff(ctx context.Context, rel string) ([]TableDiff, error) {
	entries, abs, err := s.localChanges(ctx, rel)
	if err != nil {
		return nil, err
	}
	schema, err := s.codec.Schema(ctx, abs)
	if err != nil {
		return nil, fmt.Errorf("reading schema of %s: %w", rel, err)
	}

	ref, err := geodiff.OpenReference(s.basePath(rel))
	if err != nil {
		return nil, err
	}
	defer ref.Close()

	summaries := geodiff.Summarize(entries)
	var diffs []TableDiff
	for i, group := range geodiff.GroupByTable(entries) {
		table, ok := schema[group.Table]
		if !ok {
			return nil, fmt.Errorf("table %q missing from schema of %s", group.Table, rel)
		}
		records, err := geodiff.Render(table, group.Entries, ref)
		if err != nil {
			return nil, fmt.Errorf("rendering %s: %w", group.Table, err)
		}
		diffs = append(diffs, TableDiff{Table: group.Table, Summary: summaries[i], Records: records})
	}
	return diffs, nil
}

// VersionedSummaries reports per-table local changes for every updated
// versioned file of a checked session. Files whose changes cannot be listed
// are skipped with a warning.
func (s *Service) VersionedSummaries(ctx context.Context, sess *SyncSession) map[string][]geodiff.TableSummary {
	out := make(map[string][]geodiff.TableSummary)
	for _, e := range sess.PushChanges.Updated {
		if !IsVersionedFile(e.Path) {
			continue
		}
		summaries, err := s.Report(ctx, e.Path)
		if err != nil {
			s.logger.Warn("summarizing local changes", "path", e.Path, "error", err)
			continue
		}
		out[e.Path] = summaries
	}
	return out
}
