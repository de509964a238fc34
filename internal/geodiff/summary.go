package geodiff

import (
	"encoding/csv"
	"io"
	"strconv"
)

// TableSummary counts the row changes of one table.
type TableSummary struct {
	Table   string `json:"table"`
	Inserts int    `json:"insert"`
	Updates int    `json:"update"`
	Deletes int    `json:"delete"`
}

// Total returns the number of changed rows.
func (s TableSummary) Total() int {
	return s.Inserts + s.Updates + s.Deletes
}

// Summarize counts changes per table in first-appearance order. Metadata
// tables are skipped.
func Summarize(entries []DiffEntry) []TableSummary {
	groups := GroupByTable(entries)
	summaries := make([]TableSummary, 0, len(groups))
	for _, g := range groups {
		s := TableSummary{Table: g.Table}
		for _, e := range g.Entries {
			switch e.Type {
			case OpInsert:
				s.Inserts++
			case OpUpdate:
				s.Updates++
			case OpDelete:
				s.Deletes++
			}
		}
		summaries = append(summaries, s)
	}
	return summaries
}

// WriteSummaryCSV writes summaries as CSV with a header row, tagging each
// row with file.
func WriteSummaryCSV(w io.Writer, file string, summaries []TableSummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"file", "table", "insert", "update", "delete"}); err != nil {
		return err
	}
	for _, s := range summaries {
		row := []string{
			file,
			s.Table,
			strconv.Itoa(s.Inserts),
			strconv.Itoa(s.Updates),
			strconv.Itoa(s.Deletes),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
