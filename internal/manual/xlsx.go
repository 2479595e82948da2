package manual

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ImportResult summarizes a spreadsheet import.
type ImportResult struct {
	Imported int         `json:"imported"`
	Skipped  []LoadIssue `json:"skipped,omitempty"`
}

var headerNames = map[string]bool{"question": true, "题目": true, "问题": true}

// ReadXLSX reads entries from the first sheet of an xlsx workbook.
// Columns are question, answer, type, note; a header row is skipped
// when its first cell is a known column name.
func ReadXLSX(path string) ([]Entry, []LoadIssue, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "xlsx: open file")
	}
	if len(f.Sheets) == 0 {
		return nil, nil, eris.New("xlsx: workbook has no sheets")
	}

	var (
		entries []Entry
		issues  []LoadIssue
	)
	for i, row := range f.Sheets[0].Rows {
		cells := rowToStrings(row)
		if i == 0 && len(cells) > 0 && headerNames[strings.ToLower(strings.TrimSpace(cells[0]))] {
			continue
		}
		if isBlank(cells) {
			continue
		}

		v := entryValue{Answer: cell(cells, 1), Type: cell(cells, 2), Note: cell(cells, 3)}
		e, issue := buildEntry(cell(cells, 0), v, i+1)
		if issue != nil {
			issues = append(issues, *issue)
			continue
		}
		entries = append(entries, e)
	}
	return entries, issues, nil
}

// ImportXLSX merges a spreadsheet into the bank.
func (b *Bank) ImportXLSX(ctx context.Context, path string) (ImportResult, error) {
	entries, issues, err := ReadXLSX(path)
	if err != nil {
		return ImportResult{}, err
	}
	if len(entries) > 0 {
		if err := b.Merge(ctx, entries); err != nil {
			return ImportResult{}, err
		}
	}
	return ImportResult{Imported: len(entries), Skipped: issues}, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, c := range row.Cells {
		cells[j] = c.String()
	}
	return cells
}

func cell(cells []string, i int) string {
	if i < len(cells) {
		return strings.TrimSpace(cells[i])
	}
	return ""
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
