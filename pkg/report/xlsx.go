package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"
)

// Sheet names.
const (
	SheetWeb = "Issues"
	SheetAPI = "API_Issues"
)

// TimestampLayout is the ISO-8601 form used in reports.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

type column struct {
	header string
	width  float64
	value  func(Issue) any
}

var webColumns = []column{
	{"Bug ID", 12, func(i Issue) any { return i.BugID }},
	{"Title", 40, func(i Issue) any { return i.Title }},
	{"Severity", 12, func(i Issue) any { return i.Severity }},
	{"Priority", 10, func(i Issue) any { return i.Priority }},
	{"Steps", 60, func(i Issue) any { return i.Steps }},
	{"Expected", 50, func(i Issue) any { return i.Expected }},
	{"Actual", 50, func(i Issue) any { return i.Actual }},
	{"Screenshot", 40, func(i Issue) any { return i.Screenshot }},
	{"Video", 40, func(i Issue) any { return i.Video }},
	{"Trace", 40, func(i Issue) any { return i.Trace }},
	{"Environment", 22, func(i Issue) any { return i.Env }},
	{"Test ID", 14, func(i Issue) any { return i.TestID }},
	{"Timestamp", 26, func(i Issue) any { return formatTS(i.TS) }},
}

var apiColumns = []column{
	{"Bug ID", 12, func(i Issue) any { return i.BugID }},
	{"Title", 40, func(i Issue) any { return i.Title }},
	{"Severity", 12, func(i Issue) any { return i.Severity }},
	{"Priority", 10, func(i Issue) any { return i.Priority }},
	{"Request", 60, func(i Issue) any { return i.Request }},
	{"Expected", 50, func(i Issue) any { return i.Expected }},
	{"Actual", 50, func(i Issue) any { return i.Actual }},
	{"Endpoint", 40, func(i Issue) any { return i.Endpoint }},
	{"Method", 10, func(i Issue) any { return i.Method }},
	{"Test ID", 14, func(i Issue) any { return i.TestID }},
	{"Timestamp", 26, func(i Issue) any { return formatTS(i.TS) }},
}

// WebHeaders returns the header row of the web issue report.
func WebHeaders() []string {
	return headers(webColumns)
}

// APIHeaders returns the header row of the API issue report.
func APIHeaders() []string {
	return headers(apiColumns)
}

// WriteWebIssues writes issues to an XLSX file with a single "Issues" sheet.
// The header row is written even when there are no issues.
func WriteWebIssues(path string, issues []Issue) error {
	return writeSheet(path, SheetWeb, webColumns, issues)
}

// WriteAPIIssues writes the API variant of the report.
func WriteAPIIssues(path string, issues []Issue) error {
	return writeSheet(path, SheetAPI, apiColumns, issues)
}

// ReadRows returns every row of sheet in the workbook at path.
func ReadRows(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open report: %w", err)
	}
	defer f.Close()
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return rows, nil
}

func writeSheet(path, sheet string, cols []column, issues []Issue) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	bodyStyle, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		return fmt.Errorf("body style: %w", err)
	}

	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = c.header
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, name, name, c.width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(cols), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for r, issue := range issues {
		row := make([]any, len(cols))
		for i, c := range cols {
			row[i] = c.value(issue)
		}
		start, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, start, &row); err != nil {
			return fmt.Errorf("write issue %s: %w", issue.BugID, err)
		}
		end, _ := excelize.CoordinatesToCellName(len(cols), r+2)
		if err := f.SetCellStyle(sheet, start, end, bodyStyle); err != nil {
			return fmt.Errorf("style issue %s: %w", issue.BugID, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func headers(cols []column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.header
	}
	return out
}

func formatTS(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(TimestampLayout)
}
