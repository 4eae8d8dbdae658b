package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/RubachokBoss/qcm-grader/internal/models"
	"github.com/xuri/excelize/v2"
)

const (
	CSVFileName        = "notes.csv"
	XLSXFileName       = "notes.xlsx"
	StatisticsFileName = "statistics.json"

	sheetName = "Notes"
)

var fixedColumns = []string{"id", "name", "mark", "max", "mark_20"}

// Table is a grade sheet: a header row followed by one row per student.
type Table struct {
	Header []string
	Rows   [][]string
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// BuildTable lays scores out one row per student. names maps student ids to
// the name the recognizer resolved; missing entries get the placeholder.
func BuildTable(scores []models.ScoreRecord, key models.AnswerKey, names map[string]string) Table {
	header := append([]string{}, fixedColumns...)
	for _, e := range key {
		header = append(header, e.ID)
	}

	rows := make([][]string, 0, len(scores))
	for _, s := range scores {
		name := names[s.StudentID]
		if name == "" {
			name = models.UnresolvedName
		}
		row := []string{
			s.StudentID,
			name,
			formatNumber(s.Mark),
			formatNumber(s.MaxMark),
			strconv.FormatFloat(models.ScaleTo20(s.Mark, s.MaxMark), 'f', 2, 64),
		}
		for _, e := range key {
			cell := ""
			if a, ok := s.Answer(e.Number); ok {
				cell = formatNumber(a.Points)
			}
			row = append(row, cell)
		}
		rows = append(rows, row)
	}
	return Table{Header: header, Rows: rows}
}

func WriteCSV(path string, t Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(t.Header); err != nil {
		f.Close()
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	if err := w.WriteAll(t.Rows); err != nil {
		f.Close()
		return fmt.Errorf("failed to write csv rows: %w", err)
	}
	return f.Close()
}

func ReadCSV(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return Table{}, nil
	}
	return Table{Header: records[0], Rows: records[1:]}, nil
}

// WriteXLSX writes t to a single-sheet workbook. Numeric cells are stored as
// numbers so the sheet can be summed.
func WriteXLSX(path string, t Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	writeRow := func(rowNum int, values []string, numeric bool) error {
		cells := make([]interface{}, len(values))
		for i, v := range values {
			cells[i] = v
			if numeric && i >= 2 {
				if n, err := strconv.ParseFloat(v, 64); err == nil {
					cells[i] = n
				}
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return err
		}
		return f.SetSheetRow(sheetName, cell, &cells)
	}

	if err := writeRow(1, t.Header, false); err != nil {
		return fmt.Errorf("failed to write xlsx header: %w", err)
	}
	for i, row := range t.Rows {
		if err := writeRow(i+2, row, true); err != nil {
			return fmt.Errorf("failed to write xlsx row %d: %w", i+2, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}
