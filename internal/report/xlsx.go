package report

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/enroll-cli/internal/model"
)

// Sheet names used by WriteXLSX.
const (
	SessionsSheet    = "sessions"
	TransitionsSheet = "transitions"
)

// WriteXLSX writes sessions, and the transitions when given, to an XLSX
// workbook at path.
func WriteXLSX(path string, sessions []model.Session, transitions []model.TransitionRecord) error {
	f := xlsx.NewFile()

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, SessionRow(s))
	}
	if err := addSheet(f, SessionsSheet, SessionHeader, rows); err != nil {
		return err
	}

	if len(transitions) > 0 {
		rows = rows[:0]
		for _, t := range transitions {
			rows = append(rows, TransitionRow(t))
		}
		if err := addSheet(f, TransitionsSheet, TransitionHeader, rows); err != nil {
			return err
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}

// ReadXLSX returns every row of the named sheet as strings, header included.
func ReadXLSX(path, sheetName string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	sheet, ok := f.Sheet[sheetName]
	if !ok {
		return nil, eris.Errorf("xlsx: sheet %q not found", sheetName)
	}

	var rows [][]string
	for _, row := range sheet.Rows {
		rows = append(rows, rowToStrings(row))
	}
	return rows, nil
}

func addSheet(f *xlsx.File, name string, header []string, rows [][]string) error {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "xlsx: add sheet %s", name)
	}
	writeRow(sheet, header)
	for _, r := range rows {
		writeRow(sheet, r)
	}
	return nil
}

func writeRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
