package report

import (
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/pecadmissions/admissions/admission"
)

const (
	applicationsSheet = "Applications"
	chartSheet        = "Department Pie Chart"
	dateLayout        = "2006-01-02 15:04:05"
)

// ErrNoData is returned when there is nothing to export.
var ErrNoData = errors.New("no data found for the selected dates")

var headers = []string{
	"Application No", "Student Name", "Father Name", "Mobile",
	"Address", "Department", "Form Data", "Date Submitted",
}

// BuildWorkbook renders records as an .xlsx file. With chart set and at
// least one branch present, a second sheet holds the branch counts and a
// pie chart over them.
func BuildWorkbook(records []admission.Record, chart bool) ([]byte, error) {
	if len(records) == 0 {
		return nil, ErrNoData
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	if err := xl.SetSheetName(xl.GetSheetName(0), applicationsSheet); err != nil {
		return nil, err
	}
	if err := xl.SetSheetRow(applicationsSheet, "A1", &headers); err != nil {
		return nil, err
	}
	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := recordRow(r)
		if err := xl.SetSheetRow(applicationsSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if breakdown := Breakdown(records); chart && len(breakdown) > 0 {
		if err := addChartSheet(xl, breakdown); err != nil {
			return nil, fmt.Errorf("failed to add chart: %w", err)
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func recordRow(r admission.Record) []any {
	formData := ""
	if v, err := r.Extra.Value(); err == nil && v != nil {
		formData = v.(string)
	}
	submitted := ""
	if r.DateSubmitted != nil {
		submitted = r.DateSubmitted.UTC().Format(dateLayout)
	}
	return []any{
		r.Identifier, r.StudentName, r.FatherName, r.Mobile,
		r.Address, r.PreferredBranch, formData, submitted,
	}
}

func addChartSheet(xl *excelize.File, breakdown []BranchCount) error {
	if _, err := xl.NewSheet(chartSheet); err != nil {
		return err
	}
	if err := xl.SetSheetRow(chartSheet, "A1", &[]string{"Department", "Count"}); err != nil {
		return err
	}
	for i, b := range breakdown {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := xl.SetSheetRow(chartSheet, cell, &[]any{b.Branch, b.Count}); err != nil {
			return err
		}
	}

	last := len(breakdown) + 1
	sheetRef := "'" + chartSheet + "'"
	return xl.AddChart(chartSheet, "E5", &excelize.Chart{
		Type: excelize.Pie,
		Series: []excelize.ChartSeries{{
			Name:       sheetRef + "!$B$1",
			Categories: fmt.Sprintf("%s!$A$2:$A$%d", sheetRef, last),
			Values:     fmt.Sprintf("%s!$B$2:$B$%d", sheetRef, last),
		}},
		Title: []excelize.RichTextRun{{Text: "Students by Department"}},
	})
}
