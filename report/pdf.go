package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/pecadmissions/admissions/admission"
)

const (
	pdfFont      = "Helvetica"
	pdfFontSize  = 9
	pdfRowHeight = 6.0
	pdfMargin    = 10.0
)

// pdfColumns are the table columns and their widths in mm. They fill the
// 190mm between the margins of an A4 portrait page.
var pdfColumns = []struct {
	Header string
	Width  float64
}{
	{"App No", 22},
	{"Student", 34},
	{"Father", 34},
	{"Mobile", 24},
	{"Address", 38},
	{"Dept", 16},
	{"Date Submitted", 22},
}

// BuildPDF renders records as an A4 table, one row per application. The
// header row repeats on every page; cell text that does not fit its column
// is cut short.
func BuildPDF(records []admission.Record) ([]byte, error) {
	pdf, err := renderPDF(records)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func renderPDF(records []admission.Record) (*fpdf.Fpdf, error) {
	if len(records) == 0 {
		return nil, ErrNoData
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, 15)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetHeaderFunc(func() {
		pdf.SetFont(pdfFont, "B", pdfFontSize)
		for _, col := range pdfColumns {
			pdf.CellFormat(col.Width, pdfRowHeight+1, col.Header, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont(pdfFont, "", pdfFontSize)
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont(pdfFont, "I", 8)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	for _, r := range records {
		for i, val := range pdfRow(r) {
			w := pdfColumns[i].Width
			pdf.CellFormat(w, pdfRowHeight, fitText(pdf, tr(val), w-2), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	return pdf, nil
}

func pdfRow(r admission.Record) []string {
	submitted := ""
	if r.DateSubmitted != nil {
		submitted = r.DateSubmitted.UTC().Format("2006-01-02")
	}
	return []string{
		r.Identifier, r.StudentName, r.FatherName, r.Mobile,
		r.Address, r.PreferredBranch, submitted,
	}
}

// fitText shortens s with a trailing ".." until it is at most width mm wide.
func fitText(pdf *fpdf.Fpdf, s string, width float64) string {
	s = strings.Join(strings.Fields(s), " ")
	if pdf.GetStringWidth(s) <= width {
		return s
	}
	for len(s) > 0 {
		s = s[:len(s)-1]
		if pdf.GetStringWidth(s+"..") <= width {
			return s + ".."
		}
	}
	return ""
}
