/*
report.go - Date-range reporting over submitted applications

PURPOSE:
  Turns the submitted applications of a date range into:
    - a per-branch breakdown with percentage shares
    - an .xlsx workbook ("Applications" sheet, optional
      "Department Pie Chart" sheet)
    - a paged PDF table (pdf.go)

DATE RANGES:
  Ranges are whole days: "2025-06-01".."2025-06-02" covers
  2025-06-01 00:00:00 through 2025-06-02 23:59:59 UTC.

SEE ALSO:
  - store/sqlite/applications.go: SubmittedBetween, CountSubmittedBetween
  - cmd/admissions/export.go: CLI export
*/
package report

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pecadmissions/admissions/admission"
)

const dayLayout = "2006-01-02"

// ErrInvalidRange is returned for malformed or inverted date ranges.
var ErrInvalidRange = errors.New("invalid date range")

// Range is an inclusive span of whole days.
type Range struct {
	Start string
	End   string
	From  time.Time
	To    time.Time
}

// ParseRange parses two YYYY-MM-DD dates into an inclusive range.
func ParseRange(start, end string) (Range, error) {
	from, err := time.ParseInLocation(dayLayout, start, time.UTC)
	if err != nil {
		return Range{}, fmt.Errorf("%w: start date %q", ErrInvalidRange, start)
	}
	last, err := time.ParseInLocation(dayLayout, end, time.UTC)
	if err != nil {
		return Range{}, fmt.Errorf("%w: end date %q", ErrInvalidRange, end)
	}
	if last.Before(from) {
		return Range{}, fmt.Errorf("%w: %s is before %s", ErrInvalidRange, end, start)
	}
	return Range{
		Start: start,
		End:   end,
		From:  from,
		To:    last.Add(24*time.Hour - time.Second),
	}, nil
}

// Filename is the download name for the range's export with extension ext ("xlsx", "pdf").
func (r Range) Filename(ext string) string {
	return fmt.Sprintf("applications_%s_%s.%s", r.Start, r.End, ext)
}

// =============================================================================
// BRANCH BREAKDOWN
// =============================================================================

// BranchCount is one slice of the breakdown.
type BranchCount struct {
	Branch string          `json:"branch"`
	Count  int             `json:"count"`
	Share  decimal.Decimal `json:"share"` // percent of records with a branch, 2 places
}

// Breakdown counts records per preferred branch in first-seen order.
// Records without a branch are not counted.
func Breakdown(records []admission.Record) []BranchCount {
	var (
		out   []BranchCount
		index = make(map[string]int)
		total int64
	)
	for _, r := range records {
		if r.PreferredBranch == "" {
			continue
		}
		total++
		i, ok := index[r.PreferredBranch]
		if !ok {
			i = len(out)
			index[r.PreferredBranch] = i
			out = append(out, BranchCount{Branch: r.PreferredBranch})
		}
		out[i].Count++
	}

	hundred := decimal.NewFromInt(100)
	for i := range out {
		out[i].Share = decimal.NewFromInt(int64(out[i].Count)).
			Mul(hundred).
			DivRound(decimal.NewFromInt(total), 2)
	}
	return out
}
