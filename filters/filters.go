// Package filters turns the search panel's controls into the filter_by block
// of a search request.
package filters

import (
	"fmt"
	"strings"
	"time"

	"github.com/fabfab/recollect/errs"
	"github.com/fabfab/recollect/results"
)

// TimestampLayout is ISO 8601 with millisecond precision, as the backend expects.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Filters is the optional filter_by block of a search request.
type Filters struct {
	DocType   string `json:"doc_type,omitempty"`
	StartTime string `json:"start_time,omitempty"`
	Domain    string `json:"domain,omitempty"`
}

func (f Filters) IsZero() bool {
	return f.DocType == "" && f.StartTime == "" && f.Domain == ""
}

var typeLabels = map[string]string{
	"Article":     results.TypeWeb,
	"PDF":         results.TypePDF,
	"Note":        results.TypeNote,
	"YouTube":     results.TypeVideo,
	"Twitter":     results.TypeTwitter,
	"Apple Notes": results.TypeNative,
}

// DocType maps a type label from the UI ("Article", "YouTube", ...) to the
// backend doc_type. Raw doc types are accepted as-is.
func DocType(label string) (string, bool) {
	label = strings.TrimSpace(label)
	if t, ok := typeLabels[label]; ok {
		return t, true
	}
	for _, t := range typeLabels {
		if t == label {
			return t, true
		}
	}
	return "", false
}

// Labels lists the type labels the UI offers.
func Labels() []string {
	return []string{"Article", "PDF", "Note", "YouTube", "Twitter", "Apple Notes"}
}

// Unit of a relative time range.
type Unit string

const (
	UnitDays   Unit = "days"
	UnitWeeks  Unit = "weeks"
	UnitMonths Unit = "months"
	UnitAll    Unit = "all"
)

// TimeRange is the relative window selected on the 0..100 time slider.
type TimeRange struct {
	Unit  Unit `json:"unit"`
	Count int  `json:"count"`
}

// RangeFromSlider maps a slider position to a window: the first half covers
// 0-14 days, the next quarter 3-8 weeks, the last quarter 3-12 months and
// the far end is unrestricted.
func RangeFromSlider(value float64) (TimeRange, error) {
	if value < 0 || value > 100 {
		return TimeRange{}, errs.Validation("time_range", fmt.Sprintf("slider value %v outside 0..100", value))
	}
	switch {
	case value <= 50:
		return TimeRange{Unit: UnitDays, Count: int(value / 50 * 14)}, nil
	case value <= 75:
		return TimeRange{Unit: UnitWeeks, Count: int((value-50)/25*5) + 3}, nil
	case value < 100:
		return TimeRange{Unit: UnitMonths, Count: int((value-75)/25*9) + 3}, nil
	default:
		return TimeRange{Unit: UnitAll}, nil
	}
}

func (r TimeRange) Label() string {
	if r.Unit == UnitAll {
		return "All time"
	}
	return fmt.Sprintf("In the last %d %s", r.Count, r.Unit)
}

// Since returns local midnight of the first day inside the window, or false
// for an unrestricted range.
func (r TimeRange) Since(now time.Time) (time.Time, bool) {
	var from time.Time
	switch r.Unit {
	case UnitDays:
		from = now.AddDate(0, 0, -r.Count)
	case UnitWeeks:
		from = now.AddDate(0, 0, -7*r.Count)
	case UnitMonths:
		from = now.AddDate(0, -r.Count, 0)
	default:
		return time.Time{}, false
	}
	y, m, d := from.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), true
}

// StartTime formats Since as the backend's start_time value, or "" when the
// range is unrestricted.
func (r TimeRange) StartTime(now time.Time) string {
	since, ok := r.Since(now)
	if !ok {
		return ""
	}
	return since.UTC().Format(TimestampLayout)
}

// Input is the raw state of the filter controls.
type Input struct {
	Type   string  `json:"type,omitempty"`
	Slider float64 `json:"slider,omitempty"`
	Domain string  `json:"domain,omitempty"`
}

// Build resolves Input into Filters. A zero slider means no time filter, and
// a domain is only sent for web pages and notes.
func Build(in Input, now time.Time) (Filters, error) {
	var f Filters
	if in.Type != "" {
		t, ok := DocType(in.Type)
		if !ok {
			return Filters{}, errs.Validation("type", fmt.Sprintf("unknown document type %q", in.Type))
		}
		f.DocType = t
	}
	if in.Slider != 0 {
		r, err := RangeFromSlider(in.Slider)
		if err != nil {
			return Filters{}, err
		}
		f.StartTime = r.StartTime(now)
	}
	if domain := strings.TrimSpace(in.Domain); domain != "" && domainFilterable(f.DocType) {
		f.Domain = domain
	}
	return f, nil
}

func domainFilterable(docType string) bool {
	return docType == results.TypeWeb || docType == results.TypeNote
}
