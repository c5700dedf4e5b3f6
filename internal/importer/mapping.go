package importer

// mapping.go declares how spreadsheet columns become record fields and ships the
// cell transforms used by the CRM import mappings.
//
// Transforms deal with what people actually type into Spanish spreadsheets:
//   - Decimal commas and dot thousands separators (1.234,56)
//   - Currency symbols and accounting negatives ((1.234,56 €))
//   - Day-first dates (15/01/2024) and raw Excel date serials
//   - Spanish booleans (sí / no)
//
// A transform returns nil for empty or unreadable input so the value is stored as NULL.

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Transform converts a cleaned cell value into a field value.
type Transform func(raw string) any

// ColumnMapping binds one spreadsheet header to one record field.
type ColumnMapping struct {
	ExcelColumn string    `json:"excelColumn"` // header text, matched case-insensitively
	Field       string    `json:"field"`
	Required    bool      `json:"required"`
	Transform   Transform `json:"-"` // nil keeps the cleaned text, empty becomes nil
}

// apply runs the mapping's transform on a raw cell.
func (m ColumnMapping) apply(raw string) any {
	raw = CleanCell(raw)
	if m.Transform != nil {
		return m.Transform(raw)
	}
	return Text(raw)
}

// Headers returns the spreadsheet headers of the mappings in order.
func Headers(mappings []ColumnMapping) []string {
	out := make([]string, len(mappings))
	for i, m := range mappings {
		out[i] = m.ExcelColumn
	}
	return out
}

// Row is one parsed record keyed by field name.
type Row map[string]any

// String returns the field as trimmed text, or "" when it is absent or nil.
func (r Row) String(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// ----------------------------------------------------------------------------
// Transforms
// ----------------------------------------------------------------------------

var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// thousandsRegex matches dot-grouped thousands without a decimal part (12.500).
// A leading zero (0.500) reads as a decimal.
var thousandsRegex = regexp.MustCompile(`^[+-]?[1-9]\d{0,2}(\.\d{3})+$`)

// TwoDigitYearPivot controls how two-digit years are read: years that would land
// more than this many years in the future belong to the previous century.
var TwoDigitYearPivot = 20

// Day-first layouts are tried before ISO and month-first ones.
var (
	fourDigitYearLayouts = []string{
		"2/1/2006", "02/01/2006", "2-1-2006", "02-01-2006", "2.1.2006", "02.01.2006",
		"2006-01-02", "2006/01/02", "2006.01.02",
		"2006-01-02 15:04:05", "2006-01-02T15:04:05Z07:00",
		"2 Jan 2006", "Jan 2, 2006",
	}
	twoDigitYearLayouts = []string{
		"2/1/06", "02/01/06", "2-1-06", "02-01-06", "2.1.06", "02.01.06",
	}
)

// Excel date serials for 1900-01-01 .. 9999-12-31.
const (
	minExcelSerial = 1
	maxExcelSerial = 2958465
)

// Text returns the trimmed value, or nil when empty.
func Text(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}

// Lower returns the trimmed, lowercased value, or nil when empty. Used for emails.
func Lower(s string) any {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return nil
	}
	return s
}

// Number parses a decimal in either Spanish (1.234,56) or English (1,234.56)
// notation and returns a float64. A lone dot followed by exactly three digits
// groups thousands, so 12.500 is twelve thousand five hundred.
func Number(s string) any {
	f, ok := parseNumber(s)
	if !ok {
		return nil
	}
	return f
}

// Integer parses a whole number and returns an int64. Values with a fractional
// part are rejected.
func Integer(s string) any {
	f, ok := parseNumber(s)
	if !ok || f != math.Trunc(f) || f >= 1<<63 || f < -(1<<63) {
		return nil
	}
	return int64(f)
}

// Bool accepts sí/si/s, yes/y, true/t, verdadero, x and 1 as true and
// no/n, false/f, falso and 0 as false.
func Bool(s string) any {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sí", "si", "s", "yes", "y", "true", "t", "verdadero", "x", "1":
		return true
	case "no", "n", "false", "f", "falso", "0":
		return false
	default:
		return nil
	}
}

// Date parses a date and returns it as an ISO string (2006-01-02).
// Day-first layouts win over month-first ones; raw Excel serials are accepted.
func Date(s string) any {
	t, ok := parseDate(s)
	if !ok {
		return nil
	}
	return t.Format("2006-01-02")
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.NewReplacer(
		"€", "", "$", "", "£", "",
		" ", "", "\u00a0", "", "\u202f", "",
	).Replace(s)

	comma := strings.LastIndex(s, ",")
	dot := strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			// 1.234,56
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			// 1,234.56
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		if strings.Count(s, ",") == 1 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case dot >= 0 && (strings.Count(s, ".") > 1 || thousandsRegex.MatchString(s)):
		s = strings.ReplaceAll(s, ".", "")
	}

	if negative {
		s = "-" + s
	}
	if !numericRegex.MatchString(s) {
		return 0, false
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t, true
		}
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= minExcelSerial && f <= maxExcelSerial {
		if t, err := excelize.ExcelDateToTime(f, false); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// CleanCell removes spreadsheet artifacts from a cell value: surrounding
// whitespace, a formula prefix (="..."), a matching pair of surrounding quotes
// and a UTF-8 BOM. A lone quote such as the inch mark in 5" is kept.
func CleanCell(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}
