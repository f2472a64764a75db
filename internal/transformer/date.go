package transformer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"recon/internal/config"
	"recon/internal/records"
)

// ISODate is the canonical output layout of formatDate.
const ISODate = "2006-01-02"

// dateTokens maps pattern tokens to Go layout fragments, longest first so
// that "YYYY" wins over "YY" and "DD" over "D".
var dateTokens = []struct{ tok, layout string }{
	{"YYYY", "2006"}, {"yyyy", "2006"},
	{"YY", "06"}, {"yy", "06"},
	{"MM", "01"}, {"DD", "02"}, {"dd", "02"},
	{"HH", "15"}, {"mm", "04"}, {"ss", "05"},
	{"M", "1"}, {"D", "2"}, {"d", "2"},
}

// LayoutFromPattern converts a "DD/MM/YYYY"-style pattern into a Go time
// layout. Strings that already look like Go layouts are returned as-is.
func LayoutFromPattern(p string) (string, error) {
	if strings.Contains(p, "2006") {
		return p, nil
	}
	var b strings.Builder
	for i := 0; i < len(p); {
		matched := false
		for _, t := range dateTokens {
			if strings.HasPrefix(p[i:], t.tok) {
				b.WriteString(t.layout)
				i += len(t.tok)
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		c := p[i]
		switch {
		case c == 'T':
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z':
			return "", fmt.Errorf("unknown date token at %q", p[i:])
		case c >= '0' && c <= '9':
			return "", fmt.Errorf("digits are not allowed in date pattern %q", p)
		}
		b.WriteByte(c)
		i++
	}
	if b.Len() == 0 {
		return "", errors.New("empty date pattern")
	}
	return b.String(), nil
}

type layoutPlan struct {
	layout string
	dmySep byte // non-zero enables the zero-alloc DD?MM?YYYY path
}

type datePlan struct {
	layouts []layoutPlan
	out     string
	excel   bool
}

func compileDatePlan(params config.Options) (datePlan, error) {
	var dp datePlan
	patterns := params.StringSlice("inputFormats")
	if f := params.String("format", params.String("inputFormat", "")); f != "" {
		patterns = append([]string{f}, patterns...)
	}
	if len(patterns) == 0 {
		patterns = []string{"DD/MM/YYYY"}
	}
	for _, p := range patterns {
		l, err := LayoutFromPattern(p)
		if err != nil {
			return dp, err
		}
		lp := layoutPlan{layout: l}
		if len(l) == 10 && l[:2] == "02" && l[3:5] == "01" && l[6:] == "2006" && l[2] == l[5] {
			lp.dmySep = l[2]
		}
		dp.layouts = append(dp.layouts, lp)
	}

	dp.out = ISODate
	if o := params.String("outputFormat", ""); o != "" {
		l, err := LayoutFromPattern(o)
		if err != nil {
			return dp, fmt.Errorf("outputFormat: %w", err)
		}
		dp.out = l
	}
	dp.excel = params.Bool("excelSerial", false)
	return dp, nil
}

func (dp datePlan) parse(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		return dp.parseString(strings.TrimSpace(x))
	}
	if dp.excel {
		if f, ok := serialValue(v); ok {
			return fromExcelSerial(f)
		}
	}
	return time.Time{}, false
}

func (dp datePlan) parseString(s string) (time.Time, bool) {
	for _, lp := range dp.layouts {
		if lp.dmySep != 0 {
			if t, ok := parseDMY(s, lp.dmySep); ok {
				return t, true
			}
		}
		if t, ok := parseLayout(lp.layout, s); ok {
			return t, true
		}
	}
	if dp.excel {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromExcelSerial(f)
		}
	}
	if t, ok := parseLayout(ISODate, s); ok {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// parseLayout parses s with layout, tolerating a time-of-day suffix after a
// date-only layout ("15/01/2024 10:32:00").
func parseLayout(layout, s string) (time.Time, bool) {
	if t, err := time.Parse(layout, s); err == nil {
		return t, true
	}
	if n := len(layout); len(s) > n && (s[n] == ' ' || s[n] == 'T') {
		if t, err := time.Parse(layout, s[:n]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseDMY is a zero-allocation parser for DD?MM?YYYY with a fixed separator.
// Anything after the tenth byte must be a time-of-day suffix and is ignored.
func parseDMY(s string, sep byte) (time.Time, bool) {
	if len(s) < 10 || s[2] != sep || s[5] != sep {
		return time.Time{}, false
	}
	if len(s) > 10 && s[10] != ' ' && s[10] != 'T' {
		return time.Time{}, false
	}
	d1, d0 := s[0]-'0', s[1]-'0'
	m1, m0 := s[3]-'0', s[4]-'0'
	y3, y2, y1, y0 := s[6]-'0', s[7]-'0', s[8]-'0', s[9]-'0'
	if d1 > 9 || d0 > 9 || m1 > 9 || m0 > 9 || y3 > 9 || y2 > 9 || y1 > 9 || y0 > 9 {
		return time.Time{}, false
	}
	day := int(d1)*10 + int(d0)
	mon := int(m1)*10 + int(m0)
	year := int(y3)*1000 + int(y2)*100 + int(y1)*10 + int(y0)
	if mon < 1 || mon > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(mon), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		// 31/02 and friends
		return time.Time{}, false
	}
	return t, true
}

// excelEpoch is day 0 of the spreadsheet serial calendar (the 1900 leap-year
// bug is absorbed by starting on 30 Dec 1899).
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

const maxExcelSerial = 2958465 // 9999-12-31

func fromExcelSerial(f float64) (time.Time, bool) {
	if f < 1 || f > maxExcelSerial || math.IsNaN(f) {
		return time.Time{}, false
	}
	days := math.Floor(f)
	secs := math.Round((f - days) * 86400)
	return excelEpoch.AddDate(0, 0, int(days)).Add(time.Duration(secs) * time.Second), true
}

func serialValue(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case decimal.Decimal:
		f, _ := x.Float64()
		return f, true
	}
	return 0, false
}

func compileDate(label string, fields []string, params config.Options) (func(*records.Record), error) {
	if len(fields) == 0 {
		return nil, errors.New("formatDate requires at least one field")
	}
	dp, err := compileDatePlan(params)
	if err != nil {
		return nil, err
	}

	return func(r *records.Record) {
		for _, f := range fields {
			v, ok := r.Get(f)
			if !ok || records.IsEmpty(v) {
				continue
			}
			t, ok := dp.parse(v)
			if !ok {
				r.Annotate(f, label, "unparsable date %v", v)
				continue
			}
			r.Set(f, t.Format(dp.out))
		}
	}, nil
}
