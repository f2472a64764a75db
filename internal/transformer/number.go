package transformer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	"recon/internal/config"
	"recon/internal/records"
)

// DefaultLocale applies when a currency step names no locale.
const DefaultLocale = "fr-FR"

// numberFormat is a pre-parsed separator plan. decimal == 0 means "infer":
// the last of ',' or '.' is the decimal mark, unless it occurs more than once.
type numberFormat struct {
	decimal   rune
	thousands string
}

// spaces are always accepted as digit-group separators.
const spaces = " \u00a0\u202f\u2009'’"

// commaDecimal lists languages whose default decimal mark is a comma.
var commaDecimal = map[string]bool{
	"fr": true, "de": true, "es": true, "it": true, "pt": true, "nl": true,
	"ru": true, "pl": true, "tr": true, "id": true, "sv": true, "da": true,
	"nb": true, "fi": true, "cs": true, "ro": true, "wo": true, "vi": true,
}

func formatForLocale(tag language.Tag) numberFormat {
	base, _ := tag.Base()
	if commaDecimal[base.String()] {
		return numberFormat{decimal: ',', thousands: spaces + "."}
	}
	return numberFormat{decimal: '.', thousands: spaces + ","}
}

// numberFormatFromParams builds the separator plan of a step. An explicit
// decimalSeparator or thousandsSeparator overrides the locale defaults.
func numberFormatFromParams(params config.Options, defaultLocale string) (numberFormat, []string, error) {
	var warns []string
	nf := numberFormat{thousands: spaces}

	loc := params.String("locale", defaultLocale)
	if loc != "" {
		tag, err := language.Parse(loc)
		if err != nil {
			warns = append(warns, fmt.Sprintf("unknown locale %q; using %s separators", loc, DefaultLocale))
			tag = language.MustParse(DefaultLocale)
		}
		nf = formatForLocale(tag)
	}

	if ds := params.String("decimalSeparator", ""); ds != "" {
		r, size := utf8.DecodeRuneInString(ds)
		if size != len(ds) {
			return nf, warns, fmt.Errorf("decimalSeparator %q must be a single character", ds)
		}
		nf.decimal = r
		nf.thousands = strings.Map(func(c rune) rune {
			if c == r {
				return -1
			}
			return c
		}, nf.thousands)
	}
	if ts := params.String("thousandsSeparator", ""); ts != "" {
		nf.thousands = spaces + ts
	}
	if nf.decimal != 0 && strings.ContainsRune(nf.thousands, nf.decimal) {
		return nf, warns, fmt.Errorf("decimal separator %q is also a thousands separator", nf.decimal)
	}
	return nf, warns, nil
}

var errNotNumber = errors.New("not a number")

// parse converts a locale-formatted string into a decimal. It accepts a
// leading or trailing sign, accounting parentheses and currency codes or
// symbols around the digits ("(1 250,50 XOF)", "€ 12.5", "300-").
func (nf numberFormat) parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	neg := false
	if len(s) > 1 && s[0] == '(' && s[len(s)-1] == ')' {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = trimUnit(s)
	switch {
	case strings.HasPrefix(s, "-"):
		neg = !neg
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	case strings.HasSuffix(s, "-"):
		neg = !neg
		s = s[:len(s)-1]
	}
	s = trimUnit(s)
	if s == "" {
		return decimal.Zero, errNotNumber
	}

	dec := nf.decimal
	if dec == 0 {
		dec = inferDecimal(s)
	}

	var b strings.Builder
	b.Grow(len(s) + 1)
	if neg {
		b.WriteByte('-')
	}
	digits, seenDec := 0, false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == dec:
			if seenDec {
				return decimal.Zero, errNotNumber
			}
			seenDec = true
			b.WriteByte('.')
		case strings.ContainsRune(nf.thousands, r) || (nf.decimal == 0 && (r == ',' || r == '.')):
			// digit-group separator
		default:
			return decimal.Zero, errNotNumber
		}
	}
	if digits == 0 {
		return decimal.Zero, errNotNumber
	}
	out := b.String()
	if strings.HasSuffix(out, ".") {
		out = out[:len(out)-1]
	}
	return decimal.NewFromString(out)
}

// inferDecimal picks the decimal mark of s when no locale pins it.
func inferDecimal(s string) rune {
	lastComma, lastDot := strings.LastIndexByte(s, ','), strings.LastIndexByte(s, '.')
	switch {
	case lastComma < 0 && lastDot < 0:
		return '.'
	case lastComma > lastDot:
		if strings.Count(s, ",") > 1 {
			return '.'
		}
		return ','
	default:
		if strings.Count(s, ".") > 1 {
			return ','
		}
		return '.'
	}
}

// trimUnit strips currency codes, symbols and spaces around the digits.
func trimUnit(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.Is(unicode.Sc, r) || unicode.IsSpace(r)
	})
}

// toDecimal handles values that are already numeric.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, true
	case float64:
		return decimal.NewFromFloat(x), true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		return d, err == nil
	}
	return decimal.Zero, false
}

func compileCurrency(label string, fields []string, params config.Options) (func(*records.Record), []string, error) {
	if len(fields) == 0 {
		return nil, nil, errors.New("formatCurrency requires at least one field")
	}
	code, err := parseCurrency(params.String("currency", ""))
	if err != nil {
		return nil, nil, err
	}
	nf, warns, err := numberFormatFromParams(params, DefaultLocale)
	if err != nil {
		return nil, warns, err
	}

	return func(r *records.Record) {
		for _, f := range fields {
			v, ok := r.Get(f)
			if !ok || records.IsEmpty(v) {
				continue
			}
			switch x := v.(type) {
			case records.Amount:
				if x.Currency == "" && code != "" {
					x.Currency = code
					r.Set(f, x)
				}
				continue
			case string:
				d, err := nf.parse(x)
				if err != nil {
					r.Annotate(f, label, "unparsable amount %q", x)
					continue
				}
				r.Set(f, records.Amount{Value: d, Currency: code})
				continue
			}
			if d, ok := toDecimal(v); ok {
				r.Set(f, records.Amount{Value: d, Currency: code})
				continue
			}
			r.Annotate(f, label, "unparsable amount of type %T", v)
		}
	}, warns, nil
}

func compileNumber(label string, fields []string, params config.Options) (func(*records.Record), error) {
	if len(fields) == 0 {
		return nil, errors.New("formatToNumber requires at least one field")
	}
	nf, _, err := numberFormatFromParams(params, "")
	if err != nil {
		return nil, err
	}

	return func(r *records.Record) {
		for _, f := range fields {
			v, ok := r.Get(f)
			if !ok || records.IsEmpty(v) {
				continue
			}
			if _, already := v.(decimal.Decimal); already {
				continue
			}
			if s, isStr := v.(string); isStr {
				d, err := nf.parse(s)
				if err != nil {
					r.Annotate(f, label, "not a number: %q", s)
					continue
				}
				r.Set(f, d)
				continue
			}
			if a, isAmt := v.(records.Amount); isAmt {
				r.Set(f, a.Value)
				continue
			}
			if d, ok := toDecimal(v); ok {
				r.Set(f, d)
				continue
			}
			r.Annotate(f, label, "not a number: %v", v)
		}
	}, nil
}
