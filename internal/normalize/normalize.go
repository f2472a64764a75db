// Package normalize repairs mis-encoded text and canonicalizes column names and
// cell values.
//
// Text applies, in order:
//
//  1. Unicode NFC composition;
//  2. a longest-match-first table of corrupted → correct substrings, covering
//     double-encoded UTF-8 ("tÃ©lÃ©phone") and legacy single-byte decodes of
//     common ledger vocabulary ("NumÚro", or "Num" + U+FFFD + "ro");
//     steps 1 and 2 repeat until the text stops changing, so nested
//     encodings unwind too;
//  3. collapsing every run of whitespace or invisible-space characters into a
//     single ASCII space, then trimming.
//
// Text never fails and is idempotent: Text(Text(s)) == Text(s). Corrupted
// sequences that are not in the table pass through unchanged.
package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxPasses bounds the repair loop. Each productive pass strips at least one
// layer of encoding; real exports rarely carry more than two.
const maxPasses = 16

var replacer = strings.NewReplacer(flatten(buildTable())...)

// Text returns the canonical form of s.
func Text(s string) string {
	if isCanonicalASCII(s) {
		return s
	}

	s = norm.NFC.String(s)
	for i := 0; i < maxPasses; i++ {
		next := norm.NFC.String(replacer.Replace(s))
		if next == s {
			break
		}
		s = next
	}
	return collapse(s)
}

// Space trims s and collapses internal whitespace runs without repairing
// encodings. It backs the cleanText action.
func Space(s string) string {
	if isCanonicalASCII(s) {
		return s
	}
	return collapse(s)
}

// Fold returns a case- and accent-insensitive comparison form of s: the
// canonical text, lower-cased, with combining marks removed.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(Text(s)))
	if err != nil {
		return strings.ToLower(Text(s))
	}
	return out
}

// isCanonicalASCII is the zero-alloc fast path: printable ASCII with single
// inner spaces and no leading/trailing space is already canonical.
func isCanonicalASCII(s string) bool {
	if s == "" {
		return true
	}
	if s[0] == ' ' || s[len(s)-1] == ' ' {
		return false
	}
	prevSpace := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= utf8.RuneSelf || c < 0x20 || c == 0x7f {
			return false
		}
		if c == ' ' {
			if prevSpace {
				return false
			}
			prevSpace = true
			continue
		}
		prevSpace = false
	}
	return true
}

// isBlank reports whitespace in the Unicode sense plus the zero-width and
// byte-order characters that exports use as invisible padding.
func isBlank(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff', '\u180e':
		return true
	}
	return false
}

func collapse(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pending := false
	for _, r := range s {
		if isBlank(r) {
			pending = b.Len() > 0
			continue
		}
		if pending {
			b.WriteByte(' ')
			pending = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
