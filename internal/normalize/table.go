package normalize

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"
)

// repertoire lists the characters whose double-encoded forms are repaired:
// Latin-1 letters and symbols plus the cp1252 typographic extras that show up
// in French and West African ledger exports.
func repertoire() []rune {
	rs := make([]rune, 0, 128)
	for r := rune(0xA0); r <= 0xFF; r++ {
		rs = append(rs, r)
	}
	rs = append(rs,
		'Œ', 'œ', 'Š', 'š', 'Ÿ', 'Ž', 'ž', 'ƒ',
		'€', '‘', '’', '‚', '“', '”', '„', '–', '—', '…', '•', '‰', '™',
	)
	return rs
}

// vocabulary holds accented words whose single-byte corruptions are repaired
// as whole words. Per-character repair of these decodes would clash with
// legitimate text, so only known words are covered.
var vocabulary = []string{
	"numéro", "opération", "opérations", "débit", "crédit", "téléphone",
	"référence", "bénéficiaire", "expéditeur", "période", "catégorie",
	"état", "créé", "créée", "reçu", "libellé", "échéance", "dépôt",
	"retrait effectué", "montant reçu", "frais prélevés", "intitulé",
}

type pair struct{ from, to string }

// buildTable returns every corrupted → correct pair, longest key first.
// strings.Replacer tries keys in argument order at each position, so this
// ordering yields longest-match-first semantics.
func buildTable() []pair {
	seen := make(map[string]string)
	add := func(from, to string) {
		if from == to || from == "" {
			return
		}
		// Text composes to NFC before replacing, so only NFC keys can match.
		if !norm.NFC.IsNormalString(from) {
			return
		}
		if _, dup := seen[from]; dup {
			return
		}
		seen[from] = to
	}

	// Double-encoded UTF-8: the UTF-8 bytes of r read back as cp1252 or
	// Latin-1.
	for _, cm := range []*charmap.Charmap{charmap.Windows1252, charmap.ISO8859_1} {
		for _, r := range repertoire() {
			if m, ok := reinterpret(cm, r); ok {
				add(m, string(r))
			}
		}
	}

	// Legacy single-byte decodes of vocabulary.
	for _, w := range vocabulary {
		for _, form := range casings(w) {
			if m, ok := asCodePage850(form); ok {
				add(m, form)
			}
			add(replaceAccents(form, utf8.RuneError), form)
		}
	}

	out := make([]pair, 0, len(seen))
	for from, to := range seen {
		out = append(out, pair{from, to})
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := len(out[i].from), len(out[j].from)
		if li != lj {
			return li > lj
		}
		return out[i].from < out[j].from
	})
	return out
}

func flatten(ps []pair) []string {
	out := make([]string, 0, 2*len(ps))
	for _, p := range ps {
		out = append(out, p.from, p.to)
	}
	return out
}

// reinterpret renders r's UTF-8 bytes as if they had been decoded with cm.
func reinterpret(cm *charmap.Charmap, r rune) (string, bool) {
	var buf [utf8.UTFMax]byte
	n := utf8.EncodeRune(buf[:], r)
	var b strings.Builder
	for _, c := range buf[:n] {
		d := cm.DecodeByte(c)
		if d == utf8.RuneError {
			return "", false
		}
		b.WriteRune(d)
	}
	return b.String(), true
}

// asCodePage850 renders w as a cp1252 byte stream decoded as DOS code page 850
// ("Numéro" → "NumÚro").
func asCodePage850(w string) (string, bool) {
	var b strings.Builder
	changed := false
	for _, r := range w {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
			continue
		}
		c, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			return "", false
		}
		d := charmap.CodePage850.DecodeByte(c)
		if d == utf8.RuneError {
			return "", false
		}
		changed = changed || d != r
		b.WriteRune(d)
	}
	return b.String(), changed
}

func replaceAccents(w string, with rune) string {
	var b strings.Builder
	for _, r := range w {
		if r >= utf8.RuneSelf {
			b.WriteRune(with)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// casings returns lower, Title and UPPER forms of a lower-case word.
func casings(w string) []string {
	r, size := utf8.DecodeRuneInString(w)
	title := string(unicode.ToUpper(r)) + w[size:]
	return []string{w, title, strings.ToUpper(w)}
}
