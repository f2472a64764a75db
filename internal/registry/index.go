// Package registry resolves input files to processing models.
//
// An Index is an immutable snapshot built from a model list; it is safe for
// concurrent use and never changes. A Registry holds the current Index and
// swaps in a freshly built one on Reload, so runs that already hold a
// snapshot keep a consistent view.
package registry

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"recon/internal/config"
	"recon/internal/normalize"
)

type entry struct {
	model   config.ProcessingModel
	pattern string // folded
	glob    bool
	literal int
}

// Index is an immutable model lookup structure.
type Index struct {
	byID    map[string]config.ProcessingModel
	entries []entry // auto-apply models, most specific first
	models  []config.ProcessingModel
}

// NewIndex builds an Index. Models with an empty ID, a duplicate ID or an
// invalid file pattern are skipped and reported; the rest are indexed.
func NewIndex(models []config.ProcessingModel) (*Index, []error) {
	ix := &Index{byID: make(map[string]config.ProcessingModel, len(models))}
	var errs []error
	for _, m := range models {
		if m.ID == "" {
			errs = append(errs, fmt.Errorf("model %q: empty id", m.Name))
			continue
		}
		if _, dup := ix.byID[m.ID]; dup {
			errs = append(errs, fmt.Errorf("model %s: duplicate id", m.ID))
			continue
		}
		var e entry
		if m.AutoApply {
			p := normalize.Fold(m.FilePattern)
			if p == "" {
				errs = append(errs, fmt.Errorf("model %s: autoApply without filePattern", m.ID))
				continue
			}
			if _, err := path.Match(p, ""); err != nil {
				errs = append(errs, fmt.Errorf("model %s: filePattern %q: %w", m.ID, m.FilePattern, err))
				continue
			}
			e = entry{model: m, pattern: p, glob: strings.ContainsAny(p, "*?["), literal: literalLen(p)}
			ix.entries = append(ix.entries, e)
		}
		ix.byID[m.ID] = m
		ix.models = append(ix.models, m)
	}
	sort.SliceStable(ix.entries, func(i, j int) bool {
		a, b := ix.entries[i], ix.entries[j]
		if a.literal != b.literal {
			return a.literal > b.literal
		}
		if len(a.pattern) != len(b.pattern) {
			return len(a.pattern) > len(b.pattern)
		}
		return a.model.ID < b.model.ID
	})
	return ix, errs
}

// literalLen counts the pattern characters that must match themselves.
func literalLen(p string) int {
	n := 0
	inClass := false
	for _, r := range p {
		switch {
		case inClass:
			if r == ']' {
				inClass = false
			}
		case r == '[':
			inClass = true
		case r == '*' || r == '?':
		default:
			n++
		}
	}
	return n
}

func (e entry) matches(name string) bool {
	if !e.glob {
		return strings.Contains(name, e.pattern)
	}
	ok, _ := path.Match(e.pattern, name)
	return ok
}

// Lookup returns the most specific auto-apply model whose file pattern
// matches the base name of filename. Matching ignores case and accents.
// Patterns without glob metacharacters match as substrings.
func (ix *Index) Lookup(filename string) (config.ProcessingModel, bool) {
	return ix.lookup(filename, "")
}

// LookupKind is Lookup restricted to models of the given source kind.
func (ix *Index) LookupKind(filename string, kind config.SourceKind) (config.ProcessingModel, bool) {
	return ix.lookup(filename, kind)
}

func (ix *Index) lookup(filename string, kind config.SourceKind) (config.ProcessingModel, bool) {
	if ix == nil {
		return config.ProcessingModel{}, false
	}
	name := normalize.Fold(filepath.Base(filename))
	for _, e := range ix.entries {
		if kind != "" && e.model.SourceKind != kind {
			continue
		}
		if e.matches(name) {
			return e.model, true
		}
	}
	return config.ProcessingModel{}, false
}

// Get returns the model with the given id, auto-apply or not.
func (ix *Index) Get(id string) (config.ProcessingModel, bool) {
	if ix == nil {
		return config.ProcessingModel{}, false
	}
	m, ok := ix.byID[id]
	return m, ok
}

// Models returns the indexed models in load order.
func (ix *Index) Models() []config.ProcessingModel {
	if ix == nil {
		return nil
	}
	return append([]config.ProcessingModel(nil), ix.models...)
}

// Len is the number of indexed models.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.models)
}
