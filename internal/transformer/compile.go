package transformer

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/currency"

	"recon/internal/config"
	"recon/internal/normalize"
	"recon/internal/records"
)

// ErrInvalidStep marks a step whose parameters cannot be compiled. It is
// fatal for the run; callers test for it with errors.Is.
var ErrInvalidStep = errors.New("invalid processing step")

// Warning is a non-fatal compile finding, e.g. an unknown action.
type Warning struct {
	Step    int
	Action  string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("step %d (%s): %s", w.Step, w.Action, w.Message)
}

// Compile resolves steps into a Pipeline. Unknown actions compile to no-ops
// and are reported as warnings; structurally unusable steps return an error
// wrapping ErrInvalidStep and no pipeline.
func Compile(steps []config.ProcessingStep) (*Pipeline, []Warning, error) {
	p := &Pipeline{steps: make([]compiledStep, 0, len(steps))}
	var warns []Warning

	for i, st := range steps {
		act, known := ParseAction(st.Action)
		label := st.ID
		if label == "" {
			label = st.Action
		}
		cs := compiledStep{index: i, action: act, label: label}
		if !known {
			warns = append(warns, Warning{Step: i, Action: st.Action, Message: "unknown action; step skipped"})
			p.steps = append(p.steps, cs)
			continue
		}

		fields := canonicalFields(st.Fields)
		var err error
		switch act {
		case ActionKeepColumns:
			cs.apply, err = compileKeep(label, fields)
		case ActionRenameColumns:
			cs.apply, err = compileRename(label, st.Params)
		case ActionCleanText:
			cs.apply = compileValueFunc(fields, normalize.Space)
		case ActionFixSpecialCharacters:
			cs.apply = compileValueFunc(fields, normalize.Text)
		case ActionNormalizeHeaders:
			cs.apply = compileHeaders(label, fields)
		case ActionFormatCurrency:
			var w []string
			cs.apply, w, err = compileCurrency(label, fields, st.Params)
			for _, m := range w {
				warns = append(warns, Warning{Step: i, Action: st.Action, Message: m})
			}
		case ActionFormatDate:
			cs.apply, err = compileDate(label, fields, st.Params)
		case ActionFormatToNumber:
			cs.apply, err = compileNumber(label, fields, st.Params)
		}
		if err != nil {
			return nil, warns, fmt.Errorf("%w: step %d (%s): %v", ErrInvalidStep, i, st.Action, err)
		}
		p.steps = append(p.steps, cs)
	}
	return p, warns, nil
}

// canonicalFields normalizes configured field names the same way headers are
// normalized, so a decomposed or mis-decoded name in a model still finds the
// repaired header.
func canonicalFields(fields []string) []string {
	if len(fields) == 0 {
		return nil
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if n := normalize.Text(f); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func compileKeep(label string, fields []string) (func(*records.Record), error) {
	if len(fields) == 0 {
		return nil, errors.New("keepColumns requires at least one field")
	}
	return func(r *records.Record) {
		for _, f := range r.Project(fields) {
			r.Annotate(f, label, "column %q not found", f)
		}
	}, nil
}

func compileRename(label string, params config.Options) (func(*records.Record), error) {
	mapping := params.StringMap("mapping")
	if len(mapping) == 0 {
		return nil, errors.New("renameColumns requires a non-empty mapping")
	}
	type rename struct{ from, to string }
	plan := make([]rename, 0, len(mapping))
	for from, to := range mapping {
		to = normalize.Text(to)
		if to == "" {
			return nil, fmt.Errorf("empty target name for %q", from)
		}
		plan = append(plan, rename{normalize.Text(from), to})
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].from < plan[j].from })

	return func(r *records.Record) {
		for _, rn := range plan {
			if _, ok := r.Get(rn.from); !ok {
				continue
			}
			if !r.Rename(rn.from, rn.to) {
				r.Annotate(rn.to, label, "rename %q collides with an existing column", rn.from)
			}
		}
	}, nil
}

// compileValueFunc applies fn to the string values of fields, or of every
// column when fields is empty.
func compileValueFunc(fields []string, fn func(string) string) func(*records.Record) {
	apply := func(r *records.Record, name string) {
		v, ok := r.Get(name)
		if !ok {
			return
		}
		if s, isStr := v.(string); isStr {
			if n := fn(s); n != s {
				r.Set(name, n)
			}
		}
	}
	if len(fields) == 0 {
		return func(r *records.Record) {
			for _, c := range r.Columns() {
				apply(r, c)
			}
		}
	}
	return func(r *records.Record) {
		for _, f := range fields {
			apply(r, f)
		}
	}
}

// compileHeaders renames columns to their normalized spelling. When two raw
// headers normalize to the same name, the first keeps it and the row is
// annotated.
func compileHeaders(label string, fields []string) func(*records.Record) {
	var only map[string]struct{}
	if len(fields) > 0 {
		only = make(map[string]struct{}, len(fields))
		for _, f := range fields {
			only[f] = struct{}{}
		}
	}
	return func(r *records.Record) {
		for _, c := range r.Columns() {
			n := normalize.Text(c)
			if n == c || n == "" {
				continue
			}
			if only != nil {
				if _, ok := only[n]; !ok {
					continue
				}
			}
			if !r.Rename(c, n) {
				r.Annotate(n, label, "header %q duplicates %q after normalization", c, n)
			}
		}
	}
}

// parseCurrency validates an ISO 4217 code; an empty code is allowed.
func parseCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", nil
	}
	u, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("currency %q: %w", code, err)
	}
	return u.String(), nil
}
