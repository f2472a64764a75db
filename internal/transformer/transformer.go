// Package transformer compiles a model's declarative processing steps into an
// executable pipeline and applies it to record sets.
//
// Steps are resolved once, at compile time, into a tagged Action plus a
// per-record closure with all parameters pre-parsed (separators, layouts,
// currency codes). The hot loop then does no string-keyed dispatch and no
// map lookups on step parameters.
package transformer

import (
	"context"

	"recon/internal/records"
)

// Pipeline is a compiled, immutable list of steps. It is safe for concurrent
// use by multiple goroutines as long as each works on its own records.
type Pipeline struct {
	steps []compiledStep
}

type compiledStep struct {
	index  int
	action Action
	label  string
	apply  func(r *records.Record)
}

// Len returns the number of compiled steps, no-ops included.
func (p *Pipeline) Len() int { return len(p.steps) }

// Actions returns the compiled action of every step, in order.
func (p *Pipeline) Actions() []Action {
	out := make([]Action, len(p.steps))
	for i, s := range p.steps {
		out[i] = s.action
	}
	return out
}

// Apply runs every step, in declared order, over all records. Each step sees
// only the fields that survived earlier steps.
func (p *Pipeline) Apply(in []*records.Record) []*records.Record {
	_ = p.Run(context.Background(), in)
	return in
}

// Run is Apply with cooperative cancellation, checked between steps.
func (p *Pipeline) Run(ctx context.Context, recs []*records.Record) error {
	for _, s := range p.steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.apply == nil {
			continue
		}
		for _, r := range recs {
			s.apply(r)
		}
	}
	return ctx.Err()
}
