// Package reconcile matches BO records against partner records on composite
// keys and classifies every record as matched, BO-only, partner-only or
// ambiguous.
//
// The matcher is a single global pass over fully merged record sets, but the
// work inside it is parallel:
//
//	keys      records are split into ranges; each worker computes the
//	          composite key and hash partition of its own range
//	index     one worker per hash partition builds key → []index maps for
//	          both sides and classifies every partner record of that
//	          partition by its BO candidate count
//	merge     a single sequential walk emits outcomes in original record order
//
// Classification never depends on partitioning or scheduling: for identical
// inputs the result is identical, down to the order of ambiguous candidates.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"recon/internal/config"
	"recon/internal/metrics"
	"recon/internal/normalize"
	"recon/internal/records"
	"recon/internal/transformer"
)

var (
	// ErrNoKeys is returned when either side has no key fields configured.
	ErrNoKeys = errors.New("reconciliation keys are empty")
	// ErrKeyArity is returned when BO and partner key lists differ in length.
	ErrKeyArity = errors.New("reconciliation key lists differ in length")
)

// keySep joins composite key parts; it cannot occur inside a part.
const keySep = "\x1f"

// Class is the outcome of one record or key group.
type Class uint8

const (
	ClassMatched Class = iota
	ClassBoOnly
	ClassPartnerOnly
	ClassAmbiguous
)

func (c Class) String() string {
	switch c {
	case ClassMatched:
		return "matched"
	case ClassBoOnly:
		return "bo_only"
	case ClassPartnerOnly:
		return "partner_only"
	case ClassAmbiguous:
		return "ambiguous"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

func (c Class) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Match pairs exactly one BO record with exactly one partner record.
type Match struct {
	Key     string
	BO      *records.Record
	Partner *records.Record
}

func (m Match) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Key     []string        `json:"key"`
		BO      *records.Record `json:"bo"`
		Partner *records.Record `json:"partner"`
	}{KeyParts(m.Key), m.BO, m.Partner})
}

// Ambiguity is a partner key that finds several BO records. The matcher
// never picks one: every BO candidate and every partner record carrying the
// key is reported, in original record order.
type Ambiguity struct {
	Key               string
	BoCandidates      []*records.Record
	PartnerCandidates []*records.Record
}

func (a Ambiguity) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Key               []string          `json:"key"`
		BoCandidates      []*records.Record `json:"boCandidates"`
		PartnerCandidates []*records.Record `json:"partnerCandidates"`
	}{KeyParts(a.Key), a.BoCandidates, a.PartnerCandidates})
}

// Summary carries counts and, when amount fields are configured, totals.
type Summary struct {
	BoRecords      int `json:"boRecords"`
	PartnerRecords int `json:"partnerRecords"`
	Matched        int `json:"matched"`
	BoOnly         int `json:"boOnly"`
	PartnerOnly    int `json:"partnerOnly"`
	Ambiguous      int `json:"ambiguous"`

	// Disqualified counts records whose key had a missing or empty part.
	Disqualified int `json:"disqualified"`

	BoOnlyAmount       decimal.Decimal `json:"boOnlyAmount"`
	PartnerOnlyAmount  decimal.Decimal `json:"partnerOnlyAmount"`
	MatchedAmountDelta decimal.Decimal `json:"matchedAmountDelta"`
	AmountMismatches   int             `json:"amountMismatches"`
}

// Result holds the classified record sets.
type Result struct {
	Matched     []Match           `json:"matched"`
	BoOnly      []*records.Record `json:"boOnly"`
	PartnerOnly []*records.Record `json:"partnerOnly"`
	Ambiguous   []Ambiguity       `json:"ambiguous"`
	Summary     Summary           `json:"summary"`
	Warnings    []string          `json:"warnings,omitempty"`
}

// Options tune a matcher run. Zero Partitions or Workers mean 1.
type Options struct {
	Job        string
	Partitions int
	Workers    int

	// Amount fields feed Summary totals; empty disables them.
	BoAmountField      string
	PartnerAmountField string
}

// KeyParts splits a composite key into its ordered parts.
func KeyParts(key string) []string { return strings.Split(key, keySep) }

// keyOf builds the composite key of r from fields, in declared order. It
// reports the first missing or empty field; partial keys never match.
func keyOf(r *records.Record, fields []string) (string, string, bool) {
	if len(fields) == 0 {
		return "", "", false
	}
	var b strings.Builder
	for i, f := range fields {
		v, ok := r.Get(f)
		if !ok {
			return "", f, false
		}
		s, ok := records.KeyString(v)
		if !ok {
			return "", f, false
		}
		s = normalize.Text(s)
		if s == "" {
			return "", f, false
		}
		if strings.Contains(s, keySep) {
			s = strings.ReplaceAll(s, keySep, " ")
		}
		if i > 0 {
			b.WriteString(keySep)
		}
		b.WriteString(s)
	}
	return b.String(), "", true
}

// checkKeys rejects key configurations no run can use.
func checkKeys(k config.ReconciliationKeys) error {
	if len(k.PartnerKeys) == 0 {
		return fmt.Errorf("%w: partnerKeys", ErrNoKeys)
	}
	if len(k.BoKeys) == 0 {
		for _, m := range k.BoModels {
			if len(k.BoModelKeys[m]) == 0 {
				return fmt.Errorf("%w: boKeys (and boModelKeys[%s])", ErrNoKeys, m)
			}
		}
		if len(k.BoModels) == 0 {
			return fmt.Errorf("%w: boKeys", ErrNoKeys)
		}
	}
	if len(k.BoKeys) > 0 && len(k.BoKeys) != len(k.PartnerKeys) {
		return fmt.Errorf("%w: boKeys has %d fields, partnerKeys has %d", ErrKeyArity, len(k.BoKeys), len(k.PartnerKeys))
	}
	for _, m := range k.BoModels {
		if f := k.BoModelKeys[m]; len(f) > 0 && len(f) != len(k.PartnerKeys) {
			return fmt.Errorf("%w: boModelKeys[%s] has %d fields, partnerKeys has %d", ErrKeyArity, m, len(f), len(k.PartnerKeys))
		}
	}
	return nil
}

// keyed is the per-record output of the key stage.
type keyed struct {
	key  string
	part int
	ok   bool
}

// Reconcile classifies bo and partner records. Fatal configuration problems
// (ErrNoKeys, ErrKeyArity, invalid treatments) return before any work.
// Cancellation is checked between ranges and between partitions; a canceled
// run returns the context error and no result.
func Reconcile(ctx context.Context, bo, partner []*records.Record, keys config.ReconciliationKeys, opts Options) (*Result, error) {
	if err := checkKeys(keys); err != nil {
		return nil, err
	}
	parts := max(opts.Partitions, 1)
	workers := max(opts.Workers, 1)
	res := &Result{}

	treat, warns, err := compileTreatments(keys)
	if err != nil {
		return nil, err
	}
	res.Warnings = warns

	partnerFields := canonical(keys.PartnerKeys)
	boFields := map[string][]string{}
	for _, r := range bo {
		if _, ok := boFields[r.ModelID]; !ok {
			boFields[r.ModelID] = canonical(keys.KeysFor(r.ModelID))
		}
	}

	// Stage 1: keys.
	start := time.Now()
	boKeys := make([]keyed, len(bo))
	partnerKeys := make([]keyed, len(partner))
	err = computeKeys(ctx, workers, parts, bo, boKeys, func(r *records.Record) []string { return boFields[r.ModelID] }, treat)
	if err == nil {
		err = computeKeys(ctx, workers, parts, partner, partnerKeys, func(*records.Record) []string { return partnerFields }, nil)
	}
	metrics.RecordStep(opts.Job, "keys", err, time.Since(start))
	if err != nil {
		return nil, err
	}

	// Stage 2: per-partition index and classification.
	start = time.Now()
	boByPart := bucket(boKeys, parts)
	partnerByPart := bucket(partnerKeys, parts)

	outcomes := make([]partnerOutcome, len(partner))
	claimed := make([]bool, len(bo))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for p := 0; p < parts; p++ {
		p := p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			classifyPartition(boByPart[p], partnerByPart[p], boKeys, partnerKeys, bo, partner, outcomes, claimed)
			return nil
		})
	}
	err = g.Wait()
	metrics.RecordStep(opts.Job, "classify", err, time.Since(start))
	if err != nil {
		return nil, err
	}

	// Stage 3: deterministic merge.
	for i, o := range outcomes {
		if !partnerKeys[i].ok {
			res.PartnerOnly = append(res.PartnerOnly, partner[i])
			continue
		}
		switch o.class {
		case ClassMatched:
			res.Matched = append(res.Matched, Match{Key: partnerKeys[i].key, BO: bo[o.bo], Partner: partner[i]})
		case ClassPartnerOnly:
			res.PartnerOnly = append(res.PartnerOnly, partner[i])
		case ClassAmbiguous:
			if o.leader {
				res.Ambiguous = append(res.Ambiguous, *o.group)
			}
		}
	}
	for i, r := range bo {
		if !claimed[i] {
			res.BoOnly = append(res.BoOnly, r)
		}
	}

	res.Summary = summarize(res, bo, partner, boKeys, partnerKeys, opts)
	metrics.RecordMatches(opts.Job, ClassMatched.String(), int64(res.Summary.Matched))
	metrics.RecordMatches(opts.Job, ClassBoOnly.String(), int64(res.Summary.BoOnly))
	metrics.RecordMatches(opts.Job, ClassPartnerOnly.String(), int64(res.Summary.PartnerOnly))
	metrics.RecordMatches(opts.Job, ClassAmbiguous.String(), int64(res.Summary.Ambiguous))
	return res, nil
}

func canonical(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = normalize.Text(f)
	}
	return out
}

// compileTreatments compiles per-BO-model key treatments once per run.
func compileTreatments(k config.ReconciliationKeys) (map[string]*transformer.Pipeline, []string, error) {
	if len(k.BoTreatments) == 0 {
		return nil, nil, nil
	}
	out := make(map[string]*transformer.Pipeline, len(k.BoTreatments))
	var warns []string
	for model, steps := range k.BoTreatments {
		if len(steps) == 0 {
			continue
		}
		p, ws, err := transformer.Compile(steps)
		if err != nil {
			return nil, nil, fmt.Errorf("boTreatments[%s]: %w", model, err)
		}
		for _, w := range ws {
			warns = append(warns, fmt.Sprintf("boTreatments[%s]: %s", model, w))
		}
		out[model] = p
	}
	return out, warns, nil
}

// computeKeys fills out[i] for recs[i] using contiguous ranges, one per
// worker. Records with a missing key part are annotated once and left !ok;
// reconciling the same records again adds no duplicate note.
func computeKeys(
	ctx context.Context,
	workers, parts int,
	recs []*records.Record,
	out []keyed,
	fieldsFor func(*records.Record) []string,
	treat map[string]*transformer.Pipeline,
) error {
	if len(recs) == 0 {
		return nil
	}
	step := (len(recs) + workers - 1) / workers
	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < len(recs); lo += step {
		lo, hi := lo, min(lo+step, len(recs))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if i%4096 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				r := recs[i]
				src := r
				if p := treat[r.ModelID]; p != nil {
					src = r.Clone()
					p.Apply([]*records.Record{src})
				}
				key, missing, ok := keyOf(src, fieldsFor(r))
				if !ok {
					if missing == "" {
						r.AnnotateOnce("", "reconcile", "no key fields for model %q; record excluded from matching", r.ModelID)
					} else {
						r.AnnotateOnce(missing, "reconcile", "missing key field %q; record excluded from matching", missing)
					}
					continue
				}
				out[i] = keyed{key: key, part: int(xxh3.HashString(key) % uint64(parts)), ok: true}
			}
			return nil
		})
	}
	return g.Wait()
}

// bucket lists, per partition, the indexes of keyed records in original order.
func bucket(ks []keyed, parts int) [][]int {
	out := make([][]int, parts)
	for i, k := range ks {
		if k.ok {
			out[k.part] = append(out[k.part], i)
		}
	}
	return out
}

type partnerOutcome struct {
	class  Class
	bo     int        // matched BO index
	group  *Ambiguity // shared by every partner of an ambiguous group
	leader bool       // first partner of its group emits the group
}

// classifyPartition indexes one partition and writes outcomes for the
// partner and BO indexes it owns. Partitions own disjoint indexes, so the
// shared slices need no locking.
func classifyPartition(
	boIdx, partnerIdx []int,
	boKeys, partnerKeys []keyed,
	bo, partner []*records.Record,
	outcomes []partnerOutcome,
	claimed []bool,
) {
	boIndex := make(map[string][]int, len(boIdx))
	for _, i := range boIdx {
		k := boKeys[i].key
		boIndex[k] = append(boIndex[k], i)
	}
	partnerIndex := make(map[string][]int, len(partnerIdx))
	for _, i := range partnerIdx {
		k := partnerKeys[i].key
		partnerIndex[k] = append(partnerIndex[k], i)
	}

	for _, i := range partnerIdx {
		k := partnerKeys[i].key
		cands := boIndex[k]
		switch len(cands) {
		case 0:
			outcomes[i] = partnerOutcome{class: ClassPartnerOnly}
		case 1:
			// partners sharing a single BO record each match it
			outcomes[i] = partnerOutcome{class: ClassMatched, bo: cands[0]}
			claimed[cands[0]] = true
		default:
			group := partnerIndex[k]
			if group[0] != i {
				// already handled by the group leader
				continue
			}
			amb := &Ambiguity{Key: k}
			for _, b := range cands {
				amb.BoCandidates = append(amb.BoCandidates, bo[b])
				claimed[b] = true
			}
			for _, p := range group {
				amb.PartnerCandidates = append(amb.PartnerCandidates, partner[p])
				outcomes[p] = partnerOutcome{class: ClassAmbiguous, group: amb}
			}
			outcomes[i].leader = true
		}
	}
}

func summarize(res *Result, bo, partner []*records.Record, boKeys, partnerKeys []keyed, opts Options) Summary {
	s := Summary{
		BoRecords:      len(bo),
		PartnerRecords: len(partner),
		Matched:        len(res.Matched),
		BoOnly:         len(res.BoOnly),
		PartnerOnly:    len(res.PartnerOnly),
		Ambiguous:      len(res.Ambiguous),
	}
	for _, k := range boKeys {
		if !k.ok {
			s.Disqualified++
		}
	}
	for _, k := range partnerKeys {
		if !k.ok {
			s.Disqualified++
		}
	}

	amount := func(r *records.Record, field string) (decimal.Decimal, bool) {
		if field == "" {
			return decimal.Zero, false
		}
		v, ok := r.Get(field)
		if !ok {
			return decimal.Zero, false
		}
		return records.Decimal(v)
	}
	for _, r := range res.BoOnly {
		if d, ok := amount(r, opts.BoAmountField); ok {
			s.BoOnlyAmount = s.BoOnlyAmount.Add(d)
		}
	}
	for _, r := range res.PartnerOnly {
		if d, ok := amount(r, opts.PartnerAmountField); ok {
			s.PartnerOnlyAmount = s.PartnerOnlyAmount.Add(d)
		}
	}
	for _, m := range res.Matched {
		b, okB := amount(m.BO, opts.BoAmountField)
		p, okP := amount(m.Partner, opts.PartnerAmountField)
		if okB && okP {
			if d := p.Sub(b); !d.IsZero() {
				s.MatchedAmountDelta = s.MatchedAmountDelta.Add(d)
				s.AmountMismatches++
			}
		}
	}
	return s
}
