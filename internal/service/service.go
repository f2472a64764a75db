// Package service runs the reconciliation core end to end: it applies each
// input's processing model through chunked ingestion, then matches the
// merged BO and partner record sets.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"recon/internal/config"
	"recon/internal/ingest"
	"recon/internal/logging"
	"recon/internal/metrics"
	"recon/internal/reconcile"
	"recon/internal/records"
	"recon/internal/transformer"
)

// ErrNoModel is returned when no processing model applies to an input.
var ErrNoModel = errors.New("no processing model")

// Resolver finds processing models. *registry.Registry and *registry.Index
// both implement it.
type Resolver interface {
	LookupKind(filename string, kind config.SourceKind) (config.ProcessingModel, bool)
	Get(id string) (config.ProcessingModel, bool)
}

// Service holds per-process settings; it keeps no state between runs.
type Service struct {
	Runtime config.Runtime // resolved knobs
	Job     string         // metrics job label
	Models  Resolver

	BoAmountField      string
	PartnerAmountField string
}

// New returns a Service with rt resolved against env and defaults.
func New(models Resolver, rt config.Runtime, job string) *Service {
	return &Service{Runtime: rt.Resolve(), Job: job, Models: models}
}

// Applied is the outcome of one input's pipeline.
type Applied struct {
	Input    string       `json:"input,omitempty"`
	Model    string       `json:"model"`
	Side     records.Side `json:"side"`
	Steps    []string     `json:"steps"` // compiled actions, "noop" for skipped steps
	Warnings []string     `json:"warnings,omitempty"`
	Kept     int          `json:"rows"`
	ingest.Result
}

func sideOf(m config.ProcessingModel) records.Side {
	if m.SourceKind == config.SourceBO {
		return records.SideBO
	}
	return records.SidePartner
}

// ApplyPipeline reads every row, compiles the model's steps and runs them
// over index-tagged chunks. Compile errors are fatal and nothing is
// processed. A canceled run returns the partial result and an error
// wrapping ingest.ErrCanceled.
func (s *Service) ApplyPipeline(ctx context.Context, rows records.RowReader, model config.ProcessingModel) (*Applied, error) {
	log := logging.WithFields(ctx, "model", model.ID)
	start := time.Now()

	pipe, warns, err := transformer.Compile(model.Steps)
	metrics.RecordStep(s.Job, "compile", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", model.ID, err)
	}
	out := &Applied{Model: model.ID, Side: sideOf(model), Steps: make([]string, 0, pipe.Len())}
	for _, a := range pipe.Actions() {
		out.Steps = append(out.Steps, a.String())
	}
	for _, w := range warns {
		out.Warnings = append(out.Warnings, w.String())
		log.Warn("step skipped", "step", w.Step, "action", w.Action, "msg", w.Message)
	}

	recs, err := ingest.Collect(rows, out.Side, model.ID)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", model.ID, err)
	}

	res, err := ingest.Run(ctx, recs, ingest.Options{
		Job:       s.Job,
		ChunkSize: s.Runtime.ChunkSize,
		Workers:   s.Runtime.Workers,
	}, pipe.Run)
	out.Result = res
	out.Kept = len(res.Rows)

	metrics.RecordRows(s.Job, metrics.RowsInput, int64(res.Total))
	metrics.RecordRows(s.Job, metrics.RowsOutput, int64(len(res.Rows)))
	metrics.RecordRows(s.Job, metrics.RowsAnnotated, int64(countAnnotated(res.Rows)))
	metrics.RecordStep(s.Job, "pipeline", err, time.Since(start))

	for _, f := range res.Failed {
		log.Warn("chunk failed", "chunk", f.Chunk, "start", f.Start, "end", f.End, "err", f.Err)
	}
	log.Info("pipeline applied",
		"side", out.Side,
		"rows", len(res.Rows),
		"total", res.Total,
		"failed_chunks", len(res.Failed),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, err
}

func countAnnotated(recs []*records.Record) int {
	n := 0
	for _, r := range recs {
		if len(r.Notes) > 0 {
			n++
		}
	}
	return n
}

// Reconcile matches processed record sets with the run's partition and
// worker settings.
func (s *Service) Reconcile(ctx context.Context, bo, partner []*records.Record, keys config.ReconciliationKeys) (*reconcile.Result, error) {
	start := time.Now()
	res, err := reconcile.Reconcile(ctx, bo, partner, keys, reconcile.Options{
		Job:                s.Job,
		Partitions:         s.Runtime.Partitions,
		Workers:            s.Runtime.Workers,
		BoAmountField:      s.BoAmountField,
		PartnerAmountField: s.PartnerAmountField,
	})
	metrics.RecordStep(s.Job, "reconcile", err, time.Since(start))
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Info("reconciled",
		"matched", res.Summary.Matched,
		"bo_only", res.Summary.BoOnly,
		"partner_only", res.Summary.PartnerOnly,
		"ambiguous", res.Summary.Ambiguous,
		"disqualified", res.Summary.Disqualified,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// Input is one decoded source file.
type Input struct {
	Name  string // file name, used for model lookup
	Model string // explicit model id; overrides lookup
	Rows  records.RowReader
}

func (s *Service) resolve(in Input, kind config.SourceKind) (config.ProcessingModel, error) {
	if s.Models == nil {
		return config.ProcessingModel{}, fmt.Errorf("%w: no registry", ErrNoModel)
	}
	if in.Model != "" {
		m, ok := s.Models.Get(in.Model)
		if !ok {
			return m, fmt.Errorf("%w: unknown model id %q", ErrNoModel, in.Model)
		}
		return m, nil
	}
	m, ok := s.Models.LookupKind(in.Name, kind)
	if !ok {
		return m, fmt.Errorf("%w for %s input %q", ErrNoModel, kind, in.Name)
	}
	return m, nil
}

// Run processes every BO input and the partner input, then reconciles them.
// keys overrides the partner model's reconciliation keys when non-nil.
//
// The returned Report is non-nil whenever processing started, including on
// cancellation, so callers can still write what completed.
func (s *Service) Run(ctx context.Context, bo []Input, partner Input, keys *config.ReconciliationKeys) (*Report, error) {
	rep := &Report{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	ctx = logging.WithRunID(ctx, rep.RunID)
	log := logging.FromContext(ctx)
	defer func() {
		rep.FinishedAt = time.Now().UTC()
		rep.DurationMS = rep.FinishedAt.Sub(rep.StartedAt).Milliseconds()
	}()

	if s.Runtime.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Runtime.Timeout)
		defer cancel()
	}
	log.Info("run started", "bo_inputs", len(bo), "partner", partner.Name,
		"chunk_size", s.Runtime.ChunkSize, "workers", s.Runtime.Workers, "partitions", s.Runtime.Partitions)

	pm, err := s.resolve(partner, config.SourcePartner)
	if err != nil {
		return rep, err
	}
	runKeys := pm.Keys
	if keys != nil {
		runKeys = *keys
	}
	if runKeys.IsZero() {
		return rep, fmt.Errorf("model %s: %w", pm.ID, reconcile.ErrNoKeys)
	}

	pa, err := s.ApplyPipeline(ctx, partner.Rows, pm)
	if pa != nil {
		pa.Input = partner.Name
		rep.Inputs = append(rep.Inputs, pa)
	}
	if err != nil {
		return rep, err
	}

	var boRecs []*records.Record
	for _, in := range bo {
		m, err := s.resolve(in, config.SourceBO)
		if err != nil {
			return rep, err
		}
		a, err := s.ApplyPipeline(ctx, in.Rows, m)
		if a != nil {
			a.Input = in.Name
			rep.Inputs = append(rep.Inputs, a)
			boRecs = append(boRecs, a.Rows...)
		}
		if err != nil {
			return rep, err
		}
	}

	res, err := s.Reconcile(ctx, boRecs, pa.Rows, runKeys)
	if err != nil {
		return rep, err
	}
	rep.Result = res
	rep.Issues = Issues(boRecs, pa.Rows)
	log.Info("run finished", "issues", len(rep.Issues), "partial", rep.Partial())
	return rep, nil
}
