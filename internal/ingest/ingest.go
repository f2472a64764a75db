// Package ingest splits a record set into index-tagged chunks, processes the
// chunks in parallel and merges them back in original order.
//
// A chunk that fails (error or panic) is isolated: its row range is reported
// in Result.Failed and every other chunk still completes. Output order always
// equals input order, whatever the completion order of the workers.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"recon/internal/metrics"
	"recon/internal/records"
)

// ErrCanceled reports that the run was canceled before every chunk ran. The
// accompanying Result is still valid and marks the skipped ranges as failed.
var ErrCanceled = errors.New("ingest canceled")

// Processor transforms one chunk in place. Chunks share no mutable state; a
// processor must only touch the records it is given.
type Processor func(ctx context.Context, chunk []*records.Record) error

// Options tune chunking. Zero values are invalid; resolve them with
// config.Runtime first.
type Options struct {
	Job       string // metrics label
	ChunkSize int
	Workers   int
}

// FailedRange describes a chunk whose rows are missing from Result.Rows.
// Start and End are input row positions, End exclusive.
type FailedRange struct {
	Chunk int
	Start int
	End   int
	Err   error
}

// Size is the number of input rows in the range.
func (f FailedRange) Size() int { return f.End - f.Start }

func (f FailedRange) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		Chunk int    `json:"chunk"`
		Start int    `json:"start"`
		End   int    `json:"end"`
		Error string `json:"error"`
	}{f.Chunk, f.Start, f.End, msg})
}

// Result is the merged output of a run. len(Rows) plus the sizes of all
// failed ranges always equals Total.
type Result struct {
	Rows   []*records.Record `json:"-"`
	Failed []FailedRange     `json:"failed,omitempty"`
	Total  int               `json:"total"`
}

// Partial reports whether any rows are missing from Rows.
func (r Result) Partial() bool { return len(r.Failed) > 0 }

type chunkOut struct {
	start, end int
	done       bool
	err        error
}

// Run processes recs in chunks of opts.ChunkSize on up to opts.Workers
// goroutines. Cancellation is checked before each chunk starts; chunks that
// never started are reported as failed and Run returns the partial Result
// together with an error wrapping ErrCanceled.
func Run(ctx context.Context, recs []*records.Record, opts Options, proc Processor) (Result, error) {
	if opts.ChunkSize <= 0 || opts.Workers <= 0 {
		return Result{}, fmt.Errorf("ingest: chunk size and workers must be positive (got %d, %d)", opts.ChunkSize, opts.Workers)
	}
	total := len(recs)
	nChunks := (total + opts.ChunkSize - 1) / opts.ChunkSize
	outs := make([]chunkOut, nChunks)
	for i := range outs {
		outs[i].start = i * opts.ChunkSize
		outs[i].end = min(outs[i].start+opts.ChunkSize, total)
	}

	// Chunk errors never cancel siblings, so the group carries no context.
	var g errgroup.Group
	g.SetLimit(opts.Workers)

	for i := range outs {
		if ctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			out := &outs[i]
			start := time.Now()
			out.err = runChunk(ctx, recs[out.start:out.end], proc)
			out.done = true
			metrics.RecordStep(opts.Job, "chunk", out.err, time.Since(start))
			return nil
		})
	}
	_ = g.Wait()

	return merge(ctx, recs, outs, opts.Job)
}

// runChunk runs proc with panic isolation.
func runChunk(ctx context.Context, chunk []*records.Record, proc Processor) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return proc(ctx, chunk)
}

// merge is the single-writer step: it walks chunks in index order once every
// worker has returned.
func merge(ctx context.Context, recs []*records.Record, outs []chunkOut, job string) (Result, error) {
	res := Result{Total: len(recs), Rows: make([]*records.Record, 0, len(recs))}
	var ok, failed, skipped int64

	for i, o := range outs {
		switch {
		case !o.done:
			skipped++
			res.Failed = append(res.Failed, FailedRange{Chunk: i, Start: o.start, End: o.end, Err: context.Cause(ctx)})
		case o.err != nil:
			failed++
			res.Failed = append(res.Failed, FailedRange{Chunk: i, Start: o.start, End: o.end, Err: o.err})
		default:
			ok++
			res.Rows = append(res.Rows, recs[o.start:o.end]...)
		}
	}

	metrics.RecordChunks(job, "ok", ok)
	metrics.RecordChunks(job, "failed", failed)
	metrics.RecordChunks(job, "skipped", skipped)
	metrics.RecordRows(job, metrics.RowsFailed, int64(res.Total-len(res.Rows)))

	if err := ctx.Err(); err != nil && (skipped > 0 || hasCtxFailure(res.Failed)) {
		return res, fmt.Errorf("%w: %d of %d chunks not processed: %w", ErrCanceled, len(res.Failed), len(outs), err)
	}
	return res, nil
}

func hasCtxFailure(fs []FailedRange) bool {
	for _, f := range fs {
		if errors.Is(f.Err, context.Canceled) || errors.Is(f.Err, context.DeadlineExceeded) {
			return true
		}
	}
	return false
}

// Collect drains a row iterator into records tagged with side, model and
// original row index.
func Collect(rr records.RowReader, side records.Side, modelID string) ([]*records.Record, error) {
	var out []*records.Record
	for i := 0; ; i++ {
		row, err := rr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("read row %d: %w", i, err)
		}
		out = append(out, records.New(side, modelID, i, row))
	}
}
