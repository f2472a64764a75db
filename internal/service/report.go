package service

import (
	"encoding/json"
	"io"
	"time"

	"recon/internal/reconcile"
	"recon/internal/records"
)

// Issue is a recoverable condition recorded on a row during the run.
type Issue struct {
	Side    records.Side `json:"side"`
	Model   string       `json:"model"`
	Row     int          `json:"row"`
	Field   string       `json:"field,omitempty"`
	Step    string       `json:"step"`
	Message string       `json:"message"`
}

// Issues flattens record annotations, in record order.
func Issues(sets ...[]*records.Record) []Issue {
	var out []Issue
	for _, set := range sets {
		for _, r := range set {
			for _, n := range r.Notes {
				out = append(out, Issue{
					Side:    r.Side,
					Model:   r.ModelID,
					Row:     r.Index,
					Field:   n.Field,
					Step:    n.Step,
					Message: n.Message,
				})
			}
		}
	}
	return out
}

// Report is the JSON document written at the end of a run.
type Report struct {
	RunID      string            `json:"runId"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
	DurationMS int64             `json:"durationMs"`
	Inputs     []*Applied        `json:"inputs"`
	Issues     []Issue           `json:"issues"`
	Result     *reconcile.Result `json:"result,omitempty"`
}

// Partial reports whether any input lost rows to failed chunks.
func (r *Report) Partial() bool {
	for _, in := range r.Inputs {
		if in.Partial() {
			return true
		}
	}
	return false
}

// WriteJSON writes the report, indented.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
