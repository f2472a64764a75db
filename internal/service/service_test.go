package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"recon/internal/config"
	"recon/internal/ingest"
	"recon/internal/reconcile"
	"recon/internal/records"
	"recon/internal/registry"
	"recon/internal/transformer"
)

func partnerModel() config.ProcessingModel {
	return config.ProcessingModel{
		ID:          "wave",
		FilePattern: "*wave*",
		SourceKind:  config.SourcePartner,
		AutoApply:   true,
		Steps: []config.ProcessingStep{
			{Type: "format", Action: config.ActionNormalizeHeaders},
			{Type: "select", Action: config.ActionKeepColumns, Fields: []string{"Référence", "Montant", "Date"}},
			{Type: "format", Action: config.ActionFormatCurrency, Fields: []string{"Montant"}, Params: config.Options{"currency": "XOF"}},
			{Type: "format", Action: config.ActionFormatDate, Fields: []string{"Date"}, Params: config.Options{"format": "DD/MM/YYYY"}},
		},
		Keys: config.ReconciliationKeys{BoKeys: []string{"Ref"}, PartnerKeys: []string{"Référence"}},
	}
}

func boModel() config.ProcessingModel {
	return config.ProcessingModel{
		ID:          "bo",
		FilePattern: "export_bo_*",
		SourceKind:  config.SourceBO,
		AutoApply:   true,
		Steps: []config.ProcessingStep{
			{Type: "select", Action: config.ActionKeepColumns, Fields: []string{"Ref", "Montant"}},
		},
	}
}

func newService(t *testing.T, models ...config.ProcessingModel) *Service {
	t.Helper()
	ix, errs := registry.NewIndex(models)
	if len(errs) > 0 {
		t.Fatalf("NewIndex: %v", errs)
	}
	return &Service{
		Runtime: config.Runtime{ChunkSize: 1, Workers: 2, Partitions: 3, Timeout: time.Minute},
		Job:     "test",
		Models:  ix,
	}
}

func partnerRows() records.RowReader {
	cols := []string{"RÃ©fÃ©rence", "Montant", "Date", "Extra"}
	return records.NewSliceReader([]records.Row{
		{Columns: cols, Values: []any{"TX1", "50 000", "15/01/2024", "x"}},
		{Columns: cols, Values: []any{"TX2", "1 250,50", "16/01/2024", "y"}},
		{Columns: cols, Values: []any{"TX9", "abc", "99/99/2024", "z"}},
	})
}

func boRows() records.RowReader {
	cols := []string{"Ref", "Montant", "Agent"}
	return records.NewSliceReader([]records.Row{
		{Columns: cols, Values: []any{"TX1", "50000", "a1"}},
		{Columns: cols, Values: []any{"TX2", "1250.5", "a2"}},
		{Columns: cols, Values: []any{"TX3", "10", "a3"}},
	})
}

func TestApplyPipeline(t *testing.T) {
	t.Parallel()

	s := newService(t)
	got, err := s.ApplyPipeline(context.Background(), partnerRows(), partnerModel())
	if err != nil {
		t.Fatal(err)
	}
	if got.Partial() || len(got.Rows) != 3 || got.Kept != 3 || got.Side != records.SidePartner {
		t.Fatalf("applied = %+v", got)
	}
	wantSteps := []string{"normalizeHeaders", "keepColumns", "formatCurrency", "formatDate"}
	if !reflect.DeepEqual(got.Steps, wantSteps) {
		t.Fatalf("steps = %q, want %q", got.Steps, wantSteps)
	}

	r0 := got.Rows[0]
	if cols := r0.Columns(); len(cols) != 3 || cols[0] != "Référence" {
		t.Fatalf("columns = %q", cols)
	}
	amt, _ := r0.Get("Montant")
	if a, ok := amt.(records.Amount); !ok || !a.Value.Equal(decimal.NewFromInt(50000)) || a.Currency != "XOF" {
		t.Fatalf("Montant = %#v", amt)
	}
	if d, _ := r0.Get("Date"); d != "2024-01-15" {
		t.Fatalf("Date = %v", d)
	}

	issues := Issues(got.Rows)
	if len(issues) != 2 || issues[0].Row != 2 || issues[0].Field != "Montant" || issues[1].Field != "Date" {
		t.Fatalf("issues = %+v", issues)
	}
}

func TestApplyPipeline_InvalidStepIsFatal(t *testing.T) {
	t.Parallel()

	m := partnerModel()
	m.Steps[2].Params = config.Options{"currency": "XYZW"}
	_, err := newService(t).ApplyPipeline(context.Background(), partnerRows(), m)
	if !errors.Is(err, transformer.ErrInvalidStep) {
		t.Fatalf("err = %v, want ErrInvalidStep", err)
	}
}

func TestApplyPipeline_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := newService(t).ApplyPipeline(ctx, partnerRows(), partnerModel())
	if !errors.Is(err, ingest.ErrCanceled) {
		t.Fatalf("err = %v, want ErrCanceled", err)
	}
	if got == nil || !got.Partial() || got.Total != 3 {
		t.Fatalf("partial result = %+v", got)
	}
}

func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()

	s := newService(t, partnerModel(), boModel())
	s.BoAmountField, s.PartnerAmountField = "Montant", "Montant"

	rep, err := s.Run(context.Background(),
		[]Input{{Name: "export_BO_janvier.csv", Rows: boRows()}},
		Input{Name: "/in/Wave 2024-01.json", Rows: partnerRows()},
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}
	if rep.RunID == "" || len(rep.Inputs) != 2 || rep.Partial() {
		t.Fatalf("report = %+v", rep)
	}

	sum := rep.Result.Summary
	if sum.Matched != 2 || sum.BoOnly != 1 || sum.PartnerOnly != 1 || sum.Ambiguous != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if rep.Result.BoOnly[0].Index != 2 || rep.Result.PartnerOnly[0].Index != 2 {
		t.Fatalf("bo only = %v, partner only = %v", rep.Result.BoOnly, rep.Result.PartnerOnly)
	}
	if !sum.BoOnlyAmount.Equal(decimal.NewFromInt(10)) || sum.AmountMismatches != 0 {
		t.Fatalf("amounts = %+v", sum)
	}
	if len(rep.Issues) != 2 {
		t.Fatalf("issues = %+v", rep.Issues)
	}

	var buf bytes.Buffer
	if err := rep.WriteJSON(&buf); err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if doc["runId"] != rep.RunID || doc["result"] == nil {
		t.Fatalf("report json = %s", buf.String())
	}
}

func TestRun_KeysOverrideAndErrors(t *testing.T) {
	t.Parallel()

	noKeys := partnerModel()
	noKeys.Keys = config.ReconciliationKeys{}
	s := newService(t, noKeys, boModel())

	_, err := s.Run(context.Background(), nil, Input{Name: "wave.json", Rows: partnerRows()}, nil)
	if !errors.Is(err, reconcile.ErrNoKeys) {
		t.Fatalf("err = %v, want ErrNoKeys", err)
	}

	keys := &config.ReconciliationKeys{BoKeys: []string{"Ref"}, PartnerKeys: []string{"Référence"}}
	rep, err := s.Run(context.Background(),
		[]Input{{Name: "whatever.csv", Model: "bo", Rows: boRows()}},
		Input{Name: "wave.json", Rows: partnerRows()},
		keys,
	)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Result.Summary.Matched != 2 {
		t.Fatalf("summary = %+v", rep.Result.Summary)
	}

	_, err = s.Run(context.Background(), nil, Input{Name: "unknown.csv", Rows: partnerRows()}, keys)
	if !errors.Is(err, ErrNoModel) {
		t.Fatalf("err = %v, want ErrNoModel", err)
	}
	_, err = s.Run(context.Background(), []Input{{Name: "x", Model: "nope", Rows: boRows()}}, Input{Name: "wave.json", Rows: partnerRows()}, keys)
	if !errors.Is(err, ErrNoModel) {
		t.Fatalf("err = %v, want ErrNoModel", err)
	}
}

func TestApplyPipeline_HeaderRepairIsOptIn(t *testing.T) {
	t.Parallel()

	s := newService(t)
	ctx := context.Background()
	keys := config.ReconciliationKeys{BoKeys: []string{"Ref"}, PartnerKeys: []string{"Référence"}}

	bo, err := s.ApplyPipeline(ctx, boRows(), boModel())
	if err != nil {
		t.Fatal(err)
	}

	// no normalizeHeaders step: the mis-encoded key column is left as is
	raw := config.ProcessingModel{ID: "raw", SourceKind: config.SourcePartner}
	got, err := s.ApplyPipeline(ctx, partnerRows(), raw)
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Reconcile(ctx, bo.Rows, got.Rows, keys)
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.Matched != 0 || res.Summary.PartnerOnly != 3 {
		t.Fatalf("summary = %+v", res.Summary)
	}
	if n := got.Rows[0].Notes; len(n) != 1 || n[0].Field != "Référence" {
		t.Fatalf("notes = %+v", n)
	}

	repaired := raw
	repaired.Steps = []config.ProcessingStep{{Type: "format", Action: config.ActionNormalizeHeaders}}
	got, err = s.ApplyPipeline(ctx, partnerRows(), repaired)
	if err != nil {
		t.Fatal(err)
	}
	res, err = s.Reconcile(ctx, bo.Rows, got.Rows, keys)
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.Matched != 2 || res.Summary.PartnerOnly != 1 {
		t.Fatalf("summary = %+v", res.Summary)
	}
}
