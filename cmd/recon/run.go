package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"recon/internal/config"
	"recon/internal/metrics"
	"recon/internal/metrics/datadog"
	"recon/internal/metrics/prompush"
	"recon/internal/registry"
	"recon/internal/rowsource"
	"recon/internal/service"

	// register every registry source kind.
	_ "recon/internal/registry/all"
)

func run(ctx context.Context, o options, stdout io.Writer) error {
	flush := setupMetrics(o)
	defer flush()

	src, err := registry.Open(ctx, registry.SourceConfig{
		Kind:  o.registryKind,
		DSN:   o.registry,
		Path:  o.registry,
		Table: o.registryTable,
	})
	if err != nil {
		return err
	}
	reg := registry.New(src)
	defer reg.Close()

	if o.validate {
		return validate(ctx, src, stdout)
	}

	ix, err := reg.Reload(ctx)
	if err != nil {
		return err
	}
	slog.Info("registry loaded", "kind", o.registryKind, "models", ix.Len())
	for _, m := range ix.Models() {
		slog.Debug("model", "id", m.ID, "kind", m.SourceKind, "pattern", m.FilePattern, "auto", m.AutoApply)
	}

	var keys *config.ReconciliationKeys
	if o.keys != "" {
		k, err := config.LoadKeysFile(o.keys)
		if err != nil {
			return err
		}
		if issues := config.ValidateKeys(k); config.HasErrors(issues) {
			return fmt.Errorf("keys file %s: %w", o.keys, errors.Join(issuesAsErrors(issues)...))
		}
		keys = &k
	}

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	open := func(path, model string) (service.Input, error) {
		r, err := rowsource.Open(path)
		if err != nil {
			return service.Input{}, err
		}
		closers = append(closers, r)
		return service.Input{Name: filepath.Base(path), Model: model, Rows: r}, nil
	}

	partner, err := open(o.partner, o.partnerModel)
	if err != nil {
		return err
	}
	var bo []service.Input
	for _, p := range o.bo {
		in, err := open(p, o.boModel)
		if err != nil {
			return err
		}
		bo = append(bo, in)
	}

	svc := service.New(reg, o.runtime, o.job)
	svc.BoAmountField, svc.PartnerAmountField = o.boAmount, o.partnerAmount

	rep, runErr := svc.Run(ctx, bo, partner, keys)
	if rep != nil && len(rep.Inputs) > 0 {
		if err := writeReport(rep, o.out, stdout); err != nil {
			return errors.Join(runErr, err)
		}
	}
	return runErr
}

func writeReport(rep *service.Report, path string, stdout io.Writer) error {
	if path == "" || path == "-" {
		return rep.WriteJSON(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := rep.WriteJSON(f); err != nil {
		f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}

// validate lints every model the source yields, like the registry would on
// reload, and prints the findings.
func validate(ctx context.Context, src registry.Source, w io.Writer) error {
	models, err := src.Load(ctx)
	if err != nil {
		return err
	}
	bad := 0
	for _, m := range models {
		issues := config.ValidateModel(m)
		for _, iss := range issues {
			fmt.Fprintf(w, "%s: %s: %s: %s\n", m.ID, iss.Severity, iss.Path, iss.Message)
		}
		if config.HasErrors(issues) {
			bad++
		}
	}
	if _, errs := registry.NewIndex(models); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(w, "index: %v\n", e)
		}
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d models are invalid", bad, len(models))
	}
	fmt.Fprintf(w, "%d models valid\n", len(models))
	return nil
}

func issuesAsErrors(issues []config.Issue) []error {
	var out []error
	for _, iss := range issues {
		if iss.Severity == config.SeverityError {
			out = append(out, iss)
		}
	}
	return out
}

// setupMetrics picks the metrics backend (flag → env → none) and returns
// the flush to run at exit.
func setupMetrics(o options) func() {
	name := o.metricsBackend
	if name == "" {
		name = os.Getenv("METRICS_BACKEND")
	}

	var (
		b   metrics.Backend
		err error
	)
	switch name {
	case "pushgateway":
		url := o.pushgatewayURL
		if url == "" {
			url = envOr("PUSHGATEWAY_URL", "http://localhost:9091")
		}
		b, err = prompush.NewBackend(o.job, url)
		slog.Debug("metrics", "backend", name, "url", url, "job", o.job)
	case "datadog":
		addr := o.datadogAddr
		if addr == "" {
			addr = envOr("DD_DOGSTATSD_URL", "127.0.0.1:8125")
		}
		b, err = datadog.NewBackend(datadog.Config{Addr: addr, Namespace: "recon.", GlobalTags: []string{"job:" + o.job}})
		slog.Debug("metrics", "backend", name, "addr", addr)
	case "", "none":
		return func() {}
	default:
		slog.Warn("unknown metrics backend; metrics disabled", "backend", name)
		return func() {}
	}
	if err != nil {
		slog.Warn("metrics backend init failed; using nop", "backend", name, "err", err)
		return func() {}
	}

	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			slog.Warn("metrics flush failed", "err", err)
		}
	}
}
