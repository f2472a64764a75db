// Command recon applies processing models to BO and partner exports and
// reconciles them, writing a JSON report.
//
//	recon -registry models/ -bo export_bo_jan.json -partner wave_jan.json -out report.json
//
// Inputs are JSON arrays or NDJSON files of already-decoded rows.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"recon/internal/config"
	"recon/internal/logging"
)

// stringList is a repeatable, comma-separated flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			*s = append(*s, p)
		}
	}
	return nil
}

type options struct {
	registry      string
	registryKind  string
	registryTable string

	bo           stringList
	partner      string
	boModel      string
	partnerModel string
	keys         string
	out          string
	validate     bool

	boAmount      string
	partnerAmount string

	runtime config.Runtime

	job            string
	metricsBackend string
	pushgatewayURL string
	datadogAddr    string

	logLevel  string
	logFormat string
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("recon", flag.ContinueOnError)

	fs.StringVar(&o.registry, "registry", "", "model registry: file/directory path, or DSN for database kinds")
	fs.StringVar(&o.registryKind, "registry-kind", "file", "registry source kind (file, postgres, sqlite, sqlserver, mysql)")
	fs.StringVar(&o.registryTable, "registry-table", "", "table holding (id, definition) rows for database kinds")

	fs.Var(&o.bo, "bo", "BO input file(s); repeatable or comma-separated")
	fs.StringVar(&o.partner, "partner", "", "partner input file")
	fs.StringVar(&o.boModel, "bo-model", "", "force the BO model id instead of file-pattern lookup")
	fs.StringVar(&o.partnerModel, "partner-model", "", "force the partner model id instead of file-pattern lookup")
	fs.StringVar(&o.keys, "keys", "", "reconciliation keys file (JSON/YAML); overrides the partner model's keys")
	fs.StringVar(&o.out, "out", "-", "report path, - for stdout")
	fs.BoolVar(&o.validate, "validate", false, "lint the registry models and exit")

	fs.StringVar(&o.boAmount, "bo-amount", "", "BO amount field for summary totals")
	fs.StringVar(&o.partnerAmount, "partner-amount", "", "partner amount field for summary totals")

	fs.IntVar(&o.runtime.ChunkSize, "chunk-size", 0, "rows per chunk (env RECON_CHUNK_SIZE, default 10000)")
	fs.IntVar(&o.runtime.Workers, "workers", 0, "parallel workers (env RECON_WORKERS, default NumCPU)")
	fs.IntVar(&o.runtime.Partitions, "partitions", 0, "matcher hash partitions (env RECON_PARTITIONS, default NumCPU)")
	fs.DurationVar(&o.runtime.Timeout, "timeout", 0, "run time budget (env RECON_TIMEOUT, default 15m)")

	fs.StringVar(&o.job, "job", "recon", "metrics job name")
	fs.StringVar(&o.metricsBackend, "metrics-backend", "", "metrics backend: pushgateway, datadog, none (env METRICS_BACKEND)")
	fs.StringVar(&o.pushgatewayURL, "pushgateway-url", "", "Pushgateway base URL (env PUSHGATEWAY_URL)")
	fs.StringVar(&o.datadogAddr, "datadog-addr", "", "DogStatsD address (env DD_DOGSTATSD_URL)")

	fs.StringVar(&o.logLevel, "log-level", envOr("LOG_LEVEL", "info"), "debug, info, warn, error")
	fs.StringVar(&o.logFormat, "log-format", envOr("LOG_FORMAT", "text"), "text or json")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.registry == "" {
		return o, errors.New("-registry is required")
	}
	if !o.validate {
		if len(o.bo) == 0 || o.partner == "" {
			return o, errors.New("-bo and -partner are required")
		}
	}
	return o, nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	// A missing .env is fine; real environment variables always win.
	_ = godotenv.Load()

	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fatalf("%v", err)
	}
	logging.Setup(opts.logLevel, opts.logFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		slog.Error("run failed", "err", err)
		stop()
		os.Exit(1)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(2)
}
