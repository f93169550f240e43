package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/yuriy-kovalchuk/yk-waf-manager/internal/config"
	"github.com/yuriy-kovalchuk/yk-waf-manager/internal/metrics"
	"github.com/yuriy-kovalchuk/yk-waf-manager/internal/waf"
	_ "github.com/yuriy-kovalchuk/yk-waf-manager/internal/waf/providers"
)

var Version = "dev"

const usage = `usage: yk-waf-manager create-waf-rules [--backend NAME] [--apikey KEY] [--metrics-file PATH] [--debug]`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(debug bool) (logr.Logger, error) {
	var (
		zl  *zap.Logger
		err error
	)
	if debug {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		return logr.Discard(), fmt.Errorf("unable to build logger: %w", err)
	}
	return zapr.NewLogger(zl), nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	if args[0] != "create-waf-rules" {
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}

	fs := flag.NewFlagSet("create-waf-rules", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	backendName := fs.String("backend", "default", "Backend")
	apiKey := fs.String("apikey", "", "API key, takes precedence over the configured one")
	metricsFile := fs.String("metrics-file", "", "Write Prometheus metrics for this run to a textfile")
	debug := fs.Bool("debug", false, "Enable development logging")
	if err := fs.Parse(args[1:]); err != nil {
		return fmt.Errorf("%w\n%s", err, usage)
	}
	if *backendName == "" {
		return errors.New("backend not specified")
	}

	log, err := newLogger(*debug)
	if err != nil {
		return err
	}
	return createWAFRules(ctx, log, stdout, *backendName, *apiKey, *metricsFile)
}

func createWAFRules(ctx context.Context, log logr.Logger, stdout io.Writer, backendName, apiKey, metricsFile string) error {
	setupLog := log.WithName("setup")
	setupLog.Info("starting yk-waf-manager", "version", Version)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("unable to load WAF config: %w", err)
	}
	selected, err := cfg.Select(backendName)
	if err != nil {
		return err
	}
	opts := selected.Options
	if apiKey != "" {
		opts.APIKey = apiKey
	}
	setupLog.Info("loaded WAF config", "backend", backendName, "provider", selected.Backend)

	rules, err := opts.DeclaredRules()
	if err != nil {
		return fmt.Errorf("invalid rules for backend %q: %w", backendName, err)
	}
	policy, err := waf.ParseLookupFailurePolicy(opts.OnLookupFailure)
	if err != nil {
		return err
	}

	backend, err := waf.NewBackend(selected.Backend, log.WithName("waf-"+selected.Backend), opts.WAFOptions())
	if err != nil {
		return fmt.Errorf("unable to create WAF backend: %w", err)
	}

	reconciler := &waf.Reconciler{
		Backend:         backend,
		Log:             log.WithName("reconciler"),
		OnLookupFailure: policy,
	}
	report, runErr := reconciler.Run(ctx, opts.Target(), rules)

	if metricsFile != "" {
		rec := metrics.NewRecorder(selected.Backend)
		rec.Observe(report, time.Now())
		if err := rec.WriteTextfile(metricsFile); err != nil {
			setupLog.Error(err, "unable to write metrics", "path", metricsFile)
		}
	}

	if runErr != nil {
		return runErr
	}

	for _, o := range report.Outcomes {
		switch o.Result {
		case waf.ResultCreated:
			fmt.Fprintf(stdout, "Successfully created WAF rule: %s\n", o.Description)
		case waf.ResultUpdated:
			fmt.Fprintf(stdout, "Successfully updated WAF rule: %s\n", o.Description)
		default:
			fmt.Fprintf(stdout, "Failed WAF rule: %s: %v\n", o.Description, o.Err)
		}
	}

	if err := report.Err(); err != nil {
		return fmt.Errorf("some WAF rules failed: %w", err)
	}
	return nil
}
