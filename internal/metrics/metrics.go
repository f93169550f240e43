// Package metrics exposes the outcome of reconciliation runs as Prometheus
// metrics, written as a node-exporter textfile since the binary is one-shot.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yuriy-kovalchuk/yk-waf-manager/internal/waf"
)

// Recorder holds the run metrics on a private registry.
type Recorder struct {
	registry *prometheus.Registry
	backend  string

	RulesReconciled *prometheus.CounterVec
	LookupFailures  *prometheus.CounterVec
	LastRun         *prometheus.GaugeVec
	LastRunSuccess  *prometheus.GaugeVec
}

// NewRecorder creates a Recorder whose series are labelled with backend.
func NewRecorder(backend string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		backend:  backend,
	}

	r.RulesReconciled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "waf_rules_reconciled_total",
		Help: "WAF rules processed, by result (created, updated, failed)",
	}, []string{"backend", "result"})

	r.LookupFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "waf_rule_lookup_failures_total",
		Help: "WAF rules whose remote lookup failed",
	}, []string{"backend"})

	r.LastRun = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "waf_reconcile_last_run_timestamp_seconds",
		Help: "Unix time of the last reconciliation run",
	}, []string{"backend"})

	r.LastRunSuccess = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "waf_reconcile_last_run_success",
		Help: "1 if every rule of the last run succeeded, 0 otherwise",
	}, []string{"backend"})

	r.registry.MustRegister(r.RulesReconciled, r.LookupFailures, r.LastRun, r.LastRunSuccess)
	return r
}

// Observe records a finished run. A nil report is a run that failed before
// any rule was attempted.
func (r *Recorder) Observe(report *waf.Report, at time.Time) {
	r.LastRun.WithLabelValues(r.backend).Set(float64(at.Unix()))

	if report == nil {
		r.LastRunSuccess.WithLabelValues(r.backend).Set(0)
		return
	}

	for result, n := range report.Counts() {
		r.RulesReconciled.WithLabelValues(r.backend, string(result)).Add(float64(n))
	}
	r.LookupFailures.WithLabelValues(r.backend).Add(float64(report.LookupFailures()))

	success := 0.0
	if report.Succeeded() {
		success = 1
	}
	r.LastRunSuccess.WithLabelValues(r.backend).Set(success)
}

// WriteTextfile writes all metrics in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
