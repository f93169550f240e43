package waf

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"
)

// LookupState is the outcome of asking a backend whether a rule exists.
type LookupState string

const (
	LookupFound  LookupState = "found"
	LookupAbsent LookupState = "absent"
	LookupFailed LookupState = "lookup-failed"
)

// Lookup is the three-state result of locating a declared rule remotely.
type Lookup struct {
	State LookupState
	Match Match
	Err   error
}

// LookupFailurePolicy decides what happens to a rule whose lookup failed.
type LookupFailurePolicy string

const (
	// LookupFailureCreate falls through to the create path. A transient
	// lookup error can therefore produce a duplicate rule.
	LookupFailureCreate LookupFailurePolicy = "create"
	// LookupFailureSkip marks the rule failed without writing anything.
	LookupFailureSkip LookupFailurePolicy = "skip"
)

// ParseLookupFailurePolicy accepts "", "create" or "skip".
func ParseLookupFailurePolicy(s string) (LookupFailurePolicy, error) {
	switch LookupFailurePolicy(s) {
	case "", LookupFailureCreate:
		return LookupFailureCreate, nil
	case LookupFailureSkip:
		return LookupFailureSkip, nil
	}
	return "", &ConfigurationError{Field: "on_lookup_failure", Reason: fmt.Sprintf("unknown policy %q (want create or skip)", s)}
}

// Result is the terminal state of one rule within a run.
type Result string

const (
	ResultCreated Result = "created"
	ResultUpdated Result = "updated"
	ResultFailed  Result = "failed"
)

// Outcome records what happened to one declared rule.
type Outcome struct {
	Description string
	Lookup      LookupState
	Result      Result
	// LookupErr is set whenever Lookup is LookupFailed, even if a create
	// went through afterwards.
	LookupErr error
	Err       error
}

// Report is the per-rule result of a run, in declaration order.
type Report struct {
	ZoneID   string
	Outcomes []Outcome
}

// Err aggregates the failures of all rules, or returns nil.
func (r *Report) Err() error {
	var errs error
	for _, o := range r.Outcomes {
		if o.Result == ResultFailed {
			errs = multierr.Append(errs, o.Err)
		}
	}
	return errs
}

// Succeeded reports whether every rule was created or updated.
func (r *Report) Succeeded() bool {
	return r.Err() == nil
}

// Counts returns the number of rules per result.
func (r *Report) Counts() map[Result]int {
	counts := make(map[Result]int, 3)
	for _, o := range r.Outcomes {
		counts[o.Result]++
	}
	return counts
}

// LookupFailures returns how many rules could not be located.
func (r *Report) LookupFailures() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Lookup == LookupFailed {
			n++
		}
	}
	return n
}

// Target names the zone a run reconciles. When ZoneID is set the domain is
// not resolved.
type Target struct {
	Domain string
	ZoneID string
}

// Reconciler converges a backend's rules towards a declared rule list.
// Rules are processed one at a time, in order.
type Reconciler struct {
	Backend         Backend
	Log             logr.Logger
	OnLookupFailure LookupFailurePolicy
}

// Run resolves the zone once and then creates or updates every rule. The
// returned error is non-nil only when nothing could be attempted; per-rule
// failures are reported through Report.Err.
func (r *Reconciler) Run(ctx context.Context, target Target, rules []Rule) (*Report, error) {
	zoneID, err := r.resolveZone(ctx, target)
	if err != nil {
		return nil, err
	}

	for _, d := range DuplicateDescriptions(rules) {
		r.Log.Info("rule description declared more than once, all of them target the first remote match", "description", d, "warning", true)
	}

	report := &Report{ZoneID: zoneID, Outcomes: make([]Outcome, 0, len(rules))}
	for _, rule := range rules {
		report.Outcomes = append(report.Outcomes, r.reconcileRule(ctx, zoneID, rule))
	}
	return report, nil
}

func (r *Reconciler) resolveZone(ctx context.Context, target Target) (string, error) {
	if target.ZoneID != "" {
		r.Log.V(1).Info("using configured zone id", "zone", target.ZoneID)
		return target.ZoneID, nil
	}
	if target.Domain == "" {
		return "", &ConfigurationError{Field: "domain", Reason: "neither domain nor zone is set"}
	}

	r.Log.Info("looking up zone", "domain", target.Domain)
	zoneID, found, err := r.Backend.ResolveZone(ctx, target.Domain)
	if err != nil {
		return "", fmt.Errorf("resolving zone for %q: %w", target.Domain, err)
	}
	if !found {
		return "", &ZoneNotFoundError{Domain: target.Domain}
	}
	r.Log.V(1).Info("resolved zone", "domain", target.Domain, "zone", zoneID)
	return zoneID, nil
}

func (r *Reconciler) locate(ctx context.Context, zoneID string, rule Rule) Lookup {
	match, found, err := r.Backend.LocateRule(ctx, zoneID, rule)
	switch {
	case err != nil:
		return Lookup{State: LookupFailed, Err: err}
	case found && match.RulesetID != "" && match.RuleID != "":
		return Lookup{State: LookupFound, Match: match}
	default:
		return Lookup{State: LookupAbsent}
	}
}

func (r *Reconciler) reconcileRule(ctx context.Context, zoneID string, rule Rule) Outcome {
	log := r.Log.WithValues("description", rule.Description)
	lookup := r.locate(ctx, zoneID, rule)
	out := Outcome{Description: rule.Description, Lookup: lookup.State}

	if lookup.State == LookupFailed {
		out.LookupErr = lookup.Err
		if r.OnLookupFailure == LookupFailureSkip {
			log.Error(lookup.Err, "rule lookup failed, skipping")
			out.Result = ResultFailed
			out.Err = &ReconcileError{Description: rule.Description, Op: "lookup", Err: lookup.Err}
			return out
		}
		log.Error(lookup.Err, "rule lookup failed, treating rule as absent")
	}

	if lookup.State == LookupFound {
		log.Info("found existing rule, updating", "ruleset", lookup.Match.RulesetID, "rule", lookup.Match.RuleID)
		if err := r.Backend.UpdateRule(ctx, zoneID, lookup.Match, rule); err != nil {
			log.Error(err, "updating rule failed")
			out.Result = ResultFailed
			out.Err = &ReconcileError{Description: rule.Description, Op: "update", Err: err}
			return out
		}
		out.Result = ResultUpdated
		return out
	}

	log.Info("no existing rule found, creating")
	if err := r.Backend.CreateRule(ctx, zoneID, rule); err != nil {
		log.Error(err, "creating rule failed")
		out.Result = ResultFailed
		out.Err = &ReconcileError{Description: rule.Description, Op: "create", Err: err}
		return out
	}
	out.Result = ResultCreated
	return out
}
