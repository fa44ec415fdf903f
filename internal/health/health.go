// Package health runs named readiness checks against LitScout's external
// dependencies (the store, the encoder, the upstream catalog) and reports
// the result, for use by a CLI diagnostic command.
package health

import (
	"context"
	"time"
)

// checkTimeout is the maximum time a single check may take before its
// context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check should return nil when the
// dependency is healthy and a non-nil error describing the failure
// otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g.
	// "database", "encoder", "provider").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// CheckResult is one checker's outcome.
type CheckResult struct {
	Name string
	OK   bool
	Err  string
}

// Report is the outcome of running every registered [Checker].
type Report struct {
	OK      bool
	Results []CheckResult
}

// Runner evaluates a fixed list of checkers. Safe for concurrent use; the
// checker list is fixed at construction time.
type Runner struct {
	checkers []Checker
}

// NewRunner creates a [Runner] over the given checkers, evaluated
// sequentially in the order provided by [Runner.Run].
func NewRunner(checkers ...Checker) *Runner {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Runner{checkers: c}
}

// Run evaluates every checker, each under its own [checkTimeout] deadline
// derived from ctx, and returns the aggregate report.
func (r *Runner) Run(ctx context.Context) Report {
	report := Report{OK: true, Results: make([]CheckResult, 0, len(r.checkers))}

	for _, c := range r.checkers {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(checkCtx)
		cancel()

		res := CheckResult{Name: c.Name, OK: err == nil}
		if err != nil {
			res.Err = err.Error()
			report.OK = false
		}
		report.Results = append(report.Results, res)
	}

	return report
}
