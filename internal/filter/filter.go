// Package filter evaluates posts against composable predicates. A Chain
// combines filters under AND or OR semantics with short-circuit evaluation;
// a broken filter fails closed instead of taking the chain down with it.
package filter

import (
	"fmt"
	"time"

	"github.com/grabbit/grabbit/internal/models"
)

// Result is the outcome of applying one filter (or a whole chain) to a post.
type Result struct {
	Passed        bool
	Reason        string
	ExecutionTime time.Duration
	Metadata      map[string]any
}

// Filter judges a single post. Apply must not mutate the post; a panic from
// Apply is converted by the chain into a failed result.
type Filter interface {
	Name() string
	Apply(post models.Post) Result
	ValidateConfig() []string
}

// Composition selects how a chain combines its filters.
type Composition string

const (
	And Composition = "and"
	Or  Composition = "or"
)

// ChainResult pairs an evaluated filter's name with its result.
type ChainResult struct {
	Filter string
	Result Result
}

// Chain is an ordered sequence of filters evaluated under one composition.
type Chain struct {
	filters     []Filter
	composition Composition
}

// NewChain builds a chain. Order matters: evaluation stops at the first
// decisive result.
func NewChain(composition Composition, filters ...Filter) *Chain {
	return &Chain{filters: filters, composition: composition}
}

// Len returns the number of filters in the chain.
func (c *Chain) Len() int { return len(c.filters) }

// Composition returns the chain's combining mode.
func (c *Chain) Composition() Composition { return c.composition }

// Apply evaluates the chain against a post.
//
// AND stops at the first failing filter, OR at the first passing one. The
// returned metadata's "filter_results" holds only the results actually
// evaluated, so short-circuited chains report a prefix, and the aggregate
// execution time is the sum of the evaluated filters' own times rather than
// wall clock.
func (c *Chain) Apply(post models.Post) Result {
	if len(c.filters) == 0 {
		return Result{
			Passed:   true,
			Reason:   "No filters to apply",
			Metadata: map[string]any{"filter_results": []ChainResult{}},
		}
	}

	evaluated := make([]ChainResult, 0, len(c.filters))
	var total time.Duration

	for _, f := range c.filters {
		res := safeApply(f, post)
		evaluated = append(evaluated, ChainResult{Filter: f.Name(), Result: res})
		total += res.ExecutionTime

		if c.composition == And && !res.Passed {
			return Result{
				Passed:        false,
				Reason:        fmt.Sprintf("Failed filter: %s", f.Name()),
				ExecutionTime: total,
				Metadata: map[string]any{
					"filter_results": evaluated,
					"failed_filter":  f.Name(),
				},
			}
		}
		if c.composition == Or && res.Passed {
			return Result{
				Passed:        true,
				Reason:        fmt.Sprintf("Passed filter: %s", f.Name()),
				ExecutionTime: total,
				Metadata: map[string]any{
					"filter_results": evaluated,
					"passed_filter":  f.Name(),
				},
			}
		}
	}

	if c.composition == And {
		return Result{
			Passed:        true,
			Reason:        "All filters passed",
			ExecutionTime: total,
			Metadata:      map[string]any{"filter_results": evaluated},
		}
	}
	return Result{
		Passed:        false,
		Reason:        "All filters failed",
		ExecutionTime: total,
		Metadata:      map[string]any{"filter_results": evaluated},
	}
}

// ValidateConfig collects configuration errors from every filter, prefixed
// with the filter's name.
func (c *Chain) ValidateConfig() []string {
	var errs []string
	for _, f := range c.filters {
		for _, e := range f.ValidateConfig() {
			errs = append(errs, fmt.Sprintf("%s: %s", f.Name(), e))
		}
	}
	return errs
}

// safeApply converts a panicking filter into a failed result so one broken
// filter cannot crash the chain.
func safeApply(f Filter, post models.Post) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Passed:        false,
				Reason:        fmt.Sprintf("Filter error: %v", r),
				ExecutionTime: time.Since(start),
				Metadata:      map[string]any{"fault": fmt.Sprint(r)},
			}
		}
	}()
	return f.Apply(post)
}
