package filter

import (
	"fmt"
	"time"

	"github.com/grabbit/grabbit/internal/models"
)

// MissingPolicy decides how numeric filters treat posts without a usable
// value, resolved before any comparison happens.
type MissingPolicy string

const (
	// TreatAsZero substitutes zero and compares normally.
	TreatAsZero MissingPolicy = "treat_as_zero"
	// Exclude fails posts without a value.
	Exclude MissingPolicy = "exclude"
	// Include passes posts without a value.
	Include MissingPolicy = "include"
)

func validMissingPolicy(p MissingPolicy) bool {
	switch p {
	case TreatAsZero, Exclude, Include:
		return true
	}
	return false
}

// ScoreFilter passes posts whose score lies within [Min, Max]. Both bounds
// are optional and inclusive.
type ScoreFilter struct {
	Min     *int
	Max     *int
	Missing MissingPolicy
}

// Name implements Filter.
func (f *ScoreFilter) Name() string { return "score" }

// Apply implements Filter. Out-of-range posts get a boundary-specific reason,
// in-range posts a single combined one.
func (f *ScoreFilter) Apply(post models.Post) Result {
	start := time.Now()

	score, ok := post.ScoreValue()
	meta := map[string]any{"post_score": score, "score_present": ok}
	if f.Min != nil {
		meta["min"] = *f.Min
	}
	if f.Max != nil {
		meta["max"] = *f.Max
	}

	if !ok {
		switch f.Missing {
		case Exclude:
			return Result{
				Passed:        false,
				Reason:        "score missing (policy exclude)",
				ExecutionTime: time.Since(start),
				Metadata:      meta,
			}
		case Include:
			return Result{
				Passed:        true,
				Reason:        "score missing (policy include)",
				ExecutionTime: time.Since(start),
				Metadata:      meta,
			}
		default:
			// TreatAsZero, also the fallback for an unset policy.
			score = 0
			meta["post_score"] = 0
		}
	}

	if f.Min != nil && score < *f.Min {
		return Result{
			Passed:        false,
			Reason:        fmt.Sprintf("score %d < minimum %d", score, *f.Min),
			ExecutionTime: time.Since(start),
			Metadata:      meta,
		}
	}
	if f.Max != nil && score > *f.Max {
		return Result{
			Passed:        false,
			Reason:        fmt.Sprintf("score %d > maximum %d", score, *f.Max),
			ExecutionTime: time.Since(start),
			Metadata:      meta,
		}
	}

	var reason string
	switch {
	case f.Min != nil && f.Max != nil:
		reason = fmt.Sprintf("score %d within range %d..%d", score, *f.Min, *f.Max)
	case f.Min != nil:
		reason = fmt.Sprintf("score %d >= minimum %d", score, *f.Min)
	case f.Max != nil:
		reason = fmt.Sprintf("score %d <= maximum %d", score, *f.Max)
	default:
		reason = "no score bounds configured"
	}
	return Result{
		Passed:        true,
		Reason:        reason,
		ExecutionTime: time.Since(start),
		Metadata:      meta,
	}
}

// ValidateConfig implements Filter.
func (f *ScoreFilter) ValidateConfig() []string {
	var errs []string
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		errs = append(errs, "min cannot be greater than max")
	}
	if f.Missing != "" && !validMissingPolicy(f.Missing) {
		errs = append(errs, fmt.Sprintf("unknown missing-value policy: %s", f.Missing))
	}
	return errs
}
