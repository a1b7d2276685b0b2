package pipeline

import (
	"context"
	"time"

	"github.com/grabbit/grabbit/internal/events"
	"github.com/grabbit/grabbit/internal/models"
)

// FilterStage applies the configured filter chain to the working set.
// Excluded posts leave the working set but stay on the context for
// accounting and the final report.
type FilterStage struct{}

func (s *FilterStage) Name() string { return "filter" }

func (s *FilterStage) Run(ctx context.Context, pc *Context) error {
	if pc.Chain == nil || pc.Chain.Len() == 0 {
		pc.Logger.Debug("no filters configured")
		return nil
	}

	start := time.Now()
	before := len(pc.Posts)
	kept := make([]models.Post, 0, before)
	var excluded []events.FilterExclusion

	for _, post := range pc.Posts {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := pc.Chain.Apply(post)
		pc.RecordOutcome(s.Name(), res.Passed)
		if res.Passed {
			kept = append(kept, post)
			continue
		}
		pc.Excluded = append(pc.Excluded, ExcludedPost{Post: post, Reason: res.Reason})
		excluded = append(excluded, events.FilterExclusion{PostID: post.ID, Reason: res.Reason})
		pc.Logger.Debug("post filtered", "post_id", post.ID, "reason", res.Reason)
	}

	pc.Posts = kept
	pc.Publish(events.FilterApplied{
		Stage:         s.Name(),
		Composition:   string(pc.Chain.Composition()),
		PostsBefore:   before,
		PostsAfter:    len(kept),
		PostsFiltered: before - len(kept),
		Excluded:      excluded,
		Duration:      time.Since(start),
	})
	pc.Logger.Info("filtering finished", "before", before, "after", len(kept))
	return nil
}
