package pipeline

import (
	"context"

	"github.com/grabbit/grabbit/internal/events"
	"github.com/grabbit/grabbit/internal/models"
	"github.com/grabbit/grabbit/internal/recovery"
	"github.com/grabbit/grabbit/internal/source"
)

// DiscoverStage lists posts for the target and seeds the working set.
type DiscoverStage struct {
	Source source.Client
}

func (s *DiscoverStage) Name() string { return "discover" }

// Run lists the target under recovery. Listing iterators are single-use, so
// a retry re-lists from the start rather than resuming a broken cursor.
func (s *DiscoverStage) Run(ctx context.Context, pc *Context) error {
	var posts []models.Post

	res := pc.Recovery.Execute(ctx, recovery.Operation{
		Name:  "list-target",
		Stage: s.Name(),
		Run: func(ctx context.Context) error {
			posts = posts[:0]
			it := s.Source.Listing(pc.Target, pc.Limit)
			for it.Next(ctx) {
				posts = append(posts, it.Post())
			}
			return it.Err()
		},
	})
	if res.Fatal {
		return res.Err
	}
	if res.Skipped {
		pc.Logger.Warn("target skipped", "target", pc.Target, "error", res.Err)
	}

	pc.Posts = posts
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	pc.Publish(events.PostDiscovered{
		Target:    pc.Target.String(),
		PostCount: len(posts),
		PostIDs:   ids,
	})
	pc.Logger.Info("discovery finished", "target", pc.Target, "posts", len(posts))
	return nil
}
