// Package source lists posts from a remote content source. Listings are
// exposed as lazy iterators so discovery can stream into the pipeline
// without holding a whole target in memory.
package source

import (
	"context"

	"github.com/grabbit/grabbit/internal/models"
)

// Client lists posts for a target. Implementations classify their failures
// so the recovery layer can decide between retry, skip and abort without
// inspecting message text.
type Client interface {
	Listing(target models.Target, limit int) Iterator
}

// Iterator walks a listing one post at a time. It is single-use and not
// restartable: once Next returns false, check Err and discard the iterator.
//
//	it := client.Listing(target, limit)
//	for it.Next(ctx) {
//		post := it.Post()
//		...
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator interface {
	Next(ctx context.Context) bool
	Post() models.Post
	Err() error
}

// sliceIterator serves a fixed set of posts, used by tests and replays.
type sliceIterator struct {
	posts []models.Post
	pos   int
	cur   models.Post
}

// FromPosts returns an iterator over a fixed slice.
func FromPosts(posts []models.Post) Iterator {
	return &sliceIterator{posts: posts}
}

func (it *sliceIterator) Next(ctx context.Context) bool {
	if ctx.Err() != nil || it.pos >= len(it.posts) {
		return false
	}
	it.cur = it.posts[it.pos]
	it.pos++
	return true
}

func (it *sliceIterator) Post() models.Post { return it.cur }

func (it *sliceIterator) Err() error { return nil }
