package filter

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/grabbit/grabbit/internal/models"
)

// RestrictedMode selects how restricted (nsfw-like) posts are handled.
type RestrictedMode string

const (
	// RestrictedExclude fails restricted posts.
	RestrictedExclude RestrictedMode = "exclude"
	// RestrictedInclude passes every post regardless of the flag.
	RestrictedInclude RestrictedMode = "include"
	// RestrictedOnly passes only restricted posts.
	RestrictedOnly RestrictedMode = "only"
)

// RestrictedFilter judges posts by their restricted-content flag.
type RestrictedFilter struct {
	Mode RestrictedMode
}

func (f *RestrictedFilter) Name() string { return "restricted" }

func (f *RestrictedFilter) Apply(post models.Post) Result {
	start := time.Now()
	meta := map[string]any{"is_restricted": post.IsRestricted, "mode": string(f.Mode)}

	var passed bool
	var reason string
	switch f.Mode {
	case RestrictedOnly:
		passed = post.IsRestricted
		if passed {
			reason = "post is restricted (mode only)"
		} else {
			reason = "post is not restricted (mode only)"
		}
	case RestrictedInclude:
		passed = true
		reason = "restricted content allowed"
	default:
		// Exclude, also the fallback for an unset mode.
		passed = !post.IsRestricted
		if passed {
			reason = "post is not restricted"
		} else {
			reason = "post is restricted (mode exclude)"
		}
	}

	return Result{Passed: passed, Reason: reason, ExecutionTime: time.Since(start), Metadata: meta}
}

func (f *RestrictedFilter) ValidateConfig() []string {
	switch f.Mode {
	case "", RestrictedExclude, RestrictedInclude, RestrictedOnly:
		return nil
	}
	return []string{fmt.Sprintf("unknown mode: %s", f.Mode)}
}

// KeywordFilter matches terms against a post's title and body,
// case-insensitively. Exclude terms always win over include terms.
type KeywordFilter struct {
	Include []string
	Exclude []string
}

func (f *KeywordFilter) Name() string { return "keyword" }

func (f *KeywordFilter) Apply(post models.Post) Result {
	start := time.Now()
	text := strings.ToLower(post.Title + " " + post.Body)

	for _, term := range f.Exclude {
		if term != "" && strings.Contains(text, strings.ToLower(term)) {
			return Result{
				Passed:        false,
				Reason:        fmt.Sprintf("matched excluded keyword %q", term),
				ExecutionTime: time.Since(start),
				Metadata:      map[string]any{"matched": term},
			}
		}
	}

	if len(f.Include) == 0 {
		return Result{
			Passed:        true,
			Reason:        "no excluded keywords matched",
			ExecutionTime: time.Since(start),
		}
	}

	for _, term := range f.Include {
		if term != "" && strings.Contains(text, strings.ToLower(term)) {
			return Result{
				Passed:        true,
				Reason:        fmt.Sprintf("matched keyword %q", term),
				ExecutionTime: time.Since(start),
				Metadata:      map[string]any{"matched": term},
			}
		}
	}
	return Result{
		Passed:        false,
		Reason:        "no included keywords matched",
		ExecutionTime: time.Since(start),
	}
}

func (f *KeywordFilter) ValidateConfig() []string {
	if len(f.Include) == 0 && len(f.Exclude) == 0 {
		return []string{"at least one include or exclude keyword is required"}
	}
	return nil
}

// DomainFilter judges posts by the host of their media URL. A non-empty
// allow list admits only listed hosts; the block list always rejects.
type DomainFilter struct {
	Allow []string
	Block []string
}

func (f *DomainFilter) Name() string { return "domain" }

func (f *DomainFilter) Apply(post models.Post) Result {
	start := time.Now()

	u, err := url.Parse(post.URL)
	if err != nil || u.Host == "" {
		return Result{
			Passed:        false,
			Reason:        fmt.Sprintf("unparsable media URL %q", post.URL),
			ExecutionTime: time.Since(start),
			Metadata:      map[string]any{"url": post.URL},
		}
	}
	host := strings.ToLower(u.Hostname())
	meta := map[string]any{"host": host}

	for _, blocked := range f.Block {
		if hostMatches(host, blocked) {
			return Result{
				Passed:        false,
				Reason:        fmt.Sprintf("domain %s is blocked", host),
				ExecutionTime: time.Since(start),
				Metadata:      meta,
			}
		}
	}

	if len(f.Allow) > 0 {
		for _, allowed := range f.Allow {
			if hostMatches(host, allowed) {
				return Result{
					Passed:        true,
					Reason:        fmt.Sprintf("domain %s is allowed", host),
					ExecutionTime: time.Since(start),
					Metadata:      meta,
				}
			}
		}
		return Result{
			Passed:        false,
			Reason:        fmt.Sprintf("domain %s not in allow list", host),
			ExecutionTime: time.Since(start),
			Metadata:      meta,
		}
	}

	return Result{
		Passed:        true,
		Reason:        fmt.Sprintf("domain %s is not blocked", host),
		ExecutionTime: time.Since(start),
		Metadata:      meta,
	}
}

// hostMatches reports whether host equals pattern or is a subdomain of it.
func hostMatches(host, pattern string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return false
	}
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

func (f *DomainFilter) ValidateConfig() []string {
	if len(f.Allow) == 0 && len(f.Block) == 0 {
		return []string{"at least one allow or block domain is required"}
	}
	return nil
}

// AgeFilter passes posts created within MaxAge of now. Now is injectable for
// tests and defaults to time.Now.
type AgeFilter struct {
	MaxAge time.Duration
	Now    func() time.Time
}

func (f *AgeFilter) Name() string { return "age" }

func (f *AgeFilter) Apply(post models.Post) Result {
	start := time.Now()
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}

	age := post.Age(now())
	meta := map[string]any{"age": age.String(), "max_age": f.MaxAge.String()}
	if age > f.MaxAge {
		return Result{
			Passed:        false,
			Reason:        fmt.Sprintf("post age %s exceeds maximum %s", age.Round(time.Second), f.MaxAge),
			ExecutionTime: time.Since(start),
			Metadata:      meta,
		}
	}
	return Result{
		Passed:        true,
		Reason:        fmt.Sprintf("post age %s within maximum %s", age.Round(time.Second), f.MaxAge),
		ExecutionTime: time.Since(start),
		Metadata:      meta,
	}
}

func (f *AgeFilter) ValidateConfig() []string {
	if f.MaxAge <= 0 {
		return []string{"max age must be positive"}
	}
	return nil
}
