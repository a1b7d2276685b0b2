package source

import (
	"fmt"
	"time"

	"github.com/grabbit/grabbit/internal/recovery"
)

// AuthError reports rejected or expired credentials. Nothing else against
// this source will succeed until the credentials are fixed externally.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected (status %d)", e.Status)
}

func (e *AuthError) RecoveryKind() recovery.ErrKind { return recovery.KindAuthentication }

// NotFoundError reports a target that does not exist or is inaccessible.
type NotFoundError struct {
	Target string
	Status int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("target %s not found (status %d)", e.Target, e.Status)
}

func (e *NotFoundError) RecoveryKind() recovery.ErrKind { return recovery.KindPermanent }

// RateLimitError reports request throttling. RetryAfter carries the
// server-advised delay when the response included one.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

func (e *RateLimitError) RecoveryKind() recovery.ErrKind { return recovery.KindTransient }

func (e *RateLimitError) RetryAfterHint() time.Duration { return e.RetryAfter }

// ServerError reports a 5xx response from the source.
type ServerError struct {
	Status int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (status %d)", e.Status)
}

func (e *ServerError) RecoveryKind() recovery.ErrKind { return recovery.KindTransient }
