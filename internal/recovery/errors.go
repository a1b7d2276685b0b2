// Package recovery classifies failures into a small taxonomy and executes
// retryable units of work under a per-operation state machine with
// exponential backoff, skip, abort and degrade strategies.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrKind is the failure taxonomy. Classification relies on these declared
// markers, never on message text.
type ErrKind string

const (
	// KindTransient covers timeouts, rate limits and 5xx-equivalents.
	KindTransient ErrKind = "transient"
	// KindPermanent covers not-found, malformed input and permission denials.
	KindPermanent ErrKind = "permanent"
	// KindAuthentication needs external remediation before anything succeeds.
	KindAuthentication ErrKind = "authentication"
	// KindResource covers disk-full and quota conditions.
	KindResource ErrKind = "resource"
	// KindUnknown is anything unclassified, retried with a low attempt cap.
	KindUnknown ErrKind = "unknown"
)

// ClassifiedError attaches a taxonomy kind to an underlying failure.
// RetryAfter, when set, overrides the computed backoff delay.
type ClassifiedError struct {
	Kind       ErrKind
	Err        error
	RetryAfter time.Duration
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classifier is implemented by errors that declare their own taxonomy kind,
// letting collaborator packages mark failures without importing the manager.
type Classifier interface {
	RecoveryKind() ErrKind
}

// Transient wraps err as a transient failure.
func Transient(err error) error {
	return &ClassifiedError{Kind: KindTransient, Err: err}
}

// TransientAfter wraps err as transient with a server-advised retry delay.
func TransientAfter(err error, retryAfter time.Duration) error {
	return &ClassifiedError{Kind: KindTransient, Err: err, RetryAfter: retryAfter}
}

// Permanent wraps err as a permanent failure.
func Permanent(err error) error {
	return &ClassifiedError{Kind: KindPermanent, Err: err}
}

// Authentication wraps err as an authentication failure.
func Authentication(err error) error {
	return &ClassifiedError{Kind: KindAuthentication, Err: err}
}

// Resource wraps err as a resource-exhaustion failure.
func Resource(err error) error {
	return &ClassifiedError{Kind: KindResource, Err: err}
}

// KindOf resolves the taxonomy kind of err. Context deadline errors count as
// transient: a per-attempt timeout is an ordinary recoverable slow attempt.
func KindOf(err error) ErrKind {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var cl Classifier
	if errors.As(err, &cl) {
		return cl.RecoveryKind()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}

// retryAfterHint extracts a server-advised delay, if the error carries one.
func retryAfterHint(err error) time.Duration {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.RetryAfter
	}
	var h interface{ RetryAfterHint() time.Duration }
	if errors.As(err, &h) {
		return h.RetryAfterHint()
	}
	return 0
}
