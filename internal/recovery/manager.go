package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/grabbit/grabbit/internal/events"
)

// Strategy is the action selected for a classified failure.
type Strategy string

const (
	StrategyRetry   Strategy = "retry"
	StrategySkip    Strategy = "skip"
	StrategyAbort   Strategy = "abort"
	StrategyDegrade Strategy = "degrade"
)

// Decision is the outcome of classifying one failure.
type Decision struct {
	Strategy    Strategy
	Delay       time.Duration
	Recoverable bool
}

// Policy parameterizes backoff and attempt budgets. Attempts count the
// initial call: MaxAttempts of 3 means at most three invocations.
type Policy struct {
	BaseDelay        time.Duration
	Multiplier       float64
	MaxDelay         time.Duration
	MaxAttempts      int
	ResourceAttempts int
	UnknownAttempts  int
	Jitter           bool
	// OnExhausted decides between abort and skip once attempts run out.
	OnExhausted Strategy
}

// DefaultPolicy returns the policy used when an operation does not override.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:        1 * time.Second,
		Multiplier:       2.0,
		MaxDelay:         30 * time.Second,
		MaxAttempts:      3,
		ResourceAttempts: 2,
		UnknownAttempts:  2,
		Jitter:           true,
		OnExhausted:      StrategyAbort,
	}
}

// Status is the lifecycle state of one retryable unit of work.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
)

// OperationState tracks one unit through pending → retrying → terminal.
// Only the worker owning the unit mutates it, so no locking is needed.
type OperationState struct {
	OperationID string
	Name        string
	Attempts    int
	LastError   error
	Status      Status
	NextRetryAt time.Time
}

// Terminal reports whether the state can no longer transition.
func (s *OperationState) Terminal() bool {
	switch s.Status {
	case StatusSucceeded, StatusFailed, StatusAbandoned:
		return true
	}
	return false
}

// Operation is one guarded unit of work. Run performs the work; Fallback,
// when set, is the reduced-functionality alternative applied under the
// degrade strategy for error kinds listed in DegradeOn.
type Operation struct {
	Name           string
	Stage          string
	PostID         string
	URL            string
	AttemptTimeout time.Duration
	Policy         *Policy
	Run            func(ctx context.Context) error
	Fallback       func(ctx context.Context, cause error) error
	DegradeOn      []ErrKind
}

// Result is the archived outcome of one guarded operation. Skipped results
// are a non-fatal absence of output; Fatal results must stop the stage.
type Result struct {
	State    *OperationState
	Skipped  bool
	Degraded bool
	Fatal    bool
	Err      error
}

// Succeeded reports whether the operation produced output, possibly degraded.
func (r Result) Succeeded() bool {
	return r.State.Status == StatusSucceeded
}

// Manager classifies failures and drives guarded execution. Construct one
// per run and pass it explicitly; there is no process-global instance.
type Manager struct {
	policy    Policy
	bus       *events.Bus
	logger    *slog.Logger
	sessionID string
}

// NewManager creates a recovery manager publishing Error events to bus.
func NewManager(policy Policy, bus *events.Bus, logger *slog.Logger, sessionID string) *Manager {
	return &Manager{policy: policy, bus: bus, logger: logger, sessionID: sessionID}
}

// Classify maps a failure to a recovery decision given how many attempts the
// operation has already consumed.
func (m *Manager) Classify(err error, op Operation, attempt int) Decision {
	policy := m.policy
	if op.Policy != nil {
		policy = *op.Policy
	}

	kind := KindOf(err)
	if op.Fallback != nil && kindIn(op.DegradeOn, kind) {
		return Decision{Strategy: StrategyDegrade, Recoverable: true}
	}

	switch kind {
	case KindAuthentication:
		return Decision{Strategy: StrategyAbort}
	case KindPermanent:
		return Decision{Strategy: StrategySkip}
	}

	budget := policy.MaxAttempts
	switch kind {
	case KindResource:
		budget = policy.ResourceAttempts
	case KindUnknown:
		budget = policy.UnknownAttempts
	}

	if attempt >= budget {
		exhausted := policy.OnExhausted
		if exhausted != StrategySkip {
			exhausted = StrategyAbort
		}
		return Decision{Strategy: exhausted, Recoverable: false}
	}

	delay := retryAfterHint(err)
	if delay <= 0 {
		delay = m.backoff(policy, attempt)
	}
	return Decision{Strategy: StrategyRetry, Delay: delay, Recoverable: true}
}

// Execute runs the operation under the recovery state machine. Failures are
// absorbed into the returned Result; the only error ever surfaced through
// Result.Err alongside Fatal is one the caller's stage must stop on.
func (m *Manager) Execute(ctx context.Context, op Operation) Result {
	state := &OperationState{
		OperationID: uuid.NewString()[:8],
		Name:        op.Name,
		Status:      StatusPending,
	}

	for {
		err := m.attempt(ctx, op)
		state.Attempts++

		if err == nil {
			state.Status = StatusSucceeded
			return Result{State: state}
		}
		state.LastError = err

		if ctx.Err() != nil {
			state.Status = StatusFailed
			return Result{State: state, Err: ctx.Err(), Fatal: true}
		}

		decision := m.Classify(err, op, state.Attempts)
		m.publishError(op, state, decision, err)

		switch decision.Strategy {
		case StrategyRetry:
			state.Status = StatusRetrying
			state.NextRetryAt = time.Now().Add(decision.Delay)
			m.logger.Debug("retrying operation",
				"operation", op.Name,
				"operation_id", state.OperationID,
				"attempt", state.Attempts,
				"delay", decision.Delay,
			)
			if err := sleep(ctx, decision.Delay); err != nil {
				state.Status = StatusFailed
				return Result{State: state, Err: err, Fatal: true}
			}

		case StrategyDegrade:
			if ferr := op.Fallback(ctx, err); ferr != nil {
				state.LastError = ferr
				state.Status = StatusFailed
				return Result{State: state, Err: fmt.Errorf("fallback for %s failed: %w", op.Name, ferr)}
			}
			state.Status = StatusSucceeded
			return Result{State: state, Degraded: true}

		case StrategySkip:
			state.Status = StatusAbandoned
			return Result{State: state, Skipped: true, Err: err}

		default: // StrategyAbort
			state.Status = StatusFailed
			return Result{State: state, Err: err, Fatal: true}
		}
	}
}

// attempt invokes Run under the per-attempt timeout. The timeout bounds a
// single attempt, not the whole retry sequence.
func (m *Manager) attempt(ctx context.Context, op Operation) error {
	if op.AttemptTimeout <= 0 {
		return op.Run(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, op.AttemptTimeout)
	defer cancel()
	return op.Run(attemptCtx)
}

func (m *Manager) backoff(policy Policy, attempt int) time.Duration {
	delay := float64(policy.BaseDelay) * math.Pow(policy.Multiplier, float64(attempt-1))
	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	d := time.Duration(delay)
	if policy.Jitter {
		d += time.Duration(float64(d) * 0.1 * (2*rand.Float64() - 1))
	}
	return d
}

func (m *Manager) publishError(op Operation, state *OperationState, decision Decision, err error) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.New(m.sessionID, events.Error{
		ErrorKind:    string(KindOf(err)),
		Message:      err.Error(),
		ErrorContext: op.Name,
		Strategy:     string(decision.Strategy),
		Stage:        op.Stage,
		PostID:       op.PostID,
		URL:          op.URL,
		OperationID:  state.OperationID,
		Recoverable:  decision.Strategy != StrategyAbort,
		RetryCount:   state.Attempts,
	}))
}

func kindIn(kinds []ErrKind, kind ErrKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
