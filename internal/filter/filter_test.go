package filter

import (
	"strings"
	"testing"
	"time"

	"github.com/grabbit/grabbit/internal/models"
)

// stub is a fixed-outcome filter for chain tests.
type stub struct {
	name   string
	passed bool
	panics bool
	took   time.Duration
}

func (s *stub) Name() string { return s.name }

func (s *stub) Apply(models.Post) Result {
	if s.panics {
		panic("broken filter")
	}
	return Result{Passed: s.passed, Reason: s.name, ExecutionTime: s.took}
}

func (s *stub) ValidateConfig() []string { return nil }

func evaluated(t *testing.T, res Result) []ChainResult {
	t.Helper()
	results, ok := res.Metadata["filter_results"].([]ChainResult)
	if !ok {
		t.Fatalf("filter_results missing or wrong type: %#v", res.Metadata)
	}
	return results
}

func TestChainEmpty(t *testing.T) {
	for _, comp := range []Composition{And, Or} {
		res := NewChain(comp).Apply(models.Post{})
		if !res.Passed {
			t.Errorf("%s: empty chain must pass", comp)
		}
		if res.Reason != "No filters to apply" {
			t.Errorf("%s: reason = %q", comp, res.Reason)
		}
		if len(evaluated(t, res)) != 0 {
			t.Errorf("%s: expected empty filter_results", comp)
		}
	}
}

func TestChainAndSemantics(t *testing.T) {
	tests := []struct {
		name       string
		filters    []Filter
		wantPassed bool
		wantReason string
		wantEval   int
	}{
		{
			name:       "all pass",
			filters:    []Filter{&stub{name: "a", passed: true}, &stub{name: "b", passed: true}},
			wantPassed: true,
			wantReason: "All filters passed",
			wantEval:   2,
		},
		{
			name:       "first fails short-circuits",
			filters:    []Filter{&stub{name: "a"}, &stub{name: "b", passed: true}},
			wantPassed: false,
			wantReason: "Failed filter: a",
			wantEval:   1,
		},
		{
			name:       "middle fails reports prefix",
			filters:    []Filter{&stub{name: "a", passed: true}, &stub{name: "b"}, &stub{name: "c", passed: true}},
			wantPassed: false,
			wantReason: "Failed filter: b",
			wantEval:   2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewChain(And, tt.filters...).Apply(models.Post{})
			if res.Passed != tt.wantPassed {
				t.Errorf("passed = %v, want %v", res.Passed, tt.wantPassed)
			}
			if res.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", res.Reason, tt.wantReason)
			}
			if got := len(evaluated(t, res)); got != tt.wantEval {
				t.Errorf("evaluated = %d, want %d", got, tt.wantEval)
			}
		})
	}
}

func TestChainOrSemantics(t *testing.T) {
	tests := []struct {
		name       string
		filters    []Filter
		wantPassed bool
		wantReason string
		wantEval   int
	}{
		{
			name:       "first passes short-circuits",
			filters:    []Filter{&stub{name: "a", passed: true}, &stub{name: "b"}},
			wantPassed: true,
			wantReason: "Passed filter: a",
			wantEval:   1,
		},
		{
			name:       "later passes reports prefix",
			filters:    []Filter{&stub{name: "a"}, &stub{name: "b", passed: true}, &stub{name: "c"}},
			wantPassed: true,
			wantReason: "Passed filter: b",
			wantEval:   2,
		},
		{
			name:       "all fail",
			filters:    []Filter{&stub{name: "a"}, &stub{name: "b"}},
			wantPassed: false,
			wantReason: "All filters failed",
			wantEval:   2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewChain(Or, tt.filters...).Apply(models.Post{})
			if res.Passed != tt.wantPassed {
				t.Errorf("passed = %v, want %v", res.Passed, tt.wantPassed)
			}
			if res.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", res.Reason, tt.wantReason)
			}
			if got := len(evaluated(t, res)); got != tt.wantEval {
				t.Errorf("evaluated = %d, want %d", got, tt.wantEval)
			}
		})
	}
}

func TestChainExecutionTimeIsSumOfEvaluated(t *testing.T) {
	chain := NewChain(And,
		&stub{name: "a", passed: true, took: 10 * time.Millisecond},
		&stub{name: "b", passed: false, took: 5 * time.Millisecond},
		&stub{name: "c", passed: true, took: time.Hour},
	)
	res := chain.Apply(models.Post{})
	if res.ExecutionTime != 15*time.Millisecond {
		t.Errorf("execution time = %s, want 15ms", res.ExecutionTime)
	}
}

func TestChainPanicFailsClosed(t *testing.T) {
	res := NewChain(And, &stub{name: "broken", panics: true}).Apply(models.Post{})
	if res.Passed {
		t.Error("panicking filter must fail")
	}
	if !strings.HasPrefix(res.Reason, "Failed filter: broken") {
		t.Errorf("reason = %q", res.Reason)
	}

	inner := evaluated(t, res)[0]
	if !strings.HasPrefix(inner.Result.Reason, "Filter error:") {
		t.Errorf("inner reason = %q", inner.Result.Reason)
	}
	if inner.Result.Metadata["fault"] == nil {
		t.Error("expected fault metadata")
	}
}

func TestChainValidateConfigPrefixesNames(t *testing.T) {
	min, max := 10, 5
	chain := NewChain(And, &ScoreFilter{Min: &min, Max: &max})
	errs := chain.ValidateConfig()
	if len(errs) != 1 {
		t.Fatalf("errors = %v", errs)
	}
	if !strings.HasPrefix(errs[0], "score: ") {
		t.Errorf("error = %q, want score: prefix", errs[0])
	}
}
