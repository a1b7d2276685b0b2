package filter

import (
	"fmt"
	"sort"
	"time"
)

// Factory builds a filter from its run-file options.
type Factory func(options map[string]any) (Filter, error)

type registration struct {
	name     string
	priority int
	factory  Factory
}

// Registry maps filter names to factories. Registration is explicit; nothing
// is discovered by scanning. Lower priority values evaluate earlier when a
// chain is built from the registry, cheap checks ahead of expensive ones.
type Registry struct {
	entries map[string]registration
}

// NewRegistry returns a registry preloaded with the built-in filters.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]registration)}
	r.Register("score", 10, newScoreFilter)
	r.Register("restricted", 20, newRestrictedFilter)
	r.Register("age", 30, newAgeFilter)
	r.Register("domain", 40, newDomainFilter)
	r.Register("keyword", 50, newKeywordFilter)
	return r
}

// Register adds or replaces a named factory.
func (r *Registry) Register(name string, priority int, factory Factory) {
	r.entries[name] = registration{name: name, priority: priority, factory: factory}
}

// Names returns registered filter names in priority order.
func (r *Registry) Names() []string {
	regs := make([]registration, 0, len(r.entries))
	for _, reg := range r.entries {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool {
		if regs[i].priority != regs[j].priority {
			return regs[i].priority < regs[j].priority
		}
		return regs[i].name < regs[j].name
	})
	names := make([]string, len(regs))
	for i, reg := range regs {
		names[i] = reg.name
	}
	return names
}

// Create builds one filter by name.
func (r *Registry) Create(name string, options map[string]any) (Filter, error) {
	reg, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("unknown filter: %s", name)
	}
	f, err := reg.factory(options)
	if err != nil {
		return nil, fmt.Errorf("build filter %s: %w", name, err)
	}
	return f, nil
}

// Spec names one filter plus its options, as declared in a run file.
type Spec struct {
	Name    string
	Options map[string]any
}

// BuildChain creates the named filters, orders them by registry priority
// (ties keep declaration order), and validates their configuration.
func (r *Registry) BuildChain(composition Composition, specs []Spec) (*Chain, error) {
	type built struct {
		filter   Filter
		priority int
		index    int
	}
	items := make([]built, 0, len(specs))
	for i, spec := range specs {
		f, err := r.Create(spec.Name, spec.Options)
		if err != nil {
			return nil, err
		}
		items = append(items, built{filter: f, priority: r.entries[spec.Name].priority, index: i})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].priority < items[j].priority
	})

	filters := make([]Filter, len(items))
	for i, item := range items {
		filters[i] = item.filter
	}
	chain := NewChain(composition, filters...)
	if errs := chain.ValidateConfig(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid filter configuration: %v", errs)
	}
	return chain, nil
}

func newScoreFilter(options map[string]any) (Filter, error) {
	f := &ScoreFilter{Missing: TreatAsZero}
	if v, ok := options["min"]; ok {
		n, err := intOption("min", v)
		if err != nil {
			return nil, err
		}
		f.Min = &n
	}
	if v, ok := options["max"]; ok {
		n, err := intOption("max", v)
		if err != nil {
			return nil, err
		}
		f.Max = &n
	}
	if v, ok := options["missing"]; ok {
		s, err := stringOption("missing", v)
		if err != nil {
			return nil, err
		}
		f.Missing = MissingPolicy(s)
	}
	return f, nil
}

func newRestrictedFilter(options map[string]any) (Filter, error) {
	f := &RestrictedFilter{Mode: RestrictedExclude}
	if v, ok := options["mode"]; ok {
		s, err := stringOption("mode", v)
		if err != nil {
			return nil, err
		}
		f.Mode = RestrictedMode(s)
	}
	return f, nil
}

func newKeywordFilter(options map[string]any) (Filter, error) {
	include, err := stringListOption("include", options["include"])
	if err != nil {
		return nil, err
	}
	exclude, err := stringListOption("exclude", options["exclude"])
	if err != nil {
		return nil, err
	}
	return &KeywordFilter{Include: include, Exclude: exclude}, nil
}

func newDomainFilter(options map[string]any) (Filter, error) {
	allow, err := stringListOption("allow", options["allow"])
	if err != nil {
		return nil, err
	}
	block, err := stringListOption("block", options["block"])
	if err != nil {
		return nil, err
	}
	return &DomainFilter{Allow: allow, Block: block}, nil
}

func newAgeFilter(options map[string]any) (Filter, error) {
	v, ok := options["max_age"]
	if !ok {
		return nil, fmt.Errorf("max_age is required")
	}
	s, err := stringOption("max_age", v)
	if err != nil {
		return nil, err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf("parse max_age: %w", err)
	}
	return &AgeFilter{MaxAge: d}, nil
}

func intOption(key string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, fmt.Errorf("option %s must be a number, got %T", key, v)
}

func stringOption(key string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("option %s must be a string, got %T", key, v)
	}
	return s, nil
}

func stringListOption(key string, v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("option %s must contain strings, got %T", key, item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("option %s must be a list of strings, got %T", key, v)
}
