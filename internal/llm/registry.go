package llm

import (
	. "github.com/roelfdiedericks/chatgate/internal/logging"
)

// Flags are the per-request feature toggles from the client
type Flags struct {
	Search    bool
	Reasoning bool
}

// Options are the resolved per-candidate generation options
type Options struct {
	Search         bool
	Reasoning      bool
	ThinkingBudget int
	ImageOutput    bool
}

// Candidate is one model the orchestrator may attempt
type Candidate struct {
	Spec     ModelSpec
	Provider Provider
	Options  Options
}

// ID returns the model identifier
func (c Candidate) ID() string {
	return c.Spec.ID
}

// Registry maps model identifiers to provider clients in priority order.
// It is built once at startup and read-only afterwards.
type Registry struct {
	catalogue []ModelSpec
	byID      map[string]ModelSpec
	providers map[string]Provider
	order     []string
}

// NewRegistry builds a registry. providers is keyed by provider kind;
// nil entries are treated as unconfigured. An empty priority uses
// DefaultPriority; unknown identifiers in it are skipped.
func NewRegistry(catalogue []ModelSpec, providers map[string]Provider, priority []string) *Registry {
	r := &Registry{
		catalogue: catalogue,
		byID:      make(map[string]ModelSpec, len(catalogue)),
		providers: make(map[string]Provider, len(providers)),
	}
	for _, spec := range catalogue {
		r.byID[spec.ID] = spec
	}
	for kind, p := range providers {
		if p != nil {
			r.providers[kind] = p
		}
	}

	if len(priority) == 0 {
		priority = DefaultPriority
	}
	seen := make(map[string]bool, len(priority))
	for _, id := range priority {
		if _, ok := r.byID[id]; !ok {
			L_warn("registry: unknown model in priority list, skipping", "model", id)
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		r.order = append(r.order, id)
	}

	L_debug("registry: initialized", "models", len(r.order), "providers", len(r.providers))
	return r
}

// Candidates returns every configured model in priority order with
// options resolved for flags.
func (r *Registry) Candidates(flags Flags) []Candidate {
	out := make([]Candidate, 0, len(r.order))
	for _, id := range r.order {
		spec := r.byID[id]
		p, ok := r.providers[spec.Provider]
		if !ok {
			continue
		}
		out = append(out, Candidate{
			Spec:     spec,
			Provider: p,
			Options: Options{
				Search:         flags.Search && spec.Features.Search,
				Reasoning:      flags.Reasoning,
				ThinkingBudget: spec.ThinkingBudget,
				ImageOutput:    spec.ImageOutput,
			},
		})
	}
	return out
}

// Lookup returns the catalogue entry for id
func (r *Registry) Lookup(id string) (ModelSpec, bool) {
	spec, ok := r.byID[id]
	return spec, ok
}

// Models returns the catalogue in priority order
func (r *Registry) Models() []ModelSpec {
	out := make([]ModelSpec, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Provider returns the configured client for a provider kind
func (r *Registry) Provider(kind string) (Provider, bool) {
	p, ok := r.providers[kind]
	return p, ok
}

// Available reports whether the model's provider is configured
func (r *Registry) Available(id string) bool {
	spec, ok := r.byID[id]
	if !ok {
		return false
	}
	_, ok = r.providers[spec.Provider]
	return ok
}

// Selectable returns the models offered to the classifier: selectable
// catalogue entries whose provider is configured, in priority order.
func (r *Registry) Selectable() []ModelSpec {
	var out []ModelSpec
	for _, id := range r.order {
		spec := r.byID[id]
		if spec.Selectable && r.Available(id) {
			out = append(out, spec)
		}
	}
	return out
}
