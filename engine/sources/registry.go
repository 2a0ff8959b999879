// Package sources registers the dictionary source adapters. Each adapter
// owns its raw record type and exposes a fetch plan, a parser and a
// normalizer; the stages only see them through the maps built here.
package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sort"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
	"github.com/WessleyAI/anglish-lexicon/engine/fetch"
	"github.com/WessleyAI/anglish-lexicon/engine/llm"
	"github.com/WessleyAI/anglish-lexicon/engine/normalize"
	"github.com/WessleyAI/anglish-lexicon/engine/parse"
	"github.com/WessleyAI/anglish-lexicon/engine/sources/anglishmoot"
	"github.com/WessleyAI/anglish-lexicon/engine/sources/hurlebatte"
	"github.com/WessleyAI/anglish-lexicon/engine/sources/kaikki"
)

// PlanFunc builds a source's fetch plan. Some plans are discovered by
// reading index pages, hence the client.
type PlanFunc func(ctx context.Context, client *http.Client) (fetch.Plan, error)

// Adapter is one registered source.
type Adapter struct {
	Name      string
	Plan      PlanFunc
	Parse     parse.Parser
	Normalize normalize.Normalizer
}

// Registry holds adapters keyed by source name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry { return &Registry{adapters: map[string]Adapter{}} }

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) { r.adapters[a.Name] = a }

// Default registers every known source. c is the completer the adapters
// use to fill gaps in their data.
func Default(c llm.Completer, log *slog.Logger) *Registry {
	r := NewRegistry()
	am := anglishmoot.New(c, log)
	r.Register(Adapter{
		Name:      anglishmoot.Source,
		Plan:      am.Plan,
		Parse:     am.Parse,
		Normalize: normalize.Typed(am.Normalize),
	})
	hb := hurlebatte.New(c, log)
	r.Register(Adapter{
		Name:      hurlebatte.Source,
		Plan:      hb.Plan,
		Parse:     hb.Parse,
		Normalize: normalize.Typed(hb.Normalize),
	})
	kk := kaikki.New(log)
	r.Register(Adapter{
		Name:      kaikki.Source,
		Plan:      kk.Plan,
		Parse:     kk.Parse,
		Normalize: normalize.Typed(kk.Normalize),
	})
	return r
}

// Names lists registered sources, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Plans builds the fetch plans of the named sources, or of all sources
// when only is empty. An unknown name is ErrNoAdapter.
func (r *Registry) Plans(ctx context.Context, client *http.Client, only ...string) ([]fetch.Plan, error) {
	names := r.Names()
	if len(only) > 0 {
		for _, n := range only {
			if _, ok := r.adapters[n]; !ok {
				return nil, fmt.Errorf("sources: %w: %s", domain.ErrNoAdapter, n)
			}
		}
		names = slices.DeleteFunc(names, func(n string) bool { return !slices.Contains(only, n) })
	}
	plans := make([]fetch.Plan, 0, len(names))
	for _, n := range names {
		p, err := r.adapters[n].Plan(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("sources: plan %s: %w", n, err)
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// Parsers returns the parse functions keyed by source.
func (r *Registry) Parsers() map[string]parse.Parser {
	out := make(map[string]parse.Parser, len(r.adapters))
	for n, a := range r.adapters {
		out[n] = a.Parse
	}
	return out
}

// Normalizers returns the normalize functions keyed by source.
func (r *Registry) Normalizers() map[string]normalize.Normalizer {
	out := make(map[string]normalize.Normalizer, len(r.adapters))
	for n, a := range r.adapters {
		out[n] = a.Normalize
	}
	return out
}
