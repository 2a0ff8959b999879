package kaikki

import (
	"context"
	"slices"
	"strings"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
)

func mapPOS(s string) (domain.POS, bool) {
	switch strings.ToLower(s) {
	case "noun":
		return domain.Noun, true
	case "verb":
		return domain.Verb, true
	case "adj":
		return domain.Adjective, true
	case "adv":
		return domain.Adverb, true
	}
	return "", false
}

func templateKind(name string) (domain.OriginKind, bool) {
	switch {
	case slices.Contains(inheritedTemplates, name):
		return domain.Inherited, true
	case slices.Contains(derivedTemplates, name):
		return domain.Derived, true
	case slices.Contains(borrowedTemplates, name):
		return domain.Borrowed, true
	case slices.Contains(calqueTemplates, name):
		return domain.Calque, true
	case slices.Contains(cognateTemplates, name):
		return domain.Cognate, true
	}
	return "", false
}

// origins maps etymology templates to origins. The language is the longest
// known language name in the expansion; the form is the expansion itself.
func origins(templates []Template) []domain.WordOrigin {
	out := []domain.WordOrigin{}
	for _, t := range templates {
		kind, ok := templateKind(t.Name)
		if !ok || t.Expansion == "" {
			continue
		}
		lang, ok := domain.MatchLanguageName(t.Expansion)
		if !ok {
			continue
		}
		out = append(out, domain.WordOrigin{Lang: lang, Kind: kind, Form: t.Expansion})
	}
	return out
}

// Normalize maps a dump entry to one record carrying every sense. Parts of
// speech outside the four open classes are dropped.
func (a *Adapter) Normalize(_ context.Context, rec Record, normalizedAt string) ([]domain.NormalizedRecord, error) {
	pos, ok := mapPOS(rec.POS)
	if !ok {
		return nil, nil
	}
	glosses := rec.Senses
	if glosses == nil {
		glosses = []string{}
	}
	return []domain.NormalizedRecord{{
		V:       domain.RecordVersion,
		Source:  Source,
		RawID:   rec.RawID,
		Lemma:   rec.Word,
		POS:     pos,
		Glosses: glosses,
		Origins: origins(rec.EtymTemplates),
		Meta:    domain.Meta{"normalizedAt": normalizedAt},
	}}, nil
}
