package hurlebatte

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
	"github.com/WessleyAI/anglish-lexicon/engine/llm"
	"github.com/WessleyAI/anglish-lexicon/engine/sources/srcutil"
)

var (
	// ᛭ separates parallel parts of speech and definitions.
	entrySep = regexp.MustCompile(`\s*᛭\s*`)
	// ᛫ separates senses within one definition.
	senseSep = regexp.MustCompile(`\s*᛫\s*`)
)

func splitNonEmpty(re *regexp.Regexp, s string) []string {
	var out []string
	for _, p := range re.Split(s, -1) {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mapPOS(s string) (domain.POS, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "n", "n(p)", "pn", "n(pro)":
		return domain.Noun, true
	case "v":
		return domain.Verb, true
	case "aj", "aj(p)", "adj":
		return domain.Adjective, true
	case "av", "adv", "ad":
		return domain.Adverb, true
	}
	return "", false
}

// posName maps a full part-of-speech name from the model, falling back to
// the sheet's own abbreviations.
func posName(s string) (domain.POS, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(s, "noun"):
		return domain.Noun, true
	case strings.HasPrefix(s, "verb"):
		return domain.Verb, true
	case strings.HasPrefix(s, "adj"):
		return domain.Adjective, true
	case strings.HasPrefix(s, "adv"):
		return domain.Adverb, true
	}
	return mapPOS(s)
}

func gloss(def string) string {
	var senses []string
	for _, s := range senseSep.Split(def, -1) {
		s = strings.ReplaceAll(strings.ReplaceAll(s, "( ", "("), " )", ")")
		if s != "" {
			senses = append(senses, s)
		}
	}
	return strings.Join(senses, ", ")
}

// Normalize yields one record per part of speech, paired positionally with
// its definition. When the counts differ the model is asked to align them;
// a row it cannot align is dropped.
func (a *Adapter) Normalize(ctx context.Context, rec Record, normalizedAt string) ([]domain.NormalizedRecord, error) {
	var parts []domain.POS
	for _, p := range splitNonEmpty(entrySep, rec.POSRaw) {
		if pos, ok := mapPOS(p); ok {
			parts = append(parts, pos)
		}
	}
	defs := splitNonEmpty(entrySep, rec.DefinitionRaw)
	if len(parts) == 0 {
		return nil, nil
	}

	if len(parts) != len(defs) {
		var err error
		if len(parts) > len(defs) {
			defs, err = a.fillDefinitions(ctx, rec.LemmaRaw, parts, defs)
		} else {
			parts, err = a.fillParts(ctx, rec.LemmaRaw, parts, defs)
		}
		if err != nil {
			a.log.Warn("hurlebatte.align_failed", "lemma", rec.LemmaRaw, "error", err)
			return nil, nil
		}
		a.log.Debug("hurlebatte.aligned", "lemma", rec.LemmaRaw, "parts", len(parts))
	}

	origins := srcutil.MatchOrigins(rec.OriginRaw)
	if len(origins) == 0 && strings.TrimSpace(rec.OriginRaw) != "" {
		extracted, err := srcutil.ExtractOrigins(ctx, a.llm, rec.OriginRaw)
		if err != nil {
			a.log.Warn("hurlebatte.origins_failed", "lemma", rec.LemmaRaw, "error", err)
		}
		origins = extracted
	}
	if origins == nil {
		origins = []domain.WordOrigin{}
	}

	out := make([]domain.NormalizedRecord, 0, len(parts))
	for i, pos := range parts {
		out = append(out, domain.NormalizedRecord{
			V:       domain.RecordVersion,
			Source:  Source,
			RawID:   rec.RawID,
			Lemma:   rec.LemmaRaw,
			POS:     pos,
			Glosses: []string{gloss(defs[i])},
			Origins: origins,
			Meta: domain.Meta{
				"normalizedAt":     normalizedAt,
				"etymology_raw":    rec.EtymologyRaw,
				"notes_raw":        rec.NotesRaw,
				"tags_raw":         rec.TagsRaw,
				"occurrence_index": rec.OccurrenceIndex,
			},
		})
	}
	return out, nil
}

const editorSystem = "You are a dictionary editor. The word you are working with is Anglish (linguistically pure, Germanic English). "

type definitionsReply struct {
	Definitions []string `json:"definitions"`
}

type partsReply struct {
	Parts []string `json:"parts"`
}

func numbered(items []string) string {
	var b strings.Builder
	for i, s := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	return b.String()
}

func readable(parts []domain.POS) string {
	names := make([]string, len(parts))
	for i, p := range parts {
		names[i] = p.Readable()
	}
	return strings.Join(names, ", ")
}

func (a *Adapter) fillDefinitions(ctx context.Context, lemma string, parts []domain.POS, defs []string) ([]string, error) {
	req := llm.Request{
		System: editorSystem +
			"Given a word, its parts of speech, and some existing definitions, provide definitions for ALL parts of speech in order. " +
			"Match the existing definitions to the appropriate parts of speech, and write definitions for the missing ones. " +
			fmt.Sprintf(`Return {"definitions": [...]} with exactly %d concise dictionary-style definitions, in the same order as the parts of speech.`, len(parts)),
		User: fmt.Sprintf("Word: %s\n\nParts of speech (in order): %s\n\nExisting definitions (may not be in order):\n%s",
			lemma, readable(parts), numbered(defs)),
		Schema: llm.Object(map[string]*llm.Schema{"definitions": llm.ArrayOf(llm.String())}),
	}
	reply, err := llm.Extract(ctx, a.llm, req, func(r definitionsReply) error {
		if len(r.Definitions) != len(parts) {
			return fmt.Errorf("got %d definitions, want %d", len(r.Definitions), len(parts))
		}
		for _, d := range r.Definitions {
			if strings.TrimSpace(d) == "" {
				return fmt.Errorf("empty definition")
			}
		}
		return nil
	}).Unwrap()
	if err != nil {
		return nil, err
	}
	return reply.Definitions, nil
}

func (a *Adapter) fillParts(ctx context.Context, lemma string, parts []domain.POS, defs []string) ([]domain.POS, error) {
	req := llm.Request{
		System: editorSystem +
			"Given a word, some existing parts of speech, and all definitions, determine the part of speech for each definition in order. " +
			"Match the existing parts of speech to the appropriate definitions, and determine parts of speech for the missing ones. " +
			fmt.Sprintf(`Return {"parts": [...]} with exactly %d entries, each one of noun, verb, adjective or adverb.`, len(defs)),
		User: fmt.Sprintf("Word: %s\n\nExisting parts of speech (may not be in order): %s\n\nAll definitions (in order):\n%s",
			lemma, readable(parts), numbered(defs)),
		Schema: llm.Object(map[string]*llm.Schema{"parts": llm.ArrayOf(llm.Enum("noun", "verb", "adjective", "adverb"))}),
	}
	var out []domain.POS
	_, err := llm.Extract(ctx, a.llm, req, func(r partsReply) error {
		if len(r.Parts) != len(defs) {
			return fmt.Errorf("got %d parts of speech, want %d", len(r.Parts), len(defs))
		}
		out = out[:0]
		for _, s := range r.Parts {
			p, ok := posName(s)
			if !ok {
				return fmt.Errorf("unknown part of speech %q", s)
			}
			out = append(out, p)
		}
		return nil
	}).Unwrap()
	if err != nil {
		return nil, err
	}
	return out, nil
}
