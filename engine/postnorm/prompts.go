package postnorm

import (
	"fmt"
	"strings"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
	"github.com/WessleyAI/anglish-lexicon/engine/llm"
)

const dedupeSystem = `You are a lexicographer cleaning a dictionary entry.
You receive one headword with its part of speech and a list of glosses.
Merge glosses that describe the same meaning into a single sense.
Rewrite terse or one-word glosses into a full descriptive definition.
Drop glosses that are nonsensical for the headword.
For every sense, list synonyms: the glosses you merged into it and any common English synonyms.
Respond with JSON only.`

const categorySystem = `You assign a WordNet lexicographer category to one sense of a word.
Pick exactly one category from the allowed list, or null if none fits.
Respond with JSON only.`

var dedupeSchema = llm.Object(map[string]*llm.Schema{
	"glosses": llm.ArrayOf(llm.Object(map[string]*llm.Schema{
		"text":     llm.String(),
		"synonyms": llm.ArrayOf(llm.String()),
	})),
})

func dedupePrompt(rec domain.MergedRecord) string {
	var b strings.Builder
	for _, g := range rec.Glosses {
		fmt.Fprintf(&b, "%s (%s): %s\n", rec.Lemma, rec.POS.Readable(), g)
	}
	return b.String()
}

func categorySchema(allowed []string) *llm.Schema {
	return llm.Object(map[string]*llm.Schema{
		"category": llm.NullableOf(llm.Enum(allowed...)),
	})
}

func categoryPrompt(lemma string, pos domain.POS, gloss string, allowed []string) string {
	return fmt.Sprintf("Word: %s\nPart of speech: %s\nSense: %s\nAllowed categories: %s\n",
		lemma, pos.Readable(), gloss, strings.Join(allowed, ", "))
}
