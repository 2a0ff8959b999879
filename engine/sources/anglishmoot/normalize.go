package anglishmoot

import (
	"context"
	"regexp"
	"strings"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
	"github.com/WessleyAI/anglish-lexicon/engine/sources/srcutil"
)

var (
	parens      = regexp.MustCompile(`\([^)]*\)`)
	brackets    = regexp.MustCompile(`\[[^\]]*\]`)
	spaces      = regexp.MustCompile(`\s+`)
	nonWord     = regexp.MustCompile(`\W`)
	beforeColon = regexp.MustCompile(`(?:^|\n).*?:`)
	listSep     = regexp.MustCompile(`[,;]`)
	glossEnd    = regexp.MustCompile(`[\[\]]`)

	// A comma list of words, optionally followed by a parenthesized origin.
	wordList = regexp.MustCompile(`(?i)(` + word + `(?:, (?:` + word + `)?)*)(?:\s?\(([^)]*)\))?`)
)

const word = `\p{L}+(?:[-\s']\p{L}+){0,4}`

// abbreviations are wordbook shorthand that the word pattern would accept.
var abbreviations = map[string]bool{
	"abbr": true, "adj": true, "adv": true, "arch": true, "cf": true, "dial": true,
	"eg": true, "esp": true, "fig": true, "gr": true, "ie": true, "lit": true,
	"mod": true, "obs": true, "pl": true, "poet": true, "pp": true, "pt": true,
	"sg": true, "vb": true,
}

// isAbbreviation matches language codes exactly, since some of them ("Far",
// "Ice") are also words, and other shorthand case-insensitively.
func isAbbreviation(s string) bool {
	s = strings.ReplaceAll(s, ".", "")
	return domain.ValidLanguage(domain.Language(s)) || abbreviations[strings.ToLower(s)]
}

// Normalize maps one wordbook row to records, one per recognized part of
// speech. English wordbook rows are turned around: each Anglish word in the
// attested and unattested cells becomes a lemma glossed by the English word.
func (a *Adapter) Normalize(ctx context.Context, rec Record, normalizedAt string) ([]domain.NormalizedRecord, error) {
	lemma, ok := cleanWord(rec.LemmaRaw)
	if !ok {
		return nil, nil
	}
	if lemma != rec.LemmaRaw {
		a.log.Debug("anglishmoot.lemma_cleaned", "raw", rec.LemmaRaw, "lemma", lemma)
	}

	var out []domain.NormalizedRecord
	emit := func(l string, pos domain.POS, gloss string, origins []domain.WordOrigin) {
		if origins == nil {
			origins = []domain.WordOrigin{}
		}
		out = append(out, domain.NormalizedRecord{
			V:       domain.RecordVersion,
			Source:  Source,
			RawID:   rec.RawID,
			Lemma:   l,
			POS:     pos,
			Glosses: []string{gloss},
			Origins: origins,
			Meta:    domain.Meta{"normalizedAt": normalizedAt},
		})
	}

	parts := mapPOS(rec.POSRaw)
	if rec.Dictionary == EnglishToAnglish {
		var entries []entry
		for _, c := range []*Cell{rec.AttestedRaw, rec.UnattestedRaw} {
			if c != nil {
				entries = append(entries, anglishEntries(c.Text, lemma)...)
			}
		}
		for _, pos := range parts {
			for _, e := range entries {
				var origins []domain.WordOrigin
				if e.origin != "" {
					origins = srcutil.MatchOrigins(e.origin)
				}
				emit(e.word, pos, e.gloss, origins)
			}
		}
		return out, nil
	}

	if rec.DefinitionRaw == nil || len(parts) == 0 {
		return nil, nil
	}
	def := rec.DefinitionRaw.Text
	origins, err := srcutil.ExtractOrigins(ctx, a.llm, def)
	if err != nil {
		a.log.Warn("anglishmoot.origins_failed", "lemma", lemma, "error", err)
	}
	gloss := strings.TrimSpace(glossEnd.Split(def, 2)[0])
	for _, pos := range parts {
		emit(lemma, pos, gloss, origins)
	}
	return out, nil
}

// cleanWord strips asides and trailing lines from a raw lemma. A string that
// is not a word on its own may still start with one followed by a slash or
// comma, in which case that word is kept.
func cleanWord(s string) (string, bool) {
	s = parens.ReplaceAllString(s, "")
	s = brackets.ReplaceAllString(s, "")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(spaces.ReplaceAllString(s, " "))
	if domain.IsWord(s) {
		return s, true
	}
	m := domain.WordPrefix.FindString(s)
	if m == "" {
		return "", false
	}
	rest := strings.TrimLeft(s[len(m):], " \t")
	if strings.HasPrefix(rest, "/") || strings.HasPrefix(rest, ",") {
		return m, true
	}
	return "", false
}

// mapPOS maps a free-text part of speech cell to distinct POS values in
// first-seen order. Conjunctions, prepositions and unknown tags are dropped.
func mapPOS(raw string) []domain.POS {
	var out []domain.POS
	seen := map[domain.POS]bool{}
	for _, tok := range nonWord.Split(spaces.ReplaceAllString(raw, ""), -1) {
		var p domain.POS
		switch strings.ToLower(tok) {
		case "noun", "n", "p":
			p = domain.Noun
		case "verb", "vb", "vt", "v":
			p = domain.Verb
		case "adj":
			p = domain.Adjective
		case "adv":
			p = domain.Adverb
		default:
			continue
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

type entry struct {
	word   string
	gloss  string
	origin string
}

// anglishEntries pulls the Anglish words out of an English wordbook cell.
// Labels ending in a colon are dropped, and words inside parentheses are
// origins rather than entries.
func anglishEntries(text, english string) []entry {
	text = strings.TrimSpace(beforeColon.ReplaceAllString(text, ""))
	var out []entry
	for _, m := range wordList.FindAllStringSubmatchIndex(text, -1) {
		start, wordsEnd := m[2], m[3]
		if start > 0 && text[start-1] == '(' {
			continue
		}
		if wordsEnd < len(text) && text[wordsEnd] == ')' {
			continue
		}
		var origin string
		if m[4] >= 0 {
			origin = text[m[4]:m[5]]
		}
		for _, w := range listSep.Split(text[start:wordsEnd], -1) {
			cleaned, ok := cleanWord(w)
			if !ok || isAbbreviation(cleaned) {
				continue
			}
			out = append(out, entry{word: cleaned, gloss: english, origin: origin})
		}
	}
	return out
}
