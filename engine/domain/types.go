// Package domain defines the lexical record types shared by every pipeline
// stage, the closed vocabularies they draw on, and the validation applied
// before a record leaves the normalize stage.
package domain

import "strings"

// RecordVersion is the schema version stamped on every emitted record.
const RecordVersion = 1

// POS is a part of speech, encoded with the reference lexicon's keys.
type POS string

const (
	Noun      POS = "n"
	Verb      POS = "v"
	Adjective POS = "a"
	Adverb    POS = "r"
	Satellite POS = "s"
)

// ValidPOS reports whether p is one of the closed part-of-speech values.
func ValidPOS(p POS) bool {
	switch p {
	case Noun, Verb, Adjective, Adverb, Satellite:
		return true
	}
	return false
}

// Readable returns the word used for p in prompts and logs.
func (p POS) Readable() string {
	switch p {
	case Noun:
		return "noun"
	case Verb:
		return "verb"
	case Adjective:
		return "adjective"
	case Adverb:
		return "adverb"
	case Satellite:
		return "adjective satellite"
	}
	return string(p)
}

// OriginKind is how a word came from its source form.
type OriginKind string

const (
	Inherited OriginKind = "inherited"
	Derived   OriginKind = "derived"
	Borrowed  OriginKind = "borrowed"
	Cognate   OriginKind = "cognate"
	Compound  OriginKind = "compound"
	Calque    OriginKind = "calque"
)

// OriginKinds lists every kind in declaration order.
var OriginKinds = []OriginKind{Inherited, Derived, Borrowed, Cognate, Compound, Calque}

// ValidOriginKind reports whether k is a known origin kind.
func ValidOriginKind(k OriginKind) bool {
	for _, v := range OriginKinds {
		if v == k {
			return true
		}
	}
	return false
}

// WordOrigin is one structured etymology tuple.
type WordOrigin struct {
	Lang Language   `json:"lang"`
	Kind OriginKind `json:"kind"`
	Form string     `json:"form"`
}

// Key identifies an origin for deduplication.
func (o WordOrigin) Key() string {
	return strings.Join([]string{string(o.Lang), string(o.Kind), o.Form}, ":")
}

// Meta is free-form record metadata. Stages stamp their own timestamp key.
type Meta map[string]any

// NormalizedRecord is the common schema every source adapter maps into.
type NormalizedRecord struct {
	V       int          `json:"v"`
	Source  string       `json:"source"`
	RawID   string       `json:"rawId"`
	Lemma   string       `json:"lemma"`
	POS     POS          `json:"pos"`
	Glosses []string     `json:"glosses"`
	Origins []WordOrigin `json:"origins"`
	Meta    Meta         `json:"meta"`
}

// MergedRecord is one (lemma, pos) group after the merge stage.
type MergedRecord struct {
	V       int          `json:"v"`
	Lemma   string       `json:"lemma"`
	POS     POS          `json:"pos"`
	Glosses []string     `json:"glosses"`
	Origins []WordOrigin `json:"origins"`
	Sources []string     `json:"sources"`
	Meta    Meta         `json:"meta"`
}

// Gloss is a sense-level definition after LLM deduplication.
type Gloss struct {
	Text     string   `json:"text"`
	Category *string  `json:"category"`
	Synonyms []string `json:"synonyms"`
}

// PostNormalizedRecord is a MergedRecord whose glosses have been enriched.
type PostNormalizedRecord struct {
	V       int          `json:"v"`
	Lemma   string       `json:"lemma"`
	POS     POS          `json:"pos"`
	Glosses []Gloss      `json:"glosses"`
	Origins []WordOrigin `json:"origins"`
	Sources []string     `json:"sources"`
	Meta    Meta         `json:"meta"`
}

// LexKey is the (lemma, pos) grouping key.
func LexKey(lemma string, pos POS) string { return lemma + ":" + string(pos) }
