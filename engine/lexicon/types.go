package lexicon

import (
	"encoding/json"
	"maps"
)

// Sense is one sense of a lemma in an entries file.
type Sense struct {
	ID     string `json:"id"`
	Synset string `json:"synset"`
}

// POSEntry holds a lemma's senses for one part of speech.
type POSEntry struct {
	Sense []Sense  `json:"sense"`
	Form  []string `json:"form,omitempty"`
}

// Entry maps a part-of-speech key ("n", "v", "a", "r", "s") to its senses.
type Entry map[string]POSEntry

// Synset is one reference meaning. Category comes from the file name.
type Synset struct {
	Definition   []string `json:"definition"`
	Members      []string `json:"members"`
	PartOfSpeech string   `json:"partOfSpeech"`
	ILI          string   `json:"ili,omitempty"`
	Category     string   `json:"-"`

	// Relations holds every synset-to-synset relation (hypernym, similar, ...).
	Relations map[string][]string `json:"-"`
}

// Fields that are not relations even though some of them are lists.
var synsetFields = map[string]bool{
	"definition": true, "members": true, "partOfSpeech": true, "ili": true,
	"example": true, "wikidata": true, "source": true,
}

func (s *Synset) UnmarshalJSON(b []byte) error {
	type plain Synset
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if synsetFields[k] {
			continue
		}
		var ids []string
		if json.Unmarshal(v, &ids) != nil {
			continue
		}
		if p.Relations == nil {
			p.Relations = make(map[string][]string)
		}
		p.Relations[k] = ids
	}
	*s = Synset(p)
	return nil
}

// Headword is the synset's first member.
func (s *Synset) Headword() string {
	if len(s.Members) == 0 {
		return ""
	}
	return s.Members[0]
}

// Gloss is the synset's first definition.
func (s *Synset) Gloss() string {
	if len(s.Definition) == 0 {
		return ""
	}
	return s.Definition[0]
}

func (s *Synset) clone() *Synset {
	c := *s
	c.Relations = maps.Clone(s.Relations)
	return &c
}
