// Package graph mirrors mapped lemmas and the reference senses they were
// mapped onto into Neo4j as (Lemma)-[:SENSE_OF]->(Synset).
package graph

// Lemma is an Anglish headword node, keyed by "lemma:pos".
type Lemma struct {
	Key     string   `json:"key"`
	Lemma   string   `json:"lemma"`
	POS     string   `json:"pos"`
	Origins []string `json:"origins"` // "lang:kind:form"
}

// Synset is a reference sense node.
type Synset struct {
	ID       string `json:"id"`
	Headword string `json:"headword"`
	POS      string `json:"pos"`
	Category string `json:"category"`
}
