package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
	"github.com/WessleyAI/anglish-lexicon/pkg/repo"
)

// LexiconGraph writes the mapped lexicon into Neo4j.
type LexiconGraph struct {
	lemmas  *repo.Neo4jRepo[Lemma, string]
	synsets *repo.Neo4jRepo[Synset, string]
}

// New creates a LexiconGraph on driver.
func New(driver neo4j.DriverWithContext) *LexiconGraph {
	return NewWithOpener(repo.DriverSessions(driver))
}

// NewWithOpener creates a LexiconGraph whose sessions come from open.
func NewWithOpener(open repo.SessionOpener) *LexiconGraph {
	return &LexiconGraph{
		lemmas: repo.NewNeo4jRepo[Lemma, string](open, "Lemma", lemmaToMap, lemmaFromRecord,
			repo.WithIDKey[Lemma, string]("key")),
		synsets: repo.NewNeo4jRepo[Synset, string](open, "Synset", synsetToMap, synsetFromRecord),
	}
}

// NewLemma builds the node for a lemma and its origins.
func NewLemma(lemma string, pos domain.POS, origins []domain.WordOrigin) Lemma {
	l := Lemma{Key: domain.LexKey(lemma, pos), Lemma: lemma, POS: string(pos), Origins: []string{}}
	for _, o := range origins {
		l.Origins = append(l.Origins, o.Key())
	}
	return l
}

// EnsureConstraints creates the uniqueness constraints the MERGEs rely on.
func (g *LexiconGraph) EnsureConstraints(ctx context.Context) error {
	for _, c := range []string{
		`CREATE CONSTRAINT lemma_key IF NOT EXISTS FOR (n:Lemma) REQUIRE n.key IS UNIQUE`,
		`CREATE CONSTRAINT synset_id IF NOT EXISTS FOR (n:Synset) REQUIRE n.id IS UNIQUE`,
	} {
		if err := g.lemmas.Exec(ctx, c, nil); err != nil {
			return fmt.Errorf("graph: constraints: %w", err)
		}
	}
	return nil
}

// SaveLemma creates or updates a lemma node.
func (g *LexiconGraph) SaveLemma(ctx context.Context, l Lemma) error {
	if err := g.lemmas.Upsert(ctx, l); err != nil {
		return fmt.Errorf("graph: save lemma %s: %w", l.Key, err)
	}
	return nil
}

// LinkSense merges the synset node and the lemma's index-th SENSE_OF edge to it.
func (g *LexiconGraph) LinkSense(ctx context.Context, lemmaKey string, s Synset, score float64, index int) error {
	if err := g.synsets.Upsert(ctx, s); err != nil {
		return fmt.Errorf("graph: save synset %s: %w", s.ID, err)
	}
	cypher := `MATCH (l:Lemma {key: $key}), (s:Synset {id: $id})
		 MERGE (l)-[r:SENSE_OF {index: $index}]->(s)
		 SET r.score = $score`
	err := g.lemmas.Exec(ctx, cypher, map[string]any{
		"key":   lemmaKey,
		"id":    s.ID,
		"index": index,
		"score": score,
	})
	if err != nil {
		return fmt.Errorf("graph: link %s -> %s: %w", lemmaKey, s.ID, err)
	}
	return nil
}

// Lemma returns the lemma node with the given key.
func (g *LexiconGraph) Lemma(ctx context.Context, key string) (Lemma, error) {
	return g.lemmas.Get(ctx, key)
}

func lemmaToMap(l Lemma) map[string]any {
	return map[string]any{
		"key":     l.Key,
		"lemma":   l.Lemma,
		"pos":     l.POS,
		"origins": l.Origins,
	}
}

func lemmaFromRecord(rec *neo4j.Record) (Lemma, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Lemma{}, err
	}
	return Lemma{
		Key:     strProp(node.Props, "key"),
		Lemma:   strProp(node.Props, "lemma"),
		POS:     strProp(node.Props, "pos"),
		Origins: listProp(node.Props, "origins"),
	}, nil
}

func synsetToMap(s Synset) map[string]any {
	return map[string]any{
		"id":       s.ID,
		"headword": s.Headword,
		"pos":      s.POS,
		"category": s.Category,
	}
}

func synsetFromRecord(rec *neo4j.Record) (Synset, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Synset{}, err
	}
	return Synset{
		ID:       strProp(node.Props, "id"),
		Headword: strProp(node.Props, "headword"),
		POS:      strProp(node.Props, "pos"),
		Category: strProp(node.Props, "category"),
	}, nil
}

func strProp(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

// listProp reads a string list; the driver returns lists as []any.
func listProp(props map[string]any, key string) []string {
	switch v := props[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}
