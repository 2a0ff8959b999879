package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
	"github.com/WessleyAI/anglish-lexicon/pkg/repo"
)

type mockResult struct {
	records []*neo4j.Record
	idx     int
}

func (m *mockResult) Next(context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record { return m.records[m.idx-1] }

type call struct {
	cypher string
	params map[string]any
}

type mockSession struct {
	calls   []call
	records []*neo4j.Record
	runErr  error
}

func (m *mockSession) Run(_ context.Context, cypher string, params map[string]any) (repo.Result, error) {
	m.calls = append(m.calls, call{cypher, params})
	if m.runErr != nil {
		return nil, m.runErr
	}
	return &mockResult{records: m.records}, nil
}

func (m *mockSession) Close(context.Context) error { return nil }

func newTestGraph(s *mockSession) *LexiconGraph {
	return NewWithOpener(func(context.Context) repo.Runner { return s })
}

func nodeRecord(props map[string]any) *neo4j.Record {
	return &neo4j.Record{Keys: []string{"n"}, Values: []any{dbtype.Node{Props: props}}}
}

func TestNewLemma(t *testing.T) {
	l := NewLemma("bookhoard", domain.Noun, []domain.WordOrigin{{Lang: domain.OldEnglish, Kind: domain.Inherited, Form: "bōc"}})
	if l.Key != "bookhoard:n" || len(l.Origins) != 1 || !strings.HasPrefix(l.Origins[0], "OE:inherited") {
		t.Fatalf("unexpected lemma %+v", l)
	}
}

func TestSaveLemmaMergesOnKey(t *testing.T) {
	s := &mockSession{}
	if err := newTestGraph(s).SaveLemma(context.Background(), NewLemma("bar", domain.Noun, nil)); err != nil {
		t.Fatal(err)
	}
	c := s.calls[0]
	if !strings.Contains(c.cypher, "MERGE (n:Lemma {key: $id})") || c.params["id"] != "bar:n" {
		t.Fatalf("unexpected call %+v", c)
	}
}

func TestLinkSense(t *testing.T) {
	s := &mockSession{}
	g := newTestGraph(s)
	err := g.LinkSense(context.Background(), "bar:n", Synset{ID: "rod-n", Headword: "rod", POS: "n", Category: "artifact"}, 0.12, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.calls) != 2 {
		t.Fatalf("expected synset upsert and edge merge, got %d calls", len(s.calls))
	}
	edge := s.calls[1]
	if !strings.Contains(edge.cypher, "SENSE_OF") || edge.params["score"] != 0.12 || edge.params["index"] != 1 {
		t.Fatalf("unexpected edge call %+v", edge)
	}
}

func TestLinkSenseError(t *testing.T) {
	s := &mockSession{runErr: errors.New("down")}
	if err := newTestGraph(s).LinkSense(context.Background(), "bar:n", Synset{ID: "x"}, 0, 0); err == nil {
		t.Fatal("expected error")
	}
}

func TestGetLemma(t *testing.T) {
	s := &mockSession{records: []*neo4j.Record{nodeRecord(map[string]any{
		"key": "bar:n", "lemma": "bar", "pos": "n", "origins": []any{"OE:inherited:bær"},
	})}}
	l, err := newTestGraph(s).Lemma(context.Background(), "bar:n")
	if err != nil {
		t.Fatal(err)
	}
	if l.Lemma != "bar" || len(l.Origins) != 1 || l.Origins[0] != "OE:inherited:bær" {
		t.Fatalf("unexpected lemma %+v", l)
	}
}

func TestGetLemmaWrongShape(t *testing.T) {
	s := &mockSession{records: []*neo4j.Record{{Keys: []string{"x"}, Values: []any{"nope"}}}}
	if _, err := newTestGraph(s).Lemma(context.Background(), "bar:n"); err == nil {
		t.Fatal("expected error")
	}
}

func TestEnsureConstraints(t *testing.T) {
	s := &mockSession{}
	if err := newTestGraph(s).EnsureConstraints(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(s.calls) != 2 {
		t.Fatalf("calls %d", len(s.calls))
	}
}
