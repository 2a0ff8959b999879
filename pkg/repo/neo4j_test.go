package repo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// --- Mock infrastructure ---

type mockResult struct {
	records []*neo4j.Record
	idx     int
}

func (m *mockResult) Next(ctx context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record {
	return m.records[m.idx-1]
}

type mockRunner struct {
	result  *mockResult
	err     error
	cyphers []string
	params  []map[string]any
	closed  int
}

func (m *mockRunner) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	m.cyphers = append(m.cyphers, cypher)
	m.params = append(m.params, params)
	if m.err != nil {
		return nil, m.err
	}
	if m.result == nil {
		return &mockResult{}, nil
	}
	return m.result, nil
}

func (m *mockRunner) Close(ctx context.Context) error { m.closed++; return nil }

type entity struct {
	ID   string
	Name string
}

func makeRecord(id, name string) *neo4j.Record {
	return &neo4j.Record{
		Values: []any{map[string]any{"id": id, "name": name}},
		Keys:   []string{"n"},
	}
}

func newTestRepo(r *mockRunner, opts ...Neo4jOption[entity, string]) *Neo4jRepo[entity, string] {
	return NewNeo4jRepo[entity, string](
		func(context.Context) Runner { return r },
		"Entity",
		func(e entity) map[string]any { return map[string]any{"id": e.ID, "name": e.Name} },
		func(rec *neo4j.Record) (entity, error) {
			m, ok := rec.Values[0].(map[string]any)
			if !ok {
				return entity{}, errors.New("bad type")
			}
			return entity{ID: m["id"].(string), Name: m["name"].(string)}, nil
		},
		opts...,
	)
}

// --- Tests ---

func TestDefaults(t *testing.T) {
	if r := newTestRepo(&mockRunner{}); r.idKey != "id" || r.Label() != "Entity" {
		t.Fatalf("unexpected defaults %+v", r)
	}
	if r := newTestRepo(&mockRunner{}, WithIDKey[entity, string]("key")); r.idKey != "key" {
		t.Fatalf("idKey = %s", r.idKey)
	}
}

func TestGet(t *testing.T) {
	r := &mockRunner{result: &mockResult{records: []*neo4j.Record{makeRecord("1", "bookhoard")}}}
	e, err := newTestRepo(r).Get(context.Background(), "1")
	if err != nil || e.Name != "bookhoard" {
		t.Fatalf("got %+v err=%v", e, err)
	}
	if r.closed != 1 {
		t.Fatal("session not closed")
	}
}

func TestGetNotFound(t *testing.T) {
	_, err := newTestRepo(&mockRunner{}).Get(context.Background(), "x")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetRunError(t *testing.T) {
	_, err := newTestRepo(&mockRunner{err: errors.New("db down")}).Get(context.Background(), "x")
	if err == nil || err.Error() != "db down" {
		t.Fatalf("expected db down, got %v", err)
	}
}

func TestList(t *testing.T) {
	r := &mockRunner{result: &mockResult{records: []*neo4j.Record{makeRecord("1", "A"), makeRecord("2", "B")}}}
	items, err := newTestRepo(r).List(context.Background(), ListOpts{})
	if err != nil || len(items) != 2 {
		t.Fatalf("items=%v err=%v", items, err)
	}
	if r.params[0]["limit"] != 100 {
		t.Fatalf("default limit not applied: %v", r.params[0])
	}
}

func TestListRecordError(t *testing.T) {
	bad := &neo4j.Record{Values: []any{"not a map"}, Keys: []string{"n"}}
	r := &mockRunner{result: &mockResult{records: []*neo4j.Record{bad}}}
	if _, err := newTestRepo(r).List(context.Background(), ListOpts{Limit: 10}); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpsertMerges(t *testing.T) {
	r := &mockRunner{}
	if err := newTestRepo(r).Upsert(context.Background(), entity{ID: "3", Name: "C"}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(r.cyphers[0], "MERGE (n:Entity {id: $id})") || r.params[0]["id"] != "3" {
		t.Fatalf("cypher %q params %v", r.cyphers[0], r.params[0])
	}
}

func TestDeleteDetaches(t *testing.T) {
	r := &mockRunner{}
	if err := newTestRepo(r).Delete(context.Background(), "1"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(r.cyphers[0], "DETACH DELETE") {
		t.Fatalf("cypher %q", r.cyphers[0])
	}
}

func TestExecError(t *testing.T) {
	r := &mockRunner{err: errors.New("fail")}
	if err := newTestRepo(r).Upsert(context.Background(), entity{}); err == nil {
		t.Fatal("expected error")
	}
}
