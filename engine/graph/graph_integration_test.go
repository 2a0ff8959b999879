//go:build integration

package graph

import (
	"context"
	"os"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
)

func testDriver(t *testing.T) neo4j.DriverWithContext {
	t.Helper()
	url := envOr("NEO4J_URL", "neo4j://localhost:7687")
	driver, err := neo4j.NewDriverWithContext(url, neo4j.NoAuth())
	if err != nil {
		t.Fatalf("neo4j connect: %v", err)
	}
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		t.Fatalf("neo4j verify: %v", err)
	}
	t.Cleanup(func() {
		sess := driver.NewSession(ctx, neo4j.SessionConfig{})
		sess.Run(ctx, "MATCH (n) DETACH DELETE n", nil)
		sess.Close(ctx)
		driver.Close(ctx)
	})
	return driver
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestNeo4j_SaveLinkAndGet(t *testing.T) {
	g := New(testDriver(t))
	ctx := context.Background()
	if err := g.EnsureConstraints(ctx); err != nil {
		t.Fatal(err)
	}
	l := NewLemma("bookhoard", domain.Noun, []domain.WordOrigin{{Lang: domain.OldEnglish, Kind: domain.Inherited, Form: "bōc"}})
	if err := g.SaveLemma(ctx, l); err != nil {
		t.Fatal(err)
	}
	if err := g.LinkSense(ctx, l.Key, Synset{ID: "library-n", Headword: "library", POS: "n", Category: "artifact"}, 0.1, 0); err != nil {
		t.Fatal(err)
	}
	got, err := g.Lemma(ctx, l.Key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Lemma != "bookhoard" || len(got.Origins) != 1 {
		t.Fatalf("got %+v", got)
	}
}
