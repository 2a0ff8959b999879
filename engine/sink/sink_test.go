package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "lexicon.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSortTables(t *testing.T) {
	got, err := SortTables([]Table{
		{Name: "lemma_origin", DependsOn: []string{"lemma", "origin"}},
		{Name: "origin"},
		{Name: "sense", DependsOn: []string{"lemma"}},
		{Name: "lemma"},
	})
	if err != nil {
		t.Fatal(err)
	}
	pos := func(n string) int { return slices.Index(got, n) }
	if pos("lemma") > pos("sense") || pos("lemma") > pos("lemma_origin") || pos("origin") > pos("lemma_origin") {
		t.Fatalf("bad order %v", got)
	}
}

func TestSortTablesCycle(t *testing.T) {
	_, err := SortTables([]Table{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
		{Name: "c"},
	})
	if !errors.Is(err, domain.ErrDependencyCycle) {
		t.Fatalf("expected ErrDependencyCycle, got %v", err)
	}
}

func TestSortTablesMissingDependency(t *testing.T) {
	if _, err := SortTables([]Table{{Name: "a", DependsOn: []string{"ghost"}}}); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open("oracle", "", nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenLogsFailedStatementsToSlog(t *testing.T) {
	var buf bytes.Buffer
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "lexicon.db"), slog.New(slog.NewTextHandler(&buf, nil)))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.DB().Exec("SELECT * FROM no_such_table").Error; err == nil {
		t.Fatal("expected error")
	}
	out := buf.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "no_such_table") || !strings.Contains(out, "component=sink") {
		t.Fatalf("log output:\n%s", out)
	}
}

func TestMigrateSeedsOriginsIdempotently(t *testing.T) {
	s := testStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var n int64
	if err := s.DB().Model(&Origin{}).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	if int(n) != len(domain.Languages()) {
		t.Fatalf("origins %d, want %d", n, len(domain.Languages()))
	}
}

func TestInsertLemmaWithOriginsAndSenses(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id, err := s.InsertLemma(ctx, "bookhoard", domain.Noun, []domain.WordOrigin{
		{Lang: domain.OldEnglish, Kind: domain.Inherited, Form: "bōchord"},
		{Lang: domain.OldEnglish, Kind: domain.Inherited, Form: "bōc-hord"},
		{Lang: domain.OldNorse, Kind: domain.Cognate, Form: "bók"},
	})
	if err != nil {
		t.Fatal(err)
	}
	var lemma Lemma
	if err := s.DB().First(&lemma, id).Error; err != nil {
		t.Fatal(err)
	}
	if lemma.Lang != LangAnglish || lemma.POS != "n" {
		t.Fatalf("lemma %+v", lemma)
	}
	origins, err := s.Origins(ctx, id)
	if err != nil || len(origins) != 2 || origins[0].OriginCode != "OE" || origins[0].Form != "bōchord" {
		t.Fatalf("origins %+v err=%v", origins, err)
	}

	for i, syn := range []string{"library-n", "collection-n"} {
		if _, err := s.InsertSense(ctx, id, syn, i); err != nil {
			t.Fatal(err)
		}
	}
	senses, err := s.Senses(ctx, id)
	if err != nil || len(senses) != 2 || senses[1].SynsetID != "collection-n" {
		t.Fatalf("senses %+v err=%v", senses, err)
	}
}
