package mapping

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
	"github.com/WessleyAI/anglish-lexicon/engine/graph"
	"github.com/WessleyAI/anglish-lexicon/engine/layout"
	"github.com/WessleyAI/anglish-lexicon/engine/llm"
	"github.com/WessleyAI/anglish-lexicon/engine/postnorm"
	"github.com/WessleyAI/anglish-lexicon/engine/semantic"
	"github.com/WessleyAI/anglish-lexicon/pkg/jsonl"
)

func ptr(s string) *string { return &s }

func hits20() []semantic.Hit {
	hs := make([]semantic.Hit, 20)
	for i := range hs {
		hs[i] = semantic.Hit{ID: fmt.Sprintf("s%02d", i), POS: "n", Category: "act", Distance: 0.30 + float64(i)*0.01}
	}
	return hs
}

func TestRankNormalizesToUnitRange(t *testing.T) {
	ranked := Rank(hits20(), nil, DefaultScoreOpts)
	if ranked[0].ID != "s00" || ranked[0].Score != 0 {
		t.Fatalf("first %+v", ranked[0])
	}
	if math.Abs(ranked[19].Score-1) > 1e-9 {
		t.Fatalf("last score %v", ranked[19].Score)
	}
}

func TestRankCategoryBonus(t *testing.T) {
	hs := hits20()
	hs[5].Category = "artifact"
	plain := Rank(hs, nil, DefaultScoreOpts)
	boosted := Rank(hs, ptr("artifact"), DefaultScoreOpts)

	find := func(rs []Scored, id string) (int, Scored) {
		for i, r := range rs {
			if r.ID == id {
				return i, r
			}
		}
		t.Fatalf("%s missing", id)
		return 0, Scored{}
	}
	pi, p := find(plain, "s05")
	bi, b := find(boosted, "s05")
	if !b.CategoryMatch || p.CategoryMatch {
		t.Fatal("categoryMatch flag wrong")
	}
	if math.Abs((p.Score-b.Score)-0.10) > 1e-9 {
		t.Fatalf("bonus not applied: %v -> %v", p.Score, b.Score)
	}
	if bi >= pi {
		t.Fatalf("match did not move up: %d -> %d", pi, bi)
	}
}

func TestRankBonusOnlyForNounAndAdjective(t *testing.T) {
	hs := []semantic.Hit{
		{ID: "v1", POS: "v", Category: "motion", Distance: 0.1},
		{ID: "v2", POS: "v", Category: "motion", Distance: 0.2},
	}
	for _, r := range Rank(hs, ptr("motion"), DefaultScoreOpts) {
		if r.CategoryMatch {
			t.Fatal("verb candidates are not eligible for the bonus")
		}
	}
}

func TestRankAllEqual(t *testing.T) {
	hs := hits20()
	for i := range hs {
		hs[i].Distance = 0.5
	}
	hs[7].Category = "artifact"
	ranked := Rank(hs, ptr("artifact"), DefaultScoreOpts)
	if ranked[0].ID != "s07" || math.Abs(ranked[0].Score+0.10) > 1e-9 {
		t.Fatalf("first %+v", ranked[0])
	}
	if ranked[1].ID != "s00" || ranked[1].Score != 0 {
		t.Fatalf("equal scores must keep k-NN order, got %+v", ranked[1])
	}
}

func TestRankEmpty(t *testing.T) {
	if len(Rank(nil, nil, DefaultScoreOpts)) != 0 {
		t.Fatal("expected empty")
	}
}

// --- fakes ---

type fakeIndex struct{ hits map[domain.POS][]semantic.Hit }

func (f *fakeIndex) KNN(_ context.Context, _ []float32, pos domain.POS, k int) ([]semantic.Hit, error) {
	h := f.hits[pos]
	return h[:min(k, len(h))], nil
}

type fakeSink struct {
	mu     sync.Mutex
	lemmas []string
	senses map[uint][]string
	fail   string
}

func (f *fakeSink) InsertLemma(_ context.Context, lemma string, pos domain.POS, _ []domain.WordOrigin) (uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lemma == f.fail {
		return 0, errors.New("constraint violation")
	}
	f.lemmas = append(f.lemmas, domain.LexKey(lemma, pos))
	return uint(len(f.lemmas)), nil
}

func (f *fakeSink) InsertSense(_ context.Context, lemmaID uint, synsetID string, _ int) (uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.senses == nil {
		f.senses = map[uint][]string{}
	}
	f.senses[lemmaID] = append(f.senses[lemmaID], synsetID)
	return uint(len(f.senses)), nil
}

type fakeGraph struct {
	mu    sync.Mutex
	links int
}

func (f *fakeGraph) SaveLemma(context.Context, graph.Lemma) error { return errors.New("graph down") }

func (f *fakeGraph) LinkSense(context.Context, string, graph.Synset, float64, int) error {
	f.mu.Lock()
	f.links++
	f.mu.Unlock()
	return nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writeInput(t *testing.T, root string, recs []domain.PostNormalizedRecord) {
	t.Helper()
	path := filepath.Join(layout.Out(root, layout.NormalizePost), postnorm.OutputFile)
	if err := jsonl.WriteAll(path, recs); err != nil {
		t.Fatal(err)
	}
}

func TestRun(t *testing.T) {
	root := t.TempDir()
	writeInput(t, root, []domain.PostNormalizedRecord{
		{Lemma: "bar", POS: domain.Noun, Glosses: []domain.Gloss{{Text: "a rod", Category: ptr("artifact")}, {Text: "a pub"}}},
		{Lemma: "broken", POS: domain.Noun, Glosses: []domain.Gloss{{Text: "x"}}},
		{Lemma: "gang", POS: domain.Verb, Glosses: []domain.Gloss{{Text: "to go"}}},
	})
	nouns := hits20()
	nouns[1].Category = "artifact"
	sink := &fakeSink{fail: "broken"}
	g := &fakeGraph{}
	st := New(Config{DataRoot: root, Concurrency: 2}, Deps{
		Embedder: llm.EmbedderFunc(func(context.Context, string) ([]float32, error) { return []float32{1}, nil }),
		Index: &fakeIndex{hits: map[domain.POS][]semantic.Hit{
			domain.Noun: nouns,
			domain.Verb: {{ID: "go-v", POS: "v", Category: "motion", Distance: 0.2}},
		}},
		Sink:  sink,
		Graph: g,
		Log:   quiet(),
	})
	row, err := st.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if row.RecordsIn != 3 || row.RecordsFailed != 1 || row.SensesMapped != 3 {
		t.Fatalf("row %+v", row)
	}
	if g.links != 3 {
		t.Fatalf("graph links %d", g.links)
	}

	audit, err := jsonl.ReadAll[MappedSense](row.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range audit {
		if m.Gloss == "a rod" && (m.Match.ID != "s01" || !m.Match.CategoryMatch) {
			t.Fatalf("rod mapped to %+v", m.Match)
		}
		if m.Gloss == "a pub" && m.Match.ID != "s00" {
			t.Fatalf("pub mapped to %+v", m.Match)
		}
	}

	// the stage directory now has contents
	again, err := New(Config{DataRoot: root}, Deps{Log: quiet()}).Run(context.Background())
	if again != nil || err != nil {
		t.Fatalf("expected skip, got %+v %v", again, err)
	}
}

func TestRunMissingInput(t *testing.T) {
	_, err := New(Config{DataRoot: t.TempDir()}, Deps{Log: quiet()}).Run(context.Background())
	if !errors.Is(err, domain.ErrMissingInput) {
		t.Fatalf("expected ErrMissingInput, got %v", err)
	}
}

func TestMapGlossNoCandidates(t *testing.T) {
	st := New(Config{}, Deps{
		Embedder: llm.EmbedderFunc(func(context.Context, string) ([]float32, error) { return []float32{1}, nil }),
		Index:    &fakeIndex{},
		Log:      quiet(),
	})
	if _, err := st.MapGloss(context.Background(), domain.Gloss{Text: "x"}, domain.Adverb); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
}

func TestNewDefaultsScoreFieldsIndependently(t *testing.T) {
	st := New(Config{Score: ScoreOpts{CategoryBonus: 0.3}}, Deps{Log: quiet()})
	if st.cfg.Score.CategoryBonus != 0.3 {
		t.Fatalf("bonus %v", st.cfg.Score.CategoryBonus)
	}
	if !slices.Equal(st.cfg.Score.BonusPOS, DefaultScoreOpts.BonusPOS) {
		t.Fatalf("bonus pos %v", st.cfg.Score.BonusPOS)
	}

	st = New(Config{Score: ScoreOpts{BonusPOS: []domain.POS{domain.Verb}}}, Deps{Log: quiet()})
	if st.cfg.Score.CategoryBonus != DefaultScoreOpts.CategoryBonus || !slices.Equal(st.cfg.Score.BonusPOS, []domain.POS{domain.Verb}) {
		t.Fatalf("score %+v", st.cfg.Score)
	}
}
