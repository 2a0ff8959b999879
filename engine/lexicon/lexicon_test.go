package lexicon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
	"github.com/WessleyAI/anglish-lexicon/engine/llm"
	"github.com/WessleyAI/anglish-lexicon/engine/semantic"
	"github.com/WessleyAI/anglish-lexicon/pkg/jsonl"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func fixture(t *testing.T) string {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"entries-a.json": `{"rod":{"n":{"sense":[{"id":"rod%1","synset":"rod-n"}]}},"run":{"v":{"sense":[{"id":"run%2","synset":"run-v"}]}}}`,
		"entries-b.json": `{"run":{"n":{"sense":[{"id":"run%1","synset":"run-n"}]}}}`,
		"noun.artifact.json": `{"rod-n":{"definition":["a long thin implement"],"members":["rod","stick"],"partOfSpeech":"n","ili":"i1","hypernym":["implement-n"],"example":[{"source":"x","text":"y"}]}}`,
		"noun.act.json":  `{"run-n":{"definition":["a race"],"members":["run"],"partOfSpeech":"n"}}`,
		"verb.motion.json": `{"run-v":{"definition":["move fast"],"members":["run"],"partOfSpeech":"v"}}`,
		"adj.all.json":   `{"bare-a":{"definition":[],"members":["bare"],"partOfSpeech":"a"}}`,
		"frames.json":    `{"ignored":true}`,
	})
	return dir
}

func TestLoad(t *testing.T) {
	lex, err := Load(context.Background(), fixture(t))
	if err != nil {
		t.Fatal(err)
	}
	if !lex.Has("rod", domain.Noun) || lex.Has("rod", domain.Verb) || lex.Has("bar", domain.Noun) {
		t.Fatal("Has mismatch")
	}
	// entries-b replaces the whole "run" entry from entries-a
	if lex.Has("run", domain.Verb) || !lex.Has("run", domain.Noun) {
		t.Fatal("later entries file should win")
	}
	if got := lex.Synsets(); !slices.Equal(got, []string{"bare-a", "rod-n", "run-n", "run-v"}) {
		t.Fatalf("synsets %v", got)
	}
	s, ok := lex.Synset("rod-n")
	if !ok || s.Category != "artifact" || s.Headword() != "rod" || s.Gloss() != "a long thin implement" {
		t.Fatalf("synset %+v", s)
	}
	if !slices.Equal(s.Relations["hypernym"], []string{"implement-n"}) || s.Relations["example"] != nil {
		t.Fatalf("relations %v", s.Relations)
	}
	if got := lex.Categories(domain.Noun); !slices.Equal(got, []string{"act", "artifact"}) {
		t.Fatalf("noun categories %v", got)
	}
	lemmas, synsets := lex.Len()
	if lemmas != 2 || synsets != 4 {
		t.Fatalf("len %d %d", lemmas, synsets)
	}
}

func TestSynsetReturnsCopy(t *testing.T) {
	lex, err := Load(context.Background(), fixture(t))
	if err != nil {
		t.Fatal(err)
	}
	s, _ := lex.Synset("rod-n")
	s.Relations["hypernym"] = nil
	s2, _ := lex.Synset("rod-n")
	if s2.Relations["hypernym"] == nil {
		t.Fatal("mutating a returned synset changed the lexicon")
	}
}

func TestLoadMissingDir(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, domain.ErrMissingInput) {
		t.Fatalf("expected ErrMissingInput, got %v", err)
	}
}

func TestLoadBadJSON(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"entries-x.json": `{`})
	if _, err := Load(context.Background(), dir); err == nil || !strings.Contains(err.Error(), "entries-x.json") {
		t.Fatalf("expected file error, got %v", err)
	}
}

func TestConvertYAML(t *testing.T) {
	src, dst := t.TempDir(), filepath.Join(t.TempDir(), "json")
	writeFiles(t, src, map[string]string{
		"entries-a.yaml": "rod:\n  n:\n    sense:\n    - id: rod%1\n      synset: rod-n\n1000:\n  n:\n    sense:\n    - id: '1000%1'\n      synset: thousand-n\n",
		"noun.artifact.yaml": "rod-n:\n  definition:\n  - a long thin implement\n  members:\n  - rod\n  partOfSpeech: n\n",
		"README.md": "skip me",
	})
	n, err := ConvertYAML(context.Background(), src, dst)
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	lex, err := Load(context.Background(), dst)
	if err != nil {
		t.Fatal(err)
	}
	if !lex.Has("rod", domain.Noun) || !lex.Has("1000", domain.Noun) {
		t.Fatal("converted entries not loadable")
	}
	if s, ok := lex.Synset("rod-n"); !ok || s.Category != "artifact" {
		t.Fatal("converted synset missing")
	}
}

func TestEmbedSynsets(t *testing.T) {
	lex, err := Load(context.Background(), fixture(t))
	if err != nil {
		t.Fatal(err)
	}
	emb := llm.EmbedderFunc(func(_ context.Context, text string) ([]float32, error) {
		if text == "a race" {
			return nil, errors.New("quota")
		}
		return []float32{float32(len(text))}, nil
	})
	out := filepath.Join(t.TempDir(), EmbeddingsFile)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	n, err := EmbedSynsets(context.Background(), lex, emb, out, EmbedConfig{Concurrency: 2}, log)
	if err == nil || !strings.Contains(err.Error(), "1 of 4") {
		t.Fatalf("expected one failure, got %v", err)
	}
	// bare-a has no definition and is skipped
	if n != 2 {
		t.Fatalf("written %d", n)
	}
	rows, err := jsonl.ReadAll[semantic.SynsetEmbedding](out)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		if r.ID == "rod-n" && (r.Headword != "rod" || r.Category != "artifact" || r.POS != "n") {
			t.Fatalf("row %+v", r)
		}
	}
}
