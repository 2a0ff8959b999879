package parse

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
	"github.com/WessleyAI/anglish-lexicon/engine/fetch"
	"github.com/WessleyAI/anglish-lexicon/engine/layout"
	"github.com/WessleyAI/anglish-lexicon/pkg/jsonl"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSelectLatest(t *testing.T) {
	rows := []fetch.ManifestRow{
		{Source: "a", RequestID: "r1", OK: true, RawPath: "p1", FetchedAt: "2024-01-01T00:00:00Z", ID: "old"},
		{Source: "b", RequestID: "r1", OK: true, RawPath: "p2", FetchedAt: "2024-01-01T00:00:00Z", ID: "b"},
		{Source: "a", RequestID: "r1", OK: true, RawPath: "p3", FetchedAt: "2024-02-01T00:00:00Z", ID: "new"},
		{Source: "a", RequestID: "r1", OK: true, RawPath: "p4", FetchedAt: "2023-01-01T00:00:00Z", ID: "older"},
		{Source: "a", RequestID: "r1", OK: false, FetchedAt: "2025-01-01T00:00:00Z", ID: "failed"},
		{Source: "a", RequestID: "", OK: true, RawPath: "p5", ID: "noreq"},
		{Source: "c", RequestID: "r9", OK: true, RawPath: "p6", FetchedAt: "garbage", ID: "c1"},
		{Source: "c", RequestID: "r9", OK: true, RawPath: "p7", FetchedAt: "2020-01-01T00:00:00Z", ID: "c2"},
	}
	got := SelectLatest(rows)
	if len(got) != 3 {
		t.Fatalf("expected 3 rows, got %+v", got)
	}
	if got[0].ID != "new" || got[1].ID != "b" || got[2].ID != "c2" {
		t.Fatalf("wrong selection: %s %s %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestInputAccessors(t *testing.T) {
	if _, err := (Input{Stream: strings.NewReader("x")}).Text(); !errors.Is(err, domain.ErrNeedsContent) {
		t.Fatalf("expected ErrNeedsContent, got %v", err)
	}
	if _, err := (Input{Content: []byte("x")}).Reader(); !errors.Is(err, domain.ErrNeedsStream) {
		t.Fatalf("expected ErrNeedsStream, got %v", err)
	}
}

type word struct {
	Source string `json:"source"`
	Word   string `json:"word"`
}

func seedFetch(t *testing.T, root string, rows ...fetch.ManifestRow) {
	t.Helper()
	w, err := jsonl.Append(layout.Manifest(root, layout.Fetch))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRunWritesRecordsAndManifest(t *testing.T) {
	root := t.TempDir()
	raw := filepath.Join(root, "buffered.txt")
	os.WriteFile(raw, []byte("alpha beta"), 0o644)
	streamed := filepath.Join(root, "stream.txt")
	os.WriteFile(streamed, []byte("one\ntwo\nthree"), 0o644)

	seedFetch(t, root,
		fetch.ManifestRow{ID: "c1", RequestID: "r1", Source: "buf", OK: true, RawPath: raw, FetchedAt: "2024-01-01T00:00:00Z"},
		fetch.ManifestRow{ID: "c2", RequestID: "r2", Source: "str", OK: true, RawPath: streamed, Stream: true, FetchedAt: "2024-01-01T00:00:00Z"},
		fetch.ManifestRow{ID: "c3", RequestID: "r3", Source: "unknown", OK: true, RawPath: raw, FetchedAt: "2024-01-01T00:00:00Z"},
	)

	parsers := map[string]Parser{
		"buf": func(_ context.Context, in Input) (Records, error) {
			text, err := in.Text()
			if err != nil {
				return nil, err
			}
			var out []word
			for _, w := range strings.Fields(text) {
				out = append(out, word{Source: "buf", Word: w})
			}
			return FromSlice(out), nil
		},
		"str": func(_ context.Context, in Input) (Records, error) {
			r, err := in.Reader()
			if err != nil {
				return nil, err
			}
			return func(yield func(any, error) bool) {
				for w, err := range jsonlLines(r) {
					if !yield(word{Source: "str", Word: w}, err) {
						return
					}
				}
			}, nil
		},
	}
	rows, err := New(root, parsers, quiet()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].Records != 2 || rows[1].Records != 3 {
		t.Fatalf("unexpected manifest rows %+v", rows)
	}
	if rows[0].ID != "buf:r1" || rows[0].InputFetchID != "c1" {
		t.Fatalf("bad manifest row %+v", rows[0])
	}
	got, err := jsonl.ReadAll[word](filepath.Join(layout.Out(root, layout.Parse), "str"+OutputSuffix))
	if err != nil || len(got) != 3 || got[2].Word != "three" {
		t.Fatalf("stream output wrong: %v %v", got, err)
	}

	// Re-running regenerates rather than appends.
	if _, err := New(root, parsers, quiet()).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, _ = jsonl.ReadAll[word](filepath.Join(layout.Out(root, layout.Parse), "buf"+OutputSuffix))
	if len(got) != 2 {
		t.Fatalf("expected truncation on rerun, got %d rows", len(got))
	}
}

func TestRunWrongInputKindIsFatal(t *testing.T) {
	root := t.TempDir()
	raw := filepath.Join(root, "dump.jsonl")
	os.WriteFile(raw, []byte("{}"), 0o644)
	seedFetch(t, root, fetch.ManifestRow{ID: "c", RequestID: "r", Source: "dump", OK: true, RawPath: raw})
	parsers := map[string]Parser{
		"dump": func(_ context.Context, in Input) (Records, error) {
			if _, err := in.Reader(); err != nil {
				return nil, err
			}
			return FromSlice([]int{}), nil
		},
	}
	_, err := New(root, parsers, quiet()).Run(context.Background())
	if !errors.Is(err, domain.ErrNeedsStream) {
		t.Fatalf("expected ErrNeedsStream, got %v", err)
	}
}

type flushFailWriter struct{ n int }

func (w *flushFailWriter) Write(any) error { w.n++; return nil }
func (w *flushFailWriter) Close() error    { return errors.New("no space left on device") }

func TestRunReportsFailedFlush(t *testing.T) {
	root := t.TempDir()
	raw := filepath.Join(root, "raw.txt")
	os.WriteFile(raw, []byte("alpha beta"), 0o644)
	seedFetch(t, root, fetch.ManifestRow{ID: "c1", RequestID: "r1", Source: "buf", OK: true, RawPath: raw})

	st := New(root, map[string]Parser{
		"buf": func(context.Context, Input) (Records, error) { return FromSlice([]string{"a", "b"}), nil },
	}, quiet())
	st.create = func(path string) (recordWriter, error) {
		if strings.HasSuffix(path, OutputSuffix) {
			return &flushFailWriter{}, nil
		}
		return jsonl.Create(path)
	}
	_, err := st.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no space left on device") {
		t.Fatalf("expected flush error, got %v", err)
	}
}

func TestRunRemovesStaleOutputs(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(layout.Out(root, layout.Parse), "gone"+OutputSuffix)
	if err := jsonl.WriteAll(stale, []word{{Source: "gone", Word: "old"}}); err != nil {
		t.Fatal(err)
	}
	raw := filepath.Join(root, "raw.txt")
	os.WriteFile(raw, []byte("alpha"), 0o644)
	seedFetch(t, root, fetch.ManifestRow{ID: "c1", RequestID: "r1", Source: "buf", OK: true, RawPath: raw})

	parsers := map[string]Parser{
		"buf":  func(context.Context, Input) (Records, error) { return FromSlice([]string{"a"}), nil },
		"gone": func(context.Context, Input) (Records, error) { return FromSlice([]string{}), nil },
	}
	if _, err := New(root, parsers, quiet()).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if jsonl.Exists(stale) {
		t.Fatal("output of a source with no selected rows survived the run")
	}
	if !jsonl.Exists(filepath.Join(layout.Out(root, layout.Parse), "buf"+OutputSuffix)) {
		t.Fatal("missing current output")
	}
}

func TestRunMissingManifest(t *testing.T) {
	_, err := New(t.TempDir(), nil, quiet()).Run(context.Background())
	if !errors.Is(err, domain.ErrMissingInput) {
		t.Fatalf("expected ErrMissingInput, got %v", err)
	}
}

func jsonlLines(r io.Reader) func(func(string, error) bool) {
	return func(yield func(string, error) bool) {
		b, err := io.ReadAll(r)
		if err != nil {
			yield("", err)
			return
		}
		for _, l := range strings.Split(string(b), "\n") {
			if !yield(l, nil) {
				return
			}
		}
	}
}
