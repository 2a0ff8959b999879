package parse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
	"github.com/WessleyAI/anglish-lexicon/engine/fetch"
	"github.com/WessleyAI/anglish-lexicon/engine/layout"
	"github.com/WessleyAI/anglish-lexicon/pkg/jsonl"
)

// OutputSuffix names per-source parse outputs: <source>.source_records.jsonl.
const OutputSuffix = ".source_records.jsonl"

// ManifestRow records one parsed logical request.
type ManifestRow struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	InputFetchID string `json:"inputFetchId"`
	InputRawPath string `json:"inputRawPath"`
	OutputPath   string `json:"outputPath"`
	Records      int    `json:"records"`
	ParsedAt     string `json:"parsedAt"`
}

type recordWriter interface {
	Write(v any) error
	Close() error
}

// Stage runs the parse stage. It always regenerates its outputs.
type Stage struct {
	root    string
	parsers map[string]Parser
	log     *slog.Logger
	now     func() time.Time
	create  func(path string) (recordWriter, error)
}

// New creates a parse stage over dataRoot with parsers keyed by source.
func New(dataRoot string, parsers map[string]Parser, log *slog.Logger) *Stage {
	if log == nil {
		log = slog.Default()
	}
	return &Stage{
		root:    dataRoot,
		parsers: parsers,
		log:     log,
		now:     time.Now,
		create:  func(path string) (recordWriter, error) { return jsonl.Create(path) },
	}
}

// SelectLatest keeps the most recent ok row per (source, requestId), in
// first-seen order. Rows without a raw path or request id are ignored.
func SelectLatest(rows []fetch.ManifestRow) []fetch.ManifestRow {
	latest := make(map[string]fetch.ManifestRow)
	var order []string
	for _, r := range rows {
		if !r.OK || r.RawPath == "" || r.RequestID == "" {
			continue
		}
		key := r.Source + ":" + r.RequestID
		prev, seen := latest[key]
		if !seen {
			order = append(order, key)
			latest[key] = r
			continue
		}
		if newerOrEqual(r.FetchedAt, prev.FetchedAt) {
			latest[key] = r
		}
	}
	out := make([]fetch.ManifestRow, 0, len(order))
	for _, k := range order {
		out = append(out, latest[k])
	}
	return out
}

// newerOrEqual compares timestamps; unparseable values let the later row win.
func newerOrEqual(next, prev string) bool {
	tn, err1 := time.Parse(time.RFC3339Nano, next)
	tp, err2 := time.Parse(time.RFC3339Nano, prev)
	if err1 != nil || err2 != nil {
		return true
	}
	return !tn.Before(tp)
}

// Run parses the latest artifact of every logical request. Adapter errors
// abort the stage. Outputs of earlier runs are removed first, and a failed
// flush of any output fails the run.
func (s *Stage) Run(ctx context.Context) (rows []ManifestRow, err error) {
	manifestIn := layout.Manifest(s.root, layout.Fetch)
	if !jsonl.Exists(manifestIn) {
		return nil, fmt.Errorf("parse: %w: %s", domain.ErrMissingInput, manifestIn)
	}
	fetched, err := jsonl.ReadAll[fetch.ManifestRow](manifestIn)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	selected := SelectLatest(fetched)
	s.log.Info("parse.start", "manifestRows", len(fetched), "selected", len(selected))

	outDir := layout.Out(s.root, layout.Parse)
	if err := s.clearOutputs(outDir); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	manifest, err := s.create(layout.Manifest(s.root, layout.Parse))
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	writers := make(map[string]recordWriter)
	defer func() {
		var errs []error
		for src, w := range writers {
			if cerr := w.Close(); cerr != nil {
				errs = append(errs, fmt.Errorf("parse: close %s output: %w", src, cerr))
			}
		}
		if cerr := manifest.Close(); cerr != nil {
			errs = append(errs, fmt.Errorf("parse: close manifest: %w", cerr))
		}
		if len(errs) > 0 {
			err = errors.Join(append([]error{err}, errs...)...)
		}
	}()

	for _, fr := range selected {
		if err := ctx.Err(); err != nil {
			return rows, err
		}
		parser, ok := s.parsers[fr.Source]
		if !ok {
			s.log.Warn("parse.no_parser", "source", fr.Source, "requestId", fr.RequestID)
			continue
		}
		outPath := filepath.Join(outDir, fr.Source+OutputSuffix)
		out, ok := writers[fr.Source]
		if !ok {
			out, err = s.create(outPath)
			if err != nil {
				return rows, fmt.Errorf("parse: %w", err)
			}
			writers[fr.Source] = out
		}

		n, err := s.parseOne(ctx, parser, fr, out)
		if err != nil {
			return rows, fmt.Errorf("parse: %s %s: %w", fr.Source, fr.RawPath, err)
		}
		row := ManifestRow{
			ID:           fr.Source + ":" + fr.RequestID,
			Source:       fr.Source,
			InputFetchID: fr.ID,
			InputRawPath: fr.RawPath,
			OutputPath:   outPath,
			Records:      n,
			ParsedAt:     s.now().UTC().Format(time.RFC3339Nano),
		}
		if err := manifest.Write(row); err != nil {
			return rows, fmt.Errorf("parse: %w", err)
		}
		rows = append(rows, row)
		s.log.Info("parse.parsed", "source", fr.Source, "requestId", fr.RequestID, "records", n)
	}
	return rows, nil
}

// clearOutputs removes every per-source output left in dir, so a source
// with nothing selected this run contributes nothing downstream.
func (s *Stage) clearOutputs(dir string) error {
	stale, err := filepath.Glob(filepath.Join(dir, "*"+OutputSuffix))
	if err != nil {
		return err
	}
	for _, p := range stale {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if len(stale) > 0 {
		s.log.Debug("parse.cleared", "files", len(stale))
	}
	return nil
}

func (s *Stage) parseOne(ctx context.Context, parser Parser, fr fetch.ManifestRow, out recordWriter) (int, error) {
	in := Input{
		Fetch:   FetchRef{ID: fr.ID, RequestID: fr.RequestID, URL: fr.URL, FetchedAt: fr.FetchedAt},
		JobMeta: fr.JobMeta,
	}
	if fr.Stream {
		f, err := os.Open(fr.RawPath)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		in.Stream = f
	} else {
		b, err := os.ReadFile(fr.RawPath)
		if err != nil {
			return 0, err
		}
		if b == nil {
			b = []byte{}
		}
		in.Content = b
	}

	records, err := parser(ctx, in)
	if err != nil {
		return 0, err
	}
	n := 0
	for rec, err := range records {
		if err != nil {
			return n, err
		}
		if err := out.Write(rec); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
