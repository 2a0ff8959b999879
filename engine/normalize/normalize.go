// Package normalize maps each source's parsed records into the common
// NormalizedRecord schema, running adapters concurrently while keeping the
// output in input order.
package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
	"github.com/WessleyAI/anglish-lexicon/engine/layout"
	"github.com/WessleyAI/anglish-lexicon/engine/parse"
	"github.com/WessleyAI/anglish-lexicon/pkg/fn"
	"github.com/WessleyAI/anglish-lexicon/pkg/jsonl"
	"github.com/WessleyAI/anglish-lexicon/pkg/resilience"
)

// OutputSuffix names per-source outputs: <source>.normalized_records.jsonl.
const OutputSuffix = ".normalized_records.jsonl"

// Normalizer maps one raw record to zero or more normalized records.
type Normalizer func(ctx context.Context, raw json.RawMessage, normalizedAt string) ([]domain.NormalizedRecord, error)

// Typed decodes the raw record as T before calling f.
func Typed[T any](f func(ctx context.Context, rec T, normalizedAt string) ([]domain.NormalizedRecord, error)) Normalizer {
	return func(ctx context.Context, raw json.RawMessage, normalizedAt string) ([]domain.NormalizedRecord, error) {
		var rec T
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		return f(ctx, rec, normalizedAt)
	}
}

// ManifestRow records one normalized source file.
type ManifestRow struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	InputPath    string `json:"inputPath"`
	OutputPath   string `json:"outputPath"`
	RecordsIn    int    `json:"recordsIn"`
	RecordsOut   int    `json:"recordsOut"`
	NormalizedAt string `json:"normalizedAt"`
}

// Config controls the normalize stage.
type Config struct {
	DataRoot      string
	Concurrency   int
	RatePerMinute int
	Force         bool
}

// Stage runs the normalize stage.
type Stage struct {
	cfg         Config
	normalizers map[string]Normalizer
	log         *slog.Logger
	now         func() time.Time
}

// New creates a normalize stage.
func New(cfg Config, normalizers map[string]Normalizer, log *slog.Logger) *Stage {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 20
	}
	if log == nil {
		log = slog.Default()
	}
	return &Stage{cfg: cfg, normalizers: normalizers, log: log, now: time.Now}
}

// Run normalizes every parsed source file. An existing manifest means the
// stage already ran; it is skipped unless Force is set.
func (s *Stage) Run(ctx context.Context) ([]ManifestRow, error) {
	manifestPath := layout.Manifest(s.cfg.DataRoot, layout.Normalize)
	if jsonl.Exists(manifestPath) && !s.cfg.Force {
		s.log.Info("normalize.skip", "reason", "manifest exists", "manifest", manifestPath)
		return nil, nil
	}
	inDir := layout.Out(s.cfg.DataRoot, layout.Parse)
	inputs, err := filepath.Glob(filepath.Join(inDir, "*"+parse.OutputSuffix))
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("normalize: %w: no parsed records in %s", domain.ErrMissingInput, inDir)
	}
	sort.Strings(inputs)

	manifest, err := jsonl.Create(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	defer manifest.Close()

	sched := resilience.NewScheduler(resilience.SchedulerOpts{
		Concurrency: s.cfg.Concurrency,
		Rate:        s.cfg.RatePerMinute,
	})
	var rows []ManifestRow
	for _, in := range inputs {
		source := strings.TrimSuffix(filepath.Base(in), parse.OutputSuffix)
		norm, ok := s.normalizers[source]
		if !ok {
			s.log.Warn("normalize.no_normalizer", "source", source)
			continue
		}
		row, err := s.normalizeFile(ctx, sched, source, in, norm)
		if err != nil {
			return rows, err
		}
		if err := manifest.Write(row); err != nil {
			return rows, fmt.Errorf("normalize: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Stage) normalizeFile(ctx context.Context, sched *resilience.Scheduler, source, in string, norm Normalizer) (ManifestRow, error) {
	raws, err := jsonl.ReadRaw(in)
	if err != nil {
		return ManifestRow{}, fmt.Errorf("normalize: %w", err)
	}
	normalizedAt := s.now().UTC().Format(time.RFC3339Nano)
	s.log.Info("normalize.source", "source", source, "records", len(raws))

	results := resilience.MapOrdered(ctx, sched, raws, func(ctx context.Context, raw json.RawMessage) ([]domain.NormalizedRecord, error) {
		return norm(ctx, raw, normalizedAt)
	})
	if err := ctx.Err(); err != nil {
		return ManifestRow{}, err
	}

	outPath := filepath.Join(layout.Out(s.cfg.DataRoot, layout.Normalize), source+OutputSuffix)
	out, err := jsonl.Create(outPath)
	if err != nil {
		return ManifestRow{}, fmt.Errorf("normalize: %w", err)
	}
	failed := 0
	for i, r := range results {
		recs, err := r.Unwrap()
		if err != nil {
			failed++
			s.log.Warn("normalize.record_failed", "source", source, "index", i, "error", err)
			continue
		}
		for _, rec := range fn.Filter(recs, func(rec domain.NormalizedRecord) bool { return s.valid(source, rec) }) {
			if err := out.Write(rec); err != nil {
				out.Close()
				return ManifestRow{}, fmt.Errorf("normalize: %w", err)
			}
		}
	}
	if err := out.Close(); err != nil {
		return ManifestRow{}, fmt.Errorf("normalize: %w", err)
	}

	row := ManifestRow{
		ID:           source + ":" + normalizedAt,
		Source:       source,
		InputPath:    in,
		OutputPath:   outPath,
		RecordsIn:    len(raws),
		RecordsOut:   out.Count(),
		NormalizedAt: normalizedAt,
	}
	s.log.Info("normalize.done", "source", source, "in", row.RecordsIn, "out", row.RecordsOut, "failed", failed)
	return row, nil
}

func (s *Stage) valid(source string, rec domain.NormalizedRecord) bool {
	if err := domain.ValidateNormalized(rec); err != nil {
		s.log.Debug("normalize.invalid_record", "source", source, "lemma", rec.Lemma, "error", err)
		return false
	}
	return true
}

// Load reads every normalized output file under dataRoot, in file order.
// A missing or empty output directory is ErrMissingInput.
func Load(dataRoot string) ([]domain.NormalizedRecord, []string, error) {
	dir := layout.Out(dataRoot, layout.Normalize)
	files, err := filepath.Glob(filepath.Join(dir, "*"+OutputSuffix))
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("%w: no *%s under %s", domain.ErrMissingInput, OutputSuffix, dir)
	}
	sort.Strings(files)
	var all []domain.NormalizedRecord
	for _, f := range files {
		recs, err := jsonl.ReadAll[domain.NormalizedRecord](f)
		if err != nil {
			return nil, nil, err
		}
		all = append(all, recs...)
	}
	return all, files, nil
}
