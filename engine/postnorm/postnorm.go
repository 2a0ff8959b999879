// Package postnorm enriches merged records with LLM-deduplicated senses and
// lexicographer categories.
package postnorm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
	"github.com/WessleyAI/anglish-lexicon/engine/layout"
	"github.com/WessleyAI/anglish-lexicon/engine/llm"
	"github.com/WessleyAI/anglish-lexicon/engine/merge"
	"github.com/WessleyAI/anglish-lexicon/pkg/jsonl"
	"github.com/WessleyAI/anglish-lexicon/pkg/resilience"
)

// OutputFile is the post-normalized output under 05_normalize_post/out.
const OutputFile = "normalized_post_records.jsonl"

// ManifestRow records one post-normalize run.
type ManifestRow struct {
	ID           string `json:"id"`
	InputPath    string `json:"inputPath"`
	OutputPath   string `json:"outputPath"`
	RecordsIn    int    `json:"recordsIn"`
	RecordsOut   int    `json:"recordsOut"`
	NormalizedAt string `json:"normalizedAt"`
}

// Config controls the stage.
type Config struct {
	DataRoot      string
	Concurrency   int
	RatePerMinute int
	Force         bool
	// Categories, when set, supplies the category vocabulary offered to the
	// model, usually the loaded reference lexicon's. An empty answer falls
	// back to the closed list.
	Categories func(domain.POS) []string
}

// DefaultConfig matches the provider's per-minute quota.
var DefaultConfig = Config{Concurrency: 100, RatePerMinute: 1000}

// Stage runs the post-normalize stage.
type Stage struct {
	cfg Config
	llm llm.Completer
	log *slog.Logger
	now func() time.Time

	// OnFallback observes every degraded enrichment ("dedupe" or "category").
	OnFallback func(kind string)
}

// New creates the stage.
func New(cfg Config, c llm.Completer, log *slog.Logger) *Stage {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig.Concurrency
	}
	if cfg.RatePerMinute < 0 {
		cfg.RatePerMinute = 0
	}
	if log == nil {
		log = slog.Default()
	}
	return &Stage{cfg: cfg, llm: c, log: log, now: time.Now}
}

// Run enriches every merged record. Output order is completion order.
func (s *Stage) Run(ctx context.Context) (*ManifestRow, error) {
	manifestPath := layout.Manifest(s.cfg.DataRoot, layout.NormalizePost)
	if jsonl.Exists(manifestPath) && !s.cfg.Force {
		s.log.Info("normalize_post.skip", "reason", "manifest exists", "manifest", manifestPath)
		return nil, nil
	}
	inPath := filepath.Join(layout.Out(s.cfg.DataRoot, layout.Merge), merge.OutputFile)
	if !jsonl.Exists(inPath) {
		return nil, fmt.Errorf("normalize_post: %w: %s", domain.ErrMissingInput, inPath)
	}
	records, err := jsonl.ReadAll[domain.MergedRecord](inPath)
	if err != nil {
		return nil, fmt.Errorf("normalize_post: %w", err)
	}

	normalizedAt := s.now().UTC().Format(time.RFC3339Nano)
	outPath := filepath.Join(layout.Out(s.cfg.DataRoot, layout.NormalizePost), OutputFile)
	out, err := jsonl.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("normalize_post: %w", err)
	}

	sched := resilience.NewScheduler(resilience.SchedulerOpts{Concurrency: s.cfg.Concurrency, Rate: s.cfg.RatePerMinute})
	var done atomic.Int64
	results := resilience.MapOrdered(ctx, sched, records, func(ctx context.Context, rec domain.MergedRecord) (struct{}, error) {
		post := s.Enrich(ctx, rec, normalizedAt)
		if n := done.Add(1); n%500 == 0 {
			s.log.Info("normalize_post.progress", "done", n, "total", len(records))
		}
		return struct{}{}, out.Write(post)
	})
	var errs []error
	for _, r := range results {
		if err := r.Error(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := out.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("normalize_post: %w", err)
	}

	row := &ManifestRow{
		ID:           "normalize_post:" + normalizedAt,
		InputPath:    inPath,
		OutputPath:   outPath,
		RecordsIn:    len(records),
		RecordsOut:   out.Count(),
		NormalizedAt: normalizedAt,
	}
	if err := jsonl.WriteAll(manifestPath, []ManifestRow{*row}); err != nil {
		return nil, fmt.Errorf("normalize_post: %w", err)
	}
	s.log.Info("normalize_post.done", "in", row.RecordsIn, "out", row.RecordsOut)
	return row, nil
}

// Enrich deduplicates rec's glosses by sense and categorizes nouns and
// verbs. LLM failures degrade the enrichment, never the record.
func (s *Stage) Enrich(ctx context.Context, rec domain.MergedRecord, normalizedAt string) domain.PostNormalizedRecord {
	glosses := s.dedupe(ctx, rec)
	if domain.Categorized(rec.POS) {
		for i := range glosses {
			glosses[i].Category = s.categorize(ctx, rec.Lemma, rec.POS, glosses[i].Text)
		}
	}
	origins := rec.Origins
	if origins == nil {
		origins = []domain.WordOrigin{}
	}
	return domain.PostNormalizedRecord{
		V:       domain.RecordVersion,
		Lemma:   rec.Lemma,
		POS:     rec.POS,
		Glosses: glosses,
		Origins: origins,
		Sources: rec.Sources,
		Meta:    domain.Meta{"normalizedAt": normalizedAt},
	}
}

type dedupeResponse struct {
	Glosses []struct {
		Text     string   `json:"text"`
		Synonyms []string `json:"synonyms"`
	} `json:"glosses"`
}

var errNoSenses = errors.New("no senses returned")

func (s *Stage) dedupe(ctx context.Context, rec domain.MergedRecord) []domain.Gloss {
	fallback := func(err error) []domain.Gloss {
		s.log.Warn("normalize_post.dedupe_fallback", "lemma", rec.Lemma, "pos", rec.POS, "error", err)
		s.fallback("dedupe")
		out := make([]domain.Gloss, 0, len(rec.Glosses))
		for _, g := range rec.Glosses {
			out = append(out, domain.Gloss{Text: g, Synonyms: []string{}})
		}
		return out
	}
	if len(rec.Glosses) == 0 {
		return []domain.Gloss{}
	}
	res := llm.Extract(ctx, s.llm, llm.Request{
		System: dedupeSystem,
		User:   dedupePrompt(rec),
		Schema: dedupeSchema,
	}, func(r dedupeResponse) error {
		if len(r.Glosses) == 0 {
			return errNoSenses
		}
		for _, g := range r.Glosses {
			if strings.TrimSpace(g.Text) == "" {
				return errors.New("empty sense text")
			}
		}
		return nil
	})
	resp, err := res.Unwrap()
	if err != nil {
		return fallback(err)
	}
	out := make([]domain.Gloss, 0, len(resp.Glosses))
	for _, g := range resp.Glosses {
		syn := g.Synonyms
		if syn == nil {
			syn = []string{}
		}
		out = append(out, domain.Gloss{Text: strings.TrimSpace(g.Text), Synonyms: syn})
	}
	return out
}

type categoryResponse struct {
	Category *string `json:"category"`
}

func (s *Stage) categories(pos domain.POS) []string {
	if s.cfg.Categories != nil {
		if c := s.cfg.Categories(pos); len(c) > 0 {
			return c
		}
	}
	return domain.Categories(pos)
}

func (s *Stage) categorize(ctx context.Context, lemma string, pos domain.POS, gloss string) *string {
	allowed := s.categories(pos)
	res := llm.Extract(ctx, s.llm, llm.Request{
		System: categorySystem,
		User:   categoryPrompt(lemma, pos, gloss, allowed),
		Schema: categorySchema(allowed),
	}, func(r categoryResponse) error {
		if r.Category != nil && !slices.Contains(allowed, *r.Category) {
			return fmt.Errorf("category %q not allowed for %s", *r.Category, pos.Readable())
		}
		return nil
	})
	resp, err := res.Unwrap()
	if err != nil {
		s.log.Debug("normalize_post.category_fallback", "lemma", lemma, "error", err)
		s.fallback("category")
		return nil
	}
	return resp.Category
}

func (s *Stage) fallback(kind string) {
	if s.OnFallback != nil {
		s.OnFallback(kind)
	}
}
