// Package mapping attaches each post-normalized gloss to its nearest
// reference sense and writes lemmas and senses to the relational sink.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
	"github.com/WessleyAI/anglish-lexicon/engine/graph"
	"github.com/WessleyAI/anglish-lexicon/engine/layout"
	"github.com/WessleyAI/anglish-lexicon/engine/llm"
	"github.com/WessleyAI/anglish-lexicon/engine/postnorm"
	"github.com/WessleyAI/anglish-lexicon/engine/semantic"
	"github.com/WessleyAI/anglish-lexicon/pkg/jsonl"
	"github.com/WessleyAI/anglish-lexicon/pkg/resilience"
)

// OutputFile is the audit log of mapped senses under 06_map/out.
const OutputFile = "mapped_senses.jsonl"

// ErrNoCandidates is returned when the index has no sense with the gloss's
// part of speech.
var ErrNoCandidates = errors.New("mapping: no candidates")

// Index finds reference senses near a vector.
type Index interface {
	KNN(ctx context.Context, vec []float32, pos domain.POS, k int) ([]semantic.Hit, error)
}

// Sink stores lemmas and senses.
type Sink interface {
	InsertLemma(ctx context.Context, lemma string, pos domain.POS, origins []domain.WordOrigin) (uint, error)
	InsertSense(ctx context.Context, lemmaID uint, synsetID string, index int) (uint, error)
}

// Graph mirrors lemmas and senses.
type Graph interface {
	SaveLemma(ctx context.Context, l graph.Lemma) error
	LinkSense(ctx context.Context, lemmaKey string, s graph.Synset, score float64, index int) error
}

// Deps are the stage's collaborators. Graph is optional.
type Deps struct {
	Embedder llm.Embedder
	Index    Index
	Sink     Sink
	Graph    Graph
	Log      *slog.Logger
}

// Config controls the stage.
type Config struct {
	DataRoot      string
	Concurrency   int
	RatePerMinute int
	K             int
	Force         bool
	Score         ScoreOpts
}

// DefaultConfig matches the embedding provider's quota.
var DefaultConfig = Config{Concurrency: 100, RatePerMinute: 5000, K: 20, Score: DefaultScoreOpts}

// MappedSense is one line of the audit log.
type MappedSense struct {
	Lemma      string     `json:"lemma"`
	POS        domain.POS `json:"pos"`
	Gloss      string     `json:"gloss"`
	Category   *string    `json:"category"`
	LemmaID    uint       `json:"lemmaId"`
	SenseID    uint       `json:"senseId"`
	SenseIndex int        `json:"senseIndex"`
	Match      Scored     `json:"match"`
	MappedAt   string     `json:"mappedAt"`
}

// ManifestRow records one map run.
type ManifestRow struct {
	ID            string `json:"id"`
	InputPath     string `json:"inputPath"`
	OutputPath    string `json:"outputPath"`
	RecordsIn     int    `json:"recordsIn"`
	RecordsFailed int    `json:"recordsFailed"`
	SensesMapped  int    `json:"sensesMapped"`
	MappedAt      string `json:"mappedAt"`
}

// Stage runs the map stage.
type Stage struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	now  func() time.Time

	// OnSense, when set, observes every mapped sense.
	OnSense func(MappedSense)
}

// New creates the stage.
func New(cfg Config, deps Deps) *Stage {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig.Concurrency
	}
	if cfg.K <= 0 {
		cfg.K = DefaultConfig.K
	}
	if cfg.Score.BonusPOS == nil {
		cfg.Score.BonusPOS = DefaultScoreOpts.BonusPOS
	}
	if cfg.Score.CategoryBonus == 0 {
		cfg.Score.CategoryBonus = DefaultScoreOpts.CategoryBonus
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Stage{cfg: cfg, deps: deps, log: log, now: time.Now}
}

// Run maps every post-normalized record. A failing record is logged and
// counted; it never stops the others.
func (s *Stage) Run(ctx context.Context) (*ManifestRow, error) {
	stageDir := layout.Dir(s.cfg.DataRoot, layout.Map)
	if !layout.EmptyDir(stageDir) && !s.cfg.Force {
		s.log.Info("map.skip", "reason", "output exists", "dir", stageDir)
		return nil, nil
	}
	inPath := filepath.Join(layout.Out(s.cfg.DataRoot, layout.NormalizePost), postnorm.OutputFile)
	if !jsonl.Exists(inPath) {
		return nil, fmt.Errorf("map: %w: %s", domain.ErrMissingInput, inPath)
	}
	records, err := jsonl.ReadAll[domain.PostNormalizedRecord](inPath)
	if err != nil {
		return nil, fmt.Errorf("map: %w", err)
	}

	mappedAt := s.now().UTC().Format(time.RFC3339Nano)
	outPath := filepath.Join(layout.Out(s.cfg.DataRoot, layout.Map), OutputFile)
	audit, err := jsonl.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("map: %w", err)
	}

	s.log.Info("map.start", "records", len(records), "k", s.cfg.K)
	sched := resilience.NewScheduler(resilience.SchedulerOpts{Concurrency: s.cfg.Concurrency, Rate: s.cfg.RatePerMinute})
	var failed atomic.Int64
	resilience.MapOrdered(ctx, sched, records, func(ctx context.Context, rec domain.PostNormalizedRecord) (struct{}, error) {
		err := s.mapRecord(ctx, rec, mappedAt, audit)
		if err != nil {
			failed.Add(1)
			s.log.Error("map.record_failed", "lemma", rec.Lemma, "pos", rec.POS, "error", err)
		}
		return struct{}{}, err
	})
	if err := audit.Close(); err != nil {
		return nil, fmt.Errorf("map: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	row := &ManifestRow{
		ID:            "map:" + mappedAt,
		InputPath:     inPath,
		OutputPath:    outPath,
		RecordsIn:     len(records),
		RecordsFailed: int(failed.Load()),
		SensesMapped:  audit.Count(),
		MappedAt:      mappedAt,
	}
	mw, err := jsonl.Append(layout.Manifest(s.cfg.DataRoot, layout.Map))
	if err != nil {
		return nil, fmt.Errorf("map: %w", err)
	}
	if err := errors.Join(mw.Write(row), mw.Close()); err != nil {
		return nil, fmt.Errorf("map: manifest: %w", err)
	}
	s.log.Info("map.done", "records", row.RecordsIn, "failed", row.RecordsFailed, "senses", row.SensesMapped)
	return row, nil
}

func (s *Stage) mapRecord(ctx context.Context, rec domain.PostNormalizedRecord, mappedAt string, audit *jsonl.Writer) error {
	lemmaID, err := s.deps.Sink.InsertLemma(ctx, rec.Lemma, rec.POS, rec.Origins)
	if err != nil {
		return err
	}
	key := domain.LexKey(rec.Lemma, rec.POS)
	if s.deps.Graph != nil {
		if err := s.deps.Graph.SaveLemma(ctx, graph.NewLemma(rec.Lemma, rec.POS, rec.Origins)); err != nil {
			s.log.Warn("map.graph_failed", "lemma", key, "error", err)
		}
	}

	var errs []error
	for i, g := range rec.Glosses {
		best, err := s.MapGloss(ctx, g, rec.POS)
		if err != nil {
			errs = append(errs, fmt.Errorf("gloss %d: %w", i, err))
			continue
		}
		senseID, err := s.deps.Sink.InsertSense(ctx, lemmaID, best.ID, i)
		if err != nil {
			errs = append(errs, fmt.Errorf("gloss %d: %w", i, err))
			continue
		}
		m := MappedSense{
			Lemma: rec.Lemma, POS: rec.POS, Gloss: g.Text, Category: g.Category,
			LemmaID: lemmaID, SenseID: senseID, SenseIndex: i, Match: best, MappedAt: mappedAt,
		}
		if err := audit.Write(m); err != nil {
			errs = append(errs, err)
		}
		s.log.Debug("map.sense", "lemma", key, "gloss", g.Text, "synset", best.ID, "headword", best.Headword, "score", best.Score, "categoryMatch", best.CategoryMatch)
		if s.OnSense != nil {
			s.OnSense(m)
		}
		if s.deps.Graph != nil {
			syn := graph.Synset{ID: best.ID, Headword: best.Headword, POS: best.POS, Category: best.Category}
			if err := s.deps.Graph.LinkSense(ctx, key, syn, best.Score, i); err != nil {
				s.log.Warn("map.graph_failed", "lemma", key, "synset", best.ID, "error", err)
			}
		}
	}
	return errors.Join(errs...)
}

// MapGloss returns the best reference sense for gloss among the k nearest
// senses with the same part of speech.
func (s *Stage) MapGloss(ctx context.Context, g domain.Gloss, pos domain.POS) (Scored, error) {
	vec, err := s.deps.Embedder.Embed(ctx, g.Text)
	if err != nil {
		return Scored{}, fmt.Errorf("embed: %w", err)
	}
	hits, err := s.deps.Index.KNN(ctx, vec, pos, s.cfg.K)
	if err != nil {
		return Scored{}, fmt.Errorf("knn: %w", err)
	}
	if len(hits) == 0 {
		return Scored{}, ErrNoCandidates
	}
	return Rank(hits, g.Category, s.cfg.Score)[0], nil
}
