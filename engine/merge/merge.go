// Package merge collapses normalized records into one record per new
// (lemma, pos) pair, dropping pairs the reference lexicon already has.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
	"github.com/WessleyAI/anglish-lexicon/engine/layout"
	"github.com/WessleyAI/anglish-lexicon/engine/normalize"
	"github.com/WessleyAI/anglish-lexicon/pkg/fn"
	"github.com/WessleyAI/anglish-lexicon/pkg/jsonl"
)

// OutputFile is the merged output under 04_merge/out.
const OutputFile = "merged_records.jsonl"

// Lexicon answers whether the reference lexicon has a (lemma, pos) entry.
type Lexicon interface {
	Has(lemma string, pos domain.POS) bool
}

// MetaPolicy decides which record's value survives a metadata key clash.
type MetaPolicy int

const (
	LastWins MetaPolicy = iota
	FirstWins
)

// ManifestRow records one merge run.
type ManifestRow struct {
	ID         string `json:"id"`
	InputPath  string `json:"inputPath"`
	OutputPath string `json:"outputPath"`
	RecordsIn  int    `json:"recordsIn"`
	RecordsOut int    `json:"recordsOut"`
	MergedAt   string `json:"mergedAt"`
}

// Config controls the merge stage.
type Config struct {
	DataRoot   string
	Force      bool
	MetaPolicy MetaPolicy
}

// Stage runs the merge stage.
type Stage struct {
	cfg Config
	lex Lexicon
	log *slog.Logger
	now func() time.Time
}

// New creates a merge stage.
func New(cfg Config, lex Lexicon, log *slog.Logger) *Stage {
	if log == nil {
		log = slog.Default()
	}
	return &Stage{cfg: cfg, lex: lex, log: log, now: time.Now}
}

// Run merges every normalized record. It is skipped when its manifest exists
// and Force is not set.
func (s *Stage) Run(ctx context.Context) (*ManifestRow, error) {
	manifestPath := layout.Manifest(s.cfg.DataRoot, layout.Merge)
	if jsonl.Exists(manifestPath) && !s.cfg.Force {
		s.log.Info("merge.skip", "reason", "manifest exists", "manifest", manifestPath)
		return nil, nil
	}
	records, _, err := normalize.Load(s.cfg.DataRoot)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mergedAt := s.now().UTC().Format(time.RFC3339Nano)
	merged := Merge(records, s.lex, s.cfg.MetaPolicy, mergedAt, s.log)

	outPath := filepath.Join(layout.Out(s.cfg.DataRoot, layout.Merge), OutputFile)
	if err := jsonl.WriteAll(outPath, merged); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	row := &ManifestRow{
		ID:         "merge:" + mergedAt,
		InputPath:  layout.Out(s.cfg.DataRoot, layout.Normalize),
		OutputPath: outPath,
		RecordsIn:  len(records),
		RecordsOut: len(merged),
		MergedAt:   mergedAt,
	}
	if err := jsonl.WriteAll(manifestPath, []ManifestRow{*row}); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	s.log.Info("merge.done", "in", row.RecordsIn, "out", row.RecordsOut)
	return row, nil
}

// Merge groups records by (lemma, pos) in first-seen order. Records already
// in the lexicon or without glosses are dropped before grouping.
func Merge(records []domain.NormalizedRecord, lex Lexicon, policy MetaPolicy, mergedAt string, log *slog.Logger) []domain.MergedRecord {
	if log == nil {
		log = slog.Default()
	}
	kept := fn.Filter(records, func(r domain.NormalizedRecord) bool {
		if lex != nil && lex.Has(r.Lemma, r.POS) {
			return false
		}
		if len(r.Glosses) == 0 {
			log.Debug("merge.no_glosses", "lemma", r.Lemma, "pos", r.POS, "source", r.Source)
			return false
		}
		return true
	})
	keys, groups := fn.GroupOrdered(kept, func(r domain.NormalizedRecord) string { return domain.LexKey(r.Lemma, r.POS) })

	out := make([]domain.MergedRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, mergeGroup(groups[k], policy, mergedAt))
	}
	return out
}

func mergeGroup(group []domain.NormalizedRecord, policy MetaPolicy, mergedAt string) domain.MergedRecord {
	var glosses, sources []string
	var origins []domain.WordOrigin
	meta := domain.Meta{}
	for _, r := range group {
		glosses = append(glosses, r.Glosses...)
		origins = append(origins, r.Origins...)
		if r.Source != "" {
			sources = append(sources, r.Source)
		}
		for k, v := range r.Meta {
			if k == "normalizedAt" {
				continue
			}
			if _, exists := meta[k]; exists && policy == FirstWins {
				continue
			}
			meta[k] = v
		}
	}
	meta["mergedAt"] = mergedAt

	origins = fn.UniqueBy(origins, domain.WordOrigin.Key)
	if origins == nil {
		origins = []domain.WordOrigin{}
	}
	return domain.MergedRecord{
		V:       domain.RecordVersion,
		Lemma:   group[0].Lemma,
		POS:     group[0].POS,
		Glosses: fn.SortedSet(glosses),
		Origins: origins,
		Sources: fn.SortedSet(sources),
		Meta:    meta,
	}
}
