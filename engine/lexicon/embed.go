package lexicon

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/WessleyAI/anglish-lexicon/engine/llm"
	"github.com/WessleyAI/anglish-lexicon/engine/semantic"
	"github.com/WessleyAI/anglish-lexicon/pkg/jsonl"
	"github.com/WessleyAI/anglish-lexicon/pkg/resilience"
)

// EmbeddingsFile is the file EmbedSynsets writes next to the lexicon.
const EmbeddingsFile = "synset_embeddings.jsonl"

// EmbedConfig bounds the embedding provider's load.
type EmbedConfig struct {
	Concurrency   int
	RatePerMinute int
}

// DefaultEmbedConfig stays under the provider's embedding quota.
var DefaultEmbedConfig = EmbedConfig{Concurrency: 30, RatePerMinute: 4500}

// EmbedSynsets embeds each synset's first definition and writes one
// semantic.SynsetEmbedding per line to out. Lines are in completion order.
// Individual failures are logged; the returned error reports how many failed.
func EmbedSynsets(ctx context.Context, lex *Lexicon, emb llm.Embedder, out string, cfg EmbedConfig, log *slog.Logger) (int, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultEmbedConfig.Concurrency
	}
	if log == nil {
		log = slog.Default()
	}
	w, err := jsonl.Create(out)
	if err != nil {
		return 0, fmt.Errorf("lexicon: embed: %w", err)
	}

	ids := lex.Synsets()
	log.Info("lexicon.embed.start", "synsets", len(ids), "out", out)
	sched := resilience.NewScheduler(resilience.SchedulerOpts{Concurrency: cfg.Concurrency, Rate: cfg.RatePerMinute})
	var failed atomic.Int64
	resilience.MapOrdered(ctx, sched, ids, func(ctx context.Context, id string) (struct{}, error) {
		s := lex.synsets[id]
		gloss := s.Gloss()
		if gloss == "" {
			log.Warn("lexicon.embed.skip", "synset", id, "reason", "no definition")
			return struct{}{}, nil
		}
		vec, err := emb.Embed(ctx, gloss)
		if err == nil {
			err = w.Write(semantic.SynsetEmbedding{
				ID:        id,
				Headword:  s.Headword(),
				POS:       s.PartOfSpeech,
				Category:  s.Category,
				Embedding: vec,
			})
		}
		if err != nil {
			failed.Add(1)
			log.Error("lexicon.embed.failed", "synset", id, "error", err)
		}
		return struct{}{}, err
	})
	if err := w.Close(); err != nil {
		return w.Count(), fmt.Errorf("lexicon: embed: %w", err)
	}
	log.Info("lexicon.embed.done", "written", w.Count(), "failed", failed.Load())
	if err := ctx.Err(); err != nil {
		return w.Count(), err
	}
	if n := failed.Load(); n > 0 {
		return w.Count(), fmt.Errorf("lexicon: embed: %d of %d synsets failed", n, len(ids))
	}
	return w.Count(), nil
}
