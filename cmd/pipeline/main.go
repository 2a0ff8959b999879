// Command pipeline runs one stage of the Anglish lexicon ingestion pipeline
// or one of the reference-lexicon preparation steps.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"

	"github.com/WessleyAI/anglish-lexicon/engine/fetch"
	"github.com/WessleyAI/anglish-lexicon/engine/graph"
	"github.com/WessleyAI/anglish-lexicon/engine/lexicon"
	"github.com/WessleyAI/anglish-lexicon/engine/llm"
	"github.com/WessleyAI/anglish-lexicon/engine/mapping"
	"github.com/WessleyAI/anglish-lexicon/engine/merge"
	"github.com/WessleyAI/anglish-lexicon/engine/normalize"
	"github.com/WessleyAI/anglish-lexicon/engine/parse"
	"github.com/WessleyAI/anglish-lexicon/engine/pipeline"
	"github.com/WessleyAI/anglish-lexicon/engine/postnorm"
	"github.com/WessleyAI/anglish-lexicon/engine/semantic"
	"github.com/WessleyAI/anglish-lexicon/engine/sink"
	"github.com/WessleyAI/anglish-lexicon/engine/sources"
	"github.com/WessleyAI/anglish-lexicon/pkg/metrics"
	"github.com/WessleyAI/anglish-lexicon/pkg/mid"
	"github.com/WessleyAI/anglish-lexicon/pkg/natsutil"
	"github.com/WessleyAI/anglish-lexicon/pkg/ollama"
)

const (
	ollamaModel = "nomic-embed-text"
	ollamaDims  = 768
)

func main() {
	_ = godotenv.Load()

	cfg, err := parseConfig(os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("pipeline failed", "command", cfg.Command, "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, log *slog.Logger) error {
	met := metrics.New()
	if cfg.MetricsPort > 0 {
		met.ServeAsync(ctx, cfg.MetricsPort, cfg.Command, log)
	}
	a := &app{cfg: cfg, log: log}
	defer a.close()

	var (
		nc     *nats.Conn
		events natsutil.Publisher
	)
	if cfg.NATSURL != "" {
		var err error
		nc, err = nats.Connect(cfg.NATSURL, nats.Name("anglish-pipeline"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		a.onClose(nc.Close)
		events = nc
		log.Info("connected to NATS", "url", cfg.NATSURL)
	}
	a.runner = pipeline.New(pipeline.Deps{Log: log, Metrics: met, Events: events})

	if cfg.Command == "events" {
		if nc == nil {
			return errors.New("events: NATS_URL is required")
		}
		return watchEvents(ctx, nc, log)
	}

	err := a.dispatch(ctx)
	if cfg.MetricsFile != "" {
		if werr := met.WriteTextfile(cfg.MetricsFile); werr != nil {
			log.Warn("metrics textfile failed", "path", cfg.MetricsFile, "error", werr)
		}
	}
	return err
}

// watchEvents logs stage completions published by other pipeline runs
// until ctx is done.
func watchEvents(ctx context.Context, nc *nats.Conn, log *slog.Logger) error {
	sub, err := natsutil.Subscribe(nc, natsutil.SubjectStageCompleted, func(_ context.Context, ev natsutil.StageCompleted) {
		log.Info("stage.completed", "stage", ev.Stage, "ok", ev.OK, "durationMs", ev.DurationMs, "error", ev.Error, "finishedAt", ev.FinishedAt)
	})
	if err != nil {
		return fmt.Errorf("events: subscribe: %w", err)
	}
	defer sub.Unsubscribe()
	log.Info("watching stage events", "subject", natsutil.SubjectStageCompleted)
	<-ctx.Done()
	return nil
}

// app lazily builds the collaborators a command needs and closes them in
// reverse order.
type app struct {
	cfg     Config
	log     *slog.Logger
	runner  *pipeline.Runner
	gemini  *llm.GeminiClient
	closers []func()
}

func (a *app) onClose(f func()) { a.closers = append(a.closers, f) }

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) dispatch(ctx context.Context) error {
	cfg, r := a.cfg, a.runner
	switch cfg.Command {
	case pipeline.StageFetch:
		return a.fetch(ctx)

	case pipeline.StageParse:
		reg := sources.Default(nil, a.log)
		rows, err := pipeline.Run(ctx, r, pipeline.StageParse, parse.New(cfg.DataRoot, reg.Parsers(), a.log).Run)
		for _, row := range rows {
			r.Records(pipeline.StageParse, "out", row.Records)
		}
		return err

	case pipeline.StageNormalize:
		c, err := a.completer(ctx)
		if err != nil {
			return err
		}
		reg := sources.Default(c, a.log)
		st := normalize.New(normalize.Config{DataRoot: cfg.DataRoot, Force: cfg.Force}, reg.Normalizers(), a.log)
		rows, err := pipeline.Run(ctx, r, pipeline.StageNormalize, st.Run)
		for _, row := range rows {
			r.Records(pipeline.StageNormalize, "in", row.RecordsIn)
			r.Records(pipeline.StageNormalize, "out", row.RecordsOut)
		}
		return err

	case pipeline.StageMerge:
		lex, err := lexicon.Load(ctx, cfg.LexiconDir)
		if err != nil {
			return err
		}
		st := merge.New(merge.Config{DataRoot: cfg.DataRoot, Force: cfg.Force}, lex, a.log)
		row, err := pipeline.Run(ctx, r, pipeline.StageMerge, st.Run)
		if row != nil {
			r.Records(pipeline.StageMerge, "in", row.RecordsIn)
			r.Records(pipeline.StageMerge, "out", row.RecordsOut)
		}
		return err

	case pipeline.StageNormalizePost:
		c, err := a.completer(ctx)
		if err != nil {
			return err
		}
		pcfg := postnorm.DefaultConfig
		pcfg.DataRoot, pcfg.Force = cfg.DataRoot, cfg.Force
		if lex, err := lexicon.Load(ctx, cfg.LexiconDir); err == nil {
			pcfg.Categories = lex.Categories
		} else {
			a.log.Warn("reference lexicon unavailable, using built-in categories", "dir", cfg.LexiconDir, "error", err)
		}
		st := postnorm.New(pcfg, c, a.log)
		st.OnFallback = r.Fallback
		row, err := pipeline.Run(ctx, r, pipeline.StageNormalizePost, st.Run)
		if row != nil {
			r.Records(pipeline.StageNormalizePost, "in", row.RecordsIn)
			r.Records(pipeline.StageNormalizePost, "out", row.RecordsOut)
		}
		return err

	case pipeline.StageMap:
		return a.mapSenses(ctx)

	case pipeline.StageLexiconConvert:
		if cfg.WordNetDir == "" {
			return errors.New("lexicon-convert: --wordnet is required")
		}
		_, err := pipeline.Run(ctx, r, pipeline.StageLexiconConvert, func(ctx context.Context) (int, error) {
			return lexicon.ConvertYAML(ctx, cfg.WordNetDir, cfg.LexiconDir)
		})
		return err

	case pipeline.StageLexiconEmbed:
		lex, err := lexicon.Load(ctx, cfg.LexiconDir)
		if err != nil {
			return err
		}
		emb, err := a.embedder(ctx)
		if err != nil {
			return err
		}
		out := filepath.Join(cfg.LexiconDir, lexicon.EmbeddingsFile)
		n, err := pipeline.Run(ctx, r, pipeline.StageLexiconEmbed, func(ctx context.Context) (int, error) {
			return lexicon.EmbedSynsets(ctx, lex, emb, out, lexicon.DefaultEmbedConfig, a.log)
		})
		r.Records(pipeline.StageLexiconEmbed, "out", n)
		return err

	case pipeline.StageLexiconLoad:
		idx, err := a.index(ctx, cfg.Force)
		if err != nil {
			return err
		}
		path := filepath.Join(cfg.LexiconDir, lexicon.EmbeddingsFile)
		n, err := pipeline.Run(ctx, r, pipeline.StageLexiconLoad, func(ctx context.Context) (int, error) {
			return idx.LoadEmbeddings(ctx, path)
		})
		r.Records(pipeline.StageLexiconLoad, "out", n)
		return err
	}
	return errUsage
}

func (a *app) fetch(ctx context.Context) error {
	cfg := a.cfg
	client := &http.Client{Transport: mid.Transport(nil,
		mid.OTel(),
		mid.UserAgent(cfg.UserAgent),
		mid.ClientLogger(a.log),
	)}
	fcfg := fetch.DefaultConfig
	fcfg.DataRoot, fcfg.Force = cfg.DataRoot, cfg.Force
	fcfg.Concurrency = cfg.FetchConcurrency
	if cfg.UserAgent != "" {
		fcfg.UserAgent = cfg.UserAgent
	}
	f := fetch.New(fcfg, client, a.log)
	f.OnRow = a.runner.FetchRow
	f.OnRetry = a.runner.FetchRetry

	_, err := pipeline.Run(ctx, a.runner, pipeline.StageFetch, func(ctx context.Context) ([]fetch.ManifestRow, error) {
		plans, err := sources.Default(nil, a.log).Plans(ctx, client, cfg.Sources...)
		if err != nil {
			return nil, err
		}
		return f.Run(ctx, plans)
	})
	return err
}

func (a *app) mapSenses(ctx context.Context) error {
	cfg := a.cfg
	emb, err := a.embedder(ctx)
	if err != nil {
		return err
	}
	idx, err := a.index(ctx, false)
	if err != nil {
		return err
	}
	store, err := sink.Open(cfg.DBDriver, cfg.DBDSN, a.log)
	if err != nil {
		return err
	}
	a.onClose(func() { store.Close() })
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	deps := mapping.Deps{Embedder: emb, Index: idx, Sink: store, Log: a.log}
	if cfg.Neo4jURL != "" {
		g, err := a.graph(ctx)
		if err != nil {
			return err
		}
		deps.Graph = g
	}
	mcfg := mapping.DefaultConfig
	mcfg.DataRoot, mcfg.Force = cfg.DataRoot, cfg.Force
	st := mapping.New(mcfg, deps)
	st.OnSense = a.runner.Sense

	row, err := pipeline.Run(ctx, a.runner, pipeline.StageMap, st.Run)
	if row != nil {
		a.runner.Records(pipeline.StageMap, "in", row.RecordsIn)
		a.runner.Records(pipeline.StageMap, "failed", row.RecordsFailed)
	}
	return err
}

func (a *app) geminiClient(ctx context.Context) (*llm.GeminiClient, error) {
	if a.gemini != nil {
		return a.gemini, nil
	}
	gc := llm.DefaultGeminiConfig
	if a.cfg.LLMModel != "" {
		gc.Model = a.cfg.LLMModel
	}
	if a.cfg.EmbedProvider == "gemini" && a.cfg.EmbedModel != "" {
		gc.EmbedModel = a.cfg.EmbedModel
	}
	if a.cfg.EmbedProvider == "gemini" && a.cfg.EmbedDims > 0 {
		gc.EmbedDims = a.cfg.EmbedDims
	}
	if a.cfg.LLMRPS > 0 {
		gc.RPS = a.cfg.LLMRPS
	}
	if a.cfg.LLMBurst > 0 {
		gc.Burst = a.cfg.LLMBurst
	}
	c, err := llm.NewGemini(ctx, gc, a.log)
	if err != nil {
		return nil, err
	}
	a.gemini = c
	return c, nil
}

func (a *app) completer(ctx context.Context) (llm.Completer, error) {
	return a.geminiClient(ctx)
}

// embedDims is the vector size of the configured embedding provider.
func (a *app) embedDims() int {
	switch {
	case a.cfg.EmbedDims > 0:
		return a.cfg.EmbedDims
	case a.cfg.EmbedProvider == "ollama":
		return ollamaDims
	}
	return llm.DefaultGeminiConfig.EmbedDims
}

// embedder returns the configured embedding provider behind the LRU and,
// when REDIS_URL is set, the shared Redis tier.
func (a *app) embedder(ctx context.Context) (llm.Embedder, error) {
	var (
		next  llm.Embedder
		model = a.cfg.EmbedModel
	)
	switch a.cfg.EmbedProvider {
	case "ollama":
		if model == "" {
			model = ollamaModel
		}
		next = ollama.NewEmbedClient(a.cfg.OllamaURL, model, &http.Client{Transport: mid.Transport(nil, mid.OTel())})
	default:
		g, err := a.geminiClient(ctx)
		if err != nil {
			return nil, err
		}
		if model == "" {
			model = llm.DefaultGeminiConfig.EmbedModel
		}
		next = g
	}

	// Vectors from different models must not share cache keys.
	opts := llm.CacheOpts{Prefix: "lexicon:emb:" + model + ":"}
	if a.cfg.RedisURL != "" {
		ro, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		rdb := redis.NewClient(ro)
		a.onClose(func() { rdb.Close() })
		opts.Redis = rdb
	}
	cached, err := llm.NewCachedEmbedder(next, opts, a.log)
	if err != nil {
		return nil, err
	}
	a.log.Info("embedder ready", "provider", a.cfg.EmbedProvider, "model", model, "dims", a.embedDims(), "redis", opts.Redis != nil)
	return cached, nil
}

// index connects to Qdrant and makes sure the synset collection exists.
// With reset it drops the collection first.
func (a *app) index(ctx context.Context, reset bool) (*semantic.SynsetIndex, error) {
	vs, err := semantic.New(a.cfg.QdrantAddr, a.cfg.QdrantCollection)
	if err != nil {
		return nil, err
	}
	a.onClose(func() { vs.Close() })
	dims := a.embedDims()
	idx := semantic.NewSynsetIndex(vs)
	if reset {
		if err := idx.Reset(ctx, dims); err != nil {
			return nil, err
		}
	} else if err := idx.EnsureIndex(ctx, dims); err != nil {
		return nil, err
	}
	a.log.Info("connected to Qdrant", "collection", a.cfg.QdrantCollection, "dims", dims, "reset", reset)
	return idx, nil
}

func (a *app) graph(ctx context.Context) (*graph.LexiconGraph, error) {
	driver, err := neo4j.NewDriverWithContext(a.cfg.Neo4jURL, neo4j.BasicAuth(a.cfg.Neo4jUser, a.cfg.Neo4jPass, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j connect: %w", err)
	}
	a.onClose(func() { driver.Close(context.Background()) })
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("neo4j verify: %w", err)
	}
	g := graph.New(driver)
	if err := g.EnsureConstraints(ctx); err != nil {
		return nil, err
	}
	a.log.Info("connected to Neo4j", "url", a.cfg.Neo4jURL)
	return g, nil
}
