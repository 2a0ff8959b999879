package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
)

var commands = []string{
	"fetch", "parse", "normalize", "merge", "normalize-post", "map",
	"lexicon-convert", "lexicon-embed", "lexicon-load", "events",
}

var errUsage = errors.New("usage: pipeline <" + strings.Join(commands, "|") + "> [flags]")

// Config holds every setting. Each has an environment variable, which a
// flag of the same meaning overrides.
type Config struct {
	Command string

	DataRoot   string
	LexiconDir string
	WordNetDir string
	Sources    []string

	LLMModel      string
	LLMRPS        float64
	LLMBurst      int
	EmbedProvider string
	EmbedModel    string
	EmbedDims     int
	OllamaURL     string
	RedisURL      string

	QdrantAddr       string
	QdrantCollection string
	DBDriver         string
	DBDSN            string
	Neo4jURL         string
	Neo4jUser        string
	Neo4jPass        string
	NATSURL          string

	FetchConcurrency int
	UserAgent        string

	MetricsPort int
	MetricsFile string

	Force   bool
	Verbose bool
}

type env func(string) string

func (e env) str(key, def string) string {
	if v := strings.TrimSpace(e(key)); v != "" {
		return v
	}
	return def
}

func (e env) int(key string, def int, errs *[]error) int {
	v := strings.TrimSpace(e(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e env) float(key string, def float64, errs *[]error) float64 {
	v := strings.TrimSpace(e(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

// parseConfig reads the command name from args[0], then environment
// defaults, then the remaining args as flags.
func parseConfig(args []string, getenv func(string) string, stderr io.Writer) (Config, error) {
	if len(args) == 0 || !slices.Contains(commands, args[0]) {
		return Config{}, errUsage
	}
	e := env(getenv)
	var errs []error
	cfg := Config{
		Command:          args[0],
		DataRoot:         e.str("DATA_ROOT", "data"),
		LexiconDir:       e.str("LEXICON_DIR", "data/lexicon"),
		WordNetDir:       e.str("WORDNET_DIR", ""),
		LLMModel:         e.str("LLM_MODEL", ""),
		LLMRPS:           e.float("LLM_RPS", 0, &errs),
		LLMBurst:         e.int("LLM_BURST", 0, &errs),
		EmbedProvider:    e.str("EMBED_PROVIDER", "gemini"),
		EmbedModel:       e.str("EMBED_MODEL", ""),
		EmbedDims:        e.int("EMBED_DIMS", 0, &errs),
		OllamaURL:        e.str("OLLAMA_URL", "http://localhost:11434"),
		RedisURL:         e.str("REDIS_URL", ""),
		QdrantAddr:       e.str("QDRANT_ADDR", "localhost:6334"),
		QdrantCollection: e.str("QDRANT_COLLECTION", "synsets"),
		DBDriver:         e.str("DB_DRIVER", "sqlite"),
		DBDSN:            e.str("DB_DSN", "data/lexicon.db"),
		Neo4jURL:         e.str("NEO4J_URL", ""),
		Neo4jUser:        e.str("NEO4J_USER", "neo4j"),
		Neo4jPass:        e.str("NEO4J_PASS", ""),
		NATSURL:          e.str("NATS_URL", ""),
		FetchConcurrency: e.int("FETCH_CONCURRENCY", 8, &errs),
		UserAgent:        e.str("USER_AGENT", ""),
		MetricsPort:      e.int("METRICS_PORT", 0, &errs),
		MetricsFile:      e.str("METRICS_FILE", ""),
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}

	fs := flag.NewFlagSet("pipeline "+cfg.Command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var sources string
	fs.StringVar(&cfg.DataRoot, "data", cfg.DataRoot, "data root holding the stage directories")
	fs.StringVar(&cfg.LexiconDir, "lexicon", cfg.LexiconDir, "reference lexicon directory (JSON layout)")
	fs.StringVar(&cfg.WordNetDir, "wordnet", cfg.WordNetDir, "English WordNet YAML checkout (lexicon-convert)")
	fs.StringVar(&sources, "sources", "", "comma-separated sources to fetch (default all)")
	fs.StringVar(&cfg.LLMModel, "llm-model", cfg.LLMModel, "completion model")
	fs.Float64Var(&cfg.LLMRPS, "llm-rps", cfg.LLMRPS, "provider requests per second")
	fs.IntVar(&cfg.LLMBurst, "llm-burst", cfg.LLMBurst, "provider burst")
	fs.StringVar(&cfg.EmbedProvider, "embed-provider", cfg.EmbedProvider, "gemini or ollama")
	fs.StringVar(&cfg.EmbedModel, "embed-model", cfg.EmbedModel, "embedding model")
	fs.IntVar(&cfg.EmbedDims, "embed-dims", cfg.EmbedDims, "embedding dimensions")
	fs.StringVar(&cfg.OllamaURL, "ollama", cfg.OllamaURL, "Ollama base URL")
	fs.StringVar(&cfg.RedisURL, "redis", cfg.RedisURL, "Redis URL for the shared embedding cache")
	fs.StringVar(&cfg.QdrantAddr, "qdrant", cfg.QdrantAddr, "Qdrant gRPC address")
	fs.StringVar(&cfg.QdrantCollection, "collection", cfg.QdrantCollection, "Qdrant collection name")
	fs.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "postgres or sqlite")
	fs.StringVar(&cfg.DBDSN, "db", cfg.DBDSN, "database DSN")
	fs.StringVar(&cfg.Neo4jURL, "neo4j", cfg.Neo4jURL, "Neo4j bolt URL (empty disables the graph mirror)")
	fs.StringVar(&cfg.Neo4jUser, "neo4j-user", cfg.Neo4jUser, "Neo4j username")
	fs.StringVar(&cfg.Neo4jPass, "neo4j-pass", cfg.Neo4jPass, "Neo4j password")
	fs.StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS URL (empty disables stage events)")
	fs.IntVar(&cfg.FetchConcurrency, "concurrency", cfg.FetchConcurrency, "parallel fetch jobs")
	fs.StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "User-Agent for fetches")
	fs.IntVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "serve /metrics on this port (0 disables)")
	fs.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "write a textfile-collector snapshot here on exit")
	fs.BoolVar(&cfg.Force, "force", false, "rerun a stage whose output exists; lexicon-load drops the synset collection first")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "debug logging")
	if err := fs.Parse(args[1:]); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	for _, s := range strings.Split(sources, ",") {
		if s = strings.TrimSpace(s); s != "" {
			cfg.Sources = append(cfg.Sources, s)
		}
	}
	switch cfg.EmbedProvider {
	case "gemini", "ollama":
	default:
		return Config{}, fmt.Errorf("unknown embed provider %q", cfg.EmbedProvider)
	}
	return cfg, nil
}
