package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/WessleyAI/anglish-lexicon/pkg/fn"
	"github.com/WessleyAI/anglish-lexicon/pkg/resilience"
)

// models is the part of genai.Models the client calls.
type models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	APIKey     string
	Model      string
	EmbedModel string
	EmbedDims  int
	// RPS and Burst smooth calls on top of the stage schedulers.
	RPS     float64
	Burst   int
	Retries    int
	RetryDelay time.Duration
	Breaker    resilience.BreakerOpts
}

// DefaultGeminiConfig holds the models the pipeline was tuned against.
var DefaultGeminiConfig = GeminiConfig{
	Model:      "gemini-2.5-flash",
	EmbedModel: "gemini-embedding-001",
	EmbedDims:  3072,
	RPS:        50,
	Burst:      50,
	Retries:    2,
	RetryDelay: time.Second,
	Breaker:    resilience.DefaultBreakerOpts,
}

// GeminiClient implements Completer and Embedder over the genai SDK.
type GeminiClient struct {
	models  models
	cfg     GeminiConfig
	limiter *rate.Limiter
	breaker *resilience.Breaker
	log     *slog.Logger
}

var (
	errEmptyResponse = errors.New("gemini: empty response")
)

// NewGemini creates a client. An empty APIKey lets the SDK read
// GEMINI_API_KEY / GOOGLE_API_KEY from the environment.
func NewGemini(ctx context.Context, cfg GeminiConfig, log *slog.Logger) (*GeminiClient, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return newGemini(cli.Models, cfg, log), nil
}

func newGemini(m models, cfg GeminiConfig, log *slog.Logger) *GeminiClient {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiConfig.Model
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = DefaultGeminiConfig.EmbedModel
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultGeminiConfig.RetryDelay
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	bopts := cfg.Breaker
	bopts.Counts = transient
	bopts.OnStateChange = func(from, to resilience.State) {
		log.Warn("gemini.breaker", "from", from.String(), "to", to.String())
	}
	return &GeminiClient{
		models:  m,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		breaker: resilience.NewBreaker(bopts),
		log:     log,
	}
}

// Complete runs a JSON-mode generation.
func (g *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	conf := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   req.Schema.genai(),
		Temperature:      ptr[float32](0),
	}
	if req.System != "" {
		conf.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: req.User}}}}

	return invoke(g, ctx, "complete", func(ctx context.Context) (string, error) {
		resp, err := g.models.GenerateContent(ctx, g.cfg.Model, contents, conf)
		if err != nil {
			return "", err
		}
		if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			return "", errEmptyResponse
		}
		var b strings.Builder
		for _, p := range resp.Candidates[0].Content.Parts {
			b.WriteString(p.Text)
		}
		return b.String(), nil
	})
}

// Embed returns the embedding of text.
func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	conf := &genai.EmbedContentConfig{}
	if g.cfg.EmbedDims > 0 {
		conf.OutputDimensionality = ptr(int32(g.cfg.EmbedDims))
	}
	contents := []*genai.Content{{Parts: []*genai.Part{{Text: text}}}}
	return invoke(g, ctx, "embed", func(ctx context.Context) ([]float32, error) {
		resp, err := g.models.EmbedContent(ctx, g.cfg.EmbedModel, contents, conf)
		if err != nil {
			return nil, err
		}
		if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
			return nil, errEmptyResponse
		}
		return resp.Embeddings[0].Values, nil
	})
}

// invoke applies rate limiting, the breaker and transient retries to f.
func invoke[T any](g *GeminiClient, ctx context.Context, op string, f func(context.Context) (T, error)) (T, error) {
	res := fn.Retry(ctx, fn.RetryOpts{
		Retries:   g.cfg.Retries,
		BaseDelay: g.cfg.RetryDelay,
		Retryable: transient,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			g.log.Debug("gemini.retry", "op", op, "attempt", attempt, "wait", wait, "error", err)
		},
	}, func(ctx context.Context) fn.Result[T] {
		if err := g.limiter.Wait(ctx); err != nil {
			return fn.Err[T](err)
		}
		return resilience.CallResult(g.breaker, ctx, func(ctx context.Context) fn.Result[T] {
			return fn.FromPair(f(ctx))
		})
	})
	return res.Unwrap()
}

// transient reports provider-side failures worth retrying and counting
// against the breaker: quota, overload and server errors.
func transient(err error) bool {
	if err == nil || errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errEmptyResponse) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"RESOURCE_EXHAUSTED", "UNAVAILABLE", "INTERNAL", "Error 429", "Error 500", "Error 503"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
