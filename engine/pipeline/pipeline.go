// Package pipeline runs the ingestion stages. Every run is logged on entry
// and exit, traced, timed into the metrics registry and, when an event
// publisher is configured, announced on NATS.
package pipeline

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/WessleyAI/anglish-lexicon/engine/fetch"
	"github.com/WessleyAI/anglish-lexicon/engine/mapping"
	"github.com/WessleyAI/anglish-lexicon/pkg/fn"
	"github.com/WessleyAI/anglish-lexicon/pkg/metrics"
	"github.com/WessleyAI/anglish-lexicon/pkg/natsutil"
)

// Stage names, as used in logs, metrics and events.
const (
	StageFetch          = "fetch"
	StageParse          = "parse"
	StageNormalize      = "normalize"
	StageMerge          = "merge"
	StageNormalizePost  = "normalize-post"
	StageMap            = "map"
	StageLexiconConvert = "lexicon-convert"
	StageLexiconEmbed   = "lexicon-embed"
	StageLexiconLoad    = "lexicon-load"
)

// Deps are the runner's collaborators. Metrics defaults to a fresh
// registry; a nil Events disables stage events.
type Deps struct {
	Log     *slog.Logger
	Metrics *metrics.Registry
	Events  natsutil.Publisher
}

// Runner wraps stage runs.
type Runner struct {
	log     *slog.Logger
	metrics *metrics.Registry
	events  natsutil.Publisher
	now     func() time.Time
}

// New creates a Runner.
func New(deps Deps) *Runner {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Runner{log: deps.Log, metrics: deps.Metrics, events: deps.Events, now: time.Now}
}

// Metrics returns the registry the runner records into.
func (r *Runner) Metrics() *metrics.Registry { return r.metrics }

// Run executes f as the named stage.
func Run[T any](ctx context.Context, r *Runner, name string, f func(context.Context) (T, error)) (T, error) {
	stage := fn.TracedStage("pipeline."+name, fn.StageFunc(func(ctx context.Context, _ struct{}) (T, error) {
		return f(ctx)
	}), attribute.String("stage", name))

	r.log.Info("stage.enter", "stage", name)
	start := r.now()
	v, err := stage(ctx, struct{}{}).Unwrap()
	elapsed := r.now().Sub(start)

	status := "ok"
	if err != nil {
		status = "error"
		r.log.Error("stage.exit", "stage", name, "duration", elapsed, "error", err)
	} else {
		r.log.Info("stage.exit", "stage", name, "duration", elapsed)
	}
	r.metrics.Histogram(metrics.WithLabels("pipeline_stage_duration_seconds", "stage", name),
		"Stage run duration.", metrics.DefaultBuckets).Observe(elapsed.Seconds())
	r.metrics.Counter(metrics.WithLabels("pipeline_stage_runs_total", "stage", name, "status", status),
		"Stage runs by outcome.").Inc()

	r.publish(ctx, name, elapsed, err)
	return v, err
}

func (r *Runner) publish(ctx context.Context, name string, elapsed time.Duration, err error) {
	if r.events == nil {
		return
	}
	ev := natsutil.StageCompleted{
		Stage:      name,
		OK:         err == nil,
		DurationMs: elapsed.Milliseconds(),
		FinishedAt: r.now().UTC().Format(time.RFC3339Nano),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if perr := natsutil.Publish(ctx, r.events, natsutil.SubjectStageCompleted, ev); perr != nil {
		r.log.Warn("pipeline.event_failed", "stage", name, "error", perr)
	}
}

// Records counts records flowing through a stage. kind is "in", "out" or
// "failed".
func (r *Runner) Records(stage, kind string, n int) {
	r.metrics.Counter(metrics.WithLabels("pipeline_records_total", "stage", stage, "kind", kind),
		"Records seen per stage.").Add(int64(n))
}

// FetchRow observes one fetch manifest row.
func (r *Runner) FetchRow(row fetch.ManifestRow) {
	status := "ok"
	switch {
	case !row.OK:
		status = "failed"
	case row.CacheHit:
		status = "cached"
	}
	r.metrics.Counter(metrics.WithLabels("pipeline_fetch_jobs_total", "source", row.Source, "status", status),
		"Fetch jobs by outcome.").Inc()
	if row.OK && !row.CacheHit {
		r.metrics.Counter(metrics.WithLabels("pipeline_fetch_bytes_total", "source", row.Source),
			"Bytes written to the raw store.").Add(row.Bytes)
	}
}

// FetchRetry observes one retried fetch attempt.
func (r *Runner) FetchRetry(job fetch.Job, attempt int, _ error) {
	r.metrics.Counter(metrics.WithLabels("pipeline_fetch_retries_total", "source", job.Source, "attempt", strconv.Itoa(attempt)),
		"Fetch retries.").Inc()
}

// Fallback observes a degraded LLM enrichment.
func (r *Runner) Fallback(kind string) {
	r.metrics.Counter(metrics.WithLabels("pipeline_llm_fallbacks_total", "kind", kind),
		"LLM extractions that fell back.").Inc()
}

// Sense observes one mapped sense.
func (r *Runner) Sense(m mapping.MappedSense) {
	r.metrics.Counter(metrics.WithLabels("pipeline_senses_mapped_total", "pos", string(m.POS),
		"category_match", strconv.FormatBool(m.Match.CategoryMatch)),
		"Senses mapped onto the reference lexicon.").Inc()
	r.metrics.Histogram("pipeline_sense_score", "Adjusted score of the chosen reference sense.",
		[]float64{-0.1, 0, 0.05, 0.1, 0.2, 0.4, 0.6, 0.8, 1}).Observe(m.Match.Score)
}
