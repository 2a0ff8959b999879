package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/WessleyAI/anglish-lexicon/engine/layout"
	"github.com/WessleyAI/anglish-lexicon/pkg/fn"
	"github.com/WessleyAI/anglish-lexicon/pkg/jsonl"
	"github.com/WessleyAI/anglish-lexicon/pkg/mid"
	"github.com/WessleyAI/anglish-lexicon/pkg/resilience"
)

// Config controls the fetch stage.
type Config struct {
	DataRoot    string
	Concurrency int
	// RatePerMinute caps job starts; zero is unlimited.
	RatePerMinute int
	Timeout       time.Duration
	Retries       int
	BaseDelay     time.Duration
	UserAgent     string
	Force         bool
}

// DefaultConfig mirrors the CLI defaults.
var DefaultConfig = Config{
	Concurrency: 8,
	Timeout:     30 * time.Second,
	Retries:     4,
	BaseDelay:   750 * time.Millisecond,
	UserAgent:   "anglish-pipeline/0.1 (+local dev)",
}

// Fetcher runs the fetch stage.
type Fetcher struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
	now    func() time.Time

	// OnRow, when set, observes every manifest row (metrics).
	OnRow func(ManifestRow)
	// OnRetry, when set, observes every retry.
	OnRetry func(job Job, attempt int, err error)
}

// New creates a Fetcher. A nil client gets a traced, logging transport.
func New(cfg Config, client *http.Client, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultConfig.UserAgent
	}
	if client == nil {
		client = &http.Client{Transport: mid.Transport(nil, mid.OTel(), mid.ClientLogger(log))}
	}
	return &Fetcher{cfg: cfg, client: client, log: log, now: time.Now}
}

func (f *Fetcher) rawDir() string { return layout.Raw(f.cfg.DataRoot, layout.Fetch) }

// Run fetches every job of every plan and appends one manifest row per job.
// Per-job failures become ok:false rows; only setup failures and
// cancellation are returned as errors.
func (f *Fetcher) Run(ctx context.Context, plans []Plan) ([]ManifestRow, error) {
	if err := os.MkdirAll(f.rawDir(), 0o755); err != nil {
		return nil, fmt.Errorf("fetch: mkdir raw: %w", err)
	}
	if err := os.MkdirAll(layout.Out(f.cfg.DataRoot, layout.Fetch), 0o755); err != nil {
		return nil, fmt.Errorf("fetch: mkdir out: %w", err)
	}
	manifest, err := jsonl.Append(layout.Manifest(f.cfg.DataRoot, layout.Fetch))
	if err != nil {
		return nil, fmt.Errorf("fetch: open manifest: %w", err)
	}
	defer manifest.Close()

	jobs := fn.FlatMap(plans, func(p Plan) []Job { return p.Jobs })
	f.log.Info("fetch.start", "plans", len(plans), "jobs", len(jobs), "concurrency", f.cfg.Concurrency)

	sched := resilience.NewScheduler(resilience.SchedulerOpts{
		Concurrency: f.cfg.Concurrency,
		Rate:        f.cfg.RatePerMinute,
	})
	results := resilience.MapOrdered(ctx, sched, jobs, func(ctx context.Context, job Job) (ManifestRow, error) {
		row := f.fetchJob(ctx, job)
		if err := manifest.Write(row); err != nil {
			return row, fmt.Errorf("fetch: append manifest: %w", err)
		}
		if f.OnRow != nil {
			f.OnRow(row)
		}
		return row, nil
	})

	rows, errs := fn.Partition(results)
	if err := ctx.Err(); err != nil {
		return rows, err
	}
	if len(errs) > 0 {
		return rows, errors.Join(errs...)
	}
	ok := len(fn.Filter(rows, func(r ManifestRow) bool { return r.OK }))
	f.log.Info("fetch.done", "ok", ok, "failed", len(rows)-ok)
	return rows, nil
}

// artifact is a fetched body staged on disk or in memory.
type artifact struct {
	id          string
	status      int
	contentType string
	bytes       int64
	body        []byte // non-stream
	tmpPath     string // stream
}

func (f *Fetcher) fetchJob(ctx context.Context, job Job) ManifestRow {
	method := job.method()
	reqID := RequestID(method, job.URL, job.Body)
	start := f.now()
	row := ManifestRow{
		RequestID: reqID,
		Source:    job.Source,
		Kind:      job.Kind,
		URL:       job.URL,
		Stream:    job.Stream,
		JobMeta:   job.Meta,
	}

	res := fn.Retry(ctx, fn.RetryOpts{
		Retries:   f.cfg.Retries,
		BaseDelay: f.cfg.BaseDelay,
		Retryable: Retryable,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			f.log.Warn("fetch.retry", "source", job.Source, "url", job.URL, "attempt", attempt, "wait", wait, "error", err)
			if f.OnRetry != nil {
				f.OnRetry(job, attempt, err)
			}
		},
	}, func(ctx context.Context) fn.Result[artifact] {
		return fn.FromPair(f.attempt(ctx, job, reqID))
	})

	row.FetchedAt = f.now().UTC().Format(time.RFC3339Nano)
	art, err := res.Unwrap()
	if err == nil {
		row.Status = art.status
		err = f.store(job, reqID, start, &art, &row)
	}
	if err != nil {
		row.ID = reqID
		row.OK = false
		row.CacheHit = false
		row.RawPath = ""
		row.Bytes = 0
		row.Error = err.Error()
		var he *HTTPError
		if errors.As(err, &he) {
			row.Status = he.StatusCode
		}
		f.log.Error("fetch.failed", "source", job.Source, "url", job.URL, "error", err)
	}
	return row
}

// attempt performs one HTTP exchange. Buffered jobs run under a per-job
// timeout; streamed jobs are bounded only by ctx.
func (f *Fetcher) attempt(ctx context.Context, job Job, reqID string) (artifact, error) {
	if !job.Stream {
		timeout := f.cfg.Timeout
		if job.TimeoutMs > 0 {
			timeout = time.Duration(job.TimeoutMs) * time.Millisecond
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body io.Reader
	if job.Body != "" {
		body = strings.NewReader(job.Body)
	}
	req, err := http.NewRequestWithContext(mid.WithSource(ctx, job.Source), job.method(), job.URL, body)
	if err != nil {
		return artifact{}, fmt.Errorf("build request: %w", err)
	}
	for k, v := range f.headers(job) {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return artifact{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return artifact{}, newHTTPError(resp.StatusCode, resp.Status)
	}

	art := artifact{status: resp.StatusCode, contentType: resp.Header.Get("Content-Type")}
	if !job.Stream {
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return artifact{}, err
		}
		art.body = b
		art.bytes = int64(len(b))
		art.id = ContentID(job.Kind, b)
		return art, nil
	}

	art.tmpPath = filepath.Join(f.rawDir(), job.Source+"."+reqID+".tmp")
	out, err := os.Create(art.tmpPath)
	if err != nil {
		return artifact{}, err
	}
	h := sha256.New()
	pw := &progressWriter{log: f.log, job: job, every: time.Second, now: f.now}
	n, err := io.Copy(io.MultiWriter(out, h, pw), resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(art.tmpPath)
		return artifact{}, err
	}
	art.bytes = n
	art.id = hashID(h)
	return art, nil
}

// headers merges the user agent with the job's own headers.
func (f *Fetcher) headers(job Job) map[string]string {
	h := map[string]string{"user-agent": f.cfg.UserAgent}
	for k, v := range job.Headers {
		h[k] = v
	}
	return h
}

// store moves the artifact into place unless it is already cached.
func (f *Fetcher) store(job Job, reqID string, start time.Time, art *artifact, row *ManifestRow) error {
	base := job.Source + "." + art.id
	rawPath := filepath.Join(f.rawDir(), base+job.Kind.Ext())
	cached := fileExists(rawPath)
	write := !cached || f.cfg.Force

	if art.tmpPath != "" {
		if write {
			if err := os.Rename(art.tmpPath, rawPath); err != nil {
				os.Remove(art.tmpPath)
				return fmt.Errorf("place artifact: %w", err)
			}
		} else {
			os.Remove(art.tmpPath)
		}
	} else if write {
		if err := writeAtomic(rawPath, art.body); err != nil {
			return fmt.Errorf("write artifact: %w", err)
		}
	}

	if write {
		meta := Metadata{
			ID:          art.id,
			RequestID:   reqID,
			Source:      job.Source,
			Kind:        job.Kind,
			URL:         job.URL,
			Status:      art.status,
			ContentType: art.contentType,
			Bytes:       art.bytes,
			FetchedAt:   row.FetchedAt,
			ElapsedMs:   f.now().Sub(start).Milliseconds(),
			Request:     RequestMeta{Method: job.method(), Headers: f.headers(job)},
		}
		b, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return err
		}
		if err := writeAtomic(filepath.Join(f.rawDir(), base+".meta.json"), b); err != nil {
			return fmt.Errorf("write metadata: %w", err)
		}
	}

	row.ID = art.id
	row.OK = true
	row.Bytes = art.bytes
	row.CacheHit = cached && !f.cfg.Force
	row.RawPath = rawPath
	f.log.Debug("fetch.stored", "source", job.Source, "id", art.id, "cacheHit", row.CacheHit, "bytes", art.bytes)
	return nil
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

func writeAtomic(path string, b []byte) error {
	tmp := path + ".part"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// progressWriter logs streamed byte counts at most once per interval.
type progressWriter struct {
	log   *slog.Logger
	job   Job
	every time.Duration
	now   func() time.Time
	n     atomic.Int64
	last  time.Time
}

func (p *progressWriter) Write(b []byte) (int, error) {
	total := p.n.Add(int64(len(b)))
	if t := p.now(); t.Sub(p.last) >= p.every {
		p.last = t
		p.log.Info("fetch.progress", "source", p.job.Source, "url", p.job.URL, "bytes", total)
	}
	return len(b), nil
}
