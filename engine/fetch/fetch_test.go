package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/WessleyAI/anglish-lexicon/engine/layout"
	"github.com/WessleyAI/anglish-lexicon/pkg/jsonl"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testFetcher(root string, mutate func(*Config)) *Fetcher {
	cfg := DefaultConfig
	cfg.DataRoot = root
	cfg.BaseDelay = time.Millisecond
	cfg.Retries = 3
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, nil, quietLogger())
}

type countingServer struct {
	mu    sync.Mutex
	calls map[string]int
	srv   *httptest.Server
}

func newCountingServer(t *testing.T, h func(path string, call int, w http.ResponseWriter, r *http.Request)) *countingServer {
	cs := &countingServer{calls: map[string]int{}}
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.mu.Lock()
		cs.calls[r.URL.Path]++
		n := cs.calls[r.URL.Path]
		cs.mu.Unlock()
		h(r.URL.Path, n, w, r)
	}))
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *countingServer) count(path string) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.calls[path]
}

func TestRetryThenSucceedAndExhaust(t *testing.T) {
	cs := newCountingServer(t, func(path string, call int, w http.ResponseWriter, r *http.Request) {
		if path == "/flaky" && call > 3 {
			io.WriteString(w, "hello")
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	f := testFetcher(t.TempDir(), nil)
	rows, err := f.Run(context.Background(), []Plan{{Source: "s", Jobs: []Job{
		{Source: "s", Kind: KindText, URL: cs.srv.URL + "/flaky"},
		{Source: "s", Kind: KindText, URL: cs.srv.URL + "/down"},
	}}})
	if err != nil {
		t.Fatal(err)
	}
	if !rows[0].OK || rows[0].RawPath == "" {
		t.Fatalf("flaky job should succeed on 4th attempt: %+v", rows[0])
	}
	if cs.count("/flaky") != 4 {
		t.Fatalf("flaky calls = %d", cs.count("/flaky"))
	}
	if rows[1].OK || rows[1].Error != "HTTP 503 Service Unavailable" || rows[1].Status != 503 {
		t.Fatalf("down job should fail with HTTP 503: %+v", rows[1])
	}
	if rows[1].ID != rows[1].RequestID || rows[1].RawPath != "" || rows[1].CacheHit {
		t.Fatalf("failed row shape wrong: %+v", rows[1])
	}
	if cs.count("/down") != 4 {
		t.Fatalf("down calls = %d, want 4", cs.count("/down"))
	}
}

func TestPermanentFailureNotRetried(t *testing.T) {
	cs := newCountingServer(t, func(_ string, _ int, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	f := testFetcher(t.TempDir(), nil)
	rows, err := f.Run(context.Background(), []Plan{{Source: "s", Jobs: []Job{{Source: "s", Kind: KindHTML, URL: cs.srv.URL + "/gone"}}}})
	if err != nil {
		t.Fatal(err)
	}
	if rows[0].OK || cs.count("/gone") != 1 {
		t.Fatalf("404 must fail once: row=%+v calls=%d", rows[0], cs.count("/gone"))
	}
}

func TestCacheHitAndForce(t *testing.T) {
	cs := newCountingServer(t, func(_ string, call int, w http.ResponseWriter, _ *http.Request) {
		// Volatile markup differs on every call.
		fmt.Fprintf(w, "<html><head><script>var t=%d</script></head><body><!-- built %d --><p>word  list</p></body></html>", call, call)
	})
	root := t.TempDir()
	job := Job{Source: "wiki", Kind: KindHTML, URL: cs.srv.URL + "/page", Meta: map[string]any{"dictionary": "x"}}

	first, err := testFetcher(root, nil).Run(context.Background(), []Plan{{Source: "wiki", Jobs: []Job{job}}})
	if err != nil {
		t.Fatal(err)
	}
	second, err := testFetcher(root, nil).Run(context.Background(), []Plan{{Source: "wiki", Jobs: []Job{job}}})
	if err != nil {
		t.Fatal(err)
	}
	if first[0].CacheHit || !second[0].CacheHit {
		t.Fatalf("cache flags wrong: %v %v", first[0].CacheHit, second[0].CacheHit)
	}
	if first[0].ID != second[0].ID || first[0].RawPath != second[0].RawPath {
		t.Fatalf("canonical id should be stable: %s vs %s", first[0].ID, second[0].ID)
	}
	if !strings.HasSuffix(first[0].RawPath, "wiki."+first[0].ID+".html") {
		t.Fatalf("unexpected raw path %s", first[0].RawPath)
	}
	metaPath := filepath.Join(layout.Raw(root, layout.Fetch), "wiki."+first[0].ID+".meta.json")
	if _, err := os.Stat(metaPath); err != nil {
		t.Fatalf("missing sidecar: %v", err)
	}
	if second[0].JobMeta["dictionary"] != "x" {
		t.Fatalf("job meta not recorded on cache hit: %+v", second[0].JobMeta)
	}

	forced, err := testFetcher(root, func(c *Config) { c.Force = true }).Run(context.Background(), []Plan{{Source: "wiki", Jobs: []Job{job}}})
	if err != nil {
		t.Fatal(err)
	}
	if forced[0].CacheHit {
		t.Fatal("force must not report a cache hit")
	}

	rows, err := jsonl.ReadAll[ManifestRow](layout.Manifest(root, layout.Fetch))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("manifest should be append-only across runs, got %d rows", len(rows))
	}
}

func TestStreamJob(t *testing.T) {
	payload := strings.Repeat("{\"word\":\"x\"}\n", 1000)
	cs := newCountingServer(t, func(_ string, _ int, w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, payload)
	})
	root := t.TempDir()
	job := Job{Source: "dump", Kind: KindJSONL, URL: cs.srv.URL + "/dump.jsonl", Stream: true}
	for i := 0; i < 2; i++ {
		rows, err := testFetcher(root, nil).Run(context.Background(), []Plan{{Source: "dump", Jobs: []Job{job}}})
		if err != nil {
			t.Fatal(err)
		}
		r := rows[0]
		if !r.OK || !r.Stream || r.Bytes != int64(len(payload)) {
			t.Fatalf("bad row %+v", r)
		}
		if r.ID != shortHash([]byte(payload)) {
			t.Fatalf("stream id should hash raw bytes")
		}
		if r.CacheHit != (i == 1) {
			t.Fatalf("run %d cacheHit=%v", i, r.CacheHit)
		}
		b, err := os.ReadFile(r.RawPath)
		if err != nil || string(b) != payload {
			t.Fatalf("artifact content mismatch: %v", err)
		}
	}
	matches, _ := filepath.Glob(filepath.Join(layout.Raw(root, layout.Fetch), "*.tmp"))
	if len(matches) != 0 {
		t.Fatalf("temp files left behind: %v", matches)
	}
}

func TestHeadersMerged(t *testing.T) {
	var got http.Header
	cs := newCountingServer(t, func(_ string, _ int, w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		io.WriteString(w, "a,b\n")
	})
	f := testFetcher(t.TempDir(), func(c *Config) { c.UserAgent = "lexicon-test" })
	_, err := f.Run(context.Background(), []Plan{{Source: "s", Jobs: []Job{{
		Source: "s", Kind: KindCSV, URL: cs.srv.URL + "/x.csv",
		Headers: map[string]string{"accept": "text/csv,*/*;q=0.9"},
	}}}})
	if err != nil {
		t.Fatal(err)
	}
	if got.Get("User-Agent") != "lexicon-test" || got.Get("Accept") != "text/csv,*/*;q=0.9" {
		t.Fatalf("headers not merged: %v", got)
	}
}

func TestPerJobTimeoutIsRetryable(t *testing.T) {
	cs := newCountingServer(t, func(_ string, call int, w http.ResponseWriter, r *http.Request) {
		if call == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		io.WriteString(w, "late")
	})
	f := testFetcher(t.TempDir(), nil)
	rows, err := f.Run(context.Background(), []Plan{{Source: "s", Jobs: []Job{{Source: "s", Kind: KindText, URL: cs.srv.URL + "/slow", TimeoutMs: 50}}}})
	if err != nil {
		t.Fatal(err)
	}
	if !rows[0].OK || cs.count("/slow") != 2 {
		t.Fatalf("timeout should be retried: %+v calls=%d", rows[0], cs.count("/slow"))
	}
}

func TestCanonicalHTML(t *testing.T) {
	a := []byte("<html><head><title>x</title></head><body>\n<!-- c --><p>a   b</p><script>x()</script><noscript>n</noscript></body></html>")
	b := []byte("<html><body><p>a b</p></body></html>")
	if string(CanonicalHTML(a)) != string(CanonicalHTML(b)) {
		t.Fatalf("%q != %q", CanonicalHTML(a), CanonicalHTML(b))
	}
	if string(CanonicalHTML(b)) != "<p>a b</p>" {
		t.Fatalf("got %q", CanonicalHTML(b))
	}
	if ContentID(KindHTML, a) != ContentID(KindHTML, b) || ContentID(KindText, a) == ContentID(KindText, b) {
		t.Fatal("only html is canonicalized")
	}
}

func TestRequestID(t *testing.T) {
	a := RequestID("GET", "http://x/a", "")
	if len(a) != 16 || a != RequestID("GET", "http://x/a", "") || a == RequestID("POST", "http://x/a", "") {
		t.Fatalf("request id unstable or collides: %s", a)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{newHTTPError(429, "429 Too Many Requests"), true},
		{newHTTPError(502, "502 Bad Gateway"), true},
		{newHTTPError(404, "404 Not Found"), false},
		{fmt.Errorf("get: %w", context.DeadlineExceeded), true},
		{fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{context.Canceled, false},
		{errors.New("no such host"), false},
	}
	for _, c := range cases {
		if got := Retryable(c.err); got != c.want {
			t.Errorf("Retryable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
