// Package fetch retrieves every job of every source plan into a
// content-addressed raw store and records each outcome in an append-only
// manifest.
package fetch

// Kind is the expected payload type of a job.
type Kind string

const (
	KindHTML  Kind = "html"
	KindJSON  Kind = "json"
	KindJSONL Kind = "jsonl"
	KindText  Kind = "text"
	KindCSV   Kind = "csv"
)

// Ext is the artifact file extension for k.
func (k Kind) Ext() string {
	switch k {
	case KindHTML:
		return ".html"
	case KindJSON:
		return ".json"
	case KindJSONL:
		return ".jsonl"
	case KindCSV:
		return ".csv"
	default:
		return ".txt"
	}
}

// Job describes one retrievable resource.
type Job struct {
	Source    string            `json:"source"`
	Kind      Kind              `json:"kind"`
	URL       string            `json:"url"`
	Method    string            `json:"method,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
	Stream    bool              `json:"stream,omitempty"`
	TimeoutMs int               `json:"timeoutMs,omitempty"`
	Meta      map[string]any    `json:"meta,omitempty"`
}

func (j Job) method() string {
	if j.Method == "" {
		return "GET"
	}
	return j.Method
}

// Plan is the set of jobs one source needs fetched.
type Plan struct {
	Source string `json:"source"`
	Jobs   []Job  `json:"jobs"`
}

// ManifestRow is one job outcome. RawPath is set iff OK.
type ManifestRow struct {
	ID        string         `json:"id"`
	RequestID string         `json:"requestId"`
	Source    string         `json:"source"`
	Kind      Kind           `json:"kind"`
	URL       string         `json:"url"`
	OK        bool           `json:"ok"`
	Status    int            `json:"status,omitempty"`
	Bytes     int64          `json:"bytes,omitempty"`
	Error     string         `json:"error,omitempty"`
	FetchedAt string         `json:"fetchedAt"`
	CacheHit  bool           `json:"cacheHit"`
	Stream    bool           `json:"stream"`
	RawPath   string         `json:"rawPath,omitempty"`
	JobMeta   map[string]any `json:"jobMeta,omitempty"`
}

// Metadata is the sidecar written next to each artifact.
type Metadata struct {
	ID          string      `json:"id"`
	RequestID   string      `json:"requestId"`
	Source      string      `json:"source"`
	Kind        Kind        `json:"kind"`
	URL         string      `json:"url"`
	Status      int         `json:"status"`
	ContentType string      `json:"contentType,omitempty"`
	Bytes       int64       `json:"bytes"`
	FetchedAt   string      `json:"fetchedAt"`
	ElapsedMs   int64       `json:"elapsedMs"`
	Request     RequestMeta `json:"request"`
}

// RequestMeta records what was sent.
type RequestMeta struct {
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
}
