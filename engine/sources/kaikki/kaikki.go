// Package kaikki adapts the Wiktextract English dictionary dump from
// kaikki.org. The dump is one JSON object per line and several gigabytes,
// so it is fetched and parsed as a stream and filtered down to words of
// Germanic descent.
package kaikki

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
	"github.com/WessleyAI/anglish-lexicon/engine/fetch"
	"github.com/WessleyAI/anglish-lexicon/engine/parse"
	"github.com/WessleyAI/anglish-lexicon/engine/sources/srcutil"
)

// Source is the adapter's registry name.
const Source = "kaikki"

// DumpURL is the English dictionary dump.
const DumpURL = "https://kaikki.org/dictionary/English/kaikki.org-dictionary-English.jsonl"

const maxLine = 64 << 20

// Template is one Wiktionary etymology template as expanded by Wiktextract.
type Template struct {
	Name      string            `json:"name"`
	Args      map[string]string `json:"args,omitempty"`
	Expansion string            `json:"expansion"`
}

type entry struct {
	Word   string `json:"word"`
	POS    string `json:"pos"`
	Senses []struct {
		Glosses []string `json:"glosses"`
	} `json:"senses"`
	EtymologyText      string     `json:"etymology_text"`
	EtymologyTemplates []Template `json:"etymology_templates"`
}

// Record is one dump entry that passed the Germanic filter.
type Record struct {
	V             int        `json:"v"`
	Source        string     `json:"source"`
	RawID         string     `json:"rawId"`
	POS           string     `json:"pos"`
	Word          string     `json:"word"`
	Senses        []string   `json:"senses"`
	EtymText      string     `json:"etym_text"`
	EtymTemplates []Template `json:"etym_templates"`
}

// Template names by the relation they express.
var (
	inheritedTemplates = []string{"inh", "inh+", "inh-lite", "inherited"}
	derivedTemplates   = []string{"der", "der+", "der-lite", "derived", "uder"}
	borrowedTemplates  = []string{"bor", "bor+", "borrowed", "lbor", "learned borrowing", "obor", "slbor", "ubor"}
	calqueTemplates    = []string{"cal", "cal+", "calque", "clq", "pcal", "partial calque", "sl", "semantic loan"}
	cognateTemplates   = []string{"cog", "cog-lite", "cognate", "ncog", "noncog", "noncognate"}
)

// Adapter implements plan, parse and normalize for the dump.
type Adapter struct {
	URL string
	log *slog.Logger
}

// New creates an adapter.
func New(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{URL: DumpURL, log: log.With("source", Source)}
}

// Plan is a single streamed download.
func (a *Adapter) Plan(context.Context, *http.Client) (fetch.Plan, error) {
	return fetch.Plan{Source: Source, Jobs: []fetch.Job{{
		Source:  Source,
		Kind:    fetch.KindJSONL,
		URL:     a.URL,
		Headers: map[string]string{"accept": "text/plain,*/*;q=0.9"},
		Stream:  true,
	}}}, nil
}

// Parse lazily decodes the dump, yielding only Germanic entries. Each
// sense contributes its most specific (last) gloss.
func (a *Adapter) Parse(ctx context.Context, in parse.Input) (parse.Records, error) {
	r, err := in.Reader()
	if err != nil {
		return nil, fmt.Errorf("kaikki: %w", err)
	}
	return func(yield func(any, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 1<<20), maxLine)
		line, kept := 0, 0
		for sc.Scan() {
			line++
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			b := sc.Bytes()
			if len(strings.TrimSpace(string(b))) == 0 {
				continue
			}
			var e entry
			if err := json.Unmarshal(b, &e); err != nil {
				yield(nil, fmt.Errorf("kaikki: line %d: %w", line, err))
				return
			}
			if !germanic(e.EtymologyTemplates) {
				continue
			}
			kept++
			if !yield(newRecord(e), nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(nil, fmt.Errorf("kaikki: read: %w", err))
			return
		}
		a.log.Info("kaikki.parsed", "lines", line, "kept", kept)
	}, nil
}

func newRecord(e entry) Record {
	senses := make([]string, 0, len(e.Senses))
	for _, s := range e.Senses {
		if n := len(s.Glosses); n > 0 {
			senses = append(senses, s.Glosses[n-1])
		}
	}
	return Record{
		V:             domain.RecordVersion,
		Source:        Source,
		RawID:         srcutil.RawID(e.Word, e.POS, e.EtymologyText),
		POS:           e.POS,
		Word:          e.Word,
		Senses:        senses,
		EtymText:      e.EtymologyText,
		EtymTemplates: e.EtymologyTemplates,
	}
}

var (
	germanicSource = regexp.MustCompile(`(?i)English|Germanic|Norse|Saxon|Frankish`)
	germanicCog    = regexp.MustCompile(`(?i)English|German|Norse|Saxon|Frankish|Danish`)
	romance        = regexp.MustCompile(`(?i)French|Latin|Greek`)
)

func isSource(name string) bool {
	return slices.Contains(inheritedTemplates, name) || slices.Contains(derivedTemplates, name) ||
		slices.Contains(borrowedTemplates, name) || slices.Contains(calqueTemplates, name)
}

// germanic reports whether an entry descends from Germanic sources and none
// of its sources are Romance or Greek. Cognates are only consulted when
// there is no direct source template.
func germanic(templates []Template) bool {
	var hasGermanic, hasRomance, foundSource bool
	for _, t := range templates {
		if !isSource(t.Name) {
			continue
		}
		foundSource = true
		if germanicSource.MatchString(t.Expansion) {
			hasGermanic = true
		} else if romance.MatchString(t.Expansion) {
			hasRomance = true
		}
	}
	if !foundSource {
		for _, t := range templates {
			if !slices.Contains(cognateTemplates, t.Name) {
				continue
			}
			if germanicCog.MatchString(t.Expansion) {
				hasGermanic = true
			} else if romance.MatchString(t.Expansion) {
				hasRomance = true
			}
		}
	}
	return hasGermanic && !hasRomance
}
