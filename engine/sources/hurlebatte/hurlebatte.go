// Package hurlebatte adapts Hurlebatte's Anglish wordbook, a public Google
// Sheet fetched as a CSV export.
package hurlebatte

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
	"github.com/WessleyAI/anglish-lexicon/engine/fetch"
	"github.com/WessleyAI/anglish-lexicon/engine/llm"
	"github.com/WessleyAI/anglish-lexicon/engine/parse"
	"github.com/WessleyAI/anglish-lexicon/engine/sources/srcutil"
)

// Source is the adapter's registry name.
const Source = "hurlebatte"

// SpreadsheetID is the wordbook's sheet.
const SpreadsheetID = "1y8_11RDvuCRyUK_MXj5K7ZjccgCUDapsPDI5PjaEkMw"

// Record is one spreadsheet row.
type Record struct {
	V               int            `json:"v"`
	Source          string         `json:"source"`
	RawID           string         `json:"rawId"`
	LemmaRaw        string         `json:"lemma_raw"`
	POSRaw          string         `json:"pos_raw"`
	OccurrenceIndex int            `json:"occurrence_index"`
	DefinitionRaw   string         `json:"definition_raw"`
	EtymologyRaw    string         `json:"etymology_raw"`
	OriginRaw       string         `json:"origin_raw"`
	NotesRaw        string         `json:"notes_raw"`
	TagsRaw         string         `json:"tags_raw"`
	Meta            map[string]any `json:"meta,omitempty"`
}

// Adapter implements plan, parse and normalize for the sheet.
type Adapter struct {
	URL string
	llm llm.Completer
	log *slog.Logger
}

// New creates an adapter. c aligns parts of speech with definitions and
// extracts origins the language codes miss.
func New(c llm.Completer, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		URL: fmt.Sprintf("https://docs.google.com/spreadsheets/d/%s/export?format=csv&id=%s", SpreadsheetID, SpreadsheetID),
		llm: c,
		log: log.With("source", Source),
	}
}

// Plan is a single CSV export job.
func (a *Adapter) Plan(context.Context, *http.Client) (fetch.Plan, error) {
	return fetch.Plan{Source: Source, Jobs: []fetch.Job{{
		Source:  Source,
		Kind:    fetch.KindCSV,
		URL:     a.URL,
		Headers: map[string]string{"accept": "text/csv,*/*;q=0.9"},
		Meta:    map[string]any{"spreadsheetId": SpreadsheetID, "format": "csv"},
	}}}, nil
}

type columns struct {
	word, definition, class, etymology, origin, notes, tags int
}

func indexColumns(header []string) columns {
	c := columns{-1, -1, -1, -1, -1, -1, -1}
	for i, h := range header {
		h = strings.ToUpper(strings.TrimSpace(h))
		switch {
		case h == "WORD":
			c.word = i
		case h == "DEFINITION":
			c.definition = i
		case h == "WORD CLASS":
			c.class = i
		case h == "ETYMOLOGY":
			c.etymology = i
		case strings.HasPrefix(h, "LANG") && strings.Contains(h, "ORIGIN"):
			c.origin = i
		case h == "NOTES":
			c.notes = i
		case h == "TAGS":
			c.tags = i
		}
	}
	return c
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// Parse reads the header-indexed CSV. Rows without a word are skipped;
// repeated (word, class, origin) rows are told apart by occurrence index.
func (a *Adapter) Parse(_ context.Context, in parse.Input) (parse.Records, error) {
	content, err := in.Text()
	if err != nil {
		return nil, fmt.Errorf("hurlebatte: %w", err)
	}
	r := csv.NewReader(strings.NewReader(content))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return parse.FromSlice([]Record(nil)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("hurlebatte: read header: %w", err)
	}
	cols := indexColumns(header)

	occurrences := map[string]int{}
	var out []Record
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("hurlebatte: read row: %w", err)
		}
		lemma := cell(row, cols.word)
		if lemma == "" {
			continue
		}
		pos, origin := cell(row, cols.class), cell(row, cols.origin)
		key := lemma + ":" + pos + ":" + origin
		occ := occurrences[key]
		occurrences[key] = occ + 1

		out = append(out, Record{
			V:               domain.RecordVersion,
			Source:          Source,
			RawID:           srcutil.RawID(Source, lemma, pos, strconv.Itoa(occ)),
			LemmaRaw:        lemma,
			POSRaw:          pos,
			OccurrenceIndex: occ,
			DefinitionRaw:   cell(row, cols.definition),
			EtymologyRaw:    cell(row, cols.etymology),
			OriginRaw:       origin,
			NotesRaw:        cell(row, cols.notes),
			TagsRaw:         cell(row, cols.tags),
		})
	}
	return parse.FromSlice(out), nil
}
