package anglishmoot

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
	"github.com/WessleyAI/anglish-lexicon/engine/parse"
	"github.com/WessleyAI/anglish-lexicon/engine/sources/srcutil"
)

// Cell is one table cell as text and inner markup.
type Cell struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}

// Record is one wordbook table row.
type Record struct {
	V               int             `json:"v"`
	Source          string          `json:"source"`
	RawID           string          `json:"rawId"`
	Meta            map[string]any  `json:"meta,omitempty"`
	Dictionary      Dictionary      `json:"dictionary"`
	PageID          string          `json:"page_id"`
	OccurrenceIndex int             `json:"occurrence_index"`
	LemmaRaw        string          `json:"lemma_raw"`
	POSRaw          string          `json:"pos_raw"`
	CellsRaw        map[string]Cell `json:"cells_raw"`
	AttestedRaw     *Cell           `json:"attested_raw,omitempty"`
	UnattestedRaw   *Cell           `json:"unattested_raw,omitempty"`
	DefinitionRaw   *Cell           `json:"definition_raw,omitempty"`
}

var rows = cascadia.MustCompile("table > tbody > tr")

// Parse extracts every wordbook row of one fetched page. English wordbook
// rows have four cells, Anglish wordbook rows three; anything else is
// layout and skipped.
func (a *Adapter) Parse(_ context.Context, in parse.Input) (parse.Records, error) {
	content, err := in.Text()
	if err != nil {
		return nil, fmt.Errorf("anglishmoot: %w", err)
	}
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("anglishmoot: parse html: %w", err)
	}
	dict, _ := in.JobMeta["dictionary"].(string)

	meta := make(map[string]any, len(in.JobMeta)+3)
	for k, v := range in.JobMeta {
		meta[k] = v
	}
	meta["fetchId"] = in.Fetch.ID
	meta["fetchUrl"] = in.Fetch.URL
	meta["fetchedAt"] = in.Fetch.FetchedAt

	occurrences := map[string]int{}
	var out []Record
	for _, tr := range cascadia.QueryAll(doc, rows) {
		cells := rowCells(tr)
		var names []string
		switch {
		case Dictionary(dict) == EnglishToAnglish && len(cells) == 4:
			names = []string{"word", "pos", "attested", "unattested"}
		case Dictionary(dict) != EnglishToAnglish && len(cells) == 3:
			names = []string{"word", "pos", "definition"}
		default:
			continue
		}
		word, pos := cells[0], cells[1]
		if word.Text == "" {
			continue
		}
		key := word.Text + ":" + pos.Text
		occ := occurrences[key]
		occurrences[key] = occ + 1

		rec := Record{
			V:               domain.RecordVersion,
			Source:          Source,
			RawID:           srcutil.RawID(Source, in.Fetch.URL, word.Text, pos.Text, strconv.Itoa(occ)),
			Meta:            meta,
			PageID:          in.Fetch.ID,
			OccurrenceIndex: occ,
			LemmaRaw:        word.Text,
			POSRaw:          pos.Text,
			CellsRaw:        make(map[string]Cell, len(names)),
		}
		for i, name := range names {
			rec.CellsRaw[name] = cells[i]
		}
		if len(cells) == 4 {
			rec.Dictionary = EnglishToAnglish
			rec.AttestedRaw, rec.UnattestedRaw = &cells[2], &cells[3]
		} else {
			rec.Dictionary = AnglishToEnglish
			rec.DefinitionRaw = &cells[2]
		}
		out = append(out, rec)
	}
	return parse.FromSlice(out), nil
}

func rowCells(tr *html.Node) []Cell {
	var cells []Cell
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.DataAtom != atom.Td {
			continue
		}
		cells = append(cells, Cell{
			Text: strings.TrimSpace(textContent(c)),
			HTML: strings.TrimSpace(innerHTML(c)),
		})
	}
	return cells
}

// textContent concatenates the text under n. Line breaks become newlines so
// multi-line cells keep their line structure.
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && n.DataAtom == atom.Br:
			b.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func innerHTML(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return ""
		}
	}
	return buf.String()
}
