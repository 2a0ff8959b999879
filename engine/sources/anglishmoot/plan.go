// Package anglishmoot adapts the Anglish Moot wiki wordbooks. The English
// wordbook maps English words to Anglish replacements; the Anglish wordbook
// defines Anglish words in English.
package anglishmoot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/WessleyAI/anglish-lexicon/engine/fetch"
	"github.com/WessleyAI/anglish-lexicon/engine/llm"
)

// Source is the adapter's registry name.
const Source = "anglish_moot"

// DefaultBaseURL is the wiki host.
const DefaultBaseURL = "https://anglish.fandom.com"

const acceptHTML = "text/html,*/*;q=0.9"

// Dictionary tells the two wordbooks apart.
type Dictionary string

const (
	EnglishToAnglish Dictionary = "english_to_anglish"
	AnglishToEnglish Dictionary = "anglish_to_english"
)

// Adapter implements plan, parse and normalize for the wiki.
type Adapter struct {
	BaseURL string
	llm     llm.Completer
	log     *slog.Logger
}

// New creates an adapter. c is used for origin extraction on Anglish
// wordbook definitions.
func New(c llm.Completer, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{BaseURL: DefaultBaseURL, llm: c, log: log.With("source", Source)}
}

type wordbook struct {
	path       string
	dictionary Dictionary
	// links is the element whose anchors list the wordbook's letter pages.
	links string
}

var wordbooks = []wordbook{
	{path: "/wiki/English_Wordbook", dictionary: EnglishToAnglish, links: "big"},
	{path: "/wiki/Anglish_Wordbook", dictionary: AnglishToEnglish, links: "tbody"},
}

// Plan reads both index pages and returns a job per linked wordbook page,
// plus the index pages themselves.
func (a *Adapter) Plan(ctx context.Context, client *http.Client) (fetch.Plan, error) {
	if client == nil {
		client = http.DefaultClient
	}
	plan := fetch.Plan{Source: Source}
	for _, wb := range wordbooks {
		plan.Jobs = append(plan.Jobs, a.job(a.BaseURL+wb.path, wb.dictionary))
	}
	for _, wb := range wordbooks {
		hrefs, err := a.indexLinks(ctx, client, a.BaseURL+wb.path, wb.links)
		if err != nil {
			return fetch.Plan{}, fmt.Errorf("anglishmoot: plan %s: %w", wb.path, err)
		}
		a.log.Info("anglishmoot.plan", "index", wb.path, "pages", len(hrefs))
		for _, h := range hrefs {
			plan.Jobs = append(plan.Jobs, a.job(a.BaseURL+h, wb.dictionary))
		}
	}
	return plan, nil
}

func (a *Adapter) job(url string, d Dictionary) fetch.Job {
	return fetch.Job{
		Source:  Source,
		Kind:    fetch.KindHTML,
		URL:     url,
		Headers: map[string]string{"accept": acceptHTML},
		Meta:    map[string]any{"dictionary": string(d)},
	}
}

// indexLinks returns the distinct /wiki/ hrefs under the first container
// element of the index page, in document order.
func (a *Adapter) indexLinks(ctx context.Context, client *http.Client, url, container string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", acceptHTML)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("HTTP %s", resp.Status)
	}
	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, err
	}
	return wikiLinks(doc, container), nil
}

var anchors = cascadia.MustCompile("a[href]")

func wikiLinks(doc *html.Node, container string) []string {
	root := cascadia.Query(doc, cascadia.MustCompile(container))
	if root == nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, n := range cascadia.QueryAll(root, anchors) {
		href := attr(n, "href")
		if !strings.HasPrefix(href, "/wiki/") || seen[href] {
			continue
		}
		seen[href] = true
		out = append(out, href)
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
