// Package lexicon loads the reference word-sense graph from its JSON layout:
// entries-*.json (lemma -> pos -> senses) and <pos>.<category>.json
// (synset id -> synset).
package lexicon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
)

var synsetFile = regexp.MustCompile(`(?i)^(adj|adv|noun|verb)\.(\w+)\.json$`)

// Lexicon is an immutable, loaded reference lexicon.
type Lexicon struct {
	entries    map[string]Entry
	synsets    map[string]*Synset
	categories map[domain.POS][]string
}

// Verify fails with ErrMissingInput when dir does not exist.
func Verify(dir string) error {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return fmt.Errorf("lexicon: %w: %s", domain.ErrMissingInput, dir)
	}
	if err != nil {
		return fmt.Errorf("lexicon: %w", err)
	}
	return nil
}

type loaded struct {
	entries  map[string]Entry
	synsets  map[string]*Synset
	pos      domain.POS
	category string
}

// Load reads every lexicon file in dir in parallel. Files are merged in name
// order, so a lemma present in two entries files takes the later file's entry.
func Load(ctx context.Context, dir string) (*Lexicon, error) {
	if err := Verify(dir); err != nil {
		return nil, err
	}
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("lexicon: %w", err)
	}
	var names []string
	for _, de := range des {
		n := de.Name()
		if de.IsDir() {
			continue
		}
		if (strings.HasPrefix(n, "entries-") && strings.HasSuffix(n, ".json")) || synsetFile.MatchString(n) {
			names = append(names, n)
		}
	}
	slices.Sort(names)

	parts := make([]loaded, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := loadFile(filepath.Join(dir, name))
			if err != nil {
				return fmt.Errorf("lexicon: %s: %w", name, err)
			}
			parts[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	lex := &Lexicon{
		entries:    make(map[string]Entry),
		synsets:    make(map[string]*Synset),
		categories: make(map[domain.POS][]string),
	}
	for _, p := range parts {
		for lemma, e := range p.entries {
			lex.entries[lemma] = e
		}
		for id, s := range p.synsets {
			lex.synsets[id] = s
		}
		if domain.ValidCategory(p.pos, p.category) && !slices.Contains(lex.categories[p.pos], p.category) {
			lex.categories[p.pos] = append(lex.categories[p.pos], p.category)
		}
	}
	for pos := range lex.categories {
		slices.Sort(lex.categories[pos])
	}
	return lex, nil
}

func loadFile(path string) (loaded, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return loaded{}, err
	}
	name := filepath.Base(path)
	if m := synsetFile.FindStringSubmatch(name); m != nil {
		var synsets map[string]*Synset
		if err := json.Unmarshal(b, &synsets); err != nil {
			return loaded{}, err
		}
		for _, s := range synsets {
			s.Category = m[2]
		}
		return loaded{synsets: synsets, pos: filePOS(m[1]), category: m[2]}, nil
	}
	var entries map[string]Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return loaded{}, err
	}
	return loaded{entries: entries}, nil
}

func filePOS(prefix string) domain.POS {
	switch strings.ToLower(prefix) {
	case "noun":
		return domain.Noun
	case "verb":
		return domain.Verb
	case "adv":
		return domain.Adverb
	default:
		return domain.Adjective
	}
}

// Has reports whether lemma has senses for pos.
func (l *Lexicon) Has(lemma string, pos domain.POS) bool {
	e, ok := l.entries[lemma]
	if !ok {
		return false
	}
	_, ok = e[string(pos)]
	return ok
}

// Entry returns the entry for lemma.
func (l *Lexicon) Entry(lemma string) (Entry, bool) {
	e, ok := l.entries[lemma]
	return e, ok
}

// Synset returns a copy of the synset with the given id.
func (l *Lexicon) Synset(id string) (*Synset, bool) {
	s, ok := l.synsets[id]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// Synsets returns every synset id in sorted order.
func (l *Lexicon) Synsets() []string {
	ids := make([]string, 0, len(l.synsets))
	for id := range l.synsets {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Categories returns the categories present on disk for pos, sorted. Only
// names from the closed lexicographer vocabulary are kept.
func (l *Lexicon) Categories(pos domain.POS) []string {
	return slices.Clone(l.categories[pos])
}

// Len returns the number of lemmas and synsets.
func (l *Lexicon) Len() (lemmas, synsets int) {
	return len(l.entries), len(l.synsets)
}
