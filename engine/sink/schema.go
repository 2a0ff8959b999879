package sink

import (
	"fmt"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
)

// Table declares a table and the tables it references.
type Table struct {
	Name      string
	DependsOn []string
}

var schema = []Table{
	{Name: "origin"},
	{Name: "lemma"},
	{Name: "sense", DependsOn: []string{"lemma"}},
	{Name: "lemma_origin", DependsOn: []string{"lemma", "origin"}},
}

var models = map[string]any{
	"origin":       &Origin{},
	"lemma":        &Lemma{},
	"sense":        &Sense{},
	"lemma_origin": &LemmaOrigin{},
}

// SortTables orders tables so every table follows its dependencies. Ties
// keep declaration order. A cycle is ErrDependencyCycle.
func SortTables(tables []Table) ([]string, error) {
	known := make(map[string]bool, len(tables))
	for _, t := range tables {
		known[t.Name] = true
	}
	for _, t := range tables {
		for _, d := range t.DependsOn {
			if !known[d] {
				return nil, fmt.Errorf("sink: table %q depends on missing table %q", t.Name, d)
			}
		}
	}

	done := make(map[string]bool, len(tables))
	order := make([]string, 0, len(tables))
	for len(order) < len(tables) {
		progressed := false
		for _, t := range tables {
			if done[t.Name] {
				continue
			}
			ready := true
			for _, d := range t.DependsOn {
				if !done[d] {
					ready = false
					break
				}
			}
			if ready {
				done[t.Name] = true
				order = append(order, t.Name)
				progressed = true
			}
		}
		if !progressed {
			var stuck []string
			for _, t := range tables {
				if !done[t.Name] {
					stuck = append(stuck, t.Name)
				}
			}
			return nil, fmt.Errorf("sink: %w among %v", domain.ErrDependencyCycle, stuck)
		}
	}
	return order, nil
}
