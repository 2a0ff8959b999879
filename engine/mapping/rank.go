package mapping

import (
	"slices"
	"sort"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
	"github.com/WessleyAI/anglish-lexicon/engine/semantic"
)

// ScoreOpts tunes candidate ranking.
type ScoreOpts struct {
	// CategoryBonus is subtracted from a candidate's normalized score when
	// its category equals the gloss's category.
	CategoryBonus float64
	// BonusPOS lists the candidate parts of speech eligible for the bonus.
	BonusPOS []domain.POS
}

// DefaultScoreOpts rewards category matches among noun and adjective candidates.
var DefaultScoreOpts = ScoreOpts{
	CategoryBonus: 0.10,
	BonusPOS:      []domain.POS{domain.Noun, domain.Adjective},
}

// Scored is a k-NN hit with its adjusted score. Lower is better.
type Scored struct {
	semantic.Hit
	Score         float64 `json:"score"`
	CategoryMatch bool    `json:"categoryMatch"`
}

// Rank min-max normalizes hit distances into [0,1], applies the category
// bonus and sorts ascending. Equal scores keep k-NN order, and a zero range
// normalizes with a denominator of 1.
func Rank(hits []semantic.Hit, category *string, opts ScoreOpts) []Scored {
	out := make([]Scored, len(hits))
	if len(hits) == 0 {
		return out
	}
	lo, hi := hits[0].Distance, hits[0].Distance
	for _, h := range hits[1:] {
		lo = min(lo, h.Distance)
		hi = max(hi, h.Distance)
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}
	for i, h := range hits {
		s := Scored{Hit: h, Score: (h.Distance - lo) / span}
		if category != nil && h.Category == *category && slices.Contains(opts.BonusPOS, domain.POS(h.POS)) {
			s.Score -= opts.CategoryBonus
			s.CategoryMatch = true
		}
		out[i] = s
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	return out
}
