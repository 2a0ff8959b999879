package domain

// Lexicographer categories of the reference lexicon, per part of speech.
var categories = map[POS][]string{
	Noun: {
		"act", "animal", "artifact", "attribute", "body", "cognition",
		"communication", "event", "feeling", "food", "group", "location",
		"motive", "object", "person", "phenomenon", "plant", "possession",
		"process", "quantity", "relation", "shape", "state", "substance",
		"time", "Tops",
	},
	Verb: {
		"body", "change", "cognition", "communication", "competition",
		"consumption", "contact", "creation", "emotion", "motion",
		"perception", "possession", "social", "stative", "weather",
	},
	Adjective: {"all", "pert", "ppl"},
	Adverb:    {"all"},
}

// Categories returns the closed category list for pos (nil when none).
func Categories(pos POS) []string {
	c := categories[pos]
	out := make([]string, len(c))
	copy(out, c)
	return out
}

// ValidCategory reports whether c belongs to pos's vocabulary.
func ValidCategory(pos POS, c string) bool {
	for _, v := range categories[pos] {
		if v == c {
			return true
		}
	}
	return false
}

// Categorized reports whether glosses of pos receive a category label.
func Categorized(pos POS) bool { return pos == Noun || pos == Verb }
