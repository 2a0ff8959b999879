package domain

import (
	"sort"
	"strings"
)

// Language is a source language code as written in etymology notes.
type Language string

const (
	OldEnglish         Language = "OE"
	MiddleEnglish      Language = "ME"
	English            Language = "NE"
	ProtoGermanic      Language = "PG"
	ProtoWestGermanic  Language = "PWG"
	ProtoIndoEuropean  Language = "PIE"
	OldNorse           Language = "ON"
	OldDanish          Language = "ODan"
	OldSaxon           Language = "OS"
	OldHighGerman      Language = "OHG"
	MiddleHighGerman   Language = "MHG"
	German             Language = "NHG"
	OldDutch           Language = "ODu"
	MiddleDutch        Language = "MDu"
	Dutch              Language = "Du"
	OldFrisian         Language = "OFris"
	WestFrisian        Language = "Fris"
	LowGerman          Language = "LG"
	MiddleLowGerman    Language = "MLG"
	Gothic             Language = "Goth"
	Icelandic          Language = "Ice"
	Faroese            Language = "Far"
	Norwegian          Language = "Nor"
	Swedish            Language = "Swe"
	Danish             Language = "Dan"
	Scots              Language = "Sco"
	Frankish           Language = "Frk"
	Latin              Language = "Lat"
	OldFrench          Language = "OFr"
	French             Language = "Fr"
	Greek              Language = "Gk"
)

var languageNames = map[Language]string{
	OldEnglish:        "Old English",
	MiddleEnglish:     "Middle English",
	English:           "English",
	ProtoGermanic:     "Proto-Germanic",
	ProtoWestGermanic: "Proto-West Germanic",
	ProtoIndoEuropean: "Proto-Indo-European",
	OldNorse:          "Old Norse",
	OldDanish:         "Old Danish",
	OldSaxon:          "Old Saxon",
	OldHighGerman:     "Old High German",
	MiddleHighGerman:  "Middle High German",
	German:            "German",
	OldDutch:          "Old Dutch",
	MiddleDutch:       "Middle Dutch",
	Dutch:             "Dutch",
	OldFrisian:        "Old Frisian",
	WestFrisian:       "West Frisian",
	LowGerman:         "Low German",
	MiddleLowGerman:   "Middle Low German",
	Gothic:            "Gothic",
	Icelandic:         "Icelandic",
	Faroese:           "Faroese",
	Norwegian:         "Norwegian",
	Swedish:           "Swedish",
	Danish:            "Danish",
	Scots:             "Scots",
	Frankish:          "Frankish",
	Latin:             "Latin",
	OldFrench:         "Old French",
	French:            "French",
	Greek:             "Greek",
}

// Name returns the English name of the language, or the code itself.
func (l Language) Name() string {
	if n, ok := languageNames[l]; ok {
		return n
	}
	return string(l)
}

// ValidLanguage reports whether l is a known code.
func ValidLanguage(l Language) bool {
	_, ok := languageNames[l]
	return ok
}

// Languages returns every known code, sorted.
func Languages() []Language {
	out := make([]Language, 0, len(languageNames))
	for l := range languageNames {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var (
	codesLongestFirst = longestFirst(func(l Language) string { return string(l) })
	namesLongestFirst = longestFirst(func(l Language) string { return languageNames[l] })
)

func longestFirst(key func(Language) string) []Language {
	out := Languages()
	sort.SliceStable(out, func(i, j int) bool { return len(key(out[i])) > len(key(out[j])) })
	return out
}

// MatchLanguageCodes returns the codes found in s as whole tokens. Longer
// codes are matched first and consumed, so "OHG" never also yields "OE"-like
// partial hits from its letters.
func MatchLanguageCodes(s string) []Language {
	var out []Language
	rest := " " + s + " "
	for _, l := range codesLongestFirst {
		code := string(l)
		found := false
		for {
			i := indexToken(rest, code)
			if i < 0 {
				break
			}
			found = true
			rest = rest[:i] + strings.Repeat(" ", len(code)) + rest[i+len(code):]
		}
		if found {
			out = append(out, l)
		}
	}
	return out
}

// indexToken finds code in s bounded by non-letters on both sides.
func indexToken(s, code string) int {
	from := 0
	for {
		i := strings.Index(s[from:], code)
		if i < 0 {
			return -1
		}
		i += from
		end := i + len(code)
		if (i == 0 || !isLetter(s[i-1])) && (end >= len(s) || !isLetter(s[end])) {
			return i
		}
		from = i + 1
	}
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

// MatchLanguageName returns the language whose English name occurs in s,
// trying longer names first so "Old English" wins over "English".
func MatchLanguageName(s string) (Language, bool) {
	for _, l := range namesLongestFirst {
		if strings.Contains(s, languageNames[l]) {
			return l, true
		}
	}
	return "", false
}
