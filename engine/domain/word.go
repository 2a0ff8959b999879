package domain

import "regexp"

// A plausible word: letter groups joined by hyphen, space or apostrophe,
// at most five groups.
var wordPattern = regexp.MustCompile(`(?i)^\p{L}+(?:[-\s']\p{L}+){0,4}$`)

// WordPrefix matches the leading plausible word of a string.
var WordPrefix = regexp.MustCompile(`(?i)^\p{L}+(?:[-\s']\p{L}+){0,4}`)

// IsWord reports whether s is a plausible lemma.
func IsWord(s string) bool { return wordPattern.MatchString(s) }
