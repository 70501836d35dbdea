// Package moderation classifies and redacts user text before it is relayed.
package moderation

import (
	"strings"
	"unicode"
)

// DefaultWords is the built-in block list.
var DefaultWords = []string{
	"anjing", "babi", "bangsat", "kontol", "memek", "ngentot", "jancok",
	"fuck", "shit", "dick", "bitch", "bastard", "asshole",
}

// Filter is a stateless, case-insensitive substring filter. It is safe for
// concurrent use.
type Filter struct {
	words [][]rune
}

func NewFilter(words []string) *Filter {
	f := &Filter{}
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		f.words = append(f.words, lowerRunes(w))
	}
	return f
}

func NewDefaultFilter() *Filter {
	return NewFilter(DefaultWords)
}

func lowerRunes(s string) []rune {
	r := []rune(s)
	for i := range r {
		r[i] = unicode.ToLower(r[i])
	}
	return r
}

// Classify reports whether text contains a blocked term.
func (f *Filter) Classify(text string) bool {
	if text == "" {
		return false
	}
	lower := lowerRunes(text)
	for _, w := range f.words {
		if indexRunes(lower, w, 0) >= 0 {
			return true
		}
	}
	return false
}

// Redact masks every blocked term with '*', one per character.
func (f *Filter) Redact(text string) string {
	if text == "" {
		return text
	}
	out := []rune(text)
	lower := lowerRunes(text)
	changed := false
	for _, w := range f.words {
		for i := indexRunes(lower, w, 0); i >= 0; i = indexRunes(lower, w, i+len(w)) {
			for j := i; j < i+len(w); j++ {
				out[j] = '*'
			}
			changed = true
		}
	}
	if !changed {
		return text
	}
	return string(out)
}

func indexRunes(haystack, needle []rune, from int) int {
	for i := from; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
