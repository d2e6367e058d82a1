// Package embedding builds the hybrid vectors that power similarity search.
package embedding

import (
	"strings"
	"unicode"
)

// lowSignalPhrases are marketplace boilerplate that carries no product
// signal. They are removed before text encoding so two listings differing
// only in sales patter embed identically.
var lowSignalPhrases = []string{
	"contact for price",
	"dm for details",
	"dm me",
	"check out my other listings",
	"price negotiable",
	"serious buyers only",
	"fast shipping",
	"best offer",
	"limited time",
	"must go",
}

// Cleaner normalises listing text before encoding.
type Cleaner struct {
	phrases []string
}

// NewCleaner creates a Cleaner with the default low-signal phrase list.
func NewCleaner() *Cleaner {
	return &Cleaner{phrases: lowSignalPhrases}
}

// Clean strips decorative glyphs, removes low-signal phrases, lowercases,
// and collapses whitespace. Cleaning is deterministic: equal input always
// produces equal output.
func (c *Cleaner) Clean(text string) string {
	lowered := strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r):
			b.WriteRune(r)
		case r == '-' || r == '\'' || r == '.' || r == ',':
			b.WriteRune(r)
		default:
			// Decorative glyph, emoji, or symbol noise.
			b.WriteRune(' ')
		}
	}
	cleaned := b.String()

	for _, phrase := range c.phrases {
		cleaned = strings.ReplaceAll(cleaned, phrase, " ")
	}

	return strings.Join(strings.Fields(cleaned), " ")
}
