package atom

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var textChains = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFC,
			runes.Remove(runes.In(unicode.Cf)), // zero-width joiners, BOMs, bidi marks
		)
	},
}

// NormalizeText repairs UTF-8, composes to NFC and strips format characters
func NormalizeText(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToValidUTF8(s, "")
	tr := textChains.Get().(transform.Transformer)
	out, _, err := transform.String(tr, s)
	tr.Reset()
	textChains.Put(tr)
	if err != nil {
		return s
	}
	return out
}

// Normalize returns r with author and content text normalised
func (r Record) Normalize() Record {
	r.Author = strings.TrimSpace(NormalizeText(r.Author))
	r.Content = NormalizeText(r.Content)
	return r
}
