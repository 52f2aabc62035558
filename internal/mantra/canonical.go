// Package mantra turns a saved chant phrase into an immutable comparison
// index and decides whether recognised speech fragments belong to it.
//
// Comparison happens on a canonical form that absorbs the spelling noise a
// speech recogniser produces when it transliterates chanted Sanskrit or Hindi
// into Latin script ("raam" vs "ram", "shiivaaya" vs "shivaya"):
//
//  1. Accented characters are decomposed and their combining diacritics
//     dropped ("rāma" → "rama").
//  2. The text is lowercased.
//  3. Everything except Latin a–z and Devanagari letters and signs is
//     removed.
//  4. Vowel runs are collapsed: a+ → a, (i|ee)+ → i, (u|oo)+ → u.
//
// All functions in this package are pure and safe for concurrent use.
package mantra

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Devanagari Unicode block bounds.
const (
	devanagariFirst = '\u0900'
	devanagariLast  = '\u097f'
)

var (
	aRun = regexp.MustCompile(`a+`)
	iRun = regexp.MustCompile(`(?:ee|i)+`)
	uRun = regexp.MustCompile(`(?:oo|u)+`)
)

// combiningDiacritics matches the Combining Diacritical Marks block only.
// Devanagari vowel signs are combining marks too and must survive.
var combiningDiacritics = runes.Predicate(func(r rune) bool {
	return r >= '\u0300' && r <= '\u036f'
})

// Canonicalize returns the phonetic canonical form of text with all
// whitespace removed. It never fails; empty input yields empty output, and
// Canonicalize(Canonicalize(s)) == Canonicalize(s) for every s.
func Canonicalize(text string) string {
	return collapseVowels(fold(text, false))
}

// canonicalizeSpaced is Canonicalize but keeps single spaces between words.
func canonicalizeSpaced(text string) string {
	return collapseVowels(fold(text, true))
}

// fold performs the first three canonicalisation steps: diacritic stripping,
// lowercasing and character filtering. With keepSpaces, whitespace runs are
// reduced to a single space and the result is trimmed.
func fold(text string, keepSpaces bool) string {
	if text == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(combiningDiacritics))
	stripped, _, err := transform.String(t, text)
	if err != nil {
		// The transformers above cannot fail on valid strings; on invalid
		// UTF-8 fall back to the raw text and let the filter sort it out.
		stripped = text
	}
	stripped = strings.ToLower(stripped)

	var b strings.Builder
	b.Grow(len(stripped))
	pendingSpace := false
	for _, r := range stripped {
		switch {
		case isLetter(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		case keepSpaces && unicode.IsSpace(r):
			pendingSpace = true
		}
	}
	return b.String()
}

func collapseVowels(s string) string {
	if s == "" {
		return ""
	}
	s = aRun.ReplaceAllString(s, "a")
	s = iRun.ReplaceAllString(s, "i")
	s = uRun.ReplaceAllString(s, "u")
	return s
}

// isLetter reports whether r is kept by the canonical filter. Devanagari
// punctuation (danda) and digits are dropped; vowel signs and virama are
// marks and are kept.
func isLetter(r rune) bool {
	if r >= 'a' && r <= 'z' {
		return true
	}
	if r < devanagariFirst || r > devanagariLast {
		return false
	}
	return unicode.IsLetter(r) || unicode.IsMark(r)
}

// letterCount returns the number of Latin or Devanagari letters in text
// after diacritic stripping. Vowel runs are not collapsed.
func letterCount(text string) int {
	n := 0
	for range fold(text, false) {
		n++
	}
	return n
}

// HasLetters reports whether text contains anything the canonical filter
// keeps. Fragments without letters are recogniser artefacts ("...", "।").
func HasLetters(text string) bool {
	return Canonicalize(text) != ""
}
