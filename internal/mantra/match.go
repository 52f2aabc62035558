package mantra

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Mismatch heuristic thresholds.
const (
	// noiseMaxLetters is the letter count below which a low-confidence
	// fragment is considered recogniser noise.
	noiseMaxLetters = 3

	// noiseMaxConfidence is the confidence below which a short fragment is
	// considered noise.
	noiseMaxConfidence = 0.5

	// speechMinConfidence alone is enough to treat a fragment as real speech.
	speechMinConfidence = 0.25

	// speechMinLetters alone is enough to treat a fragment as real speech.
	speechMinLetters = 4
)

// Matches reports whether fragment contains the mantra or any part of it.
//
// The fragment is canonicalised twice, with and without whitespace. It
// matches when the whitespace-free form contains the canonical form of any
// candidate, or the spaced form contains any raw candidate verbatim. Hearing
// a single word of a multi-word mantra therefore counts as a match.
func (idx *Index) Matches(fragment string) bool {
	if idx.Empty() {
		return false
	}
	flat := Canonicalize(fragment)
	spaced := canonicalizeSpaced(fragment)
	if flat == "" {
		return false
	}
	for raw, canonical := range idx.canonicalCandidates {
		if canonical != "" && strings.Contains(flat, canonical) {
			return true
		}
		if strings.Contains(spaced, raw) {
			return true
		}
	}
	return false
}

// MismatchWorthFlagging reports whether a final fragment that did not match
// is real unrelated speech rather than background noise or a recogniser
// artefact. The policy favours catching off-chant speech:
//
//   - a matching fragment is never flagged;
//   - a fragment without letters is never flagged;
//   - fewer than 3 letters with confidence below 0.5 is noise;
//   - otherwise confidence ≥ 0.25 or at least 4 letters is flagged.
func (idx *Index) MismatchWorthFlagging(fragment string, confidence float64) bool {
	if idx.Matches(fragment) {
		return false
	}
	letters := letterCount(fragment)
	if letters == 0 {
		return false
	}
	if letters < noiseMaxLetters && confidence < noiseMaxConfidence {
		return false
	}
	return confidence >= speechMinConfidence || letters >= speechMinLetters
}

// Closeness describes how near a fragment came to the mantra. It is a
// diagnostic for logs and metrics and never affects a match decision.
type Closeness struct {
	// Score is the best Jaro-Winkler similarity between the canonical
	// fragment and either the canonical phrase or one canonical token.
	Score float64

	// Phonetic is true when a Double Metaphone code of any fragment word
	// equals one of any mantra word.
	Phonetic bool
}

// Closeness scores fragment against the mantra. It returns the zero value
// for an empty index or a fragment without letters.
func (idx *Index) Closeness(fragment string) Closeness {
	if idx.Empty() {
		return Closeness{}
	}
	flat := Canonicalize(fragment)
	if flat == "" {
		return Closeness{}
	}

	var c Closeness
	c.Score = matchr.JaroWinkler(flat, idx.CanonicalPhrase, false)
	for tok := range idx.CanonicalTokens {
		if s := matchr.JaroWinkler(flat, tok, false); s > c.Score {
			c.Score = s
		}
	}

	mantraCodes := metaphoneCodes(idx.canonicalWords())
	for code := range metaphoneCodes(strings.Fields(canonicalizeSpaced(fragment))) {
		if _, ok := mantraCodes[code]; ok {
			c.Phonetic = true
			break
		}
	}
	return c
}

// canonicalWords returns the canonical spelling of each mantra token, so
// both sides of the phonetic comparison see the same vowel folding.
func (idx *Index) canonicalWords() []string {
	words := make([]string, 0, len(idx.CanonicalTokens))
	for w := range idx.CanonicalTokens {
		words = append(words, w)
	}
	return words
}

func metaphoneCodes(words []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(words)*2)
	for _, w := range words {
		p, s := matchr.DoubleMetaphone(w)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}
