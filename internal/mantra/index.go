package mantra

import (
	"sort"
	"strings"
)

// Index is the precomputed comparison data for one saved mantra. An Index is
// immutable once built by [Build] and may be shared read-only between
// sessions. The zero value is an empty index that never matches.
type Index struct {
	// RawPhrase is the saved phrase, lowercased and trimmed.
	RawPhrase string

	// Tokens are the whitespace-separated words of RawPhrase.
	Tokens []string

	// Concatenated is Tokens joined without a separator.
	Concatenated string

	// CanonicalTokens holds the canonical form of every token.
	CanonicalTokens map[string]struct{}

	// CanonicalPhrase is the canonical form of Concatenated.
	CanonicalPhrase string

	// Candidates is the union of the raw tokens, Concatenated, RawPhrase,
	// CanonicalPhrase and CanonicalTokens. Fragments are matched against it
	// by substring containment.
	Candidates map[string]struct{}

	// canonicalCandidates maps every candidate to its whitespace-free
	// canonical form so Matches does not recompute it per fragment.
	canonicalCandidates map[string]string
}

// Build constructs the [Index] for phrase. A phrase that contains no Latin
// or Devanagari letters produces an empty index, so a saved phrase can
// always match itself when the index is non-empty.
func Build(phrase string) *Index {
	raw := strings.ToLower(strings.TrimSpace(phrase))
	if Canonicalize(raw) == "" {
		return &Index{}
	}

	idx := &Index{
		RawPhrase:           raw,
		Tokens:              strings.Fields(raw),
		CanonicalTokens:     make(map[string]struct{}),
		Candidates:          make(map[string]struct{}),
		canonicalCandidates: make(map[string]string),
	}
	idx.Concatenated = strings.Join(idx.Tokens, "")
	idx.CanonicalPhrase = Canonicalize(idx.Concatenated)

	for _, tok := range idx.Tokens {
		c := Canonicalize(tok)
		if c == "" {
			// Punctuation-only token such as "-" or "|".
			continue
		}
		idx.CanonicalTokens[c] = struct{}{}
		idx.add(tok)
		idx.add(c)
	}
	idx.add(idx.Concatenated)
	idx.add(raw)
	idx.add(idx.CanonicalPhrase)
	return idx
}

func (idx *Index) add(candidate string) {
	if candidate == "" {
		return
	}
	idx.Candidates[candidate] = struct{}{}
	idx.canonicalCandidates[candidate] = Canonicalize(candidate)
}

// Empty reports whether idx has no candidates. An empty index never matches.
func (idx *Index) Empty() bool {
	return idx == nil || len(idx.Candidates) == 0
}

// CandidateList returns the candidates in sorted order.
func (idx *Index) CandidateList() []string {
	if idx.Empty() {
		return nil
	}
	out := make([]string, 0, len(idx.Candidates))
	for c := range idx.Candidates {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
