package stt

// Transcript is one recognition result. Both partial and final results use
// this type.
type Transcript struct {
	// Text is the top-choice transcription.
	Text string

	// IsFinal reports whether the recogniser has committed to this result.
	IsFinal bool

	// Confidence is the recogniser's score in [0, 1]. Only meaningful when
	// HasConfidence is true.
	Confidence float64

	// HasConfidence is false for recognisers that do not report a score.
	HasConfidence bool
}

// Score returns the confidence, treating an unreported score as certain.
func (t Transcript) Score() float64 {
	if !t.HasConfidence {
		return 1.0
	}
	return t.Confidence
}

// KeywordBoost is a recognition vocabulary hint.
type KeywordBoost struct {
	// Keyword is the word to boost (e.g. "shivaya").
	Keyword string

	// Boost is the provider-specific intensity.
	Boost float64
}
