// Package score implements the deterministic multi-stage scorer for radio
// transmission readbacks: text normalization, similarity-based accuracy,
// filler-based fluency and structural grammar compliance, combined into a
// fixed-weight overall score. Every stage is pure; identical inputs always
// produce identical output.
package score

import (
	"math"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Overall weights. Accuracy carries half the score, fluency 30%, structure 20%.
const (
	weightAccuracy  = 0.50
	weightFluency   = 0.30
	weightStructure = 0.20
)

// Input is everything the scorer needs for one transmission.
type Input struct {
	Transcript string
	Expected   string
	Mode       StructureMode
	Keywords   []string
}

// Breakdown is the scoring result. All four scores are integers in [0,100].
// Immutable once produced.
type Breakdown struct {
	Accuracy  int `json:"accuracy"`
	Fluency   int `json:"fluency"`
	Structure int `json:"structure"`
	Overall   int `json:"overall"`

	SimilarityRatio float64     `json:"similarity_ratio"`
	FillerWords     []string    `json:"filler_words,omitempty"`
	FillerCount     int         `json:"filler_count"`
	Violations      []Violation `json:"structural_violations,omitempty"`
	MissedKeywords  []string    `json:"missed_keywords,omitempty"`
}

// Score runs the full pipeline for one transcript against its expected
// phrase. An empty transcript yields an all-zero breakdown; callers are
// expected to treat that case as a validation failure before presenting it.
func Score(in Input) Breakdown {
	if strings.TrimSpace(in.Transcript) == "" {
		return Breakdown{}
	}

	normTranscript := Normalize(in.Transcript)
	normExpected := Normalize(in.Expected)

	ratio := Similarity(normTranscript, normExpected)
	accuracy := int(math.Round(ratio * 100))

	fillers := DetectFillers(in.Transcript)
	fluency := Fluency(len(fillers))

	structure, violations := Structure(normTranscript, in.Mode)

	overall := Overall(accuracy, fluency, structure)

	return Breakdown{
		Accuracy:        clamp(accuracy),
		Fluency:         clamp(fluency),
		Structure:       structure,
		Overall:         overall,
		SimilarityRatio: ratio,
		FillerWords:     fillers,
		FillerCount:     len(fillers),
		Violations:      violations,
		MissedKeywords:  missedKeywords(normTranscript, in.Keywords),
	}
}

// Similarity is the levenshtein ratio between two normalized strings,
// in [0,1]. Two empty strings are identical.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	return levenshtein.RatioForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
}

// Overall combines the three stage scores with fixed weights, rounded and
// clamped to [0,100].
func Overall(accuracy, fluency, structure int) int {
	v := weightAccuracy*float64(accuracy) + weightFluency*float64(fluency) + weightStructure*float64(structure)
	return clamp(int(math.Round(v)))
}

// missedKeywords reports which expected keywords do not appear in the
// normalized transcript. Informational only; does not move any score.
func missedKeywords(normTranscript string, keywords []string) []string {
	var missed []string
	padded := " " + normTranscript + " "
	for _, kw := range keywords {
		n := Normalize(kw)
		if n == "" {
			continue
		}
		if !strings.Contains(padded, " "+n+" ") {
			missed = append(missed, kw)
		}
	}
	return missed
}
