package score

import "strings"

const (
	perFillerPenalty = 8
	fillerPenaltyCap = 40
)

// fillerVocab is the fixed vocabulary of disfluency tokens. Multi-word
// fillers are matched as consecutive tokens.
var fillerVocab = [][]string{
	{"um"},
	{"umm"},
	{"uh"},
	{"uhh"},
	{"er"},
	{"erm"},
	{"ah"},
	{"hmm"},
	{"like"},
	{"basically"},
	{"you", "know"},
	{"i", "mean"},
	{"sort", "of"},
	{"kind", "of"},
}

// DetectFillers returns the filler tokens found in the transcript, in order
// of appearance. Matching is case-insensitive on punctuation-stripped tokens.
func DetectFillers(transcript string) []string {
	s := stripPunctuation(strings.ToLower(transcript))
	tokens := strings.Fields(s)

	var found []string
	for i := 0; i < len(tokens); i++ {
		for _, f := range fillerVocab {
			if matchAt(tokens, i, f) {
				found = append(found, strings.Join(f, " "))
				i += len(f) - 1
				break
			}
		}
	}
	return found
}

// Fluency scores delivery smoothness: 100 minus a capped per-filler penalty.
// Monotonic non-increasing in filler count, never below 100 - cap.
func Fluency(fillerCount int) int {
	penalty := perFillerPenalty * fillerCount
	if penalty > fillerPenaltyCap {
		penalty = fillerPenaltyCap
	}
	return 100 - penalty
}
