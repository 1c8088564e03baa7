package score

import "strings"

// Mismatch is a token-position difference between expected and transcript.
type Mismatch struct {
	Position   int    `json:"position"`
	Expected   string `json:"expected"`
	Transcript string `json:"transcript"`
}

// Diff aligns two normalized token streams position by position and reports
// every mismatching position. A missing token on either side is reported
// with an empty string. Used to show a trainee exactly which word of the
// readback went wrong (e.g. runway two five vs runway two seven).
func Diff(normExpected, normTranscript string) []Mismatch {
	exp := strings.Fields(normExpected)
	got := strings.Fields(normTranscript)

	n := len(exp)
	if len(got) > n {
		n = len(got)
	}

	var out []Mismatch
	for i := 0; i < n; i++ {
		var e, g string
		if i < len(exp) {
			e = exp[i]
		}
		if i < len(got) {
			g = got[i]
		}
		if e != g {
			out = append(out, Mismatch{Position: i, Expected: e, Transcript: g})
		}
	}
	return out
}
