package score

import (
	"strings"
	"unicode"
)

// digitWords maps spoken number words to their canonical digit-word form.
// Includes the R/T phonetic "niner".
var digitWords = map[string]string{
	"zero":  "zero",
	"one":   "one",
	"two":   "two",
	"three": "three",
	"four":  "four",
	"five":  "five",
	"six":   "six",
	"seven": "seven",
	"eight": "eight",
	"nine":  "nine",
	"niner": "nine",
}

// tensWords maps compound tens words to their leading digit word.
// "twenty seven" expands to "two seven"; a bare "twenty" to "two zero".
var tensWords = map[string]string{
	"twenty":  "two",
	"thirty":  "three",
	"forty":   "four",
	"fifty":   "five",
	"sixty":   "six",
	"seventy": "seven",
	"eighty":  "eight",
	"ninety":  "nine",
}

// teenWords maps ten through nineteen to their two digit words.
var teenWords = map[string][2]string{
	"ten":       {"one", "zero"},
	"eleven":    {"one", "one"},
	"twelve":    {"one", "two"},
	"thirteen":  {"one", "three"},
	"fourteen":  {"one", "four"},
	"fifteen":   {"one", "five"},
	"sixteen":   {"one", "six"},
	"seventeen": {"one", "seven"},
	"eighteen":  {"one", "eight"},
	"nineteen":  {"one", "nine"},
}

var digitNames = [10]string{"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine"}

// phraseVariants collapses multi-word variants onto a canonical token.
// Matched greedily against the token stream after number expansion.
var phraseVariants = []struct {
	from []string
	to   string
}{
	{[]string{"roger", "that"}, "roger"},
	{[]string{"copy", "that"}, "copy"},
	{[]string{"ground", "control"}, "ground"},
}

// Normalize converts a transcript or expected phrase into canonical R/T
// token form so that spoken and written renderings of the same transmission
// compare equal ("runway 27" == "runway two seven" == "runway twenty seven").
// Idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "-", " ")
	s = stripPunctuation(s)

	tokens := strings.Fields(s)
	tokens = expandNumberWords(tokens)
	tokens = expandDigitRuns(tokens)
	tokens = collapsePhraseVariants(tokens)

	return strings.Join(tokens, " ")
}

// stripPunctuation removes everything except letters, digits and spaces.
func stripPunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// expandNumberWords rewrites compound and standalone number words into
// digit-by-digit form: "twenty seven" -> "two seven", "fifteen" ->
// "one five", "niner" -> "nine".
func expandNumberWords(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]

		if lead, ok := tensWords[tok]; ok {
			// Tens compound: absorb a trailing digit word if present,
			// otherwise the ones place is zero.
			if i+1 < len(tokens) {
				if d, ok := digitWords[tokens[i+1]]; ok {
					out = append(out, lead, d)
					i++
					continue
				}
			}
			out = append(out, lead, "zero")
			continue
		}

		if pair, ok := teenWords[tok]; ok {
			out = append(out, pair[0], pair[1])
			continue
		}

		if d, ok := digitWords[tok]; ok {
			out = append(out, d)
			continue
		}

		out = append(out, tok)
	}
	return out
}

// expandDigitRuns converts numeric tokens into spoken digit words. Digit
// runs appear after number prefixes (runway, heading, squawk, ...) and
// callsign prefixes ("bowser 1" -> "bowser one"); there is no reading of a
// bare number in R/T that is not digit-by-digit, so every run expands.
func expandDigitRuns(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if !isDigitRun(tok) {
			out = append(out, tok)
			continue
		}
		for _, r := range tok {
			out = append(out, digitNames[r-'0'])
		}
	}
	return out
}

func isDigitRun(tok string) bool {
	if tok == "" {
		return false
	}
	for _, r := range tok {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// collapsePhraseVariants rewrites known phrase variants onto their
// canonical single token. Runs to a fixed point so a collapse cannot expose
// a new variant ("roger that that") and break idempotence.
func collapsePhraseVariants(tokens []string) []string {
	for {
		out := collapseOnce(tokens)
		if len(out) == len(tokens) {
			return out
		}
		tokens = out
	}
}

func collapseOnce(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		matched := false
		for _, pv := range phraseVariants {
			if matchAt(tokens, i, pv.from) {
				out = append(out, pv.to)
				i += len(pv.from) - 1
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, tokens[i])
		}
	}
	return out
}

func matchAt(tokens []string, i int, phrase []string) bool {
	if i+len(phrase) > len(tokens) {
		return false
	}
	for j, w := range phrase {
		if tokens[i+j] != w {
			return false
		}
	}
	return true
}
