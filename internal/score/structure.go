package score

import "strings"

// StructureMode names the grammar variant a transmission is validated
// against.
type StructureMode string

const (
	// ModeFullTransmission requires receiver, sender callsign, message body
	// and a closing phrase, in that order.
	ModeFullTransmission StructureMode = "full_transmission"
	// ModeShortAcknowledgment requires only an acknowledgment token;
	// receiver and sender are optional.
	ModeShortAcknowledgment StructureMode = "short_acknowledgment"
	// ModeClarificationRequest requires a receiver and a clarification
	// phrase ("say again", "confirm", ...).
	ModeClarificationRequest StructureMode = "clarification_request"
)

// Violation is a named structural deduction.
type Violation struct {
	Code   string `json:"code"`
	Points int    `json:"points"`
}

// Deduction points per named violation. Fixed and independently composable.
const (
	deductMissingReceiver      = 25
	deductMissingSender        = 25
	deductMissingMessage       = 30
	deductMissingClosing       = 20
	deductMisordered           = 15
	deductMissingAck           = 50
	deductMissingClarification = 50
)

// receiverTokens are station address words that open a transmission.
var receiverTokens = map[string]bool{
	"atc":     true,
	"ground":  true,
	"tower":   true,
	"control": true,
	"base":    true,
	"ops":     true,
}

// closingTokens close a transmission.
var closingTokens = map[string]bool{
	"over":  true,
	"out":   true,
	"roger": true,
	"wilco": true,
}

// ackTokens satisfy a short acknowledgment.
var ackTokens = map[string]bool{
	"roger":       true,
	"wilco":       true,
	"copy":        true,
	"affirm":      true,
	"affirmative": true,
	"negative":    true,
}

// clarificationPhrases satisfy a clarification request.
var clarificationPhrases = [][]string{
	{"say", "again"},
	{"repeat"},
	{"confirm"},
	{"verify"},
}

// ValidStructureMode reports whether mode names a known grammar.
func ValidStructureMode(mode StructureMode) bool {
	switch mode {
	case ModeFullTransmission, ModeShortAcknowledgment, ModeClarificationRequest:
		return true
	}
	return false
}

// Structure validates the normalized transcript against the named grammar
// mode and returns a 0-100 score plus the list of named violations.
// Deterministic: same transcript and mode always produce the same result.
func Structure(normalized string, mode StructureMode) (int, []Violation) {
	tokens := strings.Fields(normalized)

	var violations []Violation
	switch mode {
	case ModeShortAcknowledgment:
		violations = checkShortAcknowledgment(tokens)
	case ModeClarificationRequest:
		violations = checkClarificationRequest(tokens)
	default:
		violations = checkFullTransmission(tokens)
	}

	total := 100
	for _, v := range violations {
		total -= v.Points
	}
	return clamp(total), violations
}

// checkFullTransmission requires, in order: receiver token, sender callsign,
// message body, closing phrase. Each element deducts independently when
// absent; out-of-order elements deduct once.
func checkFullTransmission(tokens []string) []Violation {
	var violations []Violation

	recvIdx := indexOfSet(tokens, receiverTokens)
	sendIdx := callsignIndex(tokens)
	closeIdx := closingIndex(tokens)

	if recvIdx < 0 {
		violations = append(violations, Violation{Code: "missing_receiver", Points: deductMissingReceiver})
	}
	if sendIdx < 0 {
		violations = append(violations, Violation{Code: "missing_sender", Points: deductMissingSender})
	}
	if !hasMessageBody(tokens, recvIdx, sendIdx, closeIdx) {
		violations = append(violations, Violation{Code: "missing_message", Points: deductMissingMessage})
	}
	if closeIdx < 0 {
		violations = append(violations, Violation{Code: "missing_closing", Points: deductMissingClosing})
	}

	if recvIdx >= 0 && sendIdx >= 0 && sendIdx < recvIdx {
		violations = append(violations, Violation{Code: "misordered_receiver_sender", Points: deductMisordered})
	}

	return violations
}

func checkShortAcknowledgment(tokens []string) []Violation {
	if indexOfSet(tokens, ackTokens) < 0 {
		return []Violation{{Code: "missing_acknowledgment", Points: deductMissingAck}}
	}
	return nil
}

func checkClarificationRequest(tokens []string) []Violation {
	var violations []Violation
	if indexOfSet(tokens, receiverTokens) < 0 {
		violations = append(violations, Violation{Code: "missing_receiver", Points: deductMissingReceiver})
	}
	found := false
	for i := range tokens {
		for _, p := range clarificationPhrases {
			if matchAt(tokens, i, p) {
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		violations = append(violations, Violation{Code: "missing_clarification", Points: deductMissingClarification})
	}
	return violations
}

// callsignIndex finds a sender callsign: an alphabetic word immediately
// followed by a digit word ("bowser one"). Receiver station words don't
// qualify.
func callsignIndex(tokens []string) int {
	digits := make(map[string]bool, len(digitNames))
	for _, d := range digitNames {
		digits[d] = true
	}
	for i := 0; i+1 < len(tokens); i++ {
		if receiverTokens[tokens[i]] || digits[tokens[i]] {
			continue
		}
		if digits[tokens[i+1]] {
			return i
		}
	}
	return -1
}

// closingIndex finds the closing phrase, which must be the final token.
func closingIndex(tokens []string) int {
	if len(tokens) == 0 {
		return -1
	}
	last := len(tokens) - 1
	if closingTokens[tokens[last]] {
		return last
	}
	return -1
}

// hasMessageBody checks that tokens beyond the receiver, sender callsign and
// closing phrase carry an actual message or intent.
func hasMessageBody(tokens []string, recvIdx, sendIdx, closeIdx int) bool {
	used := make(map[int]bool)
	if recvIdx >= 0 {
		used[recvIdx] = true
	}
	if sendIdx >= 0 {
		used[sendIdx] = true
		used[sendIdx+1] = true // callsign digit word
	}
	if closeIdx >= 0 {
		used[closeIdx] = true
	}

	body := 0
	for i := range tokens {
		if !used[i] {
			body++
		}
	}
	return body >= 2
}

func indexOfSet(tokens []string, set map[string]bool) int {
	for i, tok := range tokens {
		if set[tok] {
			return i
		}
	}
	return -1
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
