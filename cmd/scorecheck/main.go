// scorecheck runs the scoring engine offline against a transcript/expected
// pair. Useful for tuning question expected answers and inspecting why a
// readback scored the way it did.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/snarg/rt-trainer/internal/score"
)

func main() {
	var (
		expected   = flag.String("expected", "", "expected spoken answer")
		transcript = flag.String("transcript", "", "transcript to score")
		mode       = flag.String("mode", string(score.ModeFullTransmission), "structure mode: full_transmission, short_acknowledgment, clarification_request")
		keywords   = flag.String("keywords", "", "comma-separated expected keywords")
	)
	flag.Parse()

	if *expected == "" || *transcript == "" {
		fmt.Fprintln(os.Stderr, "usage: scorecheck -expected \"...\" -transcript \"...\" [-mode m] [-keywords a,b]")
		os.Exit(2)
	}

	structureMode := score.StructureMode(*mode)
	if !score.ValidStructureMode(structureMode) {
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		os.Exit(2)
	}

	var kw []string
	for _, k := range strings.Split(*keywords, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kw = append(kw, k)
		}
	}

	b := score.Score(score.Input{
		Transcript: *transcript,
		Expected:   *expected,
		Mode:       structureMode,
		Keywords:   kw,
	})

	normExpected := score.Normalize(*expected)
	normTranscript := score.Normalize(*transcript)

	fmt.Printf("expected (normalized):   %s\n", normExpected)
	fmt.Printf("transcript (normalized): %s\n", normTranscript)
	fmt.Println()
	fmt.Printf("accuracy:   %3d  (similarity %.3f)\n", b.Accuracy, b.SimilarityRatio)
	fmt.Printf("fluency:    %3d  (fillers: %s)\n", b.Fluency, orNone(b.FillerWords))
	fmt.Printf("structure:  %3d\n", b.Structure)
	for _, v := range b.Violations {
		fmt.Printf("  -%d %s\n", v.Points, v.Code)
	}
	fmt.Printf("overall:    %3d\n", b.Overall)

	if len(b.MissedKeywords) > 0 {
		fmt.Printf("\nmissed keywords: %s\n", strings.Join(b.MissedKeywords, ", "))
	}

	if mismatches := score.Diff(normExpected, normTranscript); len(mismatches) > 0 {
		fmt.Println("\ntoken mismatches:")
		for _, m := range mismatches {
			fmt.Printf("  position %2d: expected %q, got %q\n", m.Position, m.Expected, m.Transcript)
		}
	}
}

func orNone(words []string) string {
	if len(words) == 0 {
		return "none"
	}
	return strings.Join(words, ", ")
}
