// Package aiscore calls the external AI scoring service for open-ended
// questions that have no deterministic expected answer.
package aiscore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/rt-trainer/internal/score"
)

// ErrScoring marks an AI scoring failure. Callers fall back to a neutral
// result rather than failing the attempt.
var ErrScoring = errors.New("aiscore: scoring failed")

// Request is what the scoring service receives.
type Request struct {
	Transcript     string              `json:"transcript"`
	ExpectedAnswer string              `json:"expectedAnswer,omitempty"`
	ScenarioPrompt string              `json:"scenarioPrompt"`
	StructureMode  score.StructureMode `json:"structureMode"`
}

// Result is the service's judgment. Scores are clamped to 0-100 on receipt;
// the filler detail and protocol notes pass through untouched.
type Result struct {
	Accuracy           int      `json:"accuracy"`
	Fluency            int      `json:"fluency"`
	Structure          int      `json:"structure"`
	Overall            int      `json:"overall"`
	Feedback           string   `json:"feedback"`
	FillerWords        []string `json:"fillerWords,omitempty"`
	FillerCount        int      `json:"fillerCount"`
	RadioProtocolNotes string   `json:"radioProtocolNotes,omitempty"`
}

// Client calls the AI scoring HTTP endpoint.
type Client struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

// NewClient creates a client with the given request timeout.
func NewClient(url string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log.With().Str("component", "aiscore").Logger(),
	}
}

// Score sends the transcript for judgment. Any failure returns ErrScoring
// wrapped around the cause; use Fallback for the neutral result.
func (c *Client) Score(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: marshal request: %v", ErrScoring, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("%w: create request: %v", ErrScoring, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrScoring, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: read response: %v", ErrScoring, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: status %d: %s", ErrScoring, resp.StatusCode, string(data))
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return Result{}, fmt.Errorf("%w: decode response: %v", ErrScoring, err)
	}

	res.Accuracy = clamp(res.Accuracy)
	res.Fluency = clamp(res.Fluency)
	res.Structure = clamp(res.Structure)
	res.Overall = clamp(res.Overall)
	return res, nil
}

// Fallback is the neutral zero result used when the service is unavailable.
// The feedback string tells the trainee why there is no judgment, so a
// scoring outage never looks like a zero-quality transmission.
func Fallback() Result {
	return Result{
		Feedback: "Automatic scoring was unavailable for this attempt. Your transmission was recorded but could not be evaluated.",
	}
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
