// Package question loads and serves the scenario question bank: JSON files
// on disk, one question per file, hot-reloaded while the service runs.
package question

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/snarg/rt-trainer/internal/score"
)

// ErrValidation marks a question file that fails the contract. Invalid files
// are logged and skipped, never fatal.
var ErrValidation = errors.New("question: invalid")

// ErrNotFound is returned when no question carries the requested id.
var ErrNotFound = errors.New("question: not found")

const optionCount = 4

// Question is one multiple-choice scenario. A question with an
// ExpectedSpokenAnswer is scored deterministically; one without is
// open-ended and scored by the AI scoring service.
type Question struct {
	ID                   string              `json:"id"`
	Prompt               string              `json:"prompt"`
	Options              []string            `json:"options"`
	CorrectIndex         int                 `json:"correctIndex"`
	ExpectedSpokenAnswer string              `json:"expectedSpokenAnswer,omitempty"`
	StructureMode        score.StructureMode `json:"structureMode,omitempty"`
	ExpectedKeywords     []string            `json:"expectedKeywords,omitempty"`
}

// OpenEnded reports whether the question has no deterministic expected
// answer.
func (q *Question) OpenEnded() bool { return q.ExpectedSpokenAnswer == "" }

// Mode returns the structure mode, defaulting to a full transmission.
func (q *Question) Mode() score.StructureMode {
	if q.StructureMode == "" {
		return score.ModeFullTransmission
	}
	return q.StructureMode
}

// Validate checks the question contract.
func (q *Question) Validate() error {
	if strings.TrimSpace(q.Prompt) == "" {
		return fmt.Errorf("%w: empty prompt", ErrValidation)
	}
	if len(q.Options) != optionCount {
		return fmt.Errorf("%w: %d options, want %d", ErrValidation, len(q.Options), optionCount)
	}
	for i, opt := range q.Options {
		if strings.TrimSpace(opt) == "" {
			return fmt.Errorf("%w: option %d empty", ErrValidation, i)
		}
	}
	if q.CorrectIndex < 0 || q.CorrectIndex >= optionCount {
		return fmt.Errorf("%w: correctIndex %d out of range", ErrValidation, q.CorrectIndex)
	}
	if q.StructureMode != "" && !score.ValidStructureMode(q.StructureMode) {
		return fmt.Errorf("%w: unknown structureMode %q", ErrValidation, q.StructureMode)
	}
	return nil
}

// Bank holds the loaded question set, keyed by id. Safe for concurrent use;
// the watcher mutates it while handlers read.
type Bank struct {
	dir string
	log zerolog.Logger

	mu        sync.RWMutex
	questions map[string]Question
	byFile    map[string]string // file path -> question id
}

// NewBank creates a bank over a directory. Call Load before serving.
func NewBank(dir string, log zerolog.Logger) *Bank {
	return &Bank{
		dir:       dir,
		log:       log.With().Str("component", "questions").Logger(),
		questions: make(map[string]Question),
		byFile:    make(map[string]string),
	}
}

// Load reads every .json file in the directory. Malformed files are logged
// and skipped; the error return covers only the directory itself.
func (b *Bank) Load() error {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return fmt.Errorf("read question dir: %w", err)
	}

	loaded, skipped := 0, 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".json") {
			continue
		}
		if err := b.loadFile(filepath.Join(b.dir, e.Name())); err != nil {
			skipped++
			continue
		}
		loaded++
	}

	b.log.Info().Int("loaded", loaded).Int("skipped", skipped).Str("dir", b.dir).Msg("question bank loaded")
	return nil
}

// loadFile parses and validates one question file, replacing any previous
// question loaded from the same path.
func (b *Bank) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		b.log.Warn().Err(err).Str("path", path).Msg("failed to read question file")
		return err
	}

	var q Question
	if err := json.Unmarshal(data, &q); err != nil {
		b.log.Warn().Err(err).Str("path", path).Msg("failed to parse question file")
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if q.ID == "" {
		q.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := q.Validate(); err != nil {
		b.log.Warn().Err(err).Str("path", path).Msg("skipping invalid question")
		return err
	}

	b.mu.Lock()
	if oldID, ok := b.byFile[path]; ok && oldID != q.ID {
		delete(b.questions, oldID)
	}
	b.questions[q.ID] = q
	b.byFile[path] = q.ID
	b.mu.Unlock()
	return nil
}

// removeFile drops the question loaded from a deleted or renamed file.
func (b *Bank) removeFile(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.byFile[path]; ok {
		delete(b.questions, id)
		delete(b.byFile, path)
		b.log.Info().Str("id", id).Str("path", path).Msg("question removed")
	}
}

// Get returns the question with the given id.
func (b *Bank) Get(id string) (Question, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.questions[id]
	if !ok {
		return Question{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return q, nil
}

// All returns the loaded questions sorted by id.
func (b *Bank) All() []Question {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Question, 0, len(b.questions))
	for _, q := range b.questions {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of loaded questions.
func (b *Bank) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.questions)
}
