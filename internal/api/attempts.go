package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/rt-trainer/internal/aiscore"
	"github.com/snarg/rt-trainer/internal/audio"
	"github.com/snarg/rt-trainer/internal/pool"
	"github.com/snarg/rt-trainer/internal/question"
	"github.com/snarg/rt-trainer/internal/session"
)

var (
	// ErrAttemptActive rejects a new attempt while another is recording.
	ErrAttemptActive = errors.New("api: another attempt is recording")
	// ErrAttemptNotFound is returned for unknown attempt ids.
	ErrAttemptNotFound = errors.New("api: attempt not found")
	// ErrAttemptFinished rejects a second finish on the same attempt.
	ErrAttemptFinished = errors.New("api: attempt already finished")
)

// Attempt is one trainee recording attempt against one question. The
// chunker feeds the session, which fans frames out to the provider pool.
type Attempt struct {
	ID        string
	Question  question.Question
	Session   *session.Session
	Chunker   *audio.Chunker
	CreatedAt time.Time

	timer *time.Timer

	mu       sync.Mutex
	finished bool
}

// AttemptManagerOptions wires the manager's dependencies.
type AttemptManagerOptions struct {
	Pool            *pool.Pool
	Bank            *question.Bank
	AIScore         *aiscore.Client
	ChunkerConfig   audio.ChunkerConfig
	FinalizeTimeout time.Duration
	AttemptTimeout  time.Duration
	Log             zerolog.Logger
}

// AttemptManager creates attempts and routes audio and finish requests to
// them. One attempt records at a time; the pool holds a single warm session
// per provider.
type AttemptManager struct {
	opts AttemptManagerOptions
	log  zerolog.Logger

	mu       sync.Mutex
	attempts map[string]*Attempt
	active   string
}

// NewAttemptManager creates an attempt manager.
func NewAttemptManager(opts AttemptManagerOptions) *AttemptManager {
	return &AttemptManager{
		opts:     opts,
		log:      opts.Log.With().Str("component", "attempts").Logger(),
		attempts: make(map[string]*Attempt),
	}
}

// Start creates an attempt for the question and begins a recording cycle.
func (m *AttemptManager) Start(ctx context.Context, questionID string) (*Attempt, error) {
	q, err := m.opts.Bank.Get(questionID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.active != "" {
		m.mu.Unlock()
		return nil, ErrAttemptActive
	}
	m.active = "pending"
	m.mu.Unlock()

	sess := session.New(session.Options{
		Pool:            m.opts.Pool,
		FinalizeTimeout: m.opts.FinalizeTimeout,
		Log:             m.opts.Log,
	})
	if err := sess.Begin(ctx); err != nil {
		m.mu.Lock()
		m.active = ""
		m.mu.Unlock()
		return nil, err
	}

	a := &Attempt{
		ID:        uuid.NewString(),
		Question:  q,
		Session:   sess,
		CreatedAt: time.Now(),
	}
	a.Chunker = audio.NewChunker(m.opts.ChunkerConfig, sess.Frame, m.opts.Log)
	a.Chunker.Start()

	// A trainee who walks away must not hold the active slot and the pool's
	// recording guard forever.
	if m.opts.AttemptTimeout > 0 {
		a.timer = time.AfterFunc(m.opts.AttemptTimeout, func() { m.expire(a.ID) })
	}

	m.mu.Lock()
	m.attempts[a.ID] = a
	m.active = a.ID
	m.mu.Unlock()

	m.log.Info().Str("attempt", a.ID).Str("question", q.ID).Msg("attempt started")
	return a, nil
}

// Get returns the attempt with the given id.
func (m *AttemptManager) Get(id string) (*Attempt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	return a, ok
}

// Finish ends the attempt's recording cycle and scores the result. A
// question with a deterministic expected answer is scored locally per
// provider; an open-ended question goes to the AI scoring service with the
// best transcript.
func (m *AttemptManager) Finish(ctx context.Context, id string) (*FinishResponse, error) {
	a, ok := m.Get(id)
	if !ok {
		return nil, ErrAttemptNotFound
	}

	a.mu.Lock()
	if a.finished {
		a.mu.Unlock()
		return nil, ErrAttemptFinished
	}
	a.finished = true
	a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
	}

	defer func() {
		m.mu.Lock()
		if m.active == id {
			m.active = ""
		}
		m.mu.Unlock()
	}()

	a.Chunker.Stop()

	results, err := a.Session.Finish(ctx, session.Expectation{
		Answer:   a.Question.ExpectedSpokenAnswer,
		Mode:     a.Question.Mode(),
		Keywords: a.Question.ExpectedKeywords,
	})
	if err != nil {
		return nil, err
	}

	resp := &FinishResponse{
		AttemptID:  a.ID,
		QuestionID: a.Question.ID,
		Results:    results,
	}
	if a.Question.OpenEnded() {
		resp.AIScore = m.scoreOpenEnded(ctx, a, results)
	}
	return resp, nil
}

// expire cancels an attempt whose trainee never called finish, releasing
// the active slot and the pool's recording guard. No scores are produced;
// a later finish on the expired attempt gets ErrAttemptFinished.
func (m *AttemptManager) expire(id string) {
	a, ok := m.Get(id)
	if !ok {
		return
	}

	a.mu.Lock()
	if a.finished {
		a.mu.Unlock()
		return
	}
	a.finished = true
	a.mu.Unlock()

	m.log.Warn().Str("attempt", id).Str("question", a.Question.ID).Msg("attempt abandoned, expiring")
	a.Chunker.Stop()
	a.Session.Abort()

	m.mu.Lock()
	if m.active == id {
		m.active = ""
	}
	m.mu.Unlock()
}

// scoreOpenEnded sends the best transcript to the AI scoring service. An
// empty transcript or a service failure yields a neutral result, never an
// error for the trainee.
func (m *AttemptManager) scoreOpenEnded(ctx context.Context, a *Attempt, results []session.Result) *aiscore.Result {
	transcript := bestTranscript(results)
	if strings.TrimSpace(transcript) == "" {
		return &aiscore.Result{Feedback: "No speech was detected in this attempt."}
	}

	res, err := m.opts.AIScore.Score(ctx, aiscore.Request{
		Transcript:     transcript,
		ExpectedAnswer: a.Question.ExpectedSpokenAnswer,
		ScenarioPrompt: a.Question.Prompt,
		StructureMode:  a.Question.Mode(),
	})
	if err != nil {
		m.log.Warn().Err(err).Str("attempt", a.ID).Msg("ai scoring unavailable, using fallback")
		fb := aiscore.Fallback()
		return &fb
	}
	return &res
}

// bestTranscript prefers a provider that delivered a true final transcript,
// then the longest available text.
func bestTranscript(results []session.Result) string {
	best := ""
	bestFinal := false
	for _, r := range results {
		better := (r.Final && !bestFinal) || (r.Final == bestFinal && len(r.Transcript) > len(best))
		if better {
			best = r.Transcript
			bestFinal = r.Final
		}
	}
	return best
}

// startAttemptRequest is the POST /api/v1/attempts body.
type startAttemptRequest struct {
	QuestionID string `json:"questionId"`
}

// startAttemptResponse returns the attempt id and the question as the
// trainee sees it. The correct option index stays server-side.
type startAttemptResponse struct {
	AttemptID string   `json:"attemptId"`
	Question  string   `json:"question"`
	Options   []string `json:"options"`
	Providers int      `json:"providers"`
}

// FinishResponse is the POST /api/v1/attempts/{id}/finish body.
type FinishResponse struct {
	AttemptID  string           `json:"attemptId"`
	QuestionID string           `json:"questionId"`
	Results    []session.Result `json:"results"`
	AIScore    *aiscore.Result  `json:"aiScore,omitempty"`
}

func (s *Server) handleStartAttempt(w http.ResponseWriter, r *http.Request) {
	var req startAttemptRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.QuestionID == "" {
		WriteError(w, http.StatusBadRequest, "questionId is required")
		return
	}

	a, err := s.attempts.Start(r.Context(), req.QuestionID)
	switch {
	case err == nil:
	case errors.Is(err, question.ErrNotFound):
		WriteError(w, http.StatusNotFound, "question not found")
		return
	case errors.Is(err, ErrAttemptActive):
		WriteError(w, http.StatusConflict, "another attempt is recording")
		return
	case errors.Is(err, pool.ErrExhausted):
		WriteError(w, http.StatusServiceUnavailable, "no transcription available")
		return
	default:
		WriteErrorDetail(w, http.StatusInternalServerError, "failed to start attempt", err.Error())
		return
	}

	WriteJSON(w, http.StatusCreated, startAttemptResponse{
		AttemptID: a.ID,
		Question:  a.Question.Prompt,
		Options:   a.Question.Options,
		Providers: len(s.pool.Live()),
	})
}

func (s *Server) handleFinishAttempt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	resp, err := s.attempts.Finish(r.Context(), id)
	switch {
	case err == nil:
	case errors.Is(err, ErrAttemptNotFound):
		WriteError(w, http.StatusNotFound, "attempt not found")
		return
	case errors.Is(err, ErrAttemptFinished):
		WriteError(w, http.StatusConflict, "attempt already finished")
		return
	default:
		WriteErrorDetail(w, http.StatusInternalServerError, "failed to finish attempt", err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	type listedQuestion struct {
		ID        string   `json:"id"`
		Prompt    string   `json:"prompt"`
		Options   []string `json:"options"`
		OpenEnded bool     `json:"openEnded"`
	}
	all := s.bank.All()
	out := make([]listedQuestion, 0, len(all))
	for _, q := range all {
		out = append(out, listedQuestion{
			ID:        q.ID,
			Prompt:    q.Prompt,
			Options:   q.Options,
			OpenEnded: q.OpenEnded(),
		})
	}
	WriteJSON(w, http.StatusOK, out)
}
