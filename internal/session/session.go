package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/rt-trainer/internal/metrics"
	"github.com/snarg/rt-trainer/internal/pool"
	"github.com/snarg/rt-trainer/internal/provider"
	"github.com/snarg/rt-trainer/internal/score"
)

// ErrNotRecording is returned by Finish when no recording cycle is active.
var ErrNotRecording = errors.New("session: no recording cycle active")

// Expectation is what the trainee was supposed to say, carried from the
// question into scoring.
type Expectation struct {
	Answer   string
	Mode     score.StructureMode
	Keywords []string
}

// Result is one provider's outcome for a finished attempt. Score is nil for
// open-ended questions, which have no deterministic expected answer to score
// against.
type Result struct {
	Provider   provider.ID           `json:"provider"`
	Transcript string                `json:"transcript"`
	Final      bool                  `json:"final"`
	TimedOut   bool                  `json:"timed_out"`
	Words      []provider.WordTiming `json:"words,omitempty"`
	Score      *score.Breakdown      `json:"score,omitempty"`
}

// Options configures a session.
type Options struct {
	Pool            *pool.Pool
	FinalizeTimeout time.Duration
	Log             zerolog.Logger
}

// Session runs recording cycles against the warm provider pool. One Session
// serves one trainee attempt at a time; Begin and Finish bracket a cycle.
type Session struct {
	pool            *pool.Pool
	agg             *Aggregator
	finalizeTimeout time.Duration
	log             zerolog.Logger

	mu       sync.Mutex
	adapters []provider.Adapter
	cycle    uint64
	cancels  []func()
	active   bool
}

// New creates a session bound to the pool.
func New(opts Options) *Session {
	return &Session{
		pool:            opts.Pool,
		agg:             NewAggregator(opts.Log),
		finalizeTimeout: opts.FinalizeTimeout,
		log:             opts.Log.With().Str("component", "session").Logger(),
	}
}

// Begin starts a recording cycle: acquires live adapters (initializing the
// pool if it is cold), resets their transcript state, and begins consuming
// their events under a fresh cycle id.
func (s *Session) Begin(ctx context.Context) error {
	adapters, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire providers: %w", err)
	}

	s.pool.ResetAdaptersForNewRecording()
	s.pool.BeginRecording()

	ids := make([]provider.ID, len(adapters))
	for i, a := range adapters {
		ids[i] = a.ID()
	}
	cycle := s.agg.BeginCycle(ids)

	s.mu.Lock()
	s.adapters = adapters
	s.cycle = cycle
	s.active = true
	s.cancels = nil
	for _, a := range adapters {
		ch, cancel := a.Events().Subscribe()
		s.cancels = append(s.cancels, cancel)
		go s.consume(cycle, ch)
	}
	s.mu.Unlock()

	s.log.Info().Uint64("cycle", cycle).Int("providers", len(adapters)).Msg("recording cycle started")
	return nil
}

// consume applies events from one adapter subscription to the aggregator.
// The captured cycle id makes events from a previous attempt inert.
func (s *Session) consume(cycle uint64, ch <-chan provider.Event) {
	for e := range ch {
		s.agg.Apply(cycle, e)
	}
}

// Frame fans one audio frame out to every adapter able to accept it. Frames
// for adapters that are not ready are dropped, never buffered.
func (s *Session) Frame(frame []byte) {
	s.mu.Lock()
	adapters := s.adapters
	active := s.active
	s.mu.Unlock()
	if !active {
		return
	}

	for _, a := range adapters {
		if a.State().CanSendAudio() {
			a.SendAudio(frame)
			metrics.FramesFannedOut.WithLabelValues(string(a.ID())).Inc()
		} else {
			metrics.FramesDropped.WithLabelValues(string(a.ID())).Inc()
		}
	}
}

// Finish ends the recording cycle: signals end-of-audio to every adapter,
// waits up to FinalizeTimeout per provider for a final transcript (falling
// back to the best-known text on timeout), then scores each provider's
// transcript against the expectation.
func (s *Session) Finish(ctx context.Context, exp Expectation) ([]Result, error) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil, ErrNotRecording
	}
	adapters := s.adapters
	cancels := s.cancels
	s.active = false
	s.mu.Unlock()

	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
		s.pool.EndRecording()
	}()

	for _, a := range adapters {
		a.EndAudio()
	}

	results := make([]Result, len(adapters))
	var wg sync.WaitGroup
	for i, a := range adapters {
		wg.Add(1)
		go func(i int, a provider.Adapter) {
			defer wg.Done()
			results[i] = s.finishOne(ctx, a, exp)
		}(i, a)
	}
	wg.Wait()

	return results, nil
}

// Abort ends the recording cycle without scoring. Adapters still get the
// end-of-audio signal so their vendor sessions complete and stay reusable,
// and the pool's recording guard is released.
func (s *Session) Abort() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	adapters := s.adapters
	cancels := s.cancels
	s.active = false
	s.mu.Unlock()

	for _, a := range adapters {
		a.EndAudio()
	}
	for _, cancel := range cancels {
		cancel()
	}
	s.pool.EndRecording()
}

func (s *Session) finishOne(ctx context.Context, a provider.Adapter, exp Expectation) Result {
	id := a.ID()
	timedOut := false

	select {
	case <-s.agg.FinalDone(id):
	case <-time.After(s.finalizeTimeout):
		timedOut = true
		metrics.FinalizeTimeouts.WithLabelValues(string(id)).Inc()
		s.log.Warn().Str("provider", string(id)).Dur("timeout", s.finalizeTimeout).
			Msg("finalize timed out, using best-known transcript")
	case <-ctx.Done():
		timedOut = true
	}

	text, final := s.agg.BestKnown(id)

	// Open-ended questions carry no expected answer; scoring a transcript
	// against an empty phrase would only produce a misleading zero.
	var breakdown *score.Breakdown
	if exp.Answer != "" {
		b := score.Score(score.Input{
			Transcript: text,
			Expected:   exp.Answer,
			Mode:       exp.Mode,
			Keywords:   exp.Keywords,
		})
		breakdown = &b
		metrics.ScoresComputed.Inc()
	}

	ev := s.log.Info().Str("provider", string(id)).Bool("final", final).Bool("timed_out", timedOut)
	if breakdown != nil {
		ev = ev.Int("overall", breakdown.Overall)
	}
	ev.Msg("provider attempt finished")

	return Result{
		Provider:   id,
		Transcript: text,
		Final:      final,
		TimedOut:   timedOut,
		Words:      s.agg.Words(id),
		Score:      breakdown,
	}
}
